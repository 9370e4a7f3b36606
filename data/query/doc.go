// Package query 将校验后的请求参数编译为与存储无关的查询描述。
//
// 流程：validation.Values → Builder（谓词）→ Intent → Compiler → Descriptor。
// Descriptor 交给 Source 执行，执行顺序固定为 过滤 → 排序 → 跳过 offset → 取 limit。
// 跨多个数据源的查询由 Aggregator 合并后统一分页。
package query
