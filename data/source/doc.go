// Package source 数据源适配器与装饰器。
//
// 所有实现都满足 query.Source：先过滤、再全序排序、最后取窗口，
// 返回的 Total 为分页前的匹配数。装饰器可以任意叠加：
//
//	src := source.Instrumented("azkar", source.Cached(cache, sqlsource.New(db, table)), logger)
package source
