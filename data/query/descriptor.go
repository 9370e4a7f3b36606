package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Window 分页窗口，Limit 为 0 表示不分页
type Window struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Page 窗口对应的页码（从 1 开始）
func (w Window) Page() int {
	if w.Limit <= 0 {
		return 1
	}
	return w.Offset/w.Limit + 1
}

// Apply 在已排序的行上取窗口，Offset 为负时返回空
func (w Window) Apply(rows []Row) []Row {
	if w.Offset < 0 || w.Offset >= len(rows) {
		return []Row{}
	}
	rows = rows[w.Offset:]
	if w.Limit > 0 && len(rows) > w.Limit {
		rows = rows[:w.Limit]
	}
	return rows
}

// Descriptor 编译后的执行计划：谓词、全序排序键、分页窗口。
//
// 无状态，可重复执行；相同 Intent 编译出的 Descriptor JSON 编码逐字节相同。
type Descriptor struct {
	Predicates []Predicate `json:"predicates"`
	Order      []SortKey   `json:"order"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
}

// Window 返回分页窗口
func (d *Descriptor) Window() Window {
	return Window{Offset: d.Offset, Limit: d.Limit}
}

// Bounded 是否带分页
func (d *Descriptor) Bounded() bool { return d.Limit > 0 }

// Unbounded 返回去掉分页窗口的副本
func (d *Descriptor) Unbounded() *Descriptor {
	c := d.clone()
	c.Offset, c.Limit = 0, 0
	return c
}

// With 返回追加了谓词的副本
func (d *Descriptor) With(preds ...Predicate) *Descriptor {
	c := d.clone()
	for _, p := range preds {
		c.Predicates = append(c.Predicates, p.clone())
	}
	return c
}

func (d *Descriptor) clone() *Descriptor {
	c := &Descriptor{
		Predicates: make([]Predicate, len(d.Predicates)),
		Order:      append([]SortKey{}, d.Order...),
		Offset:     d.Offset,
		Limit:      d.Limit,
	}
	for i, p := range d.Predicates {
		c.Predicates[i] = p.clone()
	}
	return c
}

// Fingerprint 规范 JSON 的 sha256，用作缓存键
func (d *Descriptor) Fingerprint() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Apply 参考执行语义：过滤 → 排序 → 跳过 offset → 取 limit。
// 返回当前页的行与分页前的匹配总数。输入切片不被修改。
func Apply(rows []Row, d *Descriptor) ([]Row, int64) {
	matched := make([]Row, 0, len(rows))
	for _, r := range rows {
		if MatchAll(r, d.Predicates) {
			matched = append(matched, r)
		}
	}
	SortRows(matched, d.Order)
	return d.Window().Apply(matched), int64(len(matched))
}
