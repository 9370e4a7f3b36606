package query

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row 一行结果，列名到值
type Row map[string]any

// Clone 浅拷贝
func (r Row) Clone() Row {
	c := make(Row, len(r)+1)
	for k, v := range r {
		c[k] = v
	}
	return c
}

// FormatTime 将时间统一为可按字典序比较的文本：
// UTC 零点输出 YYYY-MM-DD，其余输出 RFC3339Nano。SQL 数据源的参数绑定与之一致。
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339Nano)
}

// normalize 统一数值与时间类型，便于跨数据源比较。
// 整数保持为 int64（超出 int64 的无符号数为 uint64），只有浮点数为 float64。
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if u, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return u
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case time.Time:
		return FormatTime(t)
	case []byte:
		return string(t)
	}
	return v
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, uint64, float64:
		return 2
	case string:
		return 3
	}
	return 4
}

// compareNumbers 整数之间精确比较，涉及浮点数时按数学值比较
func compareNumbers(a, b any) int {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case uint64:
			// y 必大于 MaxInt64
			return -1
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmp.Compare(x, y)
		case int64:
			return 1
		}
	}
	fa, aFloat := a.(float64)
	fb, bFloat := b.(float64)
	if aFloat && bFloat {
		return cmp.Compare(fa, fb)
	}
	if (aFloat && math.IsNaN(fa)) || (bFloat && math.IsNaN(fb)) {
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	return bigFloat(a).Cmp(bigFloat(b))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func bigFloat(v any) *big.Float {
	switch n := v.(type) {
	case int64:
		return new(big.Float).SetInt64(n)
	case uint64:
		return new(big.Float).SetUint64(n)
	case float64:
		return new(big.Float).SetFloat64(n)
	}
	return new(big.Float)
}

// Compare 比较两个值：nil 最小，其后依次为 bool、数值、字符串。
// 同类值按自然顺序比较。
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64, uint64, float64:
		return compareNumbers(a, b)
	case string:
		return strings.Compare(x, b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// SortRows 按排序键稳定排序。升序时 NULL 在前，降序时 NULL 在后。
func SortRows(rows []Row, order []SortKey) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range order {
			c := Compare(rows[i][k.Field], rows[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
