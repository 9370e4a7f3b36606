package query

import "strings"

// IsSafeField 判断字段名是否为安全标识符（foo、bar_1、table.column）。
//
// 仅做 ASCII 校验，足以拦截空格、引号、分号等注入片段。
func IsSafeField(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			alpha := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			if i == 0 && !alpha {
				return false
			}
			if !alpha && !(ch >= '0' && ch <= '9') {
				return false
			}
		}
	}
	return true
}
