package sql

import "strings"

// IsSafeIdentifier 判断标识符是否只由 [A-Za-z_][A-Za-z0-9_]* 段（以点分隔）组成
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			if !letter && (i == 0 || ch < '0' || ch > '9') {
				return false
			}
		}
	}
	return true
}

func mustIdentifier(kind, name string) {
	if !IsSafeIdentifier(name) {
		panic("sql: unsafe " + kind + " name " + name)
	}
}
