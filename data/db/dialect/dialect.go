package dialect

import (
	stdErrors "errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	core "hayatos/data/db"
)

// Name 标准化的方言名
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// pgUniqueViolation Postgres SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// Dialect 当前数据库的方言能力
type Dialect struct {
	name Name
}

// New 根据名称构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 通过 IDialectNameProvider 推断方言
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok && db != nil {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

func (d Dialect) Name() Name { return d.name }

// QuoteIdentifier 对标识符逐段加双引号，不校验语法
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" || d.name == NameUnknown {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将 ? 占位符转换为方言形式（Postgres 为 $1、$2...）。
// 简单字符扫描，字符串字面量中的 ? 也会被替换，SQL 中不要内联含 ? 的字面量。
func (d Dialect) Rebind(query string) string {
	if d.name != NamePostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// OrderTerm 生成排序片段。NULL 统一视为最小值：升序在前，降序在后。
func (d Dialect) OrderTerm(column string, desc bool) string {
	col := d.QuoteIdentifier(column)
	if desc {
		return col + " DESC NULLS LAST"
	}
	return col + " ASC NULLS FIRST"
}

// EscapeLike 转义 LIKE 模式中的通配符，配合 ESCAPE '\' 使用
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// IsUniqueViolation 判断错误是否为唯一键冲突
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	default:
		return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
	}
}
