package basic

import (
	"database/sql/driver"
	"strconv"
	"strings"

	sqlite "modernc.org/sqlite"
)

func init() {
	// 内置 lower 只处理 ASCII，替换为 Unicode 版本，与 Postgres 及 query.Apply 的大小写折叠一致
	if err := sqlite.RegisterDeterministicScalarFunction("lower", 1, unicodeLower); err != nil {
		panic(err)
	}
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return args[0], nil
}
