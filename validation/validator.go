package validation

import (
	"fmt"
	"math"
	"strings"

	"hayatos/errors"
)

// ValidateStringLength 验证字符串长度（按字符计），max<=0 表示不限
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := len([]rune(value))
	if length < min {
		return errors.NewFieldError(fieldName, "min_length",
			fmt.Sprintf("must be at least %d characters (got %d)", min, length))
	}
	if max > 0 && length > max {
		return errors.NewFieldError(fieldName, "max_length",
			fmt.Sprintf("must be at most %d characters (got %d)", max, length))
	}
	return nil
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewFieldError(fieldName, "required", "is required")
	}
	return nil
}

// ValidateIntRange 验证整数范围
func ValidateIntRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewFieldError(fieldName, "min", fmt.Sprintf("must be >= %d (got %d)", min, value))
	}
	if value > max {
		return errors.NewFieldError(fieldName, "max", fmt.Sprintf("must be <= %d (got %d)", max, value))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewFieldError(fieldName, "one_of",
		fmt.Sprintf("must be one of %s (got %q)", strings.Join(validValues, ", "), value))
}

// ValidatePageParams 验证分页参数，(page-1)*pageSize 溢出 int 的页码同样非法
func ValidatePageParams(page, pageSize, maxPageSize int) error {
	if page <= 0 || pageSize <= 0 || pageSize > maxPageSize || page-1 > math.MaxInt/pageSize {
		return errors.NewInvalidPagination(page, pageSize, maxPageSize)
	}
	return nil
}
