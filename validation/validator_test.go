package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/errors"
)

// TestValidateStringLength 测试字符串长度验证
func TestValidateStringLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		min     int
		max     int
		wantErr bool
	}{
		{name: "有效长度", value: "hello", min: 3, max: 10},
		{name: "长度太短", value: "ab", min: 3, max: 10, wantErr: true},
		{name: "长度太长", value: "abcdefghijk", min: 3, max: 10, wantErr: true},
		{name: "最小边界值", value: "abc", min: 3, max: 10},
		{name: "最大边界值", value: "abcdefghij", min: 3, max: 10},
		{name: "不限上限", value: "abcdefghijklmnop", min: 1, max: 0},
		{name: "按字符计数", value: "دعاء", min: 4, max: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStringLength(tt.value, "title", tt.min, tt.max)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			fields := errors.FieldErrors(err)
			require.Len(t, fields, 1)
			assert.Equal(t, "title", fields[0].Field)
		})
	}
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("x", "name"))

	err := ValidateRequired("   ", "name")
	require.Error(t, err)
	assert.Equal(t, "required", errors.FieldErrors(err)[0].Rule)
}

func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(5, "n", 1, 10))
	assert.NoError(t, ValidateIntRange(1, "n", 1, 10))

	err := ValidateIntRange(0, "n", 1, 10)
	require.Error(t, err)
	assert.Equal(t, "min", errors.FieldErrors(err)[0].Rule)

	err = ValidateIntRange(11, "n", 1, 10)
	require.Error(t, err)
	assert.Equal(t, "max", errors.FieldErrors(err)[0].Rule)
}

func TestValidateEnum(t *testing.T) {
	valid := []string{"daily", "weekly"}
	assert.NoError(t, ValidateEnum("daily", "frequency", valid))

	err := ValidateEnum("hourly", "frequency", valid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily, weekly")
}

func TestValidatePageParams(t *testing.T) {
	assert.NoError(t, ValidatePageParams(1, 20, 100))

	for _, tc := range []struct{ page, size int }{{0, 20}, {1, 0}, {1, 101}, {math.MaxInt/10 + 2, 10}} {
		err := ValidatePageParams(tc.page, tc.size, 100)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidPagination(err), "page=%d size=%d", tc.page, tc.size)
	}
}
