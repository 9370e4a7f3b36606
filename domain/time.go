package domain

import "time"

// TimestampLayout 存储用的 UTC 时间格式，定宽，文本比较即时间先后
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp 格式化为 TimestampLayout
func Timestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }
