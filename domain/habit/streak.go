package habit

import (
	"sort"
	"time"
)

// Frequency 打卡周期
type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

// DateLayout 完成日期的存储格式
const DateLayout = "2006-01-02"

// Stats 由完成记录推导出的连续统计
type Stats struct {
	CurrentStreak  int  `json:"current_streak"`
	LongestStreak  int  `json:"longest_streak"`
	CompletedToday bool `json:"completed_today"`
	TotalCompleted int  `json:"total_completed"`
}

// ComputeStats 计算连续周期数。
//
// 周期按 frequency 划分（自然日，或周一开始的自然周），同一周期多次完成只计一次。
// 当前周期尚未完成时，截至上一周期的连续仍然有效；晚于 today 的记录被忽略。
func ComputeStats(completed []time.Time, today time.Time, freq Frequency) Stats {
	today = day(today)
	var st Stats

	seen := make(map[time.Time]bool, len(completed))
	periods := make([]time.Time, 0, len(completed))
	for _, c := range completed {
		d := day(c)
		if d.After(today) {
			continue
		}
		st.TotalCompleted++
		if d.Equal(today) {
			st.CompletedToday = true
		}
		p := periodStart(d, freq)
		if !seen[p] {
			seen[p] = true
			periods = append(periods, p)
		}
	}
	if len(periods) == 0 {
		return st
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	run := 1
	st.LongestStreak = 1
	for i := 1; i < len(periods); i++ {
		if periods[i].Equal(nextPeriod(periods[i-1], freq)) {
			run++
		} else {
			run = 1
		}
		if run > st.LongestStreak {
			st.LongestStreak = run
		}
	}

	current := periodStart(today, freq)
	if !seen[current] {
		current = prevPeriod(current, freq)
	}
	for seen[current] {
		st.CurrentStreak++
		current = prevPeriod(current, freq)
	}
	return st
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func periodStart(d time.Time, freq Frequency) time.Time {
	if freq != Weekly {
		return d
	}
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func nextPeriod(p time.Time, freq Frequency) time.Time {
	if freq == Weekly {
		return p.AddDate(0, 0, 7)
	}
	return p.AddDate(0, 0, 1)
}

func prevPeriod(p time.Time, freq Frequency) time.Time {
	if freq == Weekly {
		return p.AddDate(0, 0, -7)
	}
	return p.AddDate(0, 0, -1)
}
