// Package salat 每日五次礼拜记录与统计
package salat

import (
	"context"
	"math"
	"time"

	"hayatos/codegen/snowflake"
	core "hayatos/data/db"
	dbsql "hayatos/data/db/sql"
	"hayatos/data/query"
	"hayatos/data/source"
	"hayatos/data/source/sqlsource"
	"hayatos/domain"
	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/validation"
)

// Prayers 五次礼拜
var Prayers = []string{"fajr", "dhuhr", "asr", "maghrib", "isha"}

// Statuses 记录状态，除 missed 外都算已完成
var Statuses = []string{StatusOnTime, StatusLate, StatusQada, StatusMissed}

const (
	StatusOnTime = "on_time"
	StatusLate   = "late"
	StatusQada   = "qada"
	StatusMissed = "missed"

	tableLogs = "salat_logs"

	// DefaultStatsDays 未指定 from 时统计的天数
	DefaultStatsDays = 30
)

// LogsTable 可查询的列
var LogsTable = sqlsource.Table{
	Name:    tableLogs,
	Columns: []string{"id", "user_id", "prayer_date", "prayer", "status", "notes", "created_at", "updated_at"},
}

// Log 单条礼拜记录
type Log struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	PrayerDate string `json:"prayer_date"`
	Prayer     string `json:"prayer"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// LogInput 记录参数
type LogInput struct {
	Date   time.Time
	Prayer string
	Status string
	Notes  string
}

// StatsResult 区间统计
type StatsResult struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Days   int            `json:"days"`
	Counts map[string]int `json:"counts"`
	Logged int            `json:"logged"`
	// Expected 区间内应有的记录数（天数 × 5）
	Expected int `json:"expected"`
	// OnTimeRate on_time 占已记录数的比例
	OnTimeRate float64 `json:"on_time_rate"`
	// CompletionRate 非 missed 记录占应有记录数的比例
	CompletionRate float64 `json:"completion_rate"`
}

// Service 礼拜记录服务
type Service struct {
	sql    dbsql.ISql
	table  query.Source
	ids    snowflake.IDGenerator
	now    func() time.Time
	logger logging.Logger
}

// NewService 创建服务
func NewService(db core.IDatabase, ids snowflake.IDGenerator, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.ComponentLogger("salat")
	}
	return &Service{
		sql:    dbsql.New(db),
		table:  sqlsource.New(db, LogsTable),
		ids:    ids,
		now:    time.Now,
		logger: logger,
	}
}

// List 当前用户的记录
func (s *Service) List(ctx context.Context, p httpx.Principal, d *query.Descriptor) (*query.PagedResult[query.Row], error) {
	return query.Execute(ctx, "salat_logs", source.Scoped(s.table, source.DefaultOwnerField, p.UserID), d)
}

// Record 按 (用户, 日期, 礼拜) 写入或覆盖记录
func (s *Service) Record(ctx context.Context, p httpx.Principal, in LogInput) (*Log, error) {
	date := dateOnly(in.Date)
	if date.After(dateOnly(s.now())) {
		return nil, errors.NewFieldError("date", "max", "cannot be in the future")
	}
	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate salat log id")
	}
	ts := domain.Timestamp(s.now())
	day := date.Format(validation.DateLayout)
	_, err = s.sql.UpsertInto(tableLogs).
		Columns("id", "user_id", "prayer_date", "prayer", "status", "notes", "created_at", "updated_at").
		Values(id, p.UserID, day, in.Prayer, in.Status, in.Notes, ts, ts).
		Key("user_id", "prayer_date", "prayer").
		Update("status", "notes", "updated_at").
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "upsert salat log")
	}
	return s.find(ctx, s.sql.Select(logColumns...).From(tableLogs).
		Where("user_id = ?", p.UserID).
		Where("prayer_date = ?", day).
		Where("prayer = ?", in.Prayer), day+"/"+in.Prayer)
}

// Delete 删除记录，不属于该用户时返回 NOT_FOUND
func (s *Service) Delete(ctx context.Context, p httpx.Principal, id int64) error {
	res, err := s.sql.DeleteFrom(tableLogs).
		Where("id = ?", id).
		Where("user_id = ?", p.UserID).
		Exec(ctx)
	if err != nil {
		return domain.DBError(err, "delete salat log")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound("salat log", id)
	}
	return nil
}

// Stats 统计 [from, to] 内各状态数量，零值表示使用缺省区间
func (s *Service) Stats(ctx context.Context, p httpx.Principal, from, to time.Time) (*StatsResult, error) {
	if to.IsZero() {
		to = s.now()
	}
	to = dateOnly(to)
	if from.IsZero() {
		from = to.AddDate(0, 0, -(DefaultStatsDays - 1))
	}
	from = dateOnly(from)
	if from.After(to) {
		return nil, errors.NewFieldError("from", "range", "must not be after to")
	}

	rows, err := s.sql.Select("status", "COUNT(1)").From(tableLogs).
		Where("user_id = ?", p.UserID).
		Where("prayer_date >= ?", from.Format(validation.DateLayout)).
		Where("prayer_date <= ?", to.Format(validation.DateLayout)).
		GroupBy("status").
		Query(ctx)
	if err != nil {
		return nil, domain.DBError(err, "salat stats")
	}
	defer rows.Close()

	res := &StatsResult{
		From:   from.Format(validation.DateLayout),
		To:     to.Format(validation.DateLayout),
		Days:   int(to.Sub(from).Hours()/24) + 1,
		Counts: make(map[string]int, len(Statuses)),
	}
	for _, st := range Statuses {
		res.Counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.DBError(err, "scan salat stats")
		}
		res.Counts[status] = n
		res.Logged += n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.DBError(err, "iterate salat stats")
	}

	res.Expected = res.Days * len(Prayers)
	if res.Logged > 0 {
		res.OnTimeRate = round(float64(res.Counts[StatusOnTime]) / float64(res.Logged))
	}
	completed := res.Logged - res.Counts[StatusMissed]
	res.CompletionRate = round(float64(completed) / float64(res.Expected))
	return res, nil
}

var logColumns = []string{"id", "user_id", "prayer_date", "prayer", "status", "notes", "created_at", "updated_at"}

func (s *Service) find(ctx context.Context, sel dbsql.ISelectBuilder, key any) (*Log, error) {
	var l Log
	err := sel.QueryRow(ctx).Scan(&l.ID, &l.UserID, &l.PrayerDate, &l.Prayer, &l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, domain.NotFound("salat log", key)
		}
		return nil, domain.DBError(err, "load salat log")
	}
	return &l, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func round(f float64) float64 { return math.Round(f*10000) / 10000 }
