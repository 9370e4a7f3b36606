// Package habit 习惯与打卡
package habit

import (
	"context"
	"fmt"
	"strings"
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
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"

	tableHabits      = "habits"
	tableCompletions = "habit_completions"
)

// HabitsTable 可查询的列
var HabitsTable = sqlsource.Table{
	Name: tableHabits,
	Columns: []string{
		"id", "user_id", "name", "description", "frequency", "target_count",
		"status", "color", "created_at", "updated_at",
	},
}

// Habit 单个习惯及其统计
type Habit struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Frequency   Frequency `json:"frequency"`
	TargetCount int       `json:"target_count"`
	Status      string    `json:"status"`
	Color       string    `json:"color"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
	Stats
}

// CreateInput 创建参数
type CreateInput struct {
	Name        string
	Description string
	Frequency   Frequency
	TargetCount int
	Color       string
}

// UpdateInput 更新参数，nil 字段保持不变
type UpdateInput struct {
	ID          int64
	Name        *string
	Description *string
	Frequency   *Frequency
	TargetCount *int
	Color       *string
}

// Service 习惯服务
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
		logger = logging.ComponentLogger("habit")
	}
	return &Service{
		sql:    dbsql.New(db),
		table:  sqlsource.New(db, HabitsTable),
		ids:    ids,
		now:    time.Now,
		logger: logger,
	}
}

// List 当前用户的习惯列表，每行附带连续统计
func (s *Service) List(ctx context.Context, p httpx.Principal, d *query.Descriptor) (*query.PagedResult[query.Row], error) {
	src := source.Scoped(s.table, source.DefaultOwnerField, p.UserID)
	res, err := query.Execute(ctx, "habits", src, d)
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return res, nil
	}

	ids := make([]int64, 0, len(res.Data))
	freq := make(map[int64]Frequency, len(res.Data))
	for _, r := range res.Data {
		id, _ := r["id"].(int64)
		ids = append(ids, id)
		f, _ := r["frequency"].(string)
		freq[id] = Frequency(f)
	}
	completions, err := s.completions(ctx, p.UserID, ids...)
	if err != nil {
		return nil, err
	}
	today := s.now()
	for _, r := range res.Data {
		id, _ := r["id"].(int64)
		st := ComputeStats(completions[id], today, freq[id])
		r["current_streak"] = st.CurrentStreak
		r["longest_streak"] = st.LongestStreak
		r["completed_today"] = st.CompletedToday
		r["total_completed"] = st.TotalCompleted
	}
	return res, nil
}

// Get 读取单个习惯，不属于该用户时返回 NOT_FOUND
func (s *Service) Get(ctx context.Context, p httpx.Principal, id int64) (*Habit, error) {
	h, err := s.load(ctx, p.UserID, id)
	if err != nil {
		return nil, err
	}
	return h, s.attachStats(ctx, h)
}

// Create 创建习惯
func (s *Service) Create(ctx context.Context, p httpx.Principal, in CreateInput) (*Habit, error) {
	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate habit id")
	}
	ts := domain.Timestamp(s.now())
	if in.Frequency == "" {
		in.Frequency = Daily
	}
	if in.TargetCount <= 0 {
		in.TargetCount = 1
	}
	_, err = s.sql.InsertInto(tableHabits).
		Columns("id", "user_id", "name", "description", "frequency", "target_count", "status", "color", "created_at", "updated_at").
		Values(id, p.UserID, in.Name, in.Description, string(in.Frequency), in.TargetCount, StatusActive, in.Color, ts, ts).
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "insert habit")
	}
	s.logger.Info(ctx, "habit created", logging.Int64("habit_id", id), logging.String("user_id", p.UserID))
	return s.Get(ctx, p, id)
}

// Update 修改提供的字段
func (s *Service) Update(ctx context.Context, p httpx.Principal, in UpdateInput) (*Habit, error) {
	if _, err := s.load(ctx, p.UserID, in.ID); err != nil {
		return nil, err
	}
	set := map[string]any{"updated_at": domain.Timestamp(s.now())}
	if in.Name != nil {
		set["name"] = *in.Name
	}
	if in.Description != nil {
		set["description"] = *in.Description
	}
	if in.Frequency != nil {
		set["frequency"] = string(*in.Frequency)
	}
	if in.TargetCount != nil {
		set["target_count"] = *in.TargetCount
	}
	if in.Color != nil {
		set["color"] = *in.Color
	}
	_, err := s.sql.Update(tableHabits).SetMap(set).
		Where("id = ?", in.ID).Where("user_id = ?", p.UserID).
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "update habit")
	}
	return s.Get(ctx, p, in.ID)
}

// Archive 归档，重复归档无副作用
func (s *Service) Archive(ctx context.Context, p httpx.Principal, id int64) (*Habit, error) {
	h, err := s.load(ctx, p.UserID, id)
	if err != nil {
		return nil, err
	}
	if h.Status != StatusArchived {
		_, err = s.sql.Update(tableHabits).
			Set("status", StatusArchived).
			Set("updated_at", domain.Timestamp(s.now())).
			Where("id = ?", id).Where("user_id = ?", p.UserID).
			Exec(ctx)
		if err != nil {
			return nil, domain.DBError(err, "archive habit")
		}
	}
	return s.Get(ctx, p, id)
}

// Complete 记录某天完成，同一天重复记录无副作用。归档的习惯不能打卡。
func (s *Service) Complete(ctx context.Context, p httpx.Principal, id int64, on time.Time) (*Habit, error) {
	if day(on).After(day(s.now())) {
		return nil, errors.NewFieldError("date", "max", "cannot be in the future")
	}
	h, err := s.load(ctx, p.UserID, id)
	if err != nil {
		return nil, err
	}
	if h.Status == StatusArchived {
		return nil, domain.Conflict("habit %d is archived", id)
	}
	cid, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate completion id")
	}
	_, err = s.sql.InsertInto(tableCompletions).
		Columns("id", "habit_id", "user_id", "completed_on", "created_at").
		Values(cid, id, p.UserID, day(on).Format(DateLayout), domain.Timestamp(s.now())).
		Exec(ctx)
	if err != nil && !s.sql.Dialect().IsUniqueViolation(err) {
		return nil, domain.DBError(err, "insert completion")
	}
	return h, s.attachStats(ctx, h)
}

// Uncomplete 撤销某天的完成记录，不存在时无副作用
func (s *Service) Uncomplete(ctx context.Context, p httpx.Principal, id int64, on time.Time) (*Habit, error) {
	h, err := s.load(ctx, p.UserID, id)
	if err != nil {
		return nil, err
	}
	_, err = s.sql.DeleteFrom(tableCompletions).
		Where("habit_id = ?", id).
		Where("user_id = ?", p.UserID).
		Where("completed_on = ?", day(on).Format(DateLayout)).
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "delete completion")
	}
	return h, s.attachStats(ctx, h)
}

func (s *Service) load(ctx context.Context, userID string, id int64) (*Habit, error) {
	var h Habit
	var freq string
	err := s.sql.Select("id", "user_id", "name", "description", "frequency", "target_count", "status", "color", "created_at", "updated_at").
		From(tableHabits).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		QueryRow(ctx).
		Scan(&h.ID, &h.UserID, &h.Name, &h.Description, &freq, &h.TargetCount, &h.Status, &h.Color, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, domain.NotFound("habit", id)
		}
		return nil, domain.DBError(err, "load habit")
	}
	h.Frequency = Frequency(freq)
	return &h, nil
}

func (s *Service) attachStats(ctx context.Context, h *Habit) error {
	completions, err := s.completions(ctx, h.UserID, h.ID)
	if err != nil {
		return err
	}
	h.Stats = ComputeStats(completions[h.ID], s.now(), h.Frequency)
	return nil
}

// completions 按习惯分组的完成日期
func (s *Service) completions(ctx context.Context, userID string, ids ...int64) (map[int64][]time.Time, error) {
	out := make(map[int64][]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	rows, err := s.sql.Select("habit_id", "completed_on").
		From(tableCompletions).
		Where("user_id = ?", userID).
		Where(fmt.Sprintf("habit_id IN (%s)", marks), args...).
		Query(ctx)
	if err != nil {
		return nil, domain.DBError(err, "load completions")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			habitID int64
			on      string
		)
		if err := rows.Scan(&habitID, &on); err != nil {
			return nil, domain.DBError(err, "scan completion")
		}
		d, err := time.Parse(DateLayout, on)
		if err != nil {
			s.logger.Warn(ctx, "skip malformed completion date", logging.Int64("habit_id", habitID), logging.String("completed_on", on))
			continue
		}
		out[habitID] = append(out[habitID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.DBError(err, "iterate completions")
	}
	return out, nil
}

