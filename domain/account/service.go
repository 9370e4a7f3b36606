// Package account 账号设置、数据导出与账号删除。
//
// 导出与删除都是异步任务：HTTP 请求只写入任务行并投递消息，
// 由队列消费者完成实际工作。任务行上的状态迁移以 WHERE status IN (...) 守卫，
// 重复投递不会重复执行。
package account

import (
	"context"
	"strings"
	"time"

	"hayatos/codegen/snowflake"
	core "hayatos/data/db"
	dbsql "hayatos/data/db/sql"
	"hayatos/domain"
	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/messaging"
	"hayatos/validation"
)

// 消息类型
const (
	MessageExport = "account.export"
	MessageDelete = "account.delete"
)

const (
	tablePrivacy       = "privacy_settings"
	tableNotifications = "notification_settings"
	tableExports       = "export_jobs"
	tableDeletions     = "deletion_requests"
)

// Config 账号服务配置
type Config struct {
	// DeletionGrace 删除请求到执行之间的冷静期
	DeletionGrace time.Duration
	// MaxAttempts 导出任务的最大尝试次数，达到后标记为 failed
	MaxAttempts int
	// SweepBatch 每次扫描最多入队的删除请求数
	SweepBatch int
	Logger     logging.Logger
}

// Service 账号服务
type Service struct {
	db     core.IDatabase
	sql    dbsql.ISql
	ids    snowflake.IDGenerator
	pub    messaging.Publisher
	cfg    Config
	now    func() time.Time
	logger logging.Logger
}

// NewService 创建服务，pub 用于投递导出与删除任务
func NewService(db core.IDatabase, ids snowflake.IDGenerator, pub messaging.Publisher, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = messaging.DefaultDeliveryPolicy.MaxDeliver
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("account")
	}
	return &Service{
		db:     db,
		sql:    dbsql.New(db),
		ids:    ids,
		pub:    pub,
		cfg:    cfg,
		now:    time.Now,
		logger: cfg.Logger,
	}
}

// Privacy 隐私设置
type Privacy struct {
	ProfileVisibility string `json:"profile_visibility"`
	ShareActivity     bool   `json:"share_activity"`
	AnalyticsOptIn    bool   `json:"analytics_opt_in"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// Notifications 通知设置
type Notifications struct {
	PrayerReminders bool   `json:"prayer_reminders"`
	HabitReminders  bool   `json:"habit_reminders"`
	AzkarReminders  bool   `json:"azkar_reminders"`
	EmailDigest     string `json:"email_digest"`
	QuietHoursStart string `json:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

var (
	Visibilities = []string{"private", "friends", "public"}
	Digests      = []string{"none", "daily", "weekly"}
)

// 未保存过设置的用户看到的缺省值，与表定义的 DEFAULT 一致
var (
	DefaultPrivacy       = Privacy{ProfileVisibility: "private"}
	DefaultNotifications = Notifications{PrayerReminders: true, HabitReminders: true, EmailDigest: "weekly"}
)

// Privacy 读取隐私设置
func (s *Service) Privacy(ctx context.Context, p httpx.Principal) (*Privacy, error) {
	out := DefaultPrivacy
	err := s.sql.Select("profile_visibility", "share_activity", "analytics_opt_in", "updated_at").
		From(tablePrivacy).
		Where("user_id = ?", p.UserID).
		QueryRow(ctx).
		Scan(&out.ProfileVisibility, &out.ShareActivity, &out.AnalyticsOptIn, &out.UpdatedAt)
	if err != nil && !errors.IsNotFound(errors.Normalize(err)) {
		return nil, domain.DBError(err, "load privacy settings")
	}
	return &out, nil
}

// UpdatePrivacy 只覆盖请求中出现的字段
func (s *Service) UpdatePrivacy(ctx context.Context, p httpx.Principal, in validation.Values) (*Privacy, error) {
	cur, err := s.Privacy(ctx, p)
	if err != nil {
		return nil, err
	}
	if in.Provided("profile_visibility") {
		cur.ProfileVisibility = in.String("profile_visibility")
	}
	if in.Provided("share_activity") {
		cur.ShareActivity = in.Bool("share_activity")
	}
	if in.Provided("analytics_opt_in") {
		cur.AnalyticsOptIn = in.Bool("analytics_opt_in")
	}
	cur.UpdatedAt = domain.Timestamp(s.now())

	_, err = s.sql.UpsertInto(tablePrivacy).
		Columns("user_id", "profile_visibility", "share_activity", "analytics_opt_in", "updated_at").
		Values(p.UserID, cur.ProfileVisibility, cur.ShareActivity, cur.AnalyticsOptIn, cur.UpdatedAt).
		Key("user_id").
		Update("profile_visibility", "share_activity", "analytics_opt_in", "updated_at").
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "save privacy settings")
	}
	return cur, nil
}

// Notifications 读取通知设置
func (s *Service) Notifications(ctx context.Context, p httpx.Principal) (*Notifications, error) {
	out := DefaultNotifications
	err := s.sql.Select("prayer_reminders", "habit_reminders", "azkar_reminders", "email_digest",
		"quiet_hours_start", "quiet_hours_end", "updated_at").
		From(tableNotifications).
		Where("user_id = ?", p.UserID).
		QueryRow(ctx).
		Scan(&out.PrayerReminders, &out.HabitReminders, &out.AzkarReminders, &out.EmailDigest,
			&out.QuietHoursStart, &out.QuietHoursEnd, &out.UpdatedAt)
	if err != nil && !errors.IsNotFound(errors.Normalize(err)) {
		return nil, domain.DBError(err, "load notification settings")
	}
	return &out, nil
}

// UpdateNotifications 只覆盖请求中出现的字段，静默时段必须成对设置
func (s *Service) UpdateNotifications(ctx context.Context, p httpx.Principal, in validation.Values) (*Notifications, error) {
	cur, err := s.Notifications(ctx, p)
	if err != nil {
		return nil, err
	}
	for name, dst := range map[string]*bool{
		"prayer_reminders": &cur.PrayerReminders,
		"habit_reminders":  &cur.HabitReminders,
		"azkar_reminders":  &cur.AzkarReminders,
	} {
		if in.Provided(name) {
			*dst = in.Bool(name)
		}
	}
	if in.Provided("email_digest") {
		cur.EmailDigest = in.String("email_digest")
	}
	if in.Provided("quiet_hours_start") {
		cur.QuietHoursStart = strings.TrimSpace(in.String("quiet_hours_start"))
	}
	if in.Provided("quiet_hours_end") {
		cur.QuietHoursEnd = strings.TrimSpace(in.String("quiet_hours_end"))
	}
	if (cur.QuietHoursStart == "") != (cur.QuietHoursEnd == "") {
		return nil, errors.NewFieldError("quiet_hours_end", "required", "quiet_hours_start and quiet_hours_end must be set together")
	}
	cur.UpdatedAt = domain.Timestamp(s.now())

	_, err = s.sql.UpsertInto(tableNotifications).
		Columns("user_id", "prayer_reminders", "habit_reminders", "azkar_reminders", "email_digest",
			"quiet_hours_start", "quiet_hours_end", "updated_at").
		Values(p.UserID, cur.PrayerReminders, cur.HabitReminders, cur.AzkarReminders, cur.EmailDigest,
			cur.QuietHoursStart, cur.QuietHoursEnd, cur.UpdatedAt).
		Key("user_id").
		Update("prayer_reminders", "habit_reminders", "azkar_reminders", "email_digest",
			"quiet_hours_start", "quiet_hours_end", "updated_at").
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "save notification settings")
	}
	return cur, nil
}

// transition 条件更新任务行的状态，返回是否命中
func transition(ctx context.Context, q dbsql.ISql, table string, id int64, from []string, set map[string]any, exprs ...string) (bool, error) {
	holders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := make([]any, 0, len(from)+1)
	args = append(args, id)
	for _, f := range from {
		args = append(args, f)
	}
	upd := q.Update(table).SetMap(set)
	for _, e := range exprs {
		upd = upd.SetExpr(e)
	}
	res, err := upd.Where("id = ? AND status IN ("+holders+")", args...).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) publish(ctx context.Context, msgType string, payload any) error {
	msg, err := messaging.NewMessage(msgType, payload)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "encode job")
	}
	if rid := httpx.RequestIDFrom(ctx); rid != "" {
		msg.WithMetadata("request_id", rid)
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "enqueue "+msgType)
	}
	return nil
}
