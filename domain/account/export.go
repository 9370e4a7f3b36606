package account

import (
	"context"
	"encoding/json"
	"fmt"

	core "hayatos/data/db"
	dbsql "hayatos/data/db/sql"
	"hayatos/domain"
	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/messaging"
)

// 导出任务状态
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// ExportJob 数据导出任务
type ExportJob struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"user_id"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

type exportPayload struct {
	JobID  int64  `json:"job_id"`
	UserID string `json:"user_id"`
}

// exportTables 导出的用户数据表，均以 user_id 归属
var exportTables = []string{"habits", "habit_completions", "salat_logs", tablePrivacy, tableNotifications}

var exportColumns = []string{"id", "user_id", "status", "attempts", "result", "error", "created_at", "updated_at", "completed_at"}

// RequestExport 创建导出任务并入队。已有未结束的任务时直接返回该任务。
func (s *Service) RequestExport(ctx context.Context, p httpx.Principal) (*ExportJob, error) {
	active, err := s.findExport(ctx, s.sql.Select(exportColumns...).From(tableExports).
		Where("user_id = ?", p.UserID).
		Where("status IN (?, ?)", JobPending, JobProcessing).
		OrderBy("created_at DESC").
		Limit(1), p.UserID)
	if err == nil {
		return active, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate export id")
	}
	ts := domain.Timestamp(s.now())
	_, err = s.sql.InsertInto(tableExports).
		Columns("id", "user_id", "status", "attempts", "created_at", "updated_at").
		Values(id, p.UserID, JobPending, 0, ts, ts).
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "create export job")
	}

	if err := s.publish(ctx, MessageExport, exportPayload{JobID: id, UserID: p.UserID}); err != nil {
		// 未能入队的任务不会再被处理，直接标记失败
		if _, ferr := transition(ctx, s.sql, tableExports, id, []string{JobPending}, map[string]any{
			"status": JobFailed, "error": "enqueue failed", "updated_at": ts,
		}); ferr != nil {
			s.logger.Error(ctx, "mark export job failed", logging.Int64("job_id", id), logging.Error(ferr))
		}
		return nil, err
	}
	s.logger.Info(ctx, "export requested", logging.Int64("job_id", id), logging.String("user_id", p.UserID))
	return s.Export(ctx, p, id)
}

// Export 查询导出任务，不属于该用户时返回 NOT_FOUND
func (s *Service) Export(ctx context.Context, p httpx.Principal, id int64) (*ExportJob, error) {
	return s.findExport(ctx, s.sql.Select(exportColumns...).From(tableExports).
		Where("id = ?", id).
		Where("user_id = ?", p.UserID), id)
}

// HandleExport 导出任务消费者。
// pending/processing → processing 计一次尝试；完成或失败后的重复投递直接确认。
func (s *Service) HandleExport(ctx context.Context, msg *messaging.Message) error {
	var job exportPayload
	if err := msg.Decode(&job); err != nil {
		return err
	}
	log := []logging.Field{logging.Int64("job_id", job.JobID), logging.Int("attempt", msg.Attempt)}

	ok, err := transition(ctx, s.sql, tableExports, job.JobID, []string{JobPending, JobProcessing},
		map[string]any{"status": JobProcessing, "updated_at": domain.Timestamp(s.now())},
		"attempts = attempts + 1")
	if err != nil {
		return domain.DBError(err, "claim export job")
	}
	if !ok {
		s.logger.Debug(ctx, "export job already finished", log...)
		return nil
	}

	data, err := s.collect(ctx, job.UserID)
	if err != nil {
		if msg.Attempt < s.cfg.MaxAttempts {
			return err
		}
		s.finishExport(ctx, job.JobID, map[string]any{"status": JobFailed, "error": err.Error()})
		return messaging.Permanent(err)
	}
	s.finishExport(ctx, job.JobID, map[string]any{"status": JobCompleted, "result": string(data)})
	s.logger.Info(ctx, "export completed", append(log, logging.Int("bytes", len(data)))...)
	return nil
}

func (s *Service) finishExport(ctx context.Context, id int64, set map[string]any) {
	ts := domain.Timestamp(s.now())
	set["updated_at"] = ts
	set["completed_at"] = ts
	if _, err := transition(ctx, s.sql, tableExports, id, []string{JobProcessing}, set); err != nil {
		s.logger.Error(ctx, "finish export job", logging.Int64("job_id", id), logging.Error(err))
	}
}

// collect 汇总用户全部数据为 JSON
func (s *Service) collect(ctx context.Context, userID string) ([]byte, error) {
	doc := map[string]any{
		"user_id":     userID,
		"exported_at": domain.Timestamp(s.now()),
	}
	for _, table := range exportTables {
		rows, err := s.sql.Select().From(table).Where("user_id = ?", userID).Query(ctx)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", table, err)
		}
		maps, err := core.ScanMaps(rows)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", table, err)
		}
		if maps == nil {
			maps = []map[string]any{}
		}
		doc[table] = maps
	}
	return json.Marshal(doc)
}

func (s *Service) findExport(ctx context.Context, sel dbsql.ISelectBuilder, key any) (*ExportJob, error) {
	var (
		j      ExportJob
		result string
	)
	err := sel.QueryRow(ctx).Scan(&j.ID, &j.UserID, &j.Status, &j.Attempts, &result, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, domain.NotFound("export job", key)
		}
		return nil, domain.DBError(err, "load export job")
	}
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}
