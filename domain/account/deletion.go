package account

import (
	"context"
	"fmt"

	core "hayatos/data/db"
	dbsql "hayatos/data/db/sql"
	"hayatos/domain"
	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/messaging"
)

// 删除请求状态
const (
	DeletionPending    = "pending"
	DeletionProcessing = "processing"
	DeletionCompleted  = "completed"
	DeletionCancelled  = "cancelled"
)

// DeletionRequest 账号删除请求
type DeletionRequest struct {
	ID           int64  `json:"id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	RequestedAt  string `json:"requested_at"`
	ScheduledFor string `json:"scheduled_for"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

type deletePayload struct {
	RequestID int64  `json:"request_id"`
	UserID    string `json:"user_id"`
}

// userTables 删除账号时清理的表，子表在前
var userTables = []string{"habit_completions", "habits", "salat_logs", tablePrivacy, tableNotifications, tableExports}

var deletionColumns = []string{"id", "user_id", "status", "reason", "requested_at", "scheduled_for", "completed_at"}

// RequestDeletion 登记删除请求，冷静期结束后由定时扫描入队执行。
// 已有未结束的请求时返回该请求。
func (s *Service) RequestDeletion(ctx context.Context, p httpx.Principal, reason string) (*DeletionRequest, error) {
	active, err := s.activeDeletion(ctx, p)
	if err == nil {
		return active, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "generate deletion id")
	}
	now := s.now()
	_, err = s.sql.InsertInto(tableDeletions).
		Columns("id", "user_id", "status", "reason", "requested_at", "scheduled_for").
		Values(id, p.UserID, DeletionPending, reason, domain.Timestamp(now), domain.Timestamp(now.Add(s.cfg.DeletionGrace))).
		Exec(ctx)
	if err != nil {
		return nil, domain.DBError(err, "create deletion request")
	}
	s.logger.Info(ctx, "account deletion requested",
		logging.Int64("request_id", id),
		logging.String("user_id", p.UserID),
		logging.Duration("grace", s.cfg.DeletionGrace))
	return s.activeDeletion(ctx, p)
}

// CancelDeletion 撤销冷静期内的请求，已开始执行的请求不能撤销
func (s *Service) CancelDeletion(ctx context.Context, p httpx.Principal) (*DeletionRequest, error) {
	active, err := s.activeDeletion(ctx, p)
	if err != nil {
		return nil, err
	}
	ok, err := transition(ctx, s.sql, tableDeletions, active.ID, []string{DeletionPending},
		map[string]any{"status": DeletionCancelled, "completed_at": domain.Timestamp(s.now())})
	if err != nil {
		return nil, domain.DBError(err, "cancel deletion request")
	}
	if !ok {
		return nil, domain.Conflict("deletion request %d is already being processed", active.ID)
	}
	return s.Deletion(ctx, p)
}

// Deletion 最近一次删除请求
func (s *Service) Deletion(ctx context.Context, p httpx.Principal) (*DeletionRequest, error) {
	return s.findDeletion(ctx, s.sql.Select(deletionColumns...).From(tableDeletions).
		Where("user_id = ?", p.UserID).
		OrderBy("requested_at DESC").
		Limit(1), p.UserID)
}

func (s *Service) activeDeletion(ctx context.Context, p httpx.Principal) (*DeletionRequest, error) {
	return s.findDeletion(ctx, s.sql.Select(deletionColumns...).From(tableDeletions).
		Where("user_id = ?", p.UserID).
		Where("status IN (?, ?)", DeletionPending, DeletionProcessing).
		Limit(1), p.UserID)
}

// SweepDeletions 把到期的请求置为 processing 并入队，返回入队数量。
// 入队失败的请求退回 pending，等待下一轮扫描。
func (s *Service) SweepDeletions(ctx context.Context) (int, error) {
	rows, err := s.sql.Select("id", "user_id").From(tableDeletions).
		Where("status = ?", DeletionPending).
		Where("scheduled_for <= ?", domain.Timestamp(s.now())).
		OrderBy("scheduled_for").
		Limit(s.cfg.SweepBatch).
		Query(ctx)
	if err != nil {
		return 0, domain.DBError(err, "scan due deletions")
	}
	due, err := core.ScanMaps(rows)
	if err != nil {
		return 0, domain.DBError(err, "scan due deletions")
	}

	enqueued := 0
	for _, row := range due {
		id, ok := row["id"].(int64)
		if !ok {
			return enqueued, fmt.Errorf("deletion request id has type %T", row["id"])
		}
		userID, _ := row["user_id"].(string)

		claimed, err := transition(ctx, s.sql, tableDeletions, id, []string{DeletionPending},
			map[string]any{"status": DeletionProcessing})
		if err != nil {
			return enqueued, domain.DBError(err, "claim deletion request")
		}
		if !claimed {
			continue
		}
		if err := s.publish(ctx, MessageDelete, deletePayload{RequestID: id, UserID: userID}); err != nil {
			s.logger.Error(ctx, "enqueue account deletion", logging.Int64("request_id", id), logging.Error(err))
			if _, rerr := transition(ctx, s.sql, tableDeletions, id, []string{DeletionProcessing},
				map[string]any{"status": DeletionPending}); rerr != nil {
				return enqueued, domain.DBError(rerr, "release deletion request")
			}
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// HandleDelete 删除任务消费者：单个事务内清理用户数据并完成请求。
// 请求不在 processing 状态时直接确认。
func (s *Service) HandleDelete(ctx context.Context, msg *messaging.Message) error {
	var job deletePayload
	if err := msg.Decode(&job); err != nil {
		return err
	}
	removed, done := 0, false
	err := core.WithTx(ctx, s.db, func(tx core.ITransaction) error {
		q := dbsql.New(tx)
		var status string
		err := q.Select("status").From(tableDeletions).Where("id = ?", job.RequestID).QueryRow(ctx).Scan(&status)
		if err != nil {
			if errors.IsNotFound(errors.Normalize(err)) {
				return messaging.Permanent(domain.NotFound("deletion request", job.RequestID))
			}
			return err
		}
		if status != DeletionProcessing {
			return nil
		}
		for _, table := range userTables {
			res, err := q.DeleteFrom(table).Where("user_id = ?", job.UserID).Exec(ctx)
			if err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				removed += int(n)
			}
		}
		done, err = transition(ctx, q, tableDeletions, job.RequestID, []string{DeletionProcessing},
			map[string]any{"status": DeletionCompleted, "completed_at": domain.Timestamp(s.now())})
		return err
	})
	if err != nil || !done {
		return err
	}
	s.logger.Info(ctx, "account deleted",
		logging.Int64("request_id", job.RequestID),
		logging.String("user_id", job.UserID),
		logging.Int("rows", removed))
	return nil
}

func (s *Service) findDeletion(ctx context.Context, sel dbsql.ISelectBuilder, key any) (*DeletionRequest, error) {
	var r DeletionRequest
	err := sel.QueryRow(ctx).Scan(&r.ID, &r.UserID, &r.Status, &r.Reason, &r.RequestedAt, &r.ScheduledFor, &r.CompletedAt)
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, domain.NotFound("deletion request", key)
		}
		return nil, domain.DBError(err, "load deletion request")
	}
	return &r, nil
}
