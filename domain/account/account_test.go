package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/codegen/snowflake"
	"hayatos/data/db/basic"
	"hayatos/data/db/dbtest"
	"hayatos/errors"
	httpx "hayatos/http"
	httpbasic "hayatos/http/basic"
	"hayatos/logging"
	"hayatos/messaging"
	"hayatos/messaging/transport/memory"
	"hayatos/validation"
)

var (
	alice = httpx.Principal{UserID: "alice"}
	bob   = httpx.Principal{UserID: "bob"}
	start = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (r *recorder) Publish(_ context.Context, msg *messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) last(t *testing.T) *messaging.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.msgs)
	msg := r.msgs[len(r.msgs)-1]
	msg.Attempt = 1
	return msg
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newService(t *testing.T, pub messaging.Publisher) (*Service, *basic.DB) {
	t.Helper()
	db := dbtest.Open(t)
	svc := NewService(db, snowflake.MustGenerator(3), pub, Config{
		DeletionGrace: 24 * time.Hour,
		MaxAttempts:   2,
		Logger:        logging.NewNoopLogger(),
	})
	svc.now = func() time.Time { return start }
	return svc, db
}

func seed(t *testing.T, svc *Service, user string) {
	t.Helper()
	ctx := context.Background()
	ts := start.Format(time.RFC3339)
	hid, err := svc.ids.NextID()
	require.NoError(t, err)
	_, err = svc.sql.InsertInto("habits").
		Columns("id", "user_id", "name", "created_at", "updated_at").
		Values(hid, user, "Read "+user, ts, ts).Exec(ctx)
	require.NoError(t, err)
	cid, err := svc.ids.NextID()
	require.NoError(t, err)
	_, err = svc.sql.InsertInto("habit_completions").
		Columns("id", "habit_id", "user_id", "completed_on", "created_at").
		Values(cid, hid, user, "2024-03-10", ts).Exec(ctx)
	require.NoError(t, err)
	lid, err := svc.ids.NextID()
	require.NoError(t, err)
	_, err = svc.sql.InsertInto("salat_logs").
		Columns("id", "user_id", "prayer_date", "prayer", "status", "created_at", "updated_at").
		Values(lid, user, "2024-03-10", "fajr", "on_time", ts, ts).Exec(ctx)
	require.NoError(t, err)
}

func count(t *testing.T, svc *Service, table, user string) int {
	t.Helper()
	var n int
	require.NoError(t, svc.sql.Select("COUNT(1)").From(table).Where("user_id = ?", user).
		QueryRow(context.Background()).Scan(&n))
	return n
}

func TestSettings_DefaultsAndPartialUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &recorder{})

	p, err := svc.Privacy(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrivacy, *p)

	p, err = svc.UpdatePrivacy(ctx, alice, validation.ValuesOf(map[string]any{"share_activity": true}))
	require.NoError(t, err)
	assert.Equal(t, "private", p.ProfileVisibility)
	assert.True(t, p.ShareActivity)

	p, err = svc.UpdatePrivacy(ctx, alice, validation.ValuesOf(map[string]any{"profile_visibility": "public"}))
	require.NoError(t, err)
	assert.True(t, p.ShareActivity, "fields not in the request are kept")
	assert.Equal(t, "public", p.ProfileVisibility)

	p, err = svc.Privacy(ctx, bob)
	require.NoError(t, err)
	assert.False(t, p.ShareActivity)

	n, err := svc.Notifications(ctx, alice)
	require.NoError(t, err)
	assert.True(t, n.PrayerReminders)
	assert.Equal(t, "weekly", n.EmailDigest)

	_, err = svc.UpdateNotifications(ctx, alice, validation.ValuesOf(map[string]any{"quiet_hours_start": "22:00"}))
	assert.True(t, errors.IsValidation(err))

	n, err = svc.UpdateNotifications(ctx, alice, validation.ValuesOf(map[string]any{
		"quiet_hours_start": "22:00",
		"quiet_hours_end":   "06:00",
		"prayer_reminders":  false,
	}))
	require.NoError(t, err)
	assert.False(t, n.PrayerReminders)
	assert.True(t, n.HabitReminders)

	n, err = svc.Notifications(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "22:00", n.QuietHoursStart)
	assert.False(t, n.PrayerReminders)
}

func TestExport_CompletesOnceAndIgnoresRedelivery(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	svc, _ := newService(t, pub)
	seed(t, svc, "alice")
	seed(t, svc, "bob")

	job, err := svc.RequestExport(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)

	again, err := svc.RequestExport(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID, "an unfinished job is reused")
	require.Equal(t, 1, pub.count())

	msg := pub.last(t)
	assert.Equal(t, MessageExport, msg.Type)
	require.NoError(t, svc.HandleExport(ctx, msg))
	require.NoError(t, svc.HandleExport(ctx, msg))

	done, err := svc.Export(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.NotEmpty(t, done.CompletedAt)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(done.Result, &doc))
	assert.Equal(t, "alice", doc["user_id"])
	assert.Len(t, doc["habits"], 1)
	assert.Len(t, doc["habit_completions"], 1)
	assert.Len(t, doc["salat_logs"], 1)
	assert.Empty(t, doc[tablePrivacy])

	_, err = svc.Export(ctx, bob, job.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestExport_EnqueueFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{err: fmt.Errorf("broker down")}
	svc, _ := newService(t, pub)

	_, err := svc.RequestExport(ctx, alice)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueue, errors.GetErrorCode(err))

	var status string
	require.NoError(t, svc.sql.Select("status").From(tableExports).Where("user_id = ?", "alice").
		QueryRow(ctx).Scan(&status))
	assert.Equal(t, JobFailed, status)

	pub.err = nil
	job, err := svc.RequestExport(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
}

func TestExport_FailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	svc, db := newService(t, pub)

	job, err := svc.RequestExport(ctx, alice)
	require.NoError(t, err)
	_, err = db.Exec(ctx, "DROP TABLE salat_logs")
	require.NoError(t, err)

	msg := pub.last(t)
	err = svc.HandleExport(ctx, msg)
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))

	got, err := svc.Export(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, got.Status)

	msg.Attempt = 2
	err = svc.HandleExport(ctx, msg)
	assert.True(t, messaging.IsPermanent(err))

	got, err = svc.Export(ctx, alice, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.Error, "salat_logs")
}

func TestDeletion_GracePeriodSweepAndWorker(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	svc, _ := newService(t, pub)
	seed(t, svc, "alice")
	seed(t, svc, "bob")
	_, err := svc.UpdatePrivacy(ctx, alice, validation.ValuesOf(map[string]any{"share_activity": true}))
	require.NoError(t, err)

	req, err := svc.RequestDeletion(ctx, alice, "leaving")
	require.NoError(t, err)
	assert.Equal(t, DeletionPending, req.Status)
	assert.Equal(t, "2024-03-11T09:00:00.000000Z", req.ScheduledFor)

	again, err := svc.RequestDeletion(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID)

	n, err := svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the grace period")

	svc.now = func() time.Time { return start.Add(25 * time.Hour) }
	n, err = svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "claimed requests are not enqueued twice")

	_, err = svc.CancelDeletion(ctx, alice)
	assert.True(t, errors.IsConflict(err))

	msg := pub.last(t)
	assert.Equal(t, MessageDelete, msg.Type)
	require.NoError(t, svc.HandleDelete(ctx, msg))
	require.NoError(t, svc.HandleDelete(ctx, msg))

	for _, table := range []string{"habits", "habit_completions", "salat_logs", tablePrivacy} {
		assert.Zero(t, count(t, svc, table, "alice"), table)
	}
	assert.Equal(t, 1, count(t, svc, "habits", "bob"))
	assert.Equal(t, 1, count(t, svc, "salat_logs", "bob"))

	done, err := svc.Deletion(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, DeletionCompleted, done.Status)
	assert.NotEmpty(t, done.CompletedAt)
}

func TestDeletion_Cancel(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{}
	svc, _ := newService(t, pub)

	_, err := svc.CancelDeletion(ctx, alice)
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.RequestDeletion(ctx, alice, "")
	require.NoError(t, err)
	req, err := svc.CancelDeletion(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, DeletionCancelled, req.Status)

	svc.now = func() time.Time { return start.Add(48 * time.Hour) }
	n, err := svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, pub.count())
}

func TestDeletion_EnqueueFailureReleasesRequest(t *testing.T) {
	ctx := context.Background()
	pub := &recorder{err: fmt.Errorf("broker down")}
	svc, _ := newService(t, pub)

	_, err := svc.RequestDeletion(ctx, alice, "")
	require.NoError(t, err)
	svc.now = func() time.Time { return start.Add(48 * time.Hour) }

	n, err := svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	req, err := svc.Deletion(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, DeletionPending, req.Status)
}

type scheduler struct {
	spec string
	fn   func()
}

func (s *scheduler) AddFunc(spec string, fn func()) (cron.EntryID, error) {
	s.spec, s.fn = spec, fn
	return 1, nil
}

func TestModule_WorkersAndSchedule(t *testing.T) {
	ctx := context.Background()
	tr := memory.New(memory.Config{
		QueueSize: 8,
		Workers:   1,
		Policy:    messaging.DeliveryPolicy{MaxDeliver: 2, RetryDelay: 5 * time.Millisecond},
		Logger:    logging.NewNoopLogger(),
	})
	svc, _ := newService(t, tr)
	seed(t, svc, "alice")

	m := NewModule(svc, "@every 1m")
	require.NoError(t, m.RegisterWorkers(tr))
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	sched := &scheduler{}
	require.NoError(t, m.RegisterSchedules(sched))
	assert.Equal(t, "@every 1m", sched.spec)

	job, err := svc.RequestExport(ctx, alice)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := svc.Export(ctx, alice, job.ID)
		return err == nil && got.Status == JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.RequestDeletion(ctx, alice, "")
	require.NoError(t, err)
	svc.now = func() time.Time { return start.Add(48 * time.Hour) }
	sched.fn()
	require.Eventually(t, func() bool {
		req, err := svc.Deletion(ctx, alice)
		return err == nil && req.Status == DeletionCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, count(t, svc, "habits", "alice"))
	assert.Empty(t, tr.DeadLetters())
}

func TestRoutes(t *testing.T) {
	pub := &recorder{}
	svc, _ := newService(t, pub)
	srv := httpbasic.NewHTTPServer(httpx.WebConfig{}).WithLogger(logging.NewNoopLogger())
	srv.Use(httpbasic.PrincipalMiddleware(""))
	NewModule(svc, "").RegisterRoutes(srv.Group(""))
	h := srv.Handler()

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set(httpx.DefaultUserIDKey, "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPut, "/account/privacy", `{"profile_visibility":"everyone"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profile_visibility"`)

	rec = do(http.MethodPut, "/account/privacy", `{"profile_visibility":"friends","analytics_opt_in":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(http.MethodGet, "/account/privacy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profile_visibility":"friends"`)
	assert.Contains(t, rec.Body.String(), `"analytics_opt_in":true`)

	rec = do(http.MethodPut, "/account/notifications", `{"quiet_hours_start":"25:00","quiet_hours_end":"06:00"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quiet_hours_start"`)

	rec = do(http.MethodGet, "/account/delete", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/account/delete", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = do(http.MethodPost, "/account/delete/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = do(http.MethodPost, "/account/export", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		Data ExportJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, JobPending, created.Data.Status)

	rec = do(http.MethodGet, fmt.Sprintf("/account/export/%d", created.Data.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, "/account/export/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
