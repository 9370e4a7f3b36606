package redisstreams

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/logging"
	"hayatos/messaging"
)

type fakeClient struct {
	mu      sync.Mutex
	added   []*redis.XAddArgs
	acked   []string
	pending []redis.XPendingExt
	claimed map[string]redis.XMessage
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("1-0")
	return cmd
}

func (f *fakeClient) XReadGroup(ctx context.Context, _ *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	<-ctx.Done()
	cmd := redis.NewXStreamSliceCmd(ctx)
	cmd.SetErr(ctx.Err())
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, _, _, _ string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	return cmd
}

func (f *fakeClient) XPendingExt(ctx context.Context, _ *redis.XPendingExtArgs) *redis.XPendingExtCmd {
	cmd := redis.NewXPendingExtCmd(ctx)
	cmd.SetVal(f.pending)
	return cmd
}

func (f *fakeClient) XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd {
	cmd := redis.NewXMessageSliceCmd(ctx)
	var out []redis.XMessage
	for _, id := range a.Messages {
		if m, ok := f.claimed[id]; ok {
			out = append(out, m)
		}
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeClient) Close() error { return nil }

func newTestTransport(cl client, maxDeliver int) *Transport {
	return newTransport(Config{
		Policy: messaging.DeliveryPolicy{MaxDeliver: maxDeliver, RetryDelay: time.Second},
		Logger: logging.NewNoopLogger(),
	}, cl, false)
}

func entryFor(t *testing.T, id string) redis.XMessage {
	t.Helper()
	msg, err := messaging.NewMessage("export", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	values, err := encodeMessage(msg)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: values}
}

func TestEncodeDecode(t *testing.T) {
	msg, err := messaging.NewMessage("export", map[string]int{"job_id": 42})
	require.NoError(t, err)
	msg.WithMetadata("user_id", "u1")

	values, err := encodeMessage(msg)
	require.NoError(t, err)

	decoded, err := decodeMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "export", decoded.Type)
	assert.Equal(t, msg.Timestamp.UnixNano(), decoded.Timestamp.UnixNano())
	assert.Equal(t, "u1", decoded.Metadata["user_id"])

	var p map[string]int
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, 42, p["job_id"])
}

func TestDecode_StringTimestampAndMissingType(t *testing.T) {
	decoded, err := decodeMessage(redis.XMessage{ID: "2-0", Values: map[string]any{
		"type":      "export",
		"timestamp": "1700000000000000000",
		"payload":   "{}",
	}})
	require.NoError(t, err)
	assert.Equal(t, "2-0", decoded.ID)
	assert.Equal(t, int64(1700000000000000000), decoded.Timestamp.UnixNano())

	_, err = decodeMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"payload": "{}"}})
	assert.Error(t, err)
	_, err = decodeMessage(redis.XMessage{ID: "4-0", Values: map[string]any{"type": "export", "payload": "{oops"}})
	assert.Error(t, err)
}

func TestProcess_AcksOnlyOnSuccess(t *testing.T) {
	fc := &fakeClient{}
	tr := newTestTransport(fc, 3)
	fail := true
	require.NoError(t, tr.Subscribe("export", messaging.HandlerFunc(func(context.Context, *messaging.Message) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	})))

	tr.process(context.Background(), "export", entryFor(t, "1-0"), 1)
	assert.Empty(t, fc.acked)
	assert.Empty(t, fc.added)

	fail = false
	tr.process(context.Background(), "export", entryFor(t, "1-0"), 2)
	assert.Equal(t, []string{"1-0"}, fc.acked)
}

func TestProcess_DeadLettersOnLastAttempt(t *testing.T) {
	fc := &fakeClient{}
	tr := newTestTransport(fc, 3)
	require.NoError(t, tr.Subscribe("export", messaging.HandlerFunc(func(context.Context, *messaging.Message) error {
		return errors.New("still failing")
	})))

	tr.process(context.Background(), "export", entryFor(t, "1-0"), 3)
	require.Len(t, fc.added, 1)
	assert.Equal(t, "hayatos:jobs:export:dead", fc.added[0].Stream)
	assert.Equal(t, []string{"1-0"}, fc.acked)
}

func TestProcess_UndecodableEntryIsDeadLettered(t *testing.T) {
	fc := &fakeClient{}
	tr := newTestTransport(fc, 3)
	require.NoError(t, tr.Subscribe("export", messaging.HandlerFunc(func(context.Context, *messaging.Message) error {
		t.Fatal("handler must not run")
		return nil
	})))

	tr.process(context.Background(), "export", redis.XMessage{ID: "9-0", Values: map[string]any{}}, 1)
	require.Len(t, fc.added, 1)
	assert.Equal(t, []string{"9-0"}, fc.acked)
}

func TestClaimPending(t *testing.T) {
	fc := &fakeClient{
		pending: []redis.XPendingExt{
			{ID: "1-0", RetryCount: 1},
			{ID: "2-0", RetryCount: 3},
		},
		claimed: map[string]redis.XMessage{},
	}
	fc.claimed["1-0"] = entryFor(t, "1-0")
	fc.claimed["2-0"] = entryFor(t, "2-0")

	tr := newTestTransport(fc, 3)
	var attempts []int
	require.NoError(t, tr.Subscribe("export", messaging.HandlerFunc(func(_ context.Context, msg *messaging.Message) error {
		attempts = append(attempts, msg.Attempt)
		return nil
	})))

	require.NoError(t, tr.claimPending(context.Background(), "export"))
	assert.Equal(t, []int{2}, attempts)
	assert.ElementsMatch(t, []string{"1-0", "2-0"}, fc.acked)
	require.Len(t, fc.added, 1)
	assert.Equal(t, "2-0", fc.added[0].Values.(map[string]any)["source_entry"])
}

func TestTransport_Lifecycle(t *testing.T) {
	fc := &fakeClient{}
	tr := newTestTransport(fc, 3)
	h := messaging.HandlerFunc(func(context.Context, *messaging.Message) error { return nil })
	require.NoError(t, tr.Subscribe("export", h))
	assert.Error(t, tr.Subscribe("export", h))

	require.NoError(t, tr.Start(context.Background()))
	assert.Error(t, tr.Start(context.Background()))
	assert.Equal(t, []string{"export"}, tr.Stats().MessageTypes)
	assert.True(t, tr.Stats().Running)

	msg, err := messaging.NewMessage("export", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(context.Background(), msg))

	require.NoError(t, tr.Close())
	assert.False(t, tr.Stats().Running)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NotEmpty(t, fc.added)
	assert.Equal(t, "hayatos:jobs:export", fc.added[0].Stream)
	raw, _ := json.Marshal(fc.added[0].Values)
	assert.Contains(t, string(raw), msg.ID)
}
