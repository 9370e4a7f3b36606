package natsjetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/logging"
	"hayatos/messaging"
)

type fakeAck struct {
	acked  int
	naked  []time.Duration
	termed int
}

func (f *fakeAck) Ack(...nats.AckOpt) error { f.acked++; return nil }
func (f *fakeAck) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	f.naked = append(f.naked, d)
	return nil
}
func (f *fakeAck) Term(...nats.AckOpt) error { f.termed++; return nil }

func newTestTransport(t *testing.T, h messaging.HandlerFunc) *Transport {
	t.Helper()
	tr := NewTransport(Config{
		Policy: messaging.DeliveryPolicy{MaxDeliver: 3, RetryDelay: 2 * time.Second},
		Logger: logging.NewNoopLogger(),
	})
	require.NoError(t, tr.Subscribe("account.export", h))
	return tr
}

func encoded(t *testing.T) []byte {
	t.Helper()
	msg, err := messaging.NewMessage("account.export", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	data, err := marshalMessage(msg)
	require.NoError(t, err)
	return data
}

func TestMarshalUnmarshal(t *testing.T) {
	msg, err := messaging.NewMessage("account.export", map[string]float64{"amount": 99.5})
	require.NoError(t, err)
	msg.WithMetadata("user_id", "u1")

	data, err := marshalMessage(msg)
	require.NoError(t, err)
	decoded, err := unmarshalMessage(data)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.Timestamp.UnixNano(), decoded.Timestamp.UnixNano())
	assert.Equal(t, "u1", decoded.Metadata["user_id"])
	var p map[string]float64
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, 99.5, p["amount"])
}

func TestHandle_AckOnSuccess(t *testing.T) {
	var attempt int
	tr := newTestTransport(t, func(_ context.Context, msg *messaging.Message) error {
		attempt = msg.Attempt
		return nil
	})
	ack := &fakeAck{}
	tr.handle(context.Background(), "account.export", encoded(t), 2, ack)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 2, attempt)
}

func TestHandle_NakWithDelayOnFailure(t *testing.T) {
	tr := newTestTransport(t, func(context.Context, *messaging.Message) error {
		return errors.New("transient")
	})
	ack := &fakeAck{}
	tr.handle(context.Background(), "account.export", encoded(t), 1, ack)
	assert.Zero(t, ack.acked)
	assert.Equal(t, []time.Duration{2 * time.Second}, ack.naked)
}

func TestHandle_TermAtMaxDeliver(t *testing.T) {
	tr := newTestTransport(t, func(context.Context, *messaging.Message) error {
		return errors.New("transient")
	})
	ack := &fakeAck{}
	tr.handle(context.Background(), "account.export", encoded(t), 3, ack)
	assert.Equal(t, 1, ack.termed)
	assert.Empty(t, ack.naked)
}

func TestHandle_TermOnUndecodable(t *testing.T) {
	tr := newTestTransport(t, func(context.Context, *messaging.Message) error {
		t.Fatal("handler must not run")
		return nil
	})
	ack := &fakeAck{}
	tr.handle(context.Background(), "account.export", []byte("{not json"), 1, ack)
	assert.Equal(t, 1, ack.termed)
}

func TestStreamConfig(t *testing.T) {
	tr := NewTransport(Config{Retention: "limits", Replicas: 3})
	sc := streamConfig(tr.cfg)
	assert.Equal(t, "HAYATOS_JOBS", sc.Name)
	assert.Equal(t, []string{"hayatos.jobs.>"}, sc.Subjects)
	assert.Equal(t, nats.LimitsPolicy, sc.Retention)
	assert.Equal(t, 3, sc.Replicas)
}

func TestPublishRequiresRunning(t *testing.T) {
	tr := NewTransport(Config{Logger: logging.NewNoopLogger()})
	msg, err := messaging.NewMessage("account.export", struct{}{})
	require.NoError(t, err)
	assert.Error(t, tr.Publish(context.Background(), msg))
	assert.NoError(t, tr.Close())
}
