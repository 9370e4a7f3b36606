package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/validation"
)

func testRegistry(calls *[]string) *Registry {
	r := NewRegistry("habits")
	r.Register("archive", validation.NewSchema(validation.Int("id", validation.Required(), validation.Min(1))),
		HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			*calls = append(*calls, "archive")
			return map[string]any{"id": in.Int("id"), "user": p.UserID}, nil
		}))
	r.Register("create", validation.NewSchema(validation.String("name", validation.Required())),
		HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			*calls = append(*calls, "create:"+in.String("name"))
			return nil, nil
		}))
	return r
}

func TestRegistry_DispatchesByAction(t *testing.T) {
	var calls []string
	r := testRegistry(&calls)

	out, err := r.Dispatch(context.Background(), httpx.Principal{UserID: "u1"}, []byte(`{"action":"archive","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 7, "user": "u1"}, out)

	_, err = r.Dispatch(context.Background(), httpx.Principal{UserID: "u1"}, []byte(`{"action":"create","name":"Read"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "create:Read"}, calls)
}

func TestRegistry_UnknownActionIsValidationError(t *testing.T) {
	var calls []string
	r := testRegistry(&calls)

	_, err := r.Dispatch(context.Background(), httpx.Principal{UserID: "u1"}, []byte(`{"action":"explode"}`))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	fields := errors.FieldErrors(err)
	require.Len(t, fields, 1)
	assert.Equal(t, FieldAction, fields[0].Field)
	assert.Contains(t, fields[0].Message, "archive, create")
	assert.Empty(t, calls)
}

func TestRegistry_MalformedRequests(t *testing.T) {
	var calls []string
	r := testRegistry(&calls)

	cases := map[string]string{
		``:                    "body",
		`[1,2]`:               "body",
		`{}`:                  FieldAction,
		`{"action":""}`:       FieldAction,
		`{"action":3}`:        FieldAction,
		`{"action":"create"}`: "name",
	}
	for body, field := range cases {
		_, err := r.Dispatch(context.Background(), httpx.Principal{UserID: "u1"}, []byte(body))
		require.Error(t, err, body)
		fields := errors.FieldErrors(err)
		require.NotEmpty(t, fields, body)
		assert.Equal(t, field, fields[0].Field, body)
	}
	assert.Empty(t, calls)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry("x")
	r.Register("a", nil, HandlerFunc(func(context.Context, httpx.Principal, validation.Values) (any, error) { return nil, nil }))
	assert.Panics(t, func() {
		r.Register("a", nil, HandlerFunc(func(context.Context, httpx.Principal, validation.Values) (any, error) { return nil, nil }))
	})
}
