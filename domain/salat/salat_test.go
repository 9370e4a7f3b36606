package salat

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/codegen/snowflake"
	"hayatos/data/db/dbtest"
	"hayatos/data/query"
	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/http/basic"
	"hayatos/logging"
)

var (
	alice = httpx.Principal{UserID: "alice"}
	bob   = httpx.Principal{UserID: "bob"}
	now   = time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(dbtest.Open(t), snowflake.MustGenerator(2), logging.NewNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func day(offset int) time.Time { return now.AddDate(0, 0, offset) }

func TestRecord_UpsertsPerPrayer(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	first, err := svc.Record(ctx, alice, LogInput{Date: day(0), Prayer: "fajr", Status: StatusLate})
	require.NoError(t, err)
	second, err := svc.Record(ctx, alice, LogInput{Date: day(0), Prayer: "fajr", Status: StatusOnTime, Notes: "masjid"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same user/date/prayer updates in place")
	assert.Equal(t, StatusOnTime, second.Status)
	assert.Equal(t, "masjid", second.Notes)
	assert.Equal(t, "2024-03-10", second.PrayerDate)

	other, err := svc.Record(ctx, bob, LogInput{Date: day(0), Prayer: "fajr", Status: StatusMissed})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRecord_RejectsFutureDate(t *testing.T) {
	svc := newService(t)
	_, err := svc.Record(context.Background(), alice, LogInput{Date: day(1), Prayer: "isha", Status: StatusOnTime})
	assert.True(t, errors.IsValidation(err))
}

func TestDelete_Ownership(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	l, err := svc.Record(ctx, alice, LogInput{Date: day(0), Prayer: "asr", Status: StatusOnTime})
	require.NoError(t, err)

	assert.True(t, errors.IsNotFound(svc.Delete(ctx, bob, l.ID)))
	require.NoError(t, svc.Delete(ctx, alice, l.ID))
	assert.True(t, errors.IsNotFound(svc.Delete(ctx, alice, l.ID)))
}

func TestList_DateRangeAndStatus(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	for i, st := range []string{StatusOnTime, StatusLate, StatusMissed, StatusOnTime} {
		_, err := svc.Record(ctx, alice, LogInput{Date: day(-i), Prayer: "dhuhr", Status: st})
		require.NoError(t, err)
	}

	d, err := query.NewCompiler(query.WithSortable("prayer_date")).Compile(query.Intent{
		Filters: []query.Predicate{
			query.Between("prayer_date", dateOnly(day(-2)), dateOnly(day(0))),
			query.In("status", StatusOnTime, StatusLate),
		},
		Sort:  []query.SortKey{query.Asc("prayer_date")},
		Page:  1,
		Limit: 10,
	})
	require.NoError(t, err)
	res, err := svc.List(ctx, alice, d)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)
	assert.Equal(t, "2024-03-09", res.Data[0]["prayer_date"])
	assert.Equal(t, "2024-03-10", res.Data[1]["prayer_date"])
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	logs := []LogInput{
		{Date: day(0), Prayer: "fajr", Status: StatusOnTime},
		{Date: day(0), Prayer: "dhuhr", Status: StatusOnTime},
		{Date: day(0), Prayer: "asr", Status: StatusLate},
		{Date: day(-1), Prayer: "fajr", Status: StatusMissed},
		{Date: day(-5), Prayer: "fajr", Status: StatusOnTime},
	}
	for _, in := range logs {
		_, err := svc.Record(ctx, alice, in)
		require.NoError(t, err)
	}

	res, err := svc.Stats(ctx, alice, day(-1), day(0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Days)
	assert.Equal(t, 10, res.Expected)
	assert.Equal(t, 4, res.Logged)
	assert.Equal(t, map[string]int{StatusOnTime: 2, StatusLate: 1, StatusMissed: 1, StatusQada: 0}, res.Counts)
	assert.InDelta(t, 0.5, res.OnTimeRate, 1e-9)
	assert.InDelta(t, 0.3, res.CompletionRate, 1e-9)

	res, err = svc.Stats(ctx, alice, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStatsDays, res.Days)
	assert.Equal(t, 5, res.Logged)

	_, err = svc.Stats(ctx, alice, day(0), day(-3))
	assert.True(t, errors.IsValidation(err))
}

func TestRoutes(t *testing.T) {
	svc := newService(t)
	srv := basic.NewHTTPServer(httpx.WebConfig{}).WithLogger(logging.NewNoopLogger())
	srv.Use(basic.PrincipalMiddleware(""))
	NewModule(svc, 20, 100).RegisterRoutes(srv.Group(""))
	h := srv.Handler()

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set(httpx.DefaultUserIDKey, "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/salat/logs", `{"action":"log","date":"2024-03-09","prayer":"maghrib","status":"on_time"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/salat/logs", `{"action":"log","prayer":"tahajjud","status":"sometimes"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prayer"`)
	assert.Contains(t, rec.Body.String(), `"status"`)

	rec = do(http.MethodGet, "/salat/logs?from=2024-03-01&to=2024-03-09&status=on_time,late", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(http.MethodGet, "/salat/logs?from=2024-03-09&to=2024-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/salat/stats?from=2024-03-09&to=2024-03-09", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"on_time_rate":1`)
}
