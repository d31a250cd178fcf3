package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMetrics_ExposesCounters(t *testing.T) {
	ctx := context.Background()
	m, err := New(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	m.DeliveryDropped(ctx, "unreachable")
	m.DeliveryDropped(ctx, "unreachable")
	m.EnqueueFailed(ctx, "reminder")
	m.RateLimited(ctx, "command")
	m.AuthzDecision(ctx, "blocked", "suspended")
	m.RemindersCleared(ctx, 3)
	m.StatsPublished(ctx, errors.New("boom"))

	code, body := scrape(t, m)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "coord_notify_deliveries_dropped_total")
	assert.Contains(t, body, `reason="unreachable"`)
	assert.Contains(t, body, "coord_notify_enqueue_failures_total")
	assert.Contains(t, body, "coord_ratelimit_denied_total")
	assert.Contains(t, body, `kind="suspended"`)
	assert.Contains(t, body, "coord_reminders_cleared_total")
	assert.Contains(t, body, `result="error"`)
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := New(false)
	require.NoError(t, err)

	m.DeliveryDropped(context.Background(), "unreachable")
	m.DeliverySent(context.Background())

	code, _ := scrape(t, m)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RateLimited(context.Background(), "command")
		m.StatsPublished(context.Background(), nil)
	})
}
