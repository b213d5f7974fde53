package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg, reg)
}

func TestMetrics_WatcherLifecycle(t *testing.T) {
	m := newTestMetrics()

	m.WatcherStarted()
	m.WatcherStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WatchersActive))

	m.WatcherFinished("delivered")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WatchersActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WatcherOutcomes.WithLabelValues("delivered")))

	m.RecordPoll(PollError)
	m.RecordPoll(PollError)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PollsTotal.WithLabelValues(PollError)))
}

func TestMetrics_Notifications(t *testing.T) {
	m := newTestMetrics()

	m.RecordNotification(true)
	m.RecordNotification(false)
	m.RecordNotification(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("sent")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("failed")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordMailboxCreated()
		m.WatcherStarted()
		m.WatcherFinished("timeout")
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
		m.RecordQuotaDenied()
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := newTestMetrics()
	m.RecordMailboxCreated()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expressmail_mailboxes_created_total 1")
}
