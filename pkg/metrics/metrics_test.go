package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	r := New()

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.EventDropped()
	r.AuditWriteMissed()
	r.CorruptionFallback()
	r.UploadAccepted()
	r.UploadRejected("unsupported_media_type")

	body := scrape(t, r)
	assert.Contains(t, body, "untxt_websocket_connections 1")
	assert.Contains(t, body, "untxt_gateway_events_dropped_total 1")
	assert.Contains(t, body, "untxt_audit_writes_missed_total 1")
	assert.Contains(t, body, "untxt_version_corruption_fallbacks_total 1")
	assert.Contains(t, body, "untxt_uploads_accepted_total 1")
	assert.Contains(t, body, `untxt_uploads_rejected_total{reason="unsupported_media_type"} 1`)
}

func TestQueueDepthGauge(t *testing.T) {
	r := New()
	r.RegisterQueueDepth(func(context.Context) (int64, error) { return 7, nil })

	assert.Contains(t, scrape(t, r), "untxt_queue_depth 7")
}

func TestTaskCounterGauges(t *testing.T) {
	r := New()
	r.RegisterTaskCounters(func(context.Context) (int64, int64, error) { return 12, 3, nil })

	body := scrape(t, r)
	assert.Contains(t, body, "untxt_tasks_completed_total 12")
	assert.Contains(t, body, "untxt_tasks_failed_total 3")
}
