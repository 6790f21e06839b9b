package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetricsExposed(t *testing.T) {
	m := New()
	m.Transition("bound")
	m.StreamStarted()
	m.StreamFinished("completed")
	m.AddUploadBytes(1024)
	m.IncUploadRetries()
	m.JobProcessed("stream", "succeeded")
	m.IncRequests()
	m.IncErrors()

	body := scrape(t, m)
	assert.Contains(t, body, `publisher_state_transitions_total{state="bound"} 1`)
	assert.Contains(t, body, `publisher_encoder_runs_total{reason="completed"} 1`)
	assert.Contains(t, body, "publisher_active_streams 0")
	assert.Contains(t, body, "publisher_upload_bytes_total 1024")
	assert.Contains(t, body, "publisher_upload_retries_total 1")
	assert.Contains(t, body, `publisher_jobs_total{outcome="succeeded",type="stream"} 1`)
	assert.Contains(t, body, "publisher_http_requests_total 1")
	assert.Contains(t, body, "publisher_http_errors_total 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("x")
		m.StreamStarted()
		m.StreamFinished("x")
		m.AddUploadBytes(1)
		m.IncUploadRetries()
		m.JobProcessed("x", "y")
		m.IncRequests()
		m.IncErrors()
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
