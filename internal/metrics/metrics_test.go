package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

// value returns the counter or gauge value of the series with the given label
// pair, or of the only series when label is empty.
func value(t *testing.T, r *Recorder, name, label, labelValue string) float64 {
	t.Helper()
	families, err := r.Gather()
	require.NoError(t, err)
	for _, m := range family(t, families, name).GetMetric() {
		if label != "" && !hasLabel(m, label, labelValue) {
			continue
		}
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("series %s{%s=%q} not found", name, label, labelValue)
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestRecorder_CountsClientActivity(t *testing.T) {
	r := NewRecorder()

	r.ObserveRequest(429, 20*time.Millisecond)
	r.ObserveThrottle(time.Second)
	r.ObserveRetry("throttled", time.Second)
	r.ObserveRequest(201, 40*time.Millisecond)

	assert.Equal(t, 1.0, value(t, r, "migrator_api_requests_total", "status", "429"))
	assert.Equal(t, 1.0, value(t, r, "migrator_api_requests_total", "status", "201"))
	assert.Equal(t, 1.0, value(t, r, "migrator_api_throttles_total", "", ""))
	assert.Equal(t, 1.0, value(t, r, "migrator_api_retries_total", "reason", "throttled"))
	assert.Equal(t, 1.0, value(t, r, "migrator_api_backoff_seconds_total", "", ""))

	families, err := r.Gather()
	require.NoError(t, err)
	hist := family(t, families, "migrator_api_request_duration_seconds")
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecorder_CountsRecords(t *testing.T) {
	r := NewRecorder()
	r.SetRemaining(3)
	r.RecordOutcome("uploaded")
	r.RecordOutcome("uploaded")
	r.RecordOutcome("failed")
	r.SetRemaining(0)

	assert.Equal(t, 2.0, value(t, r, "migrator_records_total", "outcome", "uploaded"))
	assert.Equal(t, 1.0, value(t, r, "migrator_records_total", "outcome", "failed"))
	assert.Equal(t, 0.0, value(t, r, "migrator_records_remaining", "", ""))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.RecordOutcome("skipped")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `migrator_records_total{outcome="skipped"} 1`)
}
