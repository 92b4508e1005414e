package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/order-migrator/internal/ledger"
	"github.com/ksred/order-migrator/internal/metrics"
	"github.com/ksred/order-migrator/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	l, err := ledger.Open(ctx, ledger.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccess(ctx, "1", "9001", 1))
	require.NoError(t, l.RecordFailure(ctx, "2", errors.New("API Error 422: email is invalid"), 1))
	return l
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestStatus(t *testing.T) {
	progress := func() upload.Progress {
		return upload.Progress{RunID: "run-1", Running: true, Total: 10, Processed: 2, Uploaded: 1, Failed: 1}
	}
	router := New(seededLedger(t), progress, nil).Router()

	w, body := get(t, router, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, map[string]any{"uploaded": 1.0, "failed": 1.0, "pending": 0.0}, data["ledger"])
	run := data["run"].(map[string]any)
	assert.Equal(t, "run-1", run["runId"])
	assert.Equal(t, 2.0, run["processed"])
}

func TestStatus_Failed(t *testing.T) {
	router := New(seededLedger(t), nil, nil).Router()

	w, body := get(t, router, "/status/failed")
	require.Equal(t, http.StatusOK, w.Code)
	failed := body["data"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "API Error 422: email is invalid", failed[0].(map[string]any)["error"])
	assert.Equal(t, 1.0, body["meta"].(map[string]any)["count"])
}

func TestStatus_Entry(t *testing.T) {
	router := New(seededLedger(t), nil, nil).Router()

	w, body := get(t, router, "/status/orders/1")
	require.Equal(t, http.StatusOK, w.Code)
	entry := body["data"].(map[string]any)
	assert.Equal(t, "1", entry["sourceId"])
	assert.Equal(t, "uploaded", entry["status"])
	assert.Equal(t, "9001", entry["remoteId"])

	w, body = get(t, router, "/status/orders/404")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestStatus_Metrics(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.RecordOutcome("uploaded")
	router := New(seededLedger(t), nil, rec.Handler()).Router()

	w, _ := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `migrator_records_total{outcome="uploaded"} 1`)
}

func TestServer_StartShutdown(t *testing.T) {
	s := New(seededLedger(t), nil, nil)
	require.NoError(t, s.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/status")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
