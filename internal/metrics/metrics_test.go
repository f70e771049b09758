package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz_DegradedUntilReady(t *testing.T) {
	h := NewHealthStatus("native")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetRedisConnected(true)
	h.SetIndicatorOK(true)
	h.SetEnabledTFs([]int{60, 300})
	h.SetLastBarTime(time.Now())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "native", body["backend"])
	assert.Equal(t, []any{float64(60), float64(300)}, body["enabled_tfs"])
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.StepsTotal.WithLabelValues("closed").Add(3)
	m.ParityMismatches.WithLabelValues("EMA_10").Inc()

	srv := NewServer(":0", NewHealthStatus("reference"), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `indengine_steps_total{kind="closed"} 3`), body)
	assert.True(t, strings.Contains(body, `indengine_parity_mismatches_total{indicator="EMA_10"} 1`), body)
}
