package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/config"
	"tastream/internal/gateway"
	"tastream/internal/indicator"
	"tastream/internal/metrics"
	"tastream/internal/model"
	"tastream/internal/native"
	"tastream/internal/reference"
	sqlitestore "tastream/internal/store/sqlite"
	"tastream/internal/ta"
)

var t0 = time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

type fakeWriter struct {
	mu      sync.Mutex
	results []model.IndicatorResult
}

func (w *fakeWriter) WriteIndicatorBatch(_ context.Context, results []model.IndicatorResult) {
	w.mu.Lock()
	w.results = append(w.results, results...)
	w.mu.Unlock()
}

type memStore struct {
	data []byte
	err  error
}

func (m *memStore) SaveSnapshotJSON(_ context.Context, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memStore) ReadLatestSnapshotJSON(context.Context) ([]byte, error) {
	return m.data, m.err
}

func newTestService(t *testing.T) (*Service, *fakeWriter) {
	t.Helper()
	b := native.New()
	configs := []indicator.TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{{Kind: ta.SMA, Period: 2}}},
	}
	e, err := indicator.NewEngine(b, configs)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	w := &fakeWriter{}
	svc := &Service{
		cfg:      &config.Config{SnapshotIntervalS: 30},
		configs:  configs,
		tfs:      tfsOf(configs),
		backend:  b,
		engine:   e,
		writer:   w,
		hub:      gateway.NewHub(),
		registry: reg,
		prom:     metrics.NewMetrics(reg),
		health:   metrics.NewHealthStatus(b.Name()),
		barCh:    make(chan model.Bar, 16),
		sqlBarCh: make(chan model.Bar, 16),
	}
	return svc, w
}

func bar(i int, px float64) model.Bar {
	return model.Bar{
		Token:    "2885",
		Exchange: "NSE",
		TF:       60,
		TS:       t0.Add(time.Duration(i) * time.Minute),
		Open:     px,
		High:     px + 1,
		Low:      px - 1,
		Close:    px,
		Volume:   100,
	}
}

func TestHandle_ClosedBars(t *testing.T) {
	svc, w := newTestService(t)
	ctx := context.Background()

	svc.handle(ctx, bar(0, 10))
	svc.handle(ctx, bar(1, 20))
	svc.handle(ctx, bar(1, 30)) // stale: bar 1 is already closed

	require.Len(t, w.results, 2)
	assert.False(t, w.results[0].Ready)
	assert.True(t, w.results[1].Ready)
	assert.Equal(t, "SMA_2", w.results[1].Name)
	assert.InDelta(t, 15.0, w.results[1].Value, 1e-9)

	assert.Equal(t, 2.0, testutil.ToFloat64(svc.prom.StepsTotal.WithLabelValues("closed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.prom.ResultsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.prom.BarsDropped))
}

func TestHandle_FormingThenClose(t *testing.T) {
	svc, w := newTestService(t)
	ctx := context.Background()

	svc.handle(ctx, bar(0, 10))

	forming := bar(1, 20)
	forming.Forming = true
	svc.handle(ctx, forming)
	forming.Close = 40
	svc.handle(ctx, forming)
	svc.handle(ctx, bar(1, 30))

	require.Len(t, w.results, 4)
	assert.True(t, w.results[1].Live)
	assert.InDelta(t, 15.0, w.results[1].Value, 1e-9)
	assert.True(t, w.results[2].Live)
	assert.InDelta(t, 25.0, w.results[2].Value, 1e-9)
	assert.False(t, w.results[3].Live)
	assert.InDelta(t, 20.0, w.results[3].Value, 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.prom.StepsTotal.WithLabelValues("live")))
}

func TestHandle_PersistsClosedBarsOnly(t *testing.T) {
	svc, _ := newTestService(t)
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	defer store.Close()
	svc.sql = store

	ctx := context.Background()
	svc.handle(ctx, bar(0, 10))
	forming := bar(1, 20)
	forming.Forming = true
	svc.handle(ctx, forming)

	require.Len(t, svc.sqlBarCh, 1)
	got := <-svc.sqlBarCh
	assert.Equal(t, t0, got.TS)
	assert.False(t, got.Forming)
}

func TestHandleReload(t *testing.T) {
	svc, _ := newTestService(t)
	svc.handle(context.Background(), bar(0, 10))
	svc.handle(context.Background(), bar(1, 20))

	body := `[{"tf":60,"indicators":[{"kind":"SMA","period":2},{"kind":"EMA","period":2}]}]`
	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status    string `json:"status"`
		Preserved int    `json:"preserved"`
		Created   int    `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Preserved)
	assert.Equal(t, 1, resp.Created)
	assert.Len(t, svc.engine.Configs()[0].Indicators, 2)
}

func TestHandleReload_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	bad := `[{"tf":60,"indicators":[{"kind":"SMA","period":1}]}]`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader(bad)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SMA_2", svc.engine.Configs()[0].Indicators[0].Key())
}

func TestHandleConfig(t *testing.T) {
	svc, _ := newTestService(t)
	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []indicator.TFIndicatorConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0].TF)
}

func TestReloadPayload(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.reloadPayload("EMA:9, WMA:5"))
	inds := svc.engine.Configs()[0].Indicators
	require.Len(t, inds, 2)
	assert.Equal(t, "EMA_9", inds[0].Key())
	assert.Equal(t, "WMA_5", inds[1].Key())

	require.NoError(t, svc.reloadPayload(`[{"tf":60,"indicators":[{"kind":"KAMA","period":10}]}]`))
	assert.Equal(t, "KAMA_10", svc.engine.Configs()[0].Indicators[0].Key())

	assert.Error(t, svc.reloadPayload("RSI:14"))
	assert.Error(t, svc.reloadPayload("[{"))
	assert.Equal(t, "KAMA_10", svc.engine.Configs()[0].Indicators[0].Key())
}

func TestSnapshot_SaveAndLoad(t *testing.T) {
	svc, _ := newTestService(t)
	broken := &memStore{err: errors.New("redis down")}
	good := &memStore{}
	svc.snapStores = []model.SnapshotStore{broken, good}

	ctx := context.Background()
	svc.handle(ctx, bar(0, 10))
	svc.handle(ctx, bar(1, 20))

	assert.Equal(t, 1, svc.saveSnapshot(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.prom.SnapshotTokens))

	snap := svc.loadSnapshot(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, indicator.SnapshotVersion, snap.Version)
	require.Len(t, snap.Tokens, 1)
	assert.Len(t, snap.Tokens[0].Bars, 2)

	// a restored engine on the other backend continues where this one stopped
	restored, err := indicator.RestoreEngine(reference.New(), svc.configs, snap)
	require.NoError(t, err)
	results := restored.Process(bar(2, 40))
	require.Len(t, results, 1)
	assert.InDelta(t, 30.0, results[0].Value, 1e-9)
}

func TestLoadSnapshot_SkipsUndecodable(t *testing.T) {
	svc, _ := newTestService(t)
	svc.snapStores = []model.SnapshotStore{&memStore{data: []byte("{not json")}, &memStore{}}
	assert.Nil(t, svc.loadSnapshot(context.Background()))
}

func TestBuildStreams_FromTokens(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.SubscribeTokens = "NSE:2885, BSE:500325"
	svc.tfs = []int{60, 300}

	assert.Equal(t, []string{
		"bar:60s:NSE:2885", "bar:60s:BSE:500325",
		"bar:300s:NSE:2885", "bar:300s:BSE:500325",
	}, svc.buildStreams(context.Background()))
}

func TestStreamMarker(t *testing.T) {
	at := time.UnixMilli(1705314600000)
	assert.Equal(t, "1705314300000-0", streamMarker(at))
}

func TestOnParityMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	svc.onParityMismatch(ta.Spec{Kind: ta.EMA, Period: 10}, ta.Value{Float: 1, Valid: true}, ta.Value{Float: 2, Valid: true}, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.prom.ParityMismatches.WithLabelValues("EMA_10")))
}
