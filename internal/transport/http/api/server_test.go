package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"canarydesk/internal/canary"
	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/runner"
	"canarydesk/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCanary struct {
	mu      sync.Mutex
	running bool
	mode    string
	ctx     context.Context
	stops   int
	reports []canary.Report
}

func (f *fakeCanary) Start(ctx context.Context, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := control.ParseMode(mode); !ok {
		return canary.ErrInvalidMode
	}
	if f.running {
		return canary.ErrAlreadyRunning
	}
	f.running, f.mode, f.ctx = true, mode, ctx
	return nil
}

func (f *fakeCanary) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakeCanary) Status() canary.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return canary.Status{Running: f.running, Mode: control.Mode(f.mode), CapitalPct: 5}
}

func (f *fakeCanary) Reports() []canary.Report { return f.reports }

type staticQuality struct{}

func (staticQuality) QualityReport() execution.QualityReport {
	return execution.QualityReport{Count: 4, ErrorRate: 0.25}
}

type staticVenues struct{}

func (staticVenues) Stats() []venue.Stats { return []venue.Stats{{Name: "sim", ErrorRate: 0.1}} }

func newServer(t *testing.T, fc *fakeCanary, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Canary = fc
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_RequiresCanary(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestServer_StartStopLifecycle(t *testing.T) {
	fc := &fakeCanary{}
	s := newServer(t, fc, ServerConfig{})

	w := do(t, s, http.MethodPost, "/api/canary/start", `{"mode":"shadow"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st canary.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, control.ModeShadow, st.Mode)
	assert.NotNil(t, fc.ctx)

	w = do(t, s, http.MethodPost, "/api/canary/start", `{"mode":"shadow"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/canary/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fc.stops)

	w = do(t, s, http.MethodPost, "/api/canary/start", `{"mode":"yolo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/canary/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "canary", fc.mode)
}

func TestServer_Reports(t *testing.T) {
	fc := &fakeCanary{reports: []canary.Report{
		{ID: "1", Kind: canary.KindMidday},
		{ID: "2", Kind: canary.KindEOD},
		{ID: "3", Kind: canary.KindMidday},
	}}
	s := newServer(t, fc, ServerConfig{})

	var body struct {
		Reports []canary.Report `json:"reports"`
	}
	w := do(t, s, http.MethodGet, "/api/canary/reports?kind=midday&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Reports, 1)
	assert.Equal(t, "3", body.Reports[0].ID)

	w = do(t, s, http.MethodGet, "/api/canary/reports?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/canary/reports?persisted=true", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_QueryEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "canarydesk_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	active := false
	s := newServer(t, &fakeCanary{}, ServerConfig{
		Runner: func() (runner.CombinedState, bool) {
			return runner.CombinedState{Running: true, CapitalPct: 5}, active
		},
		Quality:  staticQuality{},
		Venues:   staticVenues{},
		Gatherer: reg,
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/runner/state", "").Code)
	active = true
	w := do(t, s, http.MethodGet, "/api/runner/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capital_pct":5`)

	w = do(t, s, http.MethodGet, "/api/execution/quality", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"error_rate":0.25`)

	w = do(t, s, http.MethodGet, "/api/venue/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"sim"`)

	w = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "canarydesk_test_total 1")
}
