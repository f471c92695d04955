package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	models "EdgeLab/internal/domain/models"
	"EdgeLab/internal/services/features"
	hypo "EdgeLab/internal/services/hypothesis"
	"EdgeLab/internal/usecase"
	pkgcache "EdgeLab/pkg/cache"
	xlogger "EdgeLab/pkg/logger"
)

type apiMetrics struct{}

func (apiMetrics) RecordObservation(string)         {}
func (apiMetrics) RecordFeedGap(string)             {}
func (apiMetrics) RecordEvaluation(string)          {}
func (apiMetrics) RecordTransition(_, _, _ string)  {}
func (apiMetrics) RecordDuplicateSuppressed(string) {}
func (apiMetrics) RecordError(string)               {}
func (apiMetrics) RecordLatency(string, float64)    {}
func (apiMetrics) SetPoolSize(int)                  {}
func (apiMetrics) SetPendingEvaluations(int)        {}
func (apiMetrics) SetAtRisk(bool)                   {}

const knownID = "7f0c2d81-9b4a-4f6e-8a2d-3f5b9c7e1a20"

// apiEnvelope mirrors the outer response shape every endpoint writes.
type apiEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*echo.Echo, *HypothesesHandler, *usecase.LifecycleManager) {
	t.Helper()
	log, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	test, err := hypo.NewSPRT(0.95, 0.9, 0.1)
	if err != nil {
		t.Fatalf("sprt: %v", err)
	}
	cfg := usecase.LifecycleConfig{
		MinSamples:     4,
		MaxSamples:     200,
		PoolCapacity:   4,
		DecayWindow:    4,
		DecayThreshold: 0.5,
		Epsilon:        0.001,
		Retention:      time.Hour,
		EventBuffer:    64,
	}
	pool := usecase.NewStrategyPool(cfg.PoolCapacity)
	mgr := usecase.NewLifecycleManager(log, apiMetrics{}, pool, nil, test, cfg)
	eval := usecase.NewEvaluator(log, apiMetrics{}, mgr, test, time.Minute, usecase.EvaluatorConfig{})
	gen := hypo.NewGenerator(log, 64, hypo.WithSeed(1))
	eng := usecase.NewEngine(log, apiMetrics{}, nil, features.NewExtractor(4), gen, eval, mgr, nil, usecase.EngineConfig{})

	h := NewHypothesesHandler(log, mgr, eng, eval)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, h, mgr
}

func restoreActive(t *testing.T, mgr *usecase.LifecycleManager) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr.Restore([]*models.Hypothesis{{
		ID:         knownID,
		Symbol:     "BTCUSDT",
		Predicate:  models.Predicate{Feature: models.FeatRet1, Op: models.OpGT, Threshold: 0.01},
		Prediction: models.Prediction{Direction: models.DirUp, Horizon: 2},
		Strategy:   hypo.StrategyRandomSearch,
		Status:     models.StatusActive,
		CreatedAt:  now.Add(-time.Hour),
		StatusAt:   now,
		PromotedAt: now,
		Stats:      models.Stats{N: 30, Wins: 21, Mean: 0.01, M2: 29 * 0.0001},
	}}, now)
}

func doGet(t *testing.T, e *echo.Echo, target string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v (body %s)", target, err, rec.Body.String())
	}
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	e, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["feed_connected"] != true {
		t.Errorf("feed_connected = %v", body["feed_connected"])
	}
}

func TestPoolEndpoint(t *testing.T) {
	e, _, mgr := newTestServer(t)
	restoreActive(t, mgr)

	rec, env := doGet(t, e, "/api/pool")
	if rec.Code != http.StatusOK || env.Status != http.StatusOK {
		t.Fatalf("outer=%d inner=%d", rec.Code, env.Status)
	}
	var entries []struct {
		Rank       int     `json:"rank"`
		Score      float64 `json:"score"`
		Hypothesis struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"hypothesis"`
	}
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Rank != 1 || entries[0].Hypothesis.ID != knownID || entries[0].Hypothesis.Status != "ACTIVE" {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[0].Score <= 0 {
		t.Errorf("score = %v, want positive", entries[0].Score)
	}
}

func TestPoolResponseCache(t *testing.T) {
	e, h, mgr := newTestServer(t)
	restoreActive(t, mgr)

	respCache := pkgcache.NewMemoryCache()
	defer respCache.Close()
	h.SetCache(respCache, time.Minute)

	_, first := doGet(t, e, "/api/pool")
	if first.Status != http.StatusOK {
		t.Fatalf("inner status = %d", first.Status)
	}

	// The handler keys pool responses by the effective limit.
	var cached []poolEntryView
	if err := respCache.Get(context.Background(), "pool:50", &cached); err != nil {
		t.Fatalf("cache not populated after request: %v", err)
	}
	if len(cached) != 1 || cached[0].Hypothesis.ID != knownID {
		t.Fatalf("cached entries = %+v", cached)
	}

	_, second := doGet(t, e, "/api/pool")
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatalf("cached response diverged:\nfirst  %s\nsecond %s", first.Data, second.Data)
	}
}

func TestHypothesisByID(t *testing.T) {
	e, _, mgr := newTestServer(t)
	restoreActive(t, mgr)

	rec, env := doGet(t, e, "/api/hypotheses/"+knownID)
	if rec.Code != http.StatusOK || env.Status != http.StatusOK {
		t.Fatalf("outer=%d inner=%d", rec.Code, env.Status)
	}
	var view struct {
		ID        string  `json:"id"`
		Symbol    string  `json:"symbol"`
		Predicate string  `json:"predicate"`
		N         int64   `json:"n"`
		Score     float64 `json:"score"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if view.ID != knownID || view.Symbol != "BTCUSDT" || view.N != 30 {
		t.Fatalf("view = %+v", view)
	}
	if view.Predicate == "" {
		t.Error("predicate string empty")
	}
}

func TestHypothesisByIDNotFound(t *testing.T) {
	e, _, _ := newTestServer(t)

	// Errors ride inside the envelope; the outer response stays 200.
	rec, env := doGet(t, e, "/api/hypotheses/ab0e22f1-6c28-4d43-9c49-0f2e3a9d4b57")
	if rec.Code != http.StatusOK {
		t.Fatalf("outer code = %d, want 200", rec.Code)
	}
	if env.Status != http.StatusNotFound {
		t.Fatalf("inner status = %d, want 404", env.Status)
	}
	var appErrs []struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(env.Data, &appErrs); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(appErrs) != 1 || appErrs[0].Code != "ERR_NOT_FOUND" {
		t.Fatalf("app errors = %+v", appErrs)
	}
}

func TestHypothesisByIDRejectsMalformedID(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec, env := doGet(t, e, "/api/hypotheses/not-a-uuid")
	if rec.Code != http.StatusOK {
		t.Fatalf("outer code = %d, want 200", rec.Code)
	}
	if env.Status != http.StatusBadRequest {
		t.Fatalf("inner status = %d, want 400", env.Status)
	}
}

func TestBarsArchiveDisabled(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec, env := doGet(t, e, "/api/bars?symbol=BTCUSDT")
	if rec.Code != http.StatusOK {
		t.Fatalf("outer code = %d, want 200", rec.Code)
	}
	if env.Status != http.StatusServiceUnavailable {
		t.Fatalf("inner status = %d, want 503", env.Status)
	}
	var appErrs []struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(env.Data, &appErrs); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(appErrs) != 1 || appErrs[0].Code != "ARCHIVE_DISABLED" {
		t.Fatalf("app errors = %+v", appErrs)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e, _, mgr := newTestServer(t)
	restoreActive(t, mgr)

	rec, env := doGet(t, e, "/api/stats")
	if rec.Code != http.StatusOK || env.Status != http.StatusOK {
		t.Fatalf("outer=%d inner=%d", rec.Code, env.Status)
	}
	var stats struct {
		FeedConnected bool           `json:"feed_connected"`
		PoolSize      int            `json:"pool_size"`
		PoolCapacity  int            `json:"pool_capacity"`
		ByStatus      map[string]int `json:"by_status"`
	}
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !stats.FeedConnected {
		t.Error("feed_connected = false with a nil feed")
	}
	if stats.PoolSize != 1 || stats.PoolCapacity != 4 {
		t.Errorf("pool %d/%d, want 1/4", stats.PoolSize, stats.PoolCapacity)
	}
	if stats.ByStatus["ACTIVE"] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
}
