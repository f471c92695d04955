package api

import (
	"fmt"
	"net/http"
	"time"

	models "EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
	"EdgeLab/internal/service/ratelimit"
	"EdgeLab/internal/usecase"
	pkgcache "EdgeLab/pkg/cache"
	xhttp "EdgeLab/pkg/http"
	xlogger "EdgeLab/pkg/logger"

	"github.com/labstack/echo/v4"
)

var errRateLimited = xhttp.NewAppError("RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests)

// HypothesesHandler is the read-only query surface over the live engine:
// ranked pool, hypothesis listings, transition history and the bar archive.
type HypothesesHandler struct {
	log  *xlogger.Logger
	mgr  *usecase.LifecycleManager
	eng  *usecase.Engine
	eval *usecase.Evaluator

	store    domrepo.HypothesisStore
	obsStore domrepo.ObservationStore

	cache    pkgcache.Service
	cacheTTL time.Duration

	rl         *ratelimit.Limiter
	rlCapacity float64
	rlRefill   float64
}

var _ xhttp.Handler = (*HypothesesHandler)(nil)

func NewHypothesesHandler(log *xlogger.Logger, mgr *usecase.LifecycleManager, eng *usecase.Engine, eval *usecase.Evaluator) *HypothesesHandler {
	return &HypothesesHandler{log: log, mgr: mgr, eng: eng, eval: eval}
}

// SetStores wires optional persistence backends. Either may be nil; the
// handler then serves from in-memory state only.
func (h *HypothesesHandler) SetStores(store domrepo.HypothesisStore, obs domrepo.ObservationStore) {
	h.store = store
	h.obsStore = obs
}

// SetCache wires the response cache. Layered Redis/memory in full
// deployments, memory only otherwise.
func (h *HypothesesHandler) SetCache(c pkgcache.Service, ttl time.Duration) {
	h.cache = c
	h.cacheTTL = ttl
}

func (h *HypothesesHandler) SetRateLimit(l *ratelimit.Limiter, capacity, refillPerSec float64) {
	h.rl = l
	h.rlCapacity = capacity
	h.rlRefill = refillPerSec
}

func (h *HypothesesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/pool", h.Pool)
	g.GET("/hypotheses", h.Hypotheses)
	g.GET("/hypotheses/:id", h.HypothesisByID)
	g.GET("/hypotheses/:id/transitions", h.Transitions)
	g.GET("/stats", h.Stats)
	g.GET("/bars", h.Bars)
}

func (h *HypothesesHandler) Health(c echo.Context) error {
	status := "ok"
	if !h.eng.IsConnected() {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         status,
		"feed_connected": h.eng.IsConnected(),
	})
}

func (h *HypothesesHandler) Pool(c echo.Context) error {
	req := &models.PoolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "pool") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	key := fmt.Sprintf("pool:%d", req.Limit)
	var cached []poolEntryView
	if h.cacheGet(c, key, &cached) {
		return xhttp.SuccessResponse(c, cached)
	}
	entries := h.mgr.Pool().Rank()
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]poolEntryView, 0, len(entries))
	for i, e := range entries {
		out = append(out, poolEntryView{
			Rank:       i + 1,
			Score:      e.Score,
			Hypothesis: newHypothesisView(e.Hypothesis),
		})
	}
	h.cacheSet(c, key, out)
	return xhttp.SuccessResponse(c, out)
}

func (h *HypothesesHandler) Hypotheses(c echo.Context) error {
	req := &models.HypothesesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "hypotheses") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	hyps := h.mgr.List(models.Status(req.Status), req.Symbol, req.Limit)
	out := make([]hypothesisView, 0, len(hyps))
	for i := range hyps {
		out = append(out, newHypothesisView(hyps[i]))
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *HypothesesHandler) HypothesisByID(c echo.Context) error {
	req := &models.HypothesisByIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "hypotheses") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	hyp, ok := h.mgr.GetByID(req.ID)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("hypothesis %s not found", req.ID))
	}
	return xhttp.SuccessResponse(c, newHypothesisView(hyp))
}

// Transitions serves the durable log when a store is wired and falls back to
// the in-memory ring, which only holds the most recent events.
func (h *HypothesesHandler) Transitions(c echo.Context) error {
	req := &models.TransitionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "transitions") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	if h.store != nil {
		evs, err := h.store.Transitions(c.Request().Context(), req.ID, req.Limit)
		if err == nil {
			out := make([]transitionView, 0, len(evs))
			for _, ev := range evs {
				out = append(out, newTransitionView(*ev))
			}
			return xhttp.ListResponse(c, out, int64(len(out)))
		}
		h.log.Warn("transitions store query failed, serving ring", xlogger.Error(err))
	}
	evs := h.mgr.RecentTransitions(req.ID, req.Limit)
	out := make([]transitionView, 0, len(evs))
	for _, ev := range evs {
		out = append(out, newTransitionView(ev))
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *HypothesesHandler) Stats(c echo.Context) error {
	if !h.allow(c, "stats") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	counts := h.mgr.Counts()
	byStatus := make(map[string]int, len(counts))
	for st, n := range counts {
		byStatus[string(st)] = n
	}
	return xhttp.SuccessResponse(c, statsView{
		FeedConnected:      h.eng.IsConnected(),
		Observations:       h.eng.Observations(),
		StaleDropped:       h.eng.StaleDropped(),
		Admitted:           h.eng.Admitted(),
		Suppressed:         h.eng.Suppressed(),
		Duplicates:         h.mgr.Duplicates(),
		DroppedEvents:      h.mgr.DroppedEvents(),
		PendingEvaluations: h.eval.PendingCount(),
		PoolSize:           h.mgr.Pool().Size(),
		PoolCapacity:       h.mgr.Pool().Capacity(),
		ByStatus:           byStatus,
	})
}

func (h *HypothesesHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.obsStore == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ARCHIVE_DISABLED", "", "bar archive is not enabled", http.StatusServiceUnavailable))
	}
	if !h.allow(c, "bars") {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}
	key := fmt.Sprintf("bars:%s:%s:%s:%d", req.Symbol, req.From, req.To, req.Limit)
	var cached []barView
	if h.cacheGet(c, key, &cached) {
		return xhttp.ListResponse(c, cached, int64(len(cached)))
	}
	from := xhttp.ParseTimeDefault(req.From, time.Time{}).UTC()
	to := xhttp.ParseTimeDefault(req.To, time.Now()).UTC()
	obs, err := h.obsStore.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.log.Error("bars query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	out := make([]barView, 0, len(obs))
	for _, o := range obs {
		out = append(out, barView{
			Symbol:    o.Symbol,
			Timestamp: o.Timestamp,
			Open:      o.Open,
			High:      o.High,
			Low:       o.Low,
			Close:     o.Close,
			Volume:    o.Volume,
		})
	}
	h.cacheSet(c, key, out)
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *HypothesesHandler) allow(c echo.Context, endpoint string) bool {
	if h.rl == nil {
		return true
	}
	if h.rl.Allow(c.RealIP()+":"+endpoint, h.rlCapacity, h.rlRefill) {
		return true
	}
	h.log.Warn("api rate_limited",
		xlogger.String("endpoint", endpoint),
		xlogger.String("remote", c.RealIP()))
	return false
}

func (h *HypothesesHandler) cacheGet(c echo.Context, key string, dest interface{}) bool {
	if h.cache == nil {
		return false
	}
	return h.cache.Get(c.Request().Context(), key, dest) == nil
}

// cacheSet drops entries on error. A broken cache degrades to recomputing
// responses, never to failing them.
func (h *HypothesesHandler) cacheSet(c echo.Context, key string, v interface{}) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(c.Request().Context(), key, v, h.cacheTTL); err != nil {
		h.log.Debug("response cache set failed", xlogger.Error(err))
	}
}
