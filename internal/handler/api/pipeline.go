package api

import (
	"github.com/labstack/echo/v4"

	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/cache"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

const defaultAlertsLimit = 50

// PipelineHandler exposes the ops surface of the pipeline: health,
// stats, alerts, cached snapshots and on-demand aggregation.
type PipelineHandler struct {
	logger *xlogger.Logger
	orch   *usecase.Orchestrator
	agg    *usecase.Aggregator
	mem    *cache.MemoryCache
}

func NewPipelineHandler(logger *xlogger.Logger, orch *usecase.Orchestrator, agg *usecase.Aggregator, mem *cache.MemoryCache) *PipelineHandler {
	return &PipelineHandler{logger: logger, orch: orch, agg: agg, mem: mem}
}

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/stats", h.Stats)
	g.GET("/alerts", h.Alerts)
	g.DELETE("/alerts", h.ClearAlerts)
	g.GET("/snapshot/:symbol", h.Snapshot)
	g.POST("/aggregate", h.Aggregate)
	g.POST("/subscribe", h.Subscribe)
	g.POST("/unsubscribe", h.Unsubscribe)
	g.GET("/cache/export", h.CacheExport)
}

// HealthResponse reports the transport state and connection quality.
type HealthResponse struct {
	State      string                 `json:"state"`
	Connection interface{}            `json:"connection"`
	Sources    []usecase.SourceStatus `json:"sources"`
}

func (h *PipelineHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, HealthResponse{
		State:      string(h.orch.State()),
		Connection: h.orch.ConnectionMetrics(),
		Sources:    h.agg.Stats(),
	})
}

// StatsResponse bundles pipeline and cache counters.
type StatsResponse struct {
	Pipeline interface{} `json:"pipeline"`
	Cache    cache.Stats `json:"cache"`
}

func (h *PipelineHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, StatsResponse{
		Pipeline: h.orch.PipelineSnapshot(),
		Cache:    h.mem.Stats(),
	})
}

func (h *PipelineHandler) Alerts(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), defaultAlertsLimit)
	alerts := h.orch.Alerts()
	total := int64(len(alerts))
	if limit > 0 && len(alerts) > limit {
		// Newest entries are at the tail of the ring.
		alerts = alerts[len(alerts)-limit:]
	}
	return xhttp.ListResponse(c, alerts, total)
}

func (h *PipelineHandler) ClearAlerts(c echo.Context) error {
	h.orch.ClearAlerts()
	return xhttp.NoContentResponse(c)
}

func (h *PipelineHandler) Snapshot(c echo.Context) error {
	symbol := c.Param("symbol")
	snap, ok := h.orch.GetCachedData(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no cached data for %s", symbol))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"snapshot": snap,
		"buffer":   h.orch.MultiSourceSnapshots(symbol),
	})
}

// AggregateRequest asks for an on-demand multi-source fetch.
type AggregateRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

func (h *PipelineHandler) Aggregate(c echo.Context) error {
	req := &AggregateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.orch.Aggregate(c.Request().Context(), req.Symbol)
	if err != nil {
		h.logger.Error("aggregate error",
			xlogger.String("symbol", req.Symbol),
			xlogger.Error(err),
		)
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("aggregation failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

// SubscriptionRequest names the symbols to track on the stream.
type SubscriptionRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,dive,required"`
}

func (h *PipelineHandler) Subscribe(c echo.Context) error {
	req := &SubscriptionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.orch.Subscribe(c.Request().Context(), req.Symbols...); err != nil {
		h.logger.Error("subscribe error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("subscribe failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"symbols": req.Symbols})
}

func (h *PipelineHandler) Unsubscribe(c echo.Context) error {
	req := &SubscriptionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.orch.Unsubscribe(c.Request().Context(), req.Symbols...); err != nil {
		h.logger.Error("unsubscribe error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("unsubscribe failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"symbols": req.Symbols})
}

func (h *PipelineHandler) CacheExport(c echo.Context) error {
	entries := h.mem.Export()
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}
