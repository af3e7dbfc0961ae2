package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"QuotePulse/internal/domain/models"
	"QuotePulse/internal/service/events"
	"QuotePulse/internal/service/monitor"
	"QuotePulse/internal/service/schedule"
	"QuotePulse/internal/usecase"
	"QuotePulse/pkg/logger"
)

// OpsHandler exposes the pipeline over HTTP: quote reads, freshness and
// quality introspection, alert management, and manual refresh triggers.
type OpsHandler struct {
	log     *logger.Logger
	quotes  *usecase.QuoteService
	monitor *monitor.Monitor
	events  *events.Service
	manager *schedule.Manager
	symbols []string
}

func NewOpsHandler(log *logger.Logger, quotes *usecase.QuoteService, mon *monitor.Monitor, evts *events.Service, mgr *schedule.Manager, symbols []string) *OpsHandler {
	return &OpsHandler{
		log:     log.Named("api"),
		quotes:  quotes,
		monitor: mon,
		events:  evts,
		manager: mgr,
		symbols: symbols,
	}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/v1")
	g.GET("/quotes/:symbol", h.GetQuote)
	g.GET("/portfolio", h.GetPortfolio)
	g.GET("/freshness/:symbol", h.GetFreshness)
	g.GET("/quality/:symbol", h.GetQuality)
	g.GET("/alerts", h.ListAlerts)
	g.POST("/alerts/:id/ack", h.AckAlert)
	g.GET("/status", h.GetStatus)
	g.POST("/refresh", h.TriggerRefresh)
	g.POST("/events", h.EmitEvent)
}

func (h *OpsHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetQuote serves a symbol cache-first and annotates the response with the
// cache's freshness metadata.
func (h *OpsHandler) GetQuote(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symbol is required")
	}

	q, meta, err := h.quotes.GetQuote(c.Request().Context(), symbol)
	if err != nil {
		h.log.Warn("quote lookup failed", logger.String("symbol", symbol), logger.Error(err))
		return echo.NewHTTPError(http.StatusNotFound, "no quote data available for "+symbol)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"quote": q,
		"cache": map[string]interface{}{
			"age_ms":          meta.AgeMs,
			"is_stale":        meta.IsStale,
			"freshness_score": meta.FreshnessScore,
		},
	})
}

// GetPortfolio serves ?symbols=AAPL,MSFT best-effort; defaults to the
// configured universe.
func (h *OpsHandler) GetPortfolio(c echo.Context) error {
	symbols := h.symbols
	if raw := c.QueryParam("symbols"); raw != "" {
		symbols = nil
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
	}
	quotes := h.quotes.GetPortfolio(c.Request().Context(), symbols)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"requested": len(symbols),
		"returned":  len(quotes),
		"quotes":    quotes,
	})
}

func (h *OpsHandler) GetFreshness(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	rec, ok := h.monitor.GetSymbolFreshness(symbol)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "symbol not monitored: "+symbol)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *OpsHandler) GetQuality(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	rec, ok := h.monitor.GetSymbolQuality(symbol)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "symbol not monitored: "+symbol)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *OpsHandler) ListAlerts(c echo.Context) error {
	alerts := h.monitor.GetActiveAlerts()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (h *OpsHandler) AckAlert(c echo.Context) error {
	id := c.Param("id")
	if !h.monitor.AcknowledgeAlert(id) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown alert: "+id)
	}
	return c.JSON(http.StatusOK, map[string]string{"acknowledged": id})
}

// GetStatus is the single-screen operational summary.
func (h *OpsHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cache":     h.quotes.Stats(),
		"events":    h.events.Status(),
		"scheduler": h.manager.GetStatus(),
		"sources":   h.quotes.CheckSourceHealth(c.Request().Context()),
	})
}

type refreshRequest struct {
	Symbols []string `json:"symbols"`
}

// TriggerRefresh forces a refresh of the given symbols, or the whole
// universe when the body is empty.
func (h *OpsHandler) TriggerRefresh(c echo.Context) error {
	req := new(refreshRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for i, s := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	h.manager.TriggerUpdate(c.Request().Context(), req.Symbols...)
	target := "all"
	if len(req.Symbols) > 0 {
		target = strings.Join(req.Symbols, ",")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"refreshing": target})
}

type emitRequest struct {
	Type     string                 `json:"type"`
	Symbol   string                 `json:"symbol,omitempty"`
	Priority string                 `json:"priority,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// EmitEvent injects an external market event, e.g. a news alert from an
// upstream system without Kafka access.
func (h *OpsHandler) EmitEvent(c echo.Context) error {
	req := new(emitRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type is required")
	}

	evt := models.MarketEvent{
		Type:      models.EventType(req.Type),
		Symbol:    strings.ToUpper(req.Symbol),
		Priority:  models.ParsePriority(req.Priority),
		Source:    "api",
		Data:      req.Data,
		Timestamp: time.Now(),
	}
	if err := h.events.Emit(evt); err != nil {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"accepted": req.Type})
}
