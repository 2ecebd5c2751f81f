// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the engine directly; there is no service layer.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rewired-gh/restockoracle/internal/api/respond"
	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// MaxImportBytes bounds the body of a restock import.
const MaxImportBytes = 16 << 20

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	engine  *engine.Engine
	backend string
	now     func() time.Time
}

// New creates a Handler. backend names the storage backend for /health.
func New(eng *engine.Engine, backend string) *Handler {
	return &Handler{engine: eng, backend: backend, now: time.Now}
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	summary := h.engine.GetSummaryStats()
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"storage":   h.backend,
		"events":    summary.TotalEvents,
		"items":     summary.UniqueItems,
	})
}

// GetSummary serves GET /api/v1/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.engine.GetSummaryStats())
}

// GetTopItems serves GET /api/v1/items/top?limit=N.
func (h *Handler) GetTopItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", raw)
			return
		}
		limit = n
	}
	respond.WriteJSON(w, http.StatusOK, h.engine.GetTopLikelyItems(limit))
}

// GetItemStats serves GET /api/v1/items/{name}/stats.
func (h *Handler) GetItemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetDetailedPredictionStats(itemName(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}

type predictionResponse struct {
	Item    string                       `json:"item"`
	Dual    models.DualPrediction        `json:"dual"`
	Windows models.WindowBasedPrediction `json:"windows"`
}

// GetItemPrediction serves GET /api/v1/items/{name}/prediction.
func (h *Handler) GetItemPrediction(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	dual, err := h.engine.GetDualPrediction(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	windows, err := h.engine.GetItemWindows(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, predictionResponse{Item: name, Dual: dual, Windows: windows})
}

type historyResponse struct {
	Item    string                    `json:"item"`
	Active  *models.ActivePrediction  `json:"active,omitempty"`
	History []models.PredictionRecord `json:"history"`
}

// GetItemHistory serves GET /api/v1/items/{name}/history.
func (h *Handler) GetItemHistory(w http.ResponseWriter, r *http.Request) {
	name := itemName(r)
	resp := historyResponse{Item: name, History: h.engine.PredictionHistory(name)}
	if resp.History == nil {
		resp.History = []models.PredictionRecord{}
	}
	if active, ok := h.engine.ActivePrediction(name); ok {
		resp.Active = &active
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// GetWindows serves GET /api/v1/windows.
func (h *Handler) GetWindows(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.engine.GetWindowPredictions())
}

// GetAlerts serves GET /api/v1/alerts.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.engine.GetCurrentMonitoringAlerts())
}

func itemName(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "name"))
}

func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrUnknownItem) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "UNKNOWN_ITEM", "Item has no recorded restocks", err.Error())
		return
	}
	respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "Internal error", err.Error())
}
