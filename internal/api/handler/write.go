package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rewired-gh/restockoracle/internal/api/respond"
	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/feed"
	"github.com/rewired-gh/restockoracle/internal/logger"
)

type watchRequest struct {
	Name string `json:"name"`
}

type watchlistResponse struct {
	Items []string `json:"items"`
}

// GetWatchlist serves GET /api/v1/watchlist.
func (h *Handler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, watchlistResponse{Items: h.engine.GetWatchedItems()})
}

// AddToWatchlist serves POST /api/v1/watchlist with {"name": "..."}.
func (h *Handler) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Body must be a JSON object with a name", err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "name must not be empty")
		return
	}
	if err := h.engine.AddWatchedItem(r.Context(), name); err != nil {
		writeEngineError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, watchlistResponse{Items: h.engine.GetWatchedItems()})
}

// RemoveFromWatchlist serves DELETE /api/v1/watchlist/{name}.
func (h *Handler) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.RemoveWatchedItem(r.Context(), itemName(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !removed {
		respond.WriteError(w, http.StatusNotFound, "NOT_WATCHED", "Item is not on the watchlist")
		return
	}
	respond.WriteJSON(w, http.StatusOK, watchlistResponse{Items: h.engine.GetWatchedItems()})
}

type rejectedRecord struct {
	Stage string `json:"stage"` // "parse" or "ingest"
	Index int    `json:"index"`
	Error string `json:"error"`
}

type importResponse struct {
	engine.IngestResult
	Parsed        int              `json:"parsed"`
	ParseRejected int              `json:"parse_rejected"`
	RejectedList  []rejectedRecord `json:"rejected_records,omitempty"`
}

// ImportRestocks serves POST /api/v1/restocks with a canonical export body.
func (h *Handler) ImportRestocks(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxImportBytes)
	events, parseErrs, err := feed.ParseExport(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.WriteError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Import body is too large")
			return
		}
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_EXPORT", "Could not read export", err.Error())
		return
	}

	result, err := h.engine.Ingest(r.Context(), events)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "PERSIST_FAILED", "Events were ingested but not saved", err.Error())
		return
	}

	resp := importResponse{
		IngestResult:  result,
		Parsed:        len(events),
		ParseRejected: len(parseErrs),
	}
	for _, pe := range parseErrs {
		resp.RejectedList = append(resp.RejectedList, rejectedRecord{Stage: "parse", Index: pe.Index, Error: pe.Err.Error()})
	}
	for _, ie := range result.Errors {
		resp.RejectedList = append(resp.RejectedList, rejectedRecord{Stage: "ingest", Index: ie.Index, Error: ie.Err.Error()})
	}

	logger.Info("Imported %d events over HTTP (%d added, %d duplicates, %d rejected)",
		len(events), result.Added, result.Duplicates, result.Rejected+len(parseErrs))
	respond.WriteJSON(w, http.StatusOK, resp)
}

// ClearRestocks serves DELETE /api/v1/restocks?confirm=true.
func (h *Handler) ClearRestocks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		respond.WriteError(w, http.StatusBadRequest, "CONFIRM_REQUIRED", "Pass confirm=true to delete all restock data")
		return
	}
	if err := h.engine.ClearAllRestocks(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	logger.Warn("All restock data cleared over HTTP")
	w.WriteHeader(http.StatusNoContent)
}
