package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/scoutware/scanrelay/internal/relay"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/websocket"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// maxPayloadBytes bounds an ingest request body. Optical payloads are a few
// hundred bytes; anything near this limit is not a scan.
const maxPayloadBytes = 64 * 1024

// Handler implements the API endpoints
type Handler struct {
	relay    *relay.Service
	settings *settings.Service
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(relayService *relay.Service, settingsService *settings.Service, wsServer *websocket.Server, logger *logger.Logger) *Handler {
	return &Handler{
		relay:    relayService,
		settings: settingsService,
		wsServer: wsServer,
		logger:   logger.Named("api-handler"),
	}
}

// ingestRequest is the JSON body for scan ingestion.
type ingestRequest struct {
	Payload string `json:"payload"`
}

// commentRequest is the JSON body for a comment edit.
type commentRequest struct {
	Comment string `json:"comment"`
}

// scansResponse wraps a scan listing.
type scansResponse struct {
	Count int                `json:"count"`
	Scans []*scan.ScanRecord `json:"scans"`
}

// IngestScan accepts one decoded payload and runs it through the pipeline.
// The payload arrives either as JSON ({"payload": "..."}) or as the raw
// request body for plain-text producers.
func (h *Handler) IngestScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	text := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		text = req.Payload
	}

	result, err := h.relay.Ingest(text)
	if err != nil {
		if errors.Is(err, relay.ErrEmptyPayload) {
			h.respondError(w, http.StatusBadRequest, "empty payload")
			return
		}
		h.logger.Error("Ingest failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to ingest scan")
		return
	}

	if result.Duplicate != nil {
		h.respondJSON(w, http.StatusConflict, result)
		return
	}
	h.respondJSON(w, http.StatusCreated, result)
}

// GetAllScans returns the scan history, newest first.
func (h *Handler) GetAllScans(w http.ResponseWriter, r *http.Request) {
	scans := h.relay.List()
	h.respondJSON(w, http.StatusOK, scansResponse{Count: len(scans), Scans: scans})
}

// GetScanByID returns one scan record.
func (h *Handler) GetScanByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scanID(w, r)
	if !ok {
		return
	}

	rec, err := h.relay.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// ResendScan issues a fresh delivery attempt for one record, whatever its
// current status.
func (h *Handler) ResendScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scanID(w, r)
	if !ok {
		return
	}

	rec, err := h.relay.Resend(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "scan not found")
		return
	}
	h.respondJSON(w, http.StatusAccepted, rec)
}

// RetryScans re-dispatches every pending or failed record.
func (h *Handler) RetryScans(w http.ResponseWriter, r *http.Request) {
	count := h.relay.RetryAll()
	h.respondJSON(w, http.StatusAccepted, map[string]int{"retried": count})
}

// UpdateScanComment replaces the comment field of a parsed record.
func (h *Handler) UpdateScanComment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scanID(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := h.relay.EditComment(id, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "scan not found")
		case errors.Is(err, scan.ErrNoParsed):
			h.respondError(w, http.StatusConflict, "scan has no parsed fields to edit")
		default:
			h.logger.Error("Comment edit failed", logger.Error(err))
			h.respondError(w, http.StatusInternalServerError, "failed to update comment")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// ClearScans destroys the scan history. The caller must confirm explicitly;
// there is no undo.
func (h *Handler) ClearScans(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		h.respondError(w, http.StatusBadRequest, "clearing the scan history requires confirm=true")
		return
	}
	removed := h.relay.ClearAll()
	h.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// GetSettings returns the current operator settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.settings.Current())
}

// UpdateSettings validates and applies new operator settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.settings.Update(next); err != nil {
		if errors.Is(err, settings.ErrInvalidEndpoint) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Settings update failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	h.respondJSON(w, http.StatusOK, h.settings.Current())
}

// GetHealth reports service liveness.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"scans":  len(h.relay.List()),
	})
}

// HandleWebSocket upgrades the connection and attaches it to the status
// feed.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// scanID parses the {id} route parameter, writing a 400 on garbage.
func (h *Handler) scanID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid scan id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
