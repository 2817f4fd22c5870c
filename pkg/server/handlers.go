// Package server implements the HTTP API: ping ingestion, congestion
// queries, liveness/health, and the live websocket feed.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pingmesh/pingmesh/pkg/config"
	"github.com/pingmesh/pingmesh/pkg/congestion"
	"github.com/pingmesh/pingmesh/pkg/hexgrid"
	"github.com/pingmesh/pingmesh/pkg/httpx"
	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/queue"
	"github.com/pingmesh/pingmesh/pkg/storage"
)

var startTime = time.Now()

// Handler serves the ingestion and query endpoints. The queue and
// store are process-wide, initialized once at startup and shared
// read-only by every request.
type Handler struct {
	queue queue.Queue
	store storage.Storage
	cfg   *config.Config

	// now is swappable for tests; nil means time.Now.
	now func() time.Time
}

// NewHandler creates a Handler over the given backends.
func NewHandler(q queue.Queue, store storage.Storage, cfg *config.Config) *Handler {
	return &Handler{queue: q, store: store, cfg: cfg}
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}

// HandleRoot is the bare liveness check.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	TotalRecords uint64    `json:"total_records"`
	TotalCells   uint64    `json:"total_cells"`
	OldestRecord time.Time `json:"oldest_record,omitempty"`
	NewestRecord time.Time `json:"newest_record,omitempty"`
}

// HandleHealth reports uptime and storage statistics.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Uptime:       time.Since(startTime).String(),
		TotalRecords: stats.TotalRecords,
		TotalCells:   stats.TotalCells,
		OldestRecord: stats.OldestRecord,
		NewestRecord: stats.NewestRecord,
	})
}

// PingResponse is the 202 body for an accepted ping.
type PingResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// HandlePing accepts a location ping and enqueues it. Ingestion is
// fire-and-forget: a 202 only means the ping is durably queued, not
// that it will survive validation downstream.
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	var raw ping.RawPing
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httpx.RespondDetail(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}

	// Clients never set accepted_at; the ingestion boundary owns it.
	raw.AcceptedAt = nil
	if err := raw.Validate(); err != nil {
		httpx.RespondDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	accepted := h.clock()
	raw.AcceptedAt = &accepted

	body, err := ping.EncodeRaw(raw)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), body)
	if err != nil {
		httpx.RespondDetail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	httpx.RespondJSON(w, http.StatusAccepted, PingResponse{Status: "accepted", MessageID: id})
}

// CellCongestion is one per-cell entry in a flat congestion response.
type CellCongestion struct {
	H3Hex       string `json:"h3_hex"`
	DeviceCount int    `json:"device_count"`
}

// GroupedCongestion is one parent-cell entry in a grouped response.
type GroupedCongestion struct {
	H3Hex          string `json:"h3_hex"`
	DeviceCount    int    `json:"device_count"`
	ActiveHexCount int    `json:"active_hex_count"`
	TotalHexCount  int    `json:"total_hex_count"`
}

// HandleCongestion serves congestion aggregates over the recent window.
// Spatial filter: an explicit h3_hex, or a lat/lon pair indexed to a
// cell; neither means a full scan. A resolution parameter switches the
// response from per-cell counts to the grouped roll-up.
func (h *Handler) HandleCongestion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hexParam := q.Get("h3_hex")
	latParam := q.Get("lat")
	lonParam := q.Get("lon")
	resParam := q.Get("resolution")

	if hexParam != "" && (latParam != "" || lonParam != "") {
		httpx.RespondDetail(w, http.StatusBadRequest, "Cannot specify both h3_hex and lat/lon")
		return
	}
	if (latParam == "") != (lonParam == "") {
		httpx.RespondDetail(w, http.StatusBadRequest, "Must specify both lat and lon")
		return
	}

	targetResolution := -1
	if resParam != "" {
		res, err := parseIntParam(resParam)
		if err != nil || res < hexgrid.MinResolution || res > hexgrid.MaxResolution {
			httpx.RespondDetail(w, http.StatusBadRequest, "resolution must be an integer in [0,15]")
			return
		}
		targetResolution = res
	}

	cellFilter := hexParam
	if latParam != "" {
		lat, err := parseFloatParam(latParam)
		if err != nil {
			httpx.RespondDetail(w, http.StatusBadRequest, "lat must be a number")
			return
		}
		lon, err := parseFloatParam(lonParam)
		if err != nil {
			httpx.RespondDetail(w, http.StatusBadRequest, "lon must be a number")
			return
		}

		filterResolution := h.cfg.DefaultResolution
		if targetResolution >= 0 {
			filterResolution = targetResolution
		}
		cell, err := hexgrid.CellFromCoords(lat, lon, filterResolution)
		if err != nil {
			httpx.RespondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		cellFilter = cell
	}

	since := h.clock().Add(-h.cfg.CongestionWindow)

	var records []ping.Record
	var err error
	if cellFilter != "" {
		records, err = h.store.QueryCell(r.Context(), cellFilter, since)
	} else {
		records, err = h.store.ScanSince(r.Context(), since)
	}
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if targetResolution < 0 {
		counts := congestion.DeviceCongestion(records)
		items := make([]CellCongestion, 0, len(counts))
		for cell, count := range counts {
			items = append(items, CellCongestion{H3Hex: cell, DeviceCount: count})
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"congestion": items})
		return
	}

	groups, err := congestion.GroupCongestion(records, targetResolution)
	if err != nil {
		httpx.RespondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	items := make([]GroupedCongestion, 0, len(groups))
	for parent, stats := range groups {
		items = append(items, GroupedCongestion{
			H3Hex:          parent,
			DeviceCount:    stats.DeviceCount,
			ActiveHexCount: stats.ActiveHexCount,
			TotalHexCount:  stats.TotalHexCount,
		})
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"congestion": items})
}

func parseIntParam(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseFloatParam(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
