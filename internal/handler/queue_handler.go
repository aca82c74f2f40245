package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/model"
	"github.com/obi/parkgate/internal/repository"
)

// QueueHandler serves the read-only queue surface for dashboards.
// Queue rows are engine-owned; there is no write endpoint.
type QueueHandler struct {
	queues *repository.QueueRepository
	log    *zap.SugaredLogger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queues *repository.QueueRepository, log *zap.SugaredLogger) *QueueHandler {
	return &QueueHandler{queues: queues, log: log}
}

// ListQueues handles GET /api/v1/queues
func (h *QueueHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queues.ListAll(r.Context())
	if err != nil {
		h.log.Errorw("list queues failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetQueue handles GET /api/v1/queues/{vehicle_id}
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := strconv.ParseInt(mux.Vars(r)["vehicle_id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid vehicle_id: must be an integer",
		})
		return
	}

	entry, err := h.queues.Find(r.Context(), vehicleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No active queue entry for this vehicle.",
		})
		return
	}
	if err != nil {
		h.log.Errorw("get queue failed", "vehicle_id", vehicleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListQueuesByLocation handles GET /api/v1/queues/location/{location}
func (h *QueueHandler) ListQueuesByLocation(w http.ResponseWriter, r *http.Request) {
	location := model.QueueLocation(mux.Vars(r)["location"])
	if !location.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid location: must be one of Parking, RowCall, Loading, Exit",
		})
		return
	}

	entries, err := h.queues.ListByLocation(r.Context(), location)
	if err != nil {
		h.log.Errorw("list queues by location failed", "location", location, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CountQueuesByLocation handles GET /api/v1/queues/count/location/{location}
func (h *QueueHandler) CountQueuesByLocation(w http.ResponseWriter, r *http.Request) {
	location := model.QueueLocation(mux.Vars(r)["location"])
	if !location.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid location: must be one of Parking, RowCall, Loading, Exit",
		})
		return
	}

	count, err := h.queues.CountByLocation(r.Context(), location)
	if err != nil {
		h.log.Errorw("count queues failed", "location", location, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// QueueOverview handles GET /api/v1/queues/overview
func (h *QueueHandler) QueueOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.queues.Overview(r.Context())
	if err != nil {
		h.log.Errorw("queue overview failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
