package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/model"
	"github.com/obi/parkgate/internal/repository"
)

// defaultActivityLimit bounds the audit listing when the caller does
// not ask for a specific page size.
const defaultActivityLimit = 100

// ActivityHandler serves the audit trail of state transitions.
type ActivityHandler struct {
	activities *repository.ActivityRepository
	log        *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(activities *repository.ActivityRepository, log *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{activities: activities, log: log}
}

// ListActivities handles GET /api/v1/activities?limit=N (newest first).
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid limit: must be a positive integer",
			})
			return
		}
		limit = n
	}

	activities, err := h.activities.ListRecent(r.Context(), limit)
	if err != nil {
		h.log.Errorw("list activities failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if activities == nil {
		activities = []model.ParkActivity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

// CountActivities handles GET /api/v1/activities/count
func (h *ActivityHandler) CountActivities(w http.ResponseWriter, r *http.Request) {
	count, err := h.activities.Count(r.Context())
	if err != nil {
		h.log.Errorw("count activities failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}
