package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/service"
)

const (
	controlGranted = "GRANTED"
	controlDenied  = "DENIED"
)

// AccessDecider decides one scan. Satisfied by service.AccessService.
type AccessDecider interface {
	Decide(ctx context.Context, deviceID, tagID string) (service.Decision, error)
}

// AccessHandler handles scans posted by the physical gate devices.
type AccessHandler struct {
	accessSvc AccessDecider
	log       *zap.SugaredLogger
}

// NewAccessHandler creates a new access-control handler.
func NewAccessHandler(accessSvc AccessDecider, log *zap.SugaredLogger) *AccessHandler {
	return &AccessHandler{accessSvc: accessSvc, log: log}
}

// scanRequest is the payload a gate device posts on each tag read.
// Field names are part of the device firmware contract.
type scanRequest struct {
	DeviceID string `json:"deviceId"`
	TagID    string `json:"tagId"`
}

type scanResponseData struct {
	DeviceID string `json:"deviceId"`
	Control  string `json:"control"`
}

type scanResponse struct {
	Granted bool             `json:"granted"`
	Message string           `json:"message"`
	Data    scanResponseData `json:"data"`
}

// HandleScan handles POST /api/v1/access-control
//
// Every business outcome, including a denial, returns HTTP 200 so the
// devices never enter a retry storm. Only an infrastructure failure
// returns 500.
func (h *AccessHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// A malformed body is treated like an invalid scan, not a client error.
		writeJSON(w, http.StatusOK, deniedResponse(""))
		return
	}

	decision, err := h.accessSvc.Decide(r.Context(), req.DeviceID, req.TagID)
	if err != nil {
		h.log.Errorw("scan processing failed",
			"device_id", req.DeviceID, "tag_id", req.TagID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
		return
	}

	if !decision.Granted {
		resp := deniedResponse(req.DeviceID)
		if decision.Message != "" {
			resp.Message = decision.Message
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Granted: true,
		Message: decision.Message,
		Data: scanResponseData{
			DeviceID: req.DeviceID,
			Control:  controlGranted,
		},
	})
}

func deniedResponse(deviceID string) scanResponse {
	return scanResponse{
		Message: "Access denied",
		Data: scanResponseData{
			DeviceID: deviceID,
			Control:  controlDenied,
		},
	}
}
