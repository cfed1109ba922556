package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotflow/iotflow-core/internal/status"
)

// deviceStatusResponse is the JSON shape for a single device's connectivity.
type deviceStatusResponse struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

// handleDeviceStatus returns the cached connectivity of one device.
//
// GET /api/v1/tenants/{tenantID}/devices/{deviceID}/status
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	resp := deviceStatusResponse{
		DeviceID: deviceID,
		Status:   string(status.StatusUnknown),
	}
	if s.status != nil {
		resp.Status = string(s.status.GetStatus(deviceID))
		if seen, ok := s.status.GetLastSeen(deviceID); ok {
			resp.LastSeen = seen.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// bulkStatusRequest asks for connectivity of a set of devices at once.
type bulkStatusRequest struct {
	DeviceIDs []string `json:"device_ids"`
}

// handleBulkDeviceStatus returns connectivity for many devices in one call,
// read under a single cache lock.
//
// POST /api/v1/tenants/{tenantID}/devices/status
func (s *Server) handleBulkDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeValidationError(w, "device_ids must not be empty")
		return
	}

	devices := make([]deviceStatusResponse, 0, len(req.DeviceIDs))
	if s.status == nil {
		for _, id := range req.DeviceIDs {
			devices = append(devices, deviceStatusResponse{
				DeviceID: id,
				Status:   string(status.StatusUnknown),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
		return
	}

	statuses := s.status.AllStatuses(req.DeviceIDs)
	lastSeen := s.status.AllLastSeen(req.DeviceIDs)
	for _, id := range req.DeviceIDs {
		d := deviceStatusResponse{DeviceID: id, Status: string(statuses[id])}
		if seen, ok := lastSeen[id]; ok {
			d.LastSeen = seen.UTC().Format(time.RFC3339)
		}
		devices = append(devices, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
