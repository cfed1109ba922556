package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iotflow/iotflow-core/internal/telemetry"
)

// writeTelemetryRequest is the JSON body for POST telemetry. It matches the
// envelope devices publish over MQTT so clients can use either path.
type writeTelemetryRequest struct {
	Measurements map[string]any `json:"measurements"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	DeviceType   string         `json:"device_type,omitempty"`
	Timestamp    any            `json:"timestamp,omitempty"`
}

// handleWriteTelemetry stores one telemetry point for a device.
//
// POST /api/v1/tenants/{tenantID}/devices/{deviceID}/telemetry
func (s *Server) handleWriteTelemetry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	var req writeTelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Measurements) == 0 {
		writeValidationError(w, "measurements must not be empty")
		return
	}

	ts, err := telemetry.ParseDeviceTimestamp(req.Timestamp)
	if err != nil {
		writeValidationError(w, "invalid timestamp: "+err.Error())
		return
	}

	written := s.telemetry.Write(r.Context(), deviceID, tenantID, req.DeviceType,
		req.Measurements, req.Metadata, ts)
	if !written {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"telemetry storage unavailable")
		return
	}

	if s.status != nil {
		s.status.UpdateLastSeen(r.Context(), deviceID, ts)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"written": true})
}

// handleQueryTelemetry returns a page of records for a device, newest first.
//
// GET /api/v1/tenants/{tenantID}/devices/{deviceID}/telemetry
//
// Query parameters: measurement, start, end, limit, page.
// start and end accept relative shorthand ("-6h", "-7d"), ISO-8601, or epoch.
func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	q := telemetry.QueryDescriptor{
		TenantID:    chi.URLParam(r, "tenantID"),
		DeviceID:    chi.URLParam(r, "deviceID"),
		Measurement: r.URL.Query().Get("measurement"),
		Start:       r.URL.Query().Get("start"),
		End:         r.URL.Query().Get("end"),
		Limit:       queryInt(r, "limit"),
		Page:        queryInt(r, "page"),
	}

	result, err := s.telemetry.Query(r.Context(), q)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTenantTelemetry returns a page of records across all of a tenant's
// devices.
//
// GET /api/v1/tenants/{tenantID}/telemetry
func (s *Server) handleTenantTelemetry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	q := telemetry.QueryDescriptor{
		Measurement: r.URL.Query().Get("measurement"),
		Start:       r.URL.Query().Get("start"),
		End:         r.URL.Query().Get("end"),
		Limit:       queryInt(r, "limit"),
		Page:        queryInt(r, "page"),
	}

	result, err := s.telemetry.QueryTenant(r.Context(), tenantID, q)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLatestTelemetry returns the newest record for a device.
//
// GET /api/v1/tenants/{tenantID}/devices/{deviceID}/telemetry/latest
func (s *Server) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	rec := s.telemetry.Latest(r.Context(), deviceID, tenantID)
	if rec == nil {
		writeNotFound(w, "no telemetry for device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAggregateTelemetry applies an aggregation function to one measurement.
//
// GET /api/v1/tenants/{tenantID}/devices/{deviceID}/telemetry/aggregate
//
// Query parameters: measurement (required), fn (avg|sum|min|max|count),
// start, end.
func (s *Server) handleAggregateTelemetry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	measurement := r.URL.Query().Get("measurement")
	if measurement == "" {
		writeValidationError(w, "measurement is required")
		return
	}
	fn := telemetry.AggFunc(r.URL.Query().Get("fn"))

	result, err := s.telemetry.Aggregate(r.Context(), deviceID, tenantID, measurement, fn,
		r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	switch {
	case errors.Is(err, telemetry.ErrInvalidAggregation):
		writeValidationError(w, "unsupported aggregation function: "+string(fn))
		return
	case err != nil:
		writeValidationError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteTelemetry removes a device's telemetry within the given bounds.
//
// DELETE /api/v1/tenants/{tenantID}/devices/{deviceID}/telemetry
//
// Query parameters: start, end. Missing end means "up to now".
func (s *Server) handleDeleteTelemetry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	deleted, err := s.telemetry.DeleteRange(r.Context(), deviceID, tenantID,
		r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"telemetry storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// queryInt parses an integer query parameter, returning 0 when absent or
// malformed. The service clamps pagination values itself.
func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
