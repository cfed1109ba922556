package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Pagination bounds. Limits are clamped, never rejected.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Logger is the logging interface used by the Service.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives instrumentation events from the service.
// The metrics package provides a Prometheus-backed implementation.
type Recorder interface {
	RecordWrite(ok bool)
	RecordQuery()
	RecordAggregate()
}

type noopRecorder struct{}

func (noopRecorder) RecordWrite(bool)  {}
func (noopRecorder) RecordQuery()     {}
func (noopRecorder) RecordAggregate() {}

// QueryDescriptor describes a paginated telemetry query.
//
// Start and End are timestamp expressions (relative shorthand, ISO-8601 or
// epoch); empty means no bound on that side. Page is 1-based.
type QueryDescriptor struct {
	DeviceID    string
	TenantID    string
	Measurement string
	Start       string
	End         string
	Limit       int
	Page        int
}

// QueryResult is a page of normalized telemetry records.
type QueryResult struct {
	Records []Record `json:"records"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Pages   int      `json:"pages"`

	// Available is false when the backend could not be reached and the
	// result is the well-formed empty response rather than real data.
	Available bool `json:"available"`
}

// AggregateResult carries an aggregation value and the matching cardinality.
type AggregateResult struct {
	// Value is nil when no rows matched or the backend was unavailable.
	Value       *float64 `json:"value"`
	Count       int64    `json:"count"`
	Aggregation AggFunc  `json:"aggregation"`
	Measurement string   `json:"measurement"`
	Available   bool     `json:"available"`
}

// Config contains service-level telemetry settings.
type Config struct {
	// Namespace roots all storage paths.
	Namespace Namespace

	// Passthrough enables the deterministic CI mode: with the backend
	// unavailable, writes report success and reads return empty results so
	// callers exercise their success paths without a live store.
	Passthrough bool
}

// Service implements the telemetry library contract on top of a Backend.
//
// It owns value-type mapping, namespace resolution, time parsing, pagination
// and aggregation, and the degraded-mode behaviour: storage unavailability is
// converted into soft results (false writes, empty reads) and never surfaces
// as an error. Validation problems always do.
//
// All methods are safe for concurrent use.
type Service struct {
	backend  Backend
	ns       Namespace
	passthru bool
	logger   Logger
	recorder Recorder
}

// NewService creates a telemetry service over the given backend.
func NewService(backend Backend, cfg Config) *Service {
	return &Service{
		backend:  backend,
		ns:       cfg.Namespace,
		passthru: cfg.Passthrough,
		logger:   noopLogger{},
		recorder: noopRecorder{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) { s.logger = logger }

// SetRecorder sets the instrumentation sink for the service.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Available reports whether the storage backend is reachable.
func (s *Service) Available() bool { return s.backend.Available() }

// Write stores one telemetry point for a device.
//
// Each measurement and metadata entry becomes its own series under the
// device path; metadata keys carry the reserved prefix. Series are declared
// idempotently first: "already exists" is swallowed, any other declaration
// failure is logged and the point write proceeds anyway. The return value
// reflects only the point write itself.
//
// A zero ts means "now". Returns false, never an error, when the backend is
// unavailable (true in passthrough mode).
func (s *Service) Write(ctx context.Context, deviceID, tenantID, deviceType string, measurements, metadata map[string]any, ts time.Time) bool {
	if !s.backend.Available() {
		if s.passthru {
			s.logger.Debug("backend disabled, passthrough write", "device_id", deviceID)
			s.recorder.RecordWrite(true)
			return true
		}
		s.logger.Warn("telemetry backend unavailable, dropping write", "device_id", deviceID)
		s.recorder.RecordWrite(false)
		return false
	}

	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	path := s.ns.DevicePath(tenantID, deviceID)

	fields := make(map[string]Value, len(measurements)+len(metadata)+2)
	for name, raw := range measurements {
		fields[sanitizeComponent(name)] = ValueOf(raw)
	}
	meta := make(map[string]any, len(metadata)+2)
	for name, raw := range metadata {
		meta[name] = raw
	}
	if deviceType != "" {
		meta["device_type"] = deviceType
	}
	meta["tenant_id"] = tenantID
	for name, raw := range meta {
		fields[MetadataPrefix+sanitizeComponent(name)] = ValueOf(raw)
	}

	for name, value := range fields {
		err := s.backend.DeclareSeries(ctx, path, name, value.Kind)
		switch {
		case err == nil, errors.Is(err, ErrSeriesExists):
			// Declared now or previously; either way the series is usable.
		default:
			s.logger.Warn("series declaration failed",
				"device_id", deviceID, "measurement", name, "error", err)
		}
	}

	if err := s.backend.WritePoint(ctx, path, ts, fields); err != nil {
		s.logger.Error("telemetry write failed", "device_id", deviceID, "error", err)
		s.recorder.RecordWrite(false)
		return false
	}

	s.logger.Debug("telemetry written",
		"device_id", deviceID, "tenant_id", tenantID, "fields", len(fields))
	s.recorder.RecordWrite(true)
	return true
}

// Query returns a page of telemetry records for a device, newest first.
//
// Pagination issues two backend calls, one for the row slice and one for
// the total count; the backend does not guarantee the pair atomically.
// Returns an error only for validation failures; backend trouble yields the
// well-formed empty result with Available=false.
func (s *Service) Query(ctx context.Context, q QueryDescriptor) (QueryResult, error) {
	limit, page := clampPagination(q.Limit, q.Page)
	empty := QueryResult{Records: []Record{}, Page: page, Available: s.passthru}

	tr, err := s.parseRange(q.Start, q.End)
	if err != nil {
		return empty, err
	}

	if !s.backend.Available() {
		s.logger.Warn("telemetry backend unavailable, returning empty query result",
			"device_id", q.DeviceID)
		return empty, nil
	}
	s.recorder.RecordQuery()

	path := s.ns.DevicePath(q.TenantID, q.DeviceID)
	rows, err := s.backend.QueryRange(ctx, path, RangeQuery{
		Measurement: q.Measurement,
		Range:       tr,
		Limit:       limit,
		Offset:      (page - 1) * limit,
	})
	if err != nil {
		s.logger.Error("telemetry query failed", "device_id", q.DeviceID, "error", err)
		return empty, nil
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, NormalizeRow(row, q.DeviceID))
	}

	total, err := s.backend.Count(ctx, path, q.Measurement, tr)
	if err != nil {
		// Degrade to what we can see rather than failing the page.
		s.logger.Warn("telemetry count failed", "device_id", q.DeviceID, "error", err)
		total = int64(len(records))
	}

	return QueryResult{
		Records:   records,
		Total:     total,
		Page:      page,
		Pages:     pageCount(total, limit),
		Available: true,
	}, nil
}

// QueryTenant returns a page of records across every device of a tenant.
// Result records carry the device id recovered from each row's series paths.
func (s *Service) QueryTenant(ctx context.Context, tenantID string, q QueryDescriptor) (QueryResult, error) {
	q.TenantID = tenantID
	limit, page := clampPagination(q.Limit, q.Page)
	empty := QueryResult{Records: []Record{}, Page: page, Available: s.passthru}

	tr, err := s.parseRange(q.Start, q.End)
	if err != nil {
		return empty, err
	}

	if !s.backend.Available() {
		s.logger.Warn("telemetry backend unavailable, returning empty tenant result",
			"tenant_id", tenantID)
		return empty, nil
	}
	s.recorder.RecordQuery()

	path := s.ns.TenantPath(tenantID)
	rows, err := s.backend.QueryRange(ctx, path, RangeQuery{
		Measurement: q.Measurement,
		Range:       tr,
		Limit:       limit,
		Offset:      (page - 1) * limit,
	})
	if err != nil {
		s.logger.Error("tenant telemetry query failed", "tenant_id", tenantID, "error", err)
		return empty, nil
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, NormalizeRow(row, deviceIDFromRow(row)))
	}

	total, err := s.backend.Count(ctx, path, q.Measurement, tr)
	if err != nil {
		s.logger.Warn("tenant telemetry count failed", "tenant_id", tenantID, "error", err)
		total = int64(len(records))
	}

	return QueryResult{
		Records:   records,
		Total:     total,
		Page:      page,
		Pages:     pageCount(total, limit),
		Available: true,
	}, nil
}

// Latest returns the newest record for a device, or nil when the device has
// no data or the backend is unavailable.
func (s *Service) Latest(ctx context.Context, deviceID, tenantID string) *Record {
	if !s.backend.Available() {
		s.logger.Warn("telemetry backend unavailable, no latest record", "device_id", deviceID)
		return nil
	}

	row, err := s.backend.Latest(ctx, s.ns.DevicePath(tenantID, deviceID))
	if err != nil {
		s.logger.Error("latest telemetry query failed", "device_id", deviceID, "error", err)
		return nil
	}
	if row == nil {
		return nil
	}

	rec := NormalizeRow(*row, deviceID)
	return &rec
}

// Aggregate applies an allow-listed function to one measurement.
//
// The function is validated before any backend call, so an invalid function
// is rejected even when the store is down. For count the aggregate itself is
// the cardinality; every other function issues a second count query over the
// same filter.
func (s *Service) Aggregate(ctx context.Context, deviceID, tenantID, measurement string, fn AggFunc, start, end string) (AggregateResult, error) {
	result := AggregateResult{Aggregation: fn, Measurement: measurement, Available: s.passthru}

	if !ValidAggFunc(fn) {
		return result, ErrInvalidAggregation
	}

	tr, err := s.parseRange(start, end)
	if err != nil {
		return result, err
	}

	if !s.backend.Available() {
		s.logger.Warn("telemetry backend unavailable, empty aggregation", "device_id", deviceID)
		return result, nil
	}
	s.recorder.RecordAggregate()

	path := s.ns.DevicePath(tenantID, deviceID)
	value, err := s.backend.Aggregate(ctx, path, measurement, fn, tr)
	if err != nil {
		s.logger.Error("aggregation failed",
			"device_id", deviceID, "measurement", measurement, "fn", fn, "error", err)
		return result, nil
	}
	result.Value = &value
	result.Available = true

	if fn == AggCount {
		result.Count = int64(value)
		return result, nil
	}

	count, err := s.backend.Count(ctx, path, measurement, tr)
	if err != nil {
		s.logger.Warn("aggregation count failed",
			"device_id", deviceID, "measurement", measurement, "error", err)
		return result, nil
	}
	result.Count = count
	return result, nil
}

// DeleteRange removes telemetry for a device inside the given bounds.
// Telemetry is otherwise append-only; this exists for retention and
// tenant-requested erasure.
func (s *Service) DeleteRange(ctx context.Context, deviceID, tenantID, start, end string) (bool, error) {
	tr, err := s.parseRange(start, end)
	if err != nil {
		return false, err
	}
	// Deletes are always bounded: default to everything up to now.
	if !tr.HasEnd() {
		tr.End = time.Now().UTC()
	}

	if !s.backend.Available() {
		if s.passthru {
			return true, nil
		}
		s.logger.Warn("telemetry backend unavailable, delete skipped", "device_id", deviceID)
		return false, nil
	}

	if err := s.backend.DeleteRange(ctx, s.ns.DevicePath(tenantID, deviceID), tr); err != nil {
		s.logger.Error("telemetry delete failed", "device_id", deviceID, "error", err)
		return false, nil
	}
	return true, nil
}

// parseRange resolves the optional start/end expressions into a TimeRange.
// Empty expressions mean "no bound"; anything else must parse.
func (s *Service) parseRange(start, end string) (TimeRange, error) {
	var tr TimeRange
	now := time.Now().UTC()

	if start != "" {
		t, err := ParseTimeExpr(start, now)
		if err != nil {
			return tr, err
		}
		tr.Start = t
	}
	if end != "" {
		t, err := ParseTimeExpr(end, now)
		if err != nil {
			return tr, err
		}
		tr.End = t
	}
	return tr, nil
}

// clampPagination applies defaults and bounds to limit and page.
func clampPagination(limit, page int) (int, int) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if page < 1 {
		page = 1
	}
	return limit, page
}

// pageCount computes ceil(total/limit) with zero pages for zero rows.
func pageCount(total int64, limit int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// deviceIDFromRow recovers the device id from a tenant-wide row's column
// paths, which look like root.iotflow.tenants.tenant_3.devices.device_7.temp.
func deviceIDFromRow(row Row) string {
	for column := range row.Columns {
		for _, part := range strings.Split(column, ".") {
			if rest, ok := strings.CutPrefix(part, "device_"); ok {
				return rest
			}
		}
	}
	return ""
}
