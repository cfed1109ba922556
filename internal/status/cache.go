package status

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a cached status or last-seen entry survives
// without refresh. Entries expire silently; there is no eviction loop.
const DefaultTTL = 24 * time.Hour

// Status is a device's cached connectivity state.
type Status string

// Cached status values. Absence of an entry means StatusUnknown: a device
// we have never heard from is not the same as one that went offline.
const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// TransitionCallback is invoked when a device's cached status actually
// changes. Callbacks run on the caller's goroutine; a panicking callback is
// recovered and does not prevent the remaining callbacks from running.
type TransitionCallback func(deviceID string, old, new Status)

// Logger is the logging interface used by the cache.
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

// Recorder receives instrumentation events from the cache.
type Recorder interface {
	RecordTransition(old, new Status)
	SetTrackedDevices(n int)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(Status, Status) {}
func (noopRecorder) SetTrackedDevices(int)           {}

type statusEntry struct {
	status  Status
	expires time.Time
}

type lastSeenEntry struct {
	seen    time.Time
	expires time.Time
}

// Cache is a TTL key-value cache deriving "is this device online" from
// recent writes.
//
// It is write-through: the cached value is authoritative for reads, and on a
// genuine transition (new != cached old) the projected status is reconciled
// into the durable store and transition callbacks fire. A failed
// reconciliation is logged and the cache value kept; the durable store's
// status column is a projection, not the source of truth.
//
// Entry lifecycle: created on first write or heartbeat, TTL refreshed on
// every subsequent one, expired lazily on read.
//
// Thread Safety: all methods are safe for concurrent use. The transition
// check releases the cache lock before reconciliation and callbacks run, so
// two concurrent transitions for one device may both observe the same old
// value and both notify. Notification is at-least-once, the same trade the
// ingestion path has always made.
type Cache struct {
	ttl  time.Duration
	repo Repository

	mu       sync.Mutex
	statuses map[string]statusEntry
	lastSeen map[string]lastSeenEntry

	syncMu      sync.RWMutex
	syncEnabled bool

	cbMu      sync.RWMutex
	callbacks []TransitionCallback

	logger   Logger
	recorder Recorder

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewCache creates a status cache.
//
// repo may be nil, which disables durable-store reconciliation entirely;
// ttl <= 0 uses DefaultTTL.
func NewCache(repo Repository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:         ttl,
		repo:        repo,
		statuses:    make(map[string]statusEntry),
		lastSeen:    make(map[string]lastSeenEntry),
		syncEnabled: repo != nil,
		logger:      noopLogger{},
		recorder:    noopRecorder{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) { c.logger = logger }

// SetRecorder sets the instrumentation sink for the cache.
func (c *Cache) SetRecorder(r Recorder) { c.recorder = r }

// EnableSync turns durable-store reconciliation on.
func (c *Cache) EnableSync() {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.syncEnabled = c.repo != nil
}

// DisableSync turns durable-store reconciliation off. Transitions still
// fire callbacks.
func (c *Cache) DisableSync() {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.syncEnabled = false
}

// SetStatus caches a device's status with a fresh TTL.
//
// When the status actually changed it reconciles the projection into the
// durable store (if sync is enabled) and then invokes every registered
// transition callback with (deviceID, old, new).
func (c *Cache) SetStatus(ctx context.Context, deviceID string, status Status) {
	now := c.now()

	c.mu.Lock()
	old := c.statusLocked(deviceID, now)
	c.statuses[deviceID] = statusEntry{status: status, expires: now.Add(c.ttl)}
	tracked := len(c.statuses)
	c.mu.Unlock()

	c.recorder.SetTrackedDevices(tracked)

	if old == status {
		return
	}

	c.logger.Debug("device status transition",
		"device_id", deviceID, "old", old, "new", status)
	c.recorder.RecordTransition(old, status)

	if c.syncAllowed() {
		if err := c.repo.UpdateStatus(ctx, deviceID, projectStatus(status)); err != nil {
			// Cache stays authoritative; the projection catches up on the
			// next transition.
			c.logger.Error("status sync to durable store failed",
				"device_id", deviceID, "status", status, "error", err)
		}
	}

	c.fireCallbacks(deviceID, old, status)
}

// GetStatus returns the cached status, or StatusUnknown when the device has
// no live entry.
func (c *Cache) GetStatus(deviceID string) Status {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(deviceID, now)
}

// UpdateLastSeen refreshes a device's last-seen timestamp (zero ts means
// now) and marks the device online.
func (c *Cache) UpdateLastSeen(ctx context.Context, deviceID string, ts time.Time) {
	now := c.now()
	if ts.IsZero() {
		ts = now
	}

	c.mu.Lock()
	c.lastSeen[deviceID] = lastSeenEntry{seen: ts.UTC(), expires: now.Add(c.ttl)}
	c.mu.Unlock()

	c.SetStatus(ctx, deviceID, StatusOnline)
}

// GetLastSeen returns the cached last-seen timestamp for a device.
func (c *Cache) GetLastSeen(deviceID string) (time.Time, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lastSeen[deviceID]
	if !ok {
		return time.Time{}, false
	}
	if now.After(entry.expires) {
		delete(c.lastSeen, deviceID)
		return time.Time{}, false
	}
	return entry.seen, true
}

// AllStatuses returns the status for each requested device in one pass
// under the lock, keeping dashboard fan-out cheap. Devices without a live
// entry report StatusUnknown.
func (c *Cache) AllStatuses(deviceIDs []string) map[string]Status {
	now := c.now()
	result := make(map[string]Status, len(deviceIDs))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range deviceIDs {
		result[id] = c.statusLocked(id, now)
	}
	return result
}

// AllLastSeen returns last-seen timestamps for the requested devices in one
// pass under the lock. Devices without a live entry are omitted.
func (c *Cache) AllLastSeen(deviceIDs []string) map[string]time.Time {
	now := c.now()
	result := make(map[string]time.Time, len(deviceIDs))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range deviceIDs {
		entry, ok := c.lastSeen[id]
		if !ok {
			continue
		}
		if now.After(entry.expires) {
			delete(c.lastSeen, id)
			continue
		}
		result[id] = entry.seen
	}
	return result
}

// SnapshotLastSeen returns every live last-seen entry. Used by the offline
// tracker's sweep.
func (c *Cache) SnapshotLastSeen() map[string]time.Time {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]time.Time, len(c.lastSeen))
	for id, entry := range c.lastSeen {
		if now.After(entry.expires) {
			delete(c.lastSeen, id)
			continue
		}
		result[id] = entry.seen
	}
	return result
}

// ClearDevice drops all cached entries for a device, returning it to
// StatusUnknown without firing a transition.
func (c *Cache) ClearDevice(deviceID string) {
	c.mu.Lock()
	delete(c.statuses, deviceID)
	delete(c.lastSeen, deviceID)
	tracked := len(c.statuses)
	c.mu.Unlock()

	c.recorder.SetTrackedDevices(tracked)
}

// RegisterTransitionCallback adds an observer for status transitions.
func (c *Cache) RegisterTransitionCallback(cb TransitionCallback) {
	if cb == nil {
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// statusLocked reads a status entry with lazy expiry. Caller holds c.mu.
func (c *Cache) statusLocked(deviceID string, now time.Time) Status {
	entry, ok := c.statuses[deviceID]
	if !ok {
		return StatusUnknown
	}
	if now.After(entry.expires) {
		delete(c.statuses, deviceID)
		return StatusUnknown
	}
	return entry.status
}

func (c *Cache) syncAllowed() bool {
	c.syncMu.RLock()
	defer c.syncMu.RUnlock()
	return c.syncEnabled && c.repo != nil
}

// fireCallbacks invokes all registered callbacks, isolating panics so one
// misbehaving observer cannot starve the rest.
func (c *Cache) fireCallbacks(deviceID string, old, new Status) {
	c.cbMu.RLock()
	callbacks := make([]TransitionCallback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.cbMu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("status transition callback panicked",
						"device_id", deviceID, "panic", r)
				}
			}()
			cb(deviceID, old, new)
		}()
	}
}

// projectStatus maps a cached status onto the durable store's device
// status domain.
func projectStatus(s Status) DeviceStatus {
	if s == StatusOnline {
		return DeviceActive
	}
	return DeviceInactive
}
