package status

import (
	"context"
	"time"
)

// Default tracker timings.
const (
	DefaultSweepInterval    = 30 * time.Second
	DefaultOfflineThreshold = 5 * time.Minute
)

// Tracker periodically sweeps the cache's last-seen entries and marks
// devices offline once they go quiet for longer than the threshold.
//
// The cache itself only ever moves devices toward online (on writes and
// heartbeats); the tracker supplies the opposing force.
type Tracker struct {
	cache     *Cache
	interval  time.Duration
	threshold time.Duration
	logger    Logger
}

// NewTracker creates a tracker on the given cache. Non-positive interval or
// threshold use the defaults.
func NewTracker(cache *Cache, interval, threshold time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &Tracker{
		cache:     cache,
		interval:  interval,
		threshold: threshold,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) { t.logger = logger }

// Run sweeps until the context is cancelled. Call it on its own goroutine.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("offline tracker started",
		"interval", t.interval, "threshold", t.threshold)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("offline tracker stopped")
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: any device last seen before now-threshold that is
// still cached online is transitioned offline.
func (t *Tracker) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-t.threshold)

	for deviceID, seen := range t.cache.SnapshotLastSeen() {
		if seen.After(cutoff) {
			continue
		}
		if t.cache.GetStatus(deviceID) != StatusOnline {
			continue
		}
		t.logger.Debug("marking quiet device offline",
			"device_id", deviceID, "last_seen", seen)
		t.cache.SetStatus(ctx, deviceID, StatusOffline)
	}
}
