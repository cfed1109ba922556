// Package status tracks device connectivity with a TTL cache.
//
// Devices report in implicitly: every accepted telemetry write refreshes the
// device's last-seen timestamp and caches it online. Entries carry a TTL and
// expire lazily on read, so a device nobody asks about costs nothing and a
// device that stops reporting eventually reads as unknown.
//
// A Tracker closes the loop in the other direction, sweeping last-seen
// entries on an interval and transitioning quiet devices to offline.
//
// On a genuine transition (the new status differs from the cached one) the
// cache projects online/offline onto the durable store's active/inactive
// device status through a Repository, then notifies registered transition
// callbacks. The cache remains the source of truth for connectivity; the
// durable column is a best-effort projection and a failed sync is logged,
// not retried.
package status
