package status

import "errors"

// ErrDeviceNotFound indicates a status projection targeted a device the
// durable store has never registered.
var ErrDeviceNotFound = errors.New("device not found")
