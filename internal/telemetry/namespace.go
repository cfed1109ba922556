package telemetry

import (
	"fmt"
	"strings"
)

// DefaultDatabase is the root storage namespace for telemetry series.
const DefaultDatabase = "root.iotflow"

// Namespace derives hierarchical storage paths from tenant and device ids.
//
// Every series written for a device lives under its device path, which keeps
// tenant data isolated and lets tenant-wide queries scan a single subtree.
type Namespace struct {
	// Database is the root path prefix. Empty uses DefaultDatabase.
	Database string
}

// DevicePath returns the storage path for one device's series.
//
// Example: root.iotflow.tenants.tenant_3.devices.device_7
func (n Namespace) DevicePath(tenantID, deviceID string) string {
	return fmt.Sprintf("%s.tenants.tenant_%s.devices.device_%s",
		n.root(), sanitizeComponent(tenantID), sanitizeComponent(deviceID))
}

// TenantPath returns the path covering all devices of a tenant, used for
// tenant-wide fan-out queries.
//
// Example: root.iotflow.tenants.tenant_3.devices
func (n Namespace) TenantPath(tenantID string) string {
	return fmt.Sprintf("%s.tenants.tenant_%s.devices", n.root(), sanitizeComponent(tenantID))
}

// SeriesPath returns the full path of one measurement series.
func (n Namespace) SeriesPath(tenantID, deviceID, measurement string) string {
	return n.DevicePath(tenantID, deviceID) + "." + sanitizeComponent(measurement)
}

func (n Namespace) root() string {
	if n.Database == "" {
		return DefaultDatabase
	}
	return n.Database
}

// sanitizeComponent strips characters that would break the dotted hierarchy.
// Ids come from callers we trust, but device-supplied measurement names do
// flow through here unvalidated.
func sanitizeComponent(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "`", "")
	return s
}
