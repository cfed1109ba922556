package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the IoTFlow MQTT namespace.
//
// Device topics are tenant-scoped:
//
//	iotflow/tenants/{tenant_id}/devices/{device_id}/{channel}
const (
	// TopicPrefix is the base for all IoTFlow topics.
	TopicPrefix = "iotflow"

	// TopicPrefixTenants is the base for tenant-scoped device topics.
	TopicPrefixTenants = "iotflow/tenants"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "iotflow/system"
)

// Topics provides builders for IoTFlow MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.DeviceTelemetry("tenant-1", "sensor-42")
//	// Returns: "iotflow/tenants/tenant-1/devices/sensor-42/telemetry"
type Topics struct{}

// DeviceTelemetry returns the topic a device publishes telemetry on.
//
// Example: iotflow/tenants/tenant-1/devices/sensor-42/telemetry
func (Topics) DeviceTelemetry(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/telemetry", TopicPrefixTenants, tenantID, deviceID)
}

// DeviceStatus returns the topic device connectivity changes are published on.
//
// Example: iotflow/tenants/tenant-1/devices/sensor-42/status
func (Topics) DeviceStatus(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/status", TopicPrefixTenants, tenantID, deviceID)
}

// SystemStatus returns the topic for service online/offline announcements.
//
// Example: iotflow/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllDeviceTelemetry returns a wildcard matching every device telemetry topic.
//
// Pattern: iotflow/tenants/+/devices/+/telemetry
func (Topics) AllDeviceTelemetry() string {
	return TopicPrefixTenants + "/+/devices/+/telemetry"
}

// AllDeviceStatus returns a wildcard matching every device status topic.
//
// Pattern: iotflow/tenants/+/devices/+/status
func (Topics) AllDeviceStatus() string {
	return TopicPrefixTenants + "/+/devices/+/status"
}

// AllTopics returns a pattern matching all IoTFlow topics.
//
// Pattern: iotflow/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceTopic extracts the tenant and device IDs from a tenant-scoped
// device topic. ok is false when the topic does not follow the scheme.
func ParseDeviceTopic(topic string) (tenantID, deviceID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 {
		return "", "", false
	}
	if parts[0] != TopicPrefix || parts[1] != "tenants" || parts[3] != "devices" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}
