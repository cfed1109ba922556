package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iotflow/iotflow-core/internal/infrastructure/mqtt"
	"github.com/iotflow/iotflow-core/internal/status"
	"github.com/iotflow/iotflow-core/internal/telemetry"
)

// Subscriber is the slice of the MQTT client the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the consumer.
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

// Recorder receives instrumentation events from the consumer.
type Recorder interface {
	RecordIngest(ok bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordIngest(bool) {}

// envelope is the wire format devices publish on their telemetry topic.
//
//	{
//	  "measurements": {"temperature": 21.4, "door_open": false},
//	  "metadata": {"firmware": "1.2.0"},
//	  "timestamp": 1767225600
//	}
//
// timestamp is optional; accepted forms are epoch seconds, epoch
// milliseconds, and ISO-8601 strings. Absent means "now".
type envelope struct {
	Measurements map[string]any `json:"measurements"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	DeviceType   string         `json:"device_type,omitempty"`
	Timestamp    any            `json:"timestamp,omitempty"`
}

// Consumer subscribes to the tenant-scoped device telemetry topics and feeds
// each message through the telemetry write path, refreshing the device's
// status cache entry on every accepted write.
type Consumer struct {
	sub      Subscriber
	svc      *telemetry.Service
	cache    *status.Cache
	qos      byte
	logger   Logger
	recorder Recorder
}

// NewConsumer wires a consumer. cache may be nil to skip status tracking.
func NewConsumer(sub Subscriber, svc *telemetry.Service, cache *status.Cache, qos byte) *Consumer {
	return &Consumer{
		sub:      sub,
		svc:      svc,
		cache:    cache,
		qos:      qos,
		logger:   noopLogger{},
		recorder: noopRecorder{},
	}
}

// SetLogger sets the logger for the consumer.
func (c *Consumer) SetLogger(logger Logger) { c.logger = logger }

// SetRecorder sets the instrumentation sink for the consumer.
func (c *Consumer) SetRecorder(r Recorder) { c.recorder = r }

// Start subscribes to the telemetry wildcard topic.
func (c *Consumer) Start() error {
	topic := mqtt.Topics{}.AllDeviceTelemetry()
	if err := c.sub.Subscribe(topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logger.Info("telemetry ingestion started", "topic", topic)
	return nil
}

// Stop drops the telemetry subscription.
func (c *Consumer) Stop() error {
	return c.sub.Unsubscribe(mqtt.Topics{}.AllDeviceTelemetry())
}

// handleMessage processes one device publication. Errors are returned to the
// MQTT client for logging; a malformed message is dropped, never retried.
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	tenantID, deviceID, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		c.recorder.RecordIngest(false)
		return fmt.Errorf("unexpected topic shape: %s", topic)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.recorder.RecordIngest(false)
		return fmt.Errorf("decoding telemetry from %s: %w", deviceID, err)
	}
	if len(env.Measurements) == 0 {
		c.recorder.RecordIngest(false)
		return fmt.Errorf("empty measurements from %s", deviceID)
	}

	ts, err := telemetry.ParseDeviceTimestamp(env.Timestamp)
	if err != nil {
		c.recorder.RecordIngest(false)
		return fmt.Errorf("bad timestamp from %s: %w", deviceID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	written := c.svc.Write(ctx, deviceID, tenantID, env.DeviceType, env.Measurements, env.Metadata, ts)
	c.recorder.RecordIngest(written)
	if !written {
		c.logger.Warn("telemetry write not persisted",
			"device_id", deviceID, "tenant_id", tenantID)
		return nil
	}

	if c.cache != nil {
		c.cache.UpdateLastSeen(ctx, deviceID, ts)
	}
	return nil
}

// writeTimeout bounds a single backend write triggered from the MQTT
// handler goroutine.
const writeTimeout = 10 * time.Second
