// Package telemetry stores and queries schema-less device measurement data.
//
// Devices emit open-ended measurement maps (temperature, humidity, any custom
// sensor field) that are persisted as independent time-indexed series under a
// tenant/device namespace and queried with time-range filters, pagination and
// aggregation.
//
// # Architecture
//
//	ingest / api
//	    │
//	 Service        value mapping, namespace paths, time parsing,
//	    │           pagination, aggregation, degraded-mode handling
//	 Backend        storage contract (two implementations)
//	  ├── influx        InfluxDB v2
//	  └── sqlitestore   embedded SQLite
//
// The Backend in use is selected by configuration at startup; both
// implementations are substitutable without changing caller code.
//
// # Degraded mode
//
// When the backend is unreachable every write returns false and every read
// returns a well-formed empty result, never an error. Validation problems
// (bad aggregation function, unparseable timestamp) always return an explicit
// error regardless of backend state, so the HTTP layer can distinguish a 400
// from a degraded 200. A passthrough mode for CI makes writes report success
// while reads stay empty.
//
// # Thread safety
//
// Service and both Backend implementations are safe for concurrent use.
package telemetry
