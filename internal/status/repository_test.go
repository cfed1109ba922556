package status

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE devices (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'inactive',
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("create devices table: %v", err)
	}
	_, err = db.Exec(
		`INSERT INTO devices (id, tenant_id, name, status, updated_at)
		 VALUES ('dev-1', 'tenant-1', 'Living Room Sensor', 'inactive', '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return db
}

func deviceStatus(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	var s string
	if err := db.QueryRow(`SELECT status FROM devices WHERE id = ?`, id).Scan(&s); err != nil {
		t.Fatalf("read device status: %v", err)
	}
	return s
}

func TestSQLiteRepositoryUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.UpdateStatus(ctx, "dev-1", DeviceActive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got := deviceStatus(t, db, "dev-1"); got != "active" {
		t.Fatalf("status = %q, want active", got)
	}

	if err := repo.UpdateStatus(ctx, "dev-1", DeviceInactive); err != nil {
		t.Fatalf("UpdateStatus back to inactive: %v", err)
	}
	if got := deviceStatus(t, db, "dev-1"); got != "inactive" {
		t.Fatalf("status = %q, want inactive", got)
	}
}

func TestSQLiteRepositorySkipsUnchanged(t *testing.T) {
	db := newTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.UpdateStatus(ctx, "dev-1", DeviceActive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	first := updatedAt(t, db, "dev-1")

	// Same value again must not touch the row.
	if err := repo.UpdateStatus(ctx, "dev-1", DeviceActive); err != nil {
		t.Fatalf("repeat UpdateStatus: %v", err)
	}
	if second := updatedAt(t, db, "dev-1"); second != first {
		t.Fatalf("updated_at changed on a no-op write: %q -> %q", first, second)
	}
}

func TestSQLiteRepositoryUnknownDevice(t *testing.T) {
	repo := NewSQLiteRepository(newTestDB(t))

	err := repo.UpdateStatus(context.Background(), "no-such-device", DeviceActive)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("UpdateStatus for unknown device = %v, want ErrDeviceNotFound", err)
	}
}

func updatedAt(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	var ts string
	if err := db.QueryRow(`SELECT updated_at FROM devices WHERE id = ?`, id).Scan(&ts); err != nil {
		t.Fatalf("read updated_at: %v", err)
	}
	return ts
}
