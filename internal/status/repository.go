package status

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeviceStatus is the durable store's projection of cached connectivity:
// online devices project to active, everything else to inactive.
type DeviceStatus string

// Durable device status values.
const (
	DeviceActive   DeviceStatus = "active"
	DeviceInactive DeviceStatus = "inactive"
)

// Repository persists the projected device status.
type Repository interface {
	// UpdateStatus writes the projected status for a device, skipping the
	// write when the stored value already matches.
	UpdateStatus(ctx context.Context, deviceID string, status DeviceStatus) error
}

// SQLiteRepository persists device status projections in the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// UpdateStatus implements Repository. The read-compare-write runs in a
// transaction so concurrent transitions for one device serialize on the
// row rather than interleaving.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, deviceID string, status DeviceStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM devices WHERE id = ?`, deviceID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		return fmt.Errorf("device %q: %w", deviceID, ErrDeviceNotFound)
	case err != nil:
		return fmt.Errorf("read device status: %w", err)
	}

	if DeviceStatus(current) == status {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE devices SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), deviceID)
	if err != nil {
		return fmt.Errorf("write device status: %w", err)
	}

	return tx.Commit()
}
