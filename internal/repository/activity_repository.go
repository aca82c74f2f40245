package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obi/parkgate/internal/model"
)

// ActivityRepository is the append-only state-transition log. The
// engine never updates or deletes rows; the only read-back paths are
// the two guards below.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// reentryWindow guards against a vehicle double-scanning the entry
// gate. Comparison is strictly greater-than the cutoff.
const reentryWindow = 5 * time.Minute

// Append writes one transition event.
//
// Appending a Parking ENTRY while an unpaid Parking ENTRY younger than
// five minutes exists for the same vehicle fails with ErrRecentEntry.
// The guard and the insert run in one transaction so a rejected scan
// leaves no trace in the log.
func (r *ActivityRepository) Append(ctx context.Context, a model.ParkActivity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activity: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if a.QueueLocation == model.LocationParking && a.Status == model.ActivityEntry {
		var lastEntry *time.Time
		err := tx.QueryRow(ctx, `
			SELECT MAX(created_at)
			FROM park_activities
			WHERE vehicle_id = $1
			  AND queue_location = 'Parking'
			  AND status = 'ENTRY'
			  AND NOT debit_status
		`, a.VehicleID).Scan(&lastEntry)
		if err != nil {
			return fmt.Errorf("activity: re-entry guard for vehicle %d: %w", a.VehicleID, err)
		}
		if lastEntry != nil && lastEntry.After(time.Now().Add(-reentryWindow)) {
			return ErrRecentEntry
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO park_activities
			(vehicle_id, queue_location, status, debit_status, debited_amount, debit_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.VehicleID, a.QueueLocation, a.Status, a.DebitStatus, a.DebitedAmount, a.DebitType)
	if err != nil {
		return fmt.Errorf("activity: append for vehicle %d: %w", a.VehicleID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("activity: commit: %w", err)
	}
	return nil
}

// HasUnpaidExit reports whether an unpaid EXIT event at the given
// location exists for the vehicle. The sweep uses it so a vehicle that
// is already called up is not notified again on every pass.
func (r *ActivityRepository) HasUnpaidExit(ctx context.Context, vehicleID int64, location model.QueueLocation) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM park_activities
			WHERE vehicle_id = $1
			  AND queue_location = $2
			  AND status = 'EXIT'
			  AND NOT debit_status
		)
	`, vehicleID, location).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("activity: unpaid exit lookup for vehicle %d: %w", vehicleID, err)
	}
	return exists, nil
}

// ─── Read surface ───────────────────────────────────────────

// ListRecent returns the newest activity rows first.
func (r *ActivityRepository) ListRecent(ctx context.Context, limit int) ([]model.ParkActivity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, vehicle_id, queue_location, status, debit_status,
		       debited_amount, debit_type, created_at
		FROM park_activities
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("activity: list recent: %w", err)
	}
	defer rows.Close()

	var out []model.ParkActivity
	for rows.Next() {
		a := model.ParkActivity{}
		if err := rows.Scan(
			&a.ID, &a.VehicleID, &a.QueueLocation, &a.Status, &a.DebitStatus,
			&a.DebitedAmount, &a.DebitType, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("activity: scan row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of logged activities.
func (r *ActivityRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM park_activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("activity: count: %w", err)
	}
	return count, nil
}
