package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obi/parkgate/internal/model"
)

// QueueRepository is the queue store: one active row per vehicle while
// it is inside the facility.
//
// Concurrency strategy: every transition is one atomic statement. The
// sweep and a gate scan can both target the same vehicle, so the
// promotion paths (PromoteToRowCall, AdmitStagedToLoading) carry the
// expected source state in their WHERE clause and report whether the
// row actually moved. The unique index on vehicle_id makes the
// reset-or-create upserts race-free.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

const queueColumns = `id, vehicle_id, queue_location, entry_time, exit_time, call_time,
       exit_status, debit_status, row_call_status, pay_status, updated_at`

func scanQueueEntry(row pgx.Row) (*model.QueueEntry, error) {
	q := &model.QueueEntry{}
	err := row.Scan(
		&q.ID, &q.VehicleID, &q.QueueLocation, &q.EntryTime, &q.ExitTime, &q.CallTime,
		&q.ExitStatus, &q.DebitStatus, &q.RowCallStatus, &q.PayStatus, &q.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: scan: %w", err)
	}
	return q, nil
}

// Find returns the active queue entry for a vehicle, or ErrNotFound.
func (r *QueueRepository) Find(ctx context.Context, vehicleID int64) (*model.QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE vehicle_id = $1
	`, vehicleID)
	return scanQueueEntry(row)
}

// ResetToParking puts the vehicle at the back of the Parking queue with
// all transition flags cleared. A re-scan at the entry gate resets the
// existing row instead of creating a duplicate.
func (r *QueueRepository) ResetToParking(ctx context.Context, vehicleID int64, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queues (vehicle_id, queue_location, entry_time, exit_time, call_time,
		                    exit_status, debit_status, row_call_status, pay_status, updated_at)
		VALUES ($1, 'Parking', $2, NULL, NULL, false, false, false, false, $2)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			queue_location  = 'Parking',
			entry_time      = EXCLUDED.entry_time,
			exit_time       = NULL,
			call_time       = NULL,
			exit_status     = false,
			debit_status    = false,
			row_call_status = false,
			pay_status      = false,
			updated_at      = EXCLUDED.updated_at
	`, vehicleID, now)
	if err != nil {
		return fmt.Errorf("queue: reset to parking for vehicle %d: %w", vehicleID, err)
	}
	return nil
}

// StageForRowCall moves a priority or special-duty vehicle straight
// into the RowCall staging queue as it leaves the parking bay.
func (r *QueueRepository) StageForRowCall(ctx context.Context, vehicleID int64, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queues (vehicle_id, queue_location, entry_time, exit_time, call_time,
		                    exit_status, debit_status, row_call_status, pay_status, updated_at)
		VALUES ($1, 'RowCall', $2, $2, NULL, true, false, true, false, $2)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			queue_location  = 'RowCall',
			exit_time       = EXCLUDED.exit_time,
			exit_status     = true,
			debit_status    = false,
			row_call_status = true,
			pay_status      = false,
			updated_at      = EXCLUDED.updated_at
	`, vehicleID, now)
	if err != nil {
		return fmt.Errorf("queue: stage for rowcall for vehicle %d: %w", vehicleID, err)
	}
	return nil
}

// MarkExited records that an already-staged vehicle has passed the
// parking-exit gate; location and call state are left untouched.
func (r *QueueRepository) MarkExited(ctx context.Context, vehicleID int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET exit_time = $2, exit_status = true, updated_at = $2
		WHERE vehicle_id = $1
	`, vehicleID, now)
	if err != nil {
		return fmt.Errorf("queue: mark exited for vehicle %d: %w", vehicleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnterLoading admits a priority or special-duty vehicle directly into
// the Loading bay, resetting its timing fields.
func (r *QueueRepository) EnterLoading(ctx context.Context, vehicleID int64, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queues (vehicle_id, queue_location, entry_time, exit_time, call_time,
		                    exit_status, debit_status, row_call_status, pay_status, updated_at)
		VALUES ($1, 'Loading', $2, NULL, NULL, true, false, true, false, $2)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			queue_location  = 'Loading',
			entry_time      = EXCLUDED.entry_time,
			exit_time       = NULL,
			call_time       = NULL,
			exit_status     = true,
			debit_status    = false,
			row_call_status = true,
			pay_status      = false,
			updated_at      = EXCLUDED.updated_at
	`, vehicleID, now)
	if err != nil {
		return fmt.Errorf("queue: enter loading for vehicle %d: %w", vehicleID, err)
	}
	return nil
}

// AdmitStagedToLoading moves a staged vehicle from RowCall into the
// Loading bay. The move is conditional on the row still being staged:
// if a concurrent transition got there first, it reports false and the
// caller denies the scan.
func (r *QueueRepository) AdmitStagedToLoading(ctx context.Context, vehicleID int64, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET queue_location = 'Loading', entry_time = $2, debit_status = false, updated_at = $2
		WHERE vehicle_id = $1
		  AND queue_location = 'RowCall'
		  AND exit_status
	`, vehicleID, now)
	if err != nil {
		return false, fmt.Errorf("queue: admit to loading for vehicle %d: %w", vehicleID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the vehicle's queue entry.
func (r *QueueRepository) Delete(ctx context.Context, vehicleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM queues WHERE vehicle_id = $1`, vehicleID)
	if err != nil {
		return fmt.Errorf("queue: delete for vehicle %d: %w", vehicleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Sweep selection ────────────────────────────────────────

// CountByLocationAndFleet counts a fleet's vehicles at a location.
func (r *QueueRepository) CountByLocationAndFleet(
	ctx context.Context,
	location model.QueueLocation,
	fleetID int64,
) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int
		FROM queues q
		JOIN vehicles v ON v.id = q.vehicle_id
		WHERE q.queue_location = $1 AND v.fleet_id = $2
	`, location, fleetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue: count %s for fleet %d: %w", location, fleetID, err)
	}
	return count, nil
}

// ListByLocationAndFleet returns a fleet's entries at a location,
// oldest entry first.
func (r *QueueRepository) ListByLocationAndFleet(
	ctx context.Context,
	location model.QueueLocation,
	fleetID int64,
) ([]model.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumnsQualified(`q`)+`
		FROM queues q
		JOIN vehicles v ON v.id = q.vehicle_id
		WHERE q.queue_location = $1 AND v.fleet_id = $2
		ORDER BY q.entry_time ASC
	`, location, fleetID)
	if err != nil {
		return nil, fmt.Errorf("queue: list %s for fleet %d: %w", location, fleetID, err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

// ListParkingEligible returns up to limit of the fleet's Parking
// entries whose vehicle can afford the minimum charge, strict FIFO by
// entry time. This ordering is what the promotion sweep fairness rests
// on.
func (r *QueueRepository) ListParkingEligible(
	ctx context.Context,
	fleetID int64,
	minBalance int64,
	limit int,
) ([]model.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumnsQualified(`q`)+`
		FROM queues q
		JOIN vehicles v ON v.id = q.vehicle_id
		WHERE q.queue_location = 'Parking'
		  AND v.fleet_id = $1
		  AND v.wallet_balance >= $2
		ORDER BY q.entry_time ASC
		LIMIT $3
	`, fleetID, minBalance, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list eligible parking for fleet %d: %w", fleetID, err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

// PromoteToRowCall calls a vehicle up from Parking into RowCall,
// stamping its call time. Conditional on the row still being in
// Parking; reports false when a racing scan already moved it.
func (r *QueueRepository) PromoteToRowCall(ctx context.Context, vehicleID int64, callTime time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET queue_location = 'RowCall', call_time = $2, updated_at = $2
		WHERE vehicle_id = $1
		  AND queue_location = 'Parking'
	`, vehicleID, callTime)
	if err != nil {
		return false, fmt.Errorf("queue: promote vehicle %d: %w", vehicleID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetRowCallStatus batch-marks staged vehicles as called to the
// loading bay.
func (r *QueueRepository) SetRowCallStatus(ctx context.Context, vehicleIDs []int64) error {
	if len(vehicleIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET row_call_status = true, updated_at = now()
		WHERE vehicle_id = ANY($1)
	`, vehicleIDs)
	if err != nil {
		return fmt.Errorf("queue: set rowcall status: %w", err)
	}
	return nil
}

// ─── Read surface ───────────────────────────────────────────

// ListAll returns every active queue entry, oldest entry first.
func (r *QueueRepository) ListAll(ctx context.Context) ([]model.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		ORDER BY entry_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("queue: list all: %w", err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

// ListByLocation returns every entry at a location, oldest entry first.
func (r *QueueRepository) ListByLocation(ctx context.Context, location model.QueueLocation) ([]model.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE queue_location = $1
		ORDER BY entry_time ASC
	`, location)
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", location, err)
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

// CountByLocation counts entries at a location across all fleets.
func (r *QueueRepository) CountByLocation(ctx context.Context, location model.QueueLocation) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM queues WHERE queue_location = $1
	`, location).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue: count %s: %w", location, err)
	}
	return count, nil
}

// Overview returns per-location occupancy in a single query.
func (r *QueueRepository) Overview(ctx context.Context) (*model.QueueOverview, error) {
	o := &model.QueueOverview{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE queue_location = 'Parking')::int,
			COUNT(*) FILTER (WHERE queue_location = 'Loading')::int,
			COUNT(*) FILTER (WHERE queue_location = 'RowCall')::int
		FROM queues
	`).Scan(&o.Parking, &o.Loading, &o.RowCall)
	if err != nil {
		return nil, fmt.Errorf("queue: overview: %w", err)
	}
	return o, nil
}

// ─── Helpers ────────────────────────────────────────────────

func queueColumnsQualified(alias string) string {
	return alias + `.id, ` + alias + `.vehicle_id, ` + alias + `.queue_location, ` + alias + `.entry_time, ` +
		alias + `.exit_time, ` + alias + `.call_time, ` + alias + `.exit_status, ` +
		alias + `.debit_status, ` + alias + `.row_call_status, ` + alias + `.pay_status, ` + alias + `.updated_at`
}

func collectQueueEntries(rows pgx.Rows) ([]model.QueueEntry, error) {
	var out []model.QueueEntry
	for rows.Next() {
		q := model.QueueEntry{}
		if err := rows.Scan(
			&q.ID, &q.VehicleID, &q.QueueLocation, &q.EntryTime, &q.ExitTime, &q.CallTime,
			&q.ExitStatus, &q.DebitStatus, &q.RowCallStatus, &q.PayStatus, &q.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("queue: scan row: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate rows: %w", err)
	}
	return out, nil
}
