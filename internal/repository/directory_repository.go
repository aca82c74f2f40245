package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/obi/parkgate/internal/model"
)

// DirectoryRepository serves the read-mostly registry the engine
// consults on every scan: tags, vehicles, fleets, park rules and
// devices. Rules change rarely but are read on every scan and every
// sweep iteration, so lookups go through a short-TTL Redis cache.
type DirectoryRepository struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewDirectoryRepository creates a new directory repository.
func NewDirectoryRepository(pool *pgxpool.Pool, redis *redis.Client) *DirectoryRepository {
	return &DirectoryRepository{pool: pool, redis: redis}
}

const (
	parkRuleKeyPrefix = "parkrule:loc:"
	parkRuleCacheTTL  = 30 * time.Second

	// Devices that have not reported a scan for this long are flipped
	// to Inactive. The threshold is strictly greater-than.
	deviceIdleAfter = 8 * time.Minute
)

// ─── Tags ───────────────────────────────────────────────────

// TagByID looks a tag up by the string the physical tag reports.
func (r *DirectoryRepository) TagByID(ctx context.Context, tagID string) (*model.Tag, error) {
	t := &model.Tag{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, tag_id, status FROM tags WHERE tag_id = $1
	`, tagID).Scan(&t.ID, &t.TagID, &t.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: tag %q: %w", tagID, err)
	}
	return t, nil
}

// CreateTag self-registers an unknown tag seen at the entry gate. The
// tag starts Unassigned; an operator links it to a vehicle later.
func (r *DirectoryRepository) CreateTag(ctx context.Context, tagID string) (*model.Tag, error) {
	t := &model.Tag{TagID: tagID, Status: model.TagUnassigned}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tags (tag_id, status)
		VALUES ($1, 'Unassigned')
		ON CONFLICT (tag_id) DO UPDATE SET tag_id = EXCLUDED.tag_id
		RETURNING id
	`, tagID).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("directory: create tag %q: %w", tagID, err)
	}
	return t, nil
}

// ─── Vehicles & fleets ──────────────────────────────────────

// VehicleByTag returns the vehicle a tag is linked to, or ErrNotFound
// when the tag is not assigned to any vehicle.
func (r *DirectoryRepository) VehicleByTag(ctx context.Context, tagPK int64) (*model.Vehicle, error) {
	v := &model.Vehicle{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, fleet_id, vehicle_number, wallet_balance, special_duty,
		       is_staff_vehicle, tag_id, status
		FROM vehicles
		WHERE tag_id = $1
	`, tagPK).Scan(
		&v.ID, &v.FleetID, &v.VehicleNumber, &v.WalletBalance, &v.SpecialDuty,
		&v.IsStaffVehicle, &v.TagID, &v.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: vehicle by tag %d: %w", tagPK, err)
	}
	return v, nil
}

// FleetByID returns a fleet by primary key.
func (r *DirectoryRepository) FleetByID(ctx context.Context, id int64) (*model.Fleet, error) {
	f := &model.Fleet{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, priority, base_location_id, created_at
		FROM fleets
		WHERE id = $1
	`, id).Scan(&f.ID, &f.Name, &f.Priority, &f.BaseLocationID, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: fleet %d: %w", id, err)
	}
	return f, nil
}

// FleetsWithVehicles enumerates the fleets the sweep has to consider:
// those with at least one registered vehicle.
func (r *DirectoryRepository) FleetsWithVehicles(ctx context.Context) ([]model.Fleet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT f.id, f.name, f.priority, f.base_location_id, f.created_at
		FROM fleets f
		JOIN vehicles v ON v.fleet_id = f.id
		ORDER BY f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("directory: fleets with vehicles: %w", err)
	}
	defer rows.Close()

	var fleets []model.Fleet
	for rows.Next() {
		f := model.Fleet{}
		if err := rows.Scan(&f.ID, &f.Name, &f.Priority, &f.BaseLocationID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan fleet: %w", err)
		}
		fleets = append(fleets, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate fleets: %w", err)
	}
	return fleets, nil
}

// ─── Park rules ─────────────────────────────────────────────

// ParkRuleByLocation returns the admission configuration for a
// location, or ErrNotFound when none is configured.
//
// Strategy:
//  1. Try Redis cache first (fast path, <1ms).
//  2. On cache miss, query Postgres, then cache for 30 s.
func (r *DirectoryRepository) ParkRuleByLocation(ctx context.Context, locationID int64) (*model.ParkRule, error) {
	cacheKey := fmt.Sprintf("%s%d", parkRuleKeyPrefix, locationID)

	// ── Fast path: Redis cache ──────────────────────────
	if raw, err := r.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		rule := &model.ParkRule{}
		if err := json.Unmarshal(raw, rule); err == nil {
			return rule, nil
		}
	}

	// ── Slow path: Postgres ─────────────────────────────
	rule := &model.ParkRule{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, location_id, min_wallet_balance, min_pickup_charge,
		       max_company_queue_call, min_company_driver_count,
		       loading_bay_queue_timeout, recall_expire_time, register_close_time
		FROM park_rules
		WHERE location_id = $1
	`, locationID).Scan(
		&rule.ID, &rule.LocationID, &rule.MinWalletBalance, &rule.MinPickupCharge,
		&rule.MaxCompanyQueueCall, &rule.MinCompanyDriverCount,
		&rule.LoadingBayQueueTimeout, &rule.RecallExpireTime, &rule.RegisterCloseTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: park rule for location %d: %w", locationID, err)
	}

	// Cache the result (fire-and-forget, don't block on errors).
	if raw, err := json.Marshal(rule); err == nil {
		_ = r.redis.Set(ctx, cacheKey, raw, parkRuleCacheTTL).Err()
	}

	return rule, nil
}

// ─── Devices ────────────────────────────────────────────────

// TouchDevice marks a device Active, bumps its heartbeat timestamp and
// returns it. Called once per scan, so updated_at doubles as the
// device's last-seen time.
func (r *DirectoryRepository) TouchDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	d := &model.Device{}
	err := r.pool.QueryRow(ctx, `
		UPDATE devices
		SET status = 'Active', updated_at = now()
		WHERE device_id = $1
		RETURNING id, device_id, name, install_point, location_id, ctl_state, status, updated_at
	`, deviceID).Scan(
		&d.ID, &d.DeviceID, &d.Name, &d.InstallPoint, &d.LocationID,
		&d.CtlState, &d.Status, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: touch device %q: %w", deviceID, err)
	}
	return d, nil
}

// SetDeviceControl records the gate's control state (Open/Close).
func (r *DirectoryRepository) SetDeviceControl(ctx context.Context, deviceID string, state model.ControlState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET ctl_state = $2, updated_at = now()
		WHERE device_id = $1
	`, deviceID, state)
	if err != nil {
		return fmt.Errorf("directory: set control %s on device %q: %w", state, deviceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateIdleDevices flips Active/Idle devices that have not been
// heard from for more than eight minutes to Inactive, and reports how
// many were flipped.
func (r *DirectoryRepository) DeactivateIdleDevices(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET status = 'Inactive'
		WHERE status IN ('Active', 'Idle')
		  AND updated_at < now() - make_interval(secs => $1)
	`, deviceIdleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("directory: deactivate idle devices: %w", err)
	}
	return tag.RowsAffected(), nil
}
