package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepository persists location-scoped messages fanned out
// to vehicles. Delivery to drivers is handled by a separate channel
// reading this table; the engine treats sends as fire-and-forget.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// SendToLocation stores one notification for a location and links it
// to the addressed vehicles, all in one transaction.
func (r *NotificationRepository) SendToLocation(
	ctx context.Context,
	locationID int64,
	message string,
	vehicleIDs []int64,
) error {
	if len(vehicleIDs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var notificationID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO notifications (location_id, message)
		VALUES ($1, $2)
		RETURNING id
	`, locationID, message).Scan(&notificationID)
	if err != nil {
		return fmt.Errorf("notification: insert for location %d: %w", locationID, err)
	}

	for _, vehicleID := range vehicleIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO notification_vehicles (notification_id, vehicle_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, notificationID, vehicleID)
		if err != nil {
			return fmt.Errorf("notification: link vehicle %d: %w", vehicleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notification: commit: %w", err)
	}
	return nil
}
