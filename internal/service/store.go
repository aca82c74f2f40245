// Package service contains the core business logic of the park gate
// system: the per-scan access decision engine and the admission and
// promotion sweep.
package service

import (
	"context"
	"time"

	"github.com/obi/parkgate/internal/model"
)

// QueueStore is the one mutable shared resource under contention. The
// conditional methods (PromoteToRowCall, AdmitStagedToLoading) report
// whether the row actually moved so a racing sweep and gate scan never
// double-apply a transition.
type QueueStore interface {
	Find(ctx context.Context, vehicleID int64) (*model.QueueEntry, error)
	ResetToParking(ctx context.Context, vehicleID int64, now time.Time) error
	StageForRowCall(ctx context.Context, vehicleID int64, now time.Time) error
	MarkExited(ctx context.Context, vehicleID int64, now time.Time) error
	EnterLoading(ctx context.Context, vehicleID int64, now time.Time) error
	AdmitStagedToLoading(ctx context.Context, vehicleID int64, now time.Time) (bool, error)
	Delete(ctx context.Context, vehicleID int64) error

	CountByLocationAndFleet(ctx context.Context, location model.QueueLocation, fleetID int64) (int, error)
	ListByLocationAndFleet(ctx context.Context, location model.QueueLocation, fleetID int64) ([]model.QueueEntry, error)
	ListParkingEligible(ctx context.Context, fleetID int64, minBalance int64, limit int) ([]model.QueueEntry, error)
	PromoteToRowCall(ctx context.Context, vehicleID int64, callTime time.Time) (bool, error)
	SetRowCallStatus(ctx context.Context, vehicleIDs []int64) error
}

// Directory is the read-mostly registry of tags, vehicles, fleets,
// rules and devices. The engine only writes through it for device
// control state and tag self-registration.
type Directory interface {
	TagByID(ctx context.Context, tagID string) (*model.Tag, error)
	CreateTag(ctx context.Context, tagID string) (*model.Tag, error)
	VehicleByTag(ctx context.Context, tagPK int64) (*model.Vehicle, error)
	FleetByID(ctx context.Context, id int64) (*model.Fleet, error)
	FleetsWithVehicles(ctx context.Context) ([]model.Fleet, error)
	ParkRuleByLocation(ctx context.Context, locationID int64) (*model.ParkRule, error)
	TouchDevice(ctx context.Context, deviceID string) (*model.Device, error)
	SetDeviceControl(ctx context.Context, deviceID string, state model.ControlState) error
	DeactivateIdleDevices(ctx context.Context) (int64, error)
}

// ActivityLog is the append-only transition log.
type ActivityLog interface {
	Append(ctx context.Context, a model.ParkActivity) error
	HasUnpaidExit(ctx context.Context, vehicleID int64, location model.QueueLocation) (bool, error)
}

// Notifier delivers a message to vehicles at a location.
// Fire-and-forget from the engine's perspective.
type Notifier interface {
	SendToLocation(ctx context.Context, locationID int64, message string, vehicleIDs []int64) error
}

// SweepTrigger requests a sweep without waiting for it.
type SweepTrigger interface {
	Trigger()
}
