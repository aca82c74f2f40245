// Package model contains domain models for the park gate system.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

// QueueLocation is a vehicle's current stage inside the facility.
type QueueLocation string

const (
	LocationParking QueueLocation = "Parking"
	LocationRowCall QueueLocation = "RowCall"
	LocationLoading QueueLocation = "Loading"
	LocationExit    QueueLocation = "Exit"
)

// Valid reports whether l is one of the four facility stages.
func (l QueueLocation) Valid() bool {
	switch l {
	case LocationParking, LocationRowCall, LocationLoading, LocationExit:
		return true
	}
	return false
}

type TagStatus string

const (
	TagAssigned   TagStatus = "Assigned"
	TagUnassigned TagStatus = "Unassigned"
)

type VehicleStatus string

const (
	VehicleApproved VehicleStatus = "approved"
	VehicleBanned   VehicleStatus = "banned"
	VehicleExited   VehicleStatus = "exit"
)

type ControlState string

const (
	ControlOpen  ControlState = "Open"
	ControlClose ControlState = "Close"
)

type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "Active"
	DeviceInactive DeviceStatus = "Inactive"
	DeviceIdle     DeviceStatus = "Idle"
)

// DeviceRole identifies which of the four gates a device controls.
// Stored as the device's install point.
type DeviceRole string

const (
	RoleEntryGate       DeviceRole = "entry_gate"
	RoleParkingExitGate DeviceRole = "parking_exit_gate"
	RoleLoadingEntry    DeviceRole = "loading_entry_gate"
	RoleLoadingExit     DeviceRole = "loading_exit_gate"
)

// Valid reports whether r names a known gate role.
func (r DeviceRole) Valid() bool {
	switch r {
	case RoleEntryGate, RoleParkingExitGate, RoleLoadingEntry, RoleLoadingExit:
		return true
	}
	return false
}

type ActivityStatus string

const (
	ActivityEntry ActivityStatus = "ENTRY"
	ActivityExit  ActivityStatus = "EXIT"
)

type DebitType string

const (
	DebitNone   DebitType = "None"
	DebitWallet DebitType = "Wallet"
)

// ─── Domain models ──────────────────────────────────────────

// Fleet maps to the `fleets` table. Priority fleets get expedited
// queue treatment at the parking-exit and loading-entry gates.
type Fleet struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Priority       bool      `json:"priority"`
	BaseLocationID int64     `json:"base_location_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Vehicle maps to the `vehicles` table. WalletBalance is in minor
// currency units.
type Vehicle struct {
	ID             int64         `json:"id"`
	FleetID        int64         `json:"fleet_id"`
	VehicleNumber  string        `json:"vehicle_number"`
	WalletBalance  int64         `json:"wallet_balance"`
	SpecialDuty    bool          `json:"special_duty"`
	IsStaffVehicle bool          `json:"is_staff_vehicle"`
	TagID          *int64        `json:"tag_id,omitempty"`
	Status         VehicleStatus `json:"status"`
}

// Tag maps to the `tags` table. TagID is the string the physical tag
// reports on a scan; a tag is linked to at most one vehicle at a time.
type Tag struct {
	ID     int64     `json:"id"`
	TagID  string    `json:"tag_id"`
	Status TagStatus `json:"status"`
}

// QueueEntry maps to the `queues` table. At most one row exists per
// vehicle while it is inside the facility.
type QueueEntry struct {
	ID            int64         `json:"id"`
	VehicleID     int64         `json:"vehicle_id"`
	QueueLocation QueueLocation `json:"queue_location"`
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      *time.Time    `json:"exit_time,omitempty"`
	CallTime      *time.Time    `json:"call_time,omitempty"`
	ExitStatus    bool          `json:"exit_status"`
	DebitStatus   bool          `json:"debit_status"`
	RowCallStatus bool          `json:"row_call_status"`
	PayStatus     bool          `json:"pay_status"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ParkRule maps to the `park_rules` table: per-location admission
// configuration. Balance thresholds are in minor currency units.
type ParkRule struct {
	ID                     int64  `json:"id"`
	LocationID             int64  `json:"location_id"`
	MinWalletBalance       int64  `json:"min_wallet_balance"`
	MinPickupCharge        int64  `json:"min_pickup_charge"`
	MaxCompanyQueueCall    int    `json:"max_company_queue_call"`
	MinCompanyDriverCount  int    `json:"min_company_driver_count"`
	LoadingBayQueueTimeout int    `json:"loading_bay_queue_timeout"`
	RecallExpireTime       string `json:"recall_expire_time"`
	RegisterCloseTime      string `json:"register_close_time"`
}

// MinCharge is the wallet balance a vehicle must hold to be
// considered for the loading bay.
func (r *ParkRule) MinCharge() int64 {
	if r == nil {
		return 0
	}
	return r.MinWalletBalance + r.MinPickupCharge
}

// ParkActivity maps to the `park_activities` table. Rows are append-only.
type ParkActivity struct {
	ID            int64          `json:"id"`
	VehicleID     int64          `json:"vehicle_id"`
	QueueLocation QueueLocation  `json:"queue_location"`
	Status        ActivityStatus `json:"status"`
	DebitStatus   bool           `json:"debit_status"`
	DebitedAmount int64          `json:"debited_amount"`
	DebitType     DebitType      `json:"debit_type"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Device maps to the `devices` table. DeviceID is the identity the
// physical unit reports; InstallPoint ties it to one of the four gates.
type Device struct {
	ID           int64        `json:"id"`
	DeviceID     string       `json:"device_id"`
	Name         string       `json:"name"`
	InstallPoint DeviceRole   `json:"install_point"`
	LocationID   int64        `json:"location_id"`
	CtlState     ControlState `json:"ctl_state"`
	Status       DeviceStatus `json:"status"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ─── Read-surface DTOs ──────────────────────────────────────

// QueueOverview is the per-location occupancy summary served by
// GET /queues/overview.
type QueueOverview struct {
	Parking int `json:"parking"`
	Loading int `json:"loading"`
	RowCall int `json:"row_call"`
}
