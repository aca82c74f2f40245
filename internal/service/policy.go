package service

import "github.com/obi/parkgate/internal/model"

// SpecialAccess is the outcome of evaluating the override policy for
// one vehicle against a target bay.
type SpecialAccess struct {
	IsStaff             bool
	AllowSpecial        bool
	FleetPriority       bool
	EnoughWalletBalance bool
}

// Bypass reports whether the vehicle qualifies for expedited queue
// treatment (either override flag).
func (a SpecialAccess) Bypass() bool {
	return a.AllowSpecial || a.FleetPriority
}

// EvaluateSpecialAccess is the special-access policy: a pure function
// of the vehicle, its fleet, the location's rule and the bay the
// vehicle is trying to reach.
//
// EnoughWalletBalance defaults to true and is only checked when the
// target is the Loading bay and one of the override flags is set; the
// threshold is minWalletBalance + minPickupCharge. A staff vehicle
// implies AllowSpecial and is the only case exempt from the balance
// check altogether. A nil rule means zero thresholds.
func EvaluateSpecialAccess(
	vehicle *model.Vehicle,
	fleet *model.Fleet,
	rule *model.ParkRule,
	target model.QueueLocation,
) SpecialAccess {
	access := SpecialAccess{EnoughWalletBalance: true}
	minCharge := rule.MinCharge()

	if fleet != nil && fleet.Priority {
		access.FleetPriority = true
		if target == model.LocationLoading && vehicle.WalletBalance < minCharge {
			access.EnoughWalletBalance = false
		}
	}
	if vehicle.SpecialDuty {
		access.AllowSpecial = true
		if target == model.LocationLoading && vehicle.WalletBalance < minCharge {
			access.EnoughWalletBalance = false
		}
	}
	if vehicle.IsStaffVehicle {
		access.AllowSpecial = true
		access.IsStaff = true
	}

	return access
}
