package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/model"
	"github.com/obi/parkgate/internal/repository"
)

// minTagIDLength is the shortest tag string a real tag reports;
// anything shorter is a misread and denied before touching state.
const minTagIDLength = 5

// Decision is the business outcome of one scan. Denials are values,
// not errors: only infrastructure failures travel the error path.
type Decision struct {
	Granted bool
	// Duplicate marks the re-entry cooldown rejection, which devices
	// may retry, as opposed to a genuine access denial.
	Duplicate bool
	Message   string
}

func granted() Decision {
	return Decision{Granted: true, Message: "Access granted"}
}

func denied() Decision {
	return Decision{Message: "Access denied"}
}

// AccessService decides, per device scan, whether a vehicle may pass,
// and applies the transition side effects. Cross-vehicle fairness is
// not its job; that lives in the sweep.
type AccessService struct {
	queues     QueueStore
	dir        Directory
	activities ActivityLog
	sweeps     SweepTrigger
	log        *zap.SugaredLogger
	now        func() time.Time

	handlers map[model.DeviceRole]func(context.Context, *model.Vehicle) (Decision, error)
}

// NewAccessService creates the decision engine.
func NewAccessService(
	queues QueueStore,
	dir Directory,
	activities ActivityLog,
	sweeps SweepTrigger,
	log *zap.SugaredLogger,
) *AccessService {
	s := &AccessService{
		queues:     queues,
		dir:        dir,
		activities: activities,
		sweeps:     sweeps,
		log:        log,
		now:        time.Now,
	}
	s.handlers = map[model.DeviceRole]func(context.Context, *model.Vehicle) (Decision, error){
		model.RoleEntryGate:       s.handleEntryGate,
		model.RoleParkingExitGate: s.handleParkingExitGate,
		model.RoleLoadingEntry:    s.handleLoadingEntryGate,
		model.RoleLoadingExit:     s.handleLoadingExitGate,
	}
	return s
}

// Decide handles one scan. The returned error means infrastructure
// failure; every business outcome, including denial, is a Decision.
func (s *AccessService) Decide(ctx context.Context, deviceID, tagID string) (Decision, error) {
	if deviceID == "" || len(tagID) < minTagIDLength {
		return denied(), nil
	}

	// Device hygiene is best-effort; a failed pass must not block the gate.
	if _, err := s.dir.DeactivateIdleDevices(ctx); err != nil {
		s.log.Warnw("idle device pass failed", "error", err)
	}

	device, err := s.dir.TouchDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Infow("scan from unknown device", "device_id", deviceID)
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}

	role := device.InstallPoint
	if !role.Valid() {
		s.log.Warnw("device has no gate role", "device_id", deviceID, "install_point", role)
		return denied(), nil
	}

	tag, err := s.dir.TagByID(ctx, tagID)
	if errors.Is(err, repository.ErrNotFound) {
		// Unknown tags self-register at the front gate only. The scan
		// is still denied until an operator assigns the tag.
		if role == model.RoleEntryGate {
			if _, err := s.dir.CreateTag(ctx, tagID); err != nil {
				s.log.Errorw("tag self-registration failed", "tag_id", tagID, "error", err)
			}
		}
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if tag.Status != model.TagAssigned {
		return denied(), nil
	}

	vehicle, err := s.dir.VehicleByTag(ctx, tag.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if vehicle.Status == model.VehicleBanned {
		s.log.Infow("banned vehicle denied", "vehicle_id", vehicle.ID, "device_id", deviceID)
		return denied(), nil
	}

	decision, err := s.handlers[role](ctx, vehicle)
	if err != nil {
		return Decision{}, fmt.Errorf("access: %s scan for vehicle %d: %w", role, vehicle.ID, err)
	}

	if decision.Granted {
		s.pulseGate(ctx, deviceID)
	}
	return decision, nil
}

// pulseGate opens the gate and issues the close command right after.
// The device latches the pulse; neither write is allowed to fail the
// scan once access is granted.
func (s *AccessService) pulseGate(ctx context.Context, deviceID string) {
	if err := s.dir.SetDeviceControl(ctx, deviceID, model.ControlOpen); err != nil {
		s.log.Errorw("gate open failed", "device_id", deviceID, "error", err)
		return
	}
	if err := s.dir.SetDeviceControl(ctx, deviceID, model.ControlClose); err != nil {
		s.log.Errorw("gate close failed", "device_id", deviceID, "error", err)
	}
}

// ─── Gate handlers ──────────────────────────────────────────

// handleEntryGate: arrival at the facility. The queue entry is created,
// or reset to the Parking baseline on a re-scan, and a sweep is
// requested so the newcomer is considered for call-up.
func (s *AccessService) handleEntryGate(ctx context.Context, vehicle *model.Vehicle) (Decision, error) {
	if err := s.queues.ResetToParking(ctx, vehicle.ID, s.now()); err != nil {
		return Decision{}, err
	}

	err := s.activities.Append(ctx, model.ParkActivity{
		VehicleID:     vehicle.ID,
		QueueLocation: model.LocationParking,
		Status:        model.ActivityEntry,
		DebitType:     model.DebitNone,
	})
	if errors.Is(err, repository.ErrRecentEntry) {
		return Decision{Duplicate: true, Message: "Entry already recorded, retry later"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	s.sweeps.Trigger()
	return granted(), nil
}

// handleParkingExitGate: leaving the parking bay. Priority and
// special-duty vehicles jump straight into RowCall; vehicles already
// staged are marked out; everyone else leaves the queue entirely.
func (s *AccessService) handleParkingExitGate(ctx context.Context, vehicle *model.Vehicle) (Decision, error) {
	entry, err := s.queues.Find(ctx, vehicle.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}

	access, err := s.evaluatePolicy(ctx, vehicle, model.LocationParking)
	if err != nil {
		return Decision{}, err
	}

	now := s.now()
	switch {
	case access.Bypass():
		// StageForRowCall upserts, so the transition still lands if the
		// entry vanished between the lookup and the write.
		if err := s.queues.StageForRowCall(ctx, vehicle.ID, now); err != nil {
			return Decision{}, err
		}
	case entry.RowCallStatus && entry.QueueLocation == model.LocationRowCall:
		if err := s.queues.MarkExited(ctx, vehicle.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Decision{}, err
		}
	default:
		// Not staged and no override: the vehicle is leaving without
		// using the call-up path.
		if err := s.queues.Delete(ctx, vehicle.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return Decision{}, err
		}
	}

	err = s.activities.Append(ctx, model.ParkActivity{
		VehicleID:     vehicle.ID,
		QueueLocation: model.LocationParking,
		Status:        model.ActivityExit,
		DebitType:     model.DebitNone,
	})
	if err != nil {
		return Decision{}, err
	}
	return granted(), nil
}

// handleLoadingEntryGate: admission into the loading bay. Staff pass
// unconditionally, overrides pass if funded, ordinary vehicles only
// when they were staged through RowCall.
func (s *AccessService) handleLoadingEntryGate(ctx context.Context, vehicle *model.Vehicle) (Decision, error) {
	access, err := s.evaluatePolicy(ctx, vehicle, model.LocationLoading)
	if err != nil {
		return Decision{}, err
	}

	if access.IsStaff {
		err := s.activities.Append(ctx, model.ParkActivity{
			VehicleID:     vehicle.ID,
			QueueLocation: model.LocationLoading,
			Status:        model.ActivityEntry,
			DebitType:     model.DebitNone,
		})
		if err != nil {
			return Decision{}, err
		}
		return granted(), nil
	}

	if access.Bypass() {
		if !access.EnoughWalletBalance {
			s.log.Infow("loading entry denied, insufficient balance",
				"vehicle_id", vehicle.ID, "balance", vehicle.WalletBalance)
			return denied(), nil
		}
		if err := s.queues.EnterLoading(ctx, vehicle.ID, s.now()); err != nil {
			return Decision{}, err
		}
		err := s.activities.Append(ctx, model.ParkActivity{
			VehicleID:     vehicle.ID,
			QueueLocation: model.LocationLoading,
			Status:        model.ActivityEntry,
			DebitType:     model.DebitNone,
		})
		if err != nil {
			return Decision{}, err
		}
		return granted(), nil
	}

	entry, err := s.queues.Find(ctx, vehicle.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !entry.ExitStatus || entry.QueueLocation != model.LocationRowCall {
		return denied(), nil
	}

	moved, err := s.queues.AdmitStagedToLoading(ctx, vehicle.ID, s.now())
	if err != nil {
		return Decision{}, err
	}
	if !moved {
		// A concurrent transition moved the vehicle out of RowCall
		// between the read and the write.
		return denied(), nil
	}

	err = s.activities.Append(ctx, model.ParkActivity{
		VehicleID:     vehicle.ID,
		QueueLocation: model.LocationLoading,
		Status:        model.ActivityEntry,
		DebitType:     model.DebitNone,
	})
	if err != nil {
		return Decision{}, err
	}
	return granted(), nil
}

// handleLoadingExitGate: leaving the loading bay, which completes the
// visit. Non-staff vehicles must have been debited by the payment
// process before the gate lets them out.
func (s *AccessService) handleLoadingExitGate(ctx context.Context, vehicle *model.Vehicle) (Decision, error) {
	access, err := s.evaluatePolicy(ctx, vehicle, model.LocationLoading)
	if err != nil {
		return Decision{}, err
	}

	if access.IsStaff {
		err := s.activities.Append(ctx, model.ParkActivity{
			VehicleID:     vehicle.ID,
			QueueLocation: model.LocationLoading,
			Status:        model.ActivityExit,
			DebitStatus:   true,
			DebitType:     model.DebitNone,
		})
		if err != nil {
			return Decision{}, err
		}
		return granted(), nil
	}

	entry, err := s.queues.Find(ctx, vehicle.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return denied(), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !entry.DebitStatus {
		s.log.Infow("loading exit denied, not debited", "vehicle_id", vehicle.ID)
		return denied(), nil
	}

	err = s.activities.Append(ctx, model.ParkActivity{
		VehicleID:     vehicle.ID,
		QueueLocation: model.LocationExit,
		Status:        model.ActivityExit,
		DebitStatus:   true,
		DebitType:     model.DebitWallet,
	})
	if err != nil {
		return Decision{}, err
	}
	if err := s.queues.Delete(ctx, vehicle.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Decision{}, err
	}

	// A slot opened up; let the sweep refill it.
	s.sweeps.Trigger()
	return granted(), nil
}

// evaluatePolicy resolves the fleet and its location rule, then runs
// the pure policy. A missing rule evaluates with zero thresholds.
func (s *AccessService) evaluatePolicy(
	ctx context.Context,
	vehicle *model.Vehicle,
	target model.QueueLocation,
) (SpecialAccess, error) {
	fleet, err := s.dir.FleetByID(ctx, vehicle.FleetID)
	if err != nil {
		return SpecialAccess{}, err
	}

	rule, err := s.dir.ParkRuleByLocation(ctx, fleet.BaseLocationID)
	if errors.Is(err, repository.ErrNotFound) {
		rule = nil
	} else if err != nil {
		return SpecialAccess{}, err
	}

	return EvaluateSpecialAccess(vehicle, fleet, rule, target), nil
}
