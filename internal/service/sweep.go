package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/model"
	"github.com/obi/parkgate/internal/repository"
)

// Notification texts sent by the sweep.
const (
	msgCallUp        = "You have been called up. You will soon be called to the loading bay."
	msgMoveToLoading = "A loading slot is open. Please move to the loading bay."
)

// SweepScheduler runs the admission and promotion sweep: the only
// place cross-vehicle fairness (FIFO within a fleet, per-fleet cap)
// and capacity signaling are enforced. Gate handlers request a sweep
// through Trigger; a worker loop drains requests with at-most-one
// pending, and a ticker guarantees a floor frequency regardless of
// scan traffic.
type SweepScheduler struct {
	queues     QueueStore
	dir        Directory
	activities ActivityLog
	notifier   Notifier
	log        *zap.SugaredLogger
	interval   time.Duration
	now        func() time.Time

	// Buffered at 1: while a sweep request is pending, further
	// triggers coalesce into it instead of queueing up.
	trigger chan struct{}
}

// NewSweepScheduler creates the scheduler. Run must be started for
// triggers to have any effect.
func NewSweepScheduler(
	queues QueueStore,
	dir Directory,
	activities ActivityLog,
	notifier Notifier,
	interval time.Duration,
	log *zap.SugaredLogger,
) *SweepScheduler {
	return &SweepScheduler{
		queues:     queues,
		dir:        dir,
		activities: activities,
		notifier:   notifier,
		log:        log,
		interval:   interval,
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger requests a sweep and returns immediately. Gate latency is
// user-facing, so callers never wait on sweep completion.
func (s *SweepScheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
		s.log.Debugw("sweep trigger coalesced into pending request")
	}
}

// Run drains trigger requests and fires the interval sweep until the
// context is cancelled. Sweep errors are logged, never propagated.
func (s *SweepScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-ticker.C:
		}

		if err := s.Sweep(ctx); err != nil {
			s.log.Errorw("sweep failed", "error", err)
		}
	}
}

// Sweep executes one pass across all fleets. A fleet's failure is
// logged and must not block the others, so per-fleet errors stay
// inside the loop; only the fleet enumeration itself can fail the
// sweep as a whole.
func (s *SweepScheduler) Sweep(ctx context.Context) error {
	started := s.now()

	fleets, err := s.dir.FleetsWithVehicles(ctx)
	if err != nil {
		return err
	}

	for _, fleet := range fleets {
		if err := s.sweepFleet(ctx, fleet); err != nil {
			s.log.Errorw("fleet sweep failed", "fleet_id", fleet.ID, "error", err)
		}
	}

	s.log.Debugw("sweep complete", "fleets", len(fleets), "took", s.now().Sub(started))
	return nil
}

// sweepFleet rebalances one fleet:
//
//  1. Promote the oldest funded Parking entries into RowCall, up to
//     maxCompanyQueueCall minus the current Loading occupancy.
//  2. When the loading bay is under-subscribed, call the whole RowCall
//     stage forward.
func (s *SweepScheduler) sweepFleet(ctx context.Context, fleet model.Fleet) error {
	rule, err := s.dir.ParkRuleByLocation(ctx, fleet.BaseLocationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No rule configured for this location: the fleet is not
			// managed by the sweep.
			return nil
		}
		return err
	}

	loading, err := s.queues.CountByLocationAndFleet(ctx, model.LocationLoading, fleet.ID)
	if err != nil {
		return err
	}

	if slots := rule.MaxCompanyQueueCall - loading; slots > 0 {
		s.promoteParked(ctx, fleet, rule, slots)
	}

	if loading <= rule.MinCompanyDriverCount {
		return s.flushRowCall(ctx, fleet)
	}
	return nil
}

// promoteParked calls up to `slots` vehicles from Parking into
// RowCall, strict FIFO by entry time. Per-vehicle failures are logged
// and skipped so one bad record cannot stall the fleet.
func (s *SweepScheduler) promoteParked(ctx context.Context, fleet model.Fleet, rule *model.ParkRule, slots int) {
	eligible, err := s.queues.ListParkingEligible(ctx, fleet.ID, rule.MinCharge(), slots)
	if err != nil {
		s.log.Errorw("eligible selection failed", "fleet_id", fleet.ID, "error", err)
		return
	}

	for _, entry := range eligible {
		promoted, err := s.queues.PromoteToRowCall(ctx, entry.VehicleID, s.now())
		if err != nil {
			s.log.Errorw("promotion failed", "vehicle_id", entry.VehicleID, "error", err)
			continue
		}
		if !promoted {
			// A gate scan moved the vehicle since selection; its slot
			// stays unused until the next sweep.
			continue
		}

		if err := s.notifier.SendToLocation(ctx, fleet.BaseLocationID, msgCallUp, []int64{entry.VehicleID}); err != nil {
			s.log.Errorw("call-up notification failed", "vehicle_id", entry.VehicleID, "error", err)
		}
		err = s.activities.Append(ctx, model.ParkActivity{
			VehicleID:     entry.VehicleID,
			QueueLocation: model.LocationRowCall,
			Status:        model.ActivityEntry,
			DebitType:     model.DebitNone,
		})
		if err != nil {
			s.log.Errorw("rowcall entry log failed", "vehicle_id", entry.VehicleID, "error", err)
		}
	}
}

// flushRowCall signals every staged vehicle of the fleet to move to
// the loading bay. The notification is sent once per vehicle per stay,
// guarded by the unpaid RowCall exit record; the exit record itself is
// appended unconditionally.
func (s *SweepScheduler) flushRowCall(ctx context.Context, fleet model.Fleet) error {
	staged, err := s.queues.ListByLocationAndFleet(ctx, model.LocationRowCall, fleet.ID)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		return nil
	}

	ids := make([]int64, len(staged))
	for i, entry := range staged {
		ids[i] = entry.VehicleID
	}
	if err := s.queues.SetRowCallStatus(ctx, ids); err != nil {
		return err
	}

	for _, entry := range staged {
		notified, err := s.activities.HasUnpaidExit(ctx, entry.VehicleID, model.LocationRowCall)
		if err != nil {
			s.log.Errorw("notification guard lookup failed", "vehicle_id", entry.VehicleID, "error", err)
		} else if !notified {
			if err := s.notifier.SendToLocation(ctx, fleet.BaseLocationID, msgMoveToLoading, []int64{entry.VehicleID}); err != nil {
				s.log.Errorw("move-to-loading notification failed", "vehicle_id", entry.VehicleID, "error", err)
			}
		}

		err = s.activities.Append(ctx, model.ParkActivity{
			VehicleID:     entry.VehicleID,
			QueueLocation: model.LocationRowCall,
			Status:        model.ActivityExit,
			DebitType:     model.DebitNone,
		})
		if err != nil {
			s.log.Errorw("rowcall exit log failed", "vehicle_id", entry.VehicleID, "error", err)
		}
	}
	return nil
}
