package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obi/parkgate/internal/model"
)

type sweepFixture struct {
	sched      *SweepScheduler
	queues     *fakeQueueStore
	dir        *fakeDirectory
	activities *fakeActivityLog
	notifier   *fakeNotifier
	now        time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	f := &sweepFixture{
		queues:     newFakeQueueStore(),
		dir:        newFakeDirectory(),
		activities: newFakeActivityLog(),
		notifier:   &fakeNotifier{},
		now:        time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	f.sched = NewSweepScheduler(f.queues, f.dir, f.activities, f.notifier, time.Minute, zap.NewNop().Sugar())
	f.sched.now = func() time.Time { return f.now }
	return f
}

// parked adds a Parking queue entry for the vehicle, entryTime offset
// by `age` into the past so FIFO order is explicit in each test.
func (f *sweepFixture) parked(vehicleID, fleetID, balance int64, age time.Duration) {
	f.queues.put(model.QueueEntry{
		VehicleID:     vehicleID,
		QueueLocation: model.LocationParking,
		EntryTime:     f.now.Add(-age),
	}, fleetID, balance)
}

func (f *sweepFixture) loading(vehicleID, fleetID int64) {
	f.queues.put(model.QueueEntry{
		VehicleID:     vehicleID,
		QueueLocation: model.LocationLoading,
		EntryTime:     f.now.Add(-2 * time.Hour),
	}, fleetID, 0)
}

func (f *sweepFixture) staged(vehicleID, fleetID int64, age time.Duration) {
	f.queues.put(model.QueueEntry{
		VehicleID:     vehicleID,
		QueueLocation: model.LocationRowCall,
		EntryTime:     f.now.Add(-age),
		ExitStatus:    true,
	}, fleetID, 0)
}

func (f *sweepFixture) locationOf(t *testing.T, vehicleID int64) model.QueueLocation {
	t.Helper()
	entry, err := f.queues.Find(context.Background(), vehicleID)
	require.NoError(t, err)
	return entry.QueueLocation
}

func TestSweep_PromotesOldestFirstUpToCap(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 1, MinCompanyDriverCount: -1})
	f.parked(1, 1, 0, 30*time.Minute)
	f.parked(2, 1, 0, 60*time.Minute) // oldest
	f.parked(3, 1, 0, 10*time.Minute)

	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Equal(t, model.LocationRowCall, f.locationOf(t, 2), "oldest entry promotes first")
	assert.Equal(t, model.LocationParking, f.locationOf(t, 1))
	assert.Equal(t, model.LocationParking, f.locationOf(t, 3))
	assert.Equal(t, 1, f.notifier.sentTo(2, msgCallUp))
	assert.Equal(t, 1, f.activities.count(model.LocationRowCall, model.ActivityEntry))
}

func TestSweep_LoadingOccupancyConsumesSlots(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 2, MinCompanyDriverCount: -1})
	f.loading(100, 1)
	f.loading(101, 1)
	f.parked(1, 1, 0, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Equal(t, model.LocationParking, f.locationOf(t, 1), "bay at capacity, no promotion")
	assert.Empty(t, f.notifier.sent)
}

func TestSweep_SkipsUnderfundedVehicles(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{
		LocationID:            10,
		MinWalletBalance:      300,
		MinPickupCharge:       200,
		MaxCompanyQueueCall:   2,
		MinCompanyDriverCount: -1,
	})
	f.parked(1, 1, 100, 2*time.Hour) // oldest but below the 500 threshold
	f.parked(2, 1, 500, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Equal(t, model.LocationParking, f.locationOf(t, 1))
	assert.Equal(t, model.LocationRowCall, f.locationOf(t, 2), "funding, not age, decides eligibility")
}

func TestSweep_CapNeverExceededAcrossRepeatedSweeps(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 2, MinCompanyDriverCount: -1})
	for i := int64(1); i <= 5; i++ {
		f.parked(i, 1, 0, time.Duration(i)*time.Minute)
	}

	require.NoError(t, f.sched.Sweep(context.Background()))
	require.NoError(t, f.sched.Sweep(context.Background()))

	promoted := 0
	for vid := int64(1); vid <= 5; vid++ {
		if f.locationOf(t, vid) == model.LocationRowCall {
			promoted++
		}
	}
	assert.Equal(t, 4, promoted, "two slots per sweep, loading occupancy unchanged")
}

func TestSweep_FlushesRowCallWhenBayUnderSubscribed(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 0, MinCompanyDriverCount: 2})
	f.staged(1, 1, time.Hour)
	f.staged(2, 1, 30*time.Minute)

	require.NoError(t, f.sched.Sweep(context.Background()))

	for _, vid := range []int64{1, 2} {
		entry, err := f.queues.Find(context.Background(), vid)
		require.NoError(t, err)
		assert.True(t, entry.RowCallStatus)
		assert.Equal(t, 1, f.notifier.sentTo(vid, msgMoveToLoading))
	}
	assert.Equal(t, 2, f.activities.count(model.LocationRowCall, model.ActivityExit))
}

func TestSweep_MoveToLoadingNotifiedOncePerStay(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 0, MinCompanyDriverCount: 2})
	f.staged(1, 1, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()))
	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Equal(t, 1, f.notifier.sentTo(1, msgMoveToLoading), "repeat sweeps must not re-notify")
	assert.Equal(t, 2, f.activities.count(model.LocationRowCall, model.ActivityExit),
		"the exit record is appended every flush")
}

func TestSweep_NoFlushWhileBaySubscribed(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 5, MinCompanyDriverCount: 1})
	f.loading(100, 1)
	f.loading(101, 1)
	f.staged(1, 1, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Zero(t, f.notifier.sentTo(1, msgMoveToLoading), "occupancy above the floor keeps RowCall staged")
}

func TestSweep_FleetsIsolatedByCapAndFailure(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.dir.addFleet(model.Fleet{ID: 2, BaseLocationID: 20})
	f.dir.addRule(model.ParkRule{LocationID: 10, MaxCompanyQueueCall: 1, MinCompanyDriverCount: -1})
	f.dir.addRule(model.ParkRule{LocationID: 20, MaxCompanyQueueCall: 1, MinCompanyDriverCount: -1})
	f.dir.ruleErr[10] = errors.New("rule store down")
	f.parked(1, 1, 0, time.Hour)
	f.parked(2, 2, 0, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()), "one fleet failing does not fail the sweep")

	assert.Equal(t, model.LocationParking, f.locationOf(t, 1))
	assert.Equal(t, model.LocationRowCall, f.locationOf(t, 2), "healthy fleet still sweeps")
}

func TestSweep_FleetWithoutRuleSkipped(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.addFleet(model.Fleet{ID: 1, BaseLocationID: 10})
	f.parked(1, 1, 0, time.Hour)

	require.NoError(t, f.sched.Sweep(context.Background()))

	assert.Equal(t, model.LocationParking, f.locationOf(t, 1))
	assert.Empty(t, f.notifier.sent)
}

func TestSweep_FleetEnumerationFailureFailsSweep(t *testing.T) {
	f := newSweepFixture(t)
	f.dir.fleetListErr = errors.New("db down")

	assert.Error(t, f.sched.Sweep(context.Background()))
}

func TestTrigger_NonBlockingAndCoalescing(t *testing.T) {
	f := newSweepFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			f.sched.Trigger()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked with no consumer")
	}
	assert.Len(t, f.sched.trigger, 1, "pending requests coalesce into one")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newSweepFixture(t)
	f.sched.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(stopped)
	}()

	f.sched.Trigger()
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
