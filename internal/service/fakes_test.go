package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/obi/parkgate/internal/model"
	"github.com/obi/parkgate/internal/repository"
)

// In-memory stand-ins for the repository layer. They reproduce the
// contract the SQL implementations provide, including the conditional
// semantics of the promotion and admission writes.

// ─── fakeQueueStore ─────────────────────────────────────────

type fakeQueueStore struct {
	mu       sync.Mutex
	entries  map[int64]*model.QueueEntry
	fleets   map[int64]int64 // vehicle id to fleet id, for per-fleet queries
	balances map[int64]int64 // vehicle id to wallet balance, for eligibility
	nextID   int64

	failWith error
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		entries:  make(map[int64]*model.QueueEntry),
		fleets:   make(map[int64]int64),
		balances: make(map[int64]int64),
	}
}

func (f *fakeQueueStore) snapshot() map[int64]model.QueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]model.QueueEntry, len(f.entries))
	for id, e := range f.entries {
		out[id] = *e
	}
	return out
}

func (f *fakeQueueStore) put(e model.QueueEntry, fleetID, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	f.entries[e.VehicleID] = &e
	f.fleets[e.VehicleID] = fleetID
	f.balances[e.VehicleID] = balance
}

func (f *fakeQueueStore) Find(_ context.Context, vehicleID int64) (*model.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	e, ok := f.entries[vehicleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeQueueStore) ResetToParking(_ context.Context, vehicleID int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	e, ok := f.entries[vehicleID]
	if !ok {
		f.nextID++
		e = &model.QueueEntry{ID: f.nextID, VehicleID: vehicleID}
		f.entries[vehicleID] = e
	}
	e.QueueLocation = model.LocationParking
	e.EntryTime = now
	e.ExitTime = nil
	e.CallTime = nil
	e.ExitStatus = false
	e.DebitStatus = false
	e.RowCallStatus = false
	e.PayStatus = false
	e.UpdatedAt = now
	return nil
}

func (f *fakeQueueStore) StageForRowCall(_ context.Context, vehicleID int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	e, ok := f.entries[vehicleID]
	if !ok {
		f.nextID++
		e = &model.QueueEntry{ID: f.nextID, VehicleID: vehicleID, EntryTime: now}
		f.entries[vehicleID] = e
	}
	e.QueueLocation = model.LocationRowCall
	e.ExitStatus = true
	e.RowCallStatus = true
	e.UpdatedAt = now
	return nil
}

func (f *fakeQueueStore) MarkExited(_ context.Context, vehicleID int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[vehicleID]
	if !ok {
		return repository.ErrNotFound
	}
	e.ExitStatus = true
	e.ExitTime = &now
	e.UpdatedAt = now
	return nil
}

func (f *fakeQueueStore) EnterLoading(_ context.Context, vehicleID int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[vehicleID]
	if !ok {
		f.nextID++
		e = &model.QueueEntry{ID: f.nextID, VehicleID: vehicleID, EntryTime: now}
		f.entries[vehicleID] = e
	}
	e.QueueLocation = model.LocationLoading
	e.UpdatedAt = now
	return nil
}

func (f *fakeQueueStore) AdmitStagedToLoading(_ context.Context, vehicleID int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[vehicleID]
	if !ok || e.QueueLocation != model.LocationRowCall || !e.ExitStatus {
		return false, nil
	}
	e.QueueLocation = model.LocationLoading
	e.UpdatedAt = now
	return true, nil
}

func (f *fakeQueueStore) Delete(_ context.Context, vehicleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[vehicleID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.entries, vehicleID)
	return nil
}

func (f *fakeQueueStore) CountByLocationAndFleet(_ context.Context, location model.QueueLocation, fleetID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	n := 0
	for vid, e := range f.entries {
		if e.QueueLocation == location && f.fleets[vid] == fleetID {
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) ListByLocationAndFleet(_ context.Context, location model.QueueLocation, fleetID int64) ([]model.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueueEntry
	for vid, e := range f.entries {
		if e.QueueLocation == location && f.fleets[vid] == fleetID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (f *fakeQueueStore) ListParkingEligible(_ context.Context, fleetID int64, minBalance int64, limit int) ([]model.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueueEntry
	for vid, e := range f.entries {
		if e.QueueLocation != model.LocationParking || f.fleets[vid] != fleetID {
			continue
		}
		if f.balances != nil && f.balances[vid] < minBalance {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueueStore) PromoteToRowCall(_ context.Context, vehicleID int64, callTime time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[vehicleID]
	if !ok || e.QueueLocation != model.LocationParking {
		return false, nil
	}
	e.QueueLocation = model.LocationRowCall
	e.CallTime = &callTime
	e.UpdatedAt = callTime
	return true, nil
}

func (f *fakeQueueStore) SetRowCallStatus(_ context.Context, vehicleIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vid := range vehicleIDs {
		if e, ok := f.entries[vid]; ok {
			e.RowCallStatus = true
		}
	}
	return nil
}

// ─── fakeDirectory ──────────────────────────────────────────

type fakeDirectory struct {
	mu       sync.Mutex
	tags     map[string]*model.Tag
	vehicles map[int64]*model.Vehicle // keyed by tag primary key
	fleets   map[int64]*model.Fleet
	rules    map[int64]*model.ParkRule // keyed by location id
	devices  map[string]*model.Device

	createdTags   []string
	controlWrites []model.ControlState
	idlePasses    int
	nextTagPK     int64

	fleetListErr error
	ruleErr      map[int64]error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		tags:     make(map[string]*model.Tag),
		vehicles: make(map[int64]*model.Vehicle),
		fleets:   make(map[int64]*model.Fleet),
		rules:    make(map[int64]*model.ParkRule),
		devices:  make(map[string]*model.Device),
		ruleErr:  make(map[int64]error),
	}
}

func (f *fakeDirectory) addDevice(deviceID string, role model.DeviceRole) {
	f.devices[deviceID] = &model.Device{DeviceID: deviceID, InstallPoint: role, Status: model.DeviceActive}
}

// addVehicle registers an assigned tag and its vehicle. The vehicle's
// fleet must be added separately with addFleet.
func (f *fakeDirectory) addVehicle(tagID string, v model.Vehicle) {
	f.nextTagPK++
	pk := f.nextTagPK
	f.tags[tagID] = &model.Tag{ID: pk, TagID: tagID, Status: model.TagAssigned}
	v.TagID = &pk
	f.vehicles[pk] = &v
}

func (f *fakeDirectory) addFleet(fl model.Fleet) {
	f.fleets[fl.ID] = &fl
}

func (f *fakeDirectory) addRule(r model.ParkRule) {
	f.rules[r.LocationID] = &r
}

func (f *fakeDirectory) TagByID(_ context.Context, tagID string) (*model.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tags[tagID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeDirectory) CreateTag(_ context.Context, tagID string) (*model.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTagPK++
	t := &model.Tag{ID: f.nextTagPK, TagID: tagID, Status: model.TagUnassigned}
	f.tags[tagID] = t
	f.createdTags = append(f.createdTags, tagID)
	cp := *t
	return &cp, nil
}

func (f *fakeDirectory) VehicleByTag(_ context.Context, tagPK int64) (*model.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[tagPK]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeDirectory) FleetByID(_ context.Context, id int64) (*model.Fleet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.fleets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *fl
	return &cp, nil
}

func (f *fakeDirectory) FleetsWithVehicles(_ context.Context) ([]model.Fleet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fleetListErr != nil {
		return nil, f.fleetListErr
	}
	var out []model.Fleet
	for _, fl := range f.fleets {
		out = append(out, *fl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) ParkRuleByLocation(_ context.Context, locationID int64) (*model.ParkRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ruleErr[locationID]; err != nil {
		return nil, err
	}
	r, ok := f.rules[locationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeDirectory) TouchDevice(_ context.Context, deviceID string) (*model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d.Status = model.DeviceActive
	cp := *d
	return &cp, nil
}

func (f *fakeDirectory) SetDeviceControl(_ context.Context, deviceID string, state model.ControlState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	d.CtlState = state
	f.controlWrites = append(f.controlWrites, state)
	return nil
}

func (f *fakeDirectory) DeactivateIdleDevices(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idlePasses++
	return 0, nil
}

// ─── fakeActivityLog ────────────────────────────────────────

type fakeActivityLog struct {
	mu      sync.Mutex
	records []model.ParkActivity

	// recentEntryFor makes Append return ErrRecentEntry for a Parking
	// ENTRY of the given vehicle, mirroring the re-entry window guard.
	recentEntryFor map[int64]bool
	// unpaidExits answers HasUnpaidExit per vehicle and location.
	unpaidExits map[int64]map[model.QueueLocation]bool
}

func newFakeActivityLog() *fakeActivityLog {
	return &fakeActivityLog{
		recentEntryFor: make(map[int64]bool),
		unpaidExits:    make(map[int64]map[model.QueueLocation]bool),
	}
}

func (f *fakeActivityLog) Append(_ context.Context, a model.ParkActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.QueueLocation == model.LocationParking && a.Status == model.ActivityEntry && f.recentEntryFor[a.VehicleID] {
		return repository.ErrRecentEntry
	}
	f.records = append(f.records, a)
	if a.Status == model.ActivityExit && !a.DebitStatus {
		locs := f.unpaidExits[a.VehicleID]
		if locs == nil {
			locs = make(map[model.QueueLocation]bool)
			f.unpaidExits[a.VehicleID] = locs
		}
		locs[a.QueueLocation] = true
	}
	return nil
}

func (f *fakeActivityLog) HasUnpaidExit(_ context.Context, vehicleID int64, location model.QueueLocation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unpaidExits[vehicleID][location], nil
}

func (f *fakeActivityLog) all() []model.ParkActivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ParkActivity, len(f.records))
	copy(out, f.records)
	return out
}

func (f *fakeActivityLog) count(loc model.QueueLocation, status model.ActivityStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.QueueLocation == loc && r.Status == status {
			n++
		}
	}
	return n
}

// ─── fakeNotifier / fakeSweepTrigger ────────────────────────

type sentNotification struct {
	LocationID int64
	Message    string
	VehicleIDs []int64
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) SendToLocation(_ context.Context, locationID int64, message string, vehicleIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{LocationID: locationID, Message: message, VehicleIDs: vehicleIDs})
	return nil
}

func (f *fakeNotifier) sentTo(vehicleID int64, message string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Message != message {
			continue
		}
		for _, vid := range s.VehicleIDs {
			if vid == vehicleID {
				n++
			}
		}
	}
	return n
}

type fakeSweepTrigger struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSweepTrigger) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeSweepTrigger) triggered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
