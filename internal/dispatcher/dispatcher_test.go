package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevatorsim/controller/internal/car"
	"github.com/elevatorsim/controller/internal/cost"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/waiting"
)

// fakeCar is a minimal, directly-controllable CarScheduler stand-in so
// dispatcher behavior can be tested without a real control loop.
type fakeCar struct {
	mu           sync.Mutex
	id           string
	snap         domain.Snapshot
	reason       car.Reason
	canContinue  bool
	hardCommit   bool
	accepted     []domain.HallCall
	reserved     []domain.HallCall
	cancelled    []domain.HallCall
	deferred     []domain.HallCall
	acceptResult bool
	idle         bool
}

func newFakeCar(id string) *fakeCar {
	return &fakeCar{
		id:           id,
		reason:       car.Accepted,
		canContinue:  true,
		acceptResult: true,
		idle:         true,
		snap:         domain.Snapshot{ID: id, Capacity: 4},
	}
}

func (f *fakeCar) ID() string { return f.id }
func (f *fakeCar) Snapshot() domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}
func (f *fakeCar) TryAddHallCall(call domain.HallCall) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptResult {
		f.accepted = append(f.accepted, call)
	}
	return f.acceptResult
}
func (f *fakeCar) TryReserveHallCall(call domain.HallCall) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptResult {
		f.reserved = append(f.reserved, call)
	}
	return f.acceptResult
}
func (f *fakeCar) CanAcceptHallCallReason(domain.HallCall) car.Reason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}
func (f *fakeCar) CanContinueServingAssignedCall(domain.HallCall) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canContinue
}
func (f *fakeCar) IsHardCommitted(domain.HallCall) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hardCommit
}
func (f *fakeCar) CancelHallCall(floor domain.Floor, dir domain.Direction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, domain.NewHallCall(floor, dir))
}
func (f *fakeCar) DeferCall(call domain.HallCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, call)
}
func (f *fakeCar) IsTrulyIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func newTestDispatcher(cars ...CarScheduler) *Dispatcher {
	wm := waiting.New()
	d := New(cars, wm, cost.NoZones{}, Config{
		EventBatch:              16,
		CallReassignCooldownMs:  1000,
		CallReassignMinImprove:  12,
		NoElevatorLogCooldownMs: 5000,
	})
	return d
}

func TestAssign_PicksAcceptingCarAndCommits(t *testing.T) {
	a := newFakeCar("a")
	d := newTestDispatcher(a)

	p := domain.NewPassenger(1, domain.NewFloor(3), domain.NewFloor(7))
	d.waiting.Submit(p)
	call := domain.NewHallCall(p.StartFloor, p.Direction())
	d.addPending(call)

	d.dispatchPass()

	assert.Len(t, a.accepted, 1)
	d.mu.RLock()
	assignedID := d.assignments[call]
	d.mu.RUnlock()
	assert.Equal(t, "a", assignedID)
}

func TestAssign_CommitRecordsAssignmentCostMetric(t *testing.T) {
	a := newFakeCar("a")
	d := newTestDispatcher(a)

	p := domain.NewPassenger(1, domain.NewFloor(3), domain.NewFloor(7))
	d.waiting.Submit(p)
	call := domain.NewHallCall(p.StartFloor, p.Direction())
	d.addPending(call)

	d.dispatchPass()

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "elevator_dispatcher_assignment_cost" {
			found = true
			break
		}
	}
	assert.True(t, found, "a committed assignment should observe the assignment_cost histogram")
}

func TestAssign_NoAcceptingCarLeavesCallPending(t *testing.T) {
	a := newFakeCar("a")
	a.reason = car.FullCapacity
	d := newTestDispatcher(a)

	p := domain.NewPassenger(1, domain.NewFloor(3), domain.NewFloor(7))
	d.waiting.Submit(p)
	call := domain.NewHallCall(p.StartFloor, p.Direction())
	d.addPending(call)

	d.dispatchPass()

	d.mu.RLock()
	_, assigned := d.assignments[call]
	pendingLen := len(d.pendingCalls)
	d.mu.RUnlock()
	assert.False(t, assigned)
	assert.Equal(t, 1, pendingLen)
}

func TestAssign_EmptyWaitingDropsCallFromPending(t *testing.T) {
	a := newFakeCar("a")
	d := newTestDispatcher(a)

	call := domain.NewHallCall(domain.NewFloor(3), domain.DirectionUp)
	d.addPending(call)

	d.dispatchPass()

	d.mu.RLock()
	_, pending := d.pendingSet[call]
	d.mu.RUnlock()
	assert.False(t, pending)
}

func TestAssign_RaceLossDefersOnCar(t *testing.T) {
	a := newFakeCar("a")
	a.acceptResult = false
	d := newTestDispatcher(a)

	p := domain.NewPassenger(1, domain.NewFloor(3), domain.NewFloor(7))
	d.waiting.Submit(p)
	call := domain.NewHallCall(p.StartFloor, p.Direction())
	d.addPending(call)

	d.dispatchPass()

	assert.Len(t, a.deferred, 1)
	d.mu.RLock()
	_, assigned := d.assignments[call]
	d.mu.RUnlock()
	assert.False(t, assigned)
}

func TestFindBestElevator_NormalPassPrefersLowerCost(t *testing.T) {
	near := newFakeCar("near")
	near.snap = domain.Snapshot{ID: "near", CurrentFloor: domain.NewFloor(3), Capacity: 4}
	far := newFakeCar("far")
	far.snap = domain.Snapshot{ID: "far", CurrentFloor: domain.NewFloor(9), Capacity: 4}

	d := newTestDispatcher(near, far)
	call := domain.NewHallCall(domain.NewFloor(3), domain.DirectionUp)

	pick, mode := d.findBestElevator(call)
	require.NotNil(t, pick)
	assert.Equal(t, pickNormal, mode)
	assert.Equal(t, "near", pick.ID())
}

func TestFindBestElevator_FallsBackToReservedReverseSoon(t *testing.T) {
	a := newFakeCar("a")
	a.reason = car.AcceptedReserved
	a.snap = domain.Snapshot{ID: "a", CurrentFloor: domain.NewFloor(5), Status: domain.StatusMoving, Capacity: 4}

	d := newTestDispatcher(a)
	call := domain.NewHallCall(domain.NewFloor(6), domain.DirectionDown)

	pick, mode := d.findBestElevator(call)
	require.NotNil(t, pick)
	assert.Equal(t, pickReservedReverseSoon, mode)
}

func TestFindBestElevator_FallsBackToReserve(t *testing.T) {
	a := newFakeCar("a")
	a.reason = car.WrongDirection
	a.snap = domain.Snapshot{ID: "a", CurrentFloor: domain.NewFloor(2), Status: domain.StatusIdle, Load: 0, PlannedStops: 0, Capacity: 4}

	d := newTestDispatcher(a)
	call := domain.NewHallCall(domain.NewFloor(6), domain.DirectionDown)

	pick, mode := d.findBestElevator(call)
	require.NotNil(t, pick)
	assert.Equal(t, pickReserve, mode)
}

func TestFindBestElevator_NoneAcceptReturnsNone(t *testing.T) {
	a := newFakeCar("a")
	a.reason = car.FullCapacity
	a.snap = domain.Snapshot{ID: "a", Load: 4, Capacity: 4, PlannedStops: 3}

	d := newTestDispatcher(a)
	call := domain.NewHallCall(domain.NewFloor(6), domain.DirectionDown)

	pick, mode := d.findBestElevator(call)
	assert.Nil(t, pick)
	assert.Equal(t, pickNone, mode)
}

func TestShouldReassign_RespectsCooldown(t *testing.T) {
	assigned := newFakeCar("assigned")
	assigned.snap = domain.Snapshot{ID: "assigned", CurrentFloor: domain.NewFloor(9), Capacity: 4}
	better := newFakeCar("better")
	better.snap = domain.Snapshot{ID: "better", CurrentFloor: domain.NewFloor(3), Capacity: 4}

	d := newTestDispatcher(assigned, better)
	call := domain.NewHallCall(domain.NewFloor(3), domain.DirectionUp)
	d.mu.Lock()
	d.lastReassignMs[call] = nowMs()
	d.mu.Unlock()

	assert.False(t, d.shouldReassign(call, "assigned", assigned))
}

func TestShouldReassign_TrueWhenFarAndImprovementLargeEnough(t *testing.T) {
	assigned := newFakeCar("assigned")
	assigned.snap = domain.Snapshot{ID: "assigned", CurrentFloor: domain.NewFloor(30), Capacity: 4}
	better := newFakeCar("better")
	better.snap = domain.Snapshot{ID: "better", CurrentFloor: domain.NewFloor(3), Status: domain.StatusIdle, Capacity: 4}

	d := newTestDispatcher(assigned, better)
	call := domain.NewHallCall(domain.NewFloor(3), domain.DirectionUp)

	assert.True(t, d.shouldReassign(call, "assigned", assigned))
}

func TestShouldReassign_FalseWhenHardCommitted(t *testing.T) {
	assigned := newFakeCar("assigned")
	assigned.snap = domain.Snapshot{ID: "assigned", CurrentFloor: domain.NewFloor(9), Capacity: 4}
	assigned.hardCommit = true
	better := newFakeCar("better")
	better.snap = domain.Snapshot{ID: "better", CurrentFloor: domain.NewFloor(3), Capacity: 4}

	d := newTestDispatcher(assigned, better)
	call := domain.NewHallCall(domain.NewFloor(3), domain.DirectionUp)

	assert.False(t, d.shouldReassign(call, "assigned", assigned))
}

func TestClaimHallCallAtFloor_StealsFromPreviousAssignee(t *testing.T) {
	owner := newFakeCar("owner")
	stealer := newFakeCar("stealer")
	d := newTestDispatcher(owner, stealer)

	call := domain.NewHallCall(domain.NewFloor(4), domain.DirectionUp)
	d.waiting.Submit(domain.NewPassenger(1, domain.NewFloor(4), domain.NewFloor(8)))
	d.mu.Lock()
	d.assignments[call] = "owner"
	d.mu.Unlock()

	ok := d.ClaimHallCallAtFloor(call.Floor, call.Direction, "stealer")

	assert.True(t, ok)
	assert.Len(t, owner.cancelled, 1)
	d.mu.RLock()
	assert.Equal(t, "stealer", d.assignments[call])
	d.mu.RUnlock()
}

func TestClaimHallCallAtFloor_FalseWhenNobodyWaiting(t *testing.T) {
	d := newTestDispatcher(newFakeCar("a"))
	ok := d.ClaimHallCallAtFloor(domain.NewFloor(4), domain.DirectionUp, "a")
	assert.False(t, ok)
}

func TestBoardPassengers_RetiresCallWhenQueueEmpties(t *testing.T) {
	owner := newFakeCar("owner")
	d := newTestDispatcher(owner)

	p := domain.NewPassenger(1, domain.NewFloor(4), domain.NewFloor(8))
	d.waiting.Submit(p)
	call := domain.NewHallCall(p.StartFloor, p.Direction())
	d.addPending(call)
	d.mu.Lock()
	d.assignments[call] = "owner"
	d.mu.Unlock()

	boarded := d.BoardPassengers(p.StartFloor, p.Direction(), 4)

	assert.Len(t, boarded, 1)
	d.mu.RLock()
	_, assigned := d.assignments[call]
	_, pending := d.pendingSet[call]
	d.mu.RUnlock()
	assert.False(t, assigned)
	assert.False(t, pending)
}

func TestBoardPassengers_KeepsCallWhenQueueStillHasWaiters(t *testing.T) {
	owner := newFakeCar("owner")
	d := newTestDispatcher(owner)

	p1 := domain.NewPassenger(1, domain.NewFloor(4), domain.NewFloor(8))
	p2 := domain.NewPassenger(2, domain.NewFloor(4), domain.NewFloor(9))
	d.waiting.Submit(p1)
	d.waiting.Submit(p2)
	call := domain.NewHallCall(p1.StartFloor, p1.Direction())
	d.mu.Lock()
	d.assignments[call] = "owner"
	d.mu.Unlock()

	boarded := d.BoardPassengers(p1.StartFloor, p1.Direction(), 1)

	assert.Len(t, boarded, 1)
	d.mu.RLock()
	_, assigned := d.assignments[call]
	d.mu.RUnlock()
	assert.True(t, assigned)
}

func TestDrain_TrueWhenQuiescent(t *testing.T) {
	d := newTestDispatcher(newFakeCar("a"))
	assert.True(t, d.Drain(100*time.Millisecond))
}

func TestDrain_FalseWhenCarNotIdle(t *testing.T) {
	busy := newFakeCar("busy")
	busy.idle = false
	d := newTestDispatcher(busy)
	assert.False(t, d.Drain(30*time.Millisecond))
}

func TestSubmitRequest_EnqueuesEvent(t *testing.T) {
	a := newFakeCar("a")
	d := newTestDispatcher(a)
	go d.Run()
	defer d.Shutdown()

	p := domain.NewPassenger(1, domain.NewFloor(3), domain.NewFloor(7))
	d.SubmitRequest(p)

	assert.Eventually(t, func() bool {
		return d.waiting.HasWaiting(p.StartFloor, p.Direction())
	}, time.Second, 5*time.Millisecond)
}
