// Package dispatcher implements the group controller's single worker
// thread: an event queue, the pending hall-call list, the car-to-call
// assignment map, and the findBestElevator/shouldReassign scoring that picks
// and re-picks which car serves each hall call. It is the only writer of
// WaitingModel: generator and HTTP submissions reach it through SubmitRequest.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elevatorsim/controller/internal/car"
	"github.com/elevatorsim/controller/internal/constants"
	"github.com/elevatorsim/controller/internal/cost"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/waiting"
	"github.com/elevatorsim/controller/metrics"
)

// CarScheduler is the subset of *car.Car the dispatcher depends on. Defined
// here rather than in package car to avoid an import cycle.
type CarScheduler interface {
	ID() string
	Snapshot() domain.Snapshot
	TryAddHallCall(call domain.HallCall) bool
	TryReserveHallCall(call domain.HallCall) bool
	CanAcceptHallCallReason(call domain.HallCall) car.Reason
	CanContinueServingAssignedCall(call domain.HallCall) bool
	IsHardCommitted(call domain.HallCall) bool
	CancelHallCall(floor domain.Floor, dir domain.Direction)
	DeferCall(call domain.HallCall)
	IsTrulyIdle() bool
}

type eventKind int

const (
	eventPassengerRequest eventKind = iota
	eventElevatorUpdate
)

type event struct {
	kind      eventKind
	passenger domain.Passenger
	carID     string
}

type pickMode int

const (
	pickNone pickMode = iota
	pickNormal
	pickReservedReverseSoon
	pickReserve
)

func passName(mode pickMode) string {
	switch mode {
	case pickNormal:
		return "normal"
	case pickReservedReverseSoon:
		return "reserved_reverse_soon"
	case pickReserve:
		return "reserve"
	default:
		return "none"
	}
}

const (
	assignmentWeight   = 6
	onTheWayDiscount   = 3
	reservedSoonWeight = 25
	reserveWeight      = 6
)

// Config carries the dispatcher's tunables, translated from
// internal/infra/config at wiring time.
type Config struct {
	EventBatch              int
	CallReassignCooldownMs  int
	CallReassignMinImprove  int
	NoElevatorLogCooldownMs int
}

// Dispatcher is the group controller's assignment engine.
type Dispatcher struct {
	cars     []CarScheduler
	carsByID map[string]CarScheduler
	waiting  *waiting.Model
	zones    cost.ZonePenalizer
	cfg      Config

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu                sync.RWMutex
	pendingCalls      []domain.HallCall
	pendingSet        map[domain.HallCall]struct{}
	assignments       map[domain.HallCall]string
	lastReassignMs    map[domain.HallCall]int64
	lastNoElevatorLog map[domain.HallCall]time.Time
}

// New creates a Dispatcher over the given cars. zones may be nil, in which
// case no zoning penalty is applied.
func New(cars []CarScheduler, wm *waiting.Model, zones cost.ZonePenalizer, cfg Config) *Dispatcher {
	if zones == nil {
		zones = cost.NoZones{}
	}
	if cfg.EventBatch <= 0 {
		cfg.EventBatch = 64
	}

	byID := make(map[string]CarScheduler, len(cars))
	for _, c := range cars {
		byID[c.ID()] = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cars:              cars,
		carsByID:          byID,
		waiting:           wm,
		zones:             zones,
		cfg:               cfg,
		events:            make(chan event, 256),
		ctx:               ctx,
		cancel:            cancel,
		logger:            slog.With(slog.String("component", constants.ComponentDispatcher)),
		pendingSet:        make(map[domain.HallCall]struct{}),
		assignments:       make(map[domain.HallCall]string),
		lastReassignMs:    make(map[domain.HallCall]int64),
		lastNoElevatorLog: make(map[domain.HallCall]time.Time),
	}
}

// SetCars attaches the building's cars after construction, for callers that
// must build the Dispatcher before its cars exist (each car.New takes a
// DispatcherHandle, so the dispatcher has to come first). Not safe to call
// concurrently with Run.
func (d *Dispatcher) SetCars(cars []CarScheduler) {
	d.cars = cars
	d.carsByID = make(map[string]CarScheduler, len(cars))
	for _, c := range cars {
		d.carsByID[c.ID()] = c
	}
}

// Run is the dispatcher's worker loop; call it in its own goroutine.
func (d *Dispatcher) Run() {
	d.logger.Info("dispatcher started", slog.String("event", constants.EventSystem))
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("dispatcher stopped", slog.String("event", constants.EventSystem))
			return
		case ev := <-d.events:
			d.handleEvent(ev)
			d.drainBatch()
		case <-time.After(time.Second):
		}
		d.dispatchPass()
	}
}

func (d *Dispatcher) drainBatch() {
	for i := 0; i < d.cfg.EventBatch; i++ {
		select {
		case ev := <-d.events:
			d.handleEvent(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) handleEvent(ev event) {
	switch ev.kind {
	case eventPassengerRequest:
		d.waiting.Submit(ev.passenger)
		call := domain.NewHallCall(ev.passenger.StartFloor, ev.passenger.Direction())
		d.addPending(call)
		d.logger.Info("passenger request",
			slog.String("event", constants.EventRequest),
			slog.Int("start_floor", ev.passenger.StartFloor.Value()),
			slog.Int("target_floor", ev.passenger.TargetFloor.Value()))
	case eventElevatorUpdate:
		// No direct work; the event exists only to trigger a dispatch pass.
	}
}

// Shutdown stops the worker loop.
func (d *Dispatcher) Shutdown() {
	d.cancel()
}

// SubmitRequest posts a PassengerRequest event. Unlike NotifyElevatorUpdate,
// this never drops a request: a full queue blocks the caller until there is
// room or the dispatcher shuts down.
func (d *Dispatcher) SubmitRequest(p domain.Passenger) {
	select {
	case d.events <- event{kind: eventPassengerRequest, passenger: p}:
	case <-d.ctx.Done():
	}
}

// NotifyElevatorUpdate implements car.DispatcherHandle: a best-effort wakeup
// hint, safe to call while the car's own lock is held.
func (d *Dispatcher) NotifyElevatorUpdate(carID string) {
	select {
	case d.events <- event{kind: eventElevatorUpdate, carID: carID}:
	default:
	}
}

// AssignedCarSnapshot implements car.DispatcherHandle.
func (d *Dispatcher) AssignedCarSnapshot(call domain.HallCall) (domain.Snapshot, bool) {
	d.mu.RLock()
	id, ok := d.assignments[call]
	d.mu.RUnlock()
	if !ok {
		return domain.Snapshot{}, false
	}
	c, ok := d.carsByID[id]
	if !ok {
		return domain.Snapshot{}, false
	}
	return c.Snapshot(), true
}

// ClaimHallCallAtFloor implements car.DispatcherHandle: lets an en-route car
// steal a hall call it happens to be passing, provided someone is still
// waiting. The previous assignee, if different, is told to stand down.
func (d *Dispatcher) ClaimHallCallAtFloor(floor domain.Floor, dir domain.Direction, claimerID string) bool {
	call := domain.NewHallCall(floor, dir)
	if !d.waiting.HasWaiting(floor, dir) {
		return false
	}

	d.mu.Lock()
	previous, hadAssignment := d.assignments[call]
	d.assignments[call] = claimerID
	d.lastReassignMs[call] = nowMs()
	d.mu.Unlock()

	if hadAssignment && previous != claimerID {
		if prevCar, ok := d.carsByID[previous]; ok {
			prevCar.CancelHallCall(floor, dir)
		}
	}

	d.addPending(call)
	d.logger.Info("hall call claimed en route",
		slog.String("event", constants.EventClaimed),
		slog.String("car_id", claimerID),
		slog.Int("floor", floor.Value()),
		slog.String("direction", string(dir)))
	return true
}

// BoardPassengers implements car.DispatcherHandle: the only path that
// consumes waiting passengers. If the queue empties as a result, the hall
// call is retired from pending and assignment bookkeeping, and the previous
// assignee (if any, and if it isn't the caller) is told to cancel.
func (d *Dispatcher) BoardPassengers(floor domain.Floor, dir domain.Direction, maxK int) []domain.Passenger {
	boarded := d.waiting.Board(floor, dir, maxK)
	if len(boarded) == 0 {
		return nil
	}

	if !d.waiting.HasWaiting(floor, dir) {
		call := domain.NewHallCall(floor, dir)
		d.mu.Lock()
		assignedID, wasAssigned := d.assignments[call]
		delete(d.assignments, call)
		d.mu.Unlock()
		d.removePending(call)

		if wasAssigned {
			if assignedCar, ok := d.carsByID[assignedID]; ok {
				assignedCar.CancelHallCall(floor, dir)
			}
		}
	}

	d.logger.Info("passengers boarded",
		slog.String("event", constants.EventBoard),
		slog.Int("floor", floor.Value()),
		slog.String("direction", string(dir)),
		slog.Int("count", len(boarded)))
	return boarded
}

func (d *Dispatcher) addPending(call domain.HallCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pendingSet[call]; ok {
		return
	}
	d.pendingSet[call] = struct{}{}
	d.pendingCalls = append(d.pendingCalls, call)
}

func (d *Dispatcher) removePending(call domain.HallCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pendingSet[call]; !ok {
		return
	}
	delete(d.pendingSet, call)
	for i, c := range d.pendingCalls {
		if c == call {
			d.pendingCalls = append(d.pendingCalls[:i], d.pendingCalls[i+1:]...)
			break
		}
	}
}

func (d *Dispatcher) removeAssignment(call domain.HallCall) {
	d.mu.Lock()
	delete(d.assignments, call)
	d.mu.Unlock()
}

func (d *Dispatcher) assignedCount(carID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, id := range d.assignments {
		if id == carID {
			n++
		}
	}
	return n
}

// dispatchPass implements §4.4's dispatch pass over a snapshot of pending
// calls.
func (d *Dispatcher) dispatchPass() {
	d.mu.RLock()
	calls := make([]domain.HallCall, len(d.pendingCalls))
	copy(calls, d.pendingCalls)
	d.mu.RUnlock()

	for _, call := range calls {
		if !d.waiting.HasWaiting(call.Floor, call.Direction) {
			d.removePending(call)
			d.removeAssignment(call)
			continue
		}

		d.mu.RLock()
		assignedID, isAssigned := d.assignments[call]
		d.mu.RUnlock()

		if isAssigned {
			assignedCar, ok := d.carsByID[assignedID]
			switch {
			case !ok:
				d.removeAssignment(call)
			case assignedCar.CanContinueServingAssignedCall(call):
				if !d.shouldReassign(call, assignedID, assignedCar) {
					continue
				}
				assignedCar.CancelHallCall(call.Floor, call.Direction)
				d.removeAssignment(call)
			default:
				assignedCar.CancelHallCall(call.Floor, call.Direction)
				d.removeAssignment(call)
			}
		}

		pick, mode := d.findBestElevator(call)
		if mode == pickNone {
			d.logNoElevator(call)
			continue
		}

		var committed bool
		if mode == pickReservedReverseSoon {
			committed = pick.TryReserveHallCall(call)
		} else {
			committed = pick.TryAddHallCall(call)
		}

		if committed {
			d.mu.Lock()
			d.assignments[call] = pick.ID()
			d.mu.Unlock()
			metrics.IncAssignment(pick.ID(), passName(mode))
			metrics.ObserveAssignmentCost(passName(mode), float64(cost.Cost(pick.Snapshot(), call, d.zones)))
			if isAssigned && assignedID != pick.ID() {
				metrics.IncReassignment(assignedID, pick.ID())
			}
			d.logger.Info("hall call assigned",
				slog.String("event", constants.EventAssign),
				slog.String("car_id", pick.ID()),
				slog.Int("floor", call.Floor.Value()),
				slog.String("direction", string(call.Direction)))
			continue
		}

		pick.DeferCall(call)
		d.logger.Info("assignment race lost, left pending",
			slog.String("event", constants.EventRejected),
			slog.String("car_id", pick.ID()),
			slog.Int("floor", call.Floor.Value()),
			slog.String("direction", string(call.Direction)))
	}
}

// findBestElevator runs the three-pass search from §4.4.
func (d *Dispatcher) findBestElevator(call domain.HallCall) (CarScheduler, pickMode) {
	if pick := d.bestNormal(call); pick != nil {
		return pick, pickNormal
	}
	if pick := d.bestReservedReverseSoon(call); pick != nil {
		return pick, pickReservedReverseSoon
	}
	if pick := d.bestReserve(call); pick != nil {
		return pick, pickReserve
	}
	return nil, pickNone
}

func (d *Dispatcher) bestNormal(call domain.HallCall) CarScheduler {
	var best CarScheduler
	var bestScore int
	var bestSnap domain.Snapshot

	for _, c := range d.cars {
		if c.CanAcceptHallCallReason(call) != car.Accepted {
			continue
		}
		snap := c.Snapshot()
		score := cost.Cost(snap, call, d.zones) + assignmentWeight*d.assignedCount(c.ID())
		if cost.OnTheWay(snap, call) {
			score -= onTheWayDiscount
		}
		if best == nil || betterNormalPick(score, snap, bestScore, bestSnap, d.assignedCount(c.ID()), d.assignedCount(best.ID())) {
			best, bestScore, bestSnap = c, score, snap
		}
	}
	return best
}

func betterNormalPick(score int, snap domain.Snapshot, bestScore int, bestSnap domain.Snapshot, assigned, bestAssigned int) bool {
	if score != bestScore {
		return score < bestScore
	}
	if assigned != bestAssigned {
		return assigned < bestAssigned
	}
	if snap.PlannedStops != bestSnap.PlannedStops {
		return snap.PlannedStops < bestSnap.PlannedStops
	}
	return snap.Load < bestSnap.Load
}

func (d *Dispatcher) bestReservedReverseSoon(call domain.HallCall) CarScheduler {
	var best CarScheduler
	var bestScore int

	for _, c := range d.cars {
		if c.CanAcceptHallCallReason(call) != car.AcceptedReserved {
			continue
		}
		snap := c.Snapshot()
		if snap.Status == domain.StatusDoorsOpen {
			continue
		}
		score := cost.Cost(snap, call, d.zones) + reservedSoonWeight + assignmentWeight*d.assignedCount(c.ID())
		if best == nil || score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func (d *Dispatcher) bestReserve(call domain.HallCall) CarScheduler {
	var best CarScheduler
	var bestScore int

	for _, c := range d.cars {
		snap := c.Snapshot()
		if snap.Load != 0 || snap.PlannedStops != 0 || snap.Status == domain.StatusDoorsOpen {
			continue
		}
		score := reserveWeight*snap.CurrentFloor.Distance(call.Floor) + assignmentWeight*d.assignedCount(c.ID())
		if best == nil || score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// shouldReassign implements the hysteresis rules from §4.4.
func (d *Dispatcher) shouldReassign(call domain.HallCall, assignedID string, assignedCar CarScheduler) bool {
	d.mu.RLock()
	last := d.lastReassignMs[call]
	d.mu.RUnlock()
	if nowMs()-last < int64(d.cfg.CallReassignCooldownMs) {
		return false
	}

	if assignedCar.IsHardCommitted(call) {
		return false
	}

	snap := assignedCar.Snapshot()
	if snap.CurrentFloor.Distance(call.Floor) <= 1 {
		return false
	}

	best, mode := d.findBestElevator(call)
	if mode == pickNone || best.ID() == assignedID {
		return false
	}
	bestSnap := best.Snapshot()
	if !(bestSnap.IsIdle() || cost.OnTheWay(bestSnap, call)) {
		return false
	}

	currentCost := d.effectiveCost(assignedCar, snap, call)
	bestCost := d.effectiveCost(best, bestSnap, call)
	if currentCost-bestCost < d.cfg.CallReassignMinImprove {
		return false
	}

	d.mu.Lock()
	d.lastReassignMs[call] = nowMs()
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) effectiveCost(c CarScheduler, snap domain.Snapshot, call domain.HallCall) int {
	score := cost.Cost(snap, call, d.zones) + assignmentWeight*d.assignedCount(c.ID())
	if cost.OnTheWay(snap, call) {
		score -= onTheWayDiscount
	}
	return score
}

func (d *Dispatcher) logNoElevator(call domain.HallCall) {
	d.mu.Lock()
	last, ok := d.lastNoElevatorLog[call]
	now := time.Now()
	if ok && now.Sub(last) < time.Duration(d.cfg.NoElevatorLogCooldownMs)*time.Millisecond {
		d.mu.Unlock()
		return
	}
	d.lastNoElevatorLog[call] = now
	d.mu.Unlock()

	metrics.IncError("no_elevator_available", constants.ComponentDispatcher)
	d.logger.Warn("no elevator available for call",
		slog.String("event", constants.EventNoElevator),
		slog.Int("floor", call.Floor.Value()),
		slog.String("direction", string(call.Direction)))
}

// Drain blocks until WaitingModel is empty, no calls are pending or
// assigned, and every car is truly idle, or until timeout elapses.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.isQuiescent() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return d.isQuiescent()
}

func (d *Dispatcher) isQuiescent() bool {
	if !d.waiting.IsEmpty() {
		return false
	}

	d.mu.RLock()
	pending := len(d.pendingCalls)
	assigned := len(d.assignments)
	d.mu.RUnlock()
	if pending > 0 || assigned > 0 {
		return false
	}

	for _, c := range d.cars {
		if !c.IsTrulyIdle() {
			return false
		}
	}
	return true
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
