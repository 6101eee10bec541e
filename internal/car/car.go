// Package car implements the CarScheduler: one goroutine per elevator car
// that owns a stop list, a direction, and a door/boarding state machine, and
// exposes a side-effect-free acceptance oracle the dispatcher uses to decide
// assignments. The control loop and its context/timeout/circuit-breaker
// wiring follow a single-elevator-style event loop, generalized to the
// group-controller's hall-call/reservation model.
package car

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elevatorsim/controller/internal/constants"
	"github.com/elevatorsim/controller/internal/directions"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/infra/clock"
	"github.com/elevatorsim/controller/internal/waiting"
	"github.com/elevatorsim/controller/metrics"
)

// DispatcherHandle is the subset of the dispatcher a car needs: posting
// updates, resolving en-route steals, and the one path that ever consumes
// waiting passengers.
type DispatcherHandle interface {
	NotifyElevatorUpdate(carID string)
	AssignedCarSnapshot(call domain.HallCall) (domain.Snapshot, bool)
	ClaimHallCallAtFloor(floor domain.Floor, dir domain.Direction, claimerID string) bool
	BoardPassengers(floor domain.Floor, dir domain.Direction, maxK int) []domain.Passenger
}

// Config carries every tunable a car needs at construction.
type Config struct {
	ID                 string
	MinFloor, MaxFloor int
	Capacity           int

	FloorDurationMs    int
	DoorDurationMs     int
	BoardingDurationMs int
	OperationTimeout   time.Duration

	MaxPlannedStops          int
	ReserveReverseSoonFloors int
	EnroutePickupEnabled     bool
	EnrouteStealMinDistance  int

	CircuitBreakerMaxFailures   int
	CircuitBreakerResetTimeout  time.Duration
	CircuitBreakerHalfOpenLimit int
}

// Car is one elevator car's scheduler: state, stop bookkeeping, and control
// loop.
type Car struct {
	id                 string
	minFloor, maxFloor domain.Floor
	capacity           int

	mu               sync.Mutex
	currentFloor     domain.Floor
	direction        domain.Direction
	status           domain.CarStatus
	passengersInside []domain.Passenger
	stops            *directions.Manager
	pendingCalls     []domain.HallCall

	ctx    context.Context
	cancel context.CancelFunc
	wakeCh chan struct{}

	clock      *clock.SimClock
	dispatcher DispatcherHandle
	waiting    *waiting.Model
	logger     *slog.Logger

	circuitBreaker *CircuitBreaker

	floorDurationMs          int
	doorDurationMs           int
	boardingDurationMs       int
	operationTimeout         time.Duration
	maxPlannedStops          int
	reserveReverseSoonFloors int
	enroutePickupEnabled     bool
	enrouteStealMinDistance  int
}

// New creates a car and starts its control loop goroutine.
func New(cfg Config, clk *clock.SimClock, wm *waiting.Model, dispatcher DispatcherHandle) (*Car, error) {
	if cfg.ID == "" {
		return nil, domain.NewValidationError("car id cannot be empty", nil)
	}
	if cfg.MinFloor == cfg.MaxFloor {
		return nil, domain.NewValidationError("minFloor and maxFloor cannot be equal", nil).
			WithContext("min_floor", cfg.MinFloor).
			WithContext("max_floor", cfg.MaxFloor)
	}
	if cfg.Capacity <= 0 {
		return nil, domain.NewValidationError("capacity must be positive", nil).
			WithContext("capacity", cfg.Capacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	minFloor := domain.NewFloor(cfg.MinFloor)

	c := &Car{
		id:                       cfg.ID,
		minFloor:                 minFloor,
		maxFloor:                 domain.NewFloor(cfg.MaxFloor),
		capacity:                 cfg.Capacity,
		currentFloor:             minFloor,
		direction:                domain.DirectionIdle,
		status:                   domain.StatusIdle,
		stops:                    directions.New(),
		ctx:                      ctx,
		cancel:                   cancel,
		wakeCh:                   make(chan struct{}, 1),
		clock:                    clk,
		dispatcher:               dispatcher,
		waiting:                  wm,
		logger:                   slog.With(slog.String("component", constants.ComponentCar), slog.String("car_id", cfg.ID)),
		circuitBreaker:           NewCircuitBreaker(cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout, cfg.CircuitBreakerHalfOpenLimit),
		floorDurationMs:          cfg.FloorDurationMs,
		doorDurationMs:           cfg.DoorDurationMs,
		boardingDurationMs:       cfg.BoardingDurationMs,
		operationTimeout:         cfg.OperationTimeout,
		maxPlannedStops:          cfg.MaxPlannedStops,
		reserveReverseSoonFloors: cfg.ReserveReverseSoonFloors,
		enroutePickupEnabled:     cfg.EnroutePickupEnabled,
		enrouteStealMinDistance:  cfg.EnrouteStealMinDistance,
	}

	go c.loop()
	c.logger.Info("car created",
		slog.Int("min_floor", cfg.MinFloor),
		slog.Int("max_floor", cfg.MaxFloor),
		slog.Int("capacity", cfg.Capacity))
	return c, nil
}

// ID returns the car's identifier.
func (c *Car) ID() string { return c.id }

// MinFloor and MaxFloor report the car's serviceable range.
func (c *Car) MinFloor() domain.Floor { return c.minFloor }
func (c *Car) MaxFloor() domain.Floor { return c.maxFloor }

// Shutdown cancels the car's control loop.
func (c *Car) Shutdown() {
	c.logger.Info("shutting down car")
	c.cancel()
	c.wake()
}

func (c *Car) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Snapshot returns an atomic, point-in-time view of the car.
func (c *Car) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return domain.Snapshot{
		ID:               c.id,
		CurrentFloor:     c.currentFloor,
		Direction:        c.direction,
		Status:           c.status,
		Load:             len(c.passengersInside),
		Capacity:         c.capacity,
		PlannedStops:     c.stops.PlannedStops(),
		FurthestUpStop:   c.stops.FurthestUp(),
		FurthestDownStop: c.stops.FurthestDown(),
	}
}

// IsTrulyIdle reports an empty, stationary, directionless car.
func (c *Car) IsTrulyIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passengersInside) == 0 && c.stops.IsIdle() && c.direction == domain.DirectionIdle
}

// TryAddHallCall attempts to commit call into the car's route. It rejects
// when the car is full (marking it LOAD_FULL) or when a moving car has
// already passed the call's floor; an opposite-direction call is only
// reserved, and only on an empty car with at most one planned stop;
// anything else becomes a hall stop.
func (c *Car) TryAddHallCall(call domain.HallCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.passengersInside) >= c.capacity {
		c.status = domain.StatusLoadFull
		return false
	}

	floor, dir := call.Floor, call.Direction

	if floor == c.currentFloor && c.status == domain.StatusDoorsOpen {
		c.stops.AddHallStop(floor, c.currentFloor, dir)
		c.wake()
		return true
	}

	if c.direction != domain.DirectionIdle {
		behind := (c.direction == domain.DirectionUp && floor.Value() < c.currentFloor.Value()) ||
			(c.direction == domain.DirectionDown && floor.Value() > c.currentFloor.Value())
		if behind {
			return false
		}

		if dir != c.direction {
			if len(c.passengersInside) == 0 && c.stops.PlannedStops() <= 1 && c.status != domain.StatusDoorsOpen {
				c.stops.Reserve(call)
				c.wake()
				return true
			}
			return false
		}
	}

	c.stops.AddHallStop(floor, c.currentFloor, dir)
	c.wake()
	return true
}

// TryReserveHallCall inserts call into the reservation set if the car has
// headroom.
func (c *Car) TryReserveHallCall(call domain.HallCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.passengersInside) >= c.capacity {
		return false
	}
	if c.stops.PlannedStops() >= c.maxPlannedStops {
		return false
	}
	c.stops.Reserve(call)
	c.wake()
	return true
}

// CanAcceptHallCallReason is the side-effect-free acceptance oracle the
// dispatcher uses to rank and validate candidates.
func (c *Car) CanAcceptHallCallReason(call domain.HallCall) Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptReasonLocked(call)
}

func (c *Car) acceptReasonLocked(call domain.HallCall) Reason {
	if len(c.passengersInside) >= c.capacity {
		return FullCapacity
	}
	if c.stops.PlannedStops() >= c.maxPlannedStops {
		return TooManyStops
	}

	floor, dir := call.Floor, call.Direction

	if c.status == domain.StatusDoorsOpen {
		if floor == c.currentFloor {
			if c.direction == domain.DirectionIdle || c.direction == dir {
				return Accepted
			}
			return WrongDirection
		}
		return DoorsBusy
	}

	if c.direction == domain.DirectionIdle {
		return Accepted
	}

	if c.direction == dir {
		if c.withinEnvelopeLocked(floor, c.direction) {
			return Accepted
		}
		return OutOfRoute
	}

	if len(c.passengersInside) == 0 {
		reversal := c.furthestLocked(c.direction)
		if c.withinEnvelopeLocked(floor, c.direction) &&
			c.currentFloor.Distance(reversal) <= c.reserveReverseSoonFloors &&
			c.stops.PlannedStops() <= 1 {
			return AcceptedReserved
		}
	}
	return WrongDirection
}

func (c *Car) furthestLocked(dir domain.Direction) domain.Floor {
	var f domain.Floor
	if dir == domain.DirectionUp {
		f = c.stops.FurthestUp()
	} else {
		f = c.stops.FurthestDown()
	}
	if f == domain.NoStop {
		return c.currentFloor
	}
	return f
}

func (c *Car) withinEnvelopeLocked(floor domain.Floor, dir domain.Direction) bool {
	end := c.furthestLocked(dir)
	if dir == domain.DirectionUp {
		return floor.Value() >= c.currentFloor.Value() && floor.Value() <= end.Value()
	}
	return floor.Value() <= c.currentFloor.Value() && floor.Value() >= end.Value()
}

// CanContinueServingAssignedCall reports whether the car is still a valid
// holder of call: already hard-committed, at the floor with doors open, or
// the oracle still accepts it.
func (c *Car) CanContinueServingAssignedCall(call domain.HallCall) bool {
	c.mu.Lock()
	committed := containsDirection(c.stops.HallDirectionsAt(call.Floor), call.Direction) || reservedContains(c.stops.Reserved(), call)
	atFloorDoorsOpen := call.Floor == c.currentFloor && c.status == domain.StatusDoorsOpen
	if committed || atFloorDoorsOpen {
		c.mu.Unlock()
		return true
	}
	reason := c.acceptReasonLocked(call)
	c.mu.Unlock()
	return reason == Accepted || reason == AcceptedReserved || reason == DoorsBusy
}

// IsHardCommitted reports whether call is already committed in the car's
// hall map or reservation set, used by the dispatcher's reassignment
// hysteresis to avoid undoing real commitments.
func (c *Car) IsHardCommitted(call domain.HallCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return containsDirection(c.stops.HallDirectionsAt(call.Floor), call.Direction) || reservedContains(c.stops.Reserved(), call)
}

// CancelHallCall drops call from the car's commitments.
func (c *Car) CancelHallCall(floor domain.Floor, dir domain.Direction) {
	c.mu.Lock()
	c.stops.CancelHallCall(floor, dir)
	c.mu.Unlock()
	c.wake()
}

func containsDirection(dirs []domain.Direction, target domain.Direction) bool {
	for _, d := range dirs {
		if d == target {
			return true
		}
	}
	return false
}

func reservedContains(calls []domain.HallCall, target domain.HallCall) bool {
	for _, call := range calls {
		if call == target {
			return true
		}
	}
	return false
}

// loop is the car's single control-loop goroutine.
func (c *Car) loop() {
	for {
		target, ok := c.waitForTarget()
		if !ok {
			return
		}
		c.runCycleWithTimeout(target)
	}
}

// waitForTarget implements control-loop steps 1-3: while idle, try to
// activate reservations or go idle and wait; once there is work, commit a
// direction and pick the next target floor.
func (c *Car) waitForTarget() (domain.Floor, bool) {
	for {
		if c.ctx.Err() != nil {
			return domain.Floor(0), false
		}

		c.mu.Lock()
		if !c.stops.IsIdle() {
			c.updateDirectionLocked()
			target, ok := c.chooseNextTargetLocked()
			c.mu.Unlock()
			if ok {
				return target, true
			}
			continue
		}

		if len(c.stops.Reserved()) > 0 && len(c.passengersInside) == 0 {
			if c.activateReservationsLocked() {
				c.mu.Unlock()
				continue
			}
		}

		c.direction = domain.DirectionIdle
		c.status = domain.StatusIdle
		c.mu.Unlock()
		c.dispatcher.NotifyElevatorUpdate(c.id)

		select {
		case <-c.ctx.Done():
			return domain.Floor(0), false
		case <-c.wakeCh:
		case <-time.After(time.Second):
		}
	}
}

func (c *Car) activateReservationsLocked() bool {
	for _, call := range c.stops.Reserved() {
		if c.waiting.HasWaiting(call.Floor, call.Direction) {
			c.stops.ActivateReservation(call, c.currentFloor)
			return true
		}
		c.stops.DiscardReservation(call)
	}
	return false
}

func (c *Car) updateDirectionLocked() {
	if c.direction == domain.DirectionIdle {
		up, hasUp := c.stops.NextHallUp(c.currentFloor)
		down, hasDown := c.stops.NextHallDown(c.currentFloor)
		switch {
		case hasUp && hasDown:
			if c.currentFloor.Distance(up) <= c.currentFloor.Distance(down) {
				c.direction = domain.DirectionUp
			} else {
				c.direction = domain.DirectionDown
			}
		case hasUp:
			c.direction = domain.DirectionUp
		case hasDown:
			c.direction = domain.DirectionDown
		}
	}

	if c.direction == domain.DirectionUp && !c.stops.HasUp() && c.stops.HasDown() {
		c.direction = domain.DirectionDown
	}
	if c.direction == domain.DirectionDown && !c.stops.HasDown() && c.stops.HasUp() {
		c.direction = domain.DirectionUp
	}
}

func (c *Car) chooseNextTargetLocked() (domain.Floor, bool) {
	switch c.direction {
	case domain.DirectionUp:
		return c.stops.NextHallUp(c.currentFloor)
	case domain.DirectionDown:
		return c.stops.NextHallDown(c.currentFloor)
	default:
		return domain.Floor(0), false
	}
}

// runCycleWithTimeout wraps a single move-and-exchange cycle with a timeout
// and circuit breaker guard.
func (c *Car) runCycleWithTimeout(target domain.Floor) {
	ctx, cancel := context.WithTimeout(c.ctx, c.operationTimeout)
	defer cancel()

	done := make(chan struct{})
	var opErr error

	go func() {
		defer close(done)
		opErr = c.circuitBreaker.Execute(ctx, func() error {
			return c.moveTo(ctx, target)
		})
	}()

	select {
	case <-ctx.Done():
		c.logger.Warn("car cycle timed out", slog.Duration("timeout", c.operationTimeout))
	case <-done:
		if opErr != nil {
			state, failures, _ := c.circuitBreaker.GetMetrics()
			c.logger.Warn("car cycle failed via circuit breaker",
				slog.Int("circuit_breaker_state", int(state)),
				slog.Int("failure_count", failures),
				slog.String("error", opErr.Error()))
		}
	}

	state, _, _ := c.circuitBreaker.GetMetrics()
	metrics.SetCircuitBreakerState(c.id, float64(state))
}

// moveTo implements control-loop steps 4-6: advance floor-by-floor toward
// target, stopping early for a committed stop or a claimed en-route steal,
// then exchange passengers.
func (c *Car) moveTo(ctx context.Context, target domain.Floor) error {
	c.mu.Lock()
	cur := c.currentFloor
	if target.Value() > cur.Value() {
		c.direction = domain.DirectionUp
	} else if target.Value() < cur.Value() {
		c.direction = domain.DirectionDown
	}
	dir := c.direction
	c.status = domain.StatusMoving
	c.mu.Unlock()
	c.dispatcher.NotifyElevatorUpdate(c.id)

	step := 1
	if dir == domain.DirectionDown {
		step = -1
	}

	for cur.Value() != target.Value() {
		if err := c.clock.Sleep(ctx, c.floorDurationMs); err != nil {
			return err
		}
		cur = domain.NewFloor(cur.Value() + step)

		c.mu.Lock()
		c.currentFloor = cur
		stopHere := c.stops.HasStopAt(cur)
		c.mu.Unlock()
		metrics.SetCurrentFloor(c.id, float64(cur.Value()))

		if stopHere {
			break
		}

		if c.enroutePickupEnabled && c.tryStealEnroute(cur, dir) {
			break
		}
	}

	c.mu.Lock()
	reached := c.currentFloor
	c.stops.RemoveFloor(reached)
	c.updateDirectionLocked()
	c.mu.Unlock()

	c.logEvent(constants.EventArrived, reached)

	return c.operateDoorsAndExchange(ctx, reached)
}

func (c *Car) tryStealEnroute(floor domain.Floor, dir domain.Direction) bool {
	c.mu.Lock()
	full := len(c.passengersInside) >= c.capacity
	tooManyStops := c.stops.PlannedStops() >= c.maxPlannedStops
	c.mu.Unlock()

	if full || tooManyStops || !c.waiting.HasWaiting(floor, dir) {
		return false
	}

	if snap, assigned := c.dispatcher.AssignedCarSnapshot(domain.NewHallCall(floor, dir)); assigned && snap.ID != c.id {
		if !movingAwayFrom(snap, floor) && snap.CurrentFloor.Distance(floor) < c.enrouteStealMinDistance {
			return false
		}
	}

	if !c.dispatcher.ClaimHallCallAtFloor(floor, dir, c.id) {
		return false
	}

	c.mu.Lock()
	c.stops.AddHallStop(floor, c.currentFloor, dir)
	c.mu.Unlock()
	metrics.IncStolenPickup(c.id)
	return true
}

func movingAwayFrom(s domain.Snapshot, floor domain.Floor) bool {
	switch s.Direction {
	case domain.DirectionUp:
		return s.CurrentFloor.Value() > floor.Value()
	case domain.DirectionDown:
		return s.CurrentFloor.Value() < floor.Value()
	default:
		return false
	}
}

// operateDoorsAndExchange implements control-loop step 6: open, offload,
// decide a boarding direction, board, close, and drain deferred calls.
func (c *Car) operateDoorsAndExchange(ctx context.Context, reached domain.Floor) error {
	c.mu.Lock()
	alreadyServed := c.status == domain.StatusDoorsOpen && c.currentFloor == reached
	c.mu.Unlock()
	if alreadyServed {
		return nil
	}

	c.mu.Lock()
	c.status = domain.StatusDoorsOpen
	c.mu.Unlock()
	c.logEvent(constants.EventDoorOpen, reached)
	if err := c.clock.Sleep(ctx, c.doorDurationMs); err != nil {
		return err
	}

	c.mu.Lock()
	remaining := make([]domain.Passenger, 0, len(c.passengersInside))
	offloaded := 0
	for _, p := range c.passengersInside {
		if p.TargetFloor == reached {
			offloaded++
			continue
		}
		remaining = append(remaining, p)
	}
	c.passengersInside = remaining
	c.stops.RemoveInternalStop(reached)
	allowed := c.stops.HallDirectionsAt(reached)
	c.mu.Unlock()
	if offloaded > 0 {
		c.logEvent(constants.EventDisembark, reached)
	}

	if len(allowed) == 0 {
		allowed = []domain.Direction{domain.DirectionUp, domain.DirectionDown}
	}

	boardDir, shouldBoard := c.chooseBoardingDirection(reached, allowed)

	boardedCount := 0
	if shouldBoard {
		c.mu.Lock()
		capacityLeft := c.capacity - len(c.passengersInside)
		cur := c.currentFloor
		c.mu.Unlock()

		if capacityLeft > 0 {
			boarded := c.dispatcher.BoardPassengers(reached, boardDir, capacityLeft)
			if len(boarded) > 0 {
				c.mu.Lock()
				for _, p := range boarded {
					c.passengersInside = append(c.passengersInside, p)
					c.stops.AddInternalStop(p.TargetFloor, cur)
				}
				c.mu.Unlock()
				boardedCount = len(boarded)
				c.logEvent(constants.EventBoard, reached)
			}
		}
	}

	if boardedCount > 0 {
		if err := c.clock.Sleep(ctx, c.boardingDurationMs*boardedCount); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.stops.RemoveHallDirections(reached, allowed)
	c.mu.Unlock()

	if err := c.clock.Sleep(ctx, c.doorDurationMs); err != nil {
		return err
	}

	c.mu.Lock()
	if len(c.passengersInside) >= c.capacity {
		c.status = domain.StatusLoadFull
	} else {
		c.status = domain.StatusMoving
	}
	c.mu.Unlock()
	c.logEvent(constants.EventDoorClose, reached)

	c.drainPendingCalls()
	c.dispatcher.NotifyElevatorUpdate(c.id)
	return nil
}

// chooseBoardingDirection implements the boarding-direction rule from
// operateDoorsAndExchange step e.
func (c *Car) chooseBoardingDirection(reached domain.Floor, allowed []domain.Direction) (domain.Direction, bool) {
	c.mu.Lock()
	loaded := len(c.passengersInside) > 0
	dir := c.direction
	hasRemainingInDir := (dir == domain.DirectionUp && c.stops.HasUp()) || (dir == domain.DirectionDown && c.stops.HasDown())
	c.mu.Unlock()

	if loaded {
		if containsDirection(allowed, dir) && c.waiting.HasWaiting(reached, dir) {
			return dir, true
		}
		return domain.DirectionIdle, false
	}

	if containsDirection(allowed, dir) {
		if hasRemainingInDir && !c.waiting.HasWaiting(reached, dir) {
			return domain.DirectionIdle, false
		}
		return dir, true
	}

	if dir == domain.DirectionIdle {
		upCount := c.waiting.Count(reached, domain.DirectionUp)
		downCount := c.waiting.Count(reached, domain.DirectionDown)
		if containsDirection(allowed, domain.DirectionUp) && upCount >= downCount {
			return domain.DirectionUp, true
		}
		if containsDirection(allowed, domain.DirectionDown) {
			return domain.DirectionDown, true
		}
	}
	return domain.DirectionIdle, false
}

// drainPendingCalls implements the per-car pending-call deferral (§4.5):
// up to 8 re-admission attempts per door cycle.
func (c *Car) drainPendingCalls() {
	c.mu.Lock()
	pending := c.pendingCalls
	c.pendingCalls = nil
	c.mu.Unlock()

	const maxAttempts = 8
	attempts := 0
	var requeue []domain.HallCall

	for _, call := range pending {
		if !c.waiting.HasWaiting(call.Floor, call.Direction) {
			continue
		}
		if attempts >= maxAttempts {
			requeue = append(requeue, call)
			continue
		}
		attempts++
		if !c.TryAddHallCall(call) {
			requeue = append(requeue, call)
		}
	}

	if len(requeue) > 0 {
		c.mu.Lock()
		c.pendingCalls = append(c.pendingCalls, requeue...)
		c.mu.Unlock()
	}
}

// DeferCall pushes call onto the per-car pending queue for later
// re-admission attempts, used by the dispatcher when a race loses.
func (c *Car) DeferCall(call domain.HallCall) {
	c.mu.Lock()
	c.pendingCalls = append(c.pendingCalls, call)
	c.mu.Unlock()
}

func (c *Car) logEvent(event string, floor domain.Floor) {
	c.logger.Info("car event",
		slog.String("event", event),
		slog.Int("floor", floor.Value()))
}
