// Package building composes the per-car schedulers, the dispatcher, and the
// passenger generator into the single object the HTTP/WebSocket surface and
// program bootstrap depend on.
package building

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/elevatorsim/controller/internal/car"
	"github.com/elevatorsim/controller/internal/constants"
	"github.com/elevatorsim/controller/internal/cost"
	"github.com/elevatorsim/controller/internal/dispatcher"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/factory"
	"github.com/elevatorsim/controller/internal/generator"
	"github.com/elevatorsim/controller/internal/infra/clock"
	"github.com/elevatorsim/controller/internal/infra/config"
	"github.com/elevatorsim/controller/internal/waiting"
	"github.com/elevatorsim/controller/internal/zoning"
	"github.com/elevatorsim/controller/metrics"
)

// Building owns every live car, the dispatcher that assigns them hall calls,
// the shared waiting model and clock, and (optionally) the passenger
// generator.
type Building struct {
	cfg        *config.Config
	clock      *clock.SimClock
	waiting    *waiting.Model
	cars       []*car.Car
	dispatcher *dispatcher.Dispatcher
	generator  *generator.Generator
	logger     *slog.Logger
}

// New builds every car named by cfg, wires them into a Dispatcher sharing a
// single simulated clock and waiting model, and (if cfg.PassengerLimit
// allows arrivals) a passenger generator. It does not start any goroutines;
// call Run.
func New(cfg *config.Config) (*Building, error) {
	clk := clock.New(cfg.SimSpeed)
	wm := waiting.New()

	ids := factory.BuildCarIDs(cfg.NamePrefix, cfg.ElevatorsCount)

	var zones cost.ZonePenalizer = cost.NoZones{}
	if cfg.ZoningEnabled {
		zones = zoning.New(ids, cfg.MinFloor, cfg.ZoneSplitFloor, cfg.MaxFloor, cfg.ZoneSoftPenalty)
	}

	b := &Building{
		cfg:     cfg,
		clock:   clk,
		waiting: wm,
		logger:  slog.With(slog.String("component", constants.ComponentManager)),
	}

	disp := dispatcher.New(nil, wm, zones, dispatcher.Config{
		EventBatch:              cfg.DispatcherEventBatch,
		CallReassignCooldownMs:  cfg.CallReassignCooldownMs,
		CallReassignMinImprove:  cfg.CallReassignMinImprove,
		NoElevatorLogCooldownMs: cfg.NoElevatorLogCooldownMs,
	})
	b.dispatcher = disp

	carFactory := factory.StandardCarFactory{}
	cars := make([]*car.Car, 0, len(ids))
	schedulers := make([]dispatcher.CarScheduler, 0, len(ids))
	for _, id := range ids {
		c, err := carFactory.CreateCar(cfg, id, clk, wm, disp)
		if err != nil {
			for _, built := range cars {
				built.Shutdown()
			}
			return nil, fmt.Errorf("building: %w", err)
		}
		cars = append(cars, c)
		schedulers = append(schedulers, c)
	}
	b.cars = cars
	disp.SetCars(schedulers)

	if cfg.PassengerLimit >= 0 {
		b.generator = generator.New(generator.Config{
			MinFloor:      cfg.MinFloor,
			MaxFloor:      cfg.MaxFloor,
			Limit:         cfg.PassengerLimit,
			IntervalMinMs: cfg.RequestIntervalMin,
			IntervalMaxMs: cfg.RequestIntervalMax,
		}, clk, disp)
	}

	return b, nil
}

// Run starts the dispatcher worker and (if configured) the passenger
// generator. Cars start their own control loops in car.New, so Run only
// needs to bring up the coordinating goroutines.
func (b *Building) Run() {
	go b.dispatcher.Run()
	if b.generator != nil {
		go b.generator.Run()
	}
}

// Clock exposes the shared simulated clock, e.g. for a /speed control endpoint.
func (b *Building) Clock() *clock.SimClock { return b.clock }

// SubmitPassengerRequest validates and posts a manual passenger request,
// serving the same role POST /passengers plays for the generator.
func (b *Building) SubmitPassengerRequest(from, to int) (domain.Passenger, error) {
	start, err := domain.NewFloorWithValidation(from)
	if err != nil {
		return domain.Passenger{}, err
	}
	target, err := domain.NewFloorWithValidation(to)
	if err != nil {
		return domain.Passenger{}, err
	}
	if err := domain.ValidateFloorRange(start, target); err != nil {
		return domain.Passenger{}, err
	}

	minFloor, maxFloor := domain.NewFloor(b.cfg.MinFloor), domain.NewFloor(b.cfg.MaxFloor)
	if !start.IsValid(minFloor, maxFloor) || !target.IsValid(minFloor, maxFloor) {
		return domain.Passenger{}, domain.NewValidationError("floor is outside this building's serviced range", nil).
			WithContext("from_floor", from).
			WithContext("to_floor", to).
			WithContext("min_floor", b.cfg.MinFloor).
			WithContext("max_floor", b.cfg.MaxFloor)
	}

	p := domain.NewPassenger(uint64(time.Now().UnixNano()), start, target)
	b.dispatcher.SubmitRequest(p)
	return p, nil
}

// GetStatus returns a snapshot of every car, JSON-ready for the HTTP/WS layer.
func (b *Building) GetStatus() ([]domain.ElevatorStatus, error) {
	statuses := make([]domain.ElevatorStatus, 0, len(b.cars))
	for _, c := range b.cars {
		statuses = append(statuses, domain.NewElevatorStatus(c.Snapshot(), c.MinFloor(), c.MaxFloor()))
	}
	return statuses, nil
}

// GetHealthStatus reports each car's floor, status, load and capacity plus
// overall system health; circuit-breaker state is not included.
func (b *Building) GetHealthStatus() (map[string]interface{}, error) {
	checks := make(map[string]interface{}, len(b.cars)+1)
	systemHealthy := true

	for _, c := range b.cars {
		snap := c.Snapshot()
		healthy := snap.Status != domain.StatusLoadFull || snap.Load < snap.Capacity
		checks[c.ID()] = map[string]interface{}{
			"current_floor": snap.CurrentFloor.Value(),
			"status":        snap.Status.String(),
			"load":          snap.Load,
			"capacity":      snap.Capacity,
		}
		if !healthy {
			systemHealthy = false
		}
	}

	checks["system_healthy"] = systemHealthy
	checks["waiting_empty"] = b.waiting.IsEmpty()
	metrics.SetSystemHealth(constants.ComponentManager, systemHealthy)

	return checks, nil
}

// GetMetrics reports a lightweight snapshot suitable for the JSON /v1/metrics
// endpoint; the authoritative metrics surface is the Prometheus /metrics
// endpoint served alongside it.
func (b *Building) GetMetrics() map[string]interface{} {
	result := make(map[string]interface{}, len(b.cars))
	for _, c := range b.cars {
		snap := c.Snapshot()
		result[c.ID()] = map[string]interface{}{
			"current_floor": snap.CurrentFloor.Value(),
			"direction":     string(snap.Direction),
			"status":        snap.Status.String(),
			"load":          snap.Load,
			"planned_stops": snap.PlannedStops,
		}
	}
	if b.generator != nil {
		result["passengers_generated"] = b.generator.Created()
	}
	return result
}

// Shutdown stops the generator, drains outstanding work up to timeout, then
// stops the dispatcher and every car.
func (b *Building) Shutdown(timeout time.Duration) {
	if b.generator != nil {
		b.generator.Stop()
	}

	if !b.dispatcher.Drain(timeout) {
		b.logger.Warn("shutdown proceeding before building reached quiescence")
	}

	b.dispatcher.Shutdown()
	for _, c := range b.cars {
		c.Shutdown()
	}
}
