// Package factory builds car.Car instances from the running config.
package factory

import (
	"fmt"

	"github.com/elevatorsim/controller/internal/car"
	"github.com/elevatorsim/controller/internal/infra/clock"
	"github.com/elevatorsim/controller/internal/infra/config"
	"github.com/elevatorsim/controller/internal/waiting"
)

// CarFactory builds a named car.Car sharing a building's clock and waiting
// model, seeded from cfg's dispatcher/car tuning knobs.
type CarFactory interface {
	CreateCar(cfg *config.Config, id string, clk *clock.SimClock, wm *waiting.Model, dispatcher car.DispatcherHandle) (*car.Car, error)
}

// StandardCarFactory is the default CarFactory implementation.
type StandardCarFactory struct{}

func (f StandardCarFactory) CreateCar(cfg *config.Config, id string, clk *clock.SimClock, wm *waiting.Model, dispatcher car.DispatcherHandle) (*car.Car, error) {
	carCfg := car.Config{
		ID:                 id,
		MinFloor:           cfg.MinFloor,
		MaxFloor:           cfg.MaxFloor,
		Capacity:           cfg.ElevatorCapacity,
		FloorDurationMs:    cfg.TimeMoveOneFloor,
		DoorDurationMs:     cfg.TimeDoors,
		BoardingDurationMs: cfg.TimeBoarding,
		OperationTimeout:   cfg.OperationTimeout,

		MaxPlannedStops:          cfg.MaxPlannedStops,
		ReserveReverseSoonFloors: cfg.ReserveReverseSoonFloors,
		EnroutePickupEnabled:     cfg.EnroutePickupEnabled,
		EnrouteStealMinDistance:  cfg.EnrouteStealMinAssignedDistance,

		CircuitBreakerMaxFailures:   cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout:  cfg.CircuitBreakerResetTimeout,
		CircuitBreakerHalfOpenLimit: cfg.CircuitBreakerHalfOpenLimit,
	}

	c, err := car.New(carCfg, clk, wm, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("create car %s: %w", id, err)
	}
	return c, nil
}

// BuildCarIDs returns the conventional name sequence for a building's cars,
// following a NamePrefix+index convention.
func BuildCarIDs(prefix string, count int) []string {
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return ids
}
