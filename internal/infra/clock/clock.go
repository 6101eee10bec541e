// Package clock provides the simulated clock every timing-sensitive
// component sleeps on, so a whole run can be sped up or paused without
// touching the algorithms that depend on wall-clock-shaped delays. It uses
// a context-aware sleep pattern (select on ctx.Done vs. time.After)
// throughout the elevator control loop.
package clock

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

const (
	// MinSpeed is the slowest allowed speed factor (10x slower than real time).
	MinSpeed = 0.1
	// MaxSpeed is the fastest allowed speed factor.
	MaxSpeed = 30.0

	defaultSpeed = 1.0
)

// SimClock scales every requested sleep duration by a speed factor and can be
// paused, letting a simulation run faster than real time or be frozen for
// inspection without the core algorithms knowing the difference.
type SimClock struct {
	speedBits atomic.Uint64 // math.Float64bits(speed)
	paused    atomic.Bool
}

// New creates a SimClock running at the given speed factor, clamped to
// [MinSpeed, MaxSpeed].
func New(speed float64) *SimClock {
	c := &SimClock{}
	c.SetSpeed(speed)
	return c
}

// SetSpeed updates the speed factor, clamping it to [MinSpeed, MaxSpeed].
func (c *SimClock) SetSpeed(speed float64) {
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	c.speedBits.Store(math.Float64bits(speed))
}

// Speed returns the current speed factor.
func (c *SimClock) Speed() float64 {
	return math.Float64frombits(c.speedBits.Load())
}

// Pause freezes the clock: every Sleep call blocks until Resume is called or
// ctx is cancelled.
func (c *SimClock) Pause() {
	c.paused.Store(true)
}

// Resume unfreezes the clock.
func (c *SimClock) Resume() {
	c.paused.Store(false)
}

// IsPaused reports whether the clock is currently paused.
func (c *SimClock) IsPaused() bool {
	return c.paused.Load()
}

// Sleep blocks for ms simulated milliseconds, scaled by the current speed
// factor, or until ctx is done. It returns ctx.Err() if cancelled, nil
// otherwise. While paused, it polls in small increments so a mid-sleep
// Resume takes effect promptly.
func (c *SimClock) Sleep(ctx context.Context, ms int) error {
	remaining := time.Duration(ms) * time.Millisecond

	const pollInterval = 20 * time.Millisecond

	for remaining > 0 {
		if c.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
				continue
			}
		}

		step := remaining
		if step > pollInterval {
			step = pollInterval
		}
		scaled := time.Duration(float64(step) / c.Speed())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scaled):
			remaining -= step
		}
	}
	return nil
}
