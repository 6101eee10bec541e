// Package generator produces the random passenger arrival stream that drives
// the simulation: an external collaborator of the core scheduling model,
// seeding demo traffic the same way a running building would.
package generator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/elevatorsim/controller/internal/constants"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/infra/clock"
)

// Submitter is the subset of Dispatcher the generator depends on.
type Submitter interface {
	SubmitRequest(p domain.Passenger)
}

// Config bounds the generator's random passenger stream.
type Config struct {
	MinFloor, MaxFloor int

	// Limit caps the number of passengers created; 0 means unbounded.
	Limit int

	// IntervalMinMs/IntervalMaxMs bound the random inter-arrival delay,
	// scaled by the shared simulated clock.
	IntervalMinMs, IntervalMaxMs int
}

// Generator runs on its own goroutine, posting a bounded or unbounded stream
// of random passenger requests into a Dispatcher.
type Generator struct {
	cfg        Config
	clock      *clock.SimClock
	dispatcher Submitter
	rng        *rand.Rand
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	created atomic.Int64
}

// New builds a Generator seeded from the wall-clock time via
// rand.New(rand.NewSource(time.Now().UnixNano())).
func New(cfg Config, clk *clock.SimClock, dispatcher Submitter) *Generator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Generator{
		cfg:        cfg,
		clock:      clk,
		dispatcher: dispatcher,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     slog.With(slog.String("component", constants.ComponentGenerator)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run generates passengers until the limit is reached or the generator is
// stopped. It blocks and is meant to run on its own goroutine.
func (g *Generator) Run() {
	for {
		if g.cfg.Limit > 0 && g.created.Load() >= int64(g.cfg.Limit) {
			g.logger.Info("passenger limit reached", slog.Int64("created", g.created.Load()))
			return
		}

		delay := g.nextIntervalMs()
		if err := g.clock.Sleep(g.ctx, delay); err != nil {
			return
		}

		p := g.nextPassenger()
		g.dispatcher.SubmitRequest(p)
		g.created.Add(1)
	}
}

// Stop halts generation. Safe to call multiple times.
func (g *Generator) Stop() {
	g.cancel()
}

// Created returns the number of passengers generated so far.
func (g *Generator) Created() int64 {
	return g.created.Load()
}

func (g *Generator) nextIntervalMs() int {
	lo, hi := g.cfg.IntervalMinMs, g.cfg.IntervalMaxMs
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) nextPassenger() domain.Passenger {
	span := g.cfg.MaxFloor - g.cfg.MinFloor
	start := g.cfg.MinFloor + g.rng.Intn(span+1)

	target := start
	for target == start {
		target = g.cfg.MinFloor + g.rng.Intn(span+1)
	}

	id := uint64(g.created.Load()) + 1
	return domain.NewPassenger(id, domain.NewFloor(start), domain.NewFloor(target))
}
