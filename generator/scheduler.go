package generator

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Start starts the scheduler of a leader. The first round starts immediately,
// then a new one every generation cycle until the generator is closed.
func (g *Generator) Start() error {
	if !g.cfg.Leader {
		return xerrors.New("only a leader schedules rounds")
	}

	g.Lock()
	defer g.Unlock()

	if g.closed {
		return xerrors.New("generator is closed")
	}

	if g.ticker != nil {
		return xerrors.New("scheduler already started")
	}

	g.ticker = g.clock.Ticker(g.cfg.GenerationCycle)
	g.stop = make(chan struct{})

	g.loop.Add(1)
	go g.schedule(g.ticker, g.stop)

	g.logger.Info().
		Dur("generation", g.cfg.GenerationCycle).
		Dur("aggregation", g.cfg.AggregationCycle).
		Msg("scheduler started")

	return nil
}

// Stop stops the scheduler. The rounds already started are still aggregated.
func (g *Generator) Stop() error {
	g.Lock()

	if g.ticker == nil {
		g.Unlock()
		return xerrors.New("scheduler not started")
	}

	g.stopScheduler()
	g.Unlock()

	g.loop.Wait()

	g.logger.Info().Msg("scheduler stopped")

	return nil
}

// Follow schedules the aggregation of a round started by another member. It
// does nothing when the round is already scheduled.
func (g *Generator) Follow(round uint64) {
	g.scheduleAggregation(round, g.clock.Now())
}

// stopScheduler must be called with the lock held.
func (g *Generator) stopScheduler() {
	if g.ticker == nil {
		return
	}

	g.ticker.Stop()
	close(g.stop)

	g.ticker = nil
	g.stop = nil
}

func (g *Generator) schedule(ticker *clock.Ticker, stop chan struct{}) {
	defer g.loop.Done()

	g.startRound()

	for {
		select {
		case <-ticker.C:
			g.startRound()
		case <-stop:
			return
		}
	}
}

func (g *Generator) startRound() {
	round, err := g.store.NextRoundID()
	if err != nil {
		g.logger.Err(err).Msg("failed to allocate round")
		return
	}

	err = g.store.OpenRound(round)
	if err != nil {
		g.logger.Err(err).Uint64("round", round).Msg("failed to open round")
		return
	}

	promRounds.Inc()

	g.scheduleAggregation(round, g.clock.Now())

	g.submit("trigger", round, func(logger zerolog.Logger) {
		logger.Info().Msg("round started")

		err := g.broadcast(logger, round, true)
		if err != nil {
			logger.Err(err).Msg("trigger failed")
		}
	})
}

// scheduleAggregation runs the aggregation of the round one aggregation cycle
// after the start. It runs right away when the cycle is already over.
func (g *Generator) scheduleAggregation(round uint64, start time.Time) {
	g.Lock()
	defer g.Unlock()

	if g.closed {
		return
	}

	_, found := g.scheduled[round]
	if found {
		return
	}

	g.scheduled[round] = struct{}{}

	if round >= scheduledWindow {
		delete(g.scheduled, round-scheduledWindow)
	}

	delay := g.cfg.AggregationCycle - g.clock.Since(start)
	if delay <= 0 {
		g.submitLocked("aggregate", round, func(logger zerolog.Logger) {
			g.aggregate(logger, round)
		})

		return
	}

	g.timers[round] = g.clock.AfterFunc(delay, func() {
		g.Lock()
		delete(g.timers, round)
		g.Unlock()

		g.submit("aggregate", round, func(logger zerolog.Logger) {
			g.aggregate(logger, round)
		})
	})
}
