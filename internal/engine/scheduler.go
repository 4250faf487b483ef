package engine

import (
	"context"
	"sync"
	"time"
)

// runScheduler drives the periodic evaluation loop. A tick that is still
// evaluating when the next one fires makes the next tick a no-op.
func (e *Engine) runScheduler(ctx context.Context) error {
	e.log.Info().Dur("interval", e.opts.TickInterval).Msg("scheduler started")
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			e.mu.Lock()
			if e.tickBusy {
				e.mu.Unlock()
				e.log.Warn().Msg("previous tick still running, skipping")
				continue
			}
			e.tickBusy = true
			e.mu.Unlock()

			e.tick(ctx, time.Now())

			e.mu.Lock()
			e.tickBusy = false
			e.mu.Unlock()
		}
	}
}

// tick runs one evaluation cycle. A panic in a cycle is logged and the
// loop carries on at the next tick.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("evaluation cycle panicked")
		}
	}()

	e.scorer.DecayTick(now)

	channels := e.tracker.ActiveChannels(e.opts.ActiveWindow, now)
	if len(channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		e.mu.Lock()
		if e.evaluating[ch] {
			e.mu.Unlock()
			continue
		}
		e.evaluating[ch] = true
		e.mu.Unlock()

		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			defer func() {
				e.mu.Lock()
				delete(e.evaluating, channelID)
				e.mu.Unlock()
			}()
			e.evaluateChannel(ctx, channelID, now)
		}(ch)
	}
	wg.Wait()
}

// evaluateChannel runs the trigger chain for one channel. Triggers are
// checked in fixed priority order and the first fire wins; generation and
// summary refresh run detached so evaluation stays cheap.
func (e *Engine) evaluateChannel(ctx context.Context, channelID string, now time.Time) {
	snap, ok := e.tracker.Snapshot(channelID, e.opts.ActiveWindow, now)
	if !ok {
		return
	}

	if _, fresh := e.memory.GetOrRefreshSummary(channelID, now); !fresh && len(snap.Buffer) > 0 {
		e.startSummaryRefresh(ctx, snap)
	}

	for _, trig := range e.triggers {
		outcome := trig.Evaluate(snap, now, e.rng())
		if !outcome.Fired {
			continue
		}
		if outcome.Topic != "" && e.dispatcher.SpokeAboutRecently(outcome.Topic, e.opts.ActiveWindow, now) {
			e.log.Debug().
				Str("channel", channelID).
				Str("topic", outcome.Topic).
				Msg("suppressing repeat topic engagement")
			continue
		}

		e.log.Info().
			Str("channel", channelID).
			Str("trigger", string(outcome.Kind)).
			Float64("score", outcome.Score).
			Float64("draw", outcome.Draw).
			Msg("trigger fired")

		// Advance the agent timestamp before generation completes so the
		// next cycle does not double-fire. Not rolled back on failure.
		e.tracker.MarkAgentSpoke(channelID, now)
		e.startGeneration(ctx, snap, outcome)
		return
	}
}

// startGeneration launches a cancellable detached generation for the
// channel. A human message arriving meanwhile cancels it through the
// flight registry.
func (e *Engine) startGeneration(parent context.Context, snap ChannelSnapshot, outcome TriggerOutcome) {
	genCtx, cancel := context.WithCancel(parent)
	fl := &flight{cancel: cancel}

	e.mu.Lock()
	if prev := e.flights[snap.ChannelID]; prev != nil {
		prev.cancel()
	}
	e.flights[snap.ChannelID] = fl
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			// A newer flight may have replaced ours; only clear our own entry.
			if e.flights[snap.ChannelID] == fl {
				delete(e.flights, snap.ChannelID)
			}
			e.mu.Unlock()
		}()
		e.dispatcher.Dispatch(genCtx, snap, outcome)
	}()
}

// startSummaryRefresh regenerates a stale conversation summary in the
// background. The jobmgr name keeps refreshes single-flight per channel.
func (e *Engine) startSummaryRefresh(ctx context.Context, snap ChannelSnapshot) {
	_ = e.jobs.StartAsync(ctx, "summary:"+snap.ChannelID, func(jctx context.Context) error {
		e.dispatcher.RegenerateSummary(jctx, snap)
		return nil
	})
}
