package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mameuix/mameuix/internal/engine"
	"github.com/mameuix/mameuix/internal/progress"
)

// drive is the headless UI loop: one engine tick per frame and a progress
// line every second, until done. When interrupt fires, onInterrupt runs once
// and the loop keeps going so in-flight results are still drained.
func drive(ctx context.Context, e *engine.Engine, frame time.Duration, interrupt <-chan struct{}, onInterrupt func(), done func() bool) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	status := time.NewTicker(time.Second)
	defer status.Stop()

	last := time.Now()
	for !done() {
		select {
		case <-interrupt:
			interrupt = nil
			onInterrupt()
		case <-status.C:
			logProgress(ctx, e.Snapshot())
		case now := <-ticker.C:
			e.Tick(ctx, now.Sub(last))
			last = now
		}
	}
}

func logProgress(ctx context.Context, s engine.Snapshot) {
	attrs := []any{
		"fps", int(s.FPS),
		"budget", s.Budget,
		"in_flight", s.InFlight,
		"utilization", s.Utilization(),
	}
	if s.State != progress.StateIdle {
		attrs = append(attrs,
			"state", s.State.String(),
			"processed", s.Stats.Processed(),
			"total", s.Stats.Total,
			"eta", s.ETA.Round(time.Second).String(),
		)
	}
	if s.PendingIcons > 0 || s.Icons.Total > 0 {
		attrs = append(attrs, "icons_pending", s.PendingIcons, "icons_loaded", s.Icons.Total)
	}
	slog.InfoContext(ctx, "progress", attrs...)
}

// finished reports whether a session reached a final state and nothing is
// left in flight.
func finished(e *engine.Engine) bool {
	switch e.State() {
	case progress.StateCompleted, progress.StateCancelled:
		return e.Idle()
	default:
		return false
	}
}
