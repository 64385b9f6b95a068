// Package imagegc removes container images no module has used for a
// configured span. It is the daemon's only maintenance loop: started
// once, scheduled at a fixed wall-clock time, and expected to outlive
// everything except the process itself.
package imagegc

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/imageprune"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
)

// Run executes the garbage collection loop until ctx is cancelled. The
// first sweep happens at the next wall-clock occurrence of the
// configured cleanup time, later sweeps recur every opts.Recurrence.
//
// The loop is meant to run for the life of the daemon, so any return
// is a failure: ctx.Err() on cancellation, or the error that broke a
// sweep. Callers must treat every return as fatal.
func Run(
	ctx context.Context,
	bootstrapImage string,
	opts config.ImagePruneOptions,
	rt runtime.Runtime,
	store *imageprune.Store,
	m *metrics.DaemonMetrics,
) error {
	if !opts.Enabled {
		return fmt.Errorf("image garbage collection is disabled and must not be started")
	}

	first := nextWindow(time.Now(), opts.CleanupHour, opts.CleanupMinute)
	logger.Info("image garbage collection scheduled",
		"first_run", first.Format(time.RFC3339),
		"recurrence", opts.Recurrence.String(),
		"min_age", opts.MinAge.String())

	timer := time.NewTimer(time.Until(first))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(opts.Recurrence)
	defer ticker.Stop()

	for {
		if err := sweep(ctx, bootstrapImage, opts.MinAge, rt, store, m); err != nil {
			return fmt.Errorf("image garbage collection failed: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep is one garbage collection cycle. Images backing live modules
// and the agent bootstrap image are never candidates, whatever their
// recorded age. Failures on individual images are logged and skipped;
// only a broken module list or store ends the sweep.
func sweep(
	ctx context.Context,
	bootstrapImage string,
	minAge time.Duration,
	rt runtime.Runtime,
	store *imageprune.Store,
	m *metrics.DaemonMetrics,
) error {
	ctx, span := telemetry.StartGCSpan(ctx, telemetry.SpanGCSweep, telemetry.Image(bootstrapImage))
	defer span.End()

	modules, err := rt.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}

	now := time.Now()
	inUse := make(map[string]struct{}, len(modules)+1)
	inUse[bootstrapImage] = struct{}{}
	for _, mod := range modules {
		if mod.Image == "" {
			continue
		}
		inUse[mod.Image] = struct{}{}
		// Keep the bookkeeping warm so an image backing a live module
		// never ages into the candidate window.
		if err := store.RecordUse(ctx, mod.Image, now); err != nil {
			logger.Warn("failed to refresh image use record",
				logger.Image(mod.Image), logger.Err(err))
		}
	}

	candidates, err := store.Candidates(ctx, now.Add(-minAge))
	if err != nil {
		return fmt.Errorf("listing prune candidates: %w", err)
	}

	removed := 0
	for _, c := range candidates {
		if _, ok := inUse[c.Ref]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := rt.RemoveImage(ctx, c.Ref); err != nil {
			logger.Warn("failed to remove unused image",
				logger.Image(c.Ref), logger.Err(err))
			continue
		}
		if err := store.Forget(ctx, c.Ref); err != nil {
			logger.Warn("failed to drop removed image from the store",
				logger.Image(c.Ref), logger.Err(err))
		}

		logger.Info("removed unused image",
			logger.Image(c.Ref), "last_used", c.LastUsed.Format(time.RFC3339))
		removed++
	}

	m.GCCycle(removed)
	span.SetAttributes(
		telemetry.GCCandidates(len(candidates)),
		telemetry.GCRemoved(removed),
	)
	logger.Info("image garbage collection cycle finished",
		"candidates", len(candidates), "removed", removed)
	return nil
}

// nextWindow returns the next wall-clock occurrence of hour:minute
// strictly after now. A cleanup time equal to the current instant
// schedules for tomorrow, matching "next occurrence" semantics.
func nextWindow(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
