// Package retention implements RetentionEngine: per-source event
// expiry, an orphan sweep for events whose source has since been
// deleted, and a never-delete guarantee over Baselines.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/metrics"
)

// store is the subset of *store.Store the retention sweep depends on.
type store interface {
	ListSources(ctx context.Context) ([]domain.Source, error)
	DeleteEventsForSourceBefore(ctx context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error)
	DeleteOrphanEventsBefore(ctx context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error)
	CountBaselines(ctx context.Context) (int64, error)
}

// Options configures a single cleanup pass.
type Options struct {
	DefaultRetentionDays int
	DryRun               bool
}

// Result is the cleanup pass's outcome.
type Result struct {
	TotalEventsDeleted    int64
	SourcesProcessed      int
	DeletionsBySource     map[string]int64
	OrphanedEventsDeleted int64
	BaselinesPreserved    int64
	Success               bool
	Error                 error
}

// Engine runs retention cleanup passes against the store.
type Engine struct {
	store   store
	metrics *metrics.Metrics
}

// New constructs an Engine.
func New(s store, m *metrics.Metrics) *Engine {
	return &Engine{store: s, metrics: m}
}

// cutoff implements spec's cutoff(retentionDays, ref) = ref - retentionDays
// days, in whole days so a cutoff is always strictly before ref for any
// retentionDays >= 1.
func cutoff(retentionDays int, ref time.Time) time.Time {
	return ref.AddDate(0, 0, -retentionDays)
}

// Run executes one cleanup pass: per-source expiry, an orphan sweep for
// events whose source no longer exists, and a baseline count (never
// deleted). Per-source failures are recorded in the result rather than
// aborting the whole pass — a single misbehaving source should not block
// cleanup for the rest.
func (e *Engine) Run(ctx context.Context, opts Options, now time.Time) Result {
	result := Result{DeletionsBySource: make(map[string]int64)}

	sources, err := e.store.ListSources(ctx)
	if err != nil {
		result.Error = fmt.Errorf("list sources: %w", err)
		return result
	}

	knownIDs := make([]string, 0, len(sources))
	for _, src := range sources {
		knownIDs = append(knownIDs, src.ID)

		retentionDays := src.RetentionDays
		if retentionDays <= 0 {
			retentionDays = opts.DefaultRetentionDays
		}
		deleted, err := e.store.DeleteEventsForSourceBefore(ctx, src.ID, cutoff(retentionDays, now), opts.DryRun)
		if err != nil {
			result.Error = fmt.Errorf("cleanup source %q: %w", src.Key, err)
			continue
		}
		result.SourcesProcessed++
		result.DeletionsBySource[src.Key] = deleted
		result.TotalEventsDeleted += deleted
	}

	orphaned, err := e.store.DeleteOrphanEventsBefore(ctx, knownIDs, cutoff(opts.DefaultRetentionDays, now), opts.DryRun)
	if err != nil {
		result.Error = fmt.Errorf("orphan sweep: %w", err)
	} else {
		result.OrphanedEventsDeleted = orphaned
		result.TotalEventsDeleted += orphaned
	}

	baselines, err := e.store.CountBaselines(ctx)
	if err != nil {
		result.Error = fmt.Errorf("count baselines: %w", err)
	} else {
		result.BaselinesPreserved = baselines
	}

	result.Success = result.Error == nil

	if e.metrics != nil && !opts.DryRun {
		e.metrics.RetentionEventsDeletedTotal.Add(float64(result.TotalEventsDeleted))
	}

	return result
}
