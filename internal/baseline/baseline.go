// Package baseline computes and persists per-actor behavioral profiles.
// ComputeFromEvents is pure; Engine wraps it with Store-backed
// retrieval, defaults, and batch execution.
package baseline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/store"
)

// MinEventsForBaseline is the minimum event count required before a
// computed baseline is trusted over the system defaults.
const MinEventsForBaseline = 5

// DefaultWindowDays is the rolling window used by Compute.
const DefaultWindowDays = 14

// SystemDefaults returns the baseline used for new or sparse actors.
func SystemDefaults(actorID string, eventCount int, computedAt time.Time) domain.Baseline {
	return domain.Baseline{
		ActorID:              actorID,
		ComputedAt:           computedAt,
		WindowDays:           DefaultWindowDays,
		TypicalActiveHours:   []int{9, 10, 11, 12, 13, 14, 15, 16, 17},
		KnownIPAddresses:     []string{},
		KnownUserAgents:      []string{},
		AvgBytesPerDay:       10 * 1024 * 1024,
		AvgEventsPerDay:      50,
		TypicalResourceScope: 20,
		NormalFailureRate:    0.05,
		EventCount:           eventCount,
	}
}

// ComputeFromEvents is the pure per-actor profile computation.
func ComputeFromEvents(actorID string, events []domain.Event, windowDays int, computedAt time.Time) domain.Baseline {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	hourCounts := make(map[int]int)
	ipSet := make(map[string]struct{})
	uaSet := make(map[string]struct{})
	resourceSet := make(map[string]struct{})

	var totalBytes int64
	var failures int
	var firstSeen, lastSeen *time.Time

	for _, ev := range events {
		hourCounts[ev.OccurredAt.UTC().Hour()]++
		if ev.IP != nil {
			ipSet[*ev.IP] = struct{}{}
		}
		if ev.UserAgent != nil {
			uaSet[*ev.UserAgent] = struct{}{}
		}
		if ev.ResourceID != nil {
			resourceSet[*ev.ResourceID] = struct{}{}
		}
		if ev.Bytes != nil {
			totalBytes += *ev.Bytes
		}
		if ev.Outcome == domain.OutcomeFailure {
			failures++
		}
		if firstSeen == nil || ev.OccurredAt.Before(*firstSeen) {
			t := ev.OccurredAt
			firstSeen = &t
		}
		if lastSeen == nil || ev.OccurredAt.After(*lastSeen) {
			t := ev.OccurredAt
			lastSeen = &t
		}
	}

	n := len(events)
	threshold := n / 10
	if threshold < 1 {
		threshold = 1
	}

	var typicalHours []int
	for h, c := range hourCounts {
		if c >= threshold {
			typicalHours = append(typicalHours, h)
		}
	}
	sort.Ints(typicalHours)

	knownIPs := setToSortedSlice(ipSet)
	knownUAs := setToSortedSlice(uaSet)

	var normalFailureRate float64
	if n > 0 {
		normalFailureRate = float64(failures) / float64(n)
	}

	return domain.Baseline{
		ActorID:              actorID,
		ComputedAt:           computedAt,
		WindowDays:           windowDays,
		TypicalActiveHours:   nonNilInts(typicalHours),
		KnownIPAddresses:     knownIPs,
		KnownUserAgents:      knownUAs,
		AvgBytesPerDay:       float64(totalBytes) / float64(windowDays),
		AvgEventsPerDay:      float64(n) / float64(windowDays),
		TypicalResourceScope: len(resourceSet),
		NormalFailureRate:    normalFailureRate,
		EventCount:           n,
		FirstSeen:            firstSeen,
		LastSeen:             lastSeen,
	}
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func setToSortedSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// eventStore is the subset of *store.Store Engine depends on.
type eventStore interface {
	ListEventsForActorSince(ctx context.Context, actorID string, since time.Time) ([]domain.Event, error)
	ListActorIDsWithEventsSince(ctx context.Context, since time.Time) ([]string, error)
	InsertBaseline(ctx context.Context, b domain.Baseline) error
	GetLatestBaseline(ctx context.Context, actorID string) (domain.Baseline, error)
}

// Engine wraps the pure computation with persistence.
type Engine struct {
	store eventStore
}

// New constructs an Engine.
func New(s eventStore) *Engine {
	return &Engine{store: s}
}

// Compute fetches an actor's recent events and computes+persists a
// Baseline, falling back to system defaults below MinEventsForBaseline.
func (e *Engine) Compute(ctx context.Context, actorID string, windowDays int, now time.Time) (domain.Baseline, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	since := now.AddDate(0, 0, -windowDays)

	events, err := e.store.ListEventsForActorSince(ctx, actorID, since)
	if err != nil {
		return domain.Baseline{}, fmt.Errorf("list events for baseline: %w", err)
	}

	var b domain.Baseline
	if len(events) < MinEventsForBaseline {
		b = SystemDefaults(actorID, len(events), now)
	} else {
		b = ComputeFromEvents(actorID, events, windowDays, now)
	}

	if err := e.store.InsertBaseline(ctx, b); err != nil {
		return domain.Baseline{}, fmt.Errorf("persist baseline: %w", err)
	}
	return b, nil
}

// BatchResult is the outcome of ComputeAll.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Errors    []string
}

// ComputeAll computes and persists a baseline for every actor with
// recent activity. One actor's failure never aborts the batch.
func (e *Engine) ComputeAll(ctx context.Context, windowDays int, now time.Time) (BatchResult, error) {
	actorIDs, err := e.store.ListActorIDsWithEventsSince(ctx, now.AddDate(0, 0, -windowDays))
	if err != nil {
		return BatchResult{}, fmt.Errorf("list actors for baseline batch: %w", err)
	}

	result := BatchResult{Processed: len(actorIDs)}
	for _, actorID := range actorIDs {
		if _, err := e.Compute(ctx, actorID, windowDays, now); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", actorID, err))
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// GetOrCompute returns the latest persisted Baseline if any; otherwise
// computes on demand; otherwise falls back to defaults.
func (e *Engine) GetOrCompute(ctx context.Context, actorID string, now time.Time) (domain.Baseline, error) {
	b, err := e.store.GetLatestBaseline(ctx, actorID)
	if err == nil {
		return b, nil
	}
	if err != store.ErrNotFound {
		return domain.Baseline{}, fmt.Errorf("get latest baseline: %w", err)
	}

	computed, err := e.Compute(ctx, actorID, DefaultWindowDays, now)
	if err != nil {
		return SystemDefaults(actorID, 0, now), nil
	}
	return computed, nil
}
