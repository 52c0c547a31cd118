// Package alerting implements AlertingEngine: pure threshold gating plus
// severity mapping (createAlertFromScore), and a stateful evaluate-and-alert
// path that deduplicates against recently-open alerts before persisting.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/metrics"
	"github.com/octoreflex/irm/internal/store"
)

const (
	// DefaultThreshold is the score at/above which a RiskScore produces an Alert.
	DefaultThreshold = 60

	// DefaultDeduplicationWindowMinutes is how far back evaluateAndAlert
	// looks for an existing open alert for the same actor before deciding
	// a fresh RiskScore is a duplicate rather than a new incident.
	DefaultDeduplicationWindowMinutes = 60
)

// CreateAlertFromScore is the pure alert-construction step: given a
// RiskScore and a threshold, it either returns nil (below threshold) or a
// fully-formed, unpersisted Alert in status "open".
//
// baselineComparison is assembled by mining contribution currentValues for
// the volume/scope/failure/off-hours rules and pairing them with the
// baseline's counterpart fields; rules that did not fire leave their pair
// at the zero value.
func CreateAlertFromScore(score domain.RiskScore, baseline domain.Baseline, threshold int, now time.Time) (*domain.Alert, error) {
	if score.TotalScore < threshold {
		return nil, nil
	}

	severity, err := domain.SeverityForScore(score.TotalScore)
	if err != nil {
		return nil, fmt.Errorf("map score to severity: %w", err)
	}

	comparison := domain.BaselineComparison{
		TypicalHours:      baseline.TypicalActiveHours,
		AvgBytes:          baseline.AvgBytesPerDay,
		NormalScope:       baseline.TypicalResourceScope,
		NormalFailureRate: baseline.NormalFailureRate,
	}
	for _, c := range score.RuleContributions {
		switch c.RuleKey {
		case domain.RuleVolumeSpike:
			if v, ok := c.CurrentValue.(int64); ok {
				comparison.CurrentBytes = float64(v)
			}
		case domain.RuleScopeExpansion:
			if v, ok := c.CurrentValue.(int); ok {
				comparison.CurrentScope = v
			}
		case domain.RuleFailureBurst:
			if v, ok := c.CurrentValue.(int); ok && baseline.EventCount > 0 {
				comparison.CurrentFailureRate = float64(v) / float64(baseline.EventCount)
			}
		case domain.RuleOffHours:
			if v, ok := c.CurrentValue.([]int); ok {
				comparison.CurrentHours = v
			}
		}
	}

	return &domain.Alert{
		ID:                 uuid.NewString(),
		ActorID:            score.ActorID,
		Score:              score.TotalScore,
		Severity:           severity,
		Status:             domain.AlertOpen,
		RuleContributions:  score.RuleContributions,
		BaselineComparison: comparison,
		TriggeringEventIDs: score.TriggeringEventIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Options configures a single evaluateAndAlert call. Zero values fall back
// to the package defaults.
type Options struct {
	Threshold                  int
	DeduplicationWindowMinutes int
	SkipDeduplication          bool
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.DeduplicationWindowMinutes == 0 {
		o.DeduplicationWindowMinutes = DefaultDeduplicationWindowMinutes
	}
	return o
}

// Decision is evaluateAndAlert's outcome: either an Alert was created, or
// it was not, with a human-readable reason.
type Decision struct {
	AlertCreated bool
	Reason       string
	Alert        domain.Alert
}

// alertStore is the subset of *store.Store the evaluate-and-alert path uses.
type alertStore interface {
	FindOpenAlertSince(ctx context.Context, actorID string, since time.Time) (domain.Alert, error)
	InsertAlert(ctx context.Context, a domain.Alert) error
}

// Engine wraps the pure gating/severity logic with the Store-backed
// deduplication and persistence steps.
type Engine struct {
	store   alertStore
	metrics *metrics.Metrics
}

// New constructs an Engine. metrics may be nil in tests.
func New(s alertStore, m *metrics.Metrics) *Engine {
	return &Engine{store: s, metrics: m}
}

// EvaluateAndAlert runs the full stateful pipeline: gate on threshold,
// then deduplicate against recently-open alerts for the same actor and
// persist the new Alert. It does not touch Actor.currentRiskScore — the
// caller (the scoring job) upserts that unconditionally, right after
// persisting the RiskScore and before calling EvaluateAndAlert, so the
// Actor's current score stays fresh on every scoring pass regardless of
// whether this pass clears the alert threshold or dedups against an
// already-open alert.
func (e *Engine) EvaluateAndAlert(ctx context.Context, score domain.RiskScore, baseline domain.Baseline, opts Options, now time.Time) (Decision, error) {
	opts = opts.withDefaults()

	alert, err := CreateAlertFromScore(score, baseline, opts.Threshold, now)
	if err != nil {
		return Decision{}, err
	}
	if alert == nil {
		return Decision{AlertCreated: false, Reason: "below threshold"}, nil
	}

	if !opts.SkipDeduplication {
		since := now.Add(-time.Duration(opts.DeduplicationWindowMinutes) * time.Minute)
		_, err := e.store.FindOpenAlertSince(ctx, score.ActorID, since)
		if err == nil {
			if e.metrics != nil {
				e.metrics.AlertsDeduplicatedTotal.Inc()
			}
			return Decision{AlertCreated: false, Reason: "duplicate"}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("check for duplicate alert: %w", err)
		}
	}

	if err := e.store.InsertAlert(ctx, *alert); err != nil {
		return Decision{}, fmt.Errorf("insert alert: %w", err)
	}

	if e.metrics != nil {
		e.metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	}

	return Decision{AlertCreated: true, Reason: "created", Alert: *alert}, nil
}
