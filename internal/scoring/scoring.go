package scoring

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/octoreflex/irm/internal/domain"
)

// ScoreActor is the pure rule-evaluation core: given the same inputs
// (including referenceTime), it returns byte-identical contributions in
// byte-identical order, and is invariant to permutations of events.
func ScoreActor(actorID string, baseline domain.Baseline, events []domain.Event, rules []domain.ScoringRule, referenceTime time.Time) domain.RiskScore {
	byKey := make(map[domain.RuleKey]domain.ScoringRule, len(rules))
	for _, r := range rules {
		byKey[r.RuleKey] = r
	}

	var contributions []domain.RuleContribution
	total := 0
	maxFiredWindow := 0

	for _, key := range Keys() {
		rule, ok := byKey[key]
		if !ok || !rule.Enabled {
			continue
		}
		evaluator, ok := Get(key)
		if !ok {
			continue // unknown rule key: InternalError-class, skip without failing the whole score.
		}

		windowMinutes := rule.WindowMinutes
		if windowMinutes <= 0 {
			windowMinutes = evaluator.WindowMinutes()
		}
		cutoff := referenceTime.Add(-time.Duration(windowMinutes) * time.Minute)
		windowed := filterEventsSince(events, cutoff, referenceTime)

		outcome := evaluator.Evaluate(Input{
			ActorID:       actorID,
			Baseline:      baseline,
			Events:        windowed,
			Rule:          rule,
			ReferenceTime: referenceTime,
		})
		if !outcome.Fired {
			continue
		}

		contributions = append(contributions, outcome.Contribution)
		total += outcome.Contribution.Points
		if windowMinutes > maxFiredWindow {
			maxFiredWindow = windowMinutes
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	var triggeringIDs []string
	if maxFiredWindow > 0 {
		cutoff := referenceTime.Add(-time.Duration(maxFiredWindow) * time.Minute)
		for _, ev := range filterEventsSince(events, cutoff, referenceTime) {
			triggeringIDs = append(triggeringIDs, ev.ID)
		}
		sort.Strings(triggeringIDs)
	}

	return domain.RiskScore{
		ActorID:            actorID,
		TotalScore:         total,
		ComputedAt:         referenceTime,
		RuleContributions:  contributions,
		TriggeringEventIDs: triggeringIDs,
	}
}

func filterEventsSince(events []domain.Event, since, until time.Time) []domain.Event {
	out := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if !ev.OccurredAt.Before(since) && !ev.OccurredAt.After(until) {
			out = append(out, ev)
		}
	}
	return out
}

//go:embed rules.yaml
var defaultRulesYAML []byte

type yamlRule struct {
	RuleKey       string         `yaml:"ruleKey"`
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Enabled       bool           `yaml:"enabled"`
	Weight        int            `yaml:"weight"`
	Threshold     float64        `yaml:"threshold"`
	WindowMinutes int            `yaml:"windowMinutes"`
	Config        map[string]any `yaml:"config"`
}

// DefaultRules parses the embedded rules.yaml fixture into ScoringRule
// records, assigning a fresh ID to each. Used to seed the store on
// first boot, mirroring the teacher's YAML-configured-thresholds idiom.
func DefaultRules(newID func() string) ([]domain.ScoringRule, error) {
	var parsed struct {
		Rules []yamlRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(defaultRulesYAML, &parsed); err != nil {
		return nil, fmt.Errorf("parse default rules fixture: %w", err)
	}

	out := make([]domain.ScoringRule, 0, len(parsed.Rules))
	for _, r := range parsed.Rules {
		out = append(out, domain.ScoringRule{
			ID:            newID(),
			RuleKey:       domain.RuleKey(r.RuleKey),
			Name:          r.Name,
			Description:   r.Description,
			Enabled:       r.Enabled,
			Weight:        r.Weight,
			Threshold:     r.Threshold,
			WindowMinutes: r.WindowMinutes,
			Config:        r.Config,
		})
	}
	return out, nil
}

// ruleStore is the subset of *store.Store Engine depends on.
type ruleStore interface {
	ListRules(ctx context.Context) ([]domain.ScoringRule, error)
}

// eventSource is the subset of *store.Store needed to fetch the events
// a scoring pass reasons over.
type eventSource interface {
	ListEventsForActorSince(ctx context.Context, actorID string, since time.Time) ([]domain.Event, error)
}

// Engine wraps ScoreActor with Store-backed rule and event retrieval.
type Engine struct {
	rules  ruleStore
	events eventSource
}

// New constructs an Engine.
func New(rules ruleStore, events eventSource) *Engine {
	return &Engine{rules: rules, events: events}
}

// maxConfiguredWindowMinutes is a generous cap on how far back events
// are fetched before per-rule windowing narrows them; it must cover the
// widest rule window (volume_spike/scope_expansion at 1440 by default).
const maxConfiguredWindowMinutes = 1440

// Score loads the actor's recent events and enabled rules, and runs
// ScoreActor against them.
func (e *Engine) Score(ctx context.Context, actorID string, baseline domain.Baseline, referenceTime time.Time) (domain.RiskScore, error) {
	rules, err := e.rules.ListRules(ctx)
	if err != nil {
		return domain.RiskScore{}, fmt.Errorf("list scoring rules: %w", err)
	}

	widest := maxConfiguredWindowMinutes
	for _, r := range rules {
		if r.WindowMinutes > widest {
			widest = r.WindowMinutes
		}
	}

	since := referenceTime.Add(-time.Duration(widest) * time.Minute)
	events, err := e.events.ListEventsForActorSince(ctx, actorID, since)
	if err != nil {
		return domain.RiskScore{}, fmt.Errorf("list events for scoring: %w", err)
	}

	return ScoreActor(actorID, baseline, events, rules, referenceTime), nil
}
