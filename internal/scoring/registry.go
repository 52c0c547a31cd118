// Package scoring implements ScoringEngine: pure rule evaluation over
// an actor's recent events against its baseline, producing an
// explainable 0-100 risk score. Rule evaluators self-register by
// RuleKey in a small plugin registry, grounded on the pack's
// contrib.AnomalyScorer registration pattern — adding a sixth rule is a
// matter of registering a new evaluator, never touching Engine.
package scoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/octoreflex/irm/internal/domain"
)

// Input is everything a RuleEvaluator needs to decide whether it fires.
type Input struct {
	ActorID       string
	Baseline      domain.Baseline
	Events        []domain.Event // pre-filtered to the rule's own window
	Rule          domain.ScoringRule
	ReferenceTime time.Time
}

// Outcome is a rule's verdict: either it did not fire (Fired == false)
// or it produced a contribution.
type Outcome struct {
	Fired        bool
	Contribution domain.RuleContribution
}

// RuleEvaluator is the interface every scoring rule implements.
type RuleEvaluator interface {
	// Key returns the rule's stable identifier, used as the registry key.
	Key() domain.RuleKey

	// WindowMinutes is the evaluator's default lookback window, used
	// when the persisted rule config omits one.
	WindowMinutes() int

	// Evaluate computes whether the rule fires for in.
	Evaluate(in Input) Outcome
}

var (
	registryMu sync.RWMutex
	registry   = make(map[domain.RuleKey]RuleEvaluator)
)

// register adds an evaluator to the registry. Panics on duplicate
// registration, since that indicates a programming error, not runtime
// misconfiguration. Called from each rule file's init().
func register(e RuleEvaluator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[e.Key()]; exists {
		panic(fmt.Sprintf("scoring: rule %q already registered", e.Key()))
	}
	registry[e.Key()] = e
}

// Get returns the registered evaluator for key, if any.
func Get(key domain.RuleKey) (RuleEvaluator, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[key]
	return e, ok
}

// Keys returns every registered rule key, in the fixed definition order
// used for deterministic contribution ordering.
func Keys() []domain.RuleKey {
	return []domain.RuleKey{
		domain.RuleOffHours,
		domain.RuleNewIP,
		domain.RuleVolumeSpike,
		domain.RuleScopeExpansion,
		domain.RuleFailureBurst,
	}
}
