package scoring

import (
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

const minResourceScopeFloor = 10

func init() { register(&scopeExpansionRule{}) }

type scopeExpansionRule struct{}

func (scopeExpansionRule) Key() domain.RuleKey { return domain.RuleScopeExpansion }
func (scopeExpansionRule) WindowMinutes() int  { return 1440 }

func (r scopeExpansionRule) Evaluate(in Input) Outcome {
	distinct := make(map[string]struct{})
	for _, ev := range in.Events {
		if ev.ResourceID == nil {
			continue
		}
		distinct[*ev.ResourceID] = struct{}{}
	}

	denominator := in.Baseline.TypicalResourceScope
	if denominator < minResourceScopeFloor {
		denominator = minResourceScopeFloor
	}

	threshold := in.Rule.Threshold
	if threshold <= 0 {
		threshold = 2
	}

	multiplier := float64(len(distinct)) / float64(denominator)
	if multiplier < threshold {
		return Outcome{}
	}

	points := scalePoints(in.Rule.Weight, multiplier/threshold)
	return Outcome{
		Fired: true,
		Contribution: domain.RuleContribution{
			RuleID:        in.Rule.ID,
			RuleKey:       domain.RuleScopeExpansion,
			RuleName:      in.Rule.Name,
			Points:        points,
			Reason:        fmt.Sprintf("%d distinct resources, %.1fx baseline scope (threshold %.0fx)", len(distinct), multiplier, threshold),
			CurrentValue:  len(distinct),
			BaselineValue: in.Baseline.TypicalResourceScope,
		},
	}
}
