package scoring

import (
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

func init() { register(&failureBurstRule{}) }

type failureBurstRule struct{}

func (failureBurstRule) Key() domain.RuleKey { return domain.RuleFailureBurst }
func (failureBurstRule) WindowMinutes() int  { return 10 }

func (r failureBurstRule) Evaluate(in Input) Outcome {
	threshold := in.Rule.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	count := 0
	for _, ev := range in.Events {
		if ev.Outcome == domain.OutcomeFailure {
			count++
		}
	}

	if float64(count) < threshold {
		return Outcome{}
	}

	points := scalePoints(in.Rule.Weight, float64(count)/threshold)
	return Outcome{
		Fired: true,
		Contribution: domain.RuleContribution{
			RuleID:        in.Rule.ID,
			RuleKey:       domain.RuleFailureBurst,
			RuleName:      in.Rule.Name,
			Points:        points,
			Reason:        fmt.Sprintf("%d failures in window (threshold %.0f)", count, threshold),
			CurrentValue:  count,
			BaselineValue: in.Baseline.NormalFailureRate,
		},
	}
}
