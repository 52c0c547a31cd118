package scoring

import (
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

func init() { register(&newIPRule{}) }

type newIPRule struct{}

func (newIPRule) Key() domain.RuleKey { return domain.RuleNewIP }
func (newIPRule) WindowMinutes() int  { return 60 }

func (r newIPRule) Evaluate(in Input) Outcome {
	known := make(map[string]struct{}, len(in.Baseline.KnownIPAddresses))
	for _, ip := range in.Baseline.KnownIPAddresses {
		known[ip] = struct{}{}
	}

	threshold := in.Rule.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	seenNew := make(map[string]struct{})
	for _, ev := range in.Events {
		if ev.IP == nil {
			continue
		}
		if _, ok := known[*ev.IP]; ok {
			continue
		}
		seenNew[*ev.IP] = struct{}{}
	}

	count := len(seenNew)
	if float64(count) < threshold {
		return Outcome{}
	}

	points := scalePoints(in.Rule.Weight, float64(count)/threshold)
	return Outcome{
		Fired: true,
		Contribution: domain.RuleContribution{
			RuleID:        in.Rule.ID,
			RuleKey:       domain.RuleNewIP,
			RuleName:      in.Rule.Name,
			Points:        points,
			Reason:        fmt.Sprintf("%d distinct IPs not in known set (threshold %.0f)", count, threshold),
			CurrentValue:  count,
			BaselineValue: in.Baseline.KnownIPAddresses,
		},
	}
}
