package scoring

import (
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

const minAvgBytesPerDayFloor = 10 * 1024 * 1024 // 10 MB

func init() { register(&volumeSpikeRule{}) }

type volumeSpikeRule struct{}

func (volumeSpikeRule) Key() domain.RuleKey { return domain.RuleVolumeSpike }
func (volumeSpikeRule) WindowMinutes() int  { return 1440 }

func (r volumeSpikeRule) Evaluate(in Input) Outcome {
	var sum int64
	for _, ev := range in.Events {
		if ev.Bytes != nil {
			sum += *ev.Bytes
		}
	}

	denominator := in.Baseline.AvgBytesPerDay
	if denominator < minAvgBytesPerDayFloor {
		denominator = minAvgBytesPerDayFloor
	}

	threshold := in.Rule.Threshold
	if threshold <= 0 {
		threshold = 3
	}

	multiplier := float64(sum) / denominator
	if multiplier < threshold {
		return Outcome{}
	}

	points := scalePoints(in.Rule.Weight, multiplier/threshold)
	return Outcome{
		Fired: true,
		Contribution: domain.RuleContribution{
			RuleID:        in.Rule.ID,
			RuleKey:       domain.RuleVolumeSpike,
			RuleName:      in.Rule.Name,
			Points:        points,
			Reason:        fmt.Sprintf("byte volume %.1fx baseline average (threshold %.0fx)", multiplier, threshold),
			CurrentValue:  sum,
			BaselineValue: in.Baseline.AvgBytesPerDay,
		},
	}
}
