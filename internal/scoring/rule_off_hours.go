package scoring

import (
	"fmt"
	"sort"

	"github.com/octoreflex/irm/internal/domain"
)

func init() { register(&offHoursRule{}) }

type offHoursRule struct{}

func (offHoursRule) Key() domain.RuleKey   { return domain.RuleOffHours }
func (offHoursRule) WindowMinutes() int    { return 60 }

func (r offHoursRule) Evaluate(in Input) Outcome {
	typicalHours := in.Baseline.TypicalActiveHours
	if len(typicalHours) == 0 {
		typicalHours = []int{9, 10, 11, 12, 13, 14, 15, 16, 17}
	}
	typical := make(map[int]struct{}, len(typicalHours))
	for _, h := range typicalHours {
		typical[h] = struct{}{}
	}

	threshold := in.Rule.Threshold
	if threshold <= 0 {
		threshold = 2
	}

	count := 0
	seenHours := make(map[int]struct{})
	for _, ev := range in.Events {
		hour := ev.OccurredAt.UTC().Hour()
		if _, ok := typical[hour]; !ok {
			count++
			seenHours[hour] = struct{}{}
		}
	}

	if float64(count) < threshold {
		return Outcome{}
	}

	offHours := make([]int, 0, len(seenHours))
	for h := range seenHours {
		offHours = append(offHours, h)
	}
	sort.Ints(offHours)

	points := scalePoints(in.Rule.Weight, float64(count)/threshold)
	return Outcome{
		Fired: true,
		Contribution: domain.RuleContribution{
			RuleID:        in.Rule.ID,
			RuleKey:       domain.RuleOffHours,
			RuleName:      in.Rule.Name,
			Points:        points,
			Reason:        fmt.Sprintf("%d events outside typical active hours (threshold %.0f)", count, threshold),
			CurrentValue:  offHours,
			BaselineValue: typicalHours,
		},
	}
}
