package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoreflex/irm/internal/domain"
)

var refTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptrStr(s string) *string { return &s }
func ptrInt64(n int64) *int64 { return &n }

func baseRule(key domain.RuleKey, weight int, threshold float64, windowMinutes int) domain.ScoringRule {
	return domain.ScoringRule{
		ID:            string(key) + "-id",
		RuleKey:       key,
		Name:          string(key),
		Enabled:       true,
		Weight:        weight,
		Threshold:     threshold,
		WindowMinutes: windowMinutes,
	}
}

func eventAt(id string, when time.Time) domain.Event {
	return domain.Event{ID: id, OccurredAt: when, Outcome: domain.OutcomeSuccess}
}

func TestScoreActor_NoRulesFire(t *testing.T) {
	bl := domain.Baseline{TypicalActiveHours: []int{9, 10, 11, 12, 13, 14, 15, 16, 17}}
	events := []domain.Event{eventAt("e1", refTime.Add(-5*time.Minute))}
	rules := []domain.ScoringRule{baseRule(domain.RuleOffHours, 15, 2, 60)}

	score := ScoreActor("alice@corp", bl, events, rules, refTime)
	assert.Equal(t, 0, score.TotalScore)
	assert.Empty(t, score.RuleContributions)
	assert.Empty(t, score.TriggeringEventIDs)
}

func TestScoreActor_DisabledRuleSkipped(t *testing.T) {
	bl := domain.Baseline{TypicalActiveHours: []int{9}}
	rule := baseRule(domain.RuleOffHours, 15, 1, 60)
	rule.Enabled = false

	events := []domain.Event{
		eventAt("e1", refTime.Add(-1*time.Minute)),
		eventAt("e2", refTime.Add(-2*time.Minute)),
	}
	score := ScoreActor("alice@corp", bl, events, []domain.ScoringRule{rule}, refTime)
	assert.Equal(t, 0, score.TotalScore)
}

func TestScoreActor_OffHoursFiresAndComputesTriggeringIDs(t *testing.T) {
	bl := domain.Baseline{TypicalActiveHours: []int{9, 10, 11, 12, 13, 14, 15, 16, 17}}
	// Reference time is 03:01 (atypical); e1 and e2 fall at that hour within the window.
	offHourTime := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	events := []domain.Event{
		eventAt("e1", offHourTime),
		eventAt("e2", offHourTime.Add(time.Minute)),
		eventAt("old", refTime.Add(-2*time.Hour)), // 10:00, after the reference time, so outside the window
	}
	rules := []domain.ScoringRule{baseRule(domain.RuleOffHours, 15, 2, 60)}

	score := ScoreActor("alice@corp", bl, events, rules, offHourTime.Add(time.Minute))
	require.Len(t, score.RuleContributions, 1)
	assert.True(t, score.TotalScore > 0)
	assert.ElementsMatch(t, []string{"e1", "e2"}, score.TriggeringEventIDs)
}

func TestScoreActor_EventOrderIndependence(t *testing.T) {
	bl := domain.Baseline{TypicalActiveHours: []int{9, 10, 11, 12, 13, 14, 15, 16, 17}}
	offHourTime := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	events := []domain.Event{
		eventAt("e1", offHourTime),
		eventAt("e2", offHourTime.Add(time.Minute)),
		eventAt("e3", offHourTime.Add(2*time.Minute)),
	}
	rules := []domain.ScoringRule{baseRule(domain.RuleOffHours, 15, 2, 60)}
	ref := offHourTime.Add(2 * time.Minute)

	forward := ScoreActor("alice@corp", bl, events, rules, ref)

	reversed := []domain.Event{events[2], events[0], events[1]}
	backward := ScoreActor("alice@corp", bl, reversed, rules, ref)

	assert.Equal(t, forward.TotalScore, backward.TotalScore)
	assert.Equal(t, forward.TriggeringEventIDs, backward.TriggeringEventIDs)
}

func TestScoreActor_TotalClampedTo100(t *testing.T) {
	bl := domain.Baseline{}
	rules := []domain.ScoringRule{
		baseRule(domain.RuleOffHours, 50, 1, 60),
		baseRule(domain.RuleNewIP, 50, 1, 60),
		baseRule(domain.RuleFailureBurst, 50, 1, 10),
	}
	offHourTime := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	ip1, ip2 := "1.2.3.4", "5.6.7.8"
	events := []domain.Event{
		{ID: "e1", OccurredAt: offHourTime, IP: &ip1, Outcome: domain.OutcomeFailure},
		{ID: "e2", OccurredAt: offHourTime, IP: &ip2, Outcome: domain.OutcomeFailure},
	}
	score := ScoreActor("alice@corp", bl, events, rules, offHourTime)
	assert.LessOrEqual(t, score.TotalScore, 100)
}

func TestRuleOffHours_ThresholdBoundary(t *testing.T) {
	r := offHoursRule{}
	bl := domain.Baseline{TypicalActiveHours: []int{9, 10}}
	offHour := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

	below := Input{
		Baseline:      bl,
		Rule:          baseRule(domain.RuleOffHours, 15, 2, 60),
		Events:        []domain.Event{eventAt("e1", offHour)},
		ReferenceTime: offHour,
	}
	assert.False(t, r.Evaluate(below).Fired)

	atThreshold := below
	atThreshold.Events = []domain.Event{eventAt("e1", offHour), eventAt("e2", offHour)}
	assert.True(t, r.Evaluate(atThreshold).Fired)
}

func TestRuleNewIP_CountsDistinctUnknownIPs(t *testing.T) {
	r := newIPRule{}
	bl := domain.Baseline{KnownIPAddresses: []string{"10.0.0.1"}}
	ip1, ip2, known := "1.1.1.1", "2.2.2.2", "10.0.0.1"

	in := Input{
		Baseline: bl,
		Rule:     baseRule(domain.RuleNewIP, 15, 1, 60),
		Events: []domain.Event{
			{ID: "e1", IP: &ip1},
			{ID: "e2", IP: &ip2},
			{ID: "e3", IP: &known},
		},
	}
	outcome := r.Evaluate(in)
	assert.True(t, outcome.Fired)
	assert.Equal(t, 2, outcome.Contribution.CurrentValue)
}

func TestRuleVolumeSpike_UsesBaselineFloor(t *testing.T) {
	r := volumeSpikeRule{}
	bl := domain.Baseline{AvgBytesPerDay: 100} // below the 10MB floor
	bigBytes := int64(31 * 1024 * 1024)        // 31MB > 3x10MB floor

	in := Input{
		Baseline: bl,
		Rule:     baseRule(domain.RuleVolumeSpike, 25, 3, 1440),
		Events:   []domain.Event{{ID: "e1", Bytes: &bigBytes}},
	}
	assert.True(t, r.Evaluate(in).Fired)
}

func TestRuleScopeExpansion_CountsDistinctResources(t *testing.T) {
	r := scopeExpansionRule{}
	bl := domain.Baseline{TypicalResourceScope: 5} // below floor of 10, so denominator=10
	in := Input{
		Baseline: bl,
		Rule:     baseRule(domain.RuleScopeExpansion, 20, 2, 1440),
		Events: []domain.Event{
			{ID: "e1", ResourceID: ptrStr("r1")},
			{ID: "e2", ResourceID: ptrStr("r2")},
			{ID: "e3", ResourceID: ptrStr("r1")}, // duplicate, not counted twice
		},
	}
	assert.False(t, r.Evaluate(in).Fired) // 2/10 = 0.2 < threshold 2
}

func TestRuleFailureBurst_FiresAtThreshold(t *testing.T) {
	r := failureBurstRule{}
	rule := baseRule(domain.RuleFailureBurst, 25, 5, 10)

	events := make([]domain.Event, 5)
	for i := range events {
		events[i] = domain.Event{ID: "e", Outcome: domain.OutcomeFailure}
	}
	in := Input{Rule: rule, Events: events}
	outcome := r.Evaluate(in)
	assert.True(t, outcome.Fired)
	assert.Equal(t, scalePoints(rule.Weight, 1), outcome.Contribution.Points)
}

func TestScalePoints_MonotoneAndClamped(t *testing.T) {
	assert.Equal(t, 10, scalePoints(20, 0.1))
	assert.Equal(t, 20, scalePoints(20, 100))
	low := scalePoints(20, 1)
	high := scalePoints(20, 1.9)
	assert.LessOrEqual(t, low, high)
}

func TestKeysOrderIsFixed(t *testing.T) {
	keys := Keys()
	require.Len(t, keys, 5)
	assert.Equal(t, domain.RuleOffHours, keys[0])
	assert.Equal(t, domain.RuleFailureBurst, keys[4])
}

func TestDefaultRules_ParsesEmbeddedFixture(t *testing.T) {
	var n int
	rules, err := DefaultRules(func() string {
		n++
		return "id-" + string(rune('a'+n))
	})
	require.NoError(t, err)
	assert.Len(t, rules, 5)
	for _, r := range rules {
		assert.NotEmpty(t, r.ID)
		assert.True(t, r.Enabled)
	}
}
