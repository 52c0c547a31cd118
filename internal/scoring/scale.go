package scoring

import "math"

// scalePoints maps how far an observed value exceeds its rule's
// threshold (ratio = observed/threshold, >=1 when the rule fires) onto
// an integer point award in [1, weight]. Monotone non-decreasing in
// ratio, deterministic, and always positive once the rule has fired —
// the three properties the scoring contract requires of every
// evaluator's formula.
func scalePoints(weight int, ratio float64) int {
	if ratio < 1 {
		ratio = 1
	}
	fraction := ratio / 2
	if fraction > 1 {
		fraction = 1
	}
	points := int(math.Round(float64(weight) * fraction))
	if points < 1 {
		points = 1
	}
	if points > weight {
		points = weight
	}
	return points
}
