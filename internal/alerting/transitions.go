package alerting

import (
	"fmt"
	"time"

	"github.com/octoreflex/irm/internal/domain"
)

// ErrInvalidTransition is returned when a requested status transition is
// not reachable from the alert's current status.
var ErrInvalidTransition = fmt.Errorf("alerting: invalid status transition")

// Acknowledge moves an open Alert to acknowledged. No-op transitions from
// any other status are rejected: acknowledgement only ever follows open.
func Acknowledge(a domain.Alert, by string, now time.Time) (domain.Alert, error) {
	if a.Status != domain.AlertOpen {
		return domain.Alert{}, fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, a.Status)
	}
	a.Status = domain.AlertAcknowledged
	a.AcknowledgedBy = &by
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	return a, nil
}

// Resolve moves an Alert to resolved from open or acknowledged. If the
// alert skipped acknowledgment (still open), acknowledgedBy/At is
// backfilled with the resolver's identity and timestamp, per the status
// machine's backfill rule.
func Resolve(a domain.Alert, by string, now time.Time) (domain.Alert, error) {
	return terminalTransition(a, domain.AlertResolved, by, now)
}

// MarkFalsePositive moves an Alert to false_positive from open or
// acknowledged, with the same acknowledgment-backfill behavior as Resolve.
func MarkFalsePositive(a domain.Alert, by string, now time.Time) (domain.Alert, error) {
	return terminalTransition(a, domain.AlertFalsePositive, by, now)
}

func terminalTransition(a domain.Alert, target domain.AlertStatus, by string, now time.Time) (domain.Alert, error) {
	switch a.Status {
	case domain.AlertOpen:
		a.AcknowledgedBy = &by
		a.AcknowledgedAt = &now
	case domain.AlertAcknowledged:
		// acknowledgment already recorded, left untouched.
	default:
		return domain.Alert{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, target, a.Status)
	}

	a.Status = target
	a.ResolvedBy = &by
	a.ResolvedAt = &now
	a.UpdatedAt = now
	return a, nil
}
