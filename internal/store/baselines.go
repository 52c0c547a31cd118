package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/octoreflex/irm/internal/domain"
)

// InsertBaseline appends a new Baseline record. Baselines are
// append-only: there is no update path.
func (s *Store) InsertBaseline(ctx context.Context, b domain.Baseline) error {
	_, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO baselines
			(actor_id, computed_at, window_days, typical_active_hours, known_ip_addresses,
			 known_user_agents, avg_bytes_per_day, avg_events_per_day, typical_resource_scope,
			 normal_failure_rate, event_count, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, b.ActorID, b.ComputedAt, b.WindowDays, pq.Array(b.TypicalActiveHours), pq.Array(b.KnownIPAddresses),
		pq.Array(b.KnownUserAgents), b.AvgBytesPerDay, b.AvgEventsPerDay, b.TypicalResourceScope,
		b.NormalFailureRate, b.EventCount, b.FirstSeen, b.LastSeen)
	if err != nil {
		return fmt.Errorf("insert baseline: %w", err)
	}
	return nil
}

// GetLatestBaseline returns the most recently computed Baseline for an
// actor, or ErrNotFound if none exists yet.
func (s *Store) GetLatestBaseline(ctx context.Context, actorID string) (domain.Baseline, error) {
	var b domain.Baseline
	err := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT actor_id, computed_at, window_days, typical_active_hours, known_ip_addresses,
		       known_user_agents, avg_bytes_per_day, avg_events_per_day, typical_resource_scope,
		       normal_failure_rate, event_count, first_seen, last_seen
		FROM baselines WHERE actor_id = $1
		ORDER BY computed_at DESC LIMIT 1
	`, actorID).Scan(&b.ActorID, &b.ComputedAt, &b.WindowDays, pq.Array(&b.TypicalActiveHours),
		pq.Array(&b.KnownIPAddresses), pq.Array(&b.KnownUserAgents), &b.AvgBytesPerDay,
		&b.AvgEventsPerDay, &b.TypicalResourceScope, &b.NormalFailureRate, &b.EventCount,
		&b.FirstSeen, &b.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Baseline{}, ErrNotFound
	}
	if err != nil {
		return domain.Baseline{}, fmt.Errorf("get latest baseline: %w", err)
	}
	return b, nil
}

// CountBaselines reports the total number of persisted Baseline records
// (the retention invariant: this count is unaffected by any retention run).
func (s *Store) CountBaselines(ctx context.Context) (int64, error) {
	var n int64
	err := s.querierFor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM baselines`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count baselines: %w", err)
	}
	return n, nil
}
