package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/octoreflex/irm/internal/domain"
)

// InsertRiskScore appends a new RiskScore record (append-only).
func (s *Store) InsertRiskScore(ctx context.Context, rs domain.RiskScore) error {
	contributions, err := json.Marshal(rs.RuleContributions)
	if err != nil {
		return fmt.Errorf("marshal rule contributions: %w", err)
	}
	_, err = s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO risk_scores (actor_id, total_score, computed_at, rule_contributions, triggering_event_ids)
		VALUES ($1,$2,$3,$4,$5)
	`, rs.ActorID, rs.TotalScore, rs.ComputedAt, contributions, pq.Array(rs.TriggeringEventIDs))
	if err != nil {
		return fmt.Errorf("insert risk score: %w", err)
	}
	return nil
}
