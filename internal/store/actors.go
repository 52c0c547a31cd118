package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/octoreflex/irm/internal/domain"
)

// UpsertActorOnIngest creates or updates an Actor on successful event
// ingestion: firstSeen = min(existing, occurredAt), lastSeen =
// occurredAt, actorType is set only on creation (never overwritten by a
// later event of a different declared type).
func (s *Store) UpsertActorOnIngest(ctx context.Context, actorID string, actorType domain.ActorType, occurredAt time.Time) error {
	_, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO actors (actor_id, display_name, actor_type, first_seen, last_seen, current_risk_score)
		VALUES ($1, '', $2, $3, $3, 0)
		ON CONFLICT (actor_id) DO UPDATE SET
			first_seen = LEAST(actors.first_seen, EXCLUDED.first_seen),
			last_seen  = EXCLUDED.last_seen
	`, actorID, string(actorType), occurredAt)
	if err != nil {
		return fmt.Errorf("upsert actor on ingest: %w", err)
	}
	return nil
}

// SetActorRiskScore updates an Actor's current risk score and bumps
// lastSeen, as part of a scoring pass.
func (s *Store) SetActorRiskScore(ctx context.Context, actorID string, score int, referenceTime time.Time) error {
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE actors SET current_risk_score = $2, last_seen = GREATEST(last_seen, $3)
		WHERE actor_id = $1
	`, actorID, score, referenceTime)
	if err != nil {
		return fmt.Errorf("set actor risk score: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// GetActor fetches an Actor by actorId.
func (s *Store) GetActor(ctx context.Context, actorID string) (domain.Actor, error) {
	var a domain.Actor
	err := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT actor_id, display_name, actor_type, first_seen, last_seen, current_risk_score
		FROM actors WHERE actor_id = $1
	`, actorID).Scan(&a.ActorID, &a.DisplayName, &a.ActorType, &a.FirstSeen, &a.LastSeen, &a.CurrentRiskScore)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Actor{}, ErrNotFound
	}
	if err != nil {
		return domain.Actor{}, fmt.Errorf("get actor: %w", err)
	}
	return a, nil
}

// ListActorIDsWithEventsSince returns the distinct actorIds with at
// least one event at or after since — the scoring/baseline jobs' work list.
func (s *Store) ListActorIDsWithEventsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.querierFor(ctx).QueryContext(ctx,
		`SELECT DISTINCT actor_id FROM events WHERE occurred_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("list actors with recent events: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan actor id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
