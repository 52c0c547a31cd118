package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/octoreflex/irm/internal/domain"
)

// InsertEvent writes an immutable normalized Event. Client-supplied
// identifiers are never trusted for uniqueness beyond the core-generated
// id; duplicate ingestions produce distinct rows (at-least-once).
func (s *Store) InsertEvent(ctx context.Context, ev domain.Event) error {
	metadata, err := json.Marshal(nonNilMap(ev.Metadata))
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO events
			(id, occurred_at, ingested_at, actor_id, actor_type, source_id, action_type,
			 resource_type, resource_id, outcome, ip, user_agent, bytes, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, ev.ID, ev.OccurredAt, ev.IngestedAt, ev.ActorID, string(ev.ActorType), ev.SourceID, ev.ActionType,
		ev.ResourceType, ev.ResourceID, string(ev.Outcome), ev.IP, ev.UserAgent, ev.Bytes, metadata)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func scanEvent(row interface{ Scan(dest ...any) error }) (domain.Event, error) {
	var ev domain.Event
	var actorType, outcome string
	var metadata []byte
	err := row.Scan(&ev.ID, &ev.OccurredAt, &ev.IngestedAt, &ev.ActorID, &actorType, &ev.SourceID,
		&ev.ActionType, &ev.ResourceType, &ev.ResourceID, &outcome, &ev.IP, &ev.UserAgent,
		&ev.Bytes, &metadata)
	if err != nil {
		return domain.Event{}, err
	}
	ev.ActorType = domain.ActorType(actorType)
	ev.Outcome = domain.Outcome(outcome)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return domain.Event{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return ev, nil
}

const eventColumns = `id, occurred_at, ingested_at, actor_id, actor_type, source_id, action_type,
	resource_type, resource_id, outcome, ip, user_agent, bytes, metadata`

// ListEventsForActorSince returns every event for actorId with
// occurredAt >= since, the fetch step behind both baseline computation
// and scoring.
func (s *Store) ListEventsForActorSince(ctx context.Context, actorID string, since time.Time) ([]domain.Event, error) {
	rows, err := s.querierFor(ctx).QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE actor_id = $1 AND occurred_at >= $2 ORDER BY occurred_at`,
		actorID, since)
	if err != nil {
		return nil, fmt.Errorf("list events for actor: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEventsForSourceBefore deletes every event for sourceID with
// occurredAt < cutoff. Returns the number of rows deleted. In dryRun
// mode it only counts.
func (s *Store) DeleteEventsForSourceBefore(ctx context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error) {
	q := s.querierFor(ctx)
	if dryRun {
		var n int64
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE source_id = $1 AND occurred_at < $2`,
			sourceID, cutoff).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count events for source before cutoff: %w", err)
		}
		return n, nil
	}
	res, err := q.ExecContext(ctx,
		`DELETE FROM events WHERE source_id = $1 AND occurred_at < $2`, sourceID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events for source before cutoff: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOrphanEventsBefore deletes events whose sourceId is not among
// knownSourceIDs and whose occurredAt < cutoff (the orphan sweep).
func (s *Store) DeleteOrphanEventsBefore(ctx context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error) {
	q := s.querierFor(ctx)
	if dryRun {
		var n int64
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE NOT (source_id = ANY($1)) AND occurred_at < $2`,
			pq.Array(knownSourceIDs), cutoff).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count orphan events before cutoff: %w", err)
		}
		return n, nil
	}
	res, err := q.ExecContext(ctx,
		`DELETE FROM events WHERE NOT (source_id = ANY($1)) AND occurred_at < $2`,
		pq.Array(knownSourceIDs), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete orphan events before cutoff: %w", err)
	}
	return res.RowsAffected()
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
