package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/octoreflex/irm/internal/domain"
)

// InsertAlert persists a newly created Alert.
func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) error {
	contributions, err := json.Marshal(a.RuleContributions)
	if err != nil {
		return fmt.Errorf("marshal rule contributions: %w", err)
	}
	comparison, err := json.Marshal(a.BaselineComparison)
	if err != nil {
		return fmt.Errorf("marshal baseline comparison: %w", err)
	}
	_, err = s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO alerts
			(id, actor_id, score, severity, status, rule_contributions, baseline_comparison,
			 triggering_event_ids, created_at, updated_at, acknowledged_by, acknowledged_at,
			 resolved_by, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, a.ID, a.ActorID, a.Score, string(a.Severity), string(a.Status), contributions, comparison,
		pq.Array(a.TriggeringEventIDs), a.CreatedAt, a.UpdatedAt, a.AcknowledgedBy, a.AcknowledgedAt,
		a.ResolvedBy, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func scanAlert(row interface{ Scan(dest ...any) error }) (domain.Alert, error) {
	var a domain.Alert
	var severity, status string
	var contributions, comparison []byte
	err := row.Scan(&a.ID, &a.ActorID, &a.Score, &severity, &status, &contributions, &comparison,
		pq.Array(&a.TriggeringEventIDs), &a.CreatedAt, &a.UpdatedAt, &a.AcknowledgedBy, &a.AcknowledgedAt,
		&a.ResolvedBy, &a.ResolvedAt)
	if err != nil {
		return domain.Alert{}, err
	}
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	if len(contributions) > 0 {
		if err := json.Unmarshal(contributions, &a.RuleContributions); err != nil {
			return domain.Alert{}, fmt.Errorf("unmarshal rule contributions: %w", err)
		}
	}
	if len(comparison) > 0 {
		if err := json.Unmarshal(comparison, &a.BaselineComparison); err != nil {
			return domain.Alert{}, fmt.Errorf("unmarshal baseline comparison: %w", err)
		}
	}
	return a, nil
}

const alertColumns = `id, actor_id, score, severity, status, rule_contributions, baseline_comparison,
	triggering_event_ids, created_at, updated_at, acknowledged_by, acknowledged_at,
	resolved_by, resolved_at`

// GetAlertByID fetches a single Alert.
func (s *Store) GetAlertByID(ctx context.Context, id string) (domain.Alert, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, ErrNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("get alert by id: %w", err)
	}
	return a, nil
}

// FindOpenAlertSince looks for an open Alert for actorID created at or
// after since — the deduplication check. Returns ErrNotFound if none exists.
func (s *Store) FindOpenAlertSince(ctx context.Context, actorID string, since time.Time) (domain.Alert, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE actor_id = $1 AND status = $2 AND created_at >= $3
		ORDER BY created_at DESC LIMIT 1
	`, actorID, string(domain.AlertOpen), since)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, ErrNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("find open alert since: %w", err)
	}
	return a, nil
}

// UpdateAlertStatus persists a status-machine transition: status,
// updatedAt, and whichever of acknowledged/resolved fields the
// transition set (including any backfilled values).
func (s *Store) UpdateAlertStatus(ctx context.Context, a domain.Alert) error {
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE alerts SET
			status = $2, updated_at = $3, acknowledged_by = $4, acknowledged_at = $5,
			resolved_by = $6, resolved_at = $7
		WHERE id = $1
	`, a.ID, string(a.Status), a.UpdatedAt, a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}
