package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

// InsertAuditLog writes an immutable audit record. Canonicalization of
// before/after (decode-then-reencode so two logically-equal bags never
// produce byte-different rows) is the caller's responsibility
// (internal/audit), not the Store's.
func (s *Store) InsertAuditLog(ctx context.Context, log domain.AuditLog) error {
	var before, after []byte
	var err error
	if log.BeforeValue != nil {
		if before, err = json.Marshal(log.BeforeValue); err != nil {
			return fmt.Errorf("marshal audit before value: %w", err)
		}
	}
	if log.AfterValue != nil {
		if after, err = json.Marshal(log.AfterValue); err != nil {
			return fmt.Errorf("marshal audit after value: %w", err)
		}
	}

	_, err = s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, before_value, after_value, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, log.ID, log.UserID, string(log.Action), string(log.EntityType), log.EntityID, before, after, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogsForEntity returns every audit record for one entity,
// newest first. Read-path support for the (out-of-core) audit-log read API.
func (s *Store) ListAuditLogsForEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string) ([]domain.AuditLog, error) {
	rows, err := s.querierFor(ctx).QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, before_value, after_value, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs for entity: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var log domain.AuditLog
		var action, entType string
		var before, after []byte
		if err := rows.Scan(&log.ID, &log.UserID, &action, &entType, &log.EntityID, &before, &after, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		log.Action = domain.AuditAction(action)
		log.EntityType = domain.AuditEntityType(entType)
		if len(before) > 0 {
			if err := json.Unmarshal(before, &log.BeforeValue); err != nil {
				return nil, fmt.Errorf("unmarshal audit before value: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &log.AfterValue); err != nil {
				return nil, fmt.Errorf("unmarshal audit after value: %w", err)
			}
		}
		out = append(out, log)
	}
	return out, rows.Err()
}
