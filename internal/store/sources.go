package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
)

// ErrDuplicateKey is returned by CreateSource when source.key already exists.
var ErrDuplicateKey = apperrors.New(apperrors.KindConflict, "source key already exists")

// ErrNotFound is returned when a lookup by ID/key finds nothing.
var ErrNotFound = apperrors.New(apperrors.KindNotFound, "not found")

// CreateSource inserts a new Source. Returns ErrDuplicateKey if src.Key
// is already taken.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) error {
	_, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO sources
			(id, key, name, description, api_key_hash, enabled,
			 redact_resource_id, retention_days, rate_limit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, src.ID, src.Key, src.Name, src.Description, src.APIKeyHash, src.Enabled,
		src.RedactResourceID, src.RetentionDays, src.RateLimit, src.CreatedAt, src.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func scanSource(row interface{ Scan(dest ...any) error }) (domain.Source, error) {
	var src domain.Source
	err := row.Scan(&src.ID, &src.Key, &src.Name, &src.Description, &src.APIKeyHash,
		&src.Enabled, &src.RedactResourceID, &src.RetentionDays, &src.RateLimit,
		&src.CreatedAt, &src.UpdatedAt)
	return src, err
}

const sourceColumns = `id, key, name, description, api_key_hash, enabled,
	redact_resource_id, retention_days, rate_limit, created_at, updated_at`

// GetSourceByID fetches a Source by its primary key.
func (s *Store) GetSourceByID(ctx context.Context, id string) (domain.Source, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, ErrNotFound
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("get source by id: %w", err)
	}
	return src, nil
}

// GetSourceByKey fetches a Source by its immutable key.
func (s *Store) GetSourceByKey(ctx context.Context, key string) (domain.Source, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE key = $1`, key)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, ErrNotFound
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("get source by key: %w", err)
	}
	return src, nil
}

// ListSources returns every configured Source, in no particular order.
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.querierFor(ctx).QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateSource persists mutable fields of an existing Source (name,
// description, enabled, redactResourceId, retentionDays, rateLimit).
// Key and apiKeyHash are never touched by this path.
func (s *Store) UpdateSource(ctx context.Context, src domain.Source) error {
	src.UpdatedAt = time.Now().UTC()
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE sources SET
			name = $2, description = $3, enabled = $4, redact_resource_id = $5,
			retention_days = $6, rate_limit = $7, updated_at = $8
		WHERE id = $1
	`, src.ID, src.Name, src.Description, src.Enabled, src.RedactResourceID,
		src.RetentionDays, src.RateLimit, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// UpdateSourceAPIKeyHash atomically replaces a Source's credential hash
// (rotateApiKey): the old credential becomes invalid the instant this
// commits.
func (s *Store) UpdateSourceAPIKeyHash(ctx context.Context, id, newHash string) error {
	res, err := s.querierFor(ctx).ExecContext(ctx,
		`UPDATE sources SET api_key_hash = $2, updated_at = $3 WHERE id = $1`,
		id, newHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate source api key: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
