package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/octoreflex/irm/internal/domain"
)

// SeedRuleIfAbsent inserts a ScoringRule only if its ruleKey is not
// already configured, used on startup to seed the embedded defaults
// without clobbering operator edits on restart.
func (s *Store) SeedRuleIfAbsent(ctx context.Context, r domain.ScoringRule) error {
	config, err := json.Marshal(nonNilMap(r.Config))
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	_, err = s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO scoring_rules (id, rule_key, name, description, enabled, weight, threshold, window_minutes, config)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (rule_key) DO NOTHING
	`, r.ID, string(r.RuleKey), r.Name, r.Description, r.Enabled, r.Weight, r.Threshold, r.WindowMinutes, config)
	if err != nil {
		return fmt.Errorf("seed scoring rule: %w", err)
	}
	return nil
}

func scanRule(row interface{ Scan(dest ...any) error }) (domain.ScoringRule, error) {
	var r domain.ScoringRule
	var ruleKey string
	var config []byte
	err := row.Scan(&r.ID, &ruleKey, &r.Name, &r.Description, &r.Enabled, &r.Weight,
		&r.Threshold, &r.WindowMinutes, &config)
	if err != nil {
		return domain.ScoringRule{}, err
	}
	r.RuleKey = domain.RuleKey(ruleKey)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &r.Config); err != nil {
			return domain.ScoringRule{}, fmt.Errorf("unmarshal rule config: %w", err)
		}
	}
	return r, nil
}

const ruleColumns = `id, rule_key, name, description, enabled, weight, threshold, window_minutes, config`

// ListRules returns every configured ScoringRule.
func (s *Store) ListRules(ctx context.Context) ([]domain.ScoringRule, error) {
	rows, err := s.querierFor(ctx).QueryContext(ctx, `SELECT `+ruleColumns+` FROM scoring_rules ORDER BY rule_key`)
	if err != nil {
		return nil, fmt.Errorf("list scoring rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scoring rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRuleByKey fetches a single ScoringRule by its stable key.
func (s *Store) GetRuleByKey(ctx context.Context, key domain.RuleKey) (domain.ScoringRule, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM scoring_rules WHERE rule_key = $1`, string(key))
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScoringRule{}, ErrNotFound
	}
	if err != nil {
		return domain.ScoringRule{}, fmt.Errorf("get scoring rule by key: %w", err)
	}
	return r, nil
}

// UpdateRule persists an admin edit to a ScoringRule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, r domain.ScoringRule) error {
	config, err := json.Marshal(nonNilMap(r.Config))
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE scoring_rules SET
			name = $2, description = $3, enabled = $4, weight = $5, threshold = $6,
			window_minutes = $7, config = $8
		WHERE id = $1
	`, r.ID, r.Name, r.Description, r.Enabled, r.Weight, r.Threshold, r.WindowMinutes, config)
	if err != nil {
		return fmt.Errorf("update scoring rule: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}
