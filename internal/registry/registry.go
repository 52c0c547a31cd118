// Package registry implements SourceRegistry: CRUD over ingestion
// sources, credential generation/rotation, and credential verification,
// grounded on the pack's bcrypt-hashed API-key pattern.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/audit"
	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/store"
)

// storeDep is the subset of *store.Store the registry depends on.
type storeDep interface {
	CreateSource(ctx context.Context, src domain.Source) error
	GetSourceByID(ctx context.Context, id string) (domain.Source, error)
	GetSourceByKey(ctx context.Context, key string) (domain.Source, error)
	UpdateSource(ctx context.Context, src domain.Source) error
	UpdateSourceAPIKeyHash(ctx context.Context, id, newHash string) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry implements the SourceRegistry operations.
type Registry struct {
	store      storeDep
	auditor    *audit.Recorder
	bcryptCost int
}

// New constructs a Registry.
func New(s storeDep, auditor *audit.Recorder, bcryptCost int) *Registry {
	return &Registry{store: s, auditor: auditor, bcryptCost: bcryptCost}
}

// CreatePatch is the input to Create.
type CreatePatch struct {
	Key              string
	Name             string
	Description      string
	RedactResourceID bool
	RetentionDays    int
	RateLimit        int
}

// Create provisions a new Source and returns it alongside the
// plaintext API key, which is never stored and never shown again.
func (r *Registry) Create(ctx context.Context, userID string, p CreatePatch) (domain.Source, string, error) {
	if p.Key == "" || p.Name == "" {
		return domain.Source{}, "", apperrors.New(apperrors.KindValidation, "key and name are required")
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = 90
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 1000
	}

	plaintext, hash, err := GenerateCredential(r.bcryptCost)
	if err != nil {
		return domain.Source{}, "", apperrors.Wrap(apperrors.KindInternal, "generate credential", err)
	}

	now := time.Now().UTC()
	src := domain.Source{
		ID:               uuid.NewString(),
		Key:              p.Key,
		Name:             p.Name,
		Description:      p.Description,
		APIKeyHash:       hash,
		Enabled:          true,
		RedactResourceID: p.RedactResourceID,
		RetentionDays:    p.RetentionDays,
		RateLimit:        p.RateLimit,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		if err := r.store.CreateSource(ctx, src); err != nil {
			return err
		}
		return r.auditor.Record(ctx, audit.Params{
			UserID:     userID,
			Action:     domain.AuditSourceCreated,
			EntityType: domain.EntitySource,
			EntityID:   src.ID,
			AfterValue: sourcePublicFields(src),
		})
	})
	if err == store.ErrDuplicateKey {
		return domain.Source{}, "", apperrors.New(apperrors.KindConflict, fmt.Sprintf("source key %q already exists", p.Key))
	}
	if err != nil {
		return domain.Source{}, "", apperrors.Wrap(apperrors.KindStore, "create source", err)
	}
	return src, plaintext, nil
}

// UpdatePatch holds the mutable fields Update may change.
type UpdatePatch struct {
	Name             *string
	Description      *string
	Enabled          *bool
	RedactResourceID *bool
	RetentionDays    *int
	RateLimit        *int
}

// Update applies a partial patch to an existing Source's mutable fields.
func (r *Registry) Update(ctx context.Context, userID, id string, p UpdatePatch) (domain.Source, error) {
	var updated domain.Source
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		before, err := r.store.GetSourceByID(ctx, id)
		if err != nil {
			return err
		}
		after := before
		if p.Name != nil {
			after.Name = *p.Name
		}
		if p.Description != nil {
			after.Description = *p.Description
		}
		if p.Enabled != nil {
			after.Enabled = *p.Enabled
		}
		if p.RedactResourceID != nil {
			after.RedactResourceID = *p.RedactResourceID
		}
		if p.RetentionDays != nil {
			after.RetentionDays = *p.RetentionDays
		}
		if p.RateLimit != nil {
			after.RateLimit = *p.RateLimit
		}

		if err := r.store.UpdateSource(ctx, after); err != nil {
			return err
		}
		updated = after
		return r.auditor.Record(ctx, audit.Params{
			UserID:      userID,
			Action:      domain.AuditSourceUpdated,
			EntityType:  domain.EntitySource,
			EntityID:    id,
			BeforeValue: sourcePublicFields(before),
			AfterValue:  sourcePublicFields(after),
		})
	})
	if err == store.ErrNotFound {
		return domain.Source{}, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("source %q not found", id))
	}
	if err != nil {
		return domain.Source{}, apperrors.Wrap(apperrors.KindStore, "update source", err)
	}
	return updated, nil
}

// RotateAPIKey generates a new credential for an existing Source and
// invalidates the old one atomically.
func (r *Registry) RotateAPIKey(ctx context.Context, userID, id string) (domain.Source, string, error) {
	plaintext, hash, err := GenerateCredential(r.bcryptCost)
	if err != nil {
		return domain.Source{}, "", apperrors.Wrap(apperrors.KindInternal, "generate credential", err)
	}

	var rotated domain.Source
	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.GetSourceByID(ctx, id); err != nil {
			return err
		}
		if err := r.store.UpdateSourceAPIKeyHash(ctx, id, hash); err != nil {
			return err
		}
		rotated, err = r.store.GetSourceByID(ctx, id)
		if err != nil {
			return err
		}
		return r.auditor.Record(ctx, audit.Params{
			UserID:      userID,
			Action:      domain.AuditSourceAPIKeyRotated,
			EntityType:  domain.EntitySource,
			EntityID:    id,
			BeforeValue: map[string]any{"apiKey": "<redacted>"},
			AfterValue:  map[string]any{"apiKey": "<redacted>"},
		})
	})
	if err == store.ErrNotFound {
		return domain.Source{}, "", apperrors.New(apperrors.KindNotFound, fmt.Sprintf("source %q not found", id))
	}
	if err != nil {
		return domain.Source{}, "", apperrors.Wrap(apperrors.KindStore, "rotate source api key", err)
	}
	return rotated, plaintext, nil
}

// Verify returns the Source for key iff it exists, the presented
// credential matches its stored hash, and the source is enabled.
// Failure modes are indistinguishable to the caller by design — every
// rejection is apperrors.KindAuth with the same message.
func (r *Registry) Verify(ctx context.Context, key, presented string) (domain.Source, error) {
	invalid := apperrors.New(apperrors.KindAuth, "invalid API key")

	src, err := r.store.GetSourceByKey(ctx, key)
	if err == store.ErrNotFound {
		verifyCredential(presented, "") // dummy compare: unknown key costs the same as a bad secret.
		return domain.Source{}, invalid
	}
	if err != nil {
		return domain.Source{}, apperrors.Wrap(apperrors.KindStore, "lookup source by key", err)
	}

	if !verifyCredential(presented, src.APIKeyHash) {
		return domain.Source{}, invalid
	}
	if !src.Enabled {
		return domain.Source{}, invalid
	}
	return src, nil
}

func sourcePublicFields(s domain.Source) map[string]any {
	return map[string]any{
		"key":              s.Key,
		"name":             s.Name,
		"description":      s.Description,
		"enabled":          s.Enabled,
		"redactResourceId": s.RedactResourceID,
		"retentionDays":    s.RetentionDays,
		"rateLimit":        s.RateLimit,
	}
}
