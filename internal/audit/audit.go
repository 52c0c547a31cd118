// Package audit records immutable config-change entries on behalf of
// admin-initiated mutations, rejecting anything outside the closed
// action/entity-type sets and canonicalizing the before/after bags so
// two logically-equal records never produce byte-different ledger rows
// — grounded on the pack's constitutional-kernel invariant checks
// (deterministic encoding, no silently-dropped audit trail), narrowed to
// this domain.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
)

// Params is the input to Record.
type Params struct {
	UserID      string
	Action      domain.AuditAction
	EntityType  domain.AuditEntityType
	EntityID    string
	BeforeValue map[string]any
	AfterValue  map[string]any
}

// store is the subset of *store.Store that Recorder depends on, kept
// narrow so audit tests can fake it without a database.
type store interface {
	InsertAuditLog(ctx context.Context, log domain.AuditLog) error
}

// Recorder writes AuditLog entries.
type Recorder struct {
	store store
}

// New constructs a Recorder backed by s.
func New(s store) *Recorder {
	return &Recorder{store: s}
}

// Record validates and persists a single audit entry. Callers must
// invoke this within the same Store transaction as the mutation it
// describes (typically via store.WithTx).
func (r *Recorder) Record(ctx context.Context, p Params) error {
	if !p.Action.Valid() {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown audit action %q", p.Action))
	}
	if !p.EntityType.Valid() {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown audit entity type %q", p.EntityType))
	}
	if p.UserID == "" {
		return apperrors.New(apperrors.KindValidation, "audit record requires a userId")
	}
	if p.EntityID == "" {
		return apperrors.New(apperrors.KindValidation, "audit record requires an entityId")
	}
	if p.BeforeValue == nil && p.AfterValue == nil && !p.Action.IsCredentialRotation() {
		return apperrors.New(apperrors.KindValidation,
			"audit record requires at least one of beforeValue/afterValue unless it is a credential rotation")
	}

	before, err := canonicalize(p.BeforeValue)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "canonicalize audit before value", err)
	}
	after, err := canonicalize(p.AfterValue)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "canonicalize audit after value", err)
	}

	log := domain.AuditLog{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Action:      p.Action,
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		BeforeValue: before,
		AfterValue:  after,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.store.InsertAuditLog(ctx, log); err != nil {
		return apperrors.Wrap(apperrors.KindStore, "persist audit log", err)
	}
	return nil
}

// canonicalize round-trips a bag through json.Marshal/Unmarshal so that
// map-key ordering and numeric representation never cause two
// logically-equal bags to be written as different bytes. nil stays nil.
func canonicalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return decoded, nil
}
