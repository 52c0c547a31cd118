// Package normalize implements the pure raw-payload-to-canonical-Event
// transform: field-priority extraction, redaction, and metadata
// preservation. Free of I/O so it can be exercised directly by
// table-driven and property-style tests, per the pack's
// pure-computation-vs-effectful-store split.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
)

// Source is the subset of domain.Source the normalizer needs.
type Source struct {
	ID               string
	RedactResourceID bool
}

var actorIDKeys = []string{"actorId", "actor", "userId", "user"}
var actionTypeKeys = []string{"actionType", "action", "type"}
var resourceIDKeys = []string{"resourceId", "resource"}
var ipKeys = []string{"ip", "ipAddress"}
var bytesKeys = []string{"bytes", "bytesTransferred"}

// Validate performs schema validation: required-field presence and field
// type/format checks per the canonical field table (actorId/actionType
// alternates, actorType enum, occurredAt format, non-negative bytes,
// outcome enum). It returns an *apperrors.Error of KindValidation on the
// first violation found, or nil if raw is well-formed. Validate never
// mutates raw and is the endpoint's schema-validation step, distinct from
// Normalize's transform step.
func Validate(raw map[string]any) error {
	consumed := make(map[string]bool, len(raw))

	if actorID, ok := firstString(raw, actorIDKeys, consumed); !ok || actorID == "" {
		return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
			apperrors.Detail{Path: "actorId", Message: "missing required actorId (or actor/userId/user)"})
	}

	if actionType, ok := firstString(raw, actionTypeKeys, consumed); !ok || actionType == "" {
		return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
			apperrors.Detail{Path: "actionType", Message: "missing required actionType (or action/type)"})
	}

	if v, ok := raw["actorType"]; ok {
		s, isStr := v.(string)
		if !isStr || !domain.ActorType(s).Valid() {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "actorType", Message: "must be one of employee, service"})
		}
	}

	if v, ok := firstValue(raw, []string{"occurredAt", "timestamp"}, consumed); ok {
		s, isStr := v.(string)
		if !isStr {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "occurredAt", Message: "must be an ISO-8601 string"})
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "occurredAt", Message: "must be an ISO-8601 timestamp"})
		}
	}

	if v, ok := firstValue(raw, bytesKeys, consumed); ok {
		n, ok := toInt64(v)
		if !ok || n < 0 {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "bytes", Message: "must be a non-negative number"})
		}
	}

	if v, ok := raw["outcome"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "outcome", Message: "must be a string"})
		}
		switch s {
		case "success", "failure", "failed", "error":
		default:
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "outcome", Message: "must be one of success, failure, failed, error"})
		}
	} else if v, ok := raw["success"]; ok {
		if _, isBool := v.(bool); !isBool {
			return apperrors.WithDetails(apperrors.KindValidation, "schema validation failed",
				apperrors.Detail{Path: "success", Message: "must be a boolean"})
		}
	}

	return nil
}

// Normalize converts a raw decoded JSON payload into a canonical Event.
// It assumes raw has already passed Validate — the endpoint calls Validate
// as its own pipeline step so malformed payloads get a distinct "Validation
// failed" response — but re-validates defensively so Normalize never
// panics when called on its own (as the tests in this package do). now is
// the ingest-time wall clock, passed explicitly so the function stays pure.
func Normalize(raw map[string]any, src Source, now time.Time) (domain.Event, error) {
	if err := Validate(raw); err != nil {
		return domain.Event{}, err
	}

	consumed := make(map[string]bool, len(raw))

	actorID, _ := firstString(raw, actorIDKeys, consumed)
	actionType, _ := firstString(raw, actionTypeKeys, consumed)

	actorType := domain.ActorEmployee
	if v, ok := raw["actorType"]; ok {
		consumed["actorType"] = true
		actorType = domain.ActorType(v.(string))
	}

	occurredAt := now
	if v, ok := firstValue(raw, []string{"occurredAt", "timestamp"}, consumed); ok {
		t, _ := time.Parse(time.RFC3339, v.(string))
		occurredAt = t.UTC()
	}

	var resourceType *string
	if s, ok := firstString(raw, []string{"resourceType"}, consumed); ok {
		resourceType = &s
	}

	var resourceID *string
	if s, ok := firstString(raw, resourceIDKeys, consumed); ok {
		if src.RedactResourceID {
			redacted := redact(s)
			resourceID = &redacted
		} else {
			resourceID = &s
		}
	}

	var ip *string
	if s, ok := firstString(raw, ipKeys, consumed); ok {
		ip = &s
	}

	var userAgent *string
	if s, ok := firstString(raw, []string{"userAgent"}, consumed); ok {
		userAgent = &s
	}

	var bytesVal *int64
	if v, ok := firstValue(raw, bytesKeys, consumed); ok {
		n, _ := toInt64(v)
		bytesVal = &n
	}

	outcome := extractOutcome(raw, consumed)

	metadata := map[string]any{}
	for k, v := range raw {
		if consumed[k] || v == nil {
			continue
		}
		metadata[k] = v
	}

	return domain.Event{
		ID:           uuid.NewString(),
		OccurredAt:   occurredAt,
		IngestedAt:   now,
		ActorID:      actorID,
		ActorType:    actorType,
		SourceID:     src.ID,
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      outcome,
		IP:           ip,
		UserAgent:    userAgent,
		Bytes:        bytesVal,
		Metadata:     metadata,
	}, nil
}

// extractOutcome reads the outcome/success fields. raw is assumed to have
// already passed Validate, so the type switches here cannot fail.
func extractOutcome(raw map[string]any, consumed map[string]bool) domain.Outcome {
	if v, ok := raw["outcome"]; ok {
		consumed["outcome"] = true
		switch v.(string) {
		case "success":
			return domain.OutcomeSuccess
		default:
			return domain.OutcomeFailure
		}
	}
	if v, ok := raw["success"]; ok {
		consumed["success"] = true
		if v.(bool) {
			return domain.OutcomeSuccess
		}
		return domain.OutcomeFailure
	}
	return domain.OutcomeSuccess
}

func firstValue(raw map[string]any, keys []string, consumed map[string]bool) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			consumed[k] = true
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys []string, consumed map[string]bool) (string, bool) {
	v, ok := firstValue(raw, keys, consumed)
	if !ok {
		return "", false
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false
	}
	return s, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// redact returns the first 16 hex characters of sha256(value).
func redact(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
