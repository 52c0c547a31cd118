package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestNormalize_MinimalValidPayload(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "file_read",
	}

	ev, err := Normalize(raw, Source{ID: "src-1"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "alice@corp", ev.ActorID)
	assert.Equal(t, "file_read", ev.ActionType)
	assert.Equal(t, domain.ActorEmployee, ev.ActorType)
	assert.Equal(t, domain.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, fixedNow, ev.OccurredAt)
	assert.NotEmpty(t, ev.ID)
}

func TestNormalize_MissingActorID(t *testing.T) {
	raw := map[string]any{"actionType": "file_read"}

	_, err := Normalize(raw, Source{}, fixedNow)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
}

func TestNormalize_MissingActionType(t *testing.T) {
	raw := map[string]any{"actorId": "alice@corp"}

	_, err := Normalize(raw, Source{}, fixedNow)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestNormalize_ActorIDPriority(t *testing.T) {
	raw := map[string]any{
		"actorId":    "primary",
		"user":       "fallback",
		"actionType": "login",
	}
	ev, err := Normalize(raw, Source{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "primary", ev.ActorID)
}

func TestNormalize_InvalidActorType(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "login",
		"actorType":  "robot",
	}
	_, err := Normalize(raw, Source{}, fixedNow)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestNormalize_OccurredAtParsing(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "login",
		"occurredAt": "2026-01-10T03:04:05Z",
	}
	ev, err := Normalize(raw, Source{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 10, 3, 4, 5, 0, time.UTC), ev.OccurredAt)
}

func TestNormalize_OccurredAtMalformed(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "login",
		"occurredAt": "not-a-timestamp",
	}
	_, err := Normalize(raw, Source{}, fixedNow)
	require.Error(t, err)
}

func TestNormalize_OutcomeVariants(t *testing.T) {
	cases := []struct {
		name    string
		raw     map[string]any
		outcome domain.Outcome
	}{
		{"explicit success", map[string]any{"outcome": "success"}, domain.OutcomeSuccess},
		{"explicit failure", map[string]any{"outcome": "failure"}, domain.OutcomeFailure},
		{"explicit failed alias", map[string]any{"outcome": "failed"}, domain.OutcomeFailure},
		{"boolean true", map[string]any{"success": true}, domain.OutcomeSuccess},
		{"boolean false", map[string]any{"success": false}, domain.OutcomeFailure},
		{"default", map[string]any{}, domain.OutcomeSuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := map[string]any{"actorId": "alice@corp", "actionType": "login"}
			for k, v := range tc.raw {
				raw[k] = v
			}
			ev, err := Normalize(raw, Source{}, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, ev.Outcome)
		})
	}
}

func TestNormalize_ResourceIDRedaction(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "file_read",
		"resourceId": "secret-doc-42",
	}

	plain, err := Normalize(raw, Source{RedactResourceID: false}, fixedNow)
	require.NoError(t, err)
	require.NotNil(t, plain.ResourceID)
	assert.Equal(t, "secret-doc-42", *plain.ResourceID)

	redacted, err := Normalize(raw, Source{RedactResourceID: true}, fixedNow)
	require.NoError(t, err)
	require.NotNil(t, redacted.ResourceID)
	assert.NotEqual(t, "secret-doc-42", *redacted.ResourceID)
	assert.Len(t, *redacted.ResourceID, 16)

	// Deterministic: same input always redacts to the same value.
	redactedAgain, err := Normalize(raw, Source{RedactResourceID: true}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, *redacted.ResourceID, *redactedAgain.ResourceID)
}

func TestNormalize_BytesValidation(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "export",
		"bytes":      float64(-5),
	}
	_, err := Normalize(raw, Source{}, fixedNow)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestNormalize_UnconsumedFieldsBecomeMetadata(t *testing.T) {
	raw := map[string]any{
		"actorId":    "alice@corp",
		"actionType": "login",
		"customTag":  "promoted",
		"nilField":   nil,
	}
	ev, err := Normalize(raw, Source{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "promoted", ev.Metadata["customTag"])
	_, hasNil := ev.Metadata["nilField"]
	assert.False(t, hasNil)
	_, hasActorID := ev.Metadata["actorId"]
	assert.False(t, hasActorID)
}
