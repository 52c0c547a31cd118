package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/ratelimit"
)

type fakeVerifier struct {
	sources map[string]domain.Source
}

func (f *fakeVerifier) Verify(ctx context.Context, key, presented string) (domain.Source, error) {
	src, ok := f.sources[key]
	if !ok || presented != "correct-key" {
		return domain.Source{}, apperrors.New(apperrors.KindAuth, "invalid API key")
	}
	return src, nil
}

type fakeEventStore struct {
	inserted []domain.Event
	failNext bool
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, ev domain.Event) error {
	if f.failNext {
		return assert.AnError
	}
	f.inserted = append(f.inserted, ev)
	return nil
}

func (f *fakeEventStore) UpsertActorOnIngest(ctx context.Context, actorID string, actorType domain.ActorType, occurredAt time.Time) error {
	return nil
}

func (f *fakeEventStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestEndpoint() (*Endpoint, *fakeEventStore) {
	verifier := &fakeVerifier{sources: map[string]domain.Source{
		"demo": {ID: "src-1", Key: "demo", Enabled: true, RateLimit: 5},
	}}
	es := &fakeEventStore{}
	ep := New(verifier, es, ratelimit.NewMemLimiter(), nil, zap.NewNop())
	return ep, es
}

func doIngest(t *testing.T, ep *Endpoint, sourceKey, apiKey string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/ingest/"+sourceKey, &buf)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	ep.Router(nil).ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_MissingAPIKeyRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	rec := doIngest(t, ep, "demo", "", map[string]any{"actorId": "a", "actionType": "login"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngest_BadAPIKeyRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	rec := doIngest(t, ep, "demo", "wrong-key", map[string]any{"actorId": "a", "actionType": "login"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngest_UnknownSourceRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	rec := doIngest(t, ep, "nope", "correct-key", map[string]any{"actorId": "a", "actionType": "login"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngest_MalformedJSONRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	req := httptest.NewRequest(http.MethodPost, "/ingest/demo", bytes.NewBufferString("{not json"))
	req.Header.Set("x-api-key", "correct-key")
	rec := httptest.NewRecorder()
	ep.Router(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_InvalidPayloadRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	rec := doIngest(t, ep, "demo", "correct-key", map[string]any{"actionType": "login"}) // missing actorId
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_SuccessReturns202AndPersists(t *testing.T) {
	ep, es := newTestEndpoint()
	rec := doIngest(t, ep, "demo", "correct-key", map[string]any{"actorId": "alice@corp", "actionType": "file_read"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, es.inserted, 1)
	assert.Equal(t, "alice@corp", es.inserted[0].ActorID)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body["eventId"])
}

func TestHandleIngest_RateLimitExceededReturns429WithHeaders(t *testing.T) {
	ep, _ := newTestEndpoint()
	for i := 0; i < 5; i++ {
		rec := doIngest(t, ep, "demo", "correct-key", map[string]any{"actorId": "alice@corp", "actionType": "login"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := doIngest(t, ep, "demo", "correct-key", map[string]any{"actorId": "alice@corp", "actionType": "login"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleIngest_StoreFailureReturns500(t *testing.T) {
	ep, es := newTestEndpoint()
	es.failNext = true
	rec := doIngest(t, ep, "demo", "correct-key", map[string]any{"actorId": "alice@corp", "actionType": "login"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthzEndpoint(t *testing.T) {
	ep, _ := newTestEndpoint()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ep.Router(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
