// Package ingest implements IngestionEndpoint: the authenticated,
// rate-limited, validating HTTP receiver for raw security events. Router
// wiring follows the pack's chi.Router-plus-middleware-chain convention
// (request ID, structured access log, panic recovery, HTTP metrics)
// ahead of the per-route auth/rate-limit/normalize/persist pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/octoreflex/irm/internal/apperrors"
	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/metrics"
	"github.com/octoreflex/irm/internal/normalize"
	"github.com/octoreflex/irm/internal/ratelimit"
)

// SourceVerifier is the subset of registry.Registry the endpoint needs.
type SourceVerifier interface {
	Verify(ctx context.Context, key, presentedKey string) (domain.Source, error)
}

// EventStore is the subset of store.Store the endpoint needs.
type EventStore interface {
	InsertEvent(ctx context.Context, ev domain.Event) error
	UpsertActorOnIngest(ctx context.Context, actorID string, actorType domain.ActorType, occurredAt time.Time) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Endpoint wires the ingestion pipeline's dependencies.
type Endpoint struct {
	verifier SourceVerifier
	store    EventStore
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New constructs an Endpoint.
func New(verifier SourceVerifier, store EventStore, limiter ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Endpoint {
	return &Endpoint{verifier: verifier, store: store, limiter: limiter, metrics: m, logger: logger}
}

// Router builds the chi.Mux serving /ingest/{sourceKey}, /healthz, and /metrics.
func (e *Endpoint) Router(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		e.accessLogMiddleware,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Post("/ingest/{sourceKey}", e.handleIngest)

	return r
}

func (e *Endpoint) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		e.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		if e.metrics != nil {
			e.metrics.IngestLatency.Observe(time.Since(start).Seconds())
		}
	})
}

type errorBody struct {
	Error      string             `json:"error"`
	Details    []apperrors.Detail `json:"details,omitempty"`
	RetryAfter int                `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (e *Endpoint) handleIngest(w http.ResponseWriter, r *http.Request) {
	sourceKey := chi.URLParam(r, "sourceKey")

	presented := r.Header.Get("x-api-key")
	if presented == "" {
		e.countResult(sourceKey, "401")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Missing API key"})
		return
	}

	src, err := e.verifier.Verify(r.Context(), sourceKey, presented)
	if err != nil {
		e.countResult(sourceKey, "401")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid API key"})
		return
	}

	result := e.limiter.Check(sourceKey, src.RateLimit, time.Now())
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	w.Header().Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))
	if !result.Allowed {
		retryAfter := int(time.Until(result.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		if e.metrics != nil {
			e.metrics.RateLimitRejections.WithLabelValues(sourceKey).Inc()
		}
		e.countResult(sourceKey, "429")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Rate limit exceeded", RetryAfter: retryAfter})
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		e.countResult(sourceKey, "400")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON payload"})
		return
	}

	if err := normalize.Validate(raw); err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			e.countResult(sourceKey, "400")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: appErr.Details})
			return
		}
		e.countResult(sourceKey, "400")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed"})
		return
	}

	ev, err := normalize.Normalize(raw, normalize.Source{ID: src.ID, RedactResourceID: src.RedactResourceID}, time.Now().UTC())
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			e.countResult(sourceKey, "400")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Normalization failed", Details: appErr.Details})
			return
		}
		e.countResult(sourceKey, "400")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Normalization failed"})
		return
	}

	txErr := e.store.WithTx(r.Context(), func(ctx context.Context) error {
		if err := e.store.InsertEvent(ctx, ev); err != nil {
			return err
		}
		return e.store.UpsertActorOnIngest(ctx, ev.ActorID, ev.ActorType, ev.OccurredAt)
	})
	if txErr != nil {
		e.logger.Error("persist ingested event failed", zap.Error(txErr), zap.String("source_key", sourceKey))
		e.countResult(sourceKey, "500")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal error"})
		return
	}

	e.countResult(sourceKey, "202")
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": ev.ID})
}

func (e *Endpoint) countResult(sourceKey, status string) {
	if e.metrics != nil {
		e.metrics.IngestRequestsTotal.WithLabelValues(sourceKey, status).Inc()
	}
}
