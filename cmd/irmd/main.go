// Package main — cmd/irmd/main.go
//
// irmd is the insider-risk telemetry daemon: it serves the ingestion
// endpoint, and runs the baseline/scoring/retention background jobs on
// fixed intervals.
//
// Startup sequence:
//  1. Load and validate config from the environment.
//  2. Initialise structured logger (zap, JSON by default).
//  3. Open the Postgres store and apply the embedded schema.
//  4. Start the Prometheus metrics + healthz server.
//  5. Open the jobstate BoltDB file.
//  6. Seed default scoring rules if absent.
//  7. Wire registry/audit/ratelimit/normalize/ingest/baseline/scoring/alerting.
//  8. Register and start the scheduler (baseline, scoring, retention).
//  9. Start the ingestion HTTP server.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Stop accepting new HTTP connections (context-bound server shutdown).
//  2. Stop the scheduler, waiting up to 30s for in-flight jobs to finish.
//  3. Close the store and jobstate database.
//  4. Flush the logger.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octoreflex/irm/internal/alerting"
	"github.com/octoreflex/irm/internal/audit"
	"github.com/octoreflex/irm/internal/baseline"
	"github.com/octoreflex/irm/internal/config"
	"github.com/octoreflex/irm/internal/ingest"
	"github.com/octoreflex/irm/internal/jobstate"
	"github.com/octoreflex/irm/internal/logging"
	"github.com/octoreflex/irm/internal/metrics"
	"github.com/octoreflex/irm/internal/ratelimit"
	"github.com/octoreflex/irm/internal/registry"
	"github.com/octoreflex/irm/internal/retention"
	"github.com/octoreflex/irm/internal/scheduler"
	"github.com/octoreflex/irm/internal/scoring"
	"github.com/octoreflex/irm/internal/store"
)

const shutdownDrain = 30 * time.Second

func main() {
	// ── Step 1: Load config ───────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────
	log, err := logging.Build(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("irmd starting",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open store ────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer st.Close() //nolint:errcheck
	log.Info("store opened and schema applied")

	// ── Step 4: Metrics + healthz ─────────────────────────────────────────
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))

	// ── Step 5: jobstate ───────────────────────────────────────────────────
	jstate, err := jobstate.Open(cfg.JobStateDBPath)
	if err != nil {
		log.Fatal("jobstate open failed", zap.Error(err), zap.String("path", cfg.JobStateDBPath))
	}
	defer jstate.Close() //nolint:errcheck

	// ── Step 6: seed default scoring rules ────────────────────────────────
	defaultRules, err := scoring.DefaultRules(uuid.NewString)
	if err != nil {
		log.Fatal("load default scoring rules failed", zap.Error(err))
	}
	for _, rule := range defaultRules {
		if err := st.SeedRuleIfAbsent(ctx, rule); err != nil {
			log.Fatal("seed scoring rule failed", zap.Error(err), zap.String("rule_key", string(rule.RuleKey)))
		}
	}
	log.Info("default scoring rules seeded", zap.Int("count", len(defaultRules)))

	// ── Step 7: wire core components ──────────────────────────────────────
	auditor := audit.New(st)
	sourceRegistry := registry.New(st, auditor, cfg.BcryptCost)
	limiter := ratelimit.NewMemLimiter()
	stopSweeper := limiter.StartSweeper(time.Minute)
	defer stopSweeper()

	baselineEngine := baseline.New(st)
	scoringEngine := scoring.New(st, st)
	alertingEngine := alerting.New(st, m)
	retentionEngine := retention.New(st, m)

	endpoint := ingest.New(sourceRegistry, st, limiter, m, log)

	// ── Step 8: scheduler ──────────────────────────────────────────────────
	sched := scheduler.New(jstate, m, log)
	sched.Register("baseline", cfg.BaselineInterval, true, func(ctx context.Context) error {
		return runBaselineJob(ctx, baselineEngine, log)
	})
	sched.Register("scoring", cfg.ScoringInterval, true, func(ctx context.Context) error {
		return runScoringJob(ctx, st, baselineEngine, scoringEngine, alertingEngine, cfg, log)
	})
	sched.Register("retention", cfg.RetentionInterval, false, func(ctx context.Context) error {
		return runRetentionJob(ctx, retentionEngine, cfg, log)
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}
	log.Info("scheduler started")

	// ── Step 9: ingestion HTTP server ─────────────────────────────────────
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      endpoint.Router(nil),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ingestion server error", zap.Error(err))
		}
	}()
	log.Info("ingestion server started", zap.String("addr", cfg.HTTPAddr))

	// ── Step 10: wait for shutdown signal ─────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ingestion server shutdown error", zap.Error(err))
	}

	sched.Stop(shutdownDrain)
	cancel()

	log.Info("irmd shutdown complete")
}

func runBaselineJob(ctx context.Context, engine *baseline.Engine, log *zap.Logger) error {
	result, err := engine.ComputeAll(ctx, baseline.DefaultWindowDays, time.Now().UTC())
	if err != nil {
		return err
	}
	log.Info("baseline job finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	for _, msg := range result.Errors {
		log.Warn("baseline compute failed for actor", zap.String("detail", msg))
	}
	return nil
}

func runScoringJob(ctx context.Context, st *store.Store, baselineEngine *baseline.Engine, scoringEngine *scoring.Engine, alertingEngine *alerting.Engine, cfg *config.Config, log *zap.Logger) error {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(cfg.ScoringWindowMinutes) * time.Minute)

	actorIDs, err := st.ListActorIDsWithEventsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list actors for scoring: %w", err)
	}

	for _, actorID := range actorIDs {
		bl, err := baselineEngine.GetOrCompute(ctx, actorID, now)
		if err != nil {
			log.Warn("scoring: baseline fetch failed", zap.String("actor_id", actorID), zap.Error(err))
			continue
		}

		result, err := scoringEngine.Score(ctx, actorID, bl, now)
		if err != nil {
			log.Warn("scoring: score computation failed", zap.String("actor_id", actorID), zap.Error(err))
			continue
		}

		if err := st.InsertRiskScore(ctx, result); err != nil {
			log.Warn("scoring: persist risk score failed", zap.String("actor_id", actorID), zap.Error(err))
			continue
		}

		// Actor.currentRiskScore tracks every scoring pass, not just the
		// ones that clear the alert threshold.
		if err := st.SetActorRiskScore(ctx, actorID, result.TotalScore, now); err != nil {
			log.Warn("scoring: upsert actor risk score failed", zap.String("actor_id", actorID), zap.Error(err))
			continue
		}

		decision, err := alertingEngine.EvaluateAndAlert(ctx, result, bl, alerting.Options{Threshold: cfg.AlertThreshold}, now)
		if err != nil {
			log.Warn("scoring: evaluate-and-alert failed", zap.String("actor_id", actorID), zap.Error(err))
			continue
		}
		if decision.AlertCreated {
			log.Info("alert created", zap.String("actor_id", actorID), zap.Int("score", result.TotalScore), zap.String("severity", string(decision.Alert.Severity)))
		}
	}
	return nil
}

func runRetentionJob(ctx context.Context, engine *retention.Engine, cfg *config.Config, log *zap.Logger) error {
	result := engine.Run(ctx, retention.Options{DefaultRetentionDays: cfg.DefaultRetentionDays}, time.Now().UTC())
	log.Info("retention job finished",
		zap.Int64("total_deleted", result.TotalEventsDeleted),
		zap.Int("sources_processed", result.SourcesProcessed),
		zap.Int64("orphaned_deleted", result.OrphanedEventsDeleted),
		zap.Int64("baselines_preserved", result.BaselinesPreserved),
	)
	return result.Error
}
