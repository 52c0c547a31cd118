package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoreflex/irm/internal/domain"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeRetentionStore struct {
	sources       []domain.Source
	deletedBy     map[string]int64
	orphanDeleted int64
	baselineCount int64
	sourceErr     error
	orphanErr     error
	baselineErr   error
	lastCutoffs   map[string]time.Time
	orphanCutoff  time.Time
	deleteErrs    map[string]error
}

func (f *fakeRetentionStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	if f.sourceErr != nil {
		return nil, f.sourceErr
	}
	return f.sources, nil
}

func (f *fakeRetentionStore) DeleteEventsForSourceBefore(ctx context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error) {
	if f.lastCutoffs == nil {
		f.lastCutoffs = make(map[string]time.Time)
	}
	f.lastCutoffs[sourceID] = cutoff
	if err := f.deleteErrs[sourceID]; err != nil {
		return 0, err
	}
	return f.deletedBy[sourceID], nil
}

func (f *fakeRetentionStore) DeleteOrphanEventsBefore(ctx context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error) {
	f.orphanCutoff = cutoff
	if f.orphanErr != nil {
		return 0, f.orphanErr
	}
	return f.orphanDeleted, nil
}

func (f *fakeRetentionStore) CountBaselines(ctx context.Context) (int64, error) {
	if f.baselineErr != nil {
		return 0, f.baselineErr
	}
	return f.baselineCount, nil
}

func TestCutoff_UsesWholeDayArithmetic(t *testing.T) {
	c := cutoff(30, now)
	assert.Equal(t, now.AddDate(0, 0, -30), c)
	assert.True(t, c.Before(now))
}

func TestRun_PerSourceRetentionDays(t *testing.T) {
	fs := &fakeRetentionStore{
		sources: []domain.Source{
			{ID: "s1", Key: "source-one", RetentionDays: 7},
			{ID: "s2", Key: "source-two", RetentionDays: 0}, // falls back to default
		},
		deletedBy: map[string]int64{"s1": 10, "s2": 5},
	}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 90}, now)
	require.NoError(t, result.Error)
	assert.Equal(t, int64(15), result.TotalEventsDeleted)
	assert.Equal(t, 2, result.SourcesProcessed)
	assert.Equal(t, now.AddDate(0, 0, -7), fs.lastCutoffs["s1"])
	assert.Equal(t, now.AddDate(0, 0, -90), fs.lastCutoffs["s2"])
}

func TestRun_OrphanSweepUsesDefaultRetention(t *testing.T) {
	fs := &fakeRetentionStore{orphanDeleted: 3}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 30}, now)
	require.NoError(t, result.Error)
	assert.Equal(t, int64(3), result.OrphanedEventsDeleted)
	assert.Equal(t, now.AddDate(0, 0, -30), fs.orphanCutoff)
}

func TestRun_BaselinesNeverDeletedAlwaysCounted(t *testing.T) {
	fs := &fakeRetentionStore{baselineCount: 42}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 30}, now)
	require.NoError(t, result.Error)
	assert.Equal(t, int64(42), result.BaselinesPreserved)
}

func TestRun_IsolatesPerSourceFailure(t *testing.T) {
	fs := &fakeRetentionStore{
		sources: []domain.Source{
			{ID: "s0", Key: "bad-source", RetentionDays: 10},
			{ID: "s1", Key: "ok-source", RetentionDays: 10},
		},
		deletedBy:  map[string]int64{"s1": 4},
		deleteErrs: map[string]error{"s0": errors.New("delete failed")},
	}
	e := New(fs, nil)

	// The sources list succeeds but the first source's delete errors; the
	// second source is still processed.
	result := e.Run(context.Background(), Options{DefaultRetentionDays: 30}, now)
	require.Error(t, result.Error)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.SourcesProcessed)
	assert.Equal(t, int64(4), result.DeletionsBySource["ok-source"])
}

func TestRun_ListSourcesFailureAbortsEarly(t *testing.T) {
	fs := &fakeRetentionStore{sourceErr: errors.New("db down")}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 30}, now)
	require.Error(t, result.Error)
	assert.False(t, result.Success)
}

func TestRun_OrphanSweepFailureStillReportsPartialResult(t *testing.T) {
	fs := &fakeRetentionStore{orphanErr: errors.New("sweep failed")}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 30}, now)
	require.Error(t, result.Error)
	assert.False(t, result.Success)
}

func TestRun_DryRunStillReportsCounts(t *testing.T) {
	fs := &fakeRetentionStore{
		sources:   []domain.Source{{ID: "s1", Key: "source-one", RetentionDays: 7}},
		deletedBy: map[string]int64{"s1": 5},
	}
	e := New(fs, nil)

	result := e.Run(context.Background(), Options{DefaultRetentionDays: 90, DryRun: true}, now)
	require.NoError(t, result.Error)
	assert.Equal(t, int64(5), result.TotalEventsDeleted)
}
