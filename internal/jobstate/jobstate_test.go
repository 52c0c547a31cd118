package jobstate

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobstate.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTryBegin_AllowsFirstRun(t *testing.T) {
	s := openTestStore(t)
	began, err := s.TryBegin("baseline", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, began)
}

func TestTryBegin_RefusesOverlap(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	began, err := s.TryBegin("baseline", now)
	require.NoError(t, err)
	require.True(t, began)

	began2, err := s.TryBegin("baseline", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, began2)
}

func TestTryBegin_AllowsAfterFinish(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	_, err := s.TryBegin("baseline", now)
	require.NoError(t, err)

	require.NoError(t, s.Finish("baseline", now, now.Add(time.Second), OutcomeSuccess, nil))

	began, err := s.TryBegin("baseline", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, began)
}

func TestFinish_RecordsOutcomeAndError(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	_, err := s.TryBegin("scoring", now)
	require.NoError(t, err)

	runErr := errors.New("boom")
	require.NoError(t, s.Finish("scoring", now, now.Add(time.Second), OutcomeFailure, runErr))

	latest, err := s.Latest("scoring")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, OutcomeFailure, latest.Outcome)
	assert.Equal(t, "boom", latest.Error)
	assert.False(t, latest.Running)
}

func TestLatest_NilForUnknownJob(t *testing.T) {
	s := openTestStore(t)
	latest, err := s.Latest("never-run")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestHistory_AccumulatesAcrossRuns(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		start := now.Add(time.Duration(i) * time.Minute)
		_, err := s.TryBegin("retention", start)
		require.NoError(t, err)
		require.NoError(t, s.Finish("retention", start, start.Add(time.Second), OutcomeSuccess, nil))
	}

	history, err := s.History("retention")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestTryBegin_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobstate.db")
	s1, err := Open(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	began, err := s1.TryBegin("baseline", now)
	require.NoError(t, err)
	require.True(t, began)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	began2, err := s2.TryBegin("baseline", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, began2, "a still-running job must refuse overlap across a restart")
}
