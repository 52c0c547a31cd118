package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoreflex/irm/internal/audit"
	"github.com/octoreflex/irm/internal/domain"
	"github.com/octoreflex/irm/internal/store"
)

// fakeStore implements both registry's storeDep and audit's store interfaces.
type fakeStore struct {
	sources    map[string]domain.Source
	byKey      map[string]string // key -> id
	auditLogs  []domain.AuditLog
	createErr  error
	getByIDErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sources: make(map[string]domain.Source), byKey: make(map[string]string)}
}

func (f *fakeStore) CreateSource(ctx context.Context, src domain.Source) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byKey[src.Key]; exists {
		return store.ErrDuplicateKey
	}
	f.sources[src.ID] = src
	f.byKey[src.Key] = src.ID
	return nil
}

func (f *fakeStore) GetSourceByID(ctx context.Context, id string) (domain.Source, error) {
	if f.getByIDErr != nil {
		return domain.Source{}, f.getByIDErr
	}
	src, ok := f.sources[id]
	if !ok {
		return domain.Source{}, store.ErrNotFound
	}
	return src, nil
}

func (f *fakeStore) GetSourceByKey(ctx context.Context, key string) (domain.Source, error) {
	id, ok := f.byKey[key]
	if !ok {
		return domain.Source{}, store.ErrNotFound
	}
	return f.sources[id], nil
}

func (f *fakeStore) UpdateSource(ctx context.Context, src domain.Source) error {
	if _, ok := f.sources[src.ID]; !ok {
		return store.ErrNotFound
	}
	f.sources[src.ID] = src
	return nil
}

func (f *fakeStore) UpdateSourceAPIKeyHash(ctx context.Context, id, newHash string) error {
	src, ok := f.sources[id]
	if !ok {
		return store.ErrNotFound
	}
	src.APIKeyHash = newHash
	f.sources[id] = src
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, log domain.AuditLog) error {
	f.auditLogs = append(f.auditLogs, log)
	return nil
}

func newTestRegistry() (*Registry, *fakeStore) {
	fs := newFakeStore()
	auditor := audit.New(fs)
	return New(fs, auditor, 4), fs
}

func TestRegistry_Create_ProvisionsSourceAndReturnsPlaintext(t *testing.T) {
	r, fs := newTestRegistry()

	src, plaintext, err := r.Create(context.Background(), "admin@corp", CreatePatch{Key: "demo", Name: "Demo Source"})
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.Equal(t, 90, src.RetentionDays)
	assert.Equal(t, 1000, src.RateLimit)
	assert.Len(t, fs.auditLogs, 1)
	assert.Equal(t, domain.AuditSourceCreated, fs.auditLogs[0].Action)
}

func TestRegistry_Create_RejectsDuplicateKey(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, _, err := r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo"})
	require.NoError(t, err)

	_, _, err = r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo Again"})
	require.Error(t, err)
}

func TestRegistry_Create_RequiresKeyAndName(t *testing.T) {
	r, _ := newTestRegistry()
	_, _, err := r.Create(context.Background(), "admin@corp", CreatePatch{})
	require.Error(t, err)
}

func TestRegistry_Update_AppliesPartialPatch(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	src, _, err := r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo"})
	require.NoError(t, err)

	newName := "Renamed"
	updated, err := r.Update(ctx, "admin@corp", src.ID, UpdatePatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, src.Description, updated.Description) // untouched
}

func TestRegistry_Update_NotFound(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Update(context.Background(), "admin@corp", "missing-id", UpdatePatch{})
	require.Error(t, err)
}

func TestRegistry_RotateAPIKey_InvalidatesOldCredential(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	src, oldKey, err := r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo"})
	require.NoError(t, err)

	_, newKey, err := r.RotateAPIKey(ctx, "admin@corp", src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	_, err = r.Verify(ctx, "demo", oldKey)
	assert.Error(t, err)

	_, err = r.Verify(ctx, "demo", newKey)
	assert.NoError(t, err)
}

func TestRegistry_Verify_UnknownKeySourceAndDisabledAllRejectIdentically(t *testing.T) {
	r, fs := newTestRegistry()
	ctx := context.Background()
	src, plaintext, err := r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo"})
	require.NoError(t, err)

	disabled := src
	disabled.Enabled = false
	fs.sources[src.ID] = disabled

	_, errDisabled := r.Verify(ctx, "demo", plaintext)
	_, errUnknownKey := r.Verify(ctx, "does-not-exist", plaintext)
	_, errBadSecret := r.Verify(ctx, "demo", "irm_wrongsecretwrongsecretwrongsecretwrongsecretwrongsecretwrong")

	require.Error(t, errDisabled)
	require.Error(t, errUnknownKey)
	require.Error(t, errBadSecret)
	assert.Equal(t, errDisabled.Error(), errUnknownKey.Error())
	assert.Equal(t, errDisabled.Error(), errBadSecret.Error())
}

func TestRegistry_Verify_Success(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, plaintext, err := r.Create(ctx, "admin@corp", CreatePatch{Key: "demo", Name: "Demo"})
	require.NoError(t, err)

	src, err := r.Verify(ctx, "demo", plaintext)
	require.NoError(t, err)
	assert.Equal(t, "demo", src.Key)
}
