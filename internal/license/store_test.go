package license

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFingerprint = "3b2a1c4d5e6f7a8b9c0d1e2f3a4b5c6d"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "license.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(path, testFingerprint, logger)
	require.NoError(t, err)
	return store
}

func testEntitlement() Entitlement {
	expiry := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	max := 3
	return Entitlement{
		Key:                "LIC-STORE-TEST-0001",
		Tier:               TierMemory,
		Active:             true,
		Features:           FeaturesForTier(TierMemory, nil),
		ActivatedAt:        time.Now().UTC().Truncate(time.Second),
		ExpiresAt:          &expiry,
		MaxActivations:     &max,
		CurrentActivations: 1,
		Email:              "dev@example.com",
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	want := testEntitlement()

	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got, "missing cache is not an error, just unlicensed")
}

func TestStoreLoadRejectsTamperedRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, testEntitlement()))

	// Flip a field inside the signed region
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"active": true`), []byte(`"active": false`), 1)
	require.NotEqual(t, data, tampered, "fixture must contain the active field")
	require.NoError(t, os.WriteFile(store.Path(), tampered, 0600))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoFileExists(t, store.Path(), "corrupt record is removed, not retried forever")
}

func TestStoreLoadRejectsUnknownSchemaVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, testEntitlement()))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var rec map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &rec))
	rec["schema_version"] = json.RawMessage("99")
	raised, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), raised, 0600))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoFileExists(t, store.Path())
}

func TestStoreLoadRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
	require.NoError(t, os.WriteFile(store.Path(), []byte("not json at all"), 0600))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoFileExists(t, store.Path())
}

func TestStoreSignatureBoundToFingerprint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, testEntitlement()))

	// Same file read through a store keyed to a different machine
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	other, err := NewStore(store.Path(), "ffffffffffffffffffffffffffffffff", logger)
	require.NoError(t, err)

	got, err := other.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "record signed on another machine must not load")
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, testEntitlement()))

	require.NoError(t, store.Delete(ctx))
	assert.NoFileExists(t, store.Path())

	// Deleting again is a no-op
	require.NoError(t, store.Delete(ctx))
}

func TestStoreOverwriteIsAtomicReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := testEntitlement()
	require.NoError(t, store.Save(ctx, first))

	second := first
	second.Active = false
	second.CurrentActivations = 2
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Active)
	assert.Equal(t, 2, got.CurrentActivations)

	// No stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
