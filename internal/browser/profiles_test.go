// File: internal/browser/profiles_test.go
package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func snapshotFixture(id string) schemas.SessionSnapshot {
	return schemas.SessionSnapshot{
		ID:        id,
		Backend:   schemas.BackendLocal,
		ProfileID: "default",
		Headless:  true,
		Viewport:  schemas.Viewport{Width: 1280, Height: 800},
		Status:    schemas.SessionReady,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestProfileStore_RoundTrip(t *testing.T) {
	store := newProfileStore(t.TempDir(), zap.NewNop())

	require.NoError(t, store.Put(snapshotFixture("s1")))
	require.NoError(t, store.Put(snapshotFixture("s2")))

	sessions := store.Load()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions["s1"].ID)

	require.NoError(t, store.Remove("s1"))
	sessions = store.Load()
	require.Len(t, sessions, 1)
	assert.NotContains(t, sessions, "s1")
}

func TestProfileStore_MissingFileIsEmpty(t *testing.T) {
	store := newProfileStore(t.TempDir(), zap.NewNop())
	assert.Empty(t, store.Load())
}

func TestProfileStore_CorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profiles.json"), []byte("{not json"), 0o600))

	store := newProfileStore(dir, zap.NewNop())
	assert.Empty(t, store.Load())

	// Writes still work after recovering from corruption.
	require.NoError(t, store.Put(snapshotFixture("s1")))
	assert.Len(t, store.Load(), 1)
}

func TestProfileStore_RemoveUnknownIsNoOp(t *testing.T) {
	store := newProfileStore(t.TempDir(), zap.NewNop())
	assert.NoError(t, store.Remove("ghost"))
}
