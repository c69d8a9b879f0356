package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straumur/zfsadm/internal/common"
)

const testIterations = 64

func TestNewRecordDerivation(t *testing.T) {
	rec := NewRecord("hunter2", testIterations, common.RealWorldState.Rand)
	assert.Len(t, rec.Salt, SaltLength)
	assert.Len(t, rec.Hash, KeyLength)
	assert.Equal(t, testIterations, rec.Iterations)

	assert.Equal(t, rec.Hash, DeriveKey("hunter2", rec.Salt, rec.Iterations))
	assert.NotEqual(t, rec.Hash, DeriveKey("hunter3", rec.Salt, rec.Iterations))
}

func TestNewRecordSaltsDiffer(t *testing.T) {
	a := NewRecord("pw", testIterations, common.RealWorldState.Rand)
	b := NewRecord("pw", testIterations, common.RealWorldState.Rand)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path, common.RealWorldState)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, store.SetPassword("hunter2", testIterations))

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, DeriveKey("hunter2", rec.Salt, rec.Iterations))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path, common.RealWorldState)

	for _, content := range []string{
		"not json",
		`{"salt":"xx-not-hex","hash":"","iterations":1}`,
		`{"salt":"aabb","hash":"aabb","iterations":1}`,
		`{"salt":"aabb","hash":"` + strings.Repeat("ab", KeyLength) + `","iterations":0}`,
	} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		_, err := store.Load()
		assert.Error(t, err, "content: %v", content)
	}
}

func TestBoltStoreRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store, err := OpenBoltStore(path, common.RealWorldState)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoRecord)

	require.NoError(t, store.SetPassword("first", testIterations))
	first, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, first.Hash, DeriveKey("first", first.Salt, first.Iterations))

	require.NoError(t, store.SetPassword("second", testIterations))
	second, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second.Hash, DeriveKey("second", second.Salt, second.Iterations))

	// Rotation must re-salt, not just re-hash.
	assert.NotEqual(t, first.Salt, second.Salt)
}

func TestBoltStoreDefaultIterations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store, err := OpenBoltStore(path, common.RealWorldState)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetPassword("pw", 0))
	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultIterations, rec.Iterations)
}
