package rkv

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rkv/utils/config"
)

// engineContract runs the behaviour every engine shares.
func engineContract(t *testing.T, s KvsEngine) {
	assertMissing(t, s, "key1")

	assertSetValue(t, s, "key1", "value1")
	assertGetValue(t, s, "key1", "value1")
	assertSetValue(t, s, "key1", "value2")
	assertGetValue(t, s, "key1", "value2")

	assertSetValue(t, s, "zero", "0")
	assertGetValue(t, s, "zero", "0")

	assertRemove(t, s, "key1", true)
	assertRemove(t, s, "key1", false)
	assertMissing(t, s, "key1")

	clone := s.Clone()
	assertSetValue(t, clone, "shared", "yes")
	require.NoError(t, clone.Shutdown())
	assertGetValue(t, s, "shared", "yes")

	keys, err := s.Keys()
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"shared", "zero"}, keys)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	engineContract(t, s)
	require.NoError(t, s.Shutdown())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rkv.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)
	engineContract(t, s)
	require.NoError(t, s.Shutdown())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Shutdown()
	assertGetValue(t, s, "zero", "0")
	assertGetValue(t, s, "shared", "yes")
}

func TestBoltUseAfterShutdown(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "rkv.db"))
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	require.ErrorIs(t, s.Set("k", "v"), ErrShutdown)
	_, err = s.Remove("k")
	require.ErrorIs(t, err, ErrShutdown)
}

func TestLogStoreContract(t *testing.T) {
	s := openStore(t, t.TempDir())
	engineContract(t, s)
	require.NoError(t, s.Shutdown())
}

func TestOpenEngine(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{config.EngineMemory, config.EngineLog, config.EngineBolt} {
		t.Run(kind, func(t *testing.T) {
			e, err := OpenEngine(kind, filepath.Join(dir, kind), 0)
			require.NoError(t, err)
			assertSetValue(t, e, "k", "v")
			assertGetValue(t, e, "k", "v")
			require.NoError(t, e.Shutdown())
		})
	}

	_, err := OpenEngine("rocks", dir, 0)
	require.ErrorIs(t, err, ErrUnknownEngine)
}
