package rkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string, opts ...LogOption) *KvStore {
	t.Helper()
	store, err := Open(path, opts...)
	require.NoError(t, err)
	return store
}

func TestGetStoredValue(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)

	assertSetValue(t, store, "key1", "value1")
	assertSetValue(t, store, "key2", "value2")
	assertGetValue(t, store, "key1", "value1")
	assertGetValue(t, store, "key2", "value2")
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	assertGetValue(t, store, "key1", "value1")
	assertGetValue(t, store, "key2", "value2")
}

func TestOverwriteValue(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)
	assertSetValue(t, store, "key1", "value1")
	assertGetValue(t, store, "key1", "value1")
	assertSetValue(t, store, "key1", "value2")
	assertGetValue(t, store, "key1", "value2")
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	assertGetValue(t, store, "key1", "value2")
	assertSetValue(t, store, "key1", "value3")
	assertGetValue(t, store, "key1", "value3")
}

func TestGetNonExistentValue(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)
	assertSetValue(t, store, "key1", "value1")
	assertMissing(t, store, "key2")
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	assertMissing(t, store, "key2")
}

func TestEmptyValueIsNotMissing(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Shutdown()

	assertSetValue(t, store, "empty", "")
	assertGetValue(t, store, "empty", "")
}

func TestRemoveNonExistentKey(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Shutdown()

	assertRemove(t, store, "key1", false)
}

func TestRemoveKey(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)

	assertSetValue(t, store, "key1", "value1")
	assertRemove(t, store, "key1", true)
	assertMissing(t, store, "key1")
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	assertMissing(t, store, "key1")
}

func TestKeys(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Shutdown()

	assertSetValue(t, store, "b", "2")
	assertSetValue(t, store, "a", "1")
	assertSetValue(t, store, "c", "3")
	assertRemove(t, store, "c", true)

	keys, err := store.Keys()
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestSetKey(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)
	for i := 0; i < 100; i++ {
		value := strconv.Itoa(i)
		for keyId := 0; keyId < 100; keyId++ {
			assertSetValue(t, store, fmt.Sprintf("key%d", keyId), value)
		}
	}
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	for keyId := 0; keyId < 100; keyId++ {
		assertGetValue(t, store, fmt.Sprintf("key%d", keyId), "99")
	}
}

func TestCompaction(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path, WithCompactionThreshold(4096))

	dirSize := func() int64 {
		var size int64
		err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				size += info.Size()
			}
			return nil
		})
		require.NoError(t, err)
		return size
	}

	currentSize := dirSize()
	for i := 0; i < 1000; i++ {
		value := strconv.Itoa(i)
		for keyId := 0; keyId < 20; keyId++ {
			assertSetValue(t, store, fmt.Sprintf("key%d", keyId), value)
		}

		newSize := dirSize()
		if newSize > currentSize {
			currentSize = newSize
			continue
		}

		require.NoError(t, store.Shutdown())
		store = openStore(t, path)
		defer store.Shutdown()
		for keyId := 0; keyId < 20; keyId++ {
			assertGetValue(t, store, fmt.Sprintf("key%d", keyId), value)
		}
		return
	}
	t.Error("no compaction detected")
}

func TestDirectoryLock(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)

	_, err := Open(path)
	require.Error(t, err)

	require.NoError(t, store.Shutdown())
	store = openStore(t, path)
	require.NoError(t, store.Shutdown())
}

func TestUseAfterShutdown(t *testing.T) {
	store := openStore(t, t.TempDir())
	require.NoError(t, store.Shutdown())
	require.NoError(t, store.Shutdown())

	require.ErrorIs(t, store.Set("k", "v"), ErrShutdown)
	_, _, err := store.Get("k")
	require.ErrorIs(t, err, ErrShutdown)
}

func TestCloneKeepsWriterOpen(t *testing.T) {
	store := openStore(t, t.TempDir())
	clone := store.Clone()

	require.NoError(t, store.Shutdown())
	require.NoError(t, clone.Set("key", "value"))
	v, found, err := clone.Get("key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value", v)
	require.NoError(t, clone.Shutdown())
}

func TestConcurrentSet(t *testing.T) {
	path := t.TempDir()
	store := openStore(t, path)
	wg := sync.WaitGroup{}
	wg.Add(100)
	for i := 0; i < 100; i++ {
		clonedStore := store.Clone()
		idx := i
		go func() {
			defer wg.Done()
			defer clonedStore.Shutdown()
			key := fmt.Sprintf("key%d", idx)
			value := fmt.Sprintf("value%d", idx)
			if err := clonedStore.Set(key, value); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		assertGetValue(t, store, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}
	require.NoError(t, store.Shutdown())

	store = openStore(t, path)
	defer store.Shutdown()
	for i := 0; i < 100; i++ {
		assertGetValue(t, store, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}
}

func TestConcurrentGet(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Shutdown()
	for i := 0; i < 100; i++ {
		assertSetValue(t, store, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	wg := sync.WaitGroup{}
	wg.Add(20)
	for tid := 0; tid < 20; tid++ {
		clonedStore := store.Clone()
		tidx := tid
		go func() {
			defer wg.Done()
			defer clonedStore.Shutdown()
			for i := 0; i < 100; i++ {
				keyId := (i + tidx) % 100
				v, found, err := clonedStore.Get(fmt.Sprintf("key%d", keyId))
				if err != nil || !found || v != fmt.Sprintf("value%d", keyId) {
					t.Errorf("key%d: got %q found=%v err=%v", keyId, v, found, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func assertGetValue(t *testing.T, s KvsEngine, k string, expect string) {
	t.Helper()
	v, found, err := s.Get(k)
	require.NoErrorf(t, err, "get key %s", k)
	require.Truef(t, found, "key %s not found", k)
	require.Equal(t, expect, v)
}

func assertMissing(t *testing.T, s KvsEngine, k string) {
	t.Helper()
	_, found, err := s.Get(k)
	require.NoError(t, err)
	require.Falsef(t, found, "key %s should be missing", k)
}

func assertSetValue(t *testing.T, s KvsEngine, k string, v string) {
	t.Helper()
	require.NoError(t, s.Set(k, v))
}

func assertRemove(t *testing.T, s KvsEngine, k string, existed bool) {
	t.Helper()
	ok, err := s.Remove(k)
	require.NoError(t, err)
	require.Equal(t, existed, ok)
}
