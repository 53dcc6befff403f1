package kvlog

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

func genRandomBytes(n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func openTempStore(t *testing.T) (string, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keva.db")
	store := reopenStore(t, path)
	return path, store
}

func reopenStore(t *testing.T, path string) *Store {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	assert.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	store, err := Open(f)
	assert.NoError(t, err)
	return store
}

func TestStoreSetGet(t *testing.T) {
	_, store := openTempStore(t)

	e := &Entry{Value: []byte("test_value"), Mime: "text/plain"}
	assert.NoError(t, store.Set("test_key", e))

	got, ok := store.Get("test_key")
	assert.True(t, ok)
	assert.Equal(t, e.Value, got.Value)
	assert.Equal(t, e.Mime, got.Mime)
}

func TestStoreAbsentKey(t *testing.T) {
	_, store := openTempStore(t)
	got, ok := store.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, store.Len())
}

func TestStoreLastWriteWins(t *testing.T) {
	path, store := openTempStore(t)

	assert.NoError(t, store.Set("k", &Entry{Value: []byte("A"), Mime: "text/plain"}))
	assert.NoError(t, store.Set("k", &Entry{Value: []byte("B"), Mime: "text/html"}))

	got, ok := store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("B"), got.Value)
	assert.Equal(t, "text/html", got.Mime)

	store = reopenStore(t, path)
	got, ok = store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("B"), got.Value)
	assert.Equal(t, "text/html", got.Mime)
}

func TestStoreReplay(t *testing.T) {
	path, store := openTempStore(t)

	// 100 writes over 7 keys, some small, some big enough to compress
	const nKeys = 7
	last := map[string]*Entry{}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i%nKeys)
		var value []byte
		if i%3 == 0 {
			value = genRandomBytes(2000 + rng.Intn(2000))
		} else {
			value = []byte(fmt.Sprintf("value-%d", i))
		}
		e := &Entry{Value: value, Mime: "application/octet-stream"}
		assert.NoError(t, store.Set(key, e))
		last[key] = e
	}

	store = reopenStore(t, path)
	assert.Equal(t, nKeys, store.Len())
	for key, want := range last {
		got, ok := store.Get(key)
		assert.True(t, ok, "key %s", key)
		assert.Equal(t, want.Value, got.Value, "key %s", key)
		assert.Equal(t, want.Mime, got.Mime, "key %s", key)
	}
}

func TestStoreCompressionThreshold(t *testing.T) {
	flagsByteOfLog := func(value []byte) byte {
		path, store := openTempStore(t)
		assert.NoError(t, store.Set("k", &Entry{Value: value, Mime: "text/plain"}))
		d, err := os.ReadFile(path)
		assert.NoError(t, err)
		return d[0]
	}

	// 1024 bytes is still raw, 1025 crosses the threshold
	assert.Equal(t, flagNone, flagsByteOfLog(genRandomBytes(1024)))
	assert.Equal(t, flagZstdCompressed, flagsByteOfLog(genRandomBytes(1025)))
}

func TestStoreCompressedReopen(t *testing.T) {
	path, store := openTempStore(t)
	value := genRandomBytes(4096)
	assert.NoError(t, store.Set("big", &Entry{Value: value, Mime: "image/png"}))

	store = reopenStore(t, path)
	got, ok := store.Get("big")
	assert.True(t, ok)
	assert.Equal(t, value, got.Value)
	assert.Equal(t, "image/png", got.Mime)
}

func TestStoreTruncatedLog(t *testing.T) {
	path, store := openTempStore(t)
	assert.NoError(t, store.Set("k1", &Entry{Value: []byte("v1"), Mime: "text/plain"}))
	assert.NoError(t, store.Set("k2", &Entry{Value: []byte("v2"), Mime: "text/plain"}))

	// a trailing record cut off mid-field must fail the whole open
	fi, err := os.Stat(path)
	assert.NoError(t, err)
	assert.NoError(t, os.Truncate(path, fi.Size()-3))

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	assert.NoError(t, err)
	defer f.Close()
	_, err = Open(f)
	assert.True(t, errors.Is(err, ErrTruncatedRecord), "got %v", err)
}

func TestStoreTrailingFlagsByte(t *testing.T) {
	path, store := openTempStore(t)
	assert.NoError(t, store.Set("k", &Entry{Value: []byte("v"), Mime: "text/plain"}))

	// simulate a set that died right after writing the flags byte
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	assert.NoError(t, err)
	_, err = f.Write([]byte{flagNone})
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	f, err = os.OpenFile(path, os.O_RDWR, 0644)
	assert.NoError(t, err)
	defer f.Close()
	_, err = Open(f)
	assert.True(t, errors.Is(err, ErrTruncatedRecord), "got %v", err)
}

func TestStoreSnapshotAtEndOffset(t *testing.T) {
	path, store := openTempStore(t)
	assert.NoError(t, store.Set("k1", &Entry{Value: []byte("v1"), Mime: "text/plain"}))
	big := genRandomBytes(3000)
	assert.NoError(t, store.Set("k2", &Entry{Value: big, Mime: "application/octet-stream"}))

	off, err := store.EndOffset()
	assert.NoError(t, err)
	assert.Equal(t, fileSize(t, path), off)

	// a copy cut at the offset stays valid even though the live store
	// keeps appending past it
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	snapPath := filepath.Join(t.TempDir(), "snap.db")
	assert.NoError(t, os.WriteFile(snapPath, d[:off], 0644))
	assert.NoError(t, store.Set("k3", &Entry{Value: []byte("v3"), Mime: "text/plain"}))

	snap := reopenStore(t, snapPath)
	assert.Equal(t, 2, snap.Len())
	got, ok := snap.Get("k2")
	assert.True(t, ok)
	assert.Equal(t, big, got.Value)
	_, ok = snap.Get("k3")
	assert.False(t, ok)

	// any other cut point is not safe: one byte short of the boundary
	// is a partial record
	shortPath := filepath.Join(t.TempDir(), "short.db")
	assert.NoError(t, os.WriteFile(shortPath, d[:off-1], 0644))
	f, err := os.OpenFile(shortPath, os.O_RDWR, 0644)
	assert.NoError(t, err)
	defer f.Close()
	_, err = Open(f)
	assert.True(t, errors.Is(err, ErrTruncatedRecord), "got %v", err)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	assert.NoError(t, err)
	return fi.Size()
}

func TestStoreDiscard(t *testing.T) {
	store, err := Open(&Discard{})
	assert.NoError(t, err)

	small := &Entry{Value: []byte("small"), Mime: "text/plain"}
	big := &Entry{Value: genRandomBytes(3000), Mime: "application/octet-stream"}
	assert.NoError(t, store.Set("small", small))
	assert.NoError(t, store.Set("big", big))

	got, ok := store.Get("small")
	assert.True(t, ok)
	assert.Equal(t, small.Value, got.Value)
	got, ok = store.Get("big")
	assert.True(t, ok)
	assert.Equal(t, big.Value, got.Value)

	// nothing is retained across opens
	store, err = Open(&Discard{})
	assert.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestStoreValidation(t *testing.T) {
	_, store := openTempStore(t)

	e := &Entry{Value: []byte("v"), Mime: "text/plain"}
	err := store.Set("", e)
	assert.True(t, errors.Is(err, ErrEmptyKey))

	err = store.Set(strings.Repeat("k", maxKeyLen+1), e)
	assert.True(t, errors.Is(err, ErrKeyTooLarge))

	err = store.Set("k", &Entry{Value: []byte("v"), Mime: strings.Repeat("m", maxMimeLen+1)})
	assert.True(t, errors.Is(err, ErrMimeTooLarge))

	// failed sets must not touch the index
	assert.Equal(t, 0, store.Len())
}
