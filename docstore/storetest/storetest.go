// Package storetest holds the behaviour every docstore.Store backend must
// show, as a test suite the backends run against themselves.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/debstore/docstore"
)

// Run exercises a fresh store returned by open for every sub-test.
func Run(t *testing.T, open func(t *testing.T) docstore.Store) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, open(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, open(t)) })
	t.Run("GetMany", func(t *testing.T) { testGetMany(t, open(t)) })
	t.Run("Range", func(t *testing.T) { testRange(t, open(t)) })
	t.Run("Lookup", func(t *testing.T) { testLookup(t, open(t)) })
	t.Run("IndexRange", func(t *testing.T) { testIndexRange(t, open(t)) })
}

func doc(key, kind, index, body string) docstore.Document {
	return docstore.Document{Key: key, Kind: kind, Index: index, Body: []byte(body)}
}

func keys(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	ok, err := docstore.Exists(context.Background(), s, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCreateAndGet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	want := doc("file:deb:a_1_all:0", "record", docstore.IndexKey("a", "1", "all"), `{"id":"x"}`)
	require.NoError(t, s.Create(ctx, want))

	got, err := s.Get(ctx, want.Key)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ok, err := docstore.Exists(ctx, s, want.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testCreateConflict(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, doc("k", "", "", `1`)))
	err := s.Create(ctx, doc("k", "", "", `2`))
	require.ErrorIs(t, err, docstore.ErrExists)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `1`, string(got.Body), "first writer must win")
}

func testConcurrentCreate(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Create(ctx, doc("race", "", "", fmt.Sprint(i)))
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, docstore.ErrExists)
	}
	assert.Equal(t, 1, won)
}

func testGetMany(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, doc(k, "", "", `{}`)))
	}
	got, err := s.GetMany(ctx, []string{"c", "missing", "a"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, keys(got))

	got, err = s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testRange(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for _, k := range []string{"suite:b", "chset:x", "suite:a", "suite;", "suite:"} {
		require.NoError(t, s.Create(ctx, doc(k, "", "", `{}`)))
	}
	lo, hi := docstore.KeyPrefixRange("suite:")
	got, err := s.Range(ctx, lo, hi)
	require.NoError(t, err)
	assert.Equal(t, []string{"suite:", "suite:a", "suite:b"}, keys(got))

	got, err = s.Range(ctx, "suite:a", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"suite:a", "suite:b", "suite;"}, keys(got))
}

func testLookup(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	idx := docstore.IndexKey("foo", "1.0", "amd64")
	require.NoError(t, s.Create(ctx, doc("r1", "record", idx, `{}`)))
	require.NoError(t, s.Create(ctx, doc("r0", "record", idx, `{}`)))
	require.NoError(t, s.Create(ctx, doc("r2", "record", docstore.IndexKey("foo", "1.0", "i386"), `{}`)))
	require.NoError(t, s.Create(ctx, doc("o1", "other", idx, `{}`)))

	got, err := s.Lookup(ctx, "record", idx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1"}, keys(got))
}

func testIndexRange(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, doc("k1", "record", docstore.IndexKey("foo", "2.0", "all"), `{}`)))
	require.NoError(t, s.Create(ctx, doc("k2", "record", docstore.IndexKey("foo", "1.0", "all"), `{}`)))
	require.NoError(t, s.Create(ctx, doc("k3", "record", docstore.IndexKey("foo-dev", "1.0", "all"), `{}`)))
	require.NoError(t, s.Create(ctx, doc("k4", "record", docstore.IndexKey("fo", "1.0", "all"), `{}`)))

	lo, hi := docstore.PrefixRange("foo")
	got, err := s.IndexRange(ctx, "record", lo, hi)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k1"}, keys(got), "prefix must not match foo-dev or fo")
}
