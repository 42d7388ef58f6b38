package discuss

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/errs"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db)
}

const revA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const revB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestAppendAndList(t *testing.T) {
	store := setupStore(t)

	id1, err := store.Append(revA, "alice", "first")
	require.NoError(t, err)
	id2, err := store.Append(revA, "bob", "second")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	comments, err := store.List(revA)
	require.NoError(t, err)
	require.Len(t, comments, 2)

	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, "alice", comments[0].Author)
	assert.Equal(t, uint64(0), comments[0].Seq)
	assert.Equal(t, "second", comments[1].Body)
	assert.Equal(t, uint64(1), comments[1].Seq)
}

func TestThreadsAreIndependent(t *testing.T) {
	store := setupStore(t)

	_, err := store.Append(revA, "alice", "on A")
	require.NoError(t, err)
	_, err = store.Append(revB, "bob", "on B")
	require.NoError(t, err)

	comments, err := store.List(revA)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "on A", comments[0].Body)
}

func TestListEmptyThread(t *testing.T) {
	store := setupStore(t)

	comments, err := store.List(revA)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestAppendValidation(t *testing.T) {
	store := setupStore(t)

	_, err := store.Append("", "alice", "body")
	assert.True(t, errs.IsValidation(err))

	_, err = store.Append(revA, "alice", "")
	assert.True(t, errs.IsValidation(err))
}

func TestConcurrentAppends(t *testing.T) {
	store := setupStore(t)

	const appenders = 16
	var wg sync.WaitGroup
	errors := make([]error, appenders)

	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errors[i] = store.Append(revA, "alice", fmt.Sprintf("comment %d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < appenders; i++ {
		require.NoError(t, errors[i])
	}

	comments, err := store.List(revA)
	require.NoError(t, err)
	require.Len(t, comments, appenders)

	// Sequence numbers form a contiguous insertion order.
	for i, c := range comments {
		assert.Equal(t, uint64(i), c.Seq)
	}
}
