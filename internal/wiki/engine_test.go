package wiki

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/blob"
	"scribe/internal/discuss"
	"scribe/internal/errs"
	"scribe/internal/index"
	"scribe/internal/repo"
)

var alice = repo.Signature{Name: "alice", Email: "alice@example.com"}

// faultIndex wraps a real index so tests can fail or stall its write side.
// Reads always pass through.
type faultIndex struct {
	inner *index.Index

	mu             sync.Mutex
	broken         bool
	gate           chan struct{}
	rebuildEntered chan struct{}
	rebuildGate    chan struct{}
}

func (f *faultIndex) state() (bool, chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken, f.gate
}

func (f *faultIndex) setBroken(broken bool) {
	f.mu.Lock()
	f.broken = broken
	f.mu.Unlock()
}

func (f *faultIndex) setGate(gate chan struct{}) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *faultIndex) Upsert(ctx context.Context, entry index.Entry) error {
	broken, gate := f.state()
	if gate != nil {
		<-gate
	}
	if broken {
		return errors.New("index offline")
	}
	return f.inner.Upsert(ctx, entry)
}

func (f *faultIndex) Remove(ctx context.Context, path string) error {
	if broken, _ := f.state(); broken {
		return errors.New("index offline")
	}
	return f.inner.Remove(ctx, path)
}

// stallNextRebuild makes the next RebuildFrom announce itself on the first
// returned channel and then wait for the second before proceeding.
func (f *faultIndex) stallNextRebuild() (entered <-chan struct{}, release chan<- struct{}) {
	in := make(chan struct{})
	out := make(chan struct{})
	f.mu.Lock()
	f.rebuildEntered = in
	f.rebuildGate = out
	f.mu.Unlock()
	return in, out
}

func (f *faultIndex) RebuildFrom(ctx context.Context, entries []index.Entry) error {
	f.mu.Lock()
	broken := f.broken
	entered := f.rebuildEntered
	gate := f.rebuildGate
	f.rebuildEntered = nil
	f.rebuildGate = nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if broken {
		return errors.New("index offline")
	}
	return f.inner.RebuildFrom(ctx, entries)
}

func (f *faultIndex) Get(ctx context.Context, path string) (index.Entry, error) {
	return f.inner.Get(ctx, path)
}

func (f *faultIndex) Query(ctx context.Context, term string) ([]index.Entry, error) {
	return f.inner.Query(ctx, term)
}

func setupEngine(t *testing.T) (*Engine, *faultIndex) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.New(db, blob.Options{
		Root:      filepath.Join(t.TempDir(), "objects"),
		CacheSize: 64,
	})
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	store, err := repo.New(db, blobs, repo.Options{Validate: CheckContent})
	require.NoError(t, err)

	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	fidx := &faultIndex{inner: idx}
	engine, err := New(store, fidx, discuss.NewStore(db), Options{QueueDepth: 8})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine, fidx
}

func TestPutAndGet(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	revID, err := engine.PutArticle(ctx, "greeting.md", []byte("hello"), alice, "add greeting", repo.WriteOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, revID)

	content, gotRev, err := engine.GetArticle(ctx, "greeting.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content)
	assert.Equal(t, revID, gotRev)

	paths, err := engine.ListArticles()
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting.md"}, paths)
}

func TestEditUpdatesSearch(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	r1, err := engine.PutArticle(ctx, "greeting.md", []byte("hello"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	r2, err := engine.PutArticle(ctx, "greeting.md", []byte("hello world"), alice, "expand", repo.WriteOptions{Base: r1})
	require.NoError(t, err)

	results, err := engine.Search(ctx, "world")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "greeting.md", results[0].Path)
	assert.Equal(t, r2, results[0].RevisionID)

	diff, err := engine.Diff("greeting.md", r1, r2)
	require.NoError(t, err)
	require.Len(t, diff.Hunks, 1)
	added, removed, ok := diff.Hunks[0].InlineEdit()
	require.True(t, ok)
	assert.Equal(t, " world", added)
	assert.Empty(t, removed)
}

func TestStaleBaseConflict(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	r1, err := engine.PutArticle(ctx, "a.md", []byte("one"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.PutArticle(ctx, "a.md", []byte("two"), alice, "edit", repo.WriteOptions{Base: r1})
	require.NoError(t, err)

	_, err = engine.PutArticle(ctx, "a.md", []byte("three"), alice, "stale edit", repo.WriteOptions{Base: r1})
	assert.True(t, errs.IsConflict(err))
}

func TestNoopEditRejected(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "a.md", []byte("same"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)

	_, err = engine.PutArticle(ctx, "a.md", []byte("same"), alice, "again", repo.WriteOptions{})
	assert.True(t, errs.IsValidation(err))
}

func TestRenameMovesIndexEntry(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "draft.md", []byte("Falcon Notes\n\nbody"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.RenameArticle(ctx, "draft.md", "falcon.md", alice, "promote")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "falcon")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "falcon.md", results[0].Path)

	_, _, err = engine.GetArticle(ctx, "draft.md")
	assert.True(t, errs.IsNotFound(err))
}

func TestHistoryAcrossRename(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "a.md", []byte("one"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.PutArticle(ctx, "a.md", []byte("two"), alice, "edit", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.RenameArticle(ctx, "a.md", "b.md", alice, "rename")
	require.NoError(t, err)

	history, err := engine.History("b.md")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "b.md", history[0].Path)
	assert.Equal(t, repo.KindRenamed, history[0].Kind)
	assert.Equal(t, "a.md", history[1].Path)
	assert.Equal(t, repo.KindModified, history[1].Kind)
	assert.Equal(t, "a.md", history[2].Path)
	assert.Equal(t, repo.KindAdded, history[2].Kind)
}

func TestDiffAcrossRename(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	r1, err := engine.PutArticle(ctx, "a.md", []byte("line one\nline two\n"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.RenameArticle(ctx, "a.md", "b.md", alice, "rename")
	require.NoError(t, err)
	r3, err := engine.PutArticle(ctx, "b.md", []byte("line one\nline two changed\n"), alice, "edit", repo.WriteOptions{})
	require.NoError(t, err)

	diff, err := engine.Diff("b.md", r1, r3)
	require.NoError(t, err)
	require.NotNil(t, diff.Rename)
	assert.Equal(t, "a.md", diff.Rename.From)
	assert.Equal(t, "b.md", diff.Rename.To)
	assert.Greater(t, diff.Rename.Score, 0.0)
	assert.NotEmpty(t, diff.Hunks)
}

func TestRenamesBetween(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	body := []byte("Migration Guide\n\nstep one\nstep two\nstep three\n")
	r1, err := engine.PutArticle(ctx, "old-name.md", body, alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.DeleteArticle(ctx, "old-name.md", alice, "drop old name")
	require.NoError(t, err)
	r3, err := engine.PutArticle(ctx, "new-name.md", body, alice, "re-add under new name", repo.WriteOptions{})
	require.NoError(t, err)

	links, err := engine.RenamesBetween(r1, r3)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "old-name.md", links[0].From)
	assert.Equal(t, "new-name.md", links[0].To)
	assert.Equal(t, 1.0, links[0].Score)

	// Unrelated content stays unlinked.
	_, err = engine.PutArticle(ctx, "unrelated.md", []byte("Totally\n\ndifferent\n"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	r5, err := engine.DeleteArticle(ctx, "new-name.md", alice, "drop")
	require.NoError(t, err)
	links, err = engine.RenamesBetween(r3, r5)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestDeleteRemovesArticle(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "gone.md", []byte("Ephemeral\n\nbody"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	_, err = engine.DeleteArticle(ctx, "gone.md", alice, "remove")
	require.NoError(t, err)

	_, _, err = engine.GetArticle(ctx, "gone.md")
	assert.True(t, errs.IsNotFound(err))

	results, err := engine.Search(ctx, "ephemeral")
	require.NoError(t, err)
	assert.Empty(t, results)

	// The revisions survive the delete.
	history, err := engine.History("gone.md")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRevertRestoresContentAndIndex(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "a.md", []byte("Alpha\n\noriginal"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)
	r2, err := engine.PutArticle(ctx, "a.md", []byte("Alpha\n\nchanged"), alice, "edit", repo.WriteOptions{})
	require.NoError(t, err)

	_, err = engine.RevertRevision(ctx, r2, alice)
	require.NoError(t, err)

	content, _, err := engine.GetArticle(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("Alpha\n\noriginal"), content)

	results, err := engine.Search(ctx, "changed")
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = engine.Search(ctx, "original")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestComments(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	revID, err := engine.PutArticle(ctx, "a.md", []byte("body"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)

	_, err = engine.AddComment(revID, "bob", "looks good")
	require.NoError(t, err)
	_, err = engine.AddComment(revID, "alice", "thanks")
	require.NoError(t, err)

	comments, err := engine.Comments(revID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "looks good", comments[0].Body)
	assert.Equal(t, "thanks", comments[1].Body)

	// Commenting does not create a revision.
	history, err := engine.History("a.md")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = engine.AddComment("no-such-revision", "bob", "hello?")
	assert.True(t, errs.IsNotFound(err))
}

func TestIndexFaultFallbackAndReconcile(t *testing.T) {
	engine, fidx := setupEngine(t)
	ctx := context.Background()

	fidx.setBroken(true)

	// The write still succeeds: the commit is the source of truth.
	revID, err := engine.PutArticle(ctx, "notes.md", []byte("Notes\n\ndrifted"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)

	// Reads fall back to the commit store while the path is dirty.
	content, gotRev, err := engine.GetArticle(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("Notes\n\ndrifted"), content)
	assert.Equal(t, revID, gotRev)
	assert.Contains(t, engine.DirtyPaths(), "notes.md")
	assert.True(t, errs.IsDrift(engine.Drift()))
	assert.Contains(t, engine.Drift().Error(), "notes.md")

	// The index never saw the write.
	results, err := engine.Search(ctx, "drifted")
	require.NoError(t, err)
	assert.Empty(t, results)

	fidx.setBroken(false)
	require.NoError(t, engine.Reconcile())

	assert.Empty(t, engine.DirtyPaths())
	assert.NoError(t, engine.Drift())
	results, err = engine.Search(ctx, "drifted")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, revID, results[0].RevisionID)
}

func TestReconcileDoesNotLoseConcurrentWrite(t *testing.T) {
	engine, fidx := setupEngine(t)
	ctx := context.Background()

	_, err := engine.PutArticle(ctx, "a.md", []byte("Alpha\n\nalphabody"), alice, "add", repo.WriteOptions{})
	require.NoError(t, err)

	entered, release := fidx.stallNextRebuild()

	reconciled := make(chan error, 1)
	go func() { reconciled <- engine.Reconcile() }()
	<-entered

	// A write arriving while the rebuild holds the writer queues behind it
	// and lands only after the rebuild commits, so the rebuild cannot erase
	// an acknowledged write from the index.
	put := make(chan error, 1)
	go func() {
		_, err := engine.PutArticle(ctx, "b.md", []byte("Beta\n\nbetabody"), alice, "add", repo.WriteOptions{})
		put <- err
	}()

	close(release)
	require.NoError(t, <-reconciled)
	require.NoError(t, <-put)

	results, err := engine.Search(ctx, "betabody")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.md", results[0].Path)
	assert.Empty(t, engine.DirtyPaths())

	results, err = engine.Search(ctx, "alphabody")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestGetArticleIgnoresStaleIndexEntry(t *testing.T) {
	engine, fidx := setupEngine(t)
	ctx := context.Background()

	r1, err := engine.PutArticle(ctx, "a.md", []byte("one"), alice, "v1", repo.WriteOptions{})
	require.NoError(t, err)
	r2, err := engine.PutArticle(ctx, "a.md", []byte("two"), alice, "v2", repo.WriteOptions{})
	require.NoError(t, err)

	// Regress the index entry to the previous revision, as if its update
	// had raced a rebuild.
	require.NoError(t, fidx.inner.Upsert(ctx, index.Entry{
		Path:       "a.md",
		Title:      "one",
		RevisionID: r1,
		Content:    "one",
	}))

	content, rev, err := engine.GetArticle(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), content)
	assert.Equal(t, r2, rev)
}

func TestWriteTimeoutStillCompletes(t *testing.T) {
	engine, fidx := setupEngine(t)

	gate := make(chan struct{})
	fidx.setGate(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := engine.PutArticle(ctx, "slow.md", []byte("Slow\n\nbackground"), alice, "add", repo.WriteOptions{})
	assert.True(t, errs.IsTimeout(err))

	fidx.setGate(nil)
	close(gate)

	// The commit and its index update run to completion behind the caller.
	assert.Eventually(t, func() bool {
		results, err := engine.Search(context.Background(), "background")
		return err == nil && len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	content, _, err := engine.GetArticle(context.Background(), "slow.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("Slow\n\nbackground"), content)
}

func TestConcurrentWriters(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errors := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("page-%d.md", i)
			body := fmt.Sprintf("Page %d\n\ncontent", i)
			_, errors[i] = engine.PutArticle(ctx, path, []byte(body), alice, "add", repo.WriteOptions{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errors[i])
	}

	paths, err := engine.ListArticles()
	require.NoError(t, err)
	assert.Len(t, paths, writers)

	results, err := engine.Search(ctx, "content")
	require.NoError(t, err)
	assert.Len(t, results, writers)
}

func TestClosedEngineRejectsWrites(t *testing.T) {
	engine, _ := setupEngine(t)
	engine.Close()

	_, err := engine.PutArticle(context.Background(), "a.md", []byte("x"), alice, "add", repo.WriteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
