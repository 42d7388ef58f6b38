// internal/wiki/engine.go
package wiki

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scribe/internal/diff"
	"scribe/internal/discuss"
	"scribe/internal/errs"
	"scribe/internal/index"
	"scribe/internal/repo"
)

// Indexer is the slice of the search index the synchronizer drives. It is an
// interface so tests can inject index faults.
type Indexer interface {
	Upsert(ctx context.Context, entry index.Entry) error
	Remove(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (index.Entry, error)
	Query(ctx context.Context, term string) ([]index.Entry, error)
	RebuildFrom(ctx context.Context, entries []index.Entry) error
}

// RevisionSummary is one row of an article's history.
type RevisionSummary struct {
	ID      string          `json:"id"`
	Author  repo.Signature  `json:"author"`
	Time    time.Time       `json:"time"`
	Message string          `json:"message"`
	Path    string          `json:"path"`
	Kind    repo.ChangeKind `json:"kind"`
}

// DiffResult is a structured diff between two revisions of one article.
// Rename is set when the article held different names at the two revisions.
type DiffResult struct {
	*diff.Result
	Rename *diff.RenameLink
}

// Engine orchestrates the commit store, search index, and discussion store.
// It is the sole writer of the index: every content write funnels through a
// single-writer goroutine that commits, then indexes, before replying.
type Engine struct {
	repo      *repo.Store
	idx       Indexer
	disc      *discuss.Store
	diffs     *diff.Engine
	logger    *zap.Logger
	threshold float64

	writes     chan *writeRequest
	reconciles chan chan error
	kick       chan struct{}
	closing    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu    sync.Mutex
	dirty map[string]bool
}

// Options configures an Engine.
type Options struct {
	Logger       *zap.Logger
	QueueDepth   int // pending write requests; default 64
	ContextLines int // diff context; default 3

	// RenameThreshold is the minimum similarity for advisory rename
	// detection; default 0.5.
	RenameThreshold float64
}

// New builds an Engine over its stores. A full index rebuild runs before the
// engine is returned, so index-served reads reflect the repository even after
// an unclean prior shutdown.
func New(store *repo.Store, idx Indexer, disc *discuss.Store, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueDepth == 0 {
		opts.QueueDepth = 64
	}
	if opts.ContextLines == 0 {
		opts.ContextLines = 3
	}
	if opts.RenameThreshold == 0 {
		opts.RenameThreshold = 0.5
	}

	e := &Engine{
		repo:       store,
		idx:        idx,
		disc:       disc,
		diffs:      diff.NewEngine(opts.ContextLines),
		logger:     opts.Logger,
		threshold:  opts.RenameThreshold,
		writes:     make(chan *writeRequest, opts.QueueDepth),
		reconciles: make(chan chan error),
		kick:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		dirty:      make(map[string]bool),
	}

	if err := e.rebuildIndex(); err != nil {
		return nil, err
	}

	e.wg.Add(2)
	go e.writeLoop()
	go e.reconcileLoop()

	return e, nil
}

// Close stops the writer and reconciler goroutines. Queued writes that have
// not started are dropped. Close is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closing)
	})
	e.wg.Wait()
}

// GetArticle returns the current content of an article and the id of the
// latest revision that touched it. Content and revision id both derive from
// one pinned head snapshot: the index supplies the id only when its entry
// provably matches that snapshot, so a racing write or a stale entry can
// never produce a torn content/revision pair.
func (e *Engine) GetArticle(ctx context.Context, path string) ([]byte, string, error) {
	head, err := e.repo.Head()
	if err != nil {
		return nil, "", err
	}

	content, err := e.repo.Read(path, head.ID)
	if err != nil {
		return nil, "", err
	}

	if !e.isDirty(path) {
		entry, err := e.idx.Get(ctx, path)
		switch {
		case err == nil:
			same, serr := e.repo.SameContent(path, head.ID, entry.RevisionID)
			if serr == nil && same {
				return content, entry.RevisionID, nil
			}
		case !errs.IsNotFound(err):
			e.logger.Warn("index read failed, falling back to commit store",
				zap.String("path", path), zap.Error(err))
		}
	}

	history, err := e.repo.HistoryFrom(path, head.ID)
	if err != nil {
		return nil, "", err
	}
	return content, history[0].ID, nil
}

// ListArticles returns the live article paths at head, sorted.
func (e *Engine) ListArticles() ([]string, error) {
	return e.repo.Paths("")
}

// Log returns every revision on the tracked line, newest first.
func (e *Engine) Log() ([]repo.Revision, error) {
	return e.repo.Log()
}

// History returns the revisions that touched an article, newest first,
// including revisions from before a rename.
func (e *Engine) History(path string) ([]RevisionSummary, error) {
	revs, err := e.repo.History(path)
	if err != nil {
		return nil, err
	}

	tracked := path
	out := make([]RevisionSummary, 0, len(revs))
	for _, rev := range revs {
		summary := RevisionSummary{
			ID:      rev.ID,
			Author:  rev.Author,
			Time:    rev.Time,
			Message: rev.Message,
			Path:    tracked,
		}
		for _, ch := range rev.Changes {
			if ch.Path != tracked {
				continue
			}
			summary.Kind = ch.Kind
			if ch.Kind == repo.KindRenamed && ch.OldPath != "" {
				tracked = ch.OldPath
			}
			break
		}
		out = append(out, summary)
	}
	return out, nil
}

// Diff computes the line diff of one article between two revisions. The
// article is identified by its name at head; older names across rename
// boundaries are resolved automatically and reported as an advisory rename
// link with a similarity score.
func (e *Engine) Diff(path, revA, revB string) (*DiffResult, error) {
	nameA, err := e.repo.NameAt(path, revA)
	if err != nil {
		return nil, err
	}
	nameB, err := e.repo.NameAt(path, revB)
	if err != nil {
		return nil, err
	}

	oldContent, err := e.repo.Read(nameA, revA)
	if err != nil {
		return nil, err
	}
	newContent, err := e.repo.Read(nameB, revB)
	if err != nil {
		return nil, err
	}

	result := &DiffResult{Result: e.diffs.Diff(oldContent, newContent)}
	if nameA != nameB {
		result.Rename = &diff.RenameLink{
			From:  nameA,
			To:    nameB,
			Score: diff.Similarity(oldContent, newContent),
		}
	}
	return result, nil
}

// RenamesBetween pairs paths that disappeared between two revisions with
// paths that appeared, by content similarity. The links are advisory
// metadata: only RenameArticle records a rename authoritatively, but an
// article deleted in one revision and re-added under a new name in another
// still shows up here.
func (e *Engine) RenamesBetween(revA, revB string) ([]diff.RenameLink, error) {
	treeA, err := e.repo.Snapshot(revA)
	if err != nil {
		return nil, err
	}
	treeB, err := e.repo.Snapshot(revB)
	if err != nil {
		return nil, err
	}

	deleted := make(map[string][]byte)
	for path := range treeA {
		if _, live := treeB[path]; live {
			continue
		}
		content, err := e.repo.Read(path, revA)
		if err != nil {
			return nil, err
		}
		deleted[path] = content
	}

	added := make(map[string][]byte)
	for path := range treeB {
		if _, existed := treeA[path]; existed {
			continue
		}
		content, err := e.repo.Read(path, revB)
		if err != nil {
			return nil, err
		}
		added[path] = content
	}

	if len(deleted) == 0 || len(added) == 0 {
		return nil, nil
	}
	return diff.DetectRenames(deleted, added, e.threshold), nil
}

// Search returns index entries matching the term, title matches first, ties
// by most recent revision.
func (e *Engine) Search(ctx context.Context, term string) ([]index.Entry, error) {
	return e.idx.Query(ctx, term)
}

// Comments returns the discussion thread anchored to a revision, in
// insertion order.
func (e *Engine) Comments(revisionID string) ([]discuss.Comment, error) {
	if _, err := e.repo.Revision(revisionID); err != nil {
		return nil, err
	}
	return e.disc.List(revisionID)
}

// AddComment appends to the discussion thread anchored to a revision. It
// never blocks on, and is never blocked by, a content write.
func (e *Engine) AddComment(revisionID, author, body string) (string, error) {
	if _, err := e.repo.Revision(revisionID); err != nil {
		return "", err
	}
	return e.disc.Append(revisionID, author, body)
}

func (e *Engine) isDirty(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dirty) > 0 && e.dirty[path]
}

func (e *Engine) markDirty(paths []string) {
	e.mu.Lock()
	for _, p := range paths {
		e.dirty[p] = true
	}
	e.mu.Unlock()

	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// DirtyPaths reports paths whose index entry is behind the repository.
func (e *Engine) DirtyPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.dirty))
	for p := range e.dirty {
		out = append(out, p)
	}
	return out
}

// Drift reports the index's lag behind the repository as a tagged error: nil
// when the index is current, a DRIFT error naming the stale paths while
// reconciliation is pending. Drift is degraded freshness, never a failure;
// reads on the named paths are served from the commit store meanwhile.
func (e *Engine) Drift() error {
	paths := e.DirtyPaths()
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	return errs.Drift("index behind repository for %s", strings.Join(paths, ", "))
}
