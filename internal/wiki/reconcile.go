// internal/wiki/reconcile.go
package wiki

import (
	"context"

	"go.uber.org/zap"

	"scribe/internal/errs"
	"scribe/internal/index"
	"scribe/internal/repo"
)

// Reconcile recomputes the whole index from the current repository snapshot
// and clears every dirty mark. The rebuild runs on the writer goroutine, so
// no write can land between the snapshot and the rebuild commit. It is
// idempotent.
func (e *Engine) Reconcile() error {
	reply := make(chan error, 1)

	select {
	case e.reconciles <- reply:
	case <-e.closing:
		return errs.Internal(nil, "engine is closed")
	}

	select {
	case err := <-reply:
		return err
	case <-e.closing:
		// Drain a reply that raced with shutdown.
		select {
		case err := <-reply:
			return err
		default:
		}
		return errs.Internal(nil, "engine closed before reconciliation completed")
	}
}

// rebuildIndex is the reconciliation body. It must only run on the writer
// goroutine, or before the goroutines start: the head snapshot, the rebuild,
// and the dirty-map reset have to be atomic with respect to writes, or a
// write landing in between would be erased from the index with its dirty
// mark gone.
func (e *Engine) rebuildIndex() error {
	entries, err := e.headEntries()
	if err != nil {
		return err
	}

	if err := e.idx.RebuildFrom(context.Background(), entries); err != nil {
		return err
	}

	e.mu.Lock()
	e.dirty = make(map[string]bool)
	e.mu.Unlock()

	e.logger.Info("reconciled index", zap.Int("articles", len(entries)))
	return nil
}

// reconcileLoop rebuilds the index whenever a write marks paths dirty.
func (e *Engine) reconcileLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.closing:
			return
		case <-e.kick:
			if err := e.Reconcile(); err != nil {
				e.logger.Error("reconciliation failed", zap.Error(err))
				// Leave the dirty marks in place; reads keep falling back
				// to the commit store and the next write retriggers us.
			}
		}
	}
}

// headEntries derives one index entry per live path at head. The latest
// revision touching each path is found with a single walk of the commit
// line, newest first.
func (e *Engine) headEntries() ([]index.Entry, error) {
	head, err := e.repo.Head()
	if err != nil {
		return nil, err
	}

	tree, err := e.repo.Snapshot(head.ID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]repo.Revision, len(tree))
	rev := head
	for {
		for _, ch := range rev.Changes {
			if _, live := tree[ch.Path]; !live {
				continue
			}
			if _, seen := latest[ch.Path]; !seen {
				latest[ch.Path] = rev
			}
		}
		if rev.IsRoot() || len(latest) == len(tree) {
			break
		}
		rev, err = e.repo.Revision(rev.Parents[0])
		if err != nil {
			return nil, err
		}
	}

	entries := make([]index.Entry, 0, len(tree))
	for path := range tree {
		content, err := e.repo.Read(path, head.ID)
		if err != nil {
			return nil, err
		}

		touched, ok := latest[path]
		if !ok {
			touched = head
		}
		entries = append(entries, index.Entry{
			Path:       path,
			Title:      index.Title(path, content),
			RevisionID: touched.ID,
			UpdatedAt:  touched.Time,
			Content:    string(content),
		})
	}

	return entries, nil
}
