// internal/wiki/writer.go
package wiki

import (
	"context"

	"go.uber.org/zap"

	"scribe/internal/errs"
	"scribe/internal/index"
	"scribe/internal/repo"
)

type writeRequest struct {
	apply func() (repo.Revision, error)
	reply chan writeResult
}

type writeResult struct {
	rev repo.Revision
	err error
}

// PutArticle writes new content for an article and returns the id of the
// revision it created. opts.Base carries the revision the caller edited
// from; a stale base yields a conflict. A caller-supplied context deadline
// yields a timeout while the write still completes in the background.
func (e *Engine) PutArticle(ctx context.Context, path string, content []byte, author repo.Signature, message string, opts repo.WriteOptions) (string, error) {
	rev, err := e.submit(ctx, func() (repo.Revision, error) {
		return e.repo.Write(path, content, author, message, opts)
	})
	if err != nil {
		return "", err
	}
	return rev.ID, nil
}

// RenameArticle moves an article to a new path in one revision.
func (e *Engine) RenameArticle(ctx context.Context, oldPath, newPath string, author repo.Signature, message string) (string, error) {
	rev, err := e.submit(ctx, func() (repo.Revision, error) {
		return e.repo.Rename(oldPath, newPath, author, message)
	})
	if err != nil {
		return "", err
	}
	return rev.ID, nil
}

// DeleteArticle removes an article in one revision. Its history remains.
func (e *Engine) DeleteArticle(ctx context.Context, path string, author repo.Signature, message string) (string, error) {
	rev, err := e.submit(ctx, func() (repo.Revision, error) {
		return e.repo.Delete(path, author, message)
	})
	if err != nil {
		return "", err
	}
	return rev.ID, nil
}

// RevertRevision applies the inverse of a revision on top of the head.
func (e *Engine) RevertRevision(ctx context.Context, revisionID string, author repo.Signature) (string, error) {
	rev, err := e.submit(ctx, func() (repo.Revision, error) {
		return e.repo.Revert(revisionID, author)
	})
	if err != nil {
		return "", err
	}
	return rev.ID, nil
}

// submit queues a mutating operation on the single-writer loop and waits for
// the outcome. Requests are served in arrival order. When the caller's
// context expires first, the request is not withdrawn: the commit and its
// index update still run to completion.
func (e *Engine) submit(ctx context.Context, apply func() (repo.Revision, error)) (repo.Revision, error) {
	req := &writeRequest{apply: apply, reply: make(chan writeResult, 1)}

	select {
	case e.writes <- req:
	case <-e.closing:
		return repo.Revision{}, errs.Internal(nil, "engine is closed")
	case <-ctx.Done():
		return repo.Revision{}, errs.Timeout("write not accepted within deadline")
	}

	select {
	case res := <-req.reply:
		return res.rev, res.err
	case <-ctx.Done():
		return repo.Revision{}, errs.Timeout("write still completing in the background")
	case <-e.closing:
		// Drain a reply that raced with shutdown.
		select {
		case res := <-req.reply:
			return res.rev, res.err
		default:
		}
		return repo.Revision{}, errs.Internal(nil, "engine closed before write completed")
	}
}

// writeLoop is the single-writer actor. At most one mutating operation is in
// flight system-wide; the index update for a write happens strictly after its
// commit and before the reply. Index rebuilds run here too, so a rebuild can
// never interleave with a write and erase its index entry.
func (e *Engine) writeLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.closing:
			return
		case reply := <-e.reconciles:
			reply <- e.rebuildIndex()
		case req := <-e.writes:
			rev, err := req.apply()
			if err != nil {
				// Committing failed: no side effect, caller sees the
				// commit store's error unchanged.
				req.reply <- writeResult{err: err}
				continue
			}

			if err := e.indexRevision(rev); err != nil {
				// The repository is the source of truth; the commit is
				// never rolled back to hide a successful edit. The paths
				// go dirty and reads fall back to the commit store until
				// reconciliation catches up.
				paths := affectedPaths(rev)
				e.markDirty(paths)
				e.logger.Error("index update failed after commit",
					zap.String("revision", rev.ID),
					zap.Strings("dirty", paths),
					zap.Error(err))
			}

			req.reply <- writeResult{rev: rev}
		}
	}
}

// indexRevision applies one committed revision's changes to the index.
func (e *Engine) indexRevision(rev repo.Revision) error {
	ctx := context.Background()

	for _, ch := range rev.Changes {
		switch ch.Kind {
		case repo.KindDeleted:
			if err := e.idx.Remove(ctx, ch.Path); err != nil {
				return err
			}
			continue
		case repo.KindRenamed:
			if ch.OldPath != "" {
				if err := e.idx.Remove(ctx, ch.OldPath); err != nil {
					return err
				}
			}
		}

		content, err := e.repo.Read(ch.Path, rev.ID)
		if err != nil {
			return err
		}
		entry := index.Entry{
			Path:       ch.Path,
			Title:      index.Title(ch.Path, content),
			RevisionID: rev.ID,
			UpdatedAt:  rev.Time,
			Content:    string(content),
		}
		if err := e.idx.Upsert(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func affectedPaths(rev repo.Revision) []string {
	var paths []string
	for _, ch := range rev.Changes {
		paths = append(paths, ch.Path)
		if ch.OldPath != "" {
			paths = append(paths, ch.OldPath)
		}
	}
	return paths
}
