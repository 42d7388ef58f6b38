package repo

import (
	"scribe/internal/errs"
)

// walkLimit bounds history traversal against a corrupted parent chain.
const walkLimit = 1 << 20

// History returns the revisions that touched path, newest first, starting
// from the current head. Rename boundaries are followed: after a renamed-from
// change the walk continues under the old name, so an article's identity
// survives renames.
func (s *Store) History(path string) ([]Revision, error) {
	return s.HistoryFrom(path, "")
}

// HistoryFrom is History pinned to an explicit starting revision, for
// callers that must stay on one snapshot across several reads. An empty
// revision id starts from the current head.
func (s *Store) HistoryFrom(path, revisionID string) ([]Revision, error) {
	rev, err := s.resolve(revisionID)
	if err != nil {
		return nil, err
	}

	// The path must exist somewhere on the line; resolve lazily by walking.
	var out []Revision
	tracked := path
	found := false

	for steps := 0; steps < walkLimit; steps++ {
		for _, ch := range rev.Changes {
			if ch.Path != tracked {
				continue
			}
			out = append(out, rev)
			found = true
			if ch.Kind == KindRenamed && ch.OldPath != "" {
				tracked = ch.OldPath
			}
			break
		}

		if rev.IsRoot() {
			break
		}
		rev, err = s.Revision(rev.Parents[0])
		if err != nil {
			return nil, err
		}
	}

	if !found {
		return nil, errs.NotFound("no history for path %s", path)
	}
	return out, nil
}

// NameAt resolves the name an article held at an older revision, following
// rename boundaries backwards from the head.
func (s *Store) NameAt(path, targetRevisionID string) (string, error) {
	rev, err := s.Head()
	if err != nil {
		return "", err
	}

	tracked := path
	for steps := 0; steps < walkLimit; steps++ {
		if rev.ID == targetRevisionID {
			return tracked, nil
		}
		for _, ch := range rev.Changes {
			if ch.Path == tracked && ch.Kind == KindRenamed && ch.OldPath != "" {
				tracked = ch.OldPath
				break
			}
		}
		if rev.IsRoot() {
			break
		}
		rev, err = s.Revision(rev.Parents[0])
		if err != nil {
			return "", err
		}
	}

	return "", errs.NotFound("revision %s not on the tracked line", targetRevisionID)
}

// Log returns every revision on the tracked line, newest first, excluding the
// bootstrap root commit.
func (s *Store) Log() ([]Revision, error) {
	rev, err := s.Head()
	if err != nil {
		return nil, err
	}

	var out []Revision
	for steps := 0; steps < walkLimit; steps++ {
		if rev.IsRoot() {
			break
		}
		out = append(out, rev)
		rev, err = s.Revision(rev.Parents[0])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
