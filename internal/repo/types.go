package repo

import (
	"time"
)

// ChangeKind classifies how a single path changed in a revision.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
	KindRenamed  ChangeKind = "renamed-from"
)

// Signature identifies the author of a revision.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Change records one (path, kind) pair in a revision. OldPath is set only for
// renamed-from changes.
type Change struct {
	Path    string     `json:"path"`
	Kind    ChangeKind `json:"kind"`
	OldPath string     `json:"old_path,omitempty"`
}

// Revision is a read-only view of one commit. Revisions are immutable once
// created and never destroyed.
type Revision struct {
	ID       string    `json:"id"`
	Parents  []string  `json:"parents"`
	Author   Signature `json:"author"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
	Changes  []Change  `json:"changes"`
	TreeHash string    `json:"tree_hash"`
}

// IsRoot reports whether the revision has no parent.
func (r *Revision) IsRoot() bool {
	return len(r.Parents) == 0
}

// Validator is an externally supplied content check run before a write
// reaches the repository.
type Validator func(path string, content []byte) error

// WriteOptions carries per-write preconditions.
type WriteOptions struct {
	// Base, when non-empty, is the revision the caller read before editing.
	// The write is rejected with a conflict when the head has moved past it.
	Base string
}
