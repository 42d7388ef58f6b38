// internal/repo/store.go
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"scribe/internal/blob"
	"scribe/internal/errs"
)

const (
	commitPrefix = "commit:"
	mainRef      = "ref:main"
)

// Store is the single point of mutating access to the repository. Every
// mutating call is serialized by mu; reads go through badger read
// transactions and the immutable blob store only, and never take mu.
type Store struct {
	db     *badger.DB
	blobs  *blob.Store
	mu     sync.Mutex // guards Write, Rename, Delete, Revert
	check  Validator
	logger *zap.Logger
}

// Options configures a Store.
type Options struct {
	Validate Validator // optional content check, run before commit
	Logger   *zap.Logger
}

// New creates a Store over an open badger handle and blob store. An empty
// repository is bootstrapped with a root commit so Head always resolves.
func New(db *badger.DB, blobs *blob.Store, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Store{
		db:     db,
		blobs:  blobs,
		check:  opts.Validate,
		logger: opts.Logger,
	}

	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureRoot creates the initial empty commit when no head exists yet.
func (s *Store) ensureRoot() error {
	_, err := s.headID()
	if err == nil {
		return nil
	}
	if !errs.IsNotFound(err) {
		return err
	}

	treeHash, err := s.storeTree(map[string]string{})
	if err != nil {
		return err
	}

	root := Revision{
		Parents:  []string{},
		Author:   Signature{Name: "scribe"},
		Time:     time.Now().UTC(),
		Message:  "initialize repository",
		Changes:  []Change{},
		TreeHash: treeHash,
	}
	root.ID = commitID(&root)

	if err := s.putCommit(&root, true); err != nil {
		return err
	}
	s.logger.Info("initialized repository", zap.String("revision", root.ID))
	return nil
}

// Head returns the latest revision on the tracked line.
func (s *Store) Head() (Revision, error) {
	id, err := s.headID()
	if err != nil {
		return Revision{}, err
	}
	return s.Revision(id)
}

// Revision loads a revision by id.
func (s *Store) Revision(id string) (Revision, error) {
	var rev Revision
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(commitPrefix + id))
		if err == badger.ErrKeyNotFound {
			return errs.NotFound("revision %s not found", id)
		}
		if err != nil {
			return errs.Internal(err, "loading revision %s", id)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rev); err != nil {
				return errs.Internal(err, "decoding revision %s", id)
			}
			return nil
		})
	})
	if err != nil {
		return Revision{}, err
	}
	return rev, nil
}

// Read returns the content of path at the given revision. An empty revision
// id means the current head. Never blocks on writers.
func (s *Store) Read(path, revisionID string) ([]byte, error) {
	rev, err := s.resolve(revisionID)
	if err != nil {
		return nil, err
	}

	tree, err := s.tree(rev.TreeHash)
	if err != nil {
		return nil, err
	}

	hash, ok := tree[path]
	if !ok {
		return nil, errs.NotFound("path %s not found at revision %s", path, rev.ID)
	}

	content, err := s.blobs.Get(hash)
	if err != nil {
		return nil, errs.Internal(err, "reading content for %s", path)
	}
	return content, nil
}

// Snapshot returns the full path-to-content-hash mapping at a revision. An
// empty revision id means the current head.
func (s *Store) Snapshot(revisionID string) (map[string]string, error) {
	rev, err := s.resolve(revisionID)
	if err != nil {
		return nil, err
	}
	return s.tree(rev.TreeHash)
}

// SameContent reports whether path maps to identical content at two
// revisions. A path absent at either revision compares unequal.
func (s *Store) SameContent(path, revA, revB string) (bool, error) {
	treeA, err := s.Snapshot(revA)
	if err != nil {
		return false, err
	}
	treeB, err := s.Snapshot(revB)
	if err != nil {
		return false, err
	}

	hashA, okA := treeA[path]
	hashB, okB := treeB[path]
	return okA && okB && hashA == hashB, nil
}

// Paths returns the live article paths at a revision, sorted.
func (s *Store) Paths(revisionID string) ([]string, error) {
	tree, err := s.Snapshot(revisionID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Write creates exactly one new commit setting path to content. It fails with
// a conflict when opts.Base names a revision the head has already moved past,
// with a validation error when the content check rejects the content, and
// with a validation error when the write would not change anything.
func (s *Store) Write(path string, content []byte, author Signature, message string, opts WriteOptions) (Revision, error) {
	if path == "" {
		return Revision{}, errs.Validation("path is required")
	}
	if s.check != nil {
		if err := s.check(path, content); err != nil {
			return Revision{}, errs.Validation("content rejected: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.Head()
	if err != nil {
		return Revision{}, err
	}
	if opts.Base != "" && opts.Base != head.ID {
		return Revision{}, errs.Conflict("head moved from %s to %s", opts.Base, head.ID)
	}

	tree, err := s.tree(head.TreeHash)
	if err != nil {
		return Revision{}, err
	}

	hash, err := s.blobs.Store(content)
	if err != nil {
		return Revision{}, errs.Internal(err, "storing content for %s", path)
	}

	kind := KindAdded
	if old, ok := tree[path]; ok {
		if old == hash {
			return Revision{}, errs.Validation("an edit must make changes")
		}
		kind = KindModified
	}
	tree[path] = hash

	return s.commit(&head, tree, author, message, []Change{{Path: path, Kind: kind}})
}

// Rename moves oldPath to newPath in a single commit, recording an explicit
// renamed-from change so history stays traceable across the boundary.
func (s *Store) Rename(oldPath, newPath string, author Signature, message string) (Revision, error) {
	if oldPath == "" || newPath == "" {
		return Revision{}, errs.Validation("both paths are required")
	}
	if oldPath == newPath {
		return Revision{}, errs.Validation("an edit must make changes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.Head()
	if err != nil {
		return Revision{}, err
	}

	tree, err := s.tree(head.TreeHash)
	if err != nil {
		return Revision{}, err
	}

	hash, ok := tree[oldPath]
	if !ok {
		return Revision{}, errs.NotFound("path %s not found at head", oldPath)
	}
	if _, exists := tree[newPath]; exists {
		return Revision{}, errs.Validation("path %s already exists", newPath)
	}

	delete(tree, oldPath)
	tree[newPath] = hash

	change := Change{Path: newPath, Kind: KindRenamed, OldPath: oldPath}
	return s.commit(&head, tree, author, message, []Change{change})
}

// Delete removes path in a single commit.
func (s *Store) Delete(path string, author Signature, message string) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.Head()
	if err != nil {
		return Revision{}, err
	}

	tree, err := s.tree(head.TreeHash)
	if err != nil {
		return Revision{}, err
	}

	if _, ok := tree[path]; !ok {
		return Revision{}, errs.NotFound("path %s not found at head", path)
	}
	delete(tree, path)

	return s.commit(&head, tree, author, message, []Change{{Path: path, Kind: KindDeleted}})
}

// Revert applies the inverse of a revision's changes on top of the current
// head. A revert that would leave the tree unchanged is rejected.
func (s *Store) Revert(revisionID string, author Signature) (Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.Revision(revisionID)
	if err != nil {
		return Revision{}, err
	}
	if target.IsRoot() {
		return Revision{}, errs.Validation("cannot revert the root revision")
	}

	parent, err := s.Revision(target.Parents[0])
	if err != nil {
		return Revision{}, err
	}
	parentTree, err := s.tree(parent.TreeHash)
	if err != nil {
		return Revision{}, err
	}

	head, err := s.Head()
	if err != nil {
		return Revision{}, err
	}
	tree, err := s.tree(head.TreeHash)
	if err != nil {
		return Revision{}, err
	}

	var changes []Change
	for _, ch := range target.Changes {
		switch ch.Kind {
		case KindAdded:
			if _, ok := tree[ch.Path]; ok {
				delete(tree, ch.Path)
				changes = append(changes, Change{Path: ch.Path, Kind: KindDeleted})
			}
		case KindDeleted:
			if old, ok := parentTree[ch.Path]; ok {
				kind := KindAdded
				if _, exists := tree[ch.Path]; exists {
					kind = KindModified
				}
				tree[ch.Path] = old
				changes = append(changes, Change{Path: ch.Path, Kind: kind})
			}
		case KindModified:
			if old, ok := parentTree[ch.Path]; ok && tree[ch.Path] != old {
				kind := KindModified
				if _, exists := tree[ch.Path]; !exists {
					kind = KindAdded
				}
				tree[ch.Path] = old
				changes = append(changes, Change{Path: ch.Path, Kind: kind})
			}
		case KindRenamed:
			if hash, ok := tree[ch.Path]; ok && ch.OldPath != "" {
				delete(tree, ch.Path)
				tree[ch.OldPath] = hash
				changes = append(changes, Change{Path: ch.OldPath, Kind: KindRenamed, OldPath: ch.Path})
			}
		}
	}

	if len(changes) == 0 {
		return Revision{}, errs.Validation("an edit must make changes")
	}

	message := fmt.Sprintf("Revert %q", firstLine(target.Message))
	return s.commit(&head, tree, author, message, changes)
}

// commit persists a new tree, builds the revision record, and atomically
// stores it while advancing the head ref. Callers hold mu.
func (s *Store) commit(head *Revision, tree map[string]string, author Signature, message string, changes []Change) (Revision, error) {
	treeHash, err := s.storeTree(tree)
	if err != nil {
		return Revision{}, err
	}

	rev := Revision{
		Parents:  []string{head.ID},
		Author:   author,
		Time:     time.Now().UTC(),
		Message:  message,
		Changes:  changes,
		TreeHash: treeHash,
	}
	rev.ID = commitID(&rev)

	if err := s.putCommit(&rev, true); err != nil {
		return Revision{}, err
	}

	s.logger.Debug("committed revision",
		zap.String("revision", rev.ID),
		zap.Int("changes", len(changes)))
	return rev, nil
}

// putCommit stores the revision record and, when advance is set, moves the
// head ref in the same badger transaction.
func (s *Store) putCommit(rev *Revision, advance bool) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return errs.Internal(err, "encoding revision")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(commitPrefix+rev.ID), data); err != nil {
			return err
		}
		if advance {
			return txn.Set([]byte(mainRef), []byte(rev.ID))
		}
		return nil
	})
	if err != nil {
		if err == badger.ErrConflict {
			return errs.Wrap(errs.Conflict("concurrent repository write"), err)
		}
		return errs.Internal(err, "storing revision")
	}
	return nil
}

func (s *Store) headID() (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(mainRef))
		if err == badger.ErrKeyNotFound {
			return errs.NotFound("repository has no head")
		}
		if err != nil {
			return errs.Internal(err, "reading head ref")
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

func (s *Store) resolve(revisionID string) (Revision, error) {
	if revisionID == "" {
		return s.Head()
	}
	return s.Revision(revisionID)
}

// tree loads a path-to-hash mapping from the blob store.
func (s *Store) tree(treeHash string) (map[string]string, error) {
	data, err := s.blobs.Get(treeHash)
	if err != nil {
		return nil, errs.Internal(err, "loading tree %s", treeHash)
	}

	var tree map[string]string
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errs.Internal(err, "decoding tree %s", treeHash)
	}
	return tree, nil
}

// storeTree persists a tree as a content-addressed blob. json.Marshal emits
// map keys in sorted order, so equal trees hash equal.
func (s *Store) storeTree(tree map[string]string) (string, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return "", errs.Internal(err, "encoding tree")
	}
	hash, err := s.blobs.Store(data)
	if err != nil {
		return "", errs.Internal(err, "storing tree")
	}
	return hash, nil
}

// commitID derives the content address of a revision record. The ID field
// itself is excluded from the hash.
func commitID(rev *Revision) string {
	record := struct {
		Parents  []string  `json:"parents"`
		Author   Signature `json:"author"`
		Time     time.Time `json:"time"`
		Message  string    `json:"message"`
		Changes  []Change  `json:"changes"`
		TreeHash string    `json:"tree_hash"`
	}{rev.Parents, rev.Author, rev.Time, rev.Message, rev.Changes, rev.TreeHash}

	data, _ := json.Marshal(record)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
