// internal/discuss/discuss.go
package discuss

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"scribe/internal/errs"
)

// Comment is one entry in an append-only discussion thread anchored to a
// revision. Comments are never edited or deleted.
type Comment struct {
	ID         string    `json:"id"`
	RevisionID string    `json:"revision_id"`
	Seq        uint64    `json:"seq"`
	Author     string    `json:"author"`
	Time       time.Time `json:"time"`
	Body       string    `json:"body"`
}

// Store persists discussion threads in their own badger key namespace,
// parallel to commits. Appending a comment never creates a content revision
// and shares no lock with the content write path.
type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// appendRetries bounds retry on badger transaction conflicts between
// concurrent appends to the same thread.
const appendRetries = 16

func threadPrefix(revisionID string) []byte {
	return []byte(fmt.Sprintf("note:%s:", revisionID))
}

func commentKey(revisionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("note:%s:%016x", revisionID, seq))
}

// Append adds a comment to the thread anchored at revisionID and returns its
// id. Appends to the same thread are each their own atomic insert; insertion
// order is fixed by the sequence number assigned inside the transaction.
func (s *Store) Append(revisionID, author, body string) (string, error) {
	if revisionID == "" {
		return "", errs.Validation("revision id is required")
	}
	if body == "" {
		return "", errs.Validation("comment body is required")
	}

	comment := Comment{
		ID:         uuid.New().String(),
		RevisionID: revisionID,
		Author:     author,
		Time:       time.Now().UTC(),
		Body:       body,
	}

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			seq, err := nextSeq(txn, revisionID)
			if err != nil {
				return err
			}
			comment.Seq = seq

			data, err := json.Marshal(&comment)
			if err != nil {
				return err
			}
			return txn.Set(commentKey(revisionID, seq), data)
		})
		if err == nil {
			return comment.ID, nil
		}
		if err != badger.ErrConflict {
			return "", errs.Internal(err, "appending comment")
		}
		lastErr = err
	}

	return "", errs.Internal(lastErr, "appending comment")
}

// List returns the thread for a revision in insertion order. A revision with
// no comments yields an empty slice.
func (s *Store) List(revisionID string) ([]Comment, error) {
	var comments []Comment

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := threadPrefix(revisionID)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var c Comment
				if err := json.Unmarshal(val, &c); err != nil {
					return err
				}
				comments = append(comments, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Internal(err, "listing comments for %s", revisionID)
	}

	return comments, nil
}

// nextSeq finds the next sequence number for a thread by seeking to the end
// of its key range.
func nextSeq(txn *badger.Txn, revisionID string) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	prefix := threadPrefix(revisionID)
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the last possible key of the thread.
	seekKey := append(append([]byte{}, prefix...), 0xff)
	it.Seek(seekKey)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	key := it.Item().Key()
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016x", &seq); err != nil {
		return 0, fmt.Errorf("parsing comment key %q: %w", key, err)
	}
	return seq + 1, nil
}
