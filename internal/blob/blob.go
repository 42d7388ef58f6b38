// internal/blob/blob.go
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidHash = errors.New("invalid blob hash")
)

// Meta stores metadata about a stored blob.
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store provides deduplicated content-addressed blob storage. Blobs are
// immutable once written; there is no delete because revisions are never
// destroyed.
type Store struct {
	root    string
	db      *badger.DB
	cache   *lru.Cache[string, []byte]
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	minSize int
}

// Options configures Store behavior.
type Options struct {
	Root      string // Root directory for blob files
	CacheSize int    // Number of blobs to cache
	MinSize   int    // Minimum size in bytes before compressing
}

// New creates a blob store rooted at opts.Root, with metadata in db.
func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}

	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	if opts.MinSize == 0 {
		opts.MinSize = 1024
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &Store{
		root:    opts.Root,
		db:      db,
		cache:   cache,
		enc:     enc,
		dec:     dec,
		minSize: opts.MinSize,
	}, nil
}

// Store saves content and returns its hash. Storing the same content twice is
// a no-op returning the same hash.
func (s *Store) Store(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}

	hash := Hash(content)

	exists, err := s.Exists(hash)
	if err != nil {
		return "", fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		return hash, nil
	}

	data := content
	compressed := false
	if len(content) >= s.minSize {
		data = s.enc.EncodeAll(content, nil)
		compressed = true
	}

	path := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob file: %w", err)
	}

	meta := Meta{
		Hash:       hash,
		Size:       int64(len(content)),
		Compressed: compressed,
		CreatedAt:  time.Now(),
	}
	if err := s.storeMeta(meta); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("storing metadata: %w", err)
	}

	s.cache.Add(hash, content)
	return hash, nil
}

// Get retrieves content by hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	if meta.Compressed {
		content, err = s.dec.DecodeAll(content, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
	}

	if Hash(content) != hash {
		return nil, fmt.Errorf("blob hash mismatch for %s", hash)
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Exists checks whether a blob is stored.
func (s *Store) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, ErrInvalidHash
	}

	if s.cache.Contains(hash) {
		return true, nil
	}

	_, err := s.getMeta(hash)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the compression codecs. The badger handle is owned by the
// caller and is not closed here.
func (s *Store) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Hash returns the content address for a byte slice.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (s *Store) storeMeta(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("blob:%s", meta.Hash))
		return txn.Set(key, data)
	})
}

func (s *Store) getMeta(hash string) (Meta, error) {
	var meta Meta

	err := s.db.View(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("blob:%s", hash))
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})

	return meta, err
}
