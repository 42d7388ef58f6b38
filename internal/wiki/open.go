// internal/wiki/open.go
package wiki

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"scribe/internal/blob"
	"scribe/internal/config"
	"scribe/internal/discuss"
	"scribe/internal/index"
	"scribe/internal/repo"
)

// Open wires up the full engine from a configuration: badger database, blob
// store, commit store, search index, and discussion store. The returned
// closer must be called to release the stores.
func Open(cfg *config.Config, logger *zap.Logger) (*Engine, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	badgerOpts := badger.DefaultOptions(cfg.BadgerDir())
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	blobs, err := blob.New(db, blob.Options{
		Root:      cfg.ObjectsDir(),
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("opening blob store: %w", err)
	}

	store, err := repo.New(db, blobs, repo.Options{
		Validate: CheckContent,
		Logger:   logger,
	})
	if err != nil {
		blobs.Close()
		db.Close()
		return nil, nil, fmt.Errorf("opening commit store: %w", err)
	}

	idx, err := index.Open(cfg.IndexPath())
	if err != nil {
		blobs.Close()
		db.Close()
		return nil, nil, fmt.Errorf("opening search index: %w", err)
	}
	logger.Debug("opened search index", zap.String("path", idx.Path()))

	engine, err := New(store, idx, discuss.NewStore(db), Options{
		Logger:          logger,
		QueueDepth:      cfg.QueueDepth,
		ContextLines:    cfg.ContextLines,
		RenameThreshold: cfg.RenameThreshold,
	})
	if err != nil {
		idx.Close()
		blobs.Close()
		db.Close()
		return nil, nil, fmt.Errorf("starting engine: %w", err)
	}

	closer := func() error {
		engine.Close()
		var firstErr error
		if err := idx.Close(); err != nil {
			firstErr = err
		}
		blobs.Close()
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return engine, closer, nil
}

// CheckContent is the default article content check: text must be valid
// UTF-8 and paths are plain relative names.
func CheckContent(path string, content []byte) error {
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("path must be a plain relative name")
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("content must be valid UTF-8")
	}
	return nil
}
