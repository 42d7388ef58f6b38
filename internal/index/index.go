// internal/index/index.go
package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"scribe/internal/errs"
	"scribe/internal/index/migrations"
)

// Entry is one live article in the search index. The index holds nothing
// that is not re-derivable from the repository, so it can be rebuilt at any
// time and can never become a second source of truth.
type Entry struct {
	Path       string
	Title      string
	RevisionID string
	UpdatedAt  time.Time

	// Content is the article body used for tokenization. It is consumed on
	// Upsert/RebuildFrom and not stored or returned by queries.
	Content string
}

// Index is the relational search index over article content.
type Index struct {
	db   *sql.DB
	path string
}

// Open creates or opens the index database at dbPath and runs migrations.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them: WAL so
	// queries never block behind the synchronizer's writes, foreign keys so
	// token rows cascade with their article on every connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	idx := &Index{db: db, path: dbPath}
	if err := idx.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return idx, nil
}

// Close closes the database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

// Path returns the database file path.
func (i *Index) Path() string {
	return i.path
}

// Upsert writes the entry for a path, replacing its token set.
func (i *Index) Upsert(ctx context.Context, entry Entry) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "beginning index transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Internal(err, "committing index transaction")
	}
	return nil
}

// Remove deletes the entry for a path. Removing an absent path is not an
// error.
func (i *Index) Remove(ctx context.Context, path string) error {
	_, err := i.db.ExecContext(ctx, "DELETE FROM articles WHERE path = ?", path)
	if err != nil {
		return errs.Internal(err, "removing %s from index", path)
	}
	return nil
}

// Get returns the entry for a path.
func (i *Index) Get(ctx context.Context, path string) (Entry, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT path, title, revision_id, updated_at
		FROM articles WHERE path = ?
	`, path)

	var entry Entry
	var updatedAt sql.NullTime
	if err := row.Scan(&entry.Path, &entry.Title, &entry.RevisionID, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, errs.NotFound("path %s not in index", path)
		}
		return Entry{}, errs.Internal(err, "scanning index entry")
	}
	if updatedAt.Valid {
		entry.UpdatedAt = updatedAt.Time
	}

	return entry, nil
}

// Query returns entries containing the term, title matches before body-only
// matches, ties broken by most recent revision first.
func (i *Index) Query(ctx context.Context, term string) ([]Entry, error) {
	tokens := Tokenize(term)
	if len(tokens) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(tokens)+1)
	for _, tok := range tokens {
		args = append(args, tok)
	}
	args = append(args, len(tokens))

	rows, err := i.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.path, a.title, a.revision_id, a.updated_at
		FROM tokens t
		JOIN articles a ON a.path = t.path
		WHERE t.token IN (%s)
		GROUP BY a.path
		HAVING COUNT(DISTINCT t.token) = ?
		ORDER BY MAX(t.in_title) DESC, a.updated_at DESC, a.path
	`, placeholders), args...)
	if err != nil {
		return nil, errs.Internal(err, "querying index")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var updatedAt sql.NullTime
		if err := rows.Scan(&entry.Path, &entry.Title, &entry.RevisionID, &updatedAt); err != nil {
			return nil, errs.Internal(err, "scanning index entry")
		}
		if updatedAt.Valid {
			entry.UpdatedAt = updatedAt.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Internal(err, "iterating index entries")
	}

	return entries, nil
}

// RebuildFrom replaces the whole index with the given snapshot in one
// transaction. Running it twice with the same snapshot produces the same
// state.
func (i *Index) RebuildFrom(ctx context.Context, entries []Entry) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "beginning rebuild transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM articles"); err != nil {
		return errs.Internal(err, "clearing index")
	}

	for _, entry := range entries {
		if err := upsertTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Internal(err, "committing rebuild transaction")
	}
	return nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO articles (path, title, revision_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			revision_id = excluded.revision_id,
			updated_at = excluded.updated_at
	`, entry.Path, entry.Title, entry.RevisionID, entry.UpdatedAt)
	if err != nil {
		return errs.Internal(err, "upserting article %s", entry.Path)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM tokens WHERE path = ?", entry.Path); err != nil {
		return errs.Internal(err, "clearing tokens for %s", entry.Path)
	}

	titleTokens := make(map[string]bool)
	for _, tok := range Tokenize(entry.Title) {
		titleTokens[tok] = true
	}

	tokens := make(map[string]bool, len(titleTokens))
	for tok := range titleTokens {
		tokens[tok] = true
	}
	for _, tok := range Tokenize(entry.Content) {
		tokens[tok] = true
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tokens (path, token, in_title) VALUES (?, ?, ?)
	`)
	if err != nil {
		return errs.Internal(err, "preparing token insert")
	}
	defer stmt.Close()

	for tok := range tokens {
		inTitle := 0
		if titleTokens[tok] {
			inTitle = 1
		}
		if _, err := stmt.ExecContext(ctx, entry.Path, tok, inTitle); err != nil {
			return errs.Internal(err, "inserting token for %s", entry.Path)
		}
	}

	return nil
}

// migrate runs all pending migrations from the embedded filesystem.
func (i *Index) migrate(fsys embed.FS) error {
	_, err := i.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := i.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := i.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := i.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}
