package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/manash/imgvault/pkg/models"
	_ "modernc.org/sqlite"
)

// Schema changes are additive only: tables may be created on upgrade but
// existing ones are never dropped or renamed.
const schema = `
CREATE TABLE IF NOT EXISTS images (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    prompt TEXT NOT NULL,
    revised_prompt TEXT,
    created_at TEXT NOT NULL,
    quality TEXT,
    format TEXT,
    transparency INTEGER NOT NULL DEFAULT 0,
    model TEXT
);

CREATE TABLE IF NOT EXISTS edited_images (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    prompt TEXT NOT NULL,
    revised_prompt TEXT,
    created_at TEXT NOT NULL,
    quality TEXT,
    format TEXT,
    transparency INTEGER NOT NULL DEFAULT 0,
    model TEXT
);

CREATE TABLE IF NOT EXISTS variations (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    prompt TEXT NOT NULL,
    revised_prompt TEXT,
    created_at TEXT NOT NULL,
    quality TEXT,
    format TEXT,
    transparency INTEGER NOT NULL DEFAULT 0,
    model TEXT
);
`

const recordColumns = `id, url, prompt, revised_prompt, created_at, quality, format, transparency, model`

// Store persists the three gallery collections in a local SQLite database.
// The embedded *sql.DB is the single shared handle; opening the same path
// repeatedly coalesces on its connection pool, and the schema statement is
// idempotent, so concurrent opens cannot duplicate partitions.
type Store struct {
	db *sql.DB
}

func Open() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return OpenPath(dbPath)
}

func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".imgvault", "gallery.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// tableFor maps a collection to its table through a fixed whitelist; table
// names are never built from caller input.
func tableFor(col models.Collection) (string, error) {
	switch col {
	case models.CollectionImages:
		return "images", nil
	case models.CollectionEdited:
		return "edited_images", nil
	case models.CollectionVariations:
		return "variations", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, col)
	}
}

// SaveCollection replaces the entire contents of the collection with records
// in one transaction. Either every record lands or the partition keeps its
// previous contents.
func (s *Store) SaveCollection(ctx context.Context, col models.Collection, records []models.GeneratedImage) error {
	table, err := tableFor(col)
	if err != nil {
		return err
	}

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrMalformedRecord, i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrTransactionFailed, col, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.URL, rec.Prompt, nullString(rec.RevisedPrompt),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			nullString(rec.Quality), nullString(string(rec.Format)), rec.Transparency, nullString(rec.Model))
		if err != nil {
			return fmt.Errorf("%w: insert %s into %s: %v", ErrTransactionFailed, rec.ID, col, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %v", ErrTransactionFailed, col, err)
	}
	return nil
}

// LoadCollection returns every record in the collection in storage order.
func (s *Store) LoadCollection(ctx context.Context, col models.Collection) ([]models.GeneratedImage, error) {
	table, err := tableFor(col)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM `+table+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrTransactionFailed, col, err)
	}
	defer rows.Close()

	var records []models.GeneratedImage
	for rows.Next() {
		var rec models.GeneratedImage
		var revisedPrompt, quality, format, model sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Prompt, &revisedPrompt,
			&createdAt, &quality, &format, &rec.Transparency, &model); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", ErrTransactionFailed, col, err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: record %s: unparseable created_at %q", ErrMalformedRecord, rec.ID, createdAt)
		}
		rec.RevisedPrompt = revisedPrompt.String
		rec.Quality = quality.String
		rec.Format = models.OutputFormat(format.String)
		rec.Model = model.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClearCollection empties the collection transactionally.
func (s *Store) ClearCollection(ctx context.Context, col models.Collection) error {
	table, err := tableFor(col)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrTransactionFailed, col, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit clear %s: %v", ErrTransactionFailed, col, err)
	}
	return nil
}

// ClearAll empties all three collections. A failure in one collection does
// not stop the others; any failures are reported together so the caller can
// retry just the partitions that remain.
func (s *Store) ClearAll(ctx context.Context) error {
	failed := make(map[models.Collection]error)
	for _, col := range models.AllCollections() {
		if err := s.ClearCollection(ctx, col); err != nil {
			failed[col] = err
		}
	}
	if len(failed) > 0 {
		return &PartialClearError{Failed: failed}
	}
	return nil
}

func (s *Store) CountRecords(ctx context.Context, col models.Collection) (int, error) {
	table, err := tableFor(col)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
