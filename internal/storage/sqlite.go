package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/vector"
)

const sqliteSchemaVersion = "2"

// SQLiteStore keeps the cache as a small SQLite database per movie. It is slower to
// write than BinaryStore but can be inspected with the sqlite3 shell.
type SQLiteStore struct{}

// Format implements CacheStore.
func (s *SQLiteStore) Format() string { return FormatSQLite }

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lines (
		idx INTEGER PRIMARY KEY,
		speaker TEXT NOT NULL DEFAULT '',
		utterance TEXT NOT NULL,
		embedding BLOB
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Save builds the database in a uniquely named temporary file and renames it over path.
func (s *SQLiteStore) Save(ctx context.Context, path string, snap *Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = removeFiles(tmpPath, tmpPath+"-journal") }()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}

	db, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := writeSnapshot(ctx, db, snap); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func writeSnapshot(ctx context.Context, db *sql.DB, snap *Snapshot) error {
	if err := initSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta := map[string]string{
		"version":     sqliteSchemaVersion,
		"model":       snap.Model,
		"has_speaker": strconv.FormatBool(snap.HasSpeaker),
		"dimensions":  strconv.Itoa(snap.Dimensions()),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lines (idx, speaker, utterance, embedding) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range snap.Lines {
		line := &snap.Lines[i]
		var blob []byte
		if line.HasEmbedding() {
			blob = vector.EncodeFloat32s(line.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, i, line.Speaker, line.Utterance, blob); err != nil {
			return fmt.Errorf("write line %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Load opens the database read-only and reads every line in index order.
func (s *SQLiteStore) Load(ctx context.Context, path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("stat cache: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	snap, err := readSnapshot(ctx, db)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, filepath.Base(path), err)
	}
	return snap, nil
}

func readSnapshot(ctx context.Context, db *sql.DB) (*Snapshot, error) {
	meta := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if meta["version"] != sqliteSchemaVersion {
		return nil, fmt.Errorf("unsupported version %q", meta["version"])
	}
	hasSpeaker, err := strconv.ParseBool(meta["has_speaker"])
	if err != nil {
		return nil, fmt.Errorf("has_speaker: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT speaker, utterance, embedding FROM lines ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &Snapshot{Model: meta["model"], HasSpeaker: hasSpeaker}
	for rows.Next() {
		var (
			line models.DialogueLine
			blob []byte
		)
		if err := rows.Scan(&line.Speaker, &line.Utterance, &blob); err != nil {
			return nil, err
		}
		if len(blob)%4 != 0 {
			return nil, fmt.Errorf("embedding blob of %d bytes", len(blob))
		}
		if len(blob) > 0 {
			line.Embedding = vector.DecodeFloat32s(blob)
		}
		snap.Lines = append(snap.Lines, line)
	}
	return snap, rows.Err()
}

// Remove implements CacheStore.
func (s *SQLiteStore) Remove(path string) error {
	return removeFiles(path, path+"-journal", path+"-wal", path+"-shm")
}
