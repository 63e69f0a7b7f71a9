package progress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps progress in a SQLite database, one row per task.
type SQLiteStore struct {
	database *sql.DB
	dbPath   string
	opts     options
}

// OpenSQLiteStore opens (creating if needed) the database at dbPath.
func OpenSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	database.SetMaxOpenConns(1)

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	store := &SQLiteStore{database: database, dbPath: dbPath, opts: o}
	if err := store.migrate(context.Background()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (store *SQLiteStore) Close() error {
	return store.database.Close()
}

// DBPath returns the database location.
func (store *SQLiteStore) DBPath() string {
	return store.dbPath
}

func (store *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS progress (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, statement := range statements {
		if _, err := store.database.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to migrate progress db: %w", err)
		}
	}
	return nil
}

// Read returns every row with a recognised status.
func (store *SQLiteStore) Read() (map[string]Entry, error) {
	ctx := context.Background()
	rows, err := store.database.QueryContext(ctx,
		`SELECT id, status, updated_at, notes FROM progress ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var id, rawStatus, updatedAt, notes string
		if err := rows.Scan(&id, &rawStatus, &updatedAt, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		status, ok := ParseStatus(rawStatus)
		if !ok {
			store.opts.logger.Debug("skipping progress row with unknown status",
				"db", store.dbPath, "task_id", id, "status", rawStatus)
			continue
		}
		entry := Entry{ID: id, Status: status, Notes: notes}
		if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			entry.Updated = parsed
		}
		entries[id] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progress rows: %w", err)
	}
	return entries, nil
}

// Update upserts the row for id.
func (store *SQLiteStore) Update(id string, status Status, notes string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("update progress: empty task id")
	}
	st, ok := ParseStatus(string(status))
	if !ok {
		return fmt.Errorf("update progress for task %s: unknown status %q", id, status)
	}
	_, err := store.database.ExecContext(
		context.Background(),
		`INSERT INTO progress(id, status, updated_at, notes)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     status = excluded.status,
		     updated_at = excluded.updated_at,
		     notes = excluded.notes`,
		id,
		string(st),
		store.timestamp(),
		notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress for task %s: %w", id, err)
	}
	return nil
}

// Reset forces id back to Pending and clears its notes.
func (store *SQLiteStore) Reset(id string) error {
	return store.Update(id, StatusPending, "")
}

// Summarize counts rows by status.
func (store *SQLiteStore) Summarize() (Summary, error) {
	rows, err := store.database.QueryContext(context.Background(),
		`SELECT status, COUNT(*) FROM progress GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to count progress: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var rawStatus string
		var count int
		if err := rows.Scan(&rawStatus, &count); err != nil {
			return Summary{}, fmt.Errorf("failed to scan progress count: %w", err)
		}
		status, ok := ParseStatus(rawStatus)
		if !ok {
			continue
		}
		for range count {
			summary.Add(status)
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("failed to read progress counts: %w", err)
	}
	return summary, nil
}

func (store *SQLiteStore) timestamp() string {
	return store.opts.clock.Now().UTC().Format(time.RFC3339Nano)
}
