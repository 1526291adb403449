// Package sqlite stores state snapshots and the sync queue journal in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"example.com/fitstate/internal/syncq"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - snapshots and sync_queue
// 2 - index on sync_queue.state
// 3 - applied_mutations
const currentSchemaVersion = 3

// DB is the local database.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies pragmas and migrations.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping verifies the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_queue_state ON sync_queue(state)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if version < 3 {
		if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS applied_mutations (
			namespace TEXT NOT NULL, mutation_id TEXT NOT NULL, applied_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, mutation_id))`); err != nil {
			return fmt.Errorf("migrate to v3: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// LoadSnapshot returns the document stored under namespace.
func (d *DB) LoadSnapshot(ctx context.Context, namespace string) ([]byte, bool, error) {
	var doc []byte
	err := d.db.QueryRowContext(ctx, `SELECT document FROM snapshots WHERE namespace = ?`, namespace).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", namespace, err)
	}
	return doc, true, nil
}

// SaveSnapshot replaces the document stored under namespace.
func (d *DB) SaveSnapshot(ctx context.Context, namespace string, doc []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO snapshots (namespace, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(namespace) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		namespace, doc, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", namespace, err)
	}
	return nil
}

// MarkApplied records that mutation id was applied to namespace. Recording an id twice is a no-op;
// the returned bool reports whether the row was new.
func (d *DB) MarkApplied(ctx context.Context, namespace, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO applied_mutations (namespace, mutation_id, applied_at) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, mutation_id) DO NOTHING`,
		namespace, id, time.Now().UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("mark applied %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark applied %s: %w", id, err)
	}
	return n == 1, nil
}

// WasApplied reports whether mutation id was recorded for namespace.
func (d *DB) WasApplied(ctx context.Context, namespace, id string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM applied_mutations WHERE namespace = ? AND mutation_id = ?`, namespace, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", id, err)
	}
	return true, nil
}

// SnapshotInfo describes a stored snapshot without its document.
type SnapshotInfo struct {
	Namespace string
	Size      int
	UpdatedAt time.Time
}

// Snapshots lists stored namespaces.
func (d *DB) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT namespace, length(document), updated_at FROM snapshots ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var updated int64
		if err := rows.Scan(&info.Namespace, &info.Size, &updated); err != nil {
			return nil, err
		}
		info.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// SaveEntry upserts a queue entry by sequence number.
func (d *DB) SaveEntry(ctx context.Context, e syncq.Entry) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sync_queue (seq, mutation_id, kind, entity_id, field, value, lamport, device_id, state, attempts, next_attempt_at, last_error, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(seq) DO UPDATE SET
		     state = excluded.state,
		     attempts = excluded.attempts,
		     next_attempt_at = excluded.next_attempt_at,
		     last_error = excluded.last_error`,
		int64(e.Seq), e.MutationID, e.Kind, e.EntityID, e.Field, []byte(e.Value), e.Lamport, e.DeviceID,
		string(e.State), e.Attempts, unixNano(e.NextAttemptAt), e.LastError, unixNano(e.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("save queue entry %d: %w", e.Seq, err)
	}
	return nil
}

// DeleteEntry removes a queue entry.
func (d *DB) DeleteEntry(ctx context.Context, seq uint64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, int64(seq)); err != nil {
		return fmt.Errorf("delete queue entry %d: %w", seq, err)
	}
	return nil
}

// LoadEntries returns every journaled entry in sequence order.
func (d *DB) LoadEntries(ctx context.Context) ([]syncq.Entry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT seq, mutation_id, kind, entity_id, field, value, lamport, device_id, state, attempts, next_attempt_at, last_error, enqueued_at
		   FROM sync_queue
		  ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load queue entries: %w", err)
	}
	defer rows.Close()

	var out []syncq.Entry
	for rows.Next() {
		var (
			e                syncq.Entry
			seq              int64
			value            []byte
			state            string
			nextAt, enqueued int64
		)
		if err := rows.Scan(&seq, &e.MutationID, &e.Kind, &e.EntityID, &e.Field, &value, &e.Lamport, &e.DeviceID,
			&state, &e.Attempts, &nextAt, &e.LastError, &enqueued); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Value = value
		e.State = syncq.State(state)
		e.NextAttemptAt = fromUnixNano(nextAt)
		e.EnqueuedAt = fromUnixNano(enqueued)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
