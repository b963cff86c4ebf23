// Package auditchain persists the hash-chained audit log. The SQLite
// store is the durable backend; the memory store serves tests and
// ephemeral runs.
package auditchain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id          INTEGER PRIMARY KEY,
	ts          TEXT NOT NULL,
	event       TEXT NOT NULL,
	tenant      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	rule        TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	args_digest TEXT NOT NULL DEFAULT '',
	result_meta TEXT NOT NULL DEFAULT '{}',
	approver    TEXT NOT NULL DEFAULT '',
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries(ts);

CREATE TABLE IF NOT EXISTS audit_head (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	hash     TEXT NOT NULL,
	entry_id INTEGER NOT NULL
);
`

// SQLiteStore implements audit.Store on a local SQLite database.
// The entry and the advanced chain head commit in one transaction, so a
// crash between the two cannot fork the chain.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes appends; SQLite would serialize writes anyway, but
	// the head read + insert must not interleave between processes'
	// goroutines either.
	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (and migrates) the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// One writer connection keeps BEGIN IMMEDIATE semantics simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append links the entry to the current head and persists both.
func (s *SQLiteStore) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audit.Entry{}, audit.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	head := audit.GenesisHash
	var lastID int64
	err = tx.QueryRowContext(ctx, `SELECT hash, entry_id FROM audit_head WHERE id = 1`).Scan(&head, &lastID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, fmt.Errorf("read audit head: %w", err)
	}

	e.ID = lastID + 1
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.PrevHash = head
	e.Hash, err = audit.ComputeHash(head, e)
	if err != nil {
		return audit.Entry{}, err
	}

	meta, err := json.Marshal(e.ResultMeta)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("marshal result meta: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, ts, event, tenant, subject, tool, decision, rule, request_id, args_digest, result_meta, approver, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(e.Event), e.Tenant, e.Subject,
		e.Tool, e.Decision, e.Rule, e.RequestID, e.ArgsDigest, string(meta), e.Approver,
		e.PrevHash, e.Hash,
	)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_head (id, hash, entry_id) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hash = excluded.hash, entry_id = excluded.entry_id`,
		e.Hash, e.ID,
	)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("advance audit head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.Entry{}, fmt.Errorf("commit audit entry: %w", err)
	}
	return e, nil
}

// Export returns entries with ts in [from, to] in chain order.
func (s *SQLiteStore) Export(ctx context.Context, from, to time.Time) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, event, tenant, subject, tool, decision, rule, request_id, args_digest, result_meta, approver, prev_hash, hash
		FROM audit_entries WHERE ts >= ? AND ts <= ? ORDER BY id`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit export: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var ts, event, meta string
		if err := rows.Scan(&e.ID, &ts, &event, &e.Tenant, &e.Subject, &e.Tool, &e.Decision,
			&e.Rule, &e.RequestID, &e.ArgsDigest, &meta, &e.Approver, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Event = audit.Event(event)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("corrupt audit ts: %w", err)
		}
		if meta != "" && meta != "null" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.ResultMeta); err != nil {
				return nil, fmt.Errorf("corrupt result meta: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Head returns the current chain head hash.
func (s *SQLiteStore) Head(ctx context.Context) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM audit_head WHERE id = 1`).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read audit head: %w", err)
	}
	return head, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Compile-time interface verification.
var _ audit.Store = (*SQLiteStore)(nil)
