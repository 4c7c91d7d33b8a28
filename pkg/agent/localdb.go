package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// DefaultDBPath is where a node keeps its replicas unless configured.
const DefaultDBPath = "/var/lib/contract-mesh/replica.db"

const schema = `
CREATE TABLE IF NOT EXISTS replicas(contract_id TEXT PRIMARY KEY, payload TEXT NOT NULL, updated_at INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS events(kind TEXT NOT NULL, payload TEXT NOT NULL, ts INTEGER NOT NULL);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);`

// EventRecord is one event received from the controller.
type EventRecord struct {
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"time"`
}

// SQLiteStore holds this node's contract replicas and a log of received events.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Get returns the replica for contractID or a NotFoundError.
func (s *SQLiteStore) Get(ctx context.Context, contractID string) (model.Payload, error) {
	var raw string
	err := s.conn().QueryRowContext(ctx, `SELECT payload FROM replicas WHERE contract_id=?`, contractID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("state", contractID)
	}
	if err != nil {
		return nil, fmt.Errorf("get replica %s: %w", contractID, err)
	}
	var p model.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode replica %s: %w", contractID, err)
	}
	return p, nil
}

// Put overwrites the replica for contractID.
func (s *SQLiteStore) Put(ctx context.Context, contractID string, p model.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode replica %s: %w", contractID, err)
	}
	_, err = s.conn().ExecContext(ctx,
		`INSERT INTO replicas(contract_id, payload, updated_at) VALUES(?,?,?)
		 ON CONFLICT(contract_id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		contractID, string(b), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put replica %s: %w", contractID, err)
	}
	return nil
}

// Delete removes the replica. Deleting a missing replica is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, contractID string) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM replicas WHERE contract_id=?`, contractID); err != nil {
		return fmt.Errorf("delete replica %s: %w", contractID, err)
	}
	return nil
}

// ContractIDs lists every contract this node holds a replica for.
func (s *SQLiteStore) ContractIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT contract_id FROM replicas ORDER BY contract_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, kind string, payload json.RawMessage) error {
	_, err := s.conn().ExecContext(ctx, `INSERT INTO events(kind, payload, ts) VALUES(?,?,?)`,
		kind, string(payload), time.Now().UnixNano())
	return err
}

// Events returns up to limit received events, newest first.
func (s *SQLiteStore) Events(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn().QueryContext(ctx, `SELECT kind, payload, ts FROM events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var (
			kind, payload string
			ts            int64
		)
		if err := rows.Scan(&kind, &payload, &ts); err != nil {
			return nil, err
		}
		out = append(out, EventRecord{Kind: kind, Payload: json.RawMessage(payload), Time: time.Unix(0, ts).UTC()})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn().PingContext(ctx)
}

// Reopen closes and reopens the database; replicas survive on disk.
func (s *SQLiteStore) Reopen(ctx context.Context) error {
	db, err := openSQLite(ctx, s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()
	return old.Close()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
