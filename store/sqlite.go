package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultKey is the row key the agent set is stored under.
const DefaultKey = "agentsync.agents"

// SQLitePersister stores the agent set as one JSON row in a SQLite database.
type SQLitePersister struct {
	db     *sql.DB
	key    string
	logger *slog.Logger
}

// NewSQLitePersister opens (or creates) the database at path and ensures the schema.
// Parent directories are created if needed. An empty key uses DefaultKey.
func NewSQLitePersister(path, key string) (*SQLitePersister, error) {
	logger := slog.Default().With("component", "store")
	if key == "" {
		key = DefaultKey
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("store: creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS agent_sets (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		synced_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	logger.Info("SQLite persister initialized", "path", path)
	return &SQLitePersister{db: db, key: key, logger: logger}, nil
}

// Save upserts the snapshot row.
func (p *SQLitePersister) Save(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encoding snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO agent_sets (key, payload, synced_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at`,
		p.key, payload, s.SyncedAt.UTC().UnixMilli(), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: saving snapshot: %w", err)
	}
	p.logger.Debug("snapshot saved", "agents", len(s.Agents), "bytes", len(payload))
	return nil
}

// Load reads the snapshot row. Returns ErrNoSnapshot when no row exists.
func (p *SQLitePersister) Load(ctx context.Context) (Snapshot, error) {
	var (
		payload  []byte
		syncedAt int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT payload, synced_at FROM agent_sets WHERE key = ?`, p.key).
		Scan(&payload, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: loading snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, fmt.Errorf("store: decoding snapshot: %w", err)
	}
	s.SyncedAt = time.UnixMilli(syncedAt).UTC()
	return s, nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
