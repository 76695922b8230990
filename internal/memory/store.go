// Package memory persists cross-session learning and in-session archives:
// a structured SQLite store (sessions, source effectiveness, access
// failures, domain overrides) and a vector store of chunked documents for
// semantic recall. The composite Store is the only interface the pipeline
// sees.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// EffectivenessAlpha is the EMA smoothing factor for source effectiveness.
const EffectivenessAlpha = 0.2

// DeadURLThreshold is the failure count past which Collect skips a URL.
const DeadURLThreshold = 3

// Store is the composite memory facade.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex // single writer; sqlite serializes anyway
	path     string
	embedder Embedder
	vec      bool // vec0 virtual table available
}

// Open initializes the database at path, creating the schema if needed.
// A nil embedder disables the vector tier's semantic search (structured
// operations still work).
func Open(path string, embedder Embedder) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, path: path, embedder: embedder}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if embedder != nil {
		s.vec = s.initVecTable(embedder.Dimensions())
	}
	logging.Memory("store opened at %s (vector=%v)", path, s.vec)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			domain TEXT NOT NULL,
			phase TEXT NOT NULL,
			stop_reason TEXT,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_effectiveness (
			domain TEXT NOT NULL,
			source TEXT NOT NULL,
			ema REAL NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (domain, source)
		)`,
		`CREATE TABLE IF NOT EXISTS access_failures (
			url TEXT NOT NULL,
			provider TEXT NOT NULL,
			kind TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			PRIMARY KEY (url, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS domain_overrides (
			domain TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (domain, field)
		)`,
		`CREATE TABLE IF NOT EXISTS doc_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			text TEXT NOT NULL,
			meta TEXT,
			embedding BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_doc_chunks_doc ON doc_chunks(doc_id)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_url ON access_failures(url)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// SaveSession upserts a session archive row. Called at phase boundaries so
// partial results survive a crash or a failed phase.
func (s *Store) SaveSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, query, domain, phase, stop_reason, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			stop_reason = excluded.stop_reason,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Query, string(sess.Domain), string(sess.Phase), string(sess.StopReason),
		string(data), sess.StartedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession retrieves an archived session by id.
func (s *Store) LoadSession(id string) (*types.Session, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess types.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// RecentSessions returns the latest archived sessions for a domain,
// newest first. Plan uses these for prior-query recall.
func (s *Store) RecentSessions(domain types.Domain, limit int) ([]*types.Session, error) {
	rows, err := s.db.Query(`
		SELECT data FROM sessions WHERE domain = ? ORDER BY updated_at DESC LIMIT ?`,
		string(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sess types.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			logging.MemoryWarn("skipping undecodable session row: %v", err)
			continue
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// ObserveEffectiveness folds one observation into the (domain, source)
// EMA: ema' = alpha*observed + (1-alpha)*ema. Called once per source at
// session terminal phase.
func (s *Store) ObserveEffectiveness(domain types.Domain, source string, observed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ema float64
	var samples int
	err := s.db.QueryRow(`
		SELECT ema, samples FROM source_effectiveness WHERE domain = ? AND source = ?`,
		string(domain), source).Scan(&ema, &samples)
	switch {
	case err == sql.ErrNoRows:
		ema = observed
		samples = 0
	case err != nil:
		return fmt.Errorf("failed to read effectiveness: %w", err)
	default:
		ema = EffectivenessAlpha*observed + (1-EffectivenessAlpha)*ema
	}

	_, err = s.db.Exec(`
		INSERT INTO source_effectiveness (domain, source, ema, samples, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, source) DO UPDATE SET
			ema = excluded.ema,
			samples = excluded.samples,
			updated_at = excluded.updated_at`,
		string(domain), source, ema, samples+1, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update effectiveness: %w", err)
	}
	return nil
}

// Effectiveness returns the per-source EMA table for a domain.
func (s *Store) Effectiveness(domain types.Domain) (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT source, ema FROM source_effectiveness WHERE domain = ?`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("failed to query effectiveness: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var source string
		var ema float64
		if err := rows.Scan(&source, &ema); err != nil {
			return nil, err
		}
		out[source] = ema
	}
	return out, rows.Err()
}

// RecordAccessFailure upserts a failure row for (url, provider).
func (s *Store) RecordAccessFailure(url, provider, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO access_failures (url, provider, kind, count, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(url, provider) DO UPDATE SET
			kind = excluded.kind,
			count = access_failures.count + 1,
			last_seen = excluded.last_seen`,
		url, provider, kind, now, now)
	if err != nil {
		return fmt.Errorf("failed to record access failure: %w", err)
	}
	return nil
}

// FailureCount returns the total recorded failures for a URL across
// providers.
func (s *Store) FailureCount(url string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(count), 0) FROM access_failures WHERE url = ?`, url).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

// KnownDead reports whether a URL has failed often enough to skip.
func (s *Store) KnownDead(url string) bool {
	count, err := s.FailureCount(url)
	if err != nil {
		return false
	}
	return count >= DeadURLThreshold
}

// SetOverride persists one domain-config field override.
func (s *Store) SetOverride(domain types.Domain, field string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO domain_overrides (domain, field, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		string(domain), field, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// Overrides returns the persisted field overrides for a domain.
func (s *Store) Overrides(domain types.Domain) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`
		SELECT field, value FROM domain_overrides WHERE domain = ?`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = json.RawMessage(value)
	}
	return out, rows.Err()
}
