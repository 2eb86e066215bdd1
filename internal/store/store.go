// Package store persists managed rules and controller settings.
//
// The store is the source of truth between sync cycles. It is a thin SQLite
// repository: rules are stored as JSON documents keyed by rule id, with the
// query columns (person, selected, stale) lifted out for indexing. The logic
// layers only need the named queries below, not general query composition.
//
// SQLite runs through modernc.org/sqlite (pure Go, no CGO) with WAL mode.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"larkspur.is/curfew/internal/clock"
	"larkspur.is/curfew/internal/rule"
)

// Common errors
var (
	ErrNotFound    = errors.New("rule not found in store")
	ErrStoreClosed = errors.New("store is closed")
)

// Settings is the singleton configuration record.
type Settings struct {
	Host         string   `json:"host"`
	Site         string   `json:"site"`
	RulePrefixes []string `json:"rule_prefixes"`
}

// Repository is the persistence interface the controller depends on.
type Repository interface {
	FindByID(ruleID string) (*rule.ManagedRule, error)
	FindSelected() ([]*rule.ManagedRule, error)
	FindByPerson(person string) ([]*rule.ManagedRule, error)
	All() ([]*rule.ManagedRule, error)
	Save(r *rule.ManagedRule) error
	Delete(ruleID string) error

	LoadSettings() (*Settings, error)
	SaveSettings(s *Settings) error

	Close() error
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode for better concurrency
	Clock   clock.Clock // Optional: time source (defaults to RealClock if nil)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
	}
}

// Open creates or opens a SQLite-backed rule store.
func Open(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}

	s := &SQLiteStore{db: db, clock: clk}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS managed_rules (
			rule_id    TEXT PRIMARY KEY,
			person     TEXT NOT NULL DEFAULT '',
			selected   INTEGER NOT NULL DEFAULT 0,
			stale      INTEGER NOT NULL DEFAULT 0,
			data       BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			data       BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rules_person ON managed_rules(person);
		CREATE INDEX IF NOT EXISTS idx_rules_selected ON managed_rules(selected);
	`
	_, err := s.db.Exec(schema)
	return err
}

// FindByID retrieves a single managed rule.
func (s *SQLiteStore) FindByID(ruleID string) (*rule.ManagedRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM managed_rules WHERE rule_id = ?", ruleID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRule(data)
}

// FindSelected returns the rules under active management: selected and not
// stale. Stale rules stay in the store so a refresh can revive them, but they
// are kept out of evaluation and sweeps until it does.
func (s *SQLiteStore) FindSelected() ([]*rule.ManagedRule, error) {
	return s.query("SELECT data FROM managed_rules WHERE selected = 1 AND stale = 0 ORDER BY rule_id")
}

// FindByPerson returns the rules owned by a person.
func (s *SQLiteStore) FindByPerson(person string) ([]*rule.ManagedRule, error) {
	return s.query("SELECT data FROM managed_rules WHERE person = ? ORDER BY rule_id", person)
}

// All returns every tracked rule.
func (s *SQLiteStore) All() ([]*rule.ManagedRule, error) {
	return s.query("SELECT data FROM managed_rules ORDER BY rule_id")
}

func (s *SQLiteStore) query(q string, args ...any) ([]*rule.ManagedRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rule.ManagedRule
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeRule(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save upserts a managed rule. The query columns are derived from the record
// so they can never drift from the document.
func (s *SQLiteStore) Save(r *rule.ManagedRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if r.RuleID == "" {
		return fmt.Errorf("rule has no id")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO managed_rules (rule_id, person, selected, stale, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			person     = excluded.person,
			selected   = excluded.selected,
			stale      = excluded.stale,
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, r.RuleID, r.Person, boolInt(r.Selected), boolInt(r.Stale), data, s.clock.Now())
	return err
}

// Delete removes a rule from management.
func (s *SQLiteStore) Delete(ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.Exec("DELETE FROM managed_rules WHERE rule_id = ?", ruleID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadSettings reads the singleton settings record.
func (s *SQLiteStore) LoadSettings() (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow("SELECT data FROM settings WHERE id = 1").Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveSettings writes the singleton settings record.
func (s *SQLiteStore) SaveSettings(cfg *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, data, s.clock.Now())
	return err
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func decodeRule(data []byte) (*rule.ManagedRule, error) {
	var r rule.ManagedRule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt rule record: %w", err)
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
