package risk

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// State is the persisted slice of the gate: the enable flag and the
// running daily PnL. Limits come from config and are not persisted.
type State struct {
	Enabled  bool
	DailyPnL float64
}

// Store loads and saves gate state across process restarts.
type Store interface {
	Load() (State, bool, error)
	Save(State) error
	Close() error
}

// SQLiteStore persists gate state in a single-row SQLite table so a
// daily-loss trip cannot be cleared by bouncing the process.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the risk state database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS risk_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		enabled    INTEGER NOT NULL,
		daily_pnl  REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[risk] opened state store at %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

// Load returns the persisted state. ok is false when no state was saved.
func (s *SQLiteStore) Load() (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var enabled int
	var pnl float64
	err := s.db.QueryRow(`SELECT enabled, daily_pnl FROM risk_state WHERE id = 1`).Scan(&enabled, &pnl)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return State{Enabled: enabled != 0, DailyPnL: pnl}, true, nil
}

// Save upserts the single state row.
func (s *SQLiteStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := 0
	if st.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO risk_state (id, enabled, daily_pnl, updated_at)
		 VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   enabled = excluded.enabled,
		   daily_pnl = excluded.daily_pnl,
		   updated_at = CURRENT_TIMESTAMP`,
		enabled, st.DailyPnL,
	)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
