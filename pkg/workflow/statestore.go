package workflow

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLiteStateStore persists run state as JSON rows in the knowledge database.
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore creates the run_state table when missing.
func NewSQLiteStateStore(db *sql.DB) (*SQLiteStateStore, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS run_state (
		run_id     TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create run_state table: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

// Save upserts the state for a run.
func (s *SQLiteStateStore) Save(id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO run_state (run_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		id, string(data))
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// Load reads the state for a run into dest. Returns ErrStateNotFound when the
// run has never been persisted.
func (s *SQLiteStateStore) Load(id string, dest any) error {
	var data string
	err := s.db.QueryRow(`SELECT state FROM run_state WHERE run_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: run %s", ErrStateNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to decode run state: %w", err)
	}
	return nil
}
