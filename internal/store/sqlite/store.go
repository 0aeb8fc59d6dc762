// Package sqlite persists the session journal: one row per provisioning
// session plus one row per realization attempt, backed by a single database
// file under the state directory.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type SessionRecord struct {
	SessionID   string `json:"sessionId"`
	ProjectRoot string `json:"projectRoot"`
	SpecPath    string `json:"specPath"`
	EnvName     string `json:"envName"`
	State       string `json:"state"`
	Source      string `json:"source"`
	Attempts    int    `json:"attempts"`
	StartedAt   string `json:"startedAt"`
	EndedAt     string `json:"endedAt,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type AttemptRecord struct {
	SessionID string `json:"sessionId"`
	Attempt   int    `json:"attempt"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Change    string `json:"change,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

func Open(stateDir string) (*Store, error) {
	if stateDir == "" {
		stateDir = ".envsmith"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(stateDir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			project_root TEXT NOT NULL,
			spec_path TEXT NOT NULL,
			env_name TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			last_error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			session_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			exit_code INTEGER,
			change TEXT,
			error TEXT,
			at TEXT NOT NULL,
			PRIMARY KEY(session_id, attempt),
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertSession(r SessionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, project_root, spec_path, env_name, state, source, attempts, started_at, ended_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ProjectRoot, r.SpecPath, r.EnvName, r.State, r.Source, r.Attempts,
		r.StartedAt, nullableString(r.EndedAt), nullableString(r.LastError),
	)
	return err
}

func (s *Store) UpdateSessionState(sessionID, state string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET state = ? WHERE session_id = ?`,
		state, sessionID,
	)
	return err
}

func (s *Store) UpdateSessionCompletion(sessionID, state string, attempts int, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET state = ?, attempts = ?, ended_at = ?, last_error = ? WHERE session_id = ?`,
		state, attempts, time.Now().UTC().Format(time.RFC3339Nano), nullableString(lastError), sessionID,
	)
	return err
}

func (s *Store) InsertAttempt(r AttemptRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO attempts (session_id, attempt, exit_code, change, error, at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, attempt) DO UPDATE SET
			exit_code = excluded.exit_code,
			change = excluded.change,
			error = excluded.error`,
		r.SessionID, r.Attempt, nullableInt(r.ExitCode), nullableString(r.Change), nullableString(r.Error),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetSession(sessionID string) (SessionRecord, error) {
	row := s.db.QueryRow(`SELECT session_id, project_root, spec_path, env_name, state, source, attempts, started_at, COALESCE(ended_at,''), COALESCE(last_error,'') FROM sessions WHERE session_id = ?`, sessionID)
	var r SessionRecord
	if err := row.Scan(&r.SessionID, &r.ProjectRoot, &r.SpecPath, &r.EnvName, &r.State, &r.Source, &r.Attempts, &r.StartedAt, &r.EndedAt, &r.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, fmt.Errorf("session not found: %s", sessionID)
		}
		return SessionRecord{}, err
	}
	return r, nil
}

func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT session_id, project_root, spec_path, env_name, state, source, attempts, started_at, COALESCE(ended_at,''), COALESCE(last_error,'')
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SessionRecord, 0)
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.ProjectRoot, &r.SpecPath, &r.EnvName, &r.State, &r.Source, &r.Attempts, &r.StartedAt, &r.EndedAt, &r.LastError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListAttempts(sessionID string) ([]AttemptRecord, error) {
	rows, err := s.db.Query(`SELECT session_id, attempt, exit_code, COALESCE(change,''), COALESCE(error,''), at
		FROM attempts WHERE session_id = ? ORDER BY attempt ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AttemptRecord, 0)
	for rows.Next() {
		var r AttemptRecord
		var exit sql.NullInt64
		if err := rows.Scan(&r.SessionID, &r.Attempt, &exit, &r.Change, &r.Error, &r.At); err != nil {
			return nil, err
		}
		if exit.Valid {
			v := int(exit.Int64)
			r.ExitCode = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
