// Package trace persists per-turn timing and stage spans to PostgreSQL for
// offline inspection. Tracing is optional: a nil Tracer is a no-op.
package trace

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

// Store persists trace data to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the trace database at connStr and ensures the schema.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			user_text TEXT NOT NULL DEFAULT '',
			response TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'running'
		)`,
		`CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS spans_turn_idx ON spans(turn_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Turn is one recorded generation-to-speech cycle.
type Turn struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMs float64   `json:"duration_ms"`
	UserText   string    `json:"user_text"`
	Response   string    `json:"response"`
	Status     string    `json:"status"`
}

// Span is one timed stage within a turn.
type Span struct {
	ID         string    `json:"id"`
	TurnID     string    `json:"turn_id"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Status     string    `json:"status"`
	Error      string    `json:"error"`
}

// CreateTurn inserts a new running turn.
func (s *Store) CreateTurn(id string) error {
	_, err := s.db.Exec(`INSERT INTO turns (id) VALUES ($1)`, id)
	return err
}

// UpdateTurn finalizes a turn record.
func (s *Store) UpdateTurn(id string, durationMs float64, userText, response, status string) error {
	_, err := s.db.Exec(
		`UPDATE turns SET duration_ms = $2, user_text = $3, response = $4, status = $5 WHERE id = $1`,
		id, durationMs, userText, response, status,
	)
	return err
}

// CreateSpan inserts one stage span.
func (s *Store) CreateSpan(sp Span) error {
	_, err := s.db.Exec(
		`INSERT INTO spans (id, turn_id, stage, started_at, duration_ms, input, output, status, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sp.ID, sp.TurnID, sp.Stage, sp.StartedAt, sp.DurationMs, sp.Input, sp.Output, sp.Status, sp.Error,
	)
	return err
}

// ListTurns returns the most recent turns plus the total count.
func (s *Store) ListTurns(limit, offset int) ([]Turn, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(
		`SELECT id, created_at, duration_ms, user_text, response, status
		 FROM turns ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.DurationMs, &t.UserText, &t.Response, &t.Status); err != nil {
			return nil, 0, err
		}
		turns = append(turns, t)
	}
	return turns, total, rows.Err()
}

// GetTurn returns one turn with its spans.
func (s *Store) GetTurn(id string) (*Turn, []Span, error) {
	var t Turn
	err := s.db.QueryRow(
		`SELECT id, created_at, duration_ms, user_text, response, status FROM turns WHERE id = $1`, id,
	).Scan(&t.ID, &t.CreatedAt, &t.DurationMs, &t.UserText, &t.Response, &t.Status)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, turn_id, stage, started_at, duration_ms, input, output, status, error
		 FROM spans WHERE turn_id = $1 ORDER BY started_at`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err := rows.Scan(&sp.ID, &sp.TurnID, &sp.Stage, &sp.StartedAt, &sp.DurationMs, &sp.Input, &sp.Output, &sp.Status, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	return &t, spans, rows.Err()
}
