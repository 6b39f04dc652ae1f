package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Call statuses.
const (
	StatusActive     = "active"
	StatusProcessing = "processing"
	StatusVoice      = "voice"
	StatusText       = "text"
	StatusFailure    = "failure"
)

// Store wraps SQLite access for the call ledger. The ledger is an audit
// trail only; live state is never rebuilt from it.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			phone_number TEXT,
			country TEXT,
			detected_at TIMESTAMP,
			completed_at TIMESTAMP,
			status TEXT,
			recording_bytes INTEGER DEFAULT 0,
			otp TEXT,
			last_error TEXT,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			kind TEXT,
			detail TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_detected ON calls(detected_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Call is one ledger row.
type Call struct {
	CallID         string     `json:"call_id"`
	PhoneNumber    string     `json:"phone_number"`
	Country        string     `json:"country"`
	DetectedAt     time.Time  `json:"detected_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	Status         string     `json:"status"`
	RecordingBytes int64      `json:"recording_bytes"`
	OTP            *string    `json:"otp"`
	LastError      *string    `json:"last_error"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Event is one monitor_events row.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertCall records a newly seen call. A re-sighting of a known id after
// processing resets it to active.
func (s *Store) InsertCall(ctx context.Context, callID, number, country string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls(call_id, phone_number, country, detected_at, status, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at, completed_at=NULL`,
		callID, number, country, ts.UTC(), StatusActive, ts.UTC())
	return err
}

// MarkCompleted records that a call left the table.
func (s *Store) MarkCompleted(ctx context.Context, callID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET status=?, completed_at=?, updated_at=? WHERE call_id=?`,
		StatusProcessing, ts.UTC(), ts.UTC(), callID)
	return err
}

// MarkProcessed records the outcome of the processing pipeline.
func (s *Store) MarkProcessed(ctx context.Context, callID, status string, bytes int64, otp, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET status=?, recording_bytes=?, otp=?, last_error=?, updated_at=? WHERE call_id=?`,
		status, bytes, otp, errMsg, ts.UTC(), callID)
	return err
}

// GetCall returns one ledger row, or nil when unknown.
func (s *Store) GetCall(ctx context.Context, callID string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT call_id, phone_number, country, detected_at, completed_at, status, recording_bytes, otp, last_error, updated_at FROM calls WHERE call_id=?`, callID)
	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCalls returns the most recently detected calls first.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, phone_number, country, detected_at, completed_at, status, recording_bytes, otp, last_error, updated_at FROM calls ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (Call, error) {
	var c Call
	var completed sql.NullTime
	var otp, errMsg sql.NullString
	if err := row.Scan(&c.CallID, &c.PhoneNumber, &c.Country, &c.DetectedAt, &completed, &c.Status, &c.RecordingBytes, &otp, &errMsg, &c.UpdatedAt); err != nil {
		return c, err
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}
	if otp.Valid {
		c.OTP = &otp.String
	}
	if errMsg.Valid {
		c.LastError = &errMsg.String
	}
	return c, nil
}

// AppendEvent records a monitor event.
func (s *Store) AppendEvent(ctx context.Context, runID, kind, detail string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO monitor_events(run_id, kind, detail, created_at) VALUES(?,?,?,?)`, runID, kind, detail, ts.UTC())
	return err
}

// ListEvents returns the newest events first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, kind, detail, created_at FROM monitor_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
