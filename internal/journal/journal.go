// Package journal records the message stream between the bridge and the
// engine in a SQLite database, one run per bridge process.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"imebridge/internal/protocol"
)

// ErrNoRun is returned when entries are appended before BeginRun.
var ErrNoRun = errors.New("journal: no run started")

// Direction is the side a message travelled from.
type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// Entry is one journalled message.
type Entry struct {
	Run       string
	Session   uint32
	Ordinal   int64
	Time      time.Time
	Direction Direction
	Kind      protocol.Kind

	// HasRange reports whether Start and End are meaningful for Kind.
	HasRange bool
	Start    int
	End      int

	TextLen int
	Text    string
	// Digest is the BLAKE2b-256 of the text when the text was redacted.
	Digest []byte
}

// Run describes one bridge process lifetime.
type Run struct {
	ID      string
	Started time.Time
	Version string
}

// SessionInfo describes one focus session within a run.
type SessionInfo struct {
	ID      uint32
	Focused time.Time
	Blurred time.Time // zero while still focused
	Entries int
}

// Store is the SQLite-backed journal.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	run      string
	ordinal  int64
	sessions map[uint32]bool

	now func() time.Time
}

// Open opens or creates the journal at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Store{
		db:       db,
		sessions: make(map[uint32]bool),
		now:      time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginRun starts a new run and returns its id. Later entries belong to it.
func (s *Store) BeginRun(version string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO runs (id, started_ns, version) VALUES (?, ?, ?)",
		id, s.now().UnixNano(), version,
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	s.mu.Lock()
	s.run = id
	s.ordinal = 0
	s.sessions = make(map[uint32]bool)
	s.mu.Unlock()
	return id, nil
}

// Run returns the id of the current run, or "" before BeginRun.
func (s *Store) Run() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// Focus records the start of a session.
func (s *Store) Focus(session uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSession(session)
}

// Blur records the end of a session.
func (s *Store) Blur(session uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == "" {
		return ErrNoRun
	}
	if _, err := s.db.Exec(
		"UPDATE sessions SET blurred_ns = ? WHERE run = ? AND id = ? AND blurred_ns IS NULL",
		s.now().UnixNano(), s.run, session,
	); err != nil {
		return fmt.Errorf("blur session: %w", err)
	}
	return nil
}

// ensureSession inserts the session row on first sight. Callers hold s.mu.
func (s *Store) ensureSession(session uint32) error {
	if s.run == "" {
		return ErrNoRun
	}
	if s.sessions[session] {
		return nil
	}
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO sessions (run, id, focused_ns) VALUES (?, ?, ?)",
		s.run, session, s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.sessions[session] = true
	return nil
}

// Append stores e in the current run, assigning its run, ordinal and time.
func (s *Store) Append(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSession(e.Session); err != nil {
		return err
	}

	s.ordinal++
	e.Run = s.run
	e.Ordinal = s.ordinal
	if e.Time.IsZero() {
		e.Time = s.now()
	}

	var start, end sql.NullInt64
	if e.HasRange {
		start = sql.NullInt64{Int64: int64(e.Start), Valid: true}
		end = sql.NullInt64{Int64: int64(e.End), Valid: true}
	}
	var text sql.NullString
	if e.Digest == nil {
		text = sql.NullString{String: e.Text, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO entries (run, session, ordinal, ts_ns, direction, kind, range_start, range_end, text_len, text, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Run, e.Session, e.Ordinal, e.Time.UnixNano(), string(e.Direction), int(e.Kind),
		start, end, e.TextLen, text, e.Digest,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Runs lists all runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query("SELECT id, started_ns, COALESCE(version, '') FROM runs ORDER BY started_ns DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &started, &r.Version); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the id of the newest run, or "" for an empty journal.
func (s *Store) LatestRun() (string, error) {
	var id string
	err := s.db.QueryRow("SELECT id FROM runs ORDER BY started_ns DESC, rowid DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// Sessions lists the sessions of run in focus order.
func (s *Store) Sessions(run string) ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.focused_ns, s.blurred_ns, COUNT(e.ordinal)
		FROM sessions s LEFT JOIN entries e ON e.run = s.run AND e.session = s.id
		WHERE s.run = ?
		GROUP BY s.id
		ORDER BY s.focused_ns, s.id`, run)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var focused int64
		var blurred sql.NullInt64
		if err := rows.Scan(&info.ID, &focused, &blurred, &info.Entries); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.Focused = time.Unix(0, focused)
		if blurred.Valid {
			info.Blurred = time.Unix(0, blurred.Int64)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Entries returns the entries of session in the newest run.
func (s *Store) Entries(session uint32) ([]Entry, error) {
	run, err := s.LatestRun()
	if err != nil || run == "" {
		return nil, err
	}
	return s.RunEntries(run, session)
}

// RunEntries returns the entries of session in run, in journal order.
func (s *Store) RunEntries(run string, session uint32) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT run, session, ordinal, ts_ns, direction, kind, range_start, range_end, text_len, text, digest
		FROM entries WHERE run = ? AND session = ? ORDER BY ordinal`, run, session)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var kind int
		var direction string
		var start, end sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&e.Run, &e.Session, &e.Ordinal, &ts, &direction, &kind,
			&start, &end, &e.TextLen, &text, &e.Digest); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Direction = Direction(direction)
		e.Kind = protocol.Kind(kind)
		if start.Valid && end.Valid {
			e.HasRange = true
			e.Start, e.End = int(start.Int64), int(end.Int64)
		}
		e.Text = text.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes runs that started before cutoff, with their sessions and
// entries.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM runs WHERE started_ns < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return result.RowsAffected()
}
