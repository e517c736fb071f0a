package room

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store errors.
var (
	ErrNotFound    = errors.New("room not found")
	ErrUnavailable = errors.New("room store unavailable")
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	output     TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);`

// Store persists rooms in SQLite and mirrors each room's transcript to a
// spool file. The spool directory is the change-notification surface the
// fallback feed watches; the database is the system of record.
type Store struct {
	db       *sql.DB
	spoolDir string
}

// OpenStore opens (creating if necessary) the room database and spool
// directory.
func OpenStore(dbPath, spoolDir string) (*Store, error) {
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open room db: %w", err)
	}
	// The modernc driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, spoolDir: spoolDir}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SpoolDir returns the directory holding per-room transcript spool files.
func (s *Store) SpoolDir() string {
	return s.spoolDir
}

// SpoolPath returns the spool file path for a room.
func (s *Store) SpoolPath(roomID string) string {
	return filepath.Join(s.spoolDir, roomID+".log")
}

// RoomFromSpoolPath extracts the room ID from a spool file path, or ""
// if the path is not a spool file.
func RoomFromSpoolPath(path string) string {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".log" {
		return ""
	}
	return base[:len(base)-len(".log")]
}

// CreateRoom allocates a fresh room code and inserts the room in state
// created. Retries on the (unlikely) code collision.
func (s *Store) CreateRoom() (*Room, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := NewID()
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		_, err = s.db.Exec(
			`INSERT INTO rooms (id, state, output, updated_at) VALUES (?, ?, '', ?)`,
			id, string(StateCreated), now.Format(time.RFC3339Nano),
		)
		if err == nil {
			return &Room{ID: id, State: StateCreated, UpdatedAt: now}, nil
		}
		if !isConstraintErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil, fmt.Errorf("%w: room code space exhausted", ErrUnavailable)
}

// GetRoom loads a room by ID.
func (s *Store) GetRoom(id string) (*Room, error) {
	var r Room
	var state, updated string
	err := s.db.QueryRow(
		`SELECT id, state, output, updated_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &state, &r.Output, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.State = State(state)
	if ts, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		r.UpdatedAt = ts
	}
	return &r, nil
}

// AppendOutput appends text to the room's accumulated output, bumps the
// update timestamp, and rewrites the room's spool file with the full
// transcript so watchers observe the change.
func (s *Store) AppendOutput(id, text string) error {
	var output string
	err := s.db.QueryRow(
		`UPDATE rooms SET output = output || ?, updated_at = ? WHERE id = ? RETURNING output`,
		text, time.Now().UTC().Format(time.RFC3339Nano), id,
	).Scan(&output)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if werr := os.WriteFile(s.SpoolPath(id), []byte(output), 0o644); werr != nil {
		// The database row is authoritative; a failed spool write only
		// delays the fallback feed until the next append.
		return fmt.Errorf("write spool file: %w", werr)
	}
	return nil
}

// SetState updates a room's lifecycle state.
func (s *Store) SetState(id string, state State) error {
	res, err := s.db.Exec(
		`UPDATE rooms SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListRooms returns all rooms, most recently updated first.
func (s *Store) ListRooms() ([]*Room, error) {
	rows, err := s.db.Query(
		`SELECT id, state, output, updated_at FROM rooms ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		var r Room
		var state, updated string
		if err := rows.Scan(&r.ID, &state, &r.Output, &updated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		r.State = State(state)
		if ts, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
			r.UpdatedAt = ts
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

func isConstraintErr(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text;
	// the driver does not export a stable error type for them.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint"))
}
