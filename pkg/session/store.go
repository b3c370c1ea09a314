// Package session records live runs to SQLite, replays them through the
// control loop and summarizes their performance.
package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// schema.sql defines the sessions, frames, commands and perf tables.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Session is one recorded run.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Mode      string    `json:"mode"`
	Notes     string    `json:"notes,omitempty"`
}

// FrameRecord is one stored pose estimate.
type FrameRecord struct {
	Seq       uint64
	At        time.Time
	Width     int
	Height    int
	InferMs   float64
	Keypoints []pose.Keypoint
}

// CommandRecord is one dispatched command.
type CommandRecord struct {
	At      time.Time
	Command mapping.Command
}

// PerfRecord is one perf sample.
type PerfRecord struct {
	At        time.Time
	FPS       float64
	Skip      int
	InferMs   float64
	Tier      string
	Held      int
	Energy    float64
	Escalated bool
}

// Store is the session database.
type Store struct {
	*sql.DB
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &Store{db}, nil
}

// Start creates a session.
func (s *Store) Start(ctx context.Context, mode, notes string, at time.Time) (Session, error) {
	sess := Session{ID: uuid.NewString(), StartedAt: at, Mode: mode, Notes: notes}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (id, started_ns, mode, notes) VALUES (?, ?, ?, ?)`,
		sess.ID, at.UnixNano(), mode, notes)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// End stamps a session's end time.
func (s *Store) End(ctx context.Context, id string, at time.Time) error {
	res, err := s.ExecContext(ctx, `UPDATE sessions SET ended_ns = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one session.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	row := s.QueryRowContext(ctx,
		`SELECT id, started_ns, ended_ns, mode, notes FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// List returns sessions, newest first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, started_ns, ended_ns, mode, notes FROM sessions ORDER BY started_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Latest returns the most recently started session.
func (s *Store) Latest(ctx context.Context) (Session, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Session{}, err
	}
	if len(all) == 0 {
		return Session{}, ErrNotFound
	}
	return all[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &started, &ended, &sess.Mode, &sess.Notes); err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64)
	}
	return sess, nil
}

// AddFrame stores an estimate. A repeated sequence number replaces the row.
func (s *Store) AddFrame(ctx context.Context, id string, e loop.Estimate) error {
	kps, err := json.Marshal(e.Keypoints)
	if err != nil {
		return fmt.Errorf("encode keypoints: %w", err)
	}
	_, err = s.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (session_id, seq, at_ns, width, height, infer_ms, keypoints)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, int64(e.Seq), e.At.UnixNano(), e.Width, e.Height, e.InferMs, string(kps))
	if err != nil {
		return fmt.Errorf("record frame %d: %w", e.Seq, err)
	}
	return nil
}

// AddCommands stores a tick's commands in one transaction.
func (s *Store) AddCommands(ctx context.Context, id string, at time.Time, cmds []mapping.Command) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO commands (session_id, at_ns, kind, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range cmds {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode command: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, at.UnixNano(), string(c.Kind), string(body)); err != nil {
			return fmt.Errorf("record command: %w", err)
		}
	}
	return tx.Commit()
}

// AddPerf stores a perf sample.
func (s *Store) AddPerf(ctx context.Context, id string, p loop.Perf) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO perf (session_id, at_ns, fps, skip, infer_ms, tier, held, energy, escalated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.At.UnixNano(), p.FPS, p.Skip, p.InferMs, p.Tier, p.Held, p.Energy, p.Escalated)
	if err != nil {
		return fmt.Errorf("record perf: %w", err)
	}
	return nil
}

// Frames returns a session's estimates in sequence order.
func (s *Store) Frames(ctx context.Context, id string) ([]FrameRecord, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT seq, at_ns, width, height, infer_ms, keypoints FROM frames
		 WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			f    FrameRecord
			seq  int64
			at   int64
			body string
		)
		if err := rows.Scan(&seq, &at, &f.Width, &f.Height, &f.InferMs, &body); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &f.Keypoints); err != nil {
			return nil, fmt.Errorf("decode frame %d keypoints: %w", seq, err)
		}
		f.Seq = uint64(seq)
		f.At = time.Unix(0, at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Commands returns a session's commands in dispatch order.
func (s *Store) Commands(ctx context.Context, id string) ([]CommandRecord, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT at_ns, body FROM commands WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			r    CommandRecord
			at   int64
			body string
		)
		if err := rows.Scan(&at, &body); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &r.Command); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		r.At = time.Unix(0, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Perf returns a session's perf samples in time order.
func (s *Store) Perf(ctx context.Context, id string) ([]PerfRecord, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT at_ns, fps, skip, infer_ms, tier, held, energy, escalated FROM perf
		 WHERE session_id = ? ORDER BY at_ns, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query perf: %w", err)
	}
	defer rows.Close()

	var out []PerfRecord
	for rows.Next() {
		var (
			p  PerfRecord
			at int64
		)
		if err := rows.Scan(&at, &p.FPS, &p.Skip, &p.InferMs, &p.Tier, &p.Held, &p.Energy, &p.Escalated); err != nil {
			return nil, fmt.Errorf("scan perf: %w", err)
		}
		p.At = time.Unix(0, at)
		out = append(out, p)
	}
	return out, rows.Err()
}
