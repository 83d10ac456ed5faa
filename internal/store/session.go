package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/humanoverlay/internal/engine"
)

// Session is one run of the render loop.
type Session struct {
	ID        string
	StartedAt time.Time
	// StoppedAt is zero while the session is running.
	StoppedAt time.Time
	Frames    int64
	Reason    string
}

// Running reports whether the session has not been ended.
func (s *Session) Running() bool {
	return s.StoppedAt.IsZero()
}

// SessionRepository provides access to recorded sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Begin records a new running session together with the engine
// configuration in effect.
func (r *SessionRepository) Begin(cfg engine.Config) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		sess.ID, sess.StartedAt,
	); err != nil {
		return nil, err
	}

	for k, v := range ConfigSettings(cfg) {
		if _, err := tx.Exec(
			`INSERT INTO session_settings (session_id, key, value) VALUES (?, ?, ?)`,
			sess.ID, k, v,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

// End marks a session stopped with its frame count and termination reason.
func (r *SessionRepository) End(id string, frames int64, reason string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET stopped_at = ?, frames = ?, reason = ? WHERE id = ?`,
		time.Now(), frames, reason, id,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, started_at, stopped_at, frames, reason FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns up to limit sessions, newest first. A non-positive limit
// returns every session.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT id, started_at, stopped_at, frames, reason FROM sessions ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Settings returns the engine configuration recorded for a session.
func (r *SessionRepository) Settings(id string) (map[string]string, error) {
	rows, err := r.db.Query(
		`SELECT key, value FROM session_settings WHERE session_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Delete removes a session and its recorded settings.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var stopped sql.NullTime
	if err := row.Scan(&sess.ID, &sess.StartedAt, &stopped, &sess.Frames, &sess.Reason); err != nil {
		return nil, err
	}
	if stopped.Valid {
		sess.StoppedAt = stopped.Time
	}
	return sess, nil
}

// BeginSession records a new session and remembers cfg as the last used
// engine configuration. It returns the session ID.
func (s *Store) BeginSession(cfg engine.Config) (string, error) {
	sess, err := s.Sessions().Begin(cfg)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	if err := s.Settings().SetAll(ConfigSettings(cfg)); err != nil {
		return "", fmt.Errorf("save settings: %w", err)
	}
	return sess.ID, nil
}

// EndSession marks the session stopped.
func (s *Store) EndSession(id string, frames int64, reason string) error {
	if err := s.Sessions().End(id, frames, reason); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// ConfigSettings flattens an engine configuration into setting keys.
func ConfigSettings(cfg engine.Config) map[string]string {
	b := strconv.FormatBool
	return map[string]string{
		"engine.backend":          cfg.Backend,
		"engine.model_base_path":  cfg.ModelBasePath,
		"engine.cache_models":     b(cfg.CacheModels),
		"engine.debug":            b(cfg.Debug),
		"engine.face.enabled":     b(cfg.Face.Enabled),
		"engine.face.mesh":        b(cfg.Face.Mesh),
		"engine.face.iris":        b(cfg.Face.Iris),
		"engine.face.emotion":     b(cfg.Face.Emotion),
		"engine.face.description": b(cfg.Face.Description),
		"engine.body.enabled":     b(cfg.Body.Enabled),
		"engine.hand.enabled":     b(cfg.Hand.Enabled),
		"engine.gesture.enabled":  b(cfg.Gesture.Enabled),
	}
}
