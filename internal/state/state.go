// Package state persists the small set of keys the session layer reads at
// composition time: session ids, player name, team code, and the stable
// per-device id. Team runtime sessions carry an expiry, mirroring the
// server-side TTL on team records.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Keys written by the session layer. The quest_ prefix matches what the
// remote authority expects to see echoed back on resume.
const (
	KeySessionID        = "quest_sessionId"
	KeyRuntimeSessionID = "quest_runtimeSessionId"
	KeyPlayerName       = "quest_playerName"
	KeyTeamCode         = "quest_teamCode"
	keyDeviceID         = "quest_deviceId"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open prepares the persistence tables and returns a Store over db.
func Open(ctx context.Context, db *sql.DB) (*Store, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS team_sessions (
			team_code          TEXT PRIMARY KEY,
			runtime_session_id TEXT NOT NULL,
			expires_at         INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initializing state schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// GetOr returns the stored value for key, or fallback when absent.
func (s *Store) GetOr(ctx context.Context, key, fallback string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// DeviceID returns the stable per-device identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.Get(ctx, keyDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := s.Set(ctx, keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// SetTeamRuntimeSession records the server-provisioned runtime session id
// for a team along with its expiry.
func (s *Store) SetTeamRuntimeSession(ctx context.Context, teamCode, runtimeSessionID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_sessions (team_code, runtime_session_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(team_code) DO UPDATE SET
			runtime_session_id = excluded.runtime_session_id,
			expires_at = excluded.expires_at
	`, teamCode, runtimeSessionID, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("writing team session %s: %w", teamCode, err)
	}
	return nil
}

// TeamRuntimeSession returns the persisted runtime session id for a team.
// An expired record is treated as absent, matching the TTL on the server's
// team table.
func (s *Store) TeamRuntimeSession(ctx context.Context, teamCode string, now time.Time) (string, error) {
	var id string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT runtime_session_id, expires_at
		FROM team_sessions WHERE team_code = ?
	`, teamCode).Scan(&id, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading team session %s: %w", teamCode, err)
	}
	if now.Unix() >= expiresAt {
		return "", ErrNotFound
	}
	return id, nil
}
