package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/repository"
)

// Compile-time check that *DB implements repository.SessionRepository.
var _ repository.SessionRepository = (*DB)(nil)

// SaveSession inserts or replaces the session stored under key.
//
// UPSERT:
// "INSERT ... ON CONFLICT(storage_key) DO UPDATE" keeps the row id (an xid
// minted on first insert) and created_at, and overwrites the token fields.
// A token refresh therefore updates the same row instead of piling up rows.
func (db *DB) SaveSession(ctx context.Context, key string, session *model.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("sqlite: saving session %q: %w", key, err)
	}

	userJSON, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("sqlite: encoding user for session %q: %w", key, err)
	}

	now := time.Now().UnixMilli()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, storage_key, access_token, refresh_token, token_type, expires_at, user_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(storage_key) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type    = excluded.token_type,
			expires_at    = excluded.expires_at,
			user_json     = excluded.user_json,
			updated_at    = excluded.updated_at`,
		xid.New().String(),
		key,
		session.AccessToken,
		session.RefreshToken,
		session.TokenType,
		session.ExpiresAt.UnixMilli(),
		string(userJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving session %q: %w", key, err)
	}

	return nil
}

// LoadSession returns the session stored under key.
// A missing row is reported as apperror.NotFound.
func (db *DB) LoadSession(ctx context.Context, key string) (*model.Session, error) {
	var (
		s         model.Session
		expiresAt int64
		userJSON  string
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at, user_json
		 FROM sessions WHERE storage_key = ?`,
		key,
	).Scan(
		&s.AccessToken,
		&s.RefreshToken,
		&s.TokenType,
		&expiresAt,
		&userJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", key)
		}
		return nil, fmt.Errorf("sqlite: loading session %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(userJSON), &s.User); err != nil {
		return nil, fmt.Errorf("sqlite: decoding user for session %q: %w", key, err)
	}
	s.ExpiresAt = time.UnixMilli(expiresAt)

	// A row that no longer satisfies the session invariant is useless; report
	// it as missing so the caller starts signed out.
	if err := s.Validate(); err != nil {
		return nil, apperror.NotFound("session", key)
	}

	return &s, nil
}

// DeleteSession removes the session stored under key. Deleting a missing key is not an error.
func (db *DB) DeleteSession(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE storage_key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: deleting session %q: %w", key, err)
	}
	return nil
}
