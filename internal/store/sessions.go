// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionRecord is one launched session. StoppedAt and ExitCode are unset
// while the session runs.
type SessionRecord struct {
	ID        ulid.ULID
	Backend   string
	Image     string
	Address   string
	WorkDir   string
	StartedAt time.Time
	StoppedAt time.Time
	ExitCode  *int
	Error     string
}

// Running reports whether the session has not been finished.
func (r SessionRecord) Running() bool {
	return r.StoppedAt.IsZero()
}

// StartSession stores a new running session. A zero ID is replaced with a
// fresh ULID and a zero StartedAt with the current time.
func (s *Store) StartSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	if rec.ID == (ulid.ULID{}) {
		rec.ID = ulid.Make()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}
	rec.StoppedAt = time.Time{}
	rec.ExitCode = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, backend, image, address, workdir, started_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Backend, rec.Image, rec.Address, rec.WorkDir, formatTime(rec.StartedAt),
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("start session: %w", err)
	}
	return rec, nil
}

// FinishSession marks a session stopped with its exit code and, on failure,
// an error message.
func (s *Store) FinishSession(ctx context.Context, id ulid.ULID, exitCode int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, exit_code = ?, error = ? WHERE id = ?`,
		formatTime(s.now()), exitCode, errMsg, id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first. limit <= 0
// means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, backend, image, address, workdir, started_at, stopped_at, exit_code, error
		FROM sessions
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var (
			rec         SessionRecord
			id, started string
			stopped     sql.NullString
			exitCode    sql.NullInt64
		)
		if err := rows.Scan(&id, &rec.Backend, &rec.Image, &rec.Address, &rec.WorkDir,
			&started, &stopped, &exitCode, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if rec.ID, err = ulid.ParseStrict(id); err != nil {
			return nil, fmt.Errorf("session id %q: %w", id, err)
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if stopped.Valid {
			if rec.StoppedAt, err = parseTime(stopped.String); err != nil {
				return nil, err
			}
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return sessions, nil
}
