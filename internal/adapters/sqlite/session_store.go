package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/db"
)

// SessionStore persists import sessions with monotonic status transitions.
type SessionStore struct {
	db *db.Database
}

func NewSessionStore(database *db.Database) *SessionStore {
	return &SessionStore{db: database}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.ImportSession) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = domain.SessionCreated
	}

	_, err := s.db.ExecContext(ctx, `-- name: CreateSession :exec
		INSERT INTO import_sessions (id, organization_id, initiated_by, source, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.OrganizationID, session.InitiatedBy, session.Source, string(session.Status),
		session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.ImportSession, error) {
	row := s.db.QueryRowContext(ctx, `-- name: GetSession :one
		SELECT id, organization_id, initiated_by, source, status,
			total_rows, valid_rows, error_rows, duplicate_rows,
			players_created, players_updated, players_skipped,
			guardians_created, guardians_linked, enrollments_created,
			created_at, updated_at
		FROM import_sessions WHERE id = ?
	`, id)

	var (
		session              domain.ImportSession
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&session.ID, &session.OrganizationID, &session.InitiatedBy, &session.Source, &status,
		&session.Stats.TotalRows, &session.Stats.ValidRows, &session.Stats.ErrorRows, &session.Stats.DuplicateRows,
		&session.Stats.PlayersCreated, &session.Stats.PlayersUpdated, &session.Stats.PlayersSkipped,
		&session.Stats.GuardiansCreated, &session.Stats.GuardiansLinked, &session.Stats.EnrollmentsCreated,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	return &session, nil
}

// UpdateSessionStatus enforces the monotonic lifecycle in SQL: the guard
// clause only matches rows whose current status may move to the target.
func (s *SessionStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		if current.Status.Terminal() {
			return ports.ErrTerminalSession
		}
		return fmt.Errorf("invalid session transition %s -> %s", current.Status, status)
	}

	result, err := s.db.ExecContext(ctx, `-- name: UpdateSessionStatus :exec
		UPDATE import_sessions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), time.Now().UnixMilli(), id, string(current.Status))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost the race to another writer; the session moved on.
		return ports.ErrTerminalSession
	}
	return nil
}

func (s *SessionStore) RecordSessionStats(ctx context.Context, id string, stats domain.SessionStats) error {
	result, err := s.db.ExecContext(ctx, `-- name: RecordSessionStats :exec
		UPDATE import_sessions SET
			total_rows = ?, valid_rows = ?, error_rows = ?, duplicate_rows = ?,
			players_created = ?, players_updated = ?, players_skipped = ?,
			guardians_created = ?, guardians_linked = ?, enrollments_created = ?,
			updated_at = ?
		WHERE id = ?
	`, stats.TotalRows, stats.ValidRows, stats.ErrorRows, stats.DuplicateRows,
		stats.PlayersCreated, stats.PlayersUpdated, stats.PlayersSkipped,
		stats.GuardiansCreated, stats.GuardiansLinked, stats.EnrollmentsCreated,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("record session stats: %w", err)
	}
	return requireAffected(result)
}
