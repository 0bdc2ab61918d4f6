package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/db"
)

// HistoryStore persists immutable sync audit entries. Rows are append-only;
// there is deliberately no update path.
type HistoryStore struct {
	db *db.Database
}

func NewHistoryStore(database *db.Database) *HistoryStore {
	return &HistoryStore{db: database}
}

const historyColumns = `id, connector_id, organization_id, import_session_id, trigger_type,
	started_at, completed_at, status, outcome, success_rate,
	total_rows, valid_rows, error_rows, duplicate_rows,
	players_created, players_updated, players_skipped,
	guardians_created, guardians_linked, enrollments_created,
	conflicts_detected, conflicts_resolved, error`

func (s *HistoryStore) AppendHistory(ctx context.Context, e *domain.SyncHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `-- name: AppendHistory :exec
		INSERT INTO sync_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.ConnectorID, e.OrganizationID, e.ImportSessionID, string(e.Trigger),
		e.StartedAt.UnixMilli(), e.CompletedAt.UnixMilli(), string(e.Status), string(e.Outcome), e.SuccessRate,
		e.Stats.TotalRows, e.Stats.ValidRows, e.Stats.ErrorRows, e.Stats.DuplicateRows,
		e.Stats.PlayersCreated, e.Stats.PlayersUpdated, e.Stats.PlayersSkipped,
		e.Stats.GuardiansCreated, e.Stats.GuardiansLinked, e.Stats.EnrollmentsCreated,
		e.ConflictsDetected, e.ConflictsResolved, e.Error)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *HistoryStore) ListHistory(ctx context.Context, organizationID, connectorID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `-- name: ListHistory :many
		SELECT ` + historyColumns + ` FROM sync_history WHERE 1 = 1`
	args := make([]any, 0, 3)
	if organizationID != "" {
		query += " AND organization_id = ?"
		args = append(args, organizationID)
	}
	if connectorID != "" {
		query += " AND connector_id = ?"
		args = append(args, connectorID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

func (s *HistoryStore) ListHistoryByConnector(ctx context.Context, connectorID string, since time.Time) ([]*domain.SyncHistoryEntry, error) {
	return s.query(ctx, `-- name: ListHistoryByConnector :many
		SELECT `+historyColumns+` FROM sync_history
		WHERE connector_id = ? AND started_at >= ?
		ORDER BY started_at DESC
	`, connectorID, since.UnixMilli())
}

func (s *HistoryStore) ListHistorySince(ctx context.Context, since time.Time) ([]*domain.SyncHistoryEntry, error) {
	return s.query(ctx, `-- name: ListHistorySince :many
		SELECT `+historyColumns+` FROM sync_history
		WHERE started_at >= ?
		ORDER BY started_at DESC
	`, since.UnixMilli())
}

func (s *HistoryStore) query(ctx context.Context, query string, args ...any) ([]*domain.SyncHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.SyncHistoryEntry, 0)
	for rows.Next() {
		var (
			e                      domain.SyncHistoryEntry
			trigger, status        string
			outcome                string
			startedAt, completedAt int64
		)
		if err := rows.Scan(&e.ID, &e.ConnectorID, &e.OrganizationID, &e.ImportSessionID, &trigger,
			&startedAt, &completedAt, &status, &outcome, &e.SuccessRate,
			&e.Stats.TotalRows, &e.Stats.ValidRows, &e.Stats.ErrorRows, &e.Stats.DuplicateRows,
			&e.Stats.PlayersCreated, &e.Stats.PlayersUpdated, &e.Stats.PlayersSkipped,
			&e.Stats.GuardiansCreated, &e.Stats.GuardiansLinked, &e.Stats.EnrollmentsCreated,
			&e.ConflictsDetected, &e.ConflictsResolved, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Trigger = domain.TriggerType(trigger)
		e.Status = domain.SessionStatus(status)
		e.Outcome = domain.SyncOutcome(outcome)
		e.StartedAt = time.UnixMilli(startedAt)
		e.CompletedAt = time.UnixMilli(completedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
