// Package sqlite implements the persistence ports over the shared SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/db"
)

// ConnectorStore persists connectors and their organization links.
type ConnectorStore struct {
	db *db.Database
}

func NewConnectorStore(database *db.Database) *ConnectorStore {
	return &ConnectorStore{db: database}
}

const connectorColumns = `id, name, federation_code, status, auth_type, credential_blob,
	membership_list_url, member_detail_url, webhook_secret,
	sync_enabled, sync_schedule, conflict_strategy, template_id,
	last_error, last_error_at, last_success_at, consecutive_failures,
	version, created_at, updated_at`

func (s *ConnectorStore) CreateConnector(ctx context.Context, c *domain.Connector) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}

	_, err := s.db.ExecContext(ctx, `-- name: CreateConnector :exec
		INSERT INTO connectors (`+connectorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Name, c.FederationCode, string(c.Status), string(c.AuthType), c.CredentialBlob,
		c.Endpoints.MembershipListURL, c.Endpoints.MemberDetailURL, c.Endpoints.WebhookSecret,
		boolToInt(c.SyncConfig.Enabled), c.SyncConfig.Schedule, string(c.SyncConfig.ConflictStrategy), c.TemplateID,
		c.LastError, nullMillis(c.LastErrorAt), nullMillis(c.LastSuccessAt), c.ConsecutiveFailures,
		c.Version, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err, "federation_code") {
			return ports.ErrDuplicateFederationCode
		}
		return fmt.Errorf("create connector: %w", err)
	}
	return nil
}

func (s *ConnectorStore) GetConnector(ctx context.Context, id string) (*domain.Connector, error) {
	row := s.db.QueryRowContext(ctx, `-- name: GetConnector :one
		SELECT `+connectorColumns+` FROM connectors WHERE id = ?
	`, id)
	return s.scanConnector(ctx, row)
}

func (s *ConnectorStore) GetConnectorByCode(ctx context.Context, federationCode string) (*domain.Connector, error) {
	row := s.db.QueryRowContext(ctx, `-- name: GetConnectorByCode :one
		SELECT `+connectorColumns+` FROM connectors WHERE federation_code = ?
	`, federationCode)
	return s.scanConnector(ctx, row)
}

// ListConnectors returns connectors, optionally filtered by status.
func (s *ConnectorStore) ListConnectors(ctx context.Context, status domain.ConnectorStatus) ([]*domain.Connector, error) {
	query := `-- name: ListConnectors :many
		SELECT ` + connectorColumns + ` FROM connectors`
	args := make([]any, 0, 1)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY federation_code ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Connector, 0)
	for rows.Next() {
		connector, err := scanConnectorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, connector)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, connector := range out {
		orgs, err := s.listOrganizations(ctx, connector.ID)
		if err != nil {
			return nil, err
		}
		connector.Organizations = orgs
	}
	return out, nil
}

func (s *ConnectorStore) UpdateConnector(ctx context.Context, c *domain.Connector) error {
	c.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `-- name: UpdateConnector :exec
		UPDATE connectors SET
			name = ?, status = ?,
			membership_list_url = ?, member_detail_url = ?, webhook_secret = ?,
			sync_enabled = ?, sync_schedule = ?, conflict_strategy = ?, template_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ?
	`,
		c.Name, string(c.Status),
		c.Endpoints.MembershipListURL, c.Endpoints.MemberDetailURL, c.Endpoints.WebhookSecret,
		boolToInt(c.SyncConfig.Enabled), c.SyncConfig.Schedule, string(c.SyncConfig.ConflictStrategy), c.TemplateID,
		c.UpdatedAt.UnixMilli(), c.ID)
	if err != nil {
		return fmt.Errorf("update connector: %w", err)
	}
	return requireAffected(result)
}

func (s *ConnectorStore) UpdateCredentialBlob(ctx context.Context, id string, blob []byte) error {
	result, err := s.db.ExecContext(ctx, `-- name: UpdateCredentialBlob :exec
		UPDATE connectors SET credential_blob = ?, version = version + 1, updated_at = ? WHERE id = ?
	`, blob, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update credential blob: %w", err)
	}
	return requireAffected(result)
}

// UpdateHealth loads the connector, applies the mutation in memory and
// writes it back guarded by the version column. A concurrent writer
// surfaces as ErrVersionConflict.
func (s *ConnectorStore) UpdateHealth(ctx context.Context, id string, expectedVersion int64, apply func(*domain.Connector)) error {
	connector, err := s.GetConnector(ctx, id)
	if err != nil {
		return err
	}
	if connector.Version != expectedVersion {
		return ports.ErrVersionConflict
	}

	apply(connector)

	result, err := s.db.ExecContext(ctx, `-- name: UpdateConnectorHealth :exec
		UPDATE connectors SET
			status = ?, last_error = ?, last_error_at = ?, last_success_at = ?,
			consecutive_failures = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		string(connector.Status), connector.LastError, nullMillis(connector.LastErrorAt), nullMillis(connector.LastSuccessAt),
		connector.ConsecutiveFailures, time.Now().UnixMilli(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("update connector health: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrVersionConflict
	}
	return nil
}

func (s *ConnectorStore) ConnectOrganization(ctx context.Context, connectorID string, org domain.ConnectedOrganization) error {
	if org.EnabledAt.IsZero() {
		org.EnabledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `-- name: ConnectOrganization :exec
		INSERT INTO connector_organizations (connector_id, organization_id, federation_org_id, enabled_at, last_sync_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(connector_id, organization_id) DO UPDATE SET
			federation_org_id = excluded.federation_org_id
	`, connectorID, org.OrganizationID, org.FederationOrgID, org.EnabledAt.UnixMilli(), nullMillis(org.LastSyncAt))
	if err != nil {
		return fmt.Errorf("connect organization: %w", err)
	}
	return nil
}

func (s *ConnectorStore) SetLastSyncAt(ctx context.Context, connectorID, organizationID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `-- name: SetLastSyncAt :exec
		UPDATE connector_organizations SET last_sync_at = ? WHERE connector_id = ? AND organization_id = ?
	`, at.UnixMilli(), connectorID, organizationID)
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	return requireAffected(result)
}

func (s *ConnectorStore) scanConnector(ctx context.Context, row *sql.Row) (*domain.Connector, error) {
	connector, err := scanConnectorRow(row)
	if err != nil {
		return nil, err
	}
	orgs, err := s.listOrganizations(ctx, connector.ID)
	if err != nil {
		return nil, err
	}
	connector.Organizations = orgs
	return connector, nil
}

func (s *ConnectorStore) listOrganizations(ctx context.Context, connectorID string) ([]domain.ConnectedOrganization, error) {
	rows, err := s.db.QueryContext(ctx, `-- name: ListConnectorOrganizations :many
		SELECT organization_id, federation_org_id, enabled_at, last_sync_at
		FROM connector_organizations WHERE connector_id = ? ORDER BY enabled_at ASC
	`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("list connector organizations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConnectedOrganization
	for rows.Next() {
		var org domain.ConnectedOrganization
		var enabledAt int64
		var lastSync sql.NullInt64
		if err := rows.Scan(&org.OrganizationID, &org.FederationOrgID, &enabledAt, &lastSync); err != nil {
			return nil, err
		}
		org.EnabledAt = time.UnixMilli(enabledAt)
		if lastSync.Valid {
			org.LastSyncAt = time.UnixMilli(lastSync.Int64)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnectorRow(row rowScanner) (*domain.Connector, error) {
	var (
		c                        domain.Connector
		status, authType         string
		syncEnabled              int64
		conflictStrategy         string
		lastErrorAt, lastSuccess sql.NullInt64
		createdAt, updatedAt     int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.FederationCode, &status, &authType, &c.CredentialBlob,
		&c.Endpoints.MembershipListURL, &c.Endpoints.MemberDetailURL, &c.Endpoints.WebhookSecret,
		&syncEnabled, &c.SyncConfig.Schedule, &conflictStrategy, &c.TemplateID,
		&c.LastError, &lastErrorAt, &lastSuccess, &c.ConsecutiveFailures,
		&c.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connector: %w", err)
	}

	c.Status = domain.ConnectorStatus(status)
	c.AuthType = domain.AuthType(authType)
	c.SyncConfig.Enabled = syncEnabled == 1
	c.SyncConfig.ConflictStrategy = domain.ConflictStrategy(conflictStrategy)
	if lastErrorAt.Valid {
		c.LastErrorAt = time.UnixMilli(lastErrorAt.Int64)
	}
	if lastSuccess.Valid {
		c.LastSuccessAt = time.UnixMilli(lastSuccess.Int64)
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), column)
}
