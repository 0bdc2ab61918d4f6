package ports

import (
	"context"
	"errors"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateFederationCode indicates the federation code is taken.
	ErrDuplicateFederationCode = errors.New("federation code already in use")
	// ErrVersionConflict indicates an optimistic-concurrency update lost.
	ErrVersionConflict = errors.New("connector version conflict")
	// ErrTerminalSession indicates a write against a terminal session.
	ErrTerminalSession = errors.New("import session already terminal")
)

// ConnectorStore persists connector configuration and health state.
type ConnectorStore interface {
	CreateConnector(ctx context.Context, c *domain.Connector) error
	GetConnector(ctx context.Context, id string) (*domain.Connector, error)
	GetConnectorByCode(ctx context.Context, federationCode string) (*domain.Connector, error)
	ListConnectors(ctx context.Context, status domain.ConnectorStatus) ([]*domain.Connector, error)
	UpdateConnector(ctx context.Context, c *domain.Connector) error
	UpdateCredentialBlob(ctx context.Context, id string, blob []byte) error
	// UpdateHealth applies a success/error transition guarded by the
	// connector's version column; a lost update surfaces as
	// ErrVersionConflict so the caller can reload and retry.
	UpdateHealth(ctx context.Context, id string, expectedVersion int64, apply func(*domain.Connector)) error
	ConnectOrganization(ctx context.Context, connectorID string, org domain.ConnectedOrganization) error
	SetLastSyncAt(ctx context.Context, connectorID, organizationID string, at time.Time) error
}

// SessionStore persists import sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.ImportSession) error
	GetSession(ctx context.Context, id string) (*domain.ImportSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error
	RecordSessionStats(ctx context.Context, id string, stats domain.SessionStats) error
}

// HistoryStore persists immutable sync audit entries and serves the
// analytics read surface.
type HistoryStore interface {
	AppendHistory(ctx context.Context, e *domain.SyncHistoryEntry) error
	ListHistory(ctx context.Context, organizationID, connectorID string, limit int) ([]*domain.SyncHistoryEntry, error)
	ListHistoryByConnector(ctx context.Context, connectorID string, since time.Time) ([]*domain.SyncHistoryEntry, error)
	ListHistorySince(ctx context.Context, since time.Time) ([]*domain.SyncHistoryEntry, error)
}
