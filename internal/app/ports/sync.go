package ports

import (
	"context"

	"github.com/rostersync/rostersync/internal/app/domain"
)

// MembershipFetcher retrieves the full roster for one connector/organization
// pair from the federation API.
type MembershipFetcher interface {
	FetchMembershipList(ctx context.Context, connector *domain.Connector, organizationID string) ([]domain.Member, error)
}

// RosterImporter is the downstream batch upsert the orchestrator hands valid
// records to. Implementations key on the external member id so a retried
// sync re-matches instead of double-creating.
type RosterImporter interface {
	BatchImport(ctx context.Context, organizationID, sessionID string, records []domain.TransformedRecord) (domain.ImportResult, error)
	DeactivateMember(ctx context.Context, organizationID, externalID string) error
}

// CredentialWriter persists a re-encrypted credential blob, used by the API
// client after an OAuth2 token refresh.
type CredentialWriter interface {
	UpdateCredentialBlob(ctx context.Context, connectorID string, blob []byte) error
}
