package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/vault"
)

// ValidationError marks caller input problems so the transport layer can
// report them as client errors.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// ConnectionProber verifies a connector's endpoint and credentials with a
// minimal read against the federation API.
type ConnectionProber interface {
	TestConnection(ctx context.Context, connector *domain.Connector, organizationID string) error
}

// ConnectorService is the admin surface for connector configuration.
// Credentials are encrypted before they ever reach the store.
type ConnectorService struct {
	store  ports.ConnectorStore
	vault  *vault.Vault
	prober ConnectionProber
	log    *slog.Logger
}

func NewConnectorService(store ports.ConnectorStore, v *vault.Vault, prober ConnectionProber, log *slog.Logger) *ConnectorService {
	return &ConnectorService{store: store, vault: v, prober: prober, log: log}
}

// CreateConnectorParams carries everything needed to register a federation.
type CreateConnectorParams struct {
	Name           string
	FederationCode string
	Credentials    vault.Credentials
	Endpoints      domain.Endpoints
	SyncConfig     domain.SyncConfig
	TemplateID     string
}

func (p CreateConnectorParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("connector name is required")
	}
	if !domain.ValidFederationCode(p.FederationCode) {
		return invalid("federation code %q must match [a-z0-9_]+", p.FederationCode)
	}
	if p.Credentials == nil {
		return invalid("credentials are required")
	}
	if err := validateEndpointURL(p.Endpoints.MembershipListURL); err != nil {
		return invalid("membership list url: %w", err)
	}
	if p.Endpoints.MemberDetailURL != "" && !strings.Contains(p.Endpoints.MemberDetailURL, "{id}") {
		return invalid("member detail url must contain an {id} placeholder")
	}
	if p.SyncConfig.Schedule != "" {
		if fields := strings.Fields(p.SyncConfig.Schedule); len(fields) != 5 {
			return invalid("schedule %q is not a five-field cron expression", p.SyncConfig.Schedule)
		}
	}
	switch p.SyncConfig.ConflictStrategy {
	case "", domain.FederationWins, domain.LocalWins, domain.MergeFields:
	default:
		return invalid("unknown conflict strategy %q", p.SyncConfig.ConflictStrategy)
	}
	return nil
}

func validateEndpointURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return fmt.Errorf("must use https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Create registers a new connector. The federation code is immutable once
// taken; a duplicate surfaces as ports.ErrDuplicateFederationCode.
func (s *ConnectorService) Create(ctx context.Context, params CreateConnectorParams) (*domain.Connector, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	blob, err := s.vault.Encrypt(params.Credentials)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	if params.SyncConfig.ConflictStrategy == "" {
		params.SyncConfig.ConflictStrategy = domain.FederationWins
	}

	connector := &domain.Connector{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(params.Name),
		FederationCode: params.FederationCode,
		Status:         domain.ConnectorActive,
		AuthType:       params.Credentials.AuthType(),
		CredentialBlob: blob,
		Endpoints:      params.Endpoints,
		SyncConfig:     params.SyncConfig,
		TemplateID:     params.TemplateID,
	}
	if err := s.store.CreateConnector(ctx, connector); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "connector created",
		"connector_id", connector.ID,
		"federation_code", connector.FederationCode,
		"auth_type", string(connector.AuthType))
	return connector, nil
}

// UpdateSettingsParams are the mutable connector fields. The federation
// code and auth type are deliberately absent.
type UpdateSettingsParams struct {
	Name       string
	Endpoints  domain.Endpoints
	SyncConfig domain.SyncConfig
	TemplateID string
}

func (s *ConnectorService) UpdateSettings(ctx context.Context, connectorID string, params UpdateSettingsParams) (*domain.Connector, error) {
	connector, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	if params.Name != "" {
		connector.Name = strings.TrimSpace(params.Name)
	}
	if params.Endpoints.MembershipListURL != "" {
		if err := validateEndpointURL(params.Endpoints.MembershipListURL); err != nil {
			return nil, invalid("membership list url: %w", err)
		}
		connector.Endpoints.MembershipListURL = params.Endpoints.MembershipListURL
	}
	if params.Endpoints.MemberDetailURL != "" {
		if !strings.Contains(params.Endpoints.MemberDetailURL, "{id}") {
			return nil, invalid("member detail url must contain an {id} placeholder")
		}
		connector.Endpoints.MemberDetailURL = params.Endpoints.MemberDetailURL
	}
	if params.Endpoints.WebhookSecret != "" {
		connector.Endpoints.WebhookSecret = params.Endpoints.WebhookSecret
	}
	connector.SyncConfig = params.SyncConfig
	if connector.SyncConfig.ConflictStrategy == "" {
		connector.SyncConfig.ConflictStrategy = domain.FederationWins
	}
	if params.TemplateID != "" {
		connector.TemplateID = params.TemplateID
	}

	if err := s.store.UpdateConnector(ctx, connector); err != nil {
		return nil, err
	}
	return connector, nil
}

// RotateCredentials replaces the stored secret material.
func (s *ConnectorService) RotateCredentials(ctx context.Context, connectorID string, creds vault.Credentials) error {
	connector, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	if creds.AuthType() != connector.AuthType {
		return invalid("credential type %s does not match connector auth type %s", creds.AuthType(), connector.AuthType)
	}

	blob, err := s.vault.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := s.store.UpdateCredentialBlob(ctx, connectorID, blob); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "connector credentials rotated", "connector_id", connectorID)
	return nil
}

func (s *ConnectorService) Get(ctx context.Context, connectorID string) (*domain.Connector, error) {
	return s.store.GetConnector(ctx, connectorID)
}

func (s *ConnectorService) GetByCode(ctx context.Context, federationCode string) (*domain.Connector, error) {
	return s.store.GetConnectorByCode(ctx, federationCode)
}

func (s *ConnectorService) List(ctx context.Context, status domain.ConnectorStatus) ([]*domain.Connector, error) {
	return s.store.ListConnectors(ctx, status)
}

// Deactivate soft-disables a connector; its configuration and history stay
// in place.
func (s *ConnectorService) Deactivate(ctx context.Context, connectorID string) error {
	connector, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	connector.Status = domain.ConnectorInactive
	connector.SyncConfig.Enabled = false
	return s.store.UpdateConnector(ctx, connector)
}

// ConnectOrganization links a local organization to the connector.
func (s *ConnectorService) ConnectOrganization(ctx context.Context, connectorID string, org domain.ConnectedOrganization) error {
	if org.OrganizationID == "" {
		return invalid("organization id is required")
	}
	if _, err := s.store.GetConnector(ctx, connectorID); err != nil {
		return err
	}
	return s.store.ConnectOrganization(ctx, connectorID, org)
}

// TestConnection probes the federation API with the stored credentials.
func (s *ConnectorService) TestConnection(ctx context.Context, connectorID, organizationID string) error {
	connector, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.prober.TestConnection(ctx, connector, organizationID)
	if err != nil {
		s.log.WarnContext(ctx, "connection test failed",
			"connector_id", connectorID, "elapsed", time.Since(start).String(), "error", err)
		return err
	}
	s.log.InfoContext(ctx, "connection test passed",
		"connector_id", connectorID, "elapsed", time.Since(start).String())
	return nil
}
