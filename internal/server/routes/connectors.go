package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/services"
	"github.com/rostersync/rostersync/internal/vault"
)

// ConnectorRoutes exposes the connector admin API.
type ConnectorRoutes struct {
	connectors *services.ConnectorService
}

func NewConnectorRoutes(connectors *services.ConnectorService) *ConnectorRoutes {
	return &ConnectorRoutes{connectors: connectors}
}

// RegisterRoutes registers connector admin endpoints.
func (r *ConnectorRoutes) RegisterRoutes(s *echo.Echo) {
	api := s.Group("/api/v1/connectors")

	api.POST("", r.handleCreate)
	api.GET("", r.handleList)
	api.GET("/:id", r.handleGet)
	api.PUT("/:id", r.handleUpdate)
	api.DELETE("/:id", r.handleDeactivate)
	api.PUT("/:id/credentials", r.handleRotateCredentials)
	api.POST("/:id/organizations", r.handleConnectOrganization)
	api.POST("/:id/test", r.handleTestConnection)
}

// credentialsRequest is the wire form of per-auth-type secret material. It
// is parsed, encrypted and dropped; it never appears in responses or logs.
type credentialsRequest struct {
	AuthType string                   `json:"authType"`
	OAuth2   *vault.OAuth2Credentials `json:"oauth2,omitempty"`
	APIKey   *vault.APIKeyCredentials `json:"apiKey,omitempty"`
	Basic    *vault.BasicCredentials  `json:"basic,omitempty"`
}

func (cr credentialsRequest) credentials() (vault.Credentials, error) {
	switch domain.AuthType(cr.AuthType) {
	case domain.AuthOAuth2:
		if cr.OAuth2 == nil {
			return nil, fmt.Errorf("oauth2 credentials missing")
		}
		return *cr.OAuth2, nil
	case domain.AuthAPIKey:
		if cr.APIKey == nil {
			return nil, fmt.Errorf("api key credentials missing")
		}
		return *cr.APIKey, nil
	case domain.AuthBasic:
		if cr.Basic == nil {
			return nil, fmt.Errorf("basic credentials missing")
		}
		return *cr.Basic, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cr.AuthType)
	}
}

type endpointsRequest struct {
	MembershipListURL string `json:"membershipListUrl"`
	MemberDetailURL   string `json:"memberDetailUrl"`
	WebhookSecret     string `json:"webhookSecret"`
}

type syncConfigRequest struct {
	Enabled          bool   `json:"enabled"`
	Schedule         string `json:"schedule"`
	ConflictStrategy string `json:"conflictStrategy"`
}

type createConnectorRequest struct {
	Name           string             `json:"name"`
	FederationCode string             `json:"federationCode"`
	Credentials    credentialsRequest `json:"credentials"`
	Endpoints      endpointsRequest   `json:"endpoints"`
	SyncConfig     syncConfigRequest  `json:"syncConfig"`
	TemplateID     string             `json:"templateId"`
}

// connectorView is the externally visible connector shape. The credential
// blob stays server-side.
type connectorView struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	FederationCode      string             `json:"federationCode"`
	Status              string             `json:"status"`
	AuthType            string             `json:"authType"`
	MembershipListURL   string             `json:"membershipListUrl"`
	MemberDetailURL     string             `json:"memberDetailUrl,omitempty"`
	SyncEnabled         bool               `json:"syncEnabled"`
	Schedule            string             `json:"schedule"`
	ConflictStrategy    string             `json:"conflictStrategy"`
	TemplateID          string             `json:"templateId,omitempty"`
	Organizations       []organizationView `json:"organizations"`
	LastError           string             `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time         `json:"lastSuccessAt,omitempty"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	CreatedAt           time.Time          `json:"createdAt"`
}

type organizationView struct {
	OrganizationID  string     `json:"organizationId"`
	FederationOrgID string     `json:"federationOrgId"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
}

func viewOf(c *domain.Connector) connectorView {
	view := connectorView{
		ID:                  c.ID,
		Name:                c.Name,
		FederationCode:      c.FederationCode,
		Status:              string(c.Status),
		AuthType:            string(c.AuthType),
		MembershipListURL:   c.Endpoints.MembershipListURL,
		MemberDetailURL:     c.Endpoints.MemberDetailURL,
		SyncEnabled:         c.SyncConfig.Enabled,
		Schedule:            c.SyncConfig.NormalizeSchedule(),
		ConflictStrategy:    string(c.SyncConfig.ConflictStrategy),
		TemplateID:          c.TemplateID,
		Organizations:       make([]organizationView, 0, len(c.Organizations)),
		LastError:           c.LastError,
		ConsecutiveFailures: c.ConsecutiveFailures,
		CreatedAt:           c.CreatedAt,
	}
	if !c.LastSuccessAt.IsZero() {
		at := c.LastSuccessAt
		view.LastSuccessAt = &at
	}
	for _, org := range c.Organizations {
		item := organizationView{OrganizationID: org.OrganizationID, FederationOrgID: org.FederationOrgID}
		if !org.LastSyncAt.IsZero() {
			at := org.LastSyncAt
			item.LastSyncAt = &at
		}
		view.Organizations = append(view.Organizations, item)
	}
	return view
}

func (r *ConnectorRoutes) handleCreate(c echo.Context) error {
	var req createConnectorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	creds, err := req.Credentials.credentials()
	if err != nil {
		return badRequest(c, err)
	}

	connector, err := r.connectors.Create(c.Request().Context(), services.CreateConnectorParams{
		Name:           req.Name,
		FederationCode: req.FederationCode,
		Credentials:    creds,
		Endpoints: domain.Endpoints{
			MembershipListURL: req.Endpoints.MembershipListURL,
			MemberDetailURL:   req.Endpoints.MemberDetailURL,
			WebhookSecret:     req.Endpoints.WebhookSecret,
		},
		SyncConfig: domain.SyncConfig{
			Enabled:          req.SyncConfig.Enabled,
			Schedule:         req.SyncConfig.Schedule,
			ConflictStrategy: domain.ConflictStrategy(req.SyncConfig.ConflictStrategy),
		},
		TemplateID: req.TemplateID,
	})
	if err != nil {
		if isValidationError(err) {
			return badRequest(c, err)
		}
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(connector))
}

func (r *ConnectorRoutes) handleList(c echo.Context) error {
	status := domain.ConnectorStatus(c.QueryParam("status"))
	connectors, err := r.connectors.List(c.Request().Context(), status)
	if err != nil {
		return httpError(c, err)
	}
	views := make([]connectorView, 0, len(connectors))
	for _, connector := range connectors {
		views = append(views, viewOf(connector))
	}
	return c.JSON(http.StatusOK, views)
}

func (r *ConnectorRoutes) handleGet(c echo.Context) error {
	connector, err := r.connectors.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(connector))
}

type updateConnectorRequest struct {
	Name       string            `json:"name"`
	Endpoints  endpointsRequest  `json:"endpoints"`
	SyncConfig syncConfigRequest `json:"syncConfig"`
	TemplateID string            `json:"templateId"`
}

func (r *ConnectorRoutes) handleUpdate(c echo.Context) error {
	var req updateConnectorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	connector, err := r.connectors.UpdateSettings(c.Request().Context(), c.Param("id"), services.UpdateSettingsParams{
		Name: req.Name,
		Endpoints: domain.Endpoints{
			MembershipListURL: req.Endpoints.MembershipListURL,
			MemberDetailURL:   req.Endpoints.MemberDetailURL,
			WebhookSecret:     req.Endpoints.WebhookSecret,
		},
		SyncConfig: domain.SyncConfig{
			Enabled:          req.SyncConfig.Enabled,
			Schedule:         req.SyncConfig.Schedule,
			ConflictStrategy: domain.ConflictStrategy(req.SyncConfig.ConflictStrategy),
		},
		TemplateID: req.TemplateID,
	})
	if err != nil {
		if isValidationError(err) {
			return badRequest(c, err)
		}
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(connector))
}

func (r *ConnectorRoutes) handleDeactivate(c echo.Context) error {
	if err := r.connectors.Deactivate(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *ConnectorRoutes) handleRotateCredentials(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	creds, err := req.credentials()
	if err != nil {
		return badRequest(c, err)
	}
	if err := r.connectors.RotateCredentials(c.Request().Context(), c.Param("id"), creds); err != nil {
		if isValidationError(err) {
			return badRequest(c, err)
		}
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type connectOrganizationRequest struct {
	OrganizationID  string `json:"organizationId"`
	FederationOrgID string `json:"federationOrgId"`
}

func (r *ConnectorRoutes) handleConnectOrganization(c echo.Context) error {
	var req connectOrganizationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	err := r.connectors.ConnectOrganization(c.Request().Context(), c.Param("id"), domain.ConnectedOrganization{
		OrganizationID:  req.OrganizationID,
		FederationOrgID: req.FederationOrgID,
	})
	if err != nil {
		if isValidationError(err) {
			return badRequest(c, err)
		}
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *ConnectorRoutes) handleTestConnection(c echo.Context) error {
	err := r.connectors.TestConnection(c.Request().Context(), c.Param("id"), c.QueryParam("organizationId"))
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
