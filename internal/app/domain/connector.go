package domain

import (
	"regexp"
	"strings"
	"time"
)

// AuthType selects the authentication scheme a connector uses against its
// federation API.
type AuthType string

const (
	AuthOAuth2 AuthType = "oauth2"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
)

// ConnectorStatus is the operator-visible health state of a connector.
type ConnectorStatus string

const (
	ConnectorActive   ConnectorStatus = "active"
	ConnectorInactive ConnectorStatus = "inactive"
	ConnectorError    ConnectorStatus = "error"
)

// ConflictStrategy resolves field disagreements between federation data and
// locally edited data.
type ConflictStrategy string

const (
	FederationWins ConflictStrategy = "federation_wins"
	LocalWins      ConflictStrategy = "local_wins"
	MergeFields    ConflictStrategy = "merge"
)

// MaxConsecutiveFailures is the circuit-breaker threshold: once a connector
// accumulates this many consecutive failed syncs its status flips to error
// and scheduled runs skip it until an operator intervenes.
const MaxConsecutiveFailures = 5

// DefaultSchedule runs syncs daily at 02:00.
const DefaultSchedule = "0 2 * * *"

var federationCodePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidFederationCode reports whether code is a well-formed federation slug.
func ValidFederationCode(code string) bool {
	return federationCodePattern.MatchString(code)
}

// Endpoints holds the federation API surface a connector talks to.
type Endpoints struct {
	MembershipListURL string
	// MemberDetailURL is an optional template containing an {id} placeholder.
	MemberDetailURL string
	WebhookSecret   string
}

// SyncConfig controls when and how a connector syncs.
type SyncConfig struct {
	Enabled          bool
	Schedule         string
	ConflictStrategy ConflictStrategy
}

// ConnectedOrganization links one local organization to a connector.
type ConnectedOrganization struct {
	OrganizationID  string
	FederationOrgID string
	EnabledAt       time.Time
	LastSyncAt      time.Time
}

// Connector is a configured integration with one external federation.
// The encrypted credential blob lives alongside the row; plaintext
// credentials exist only transiently inside the vault and API client.
type Connector struct {
	ID             string
	Name           string
	FederationCode string
	Status         ConnectorStatus
	AuthType       AuthType
	// CredentialBlob is vault-encrypted; never logged, never decoded here.
	CredentialBlob []byte
	Endpoints      Endpoints
	SyncConfig     SyncConfig
	TemplateID     string
	Organizations  []ConnectedOrganization
	LastError      string
	LastErrorAt    time.Time
	LastSuccessAt  time.Time
	// ConsecutiveFailures >= MaxConsecutiveFailures implies Status == error.
	ConsecutiveFailures int
	// Version guards recordSuccess/recordError updates against lost writes.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Organization returns the connection entry for the given organization id.
func (c *Connector) Organization(organizationID string) (ConnectedOrganization, bool) {
	for _, org := range c.Organizations {
		if org.OrganizationID == organizationID {
			return org, true
		}
	}
	return ConnectedOrganization{}, false
}

// Tripped reports whether the circuit breaker has opened.
func (c *Connector) Tripped() bool {
	return c.ConsecutiveFailures >= MaxConsecutiveFailures
}

// NormalizeSchedule returns the connector's cron schedule or the default.
func (s SyncConfig) NormalizeSchedule() string {
	if strings.TrimSpace(s.Schedule) == "" {
		return DefaultSchedule
	}
	return s.Schedule
}
