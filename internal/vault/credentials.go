package vault

import (
	"encoding/json"
	"fmt"

	"github.com/rostersync/rostersync/internal/app/domain"
)

// Credentials is the tagged union of per-auth-type secret material. The
// compiler forces the API client to handle every variant; the redacted
// String/GoString implementations keep secrets out of log output no matter
// how a value reaches fmt.
type Credentials interface {
	AuthType() domain.AuthType
}

// OAuth2Credentials holds client configuration plus the current token set.
type OAuth2Credentials struct {
	ClientID         string `json:"clientId"`
	ClientSecret     string `json:"clientSecret"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	TokenURL         string `json:"tokenUrl"`
	Scope            string `json:"scope,omitempty"`
	AccessToken      string `json:"accessToken,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	TokenType        string `json:"tokenType,omitempty"`
	// ExpiresAt is a unix timestamp in milliseconds; zero means unknown.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

func (OAuth2Credentials) AuthType() domain.AuthType { return domain.AuthOAuth2 }
func (OAuth2Credentials) String() string            { return "oauth2(redacted)" }
func (OAuth2Credentials) GoString() string          { return "vault.OAuth2Credentials{redacted}" }

// APIKeyCredentials carries a static key and the header it travels in.
type APIKeyCredentials struct {
	Key    string `json:"key"`
	Header string `json:"header,omitempty"`
}

func (APIKeyCredentials) AuthType() domain.AuthType { return domain.AuthAPIKey }
func (APIKeyCredentials) String() string            { return "api_key(redacted)" }
func (APIKeyCredentials) GoString() string          { return "vault.APIKeyCredentials{redacted}" }

// HeaderName returns the configured header or the conventional default.
func (c APIKeyCredentials) HeaderName() string {
	if c.Header == "" {
		return "X-API-Key"
	}
	return c.Header
}

// BasicCredentials holds HTTP basic auth material.
type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (BasicCredentials) AuthType() domain.AuthType { return domain.AuthBasic }
func (BasicCredentials) String() string            { return "basic(redacted)" }
func (BasicCredentials) GoString() string          { return "vault.BasicCredentials{redacted}" }

type envelope struct {
	Type    domain.AuthType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func marshalCredentials(c Credentials) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return json.Marshal(envelope{Type: c.AuthType(), Payload: payload})
}

func unmarshalCredentials(data []byte) (Credentials, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal credential envelope: %w", err)
	}

	switch env.Type {
	case domain.AuthOAuth2:
		var c OAuth2Credentials
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal oauth2 credentials: %w", err)
		}
		return c, nil
	case domain.AuthAPIKey:
		var c APIKeyCredentials
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal api_key credentials: %w", err)
		}
		return c, nil
	case domain.AuthBasic:
		var c BasicCredentials
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal basic credentials: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown credential type %q", env.Type)
	}
}
