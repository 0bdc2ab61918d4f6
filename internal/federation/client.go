package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/backoff"
	"github.com/rostersync/rostersync/internal/vault"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10.0
	defaultRateBurst = 5
	userAgent        = "rostersync/1.0"
)

// ClientOptions tunes the API client.
type ClientOptions struct {
	Timeout   time.Duration
	Retry     backoff.Policy
	RateLimit float64
	RateBurst int
	// Transport allows injecting a stub round tripper in tests.
	Transport http.RoundTripper
}

// Client executes authenticated requests against federation APIs. Stored
// credentials are decrypted once per call and never cached in plaintext
// across calls, keeping the exposure window small.
type Client struct {
	connectors  ports.ConnectorStore
	credentials ports.CredentialWriter
	vault       *vault.Vault
	httpClient  *http.Client
	retry       backoff.Policy
	log         *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// NewClient builds a federation API client over the connector store.
func NewClient(connectors ports.ConnectorStore, credentials ports.CredentialWriter, v *vault.Vault, log *slog.Logger, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = backoff.DefaultPolicy()
	}

	return &Client{
		connectors:  connectors,
		credentials: credentials,
		vault:       v,
		httpClient:  &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		retry:       opts.Retry,
		log:         log,
		limiters:    make(map[string]*rate.Limiter),
		rateLimit:   rate.Limit(opts.RateLimit),
		rateBurst:   opts.RateBurst,
	}
}

// Response wraps a federation API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// Request executes an authenticated call for the given connector. Transient
// failures are retried with backoff; on an OAuth2 auth failure the client
// attempts a single token refresh and retries the request once. The refresh
// itself is never retried.
func (c *Client) Request(ctx context.Context, connectorID, method, rawURL string, body []byte) (*Response, error) {
	connector, err := c.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("load connector: %w", err)
	}
	return c.RequestWithConnector(ctx, connector, method, rawURL, body)
}

// RequestWithConnector is Request for callers that already hold the
// connector row.
func (c *Client) RequestWithConnector(ctx context.Context, connector *domain.Connector, method, rawURL string, body []byte) (*Response, error) {
	if err := c.limiter(connector.ID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	creds, err := c.vault.Decrypt(connector.CredentialBlob)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for connector %s: %w", connector.ID, err)
	}

	resp, err := backoff.Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.doOnce(ctx, creds, method, rawURL, body)
	})
	if err == nil {
		return resp, nil
	}

	if IsAuthError(err) && connector.AuthType == domain.AuthOAuth2 {
		refreshed, refreshErr := c.refreshOAuth2(ctx, connector, creds)
		if refreshErr != nil {
			c.log.Warn("token refresh failed", "connector_id", connector.ID, "error", refreshErr)
			return nil, err
		}
		c.log.Info("refreshed oauth2 token", "connector_id", connector.ID)
		return c.doOnce(ctx, refreshed, method, rawURL, body)
	}

	return nil, err
}

func (c *Client) doOnce(ctx context.Context, creds vault.Credentials, method, rawURL string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := applyAuth(req, creds); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(payload),
		}
		if apiErr.Kind == ErrorRateLimited {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, apiErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

// refreshOAuth2 exchanges the stored refresh token for a new token set and
// persists the re-encrypted credentials before handing them back.
func (c *Client) refreshOAuth2(ctx context.Context, connector *domain.Connector, creds vault.Credentials) (vault.Credentials, error) {
	oauth, ok := creds.(vault.OAuth2Credentials)
	if !ok {
		return nil, fmt.Errorf("connector %s is not configured for oauth2", connector.ID)
	}
	if oauth.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if oauth.TokenURL == "" {
		return nil, fmt.Errorf("no token url configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {oauth.RefreshToken},
		"client_id":     {oauth.ClientID},
		"client_secret": {oauth.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Kind: ErrorAuth, StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}

	oauth.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		oauth.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		oauth.TokenType = token.TokenType
	}
	if token.Scope != "" {
		oauth.Scope = token.Scope
	}
	if token.ExpiresIn > 0 {
		oauth.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second).UnixMilli()
	} else {
		oauth.ExpiresAt = 0
	}

	blob, err := c.vault.Encrypt(oauth)
	if err != nil {
		return nil, fmt.Errorf("re-encrypt credentials: %w", err)
	}
	if err := c.credentials.UpdateCredentialBlob(ctx, connector.ID, blob); err != nil {
		return nil, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	connector.CredentialBlob = blob

	return oauth, nil
}

func (c *Client) limiter(connectorID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, ok := c.limiters[connectorID]
	if !ok {
		limiter = rate.NewLimiter(c.rateLimit, c.rateBurst)
		c.limiters[connectorID] = limiter
	}
	return limiter
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
