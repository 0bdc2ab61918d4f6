package federation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rostersync/rostersync/internal/app/domain"
)

const (
	pageSize = 100
	// maxPages bounds a runaway pagination loop against an API that never
	// reports the final page.
	maxPages = 100
)

// Fetcher pulls membership data from a federation API through the
// authenticated client.
type Fetcher struct {
	client *Client
	log    *slog.Logger
}

func NewFetcher(client *Client, log *slog.Logger) *Fetcher {
	return &Fetcher{client: client, log: log}
}

// membershipPage is the common page envelope federation APIs return.
type membershipPage struct {
	Members []domain.Member `json:"members"`
	Data    []domain.Member `json:"data"`
	HasMore bool            `json:"hasMore"`
	Total   int             `json:"total"`
}

func (p *membershipPage) records() []domain.Member {
	if len(p.Members) > 0 {
		return p.Members
	}
	return p.Data
}

// FetchMembershipList retrieves the full membership roster for an
// organization, walking page by page until the API reports no more data.
func (f *Fetcher) FetchMembershipList(ctx context.Context, connector *domain.Connector, orgID string) ([]domain.Member, error) {
	org, ok := connector.Organization(orgID)
	if !ok {
		return nil, fmt.Errorf("organization %s is not connected to %s", orgID, connector.FederationCode)
	}

	var all []domain.Member
	for page := 1; page <= maxPages; page++ {
		u, err := pageURL(connector.Endpoints.MembershipListURL, org.FederationOrgID, page, pageSize)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.RequestWithConnector(ctx, connector, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch membership page %d: %w", page, err)
		}

		var body membershipPage
		if err := resp.JSON(&body); err != nil {
			return nil, fmt.Errorf("decode membership page %d: %w", page, err)
		}

		records := body.records()
		all = append(all, records...)
		f.log.Debug("fetched membership page",
			"connector_id", connector.ID,
			"org_id", orgID,
			"page", page,
			"records", len(records),
			"total_so_far", len(all))

		if !body.HasMore || len(records) == 0 {
			return all, nil
		}
	}

	f.log.Warn("membership pagination hit safety cap",
		"connector_id", connector.ID, "org_id", orgID, "pages", maxPages)
	return all, nil
}

// FetchMemberDetail retrieves a single member record by its federation id.
func (f *Fetcher) FetchMemberDetail(ctx context.Context, connector *domain.Connector, memberID string) (*domain.Member, error) {
	if connector.Endpoints.MemberDetailURL == "" {
		return nil, fmt.Errorf("connector %s has no member detail endpoint", connector.FederationCode)
	}
	u := strings.ReplaceAll(connector.Endpoints.MemberDetailURL, "{id}", url.PathEscape(memberID))

	resp, err := f.client.RequestWithConnector(ctx, connector, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", memberID, err)
	}

	var member domain.Member
	if err := resp.JSON(&member); err != nil {
		return nil, fmt.Errorf("decode member %s: %w", memberID, err)
	}
	return &member, nil
}

// TestConnection probes the membership endpoint with a single-record page.
// It reports success when the API answers with any well-formed page; the
// caller decides how to surface failures.
func (f *Fetcher) TestConnection(ctx context.Context, connector *domain.Connector, orgID string) error {
	federationOrgID := ""
	if org, ok := connector.Organization(orgID); ok {
		federationOrgID = org.FederationOrgID
	}

	u, err := pageURL(connector.Endpoints.MembershipListURL, federationOrgID, 1, 1)
	if err != nil {
		return err
	}

	resp, err := f.client.RequestWithConnector(ctx, connector, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("connection test: %w", err)
	}

	var body membershipPage
	if err := resp.JSON(&body); err != nil {
		return fmt.Errorf("connection test: unexpected response shape: %w", err)
	}
	return nil
}

func pageURL(base, externalOrgID string, page, limit int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse membership url: %w", err)
	}
	q := u.Query()
	if externalOrgID != "" {
		q.Set("clubId", externalOrgID)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
