// Package federation processes inbound change notifications pushed by
// federation APIs.
package federation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
)

const (
	// SignatureHeader is the HMAC signature header.
	SignatureHeader = "X-Webhook-Signature"
	maxPayloadBytes = 1 << 20

	// webhooksPerMinute caps accepted webhooks per connector.
	webhooksPerMinute = 100
)

// Supported webhook event types.
const (
	EventMemberCreated = "member.created"
	EventMemberUpdated = "member.updated"
	EventMemberDeleted = "member.deleted"
)

// SyncTrigger starts a sync run in response to a webhook.
type SyncTrigger interface {
	Sync(ctx context.Context, connectorID, organizationID string, trigger domain.TriggerType, initiatedBy string) (*domain.SyncHistoryEntry, error)
}

// Handler validates and dispatches federation webhook deliveries.
type Handler struct {
	connectors ports.ConnectorStore
	trigger    SyncTrigger
	importer   ports.RosterImporter
	log        *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// background runs the triggered sync detached from the request; tests
	// swap it for a synchronous version.
	background func(fn func())
}

// Payload is the inbound webhook body.
type Payload struct {
	Event    string `json:"event"`
	MemberID string `json:"memberId"`
	// ClubID is the federation-side organization identifier.
	ClubID string `json:"clubId"`
}

func NewHandler(connectors ports.ConnectorStore, trigger SyncTrigger, importer ports.RosterImporter, log *slog.Logger) *Handler {
	return &Handler{
		connectors: connectors,
		trigger:    trigger,
		importer:   importer,
		log:        log,
		limiters:   make(map[string]*rate.Limiter),
		background: func(fn func()) { go fn() },
	}
}

// Handle processes one webhook delivery for the connector identified by its
// federation code in the URL.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, federationCode string) error {
	ctx := r.Context()

	connector, err := h.connectors.GetConnectorByCode(ctx, federationCode)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			http.Error(w, "unknown federation", http.StatusNotFound)
			return nil
		}
		return err
	}

	if !h.limiter(connector.ID).Allow() {
		h.log.WarnContext(ctx, "webhook rate limit exceeded",
			"connector_id", connector.ID, "federation_code", federationCode)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil
	}

	if !validSignature(body, connector.Endpoints.WebhookSecret, r.Header.Get(SignatureHeader)) {
		// Signature failures are a security signal, not client noise.
		h.log.WarnContext(ctx, "webhook signature rejected",
			"connector_id", connector.ID,
			"federation_code", federationCode,
			"remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil
	}

	var payload Payload
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil
	}

	organizationID, ok := resolveOrganization(connector, payload.ClubID)
	if !ok {
		http.Error(w, "organization not connected", http.StatusUnprocessableEntity)
		return nil
	}

	switch payload.Event {
	case EventMemberCreated, EventMemberUpdated:
		h.background(func() {
			if _, err := h.trigger.Sync(context.WithoutCancel(ctx), connector.ID, organizationID, domain.TriggerWebhook, "webhook"); err != nil {
				h.log.Error("webhook-triggered sync failed",
					"connector_id", connector.ID, "org_id", organizationID, "error", err)
			}
		})
	case EventMemberDeleted:
		if payload.MemberID == "" {
			http.Error(w, "missing member id", http.StatusBadRequest)
			return nil
		}
		if err := h.importer.DeactivateMember(ctx, organizationID, payload.MemberID); err != nil && !errors.Is(err, ports.ErrNotFound) {
			return err
		}
	default:
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return nil
	}

	w.WriteHeader(http.StatusAccepted)
	return nil
}

// resolveOrganization maps the federation's club id onto the connected
// local organization. A connector with exactly one link accepts deliveries
// that omit the club id.
func resolveOrganization(connector *domain.Connector, clubID string) (string, bool) {
	clubID = strings.TrimSpace(clubID)
	if clubID == "" {
		if len(connector.Organizations) == 1 {
			return connector.Organizations[0].OrganizationID, true
		}
		return "", false
	}
	for _, org := range connector.Organizations {
		if org.FederationOrgID == clubID {
			return org.OrganizationID, true
		}
	}
	return "", false
}

func (h *Handler) limiter(connectorID string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	limiter, ok := h.limiters[connectorID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(webhooksPerMinute)/60, webhooksPerMinute)
		h.limiters[connectorID] = limiter
	}
	return limiter
}

func validSignature(body []byte, secret, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")))
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
