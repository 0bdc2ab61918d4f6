package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
)

// maxHealthRetries bounds reload-and-retry on optimistic version conflicts.
const maxHealthRetries = 3

const maxLastErrorLen = 500

// HealthService tracks per-connector sync health and drives the circuit
// breaker. Updates go through the store's version guard so concurrent runs
// never clobber each other's counters.
type HealthService struct {
	connectors ports.ConnectorStore
	log        *slog.Logger
	now        func() time.Time
}

func NewHealthService(connectors ports.ConnectorStore, log *slog.Logger) *HealthService {
	return &HealthService{connectors: connectors, log: log, now: time.Now}
}

// RecordSuccess resets the failure streak. A connector that had tripped into
// the error state returns to active; a healthy upstream clears the breaker.
func (s *HealthService) RecordSuccess(ctx context.Context, connectorID string) {
	err := s.update(ctx, connectorID, func(c *domain.Connector) {
		c.ConsecutiveFailures = 0
		c.LastError = ""
		c.LastSuccessAt = s.now()
		if c.Status == domain.ConnectorError {
			c.Status = domain.ConnectorActive
		}
	})
	if err != nil {
		s.log.ErrorContext(ctx, "record sync success failed", "connector_id", connectorID, "error", err)
	}
}

// RecordError increments the failure streak and trips the breaker once the
// streak reaches the threshold.
func (s *HealthService) RecordError(ctx context.Context, connectorID, message string) {
	if len(message) > maxLastErrorLen {
		message = message[:maxLastErrorLen]
	}
	tripped := false
	err := s.update(ctx, connectorID, func(c *domain.Connector) {
		c.ConsecutiveFailures++
		c.LastError = message
		c.LastErrorAt = s.now()
		if c.Tripped() && c.Status != domain.ConnectorError {
			c.Status = domain.ConnectorError
			tripped = true
		}
	})
	if err != nil {
		s.log.ErrorContext(ctx, "record sync error failed", "connector_id", connectorID, "error", err)
		return
	}
	if tripped {
		s.log.WarnContext(ctx, "connector circuit breaker tripped",
			"connector_id", connectorID,
			"threshold", domain.MaxConsecutiveFailures)
	}
}

// Reset clears the failure streak and reactivates the connector, the
// operator-driven escape hatch from the error state.
func (s *HealthService) Reset(ctx context.Context, connectorID string) error {
	return s.update(ctx, connectorID, func(c *domain.Connector) {
		c.ConsecutiveFailures = 0
		c.LastError = ""
		c.Status = domain.ConnectorActive
	})
}

// update applies the mutation under the version guard, reloading and
// retrying when a concurrent writer wins the race.
func (s *HealthService) update(ctx context.Context, connectorID string, apply func(*domain.Connector)) error {
	var lastErr error
	for attempt := 0; attempt < maxHealthRetries; attempt++ {
		connector, err := s.connectors.GetConnector(ctx, connectorID)
		if err != nil {
			return err
		}
		err = s.connectors.UpdateHealth(ctx, connectorID, connector.Version, apply)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ports.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
