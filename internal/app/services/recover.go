package services

import (
	"context"
	"log/slog"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
)

// RecoveryService re-runs a sync for a connector that ended up in a bad
// place: a failed import, a tripped breaker, an operator fixing credentials.
type RecoveryService struct {
	connectors   ports.ConnectorStore
	health       *HealthService
	orchestrator *Orchestrator
	log          *slog.Logger
}

func NewRecoveryService(connectors ports.ConnectorStore, health *HealthService, orchestrator *Orchestrator, log *slog.Logger) *RecoveryService {
	return &RecoveryService{connectors: connectors, health: health, orchestrator: orchestrator, log: log}
}

// Recover resets a tripped circuit breaker if needed, then runs a manual
// sync. It is intentionally permissive about the connector's current state:
// recovery exists precisely for connectors in the error state.
func (s *RecoveryService) Recover(ctx context.Context, connectorID, organizationID, initiatedBy string) (*domain.SyncHistoryEntry, error) {
	connector, err := s.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	if connector.Status == domain.ConnectorError {
		s.log.WarnContext(ctx, "recovering connector from error state",
			"connector_id", connectorID,
			"consecutive_failures", connector.ConsecutiveFailures,
			"last_error", connector.LastError)
		if err := s.health.Reset(ctx, connectorID); err != nil {
			return nil, err
		}
	}

	return s.orchestrator.Sync(ctx, connectorID, organizationID, domain.TriggerManual, initiatedBy)
}
