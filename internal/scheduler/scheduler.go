// Package scheduler runs connector syncs on their configured cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/app/services"
)

// SyncTrigger starts one sync run. The orchestrator enforces the circuit
// breaker and single-flight semantics; the scheduler just fires.
type SyncTrigger interface {
	Sync(ctx context.Context, connectorID, organizationID string, trigger domain.TriggerType, initiatedBy string) (*domain.SyncHistoryEntry, error)
}

// Scheduler registers one cron entry per enabled connector and re-reads
// connector configuration on Refresh.
type Scheduler struct {
	connectors ports.ConnectorStore
	trigger    SyncTrigger
	log        *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func New(connectors ports.ConnectorStore, trigger SyncTrigger, log *slog.Logger) *Scheduler {
	return &Scheduler{
		connectors: connectors,
		trigger:    trigger,
		log:        log,
		cron:       cron.New(),
		entries:    map[string]cron.EntryID{},
	}
}

// Start loads schedules and begins firing them. It returns immediately;
// jobs run on the cron goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Refresh reconciles cron entries with the current connector table. New
// connectors gain entries, removed or disabled ones lose them, and changed
// schedules are re-registered.
func (s *Scheduler) Refresh(ctx context.Context) error {
	connectors, err := s.connectors.ListConnectors(ctx, "")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, connector := range connectors {
		if !connector.SyncConfig.Enabled || connector.Status == domain.ConnectorInactive {
			continue
		}
		seen[connector.ID] = true
		if id, ok := s.entries[connector.ID]; ok {
			s.cron.Remove(id)
		}

		connectorID := connector.ID
		spec := connector.SyncConfig.NormalizeSchedule()
		entryID, err := s.cron.AddFunc(spec, func() { s.runConnector(connectorID) })
		if err != nil {
			s.log.Error("invalid sync schedule, connector skipped",
				"connector_id", connectorID, "schedule", spec, "error", err)
			delete(s.entries, connectorID)
			continue
		}
		s.entries[connectorID] = entryID
	}

	for connectorID, entryID := range s.entries {
		if !seen[connectorID] {
			s.cron.Remove(entryID)
			delete(s.entries, connectorID)
		}
	}
	return nil
}

// runConnector syncs every organization connected to the connector. The
// connector state is re-read at fire time so health changes since Refresh
// are honored.
func (s *Scheduler) runConnector(connectorID string) {
	ctx := context.Background()

	connector, err := s.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		s.log.Error("scheduled sync lookup failed", "connector_id", connectorID, "error", err)
		return
	}
	if connector.Status == domain.ConnectorError {
		// Tripped connectors wait for a manual recover.
		s.log.WarnContext(ctx, "scheduled sync skipped, connector in error state",
			"connector_id", connectorID, "consecutive_failures", connector.ConsecutiveFailures)
		return
	}
	if len(connector.Organizations) == 0 {
		s.log.InfoContext(ctx, "scheduled sync skipped, no organizations connected", "connector_id", connectorID)
		return
	}

	for _, org := range connector.Organizations {
		entry, err := s.trigger.Sync(ctx, connectorID, org.OrganizationID, domain.TriggerScheduled, "system")
		switch {
		case errors.Is(err, services.ErrCircuitOpen):
			s.log.WarnContext(ctx, "scheduled sync rejected by circuit breaker",
				"connector_id", connectorID, "org_id", org.OrganizationID)
		case err != nil:
			s.log.Error("scheduled sync failed",
				"connector_id", connectorID, "org_id", org.OrganizationID, "error", err)
		default:
			s.log.InfoContext(ctx, "scheduled sync finished",
				"connector_id", connectorID,
				"org_id", org.OrganizationID,
				"outcome", string(entry.Outcome),
				"success_rate", entry.SuccessRate)
		}
	}
}
