// Package services holds the application use cases wired between the ports.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/backoff"
	"github.com/rostersync/rostersync/internal/observability"
)

// Sync outcome thresholds, expressed as fractions of the relevant base.
const (
	// MinValidFraction is the share of fetched records that must pass
	// validation for the import to proceed at all.
	MinValidFraction = 0.5
	// CompletedFraction is the import success rate at or above which a run
	// counts as fully completed.
	CompletedFraction = 0.8
	// PartialFraction is the import success rate at or above which a run
	// counts as partial; below it the run failed.
	PartialFraction = 0.5
)

// DefaultRunBudget bounds the wall-clock time of one sync run.
const DefaultRunBudget = 10 * time.Minute

// ErrCircuitOpen rejects scheduled runs against a tripped connector.
var ErrCircuitOpen = errors.New("connector circuit breaker is open")

// ErrTooManyInvalid aborts a run whose fetched batch is mostly garbage,
// protecting the roster from a bad upstream export.
var ErrTooManyInvalid = errors.New("too many invalid records in fetched batch")

// Transformer maps raw federation records to normalized roster records.
type Transformer interface {
	Transform(members []domain.Member) []domain.TransformedRecord
}

// Orchestrator drives a full sync run: fetch, map, validate, import,
// bookkeep. All trigger paths converge here.
type Orchestrator struct {
	connectors ports.ConnectorStore
	sessions   ports.SessionStore
	history    ports.HistoryStore
	fetcher    ports.MembershipFetcher
	mapper     Transformer
	importer   ports.RosterImporter
	health     *HealthService
	log        *slog.Logger

	// group collapses concurrent runs for the same connector/organization
	// pair into one execution.
	group      singleflight.Group
	runBudget  time.Duration
	fetchRetry backoff.Policy
	now        func() time.Time
}

type OrchestratorOptions struct {
	RunBudget time.Duration
	// FetchRetry bounds the coarse retry around the whole membership fetch.
	// It is independent of the API client's per-request retry, so a page
	// that exhausted the client's attempts still gets a fresh fetch.
	FetchRetry backoff.Policy
}

func NewOrchestrator(
	connectors ports.ConnectorStore,
	sessions ports.SessionStore,
	history ports.HistoryStore,
	fetcher ports.MembershipFetcher,
	mapper Transformer,
	importer ports.RosterImporter,
	health *HealthService,
	log *slog.Logger,
	opts OrchestratorOptions,
) *Orchestrator {
	if opts.RunBudget <= 0 {
		opts.RunBudget = DefaultRunBudget
	}
	return &Orchestrator{
		connectors: connectors,
		sessions:   sessions,
		history:    history,
		fetcher:    fetcher,
		mapper:     mapper,
		importer:   importer,
		health:     health,
		log:        log,
		runBudget:  opts.RunBudget,
		fetchRetry: opts.FetchRetry,
		now:        time.Now,
	}
}

// Sync runs one synchronization for the connector/organization pair.
// Concurrent triggers for the same pair share a single run. The returned
// history entry describes the run even when the error is non-nil.
func (o *Orchestrator) Sync(ctx context.Context, connectorID, organizationID string, trigger domain.TriggerType, initiatedBy string) (*domain.SyncHistoryEntry, error) {
	key := connectorID + "/" + organizationID
	result, err, shared := o.group.Do(key, func() (any, error) {
		return o.run(ctx, connectorID, organizationID, trigger, initiatedBy)
	})
	if shared {
		o.log.InfoContext(ctx, "joined in-flight sync", "connector_id", connectorID, "org_id", organizationID)
	}
	entry, _ := result.(*domain.SyncHistoryEntry)
	return entry, err
}

func (o *Orchestrator) run(ctx context.Context, connectorID, organizationID string, trigger domain.TriggerType, initiatedBy string) (entry *domain.SyncHistoryEntry, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.runBudget)
	defer cancel()
	ctx = observability.WithSyncIdentity(ctx, connectorID, organizationID)
	ctx, span := observability.StartSyncSpan(ctx, "run")
	defer span.End()

	started := o.now()

	connector, err := o.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("load connector: %w", err)
	}
	if _, ok := connector.Organization(organizationID); !ok {
		return nil, fmt.Errorf("organization %s is not connected to connector %s", organizationID, connector.FederationCode)
	}
	if trigger == domain.TriggerScheduled && connector.Status == domain.ConnectorError {
		return nil, ErrCircuitOpen
	}

	if initiatedBy == "" {
		initiatedBy = "system"
	}
	session := &domain.ImportSession{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		InitiatedBy:    initiatedBy,
		Source:         connector.FederationCode,
		Status:         domain.SessionCreated,
	}
	if err := o.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	entry = &domain.SyncHistoryEntry{
		ConnectorID:     connectorID,
		OrganizationID:  organizationID,
		ImportSessionID: session.ID,
		Trigger:         trigger,
		StartedAt:       started,
	}

	// Whatever happens below, the session reaches a terminal state and the
	// run leaves an audit trail. A panic in the pipeline is downgraded to a
	// failed run rather than taking the process down.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			o.log.ErrorContext(ctx, "sync run panicked",
				"panic", fmt.Sprint(r),
				"stack", truncateStack(debug.Stack()))
		}
		if err != nil && entry != nil {
			entry.Outcome = domain.OutcomeFailed
			entry.Status = domain.SessionFailed
			entry.Error = err.Error()
			o.finishRun(ctx, connector, session, entry)
		}
	}()

	if err := o.sessions.UpdateSessionStatus(ctx, session.ID, domain.SessionImporting); err != nil {
		return entry, fmt.Errorf("start session: %w", err)
	}

	members, err := o.fetchStage(ctx, connector, organizationID)
	if err != nil {
		return entry, fmt.Errorf("fetch membership: %w", err)
	}

	transformed := o.mapper.Transform(members)

	// The abort guard is computed over every transformed record, before
	// dedupe: a duplicated valid row is still evidence the upstream export
	// is well-formed.
	totalValid := 0
	for _, record := range transformed {
		if record.Valid() {
			totalValid++
		}
	}

	records, duplicates := dedupeByExternalID(transformed)

	valid := make([]domain.TransformedRecord, 0, len(records))
	for _, record := range records {
		if record.Valid() {
			valid = append(valid, record)
		}
	}

	stats := domain.SessionStats{
		TotalRows:     len(members),
		ValidRows:     len(valid),
		ErrorRows:     len(records) - len(valid),
		DuplicateRows: duplicates,
	}
	entry.Stats = stats

	if len(transformed) > 0 {
		validFraction := float64(totalValid) / float64(len(transformed))
		if validFraction < MinValidFraction {
			return entry, fmt.Errorf("%w: %d of %d valid", ErrTooManyInvalid, totalValid, len(transformed))
		}
	}

	result, err := o.importStage(ctx, organizationID, session.ID, valid)
	if err != nil {
		return entry, fmt.Errorf("import batch: %w", err)
	}

	stats.PlayersCreated = result.PlayersCreated
	stats.PlayersUpdated = result.PlayersReused
	stats.PlayersSkipped = len(result.Errors)
	stats.GuardiansCreated = result.GuardiansCreated
	stats.GuardiansLinked = result.GuardiansReused
	stats.EnrollmentsCreated = result.EnrollmentsCreated
	entry.Stats = stats

	successRate := 1.0
	if len(valid) > 0 {
		successRate = float64(result.Succeeded()) / float64(len(valid))
	}
	entry.SuccessRate = successRate

	switch {
	case successRate >= CompletedFraction:
		entry.Outcome = domain.OutcomeCompleted
	case successRate >= PartialFraction:
		entry.Outcome = domain.OutcomePartial
	default:
		entry.Outcome = domain.OutcomeFailed
	}
	entry.Status = entry.Outcome.PersistedStatus()

	if entry.Outcome == domain.OutcomeFailed {
		err = fmt.Errorf("import success rate %.2f below threshold", successRate)
		return entry, err
	}

	o.finishRun(ctx, connector, session, entry)
	return entry, nil
}

// fetchStage retries the whole membership fetch on transient failure. The
// API client already retries individual requests; this outer loop restarts
// a multi-page fetch that died partway through.
func (o *Orchestrator) fetchStage(ctx context.Context, connector *domain.Connector, organizationID string) ([]domain.Member, error) {
	ctx, span := observability.StartSyncSpan(ctx, "fetch")
	defer span.End()
	members, err := backoff.Retry(ctx, o.fetchRetry, func(ctx context.Context) ([]domain.Member, error) {
		return o.fetcher.FetchMembershipList(ctx, connector, organizationID)
	})
	span.RecordError(err)
	return members, err
}

func (o *Orchestrator) importStage(ctx context.Context, organizationID, sessionID string, records []domain.TransformedRecord) (domain.ImportResult, error) {
	ctx, span := observability.StartSyncSpan(ctx, "import")
	defer span.End()
	result, err := o.importer.BatchImport(ctx, organizationID, sessionID, records)
	span.RecordError(err)
	return result, err
}

// finishRun persists the terminal session state, updates connector health
// and appends the audit entry. Bookkeeping failures are logged but never
// override the run's outcome.
func (o *Orchestrator) finishRun(ctx context.Context, connector *domain.Connector, session *domain.ImportSession, entry *domain.SyncHistoryEntry) {
	entry.CompletedAt = o.now()

	// Session stats are written exactly once, when the run settles.
	if err := o.sessions.RecordSessionStats(ctx, session.ID, entry.Stats); err != nil {
		o.log.ErrorContext(ctx, "record session stats failed", "session_id", session.ID, "error", err)
	}
	if err := o.sessions.UpdateSessionStatus(ctx, session.ID, entry.Status); err != nil {
		if !errors.Is(err, ports.ErrTerminalSession) {
			o.log.ErrorContext(ctx, "finalize session failed", "session_id", session.ID, "error", err)
		}
	}

	if entry.Outcome == domain.OutcomeFailed {
		o.health.RecordError(ctx, connector.ID, entry.Error)
	} else {
		o.health.RecordSuccess(ctx, connector.ID)
		if err := o.connectors.SetLastSyncAt(ctx, connector.ID, entry.OrganizationID, entry.CompletedAt); err != nil {
			o.log.ErrorContext(ctx, "update last sync time failed", "connector_id", connector.ID, "error", err)
		}
	}

	if err := o.history.AppendHistory(ctx, entry); err != nil {
		o.log.ErrorContext(ctx, "append sync history failed", "connector_id", connector.ID, "error", err)
	}

	o.log.InfoContext(ctx, "sync run finished",
		"connector", connector.FederationCode,
		"trigger", string(entry.Trigger),
		"outcome", string(entry.Outcome),
		"success_rate", entry.SuccessRate,
		"total_rows", entry.Stats.TotalRows,
		"valid_rows", entry.Stats.ValidRows,
		"duration", entry.Duration().String())
}

// dedupeByExternalID keeps the first occurrence of each external id and
// counts the rest as duplicates. Records without an id pass through; they
// already carry a validation error.
func dedupeByExternalID(records []domain.TransformedRecord) ([]domain.TransformedRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	duplicates := 0
	for _, record := range records {
		if record.ExternalID != "" {
			if _, dup := seen[record.ExternalID]; dup {
				duplicates++
				continue
			}
			seen[record.ExternalID] = struct{}{}
		}
		out = append(out, record)
	}
	return out, duplicates
}

const maxStackBytes = 4096

func truncateStack(stack []byte) string {
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}
	return string(stack)
}
