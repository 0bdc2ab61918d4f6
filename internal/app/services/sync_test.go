package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/backoff"
)

type fakeConnectorStore struct {
	mu         sync.Mutex
	connectors map[string]*domain.Connector
	lastSyncAt map[string]time.Time
}

func newFakeConnectorStore(connectors ...*domain.Connector) *fakeConnectorStore {
	store := &fakeConnectorStore{
		connectors: make(map[string]*domain.Connector),
		lastSyncAt: make(map[string]time.Time),
	}
	for _, c := range connectors {
		if c.Version == 0 {
			c.Version = 1
		}
		store.connectors[c.ID] = c
	}
	return store
}

func (f *fakeConnectorStore) CreateConnector(_ context.Context, c *domain.Connector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.connectors {
		if existing.FederationCode == c.FederationCode {
			return ports.ErrDuplicateFederationCode
		}
	}
	if c.Version == 0 {
		c.Version = 1
	}
	f.connectors[c.ID] = c
	return nil
}

func (f *fakeConnectorStore) GetConnector(_ context.Context, id string) (*domain.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeConnectorStore) GetConnectorByCode(_ context.Context, code string) (*domain.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connectors {
		if c.FederationCode == code {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (f *fakeConnectorStore) ListConnectors(_ context.Context, status domain.ConnectorStatus) ([]*domain.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Connector
	for _, c := range f.connectors {
		if status == "" || c.Status == status {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeConnectorStore) UpdateConnector(_ context.Context, c *domain.Connector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.connectors[c.ID]
	if !ok {
		return ports.ErrNotFound
	}
	clone := *c
	clone.Version = stored.Version + 1
	f.connectors[c.ID] = &clone
	return nil
}

func (f *fakeConnectorStore) UpdateCredentialBlob(_ context.Context, id string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return ports.ErrNotFound
	}
	c.CredentialBlob = blob
	c.Version++
	return nil
}

func (f *fakeConnectorStore) UpdateHealth(_ context.Context, id string, expectedVersion int64, apply func(*domain.Connector)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return ports.ErrNotFound
	}
	if c.Version != expectedVersion {
		return ports.ErrVersionConflict
	}
	apply(c)
	c.Version++
	return nil
}

func (f *fakeConnectorStore) ConnectOrganization(_ context.Context, connectorID string, org domain.ConnectedOrganization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[connectorID]
	if !ok {
		return ports.ErrNotFound
	}
	c.Organizations = append(c.Organizations, org)
	return nil
}

func (f *fakeConnectorStore) SetLastSyncAt(_ context.Context, connectorID, organizationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSyncAt[connectorID+"/"+organizationID] = at
	return nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ImportSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.ImportSession)}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, s *domain.ImportSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Status == "" {
		s.Status = domain.SessionCreated
	}
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id string) (*domain.ImportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSessionStore) UpdateSessionStatus(_ context.Context, id string, status domain.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ports.ErrNotFound
	}
	if !s.Status.CanTransition(status) {
		if s.Status.Terminal() {
			return ports.ErrTerminalSession
		}
		return fmt.Errorf("invalid transition %s -> %s", s.Status, status)
	}
	s.Status = status
	return nil
}

func (f *fakeSessionStore) RecordSessionStats(_ context.Context, id string, stats domain.SessionStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ports.ErrNotFound
	}
	s.Stats = stats
	return nil
}

func (f *fakeSessionStore) single(t *testing.T) *domain.ImportSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(f.sessions))
	}
	for _, s := range f.sessions {
		clone := *s
		return &clone
	}
	return nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	entries []*domain.SyncHistoryEntry
}

func (f *fakeHistoryStore) AppendHistory(_ context.Context, e *domain.SyncHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *e
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeHistoryStore) ListHistory(_ context.Context, organizationID, connectorID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SyncHistoryEntry
	for _, e := range f.entries {
		if organizationID != "" && e.OrganizationID != organizationID {
			continue
		}
		if connectorID != "" && e.ConnectorID != connectorID {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistoryStore) ListHistoryByConnector(_ context.Context, connectorID string, since time.Time) ([]*domain.SyncHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SyncHistoryEntry
	for _, e := range f.entries {
		if e.ConnectorID == connectorID && !e.StartedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) ListHistorySince(_ context.Context, since time.Time) ([]*domain.SyncHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SyncHistoryEntry
	for _, e := range f.entries {
		if !e.StartedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	members []domain.Member
	err     error
	panics  bool
}

func (f *fakeFetcher) FetchMembershipList(context.Context, *domain.Connector, string) ([]domain.Member, error) {
	if f.panics {
		panic("fetcher exploded")
	}
	return f.members, f.err
}

// transientError is retryable: a 503 from the upstream.
type transientError struct{ msg string }

func (e *transientError) Error() string   { return e.msg }
func (e *transientError) HTTPStatus() int { return 503 }

// flakyFetcher fails the first `failures` calls and then returns members.
type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	members  []domain.Member
}

func (f *flakyFetcher) FetchMembershipList(context.Context, *domain.Connector, string) ([]domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &transientError{msg: "upstream hiccup"}
	}
	return f.members, nil
}

// passMapper marks records invalid when the raw first name is empty and
// copies the member id through as external id.
type passMapper struct{}

func (passMapper) Transform(members []domain.Member) []domain.TransformedRecord {
	out := make([]domain.TransformedRecord, 0, len(members))
	for _, m := range members {
		record := domain.TransformedRecord{ExternalID: m.MemberID, FirstName: m.FirstName}
		if m.FirstName == "" {
			record.Errors = append(record.Errors, "missing first name")
		}
		out = append(out, record)
	}
	return out
}

// fakeImporter succeeds for the first `succeed` records and reports errors
// for the rest.
type fakeImporter struct {
	succeed int
	err     error

	mu      sync.Mutex
	batches [][]domain.TransformedRecord
}

func (f *fakeImporter) BatchImport(_ context.Context, _, _ string, records []domain.TransformedRecord) (domain.ImportResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, records)
	f.mu.Unlock()
	if f.err != nil {
		return domain.ImportResult{}, f.err
	}
	result := domain.ImportResult{TotalProcessed: len(records)}
	for i := range records {
		if i < f.succeed {
			result.PlayersCreated++
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d rejected", i))
		}
	}
	return result, nil
}

func (f *fakeImporter) DeactivateMember(context.Context, string, string) error { return nil }

func members(valid, invalid int) []domain.Member {
	out := make([]domain.Member, 0, valid+invalid)
	for i := 0; i < valid; i++ {
		out = append(out, domain.Member{MemberID: fmt.Sprintf("m-%d", i), FirstName: "ok"})
	}
	for i := 0; i < invalid; i++ {
		out = append(out, domain.Member{MemberID: fmt.Sprintf("bad-%d", i)})
	}
	return out
}

func activeConnector() *domain.Connector {
	return &domain.Connector{
		ID:             "con-1",
		Name:           "GAA",
		FederationCode: "gaa",
		Status:         domain.ConnectorActive,
		AuthType:       domain.AuthAPIKey,
		SyncConfig:     domain.SyncConfig{Enabled: true},
		Organizations:  []domain.ConnectedOrganization{{OrganizationID: "org-1", FederationOrgID: "club-1"}},
	}
}

type syncFixture struct {
	connectors   *fakeConnectorStore
	sessions     *fakeSessionStore
	history      *fakeHistoryStore
	orchestrator *Orchestrator
}

func newSyncFixture(fetcher ports.MembershipFetcher, importer ports.RosterImporter) *syncFixture {
	log := slog.New(slog.DiscardHandler)
	connectors := newFakeConnectorStore(activeConnector())
	sessions := newFakeSessionStore()
	history := &fakeHistoryStore{}
	health := NewHealthService(connectors, log)
	orchestrator := NewOrchestrator(connectors, sessions, history, fetcher, passMapper{}, importer, health, log, OrchestratorOptions{})
	return &syncFixture{connectors: connectors, sessions: sessions, history: history, orchestrator: orchestrator}
}

func TestSyncCompletesAboveThreshold(t *testing.T) {
	// 10 valid records, 9 imported: 90% is a full completion.
	fx := newSyncFixture(&fakeFetcher{members: members(10, 0)}, &fakeImporter{succeed: 9})

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "user-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if entry.Outcome != domain.OutcomeCompleted {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if entry.SuccessRate != 0.9 {
		t.Errorf("success rate: got %v", entry.SuccessRate)
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionCompleted {
		t.Errorf("session status: got %s", session.Status)
	}
	if session.Stats.TotalRows != 10 || session.Stats.ValidRows != 10 || session.Stats.PlayersCreated != 9 {
		t.Errorf("stats: %+v", session.Stats)
	}

	connector, _ := fx.connectors.GetConnector(context.Background(), "con-1")
	if connector.ConsecutiveFailures != 0 {
		t.Errorf("failures should be reset, got %d", connector.ConsecutiveFailures)
	}
	if _, ok := fx.connectors.lastSyncAt["con-1/org-1"]; !ok {
		t.Error("last sync time not recorded")
	}
	if len(fx.history.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(fx.history.entries))
	}
}

func TestSyncPartialPersistsAsCompleted(t *testing.T) {
	// 10 valid, 6 imported: 60% is partial, stored as a completed session
	// with the true rate in the history entry.
	fx := newSyncFixture(&fakeFetcher{members: members(10, 0)}, &fakeImporter{succeed: 6})

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if entry.Outcome != domain.OutcomePartial {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if entry.Status != domain.SessionCompleted {
		t.Errorf("persisted status: got %s", entry.Status)
	}
	if entry.SuccessRate != 0.6 {
		t.Errorf("true success rate must survive: got %v", entry.SuccessRate)
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionCompleted {
		t.Errorf("session status: got %s", session.Status)
	}
}

func TestSyncLowSuccessRateFails(t *testing.T) {
	// 10 valid, 3 imported: 30% fails the run and counts against health.
	fx := newSyncFixture(&fakeFetcher{members: members(10, 0)}, &fakeImporter{succeed: 3})

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err == nil {
		t.Fatal("expected failure")
	}
	if entry.Outcome != domain.OutcomeFailed {
		t.Errorf("outcome: got %s", entry.Outcome)
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionFailed {
		t.Errorf("session status: got %s", session.Status)
	}

	connector, _ := fx.connectors.GetConnector(context.Background(), "con-1")
	if connector.ConsecutiveFailures != 1 {
		t.Errorf("failure streak: got %d", connector.ConsecutiveFailures)
	}
}

func TestSyncAbortsWhenBatchMostlyInvalid(t *testing.T) {
	// 4 valid of 10 fetched: below the minimum valid share, nothing is
	// imported.
	importer := &fakeImporter{succeed: 100}
	fx := newSyncFixture(&fakeFetcher{members: members(4, 6)}, importer)

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if !errors.Is(err, ErrTooManyInvalid) {
		t.Fatalf("expected invalid-batch abort, got %v", err)
	}
	if entry.Outcome != domain.OutcomeFailed {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if len(importer.batches) != 0 {
		t.Error("import must not run for an aborted batch")
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionFailed {
		t.Errorf("session status: got %s", session.Status)
	}
	if session.Stats.ValidRows != 4 || session.Stats.ErrorRows != 6 {
		t.Errorf("stats: %+v", session.Stats)
	}
}

func TestSyncEmptyRosterCompletes(t *testing.T) {
	fx := newSyncFixture(&fakeFetcher{members: nil}, &fakeImporter{})

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("empty roster should complete cleanly: %v", err)
	}
	if entry.Outcome != domain.OutcomeCompleted {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if entry.SuccessRate != 1.0 {
		t.Errorf("success rate: got %v", entry.SuccessRate)
	}
}

func TestSyncFetchFailureFailsRun(t *testing.T) {
	fx := newSyncFixture(&fakeFetcher{err: errors.New("upstream down")}, &fakeImporter{})

	_, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err == nil {
		t.Fatal("expected error")
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionFailed {
		t.Errorf("session status: got %s", session.Status)
	}
	connector, _ := fx.connectors.GetConnector(context.Background(), "con-1")
	if connector.ConsecutiveFailures != 1 {
		t.Errorf("failure streak: got %d", connector.ConsecutiveFailures)
	}
	if connector.LastError == "" {
		t.Error("last error should be recorded")
	}
}

func TestSyncRefetchesAfterTransientFailure(t *testing.T) {
	// A fetch that dies partway through is restarted; one hiccup must not
	// fail the run.
	fetcher := &flakyFetcher{failures: 1, members: members(3, 0)}
	log := slog.New(slog.DiscardHandler)
	connectors := newFakeConnectorStore(activeConnector())
	sessions := newFakeSessionStore()
	history := &fakeHistoryStore{}
	orchestrator := NewOrchestrator(connectors, sessions, history, fetcher, passMapper{}, &fakeImporter{succeed: 3}, NewHealthService(connectors, log), log, OrchestratorOptions{
		FetchRetry: backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	entry, err := orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("transient fetch failure should be absorbed: %v", err)
	}
	if entry.Outcome != domain.OutcomeCompleted {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetch calls: got %d, want 2", fetcher.calls)
	}

	connector, _ := connectors.GetConnector(context.Background(), "con-1")
	if connector.ConsecutiveFailures != 0 {
		t.Errorf("failure streak: got %d", connector.ConsecutiveFailures)
	}
}

func TestSyncAbortGuardCountsDuplicateRows(t *testing.T) {
	// Two valid rows for the same member plus two invalid rows: half the
	// fetched batch is well-formed, so the run proceeds even though only
	// one of three deduplicated records is valid.
	batch := []domain.Member{
		{MemberID: "m-1", FirstName: "ok"},
		{MemberID: "m-1", FirstName: "ok"},
		{MemberID: "bad-1"},
		{MemberID: "bad-2"},
	}
	importer := &fakeImporter{succeed: 1}
	fx := newSyncFixture(&fakeFetcher{members: batch}, importer)

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if entry.Outcome != domain.OutcomeCompleted {
		t.Errorf("outcome: got %s", entry.Outcome)
	}
	if len(importer.batches) != 1 || len(importer.batches[0]) != 1 {
		t.Fatalf("expected one import batch with the single valid record, got %v", importer.batches)
	}

	session := fx.sessions.single(t)
	if session.Stats.DuplicateRows != 1 || session.Stats.ValidRows != 1 || session.Stats.ErrorRows != 2 {
		t.Errorf("stats: %+v", session.Stats)
	}
}

func TestSyncPanicBecomesFailedRun(t *testing.T) {
	fx := newSyncFixture(&fakeFetcher{panics: true}, &fakeImporter{})

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err == nil {
		t.Fatal("panic must surface as an error")
	}
	if entry == nil || entry.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed entry, got %+v", entry)
	}

	session := fx.sessions.single(t)
	if session.Status != domain.SessionFailed {
		t.Errorf("session status: got %s", session.Status)
	}
}

func TestSyncDeduplicatesByExternalID(t *testing.T) {
	batch := members(3, 0)
	batch = append(batch, domain.Member{MemberID: "m-0", FirstName: "ok"})
	importer := &fakeImporter{succeed: 100}
	fx := newSyncFixture(&fakeFetcher{members: batch}, importer)

	entry, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if entry.Stats.DuplicateRows != 1 {
		t.Errorf("duplicate rows: got %d", entry.Stats.DuplicateRows)
	}
	if len(importer.batches) != 1 || len(importer.batches[0]) != 3 {
		t.Errorf("import should see deduplicated batch, got %d", len(importer.batches[0]))
	}
}

func TestScheduledSyncSkipsTrippedConnector(t *testing.T) {
	fx := newSyncFixture(&fakeFetcher{members: members(1, 0)}, &fakeImporter{succeed: 1})

	connector, _ := fx.connectors.GetConnector(context.Background(), "con-1")
	_ = fx.connectors.UpdateHealth(context.Background(), "con-1", connector.Version, func(c *domain.Connector) {
		c.Status = domain.ConnectorError
		c.ConsecutiveFailures = domain.MaxConsecutiveFailures
	})

	_, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerScheduled, "")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}

	// Manual trigger is still allowed for operator-driven retries.
	if _, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-1", domain.TriggerManual, ""); err != nil {
		t.Fatalf("manual sync on tripped connector: %v", err)
	}
}

func TestSyncUnknownOrganization(t *testing.T) {
	fx := newSyncFixture(&fakeFetcher{}, &fakeImporter{})

	if _, err := fx.orchestrator.Sync(context.Background(), "con-1", "org-missing", domain.TriggerManual, ""); err == nil {
		t.Fatal("expected error for unconnected organization")
	}
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	connectors := newFakeConnectorStore(activeConnector())
	health := NewHealthService(connectors, log)
	ctx := context.Background()

	for i := 0; i < domain.MaxConsecutiveFailures-1; i++ {
		health.RecordError(ctx, "con-1", "boom")
		connector, _ := connectors.GetConnector(ctx, "con-1")
		if connector.Status == domain.ConnectorError {
			t.Fatalf("breaker tripped early at failure %d", i+1)
		}
	}

	health.RecordError(ctx, "con-1", "boom")
	connector, _ := connectors.GetConnector(ctx, "con-1")
	if connector.Status != domain.ConnectorError {
		t.Fatalf("breaker should trip at %d failures, status %s", domain.MaxConsecutiveFailures, connector.Status)
	}

	health.RecordSuccess(ctx, "con-1")
	connector, _ = connectors.GetConnector(ctx, "con-1")
	if connector.Status != domain.ConnectorActive || connector.ConsecutiveFailures != 0 {
		t.Errorf("success should reset breaker: status=%s failures=%d", connector.Status, connector.ConsecutiveFailures)
	}
}

func TestRecoveryResetsAndRuns(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	fx := newSyncFixture(&fakeFetcher{members: members(2, 0)}, &fakeImporter{succeed: 2})

	connector, _ := fx.connectors.GetConnector(context.Background(), "con-1")
	_ = fx.connectors.UpdateHealth(context.Background(), "con-1", connector.Version, func(c *domain.Connector) {
		c.Status = domain.ConnectorError
		c.ConsecutiveFailures = domain.MaxConsecutiveFailures
	})

	health := NewHealthService(fx.connectors, log)
	recovery := NewRecoveryService(fx.connectors, health, fx.orchestrator, log)

	entry, err := recovery.Recover(context.Background(), "con-1", "org-1", "operator")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if entry.Outcome != domain.OutcomeCompleted {
		t.Errorf("outcome: got %s", entry.Outcome)
	}

	connector, _ = fx.connectors.GetConnector(context.Background(), "con-1")
	if connector.Status != domain.ConnectorActive {
		t.Errorf("connector should be active after recovery, got %s", connector.Status)
	}
}
