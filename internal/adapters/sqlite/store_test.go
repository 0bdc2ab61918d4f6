package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/db"
)

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func sampleConnector() *domain.Connector {
	return &domain.Connector{
		ID:             uuid.NewString(),
		Name:           "GAA Foireann",
		FederationCode: "gaa",
		Status:         domain.ConnectorActive,
		AuthType:       domain.AuthOAuth2,
		CredentialBlob: []byte("opaque"),
		Endpoints: domain.Endpoints{
			MembershipListURL: "https://api.example.com/members",
			MemberDetailURL:   "https://api.example.com/members/{id}",
			WebhookSecret:     "whsec",
		},
		SyncConfig: domain.SyncConfig{Enabled: true, Schedule: "0 2 * * *", ConflictStrategy: domain.FederationWins},
	}
}

func TestConnectorStoreRoundTrip(t *testing.T) {
	store := NewConnectorStore(openTestDB(t))
	ctx := context.Background()

	connector := sampleConnector()
	if err := store.CreateConnector(ctx, connector); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetConnector(ctx, connector.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FederationCode != "gaa" || got.Name != "GAA Foireann" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("new connector should start at version 1, got %d", got.Version)
	}
	if string(got.CredentialBlob) != "opaque" {
		t.Error("credential blob not preserved")
	}

	byCode, err := store.GetConnectorByCode(ctx, "gaa")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if byCode.ID != connector.ID {
		t.Error("code lookup returned wrong connector")
	}
}

func TestConnectorStoreRejectsDuplicateCode(t *testing.T) {
	store := NewConnectorStore(openTestDB(t))
	ctx := context.Background()

	first := sampleConnector()
	if err := store.CreateConnector(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	second := sampleConnector()
	second.ID = uuid.NewString()
	err := store.CreateConnector(ctx, second)
	if !errors.Is(err, ports.ErrDuplicateFederationCode) {
		t.Fatalf("expected duplicate code error, got %v", err)
	}
}

func TestConnectorStoreNotFound(t *testing.T) {
	store := NewConnectorStore(openTestDB(t))

	if _, err := store.GetConnector(context.Background(), "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateHealthVersionGuard(t *testing.T) {
	store := NewConnectorStore(openTestDB(t))
	ctx := context.Background()

	connector := sampleConnector()
	if err := store.CreateConnector(ctx, connector); err != nil {
		t.Fatalf("create: %v", err)
	}

	markFailed := func(c *domain.Connector) {
		c.ConsecutiveFailures++
		c.LastError = "boom"
		c.LastErrorAt = time.Now()
	}

	if err := store.UpdateHealth(ctx, connector.ID, 1, markFailed); err != nil {
		t.Fatalf("first health update: %v", err)
	}

	// Same expected version again: the first write bumped it, so this is a
	// lost update and must be rejected.
	err := store.UpdateHealth(ctx, connector.ID, 1, markFailed)
	if !errors.Is(err, ports.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := store.GetConnector(ctx, connector.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConsecutiveFailures != 1 {
		t.Errorf("conflicting update must not apply, failures = %d", got.ConsecutiveFailures)
	}
	if got.Version != 2 {
		t.Errorf("version should have bumped once, got %d", got.Version)
	}
}

func TestConnectOrganizationAndLastSync(t *testing.T) {
	store := NewConnectorStore(openTestDB(t))
	ctx := context.Background()

	connector := sampleConnector()
	if err := store.CreateConnector(ctx, connector); err != nil {
		t.Fatalf("create: %v", err)
	}
	org := domain.ConnectedOrganization{OrganizationID: "org-1", FederationOrgID: "club-77"}
	if err := store.ConnectOrganization(ctx, connector.ID, org); err != nil {
		t.Fatalf("connect org: %v", err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := store.SetLastSyncAt(ctx, connector.ID, "org-1", at); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	got, err := store.GetConnector(ctx, connector.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	linked, ok := got.Organization("org-1")
	if !ok {
		t.Fatal("organization link missing")
	}
	if linked.FederationOrgID != "club-77" {
		t.Errorf("federation org id: got %q", linked.FederationOrgID)
	}
	if !linked.LastSyncAt.Equal(at) {
		t.Errorf("last sync: got %v want %v", linked.LastSyncAt, at)
	}
}

func TestSessionLifecycleIsMonotonic(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	session := &domain.ImportSession{ID: uuid.NewString(), OrganizationID: "org-1", InitiatedBy: "system", Source: "gaa"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.UpdateSessionStatus(ctx, session.ID, domain.SessionImporting); err != nil {
		t.Fatalf("created -> importing: %v", err)
	}
	if err := store.UpdateSessionStatus(ctx, session.ID, domain.SessionCompleted); err != nil {
		t.Fatalf("importing -> completed: %v", err)
	}

	err := store.UpdateSessionStatus(ctx, session.ID, domain.SessionFailed)
	if !errors.Is(err, ports.ErrTerminalSession) {
		t.Fatalf("terminal session must reject transitions, got %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.SessionCompleted {
		t.Errorf("status should remain completed, got %s", got.Status)
	}
}

func TestSessionRejectsSkippedTransition(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	session := &domain.ImportSession{ID: uuid.NewString(), OrganizationID: "org-1"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateSessionStatus(ctx, session.ID, domain.SessionCompleted); err == nil {
		t.Fatal("created -> completed should be rejected")
	}
}

func TestRecordSessionStats(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	session := &domain.ImportSession{ID: uuid.NewString(), OrganizationID: "org-1"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats := domain.SessionStats{TotalRows: 10, ValidRows: 8, ErrorRows: 2, PlayersCreated: 5, PlayersUpdated: 3}
	if err := store.RecordSessionStats(ctx, session.ID, stats); err != nil {
		t.Fatalf("record stats: %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stats != stats {
		t.Errorf("stats mismatch: got %+v want %+v", got.Stats, stats)
	}
}

func TestHistoryAppendAndList(t *testing.T) {
	store := NewHistoryStore(openTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		entry := &domain.SyncHistoryEntry{
			ConnectorID:    "con-1",
			OrganizationID: "org-1",
			Trigger:        domain.TriggerScheduled,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			CompletedAt:    base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Status:         domain.SessionCompleted,
			Outcome:        domain.OutcomeCompleted,
			SuccessRate:    0.9,
			Stats:          domain.SessionStats{TotalRows: 100, ValidRows: 95},
		}
		if err := store.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := store.ListHistory(ctx, "org-1", "con-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].StartedAt.Before(entries[1].StartedAt) {
		t.Error("entries should be newest first")
	}

	recent, err := store.ListHistoryByConnector(ctx, "con-1", base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("list by connector: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("since filter: expected 1 entry, got %d", len(recent))
	}
}

func TestBatchImportCreatesThenReuses(t *testing.T) {
	store := NewRosterStore(openTestDB(t))
	ctx := context.Background()

	records := []domain.TransformedRecord{
		{
			ExternalID:       "GAA-1",
			FirstName:        "Anna",
			LastName:         "Walsh",
			DateOfBirth:      "2012-06-01",
			Email:            "parent@example.com",
			EnrollmentStatus: "active",
		},
		{
			ExternalID:       "GAA-2",
			FirstName:        "Liam",
			LastName:         "Byrne",
			DateOfBirth:      "1990-01-01",
			EnrollmentStatus: "active",
		},
	}

	first, err := store.BatchImport(ctx, "org-1", "sess-1", records)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.PlayersCreated != 2 || first.PlayersReused != 0 {
		t.Errorf("first run: created=%d reused=%d", first.PlayersCreated, first.PlayersReused)
	}
	if first.GuardiansCreated != 1 {
		t.Errorf("minor with contact email should create a guardian, got %d", first.GuardiansCreated)
	}
	if first.EnrollmentsCreated != 2 {
		t.Errorf("enrollments created: got %d", first.EnrollmentsCreated)
	}

	second, err := store.BatchImport(ctx, "org-1", "sess-2", records)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.PlayersCreated != 0 || second.PlayersReused != 2 {
		t.Errorf("re-run must match by external id: created=%d reused=%d", second.PlayersCreated, second.PlayersReused)
	}
	if second.GuardiansCreated != 0 || second.GuardiansReused != 1 {
		t.Errorf("guardian should be reused: created=%d reused=%d", second.GuardiansCreated, second.GuardiansReused)
	}
	if second.EnrollmentsCreated != 0 {
		t.Errorf("same season should not re-enroll, got %d", second.EnrollmentsCreated)
	}
}

func TestDeactivateMember(t *testing.T) {
	store := NewRosterStore(openTestDB(t))
	ctx := context.Background()

	_, err := store.BatchImport(ctx, "org-1", "sess-1", []domain.TransformedRecord{
		{ExternalID: "GAA-9", FirstName: "Tom", LastName: "Ryan", DateOfBirth: "2005-05-05", EnrollmentStatus: "active"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if err := store.DeactivateMember(ctx, "org-1", "GAA-9"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := store.DeactivateMember(ctx, "org-1", "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found for unknown member, got %v", err)
	}
}
