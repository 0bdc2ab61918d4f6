package services

import (
	"context"
	"testing"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
)

func seededHistory() *fakeHistoryStore {
	base := time.Now().Add(-2 * time.Hour)
	history := &fakeHistoryStore{}
	entries := []*domain.SyncHistoryEntry{
		{
			ConnectorID: "con-1", OrganizationID: "org-1", Outcome: domain.OutcomeCompleted,
			SuccessRate: 1.0, StartedAt: base, CompletedAt: base.Add(time.Minute),
			Stats: domain.SessionStats{TotalRows: 250, PlayersCreated: 40, PlayersUpdated: 10},
		},
		{
			ConnectorID: "con-1", OrganizationID: "org-1", Outcome: domain.OutcomePartial,
			SuccessRate: 0.6, StartedAt: base.Add(10 * time.Minute), CompletedAt: base.Add(13 * time.Minute),
			Stats: domain.SessionStats{TotalRows: 100, PlayersCreated: 5, PlayersUpdated: 55},
		},
		{
			ConnectorID: "con-1", OrganizationID: "org-2", Outcome: domain.OutcomeFailed,
			SuccessRate: 0, StartedAt: base.Add(20 * time.Minute), CompletedAt: base.Add(21 * time.Minute),
			Error: "fetch membership: upstream down",
		},
		{
			ConnectorID: "con-2", OrganizationID: "org-2", Outcome: domain.OutcomeFailed,
			SuccessRate: 0, StartedAt: base.Add(30 * time.Minute), CompletedAt: base.Add(31 * time.Minute),
			Error: "fetch membership: upstream down",
		},
	}
	for _, e := range entries {
		_ = history.AppendHistory(context.Background(), e)
	}
	return history
}

func TestConnectorSummaries(t *testing.T) {
	svc := NewAnalyticsService(seededHistory())

	summaries, err := svc.ConnectorSummaries(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 connectors, got %d", len(summaries))
	}
	top := summaries[0]
	if top.ConnectorID != "con-1" {
		t.Fatalf("busiest connector first, got %s", top.ConnectorID)
	}
	if top.Runs != 3 || top.Completed != 1 || top.Partial != 1 || top.Failed != 1 {
		t.Errorf("outcome counts: %+v", top)
	}
	if top.PlayersCreated != 45 {
		t.Errorf("players created: got %d", top.PlayersCreated)
	}
	// (1.0 + 0.6 + 0) / 3
	if diff := top.AvgSuccessRate - 0.5333; diff > 0.001 || diff < -0.001 {
		t.Errorf("avg success rate: got %v", top.AvgSuccessRate)
	}
	// 250 rows -> 4 calls, 100 -> 2, 0 -> 1
	if top.EstimatedAPICalls != 7 {
		t.Errorf("estimated api calls: got %d", top.EstimatedAPICalls)
	}
}

func TestOrgLeaderboard(t *testing.T) {
	svc := NewAnalyticsService(seededHistory())

	board, err := svc.OrgLeaderboard(context.Background(), time.Now().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 orgs, got %d", len(board))
	}
	if board[0].OrganizationID != "org-1" || board[0].PlayersCreated != 45 {
		t.Errorf("top org: %+v", board[0])
	}
}

func TestCommonErrors(t *testing.T) {
	svc := NewAnalyticsService(seededHistory())

	errs, err := svc.CommonErrors(context.Background(), "con-1", time.Now().Add(-24*time.Hour), 5)
	if err != nil {
		t.Fatalf("common errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 distinct error, got %d", len(errs))
	}
	if errs[0].Message != "fetch membership: upstream down" || errs[0].Count != 1 {
		t.Errorf("error count: %+v", errs[0])
	}
}
