package services

import (
	"context"
	"sort"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
)

// estimatedPageSize approximates how many membership records one upstream
// API call returns, used for the call-volume estimate.
const estimatedPageSize = 100

// ConnectorSummary aggregates the recent runs of one connector.
type ConnectorSummary struct {
	ConnectorID       string  `json:"connectorId"`
	Runs              int     `json:"runs"`
	Completed         int     `json:"completed"`
	Partial           int     `json:"partial"`
	Failed            int     `json:"failed"`
	AvgSuccessRate    float64 `json:"avgSuccessRate"`
	AvgDurationMillis int64   `json:"avgDurationMillis"`
	EstimatedAPICalls int     `json:"estimatedApiCalls"`
	PlayersCreated    int     `json:"playersCreated"`
	PlayersUpdated    int     `json:"playersUpdated"`
}

// OrgActivity is one row of the organization leaderboard.
type OrgActivity struct {
	OrganizationID string `json:"organizationId"`
	Runs           int    `json:"runs"`
	PlayersCreated int    `json:"playersCreated"`
	PlayersUpdated int    `json:"playersUpdated"`
}

// ErrorCount is a recurring failure message with its frequency.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// AnalyticsService is the read surface over sync history.
type AnalyticsService struct {
	history ports.HistoryStore
}

func NewAnalyticsService(history ports.HistoryStore) *AnalyticsService {
	return &AnalyticsService{history: history}
}

// ConnectorSummaries aggregates per-connector activity over the window.
func (s *AnalyticsService) ConnectorSummaries(ctx context.Context, since time.Time) ([]ConnectorSummary, error) {
	entries, err := s.history.ListHistorySince(ctx, since)
	if err != nil {
		return nil, err
	}

	byConnector := make(map[string]*ConnectorSummary)
	durations := make(map[string]time.Duration)
	rates := make(map[string]float64)
	for _, e := range entries {
		summary, ok := byConnector[e.ConnectorID]
		if !ok {
			summary = &ConnectorSummary{ConnectorID: e.ConnectorID}
			byConnector[e.ConnectorID] = summary
		}
		summary.Runs++
		switch e.Outcome {
		case domain.OutcomeCompleted:
			summary.Completed++
		case domain.OutcomePartial:
			summary.Partial++
		case domain.OutcomeFailed:
			summary.Failed++
		}
		summary.PlayersCreated += e.Stats.PlayersCreated
		summary.PlayersUpdated += e.Stats.PlayersUpdated
		summary.EstimatedAPICalls += estimateAPICalls(e.Stats.TotalRows)
		durations[e.ConnectorID] += e.Duration()
		rates[e.ConnectorID] += e.SuccessRate
	}

	out := make([]ConnectorSummary, 0, len(byConnector))
	for id, summary := range byConnector {
		if summary.Runs > 0 {
			summary.AvgSuccessRate = rates[id] / float64(summary.Runs)
			summary.AvgDurationMillis = (durations[id] / time.Duration(summary.Runs)).Milliseconds()
		}
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Runs > out[j].Runs })
	return out, nil
}

// OrgLeaderboard ranks organizations by roster growth over the window.
func (s *AnalyticsService) OrgLeaderboard(ctx context.Context, since time.Time, limit int) ([]OrgActivity, error) {
	entries, err := s.history.ListHistorySince(ctx, since)
	if err != nil {
		return nil, err
	}

	byOrg := make(map[string]*OrgActivity)
	for _, e := range entries {
		activity, ok := byOrg[e.OrganizationID]
		if !ok {
			activity = &OrgActivity{OrganizationID: e.OrganizationID}
			byOrg[e.OrganizationID] = activity
		}
		activity.Runs++
		activity.PlayersCreated += e.Stats.PlayersCreated
		activity.PlayersUpdated += e.Stats.PlayersUpdated
	}

	out := make([]OrgActivity, 0, len(byOrg))
	for _, activity := range byOrg {
		out = append(out, *activity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayersCreated == out[j].PlayersCreated {
			return out[i].OrganizationID < out[j].OrganizationID
		}
		return out[i].PlayersCreated > out[j].PlayersCreated
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CommonErrors surfaces the most frequent failure messages for a connector.
func (s *AnalyticsService) CommonErrors(ctx context.Context, connectorID string, since time.Time, limit int) ([]ErrorCount, error) {
	entries, err := s.history.ListHistoryByConnector(ctx, connectorID, since)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, e := range entries {
		if e.Error != "" {
			counts[e.Error]++
		}
	}

	out := make([]ErrorCount, 0, len(counts))
	for message, count := range counts {
		out = append(out, ErrorCount{Message: message, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Message < out[j].Message
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// History exposes raw history entries for the API layer.
func (s *AnalyticsService) History(ctx context.Context, organizationID, connectorID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	return s.history.ListHistory(ctx, organizationID, connectorID, limit)
}

func estimateAPICalls(totalRows int) int {
	if totalRows <= 0 {
		return 1
	}
	return (totalRows+estimatedPageSize-1)/estimatedPageSize + 1
}
