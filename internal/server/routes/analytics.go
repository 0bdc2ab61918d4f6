package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/services"
	"github.com/rostersync/rostersync/internal/db"
)

const defaultSinceWindow = 30 * 24 * time.Hour

// AnalyticsRoutes exposes sync history and aggregated run statistics.
type AnalyticsRoutes struct {
	analytics *services.AnalyticsService
	database  *db.Database
}

func NewAnalyticsRoutes(analytics *services.AnalyticsService, database *db.Database) *AnalyticsRoutes {
	return &AnalyticsRoutes{analytics: analytics, database: database}
}

// RegisterRoutes registers history and analytics endpoints.
func (r *AnalyticsRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/api/v1/history", r.handleHistory)
	s.GET("/api/v1/analytics/connectors", r.handleConnectorSummaries)
	s.GET("/api/v1/analytics/leaderboard", r.handleLeaderboard)
	s.GET("/api/v1/analytics/connectors/:id/errors", r.handleCommonErrors)
	s.GET("/debug/db/latency", r.handleDBLatency)
}

type historyEntryView struct {
	ID              string              `json:"id"`
	ConnectorID     string              `json:"connectorId"`
	OrganizationID  string              `json:"organizationId"`
	ImportSessionID string              `json:"importSessionId"`
	Trigger         string              `json:"trigger"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     time.Time           `json:"completedAt"`
	DurationMillis  int64               `json:"durationMillis"`
	Status          string              `json:"status"`
	Outcome         string              `json:"outcome"`
	SuccessRate     float64             `json:"successRate"`
	Stats           domain.SessionStats `json:"stats"`
	Error           string              `json:"error,omitempty"`
}

func historyView(entry *domain.SyncHistoryEntry) historyEntryView {
	return historyEntryView{
		ID:              entry.ID,
		ConnectorID:     entry.ConnectorID,
		OrganizationID:  entry.OrganizationID,
		ImportSessionID: entry.ImportSessionID,
		Trigger:         string(entry.Trigger),
		StartedAt:       entry.StartedAt,
		CompletedAt:     entry.CompletedAt,
		DurationMillis:  entry.Duration().Milliseconds(),
		Status:          string(entry.Status),
		Outcome:         string(entry.Outcome),
		SuccessRate:     entry.SuccessRate,
		Stats:           entry.Stats,
		Error:           entry.Error,
	}
}

func (r *AnalyticsRoutes) handleHistory(c echo.Context) error {
	entries, err := r.analytics.History(c.Request().Context(),
		c.QueryParam("organizationId"),
		c.QueryParam("connectorId"),
		queryInt(c, "limit", 50))
	if err != nil {
		return httpError(c, err)
	}
	views := make([]historyEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, historyView(entry))
	}
	return c.JSON(http.StatusOK, views)
}

// querySince parses an RFC3339 "since" parameter, defaulting to a trailing
// thirty-day window.
func querySince(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("since")
	if raw == "" {
		return time.Now().Add(-defaultSinceWindow), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (r *AnalyticsRoutes) handleConnectorSummaries(c echo.Context) error {
	since, err := querySince(c)
	if err != nil {
		return badRequest(c, err)
	}
	summaries, err := r.analytics.ConnectorSummaries(c.Request().Context(), since)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func (r *AnalyticsRoutes) handleLeaderboard(c echo.Context) error {
	since, err := querySince(c)
	if err != nil {
		return badRequest(c, err)
	}
	leaderboard, err := r.analytics.OrgLeaderboard(c.Request().Context(), since, queryInt(c, "limit", 10))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, leaderboard)
}

func (r *AnalyticsRoutes) handleCommonErrors(c echo.Context) error {
	since, err := querySince(c)
	if err != nil {
		return badRequest(c, err)
	}
	counts, err := r.analytics.CommonErrors(c.Request().Context(), c.Param("id"), since, queryInt(c, "limit", 10))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (r *AnalyticsRoutes) handleDBLatency(c echo.Context) error {
	return c.JSON(http.StatusOK, r.database.QueryLatencyStats())
}
