package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/app/services"
)

// SyncRoutes exposes manual sync triggers and session lookups.
type SyncRoutes struct {
	orchestrator *services.Orchestrator
	recovery     *services.RecoveryService
	sessions     ports.SessionStore
}

func NewSyncRoutes(orchestrator *services.Orchestrator, recovery *services.RecoveryService, sessions ports.SessionStore) *SyncRoutes {
	return &SyncRoutes{orchestrator: orchestrator, recovery: recovery, sessions: sessions}
}

// RegisterRoutes registers sync endpoints.
func (r *SyncRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/api/v1/connectors/:id/sync", r.handleSync)
	s.POST("/api/v1/connectors/:id/recover", r.handleRecover)
	s.GET("/api/v1/sessions/:id", r.handleGetSession)
}

type syncRequest struct {
	OrganizationID string `json:"organizationId"`
	InitiatedBy    string `json:"initiatedBy"`
}

type syncResultView struct {
	ImportSessionID string              `json:"importSessionId"`
	Outcome         string              `json:"outcome"`
	Status          string              `json:"status"`
	SuccessRate     float64             `json:"successRate"`
	Stats           domain.SessionStats `json:"stats"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     time.Time           `json:"completedAt"`
	Error           string              `json:"error,omitempty"`
}

func syncView(entry *domain.SyncHistoryEntry) syncResultView {
	return syncResultView{
		ImportSessionID: entry.ImportSessionID,
		Outcome:         string(entry.Outcome),
		Status:          string(entry.Status),
		SuccessRate:     entry.SuccessRate,
		Stats:           entry.Stats,
		StartedAt:       entry.StartedAt,
		CompletedAt:     entry.CompletedAt,
		Error:           entry.Error,
	}
}

func (r *SyncRoutes) handleSync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.OrganizationID == "" {
		return badRequest(c, errors.New("organizationId is required"))
	}

	entry, err := r.orchestrator.Sync(c.Request().Context(), c.Param("id"), req.OrganizationID, domain.TriggerManual, req.InitiatedBy)
	if err != nil {
		if entry != nil {
			// The run itself ran and failed; return the recorded result.
			return c.JSON(http.StatusUnprocessableEntity, syncView(entry))
		}
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, syncView(entry))
}

func (r *SyncRoutes) handleRecover(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.OrganizationID == "" {
		return badRequest(c, errors.New("organizationId is required"))
	}

	entry, err := r.recovery.Recover(c.Request().Context(), c.Param("id"), req.OrganizationID, req.InitiatedBy)
	if err != nil {
		if entry != nil {
			return c.JSON(http.StatusUnprocessableEntity, syncView(entry))
		}
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, syncView(entry))
}

type sessionView struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organizationId"`
	InitiatedBy    string              `json:"initiatedBy"`
	Source         string              `json:"source"`
	Status         string              `json:"status"`
	Stats          domain.SessionStats `json:"stats"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func (r *SyncRoutes) handleGetSession(c echo.Context) error {
	session, err := r.sessions.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sessionView{
		ID:             session.ID,
		OrganizationID: session.OrganizationID,
		InitiatedBy:    session.InitiatedBy,
		Source:         session.Source,
		Status:         string(session.Status),
		Stats:          session.Stats,
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
	})
}
