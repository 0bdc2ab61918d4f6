package domain

import "time"

// TriggerType distinguishes how a sync run was started. All trigger paths
// converge on the same orchestrator entry point.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerWebhook   TriggerType = "webhook"
)

// SyncOutcome is the business-level classification of a finished run.
// Partial is persisted as a completed session; the true rate stays in the
// statistics so downstream consumers keep seeing two terminal values.
type SyncOutcome string

const (
	OutcomeCompleted SyncOutcome = "completed"
	OutcomePartial   SyncOutcome = "partial"
	OutcomeFailed    SyncOutcome = "failed"
)

// PersistedStatus maps an outcome onto the two-valued terminal session status.
func (o SyncOutcome) PersistedStatus() SessionStatus {
	if o == OutcomeFailed {
		return SessionFailed
	}
	return SessionCompleted
}

// SyncHistoryEntry is an immutable audit record of one sync run, kept
// separate from the mutable import session for analytics and leaderboards.
type SyncHistoryEntry struct {
	ID              string
	ConnectorID     string
	OrganizationID  string
	ImportSessionID string
	Trigger         TriggerType
	StartedAt       time.Time
	CompletedAt     time.Time
	Status          SessionStatus
	Outcome         SyncOutcome
	// SuccessRate is the fraction of valid records created or matched.
	SuccessRate       float64
	Stats             SessionStats
	ConflictsDetected int
	ConflictsResolved int
	Error             string
}

// Duration returns the wall-clock time the run took.
func (e SyncHistoryEntry) Duration() time.Duration {
	if e.CompletedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}
