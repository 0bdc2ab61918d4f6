package domain

import "time"

// SessionStatus is the persisted lifecycle state of an import session.
// Transitions are monotonic: created -> importing -> completed|failed.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionImporting SessionStatus = "importing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// CanTransition reports whether moving to next preserves monotonicity.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionCreated:
		return next == SessionImporting || next == SessionFailed
	case SessionImporting:
		return next == SessionCompleted || next == SessionFailed
	default:
		return false
	}
}

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SessionStats aggregates one import run. Written exactly once, after the
// import step completes.
type SessionStats struct {
	TotalRows          int
	ValidRows          int
	ErrorRows          int
	DuplicateRows      int
	PlayersCreated     int
	PlayersUpdated     int
	PlayersSkipped     int
	GuardiansCreated   int
	GuardiansLinked    int
	EnrollmentsCreated int
}

// ImportSession is one execution attempt of a sync for a connector and
// organization pair.
type ImportSession struct {
	ID             string
	OrganizationID string
	// InitiatedBy is "system" for automated syncs or a user id.
	InitiatedBy string
	Source      string
	Status      SessionStatus
	Stats       SessionStats
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
