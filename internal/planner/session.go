package planner

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one planner run. It is passed explicitly to everything
// that needs it; there is no package-level session state.
type Session struct {
	// ID uniquely identifies this planner run.
	ID string
	// StartedAt is when the session began.
	StartedAt time.Time
}

// NewSession creates a Session with a fresh ID.
func NewSession() Session {
	return Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
}
