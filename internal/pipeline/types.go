// Package pipeline holds the candidate/stage read model this subsystem
// depends on. Stage changes are the primary operation; everything the
// stagemail package does hangs off them as a side effect.
package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Candidate statuses.
const (
	CandidateActive    = "active"
	CandidateHired     = "hired"
	CandidateRejected  = "rejected"
	CandidateWithdrawn = "withdrawn"
)

// Candidate is one person in the hiring pipeline.
type Candidate struct {
	ID             uuid.UUID `json:"id"`
	OrgID          uuid.UUID `json:"org_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Position       string    `json:"position"`
	CurrentStage   string    `json:"current_stage"`
	Status         string    `json:"status"`
	StageEnteredAt time.Time `json:"stage_entered_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Active reports whether the candidate is still in the running.
func (c *Candidate) Active() bool {
	return c.Status == CandidateActive
}

// FirstName returns the first word of the full name, for email greetings.
func (c *Candidate) FirstName() string {
	name := strings.TrimSpace(c.FullName)
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}
