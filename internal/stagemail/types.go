// Package stagemail implements stage-triggered email automation for the
// hiring pipeline: when a candidate enters a configured stage, a templated
// email is queued with a delay, delivered by a background worker, and
// auditable forever after.
package stagemail

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue row statuses. pending and processing are the live states; at most
// one live row may exist per (candidate, to_stage).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusSkipped    = "skipped"
)

// IsTerminal reports whether a status can no longer change on its own.
// A failed row can still be reset to pending by an operator.
func IsTerminal(status string) bool {
	switch status {
	case StatusSent, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

var (
	// ErrDuplicateLive is returned by Enqueue when a live row already
	// exists for the (candidate, stage) pair. Not an error condition for
	// callers; re-entering a stage must not duplicate a queued email.
	ErrDuplicateLive = errors.New("live queue row already exists for candidate and stage")

	// ErrNotCancellable is returned when a cancel misses because the row
	// is no longer pending (already claimed, or terminal).
	ErrNotCancellable = errors.New("queued email is not pending")

	// ErrNotResettable is returned when a retry reset misses because the
	// row is not in failed state.
	ErrNotResettable = errors.New("queued email is not failed")

	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)

// QueuedEmail is one persisted intent to send a stage-triggered email.
// Rows are never deleted; terminal rows are the audit trail.
type QueuedEmail struct {
	ID           uuid.UUID         `json:"id"`
	OrgID        uuid.UUID         `json:"org_id"`
	CandidateID  uuid.UUID         `json:"candidate_id"`
	ToStage      string            `json:"to_stage"`
	TemplateID   uuid.UUID         `json:"template_id"`
	Variables    map[string]string `json:"variables"`
	Status       string            `json:"status"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Reminder is a time-delayed nudge about a candidate sitting in a stage.
// It fires at most once; sent or cancelled reminders never fire.
type Reminder struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"org_id"`
	CandidateID uuid.UUID  `json:"candidate_id"`
	Stage       string     `json:"stage"`
	Recipient   string     `json:"recipient"`
	Note        string     `json:"note,omitempty"`
	FireAt      time.Time  `json:"fire_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	IsCancelled bool       `json:"is_cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StageRule is the per-stage auto-send configuration.
type StageRule struct {
	Enabled      bool      `json:"enabled"`
	TemplateID   uuid.UUID `json:"template_id"`
	DelayMinutes int       `json:"delay_minutes"`
}

// Settings is an organization's full auto-send configuration, keyed by
// stage name. Read-mostly; written only through the settings-update
// operation, which validates at the boundary.
type Settings struct {
	OrgID uuid.UUID            `json:"org_id"`
	Rules map[string]StageRule `json:"rules"`
}

// RuleFor returns the rule for a stage, if one is configured and enabled.
func (s *Settings) RuleFor(stage string) (StageRule, bool) {
	rule, ok := s.Rules[stage]
	if !ok || !rule.Enabled {
		return StageRule{}, false
	}
	return rule, true
}

// Template is an email template. Subject and Body use {name} / %{name}
// placeholders; Layout, when set, is a Liquid document with a body slot.
type Template struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Layout    string    `json:"layout,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
