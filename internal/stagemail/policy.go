package stagemail

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignite/hireflow/internal/pipeline"
)

// QueueIntent is the policy evaluator's decision to send: which template,
// when, and the variable snapshot captured at queue time. Variables are
// frozen here so the send renders the same even if the candidate record
// changes before the scheduled time.
type QueueIntent struct {
	TemplateID   uuid.UUID
	ScheduledFor time.Time
	Variables    map[string]string
}

// Evaluate decides whether entering newStage should queue an email for
// the candidate. Returns nil when no rule applies; misconfiguration is
// the caller's problem to log, never an error that blocks the stage
// change itself.
func Evaluate(settings *Settings, candidate *pipeline.Candidate, newStage string, now time.Time) *QueueIntent {
	if settings == nil || candidate == nil || !candidate.Active() {
		return nil
	}
	rule, ok := settings.RuleFor(newStage)
	if !ok {
		return nil
	}
	if rule.TemplateID == uuid.Nil || candidate.Email == "" {
		return nil
	}

	return &QueueIntent{
		TemplateID:   rule.TemplateID,
		ScheduledFor: now.Add(time.Duration(rule.DelayMinutes) * time.Minute),
		Variables:    snapshotVariables(candidate, newStage),
	}
}

// snapshotVariables builds the variable map a stage email can reference.
func snapshotVariables(c *pipeline.Candidate, stage string) map[string]string {
	return map[string]string{
		"candidate_name":  c.FullName,
		"first_name":      c.FirstName(),
		"candidate_email": c.Email,
		"position":        c.Position,
		"stage":           stage,
	}
}
