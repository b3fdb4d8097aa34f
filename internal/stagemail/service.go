package stagemail

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/hireflow/internal/pipeline"
	"github.com/ignite/hireflow/internal/pkg/logger"
)

// Service wires the stage-change hook: it is the only entry point the
// pipeline side calls. Everything in here is a side effect of a stage
// transition, so nothing returns an error to the caller; failures are
// logged and the transition stands.
type Service struct {
	store      *Store
	settings   *SettingsStore
	candidates *pipeline.Store

	idleNudgeDays  int
	nudgeRecipient string
}

// NewService creates the stage-change service. idleNudgeDays <= 0
// disables automatic idle reminders; nudgeRecipient is the operator
// address they go to.
func NewService(store *Store, settings *SettingsStore, candidates *pipeline.Store, idleNudgeDays int, nudgeRecipient string) *Service {
	return &Service{
		store:          store,
		settings:       settings,
		candidates:     candidates,
		idleNudgeDays:  idleNudgeDays,
		nudgeRecipient: nudgeRecipient,
	}
}

// OnStageChanged reacts to a candidate moving from fromStage to toStage.
// It cancels queue rows and reminders that targeted other stages, then
// evaluates the auto-send policy for the new stage and queues the email
// and idle reminder it calls for.
func (svc *Service) OnStageChanged(ctx context.Context, candidateID uuid.UUID, fromStage, toStage string) {
	if n, err := svc.store.CancelPendingForCandidate(ctx, candidateID, toStage); err != nil {
		logger.Error("cancel stale queue rows failed", "candidate_id", candidateID.String(), "error", err.Error())
	} else if n > 0 {
		logger.Info("cancelled stale queued emails", "candidate_id", candidateID.String(), "count", n)
	}
	if _, err := svc.store.CancelRemindersForCandidate(ctx, candidateID, toStage); err != nil {
		logger.Error("cancel stale reminders failed", "candidate_id", candidateID.String(), "error", err.Error())
	}

	candidate, err := svc.candidates.GetCandidate(ctx, candidateID)
	if err != nil || candidate == nil {
		logger.Error("stage hook: candidate lookup failed", "candidate_id", candidateID.String())
		return
	}

	settings, err := svc.settings.Get(ctx, candidate.OrgID)
	if err != nil {
		logger.Error("stage hook: settings lookup failed", "org_id", candidate.OrgID.String(), "error", err.Error())
		return
	}

	intent := Evaluate(settings, candidate, toStage, time.Now())
	if intent == nil {
		logger.Debug("no auto-send rule for stage", "candidate_id", candidateID.String(), "to_stage", toStage)
	} else {
		q := &QueuedEmail{
			OrgID:        candidate.OrgID,
			CandidateID:  candidate.ID,
			ToStage:      toStage,
			TemplateID:   intent.TemplateID,
			Variables:    intent.Variables,
			ScheduledFor: intent.ScheduledFor,
		}
		switch err := svc.store.Enqueue(ctx, q); {
		case errors.Is(err, ErrDuplicateLive):
			// Re-entering a stage with a live row already queued. Expected.
			logger.Debug("stage email already queued", "candidate_id", candidateID.String(), "to_stage", toStage)
		case err != nil:
			logger.Error("enqueue stage email failed", "candidate_id", candidateID.String(), "to_stage", toStage, "error", err.Error())
		default:
			logger.Info("queued stage email", "queue_id", q.ID.String(), "candidate_id", candidateID.String(),
				"to_stage", toStage, "scheduled_for", q.ScheduledFor.Format(time.RFC3339))
		}
	}

	svc.scheduleIdleNudge(ctx, candidate, toStage)
}

// OnCandidateClosed reacts to a candidate leaving the pipeline (hired,
// rejected, withdrawn): everything still pending for them is cancelled.
func (svc *Service) OnCandidateClosed(ctx context.Context, candidateID uuid.UUID) {
	if n, err := svc.store.CancelPendingForCandidate(ctx, candidateID, ""); err != nil {
		logger.Error("cancel queue rows on close failed", "candidate_id", candidateID.String(), "error", err.Error())
	} else if n > 0 {
		logger.Info("cancelled queued emails for closed candidate", "candidate_id", candidateID.String(), "count", n)
	}
	if _, err := svc.store.CancelRemindersForCandidate(ctx, candidateID, ""); err != nil {
		logger.Error("cancel reminders on close failed", "candidate_id", candidateID.String(), "error", err.Error())
	}
}

func (svc *Service) scheduleIdleNudge(ctx context.Context, candidate *pipeline.Candidate, stage string) {
	if svc.idleNudgeDays <= 0 || svc.nudgeRecipient == "" {
		return
	}
	rem := &Reminder{
		OrgID:       candidate.OrgID,
		CandidateID: candidate.ID,
		Stage:       stage,
		Recipient:   svc.nudgeRecipient,
		Note:        candidate.FullName + " has been in " + stage + " without movement",
		FireAt:      time.Now().AddDate(0, 0, svc.idleNudgeDays),
	}
	if err := svc.store.CreateReminder(ctx, rem); err != nil {
		logger.Error("schedule idle reminder failed", "candidate_id", candidate.ID.String(), "error", err.Error())
	}
}
