package stagemail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/hireflow/internal/mailer"
	"github.com/ignite/hireflow/internal/pipeline"
	"github.com/ignite/hireflow/internal/pkg/logger"
)

// ReminderScheduler fires due reminders. Structurally a smaller sibling of
// the delivery worker: same polling loop, same claim-once guarantee, but
// the outcome is a nudge email to an operator rather than a candidate.
type ReminderScheduler struct {
	store      *Store
	candidates *pipeline.Store
	transport  mailer.Transport

	fromName  string
	fromEmail string

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewReminderScheduler creates a reminder scheduler.
func NewReminderScheduler(store *Store, candidates *pipeline.Store, transport mailer.Transport,
	fromName, fromEmail string, pollInterval time.Duration) *ReminderScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &ReminderScheduler{
		store:        store,
		candidates:   candidates,
		transport:    transport,
		fromName:     fromName,
		fromEmail:    fromEmail,
		pollInterval: pollInterval,
	}
}

// Start launches the polling goroutine.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.running {
		return
	}
	rs.running = true
	rs.stopCh = make(chan struct{})

	rs.wg.Add(1)
	go rs.run()
	logger.Info("reminder scheduler started", "poll_interval", rs.pollInterval.String())
}

// Stop signals the goroutine and waits for it.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	if !rs.running {
		rs.mu.Unlock()
		return
	}
	rs.running = false
	close(rs.stopCh)
	rs.mu.Unlock()

	rs.wg.Wait()
	logger.Info("reminder scheduler stopped")
}

func (rs *ReminderScheduler) run() {
	defer rs.wg.Done()

	ticker := time.NewTicker(rs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rs.stopCh:
			return
		case <-ticker.C:
			for {
				fired, err := rs.FireOne(context.Background())
				if err != nil {
					logger.Error("reminder processing error", "error", err.Error())
					break
				}
				if !fired {
					break
				}
			}
		}
	}
}

// FireOne claims and delivers at most one due reminder. The claim sets
// sent_at, so a reminder whose nudge email fails to send does not fire
// again; the miss is logged instead of retried.
func (rs *ReminderScheduler) FireOne(ctx context.Context) (bool, error) {
	rem, err := rs.store.ClaimDueReminder(ctx)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	if rem == nil {
		return false, nil
	}

	candidate, err := rs.candidates.GetCandidate(ctx, rem.CandidateID)
	if err != nil {
		logger.Error("reminder candidate lookup failed", "reminder_id", rem.ID.String(), "error", err.Error())
		return true, nil
	}
	if candidate == nil || !candidate.Active() || candidate.CurrentStage != rem.Stage {
		// The condition the reminder was watching no longer holds.
		logger.Info("reminder condition no longer holds, not sending",
			"reminder_id", rem.ID.String(), "candidate_id", rem.CandidateID.String())
		return true, nil
	}

	msg := &mailer.Message{
		To:        rem.Recipient,
		FromName:  rs.fromName,
		FromEmail: rs.fromEmail,
		Subject:   fmt.Sprintf("Reminder: %s is still in %s", candidate.FullName, rem.Stage),
		HTML: fmt.Sprintf("<p>%s (%s) has been in the <strong>%s</strong> stage since %s.</p><p>%s</p>",
			candidate.FullName, candidate.Email, rem.Stage,
			candidate.StageEnteredAt.Format("Jan 2, 2006"), rem.Note),
		Tags: map[string]string{"reminder_id": rem.ID.String()},
	}

	if err := rs.transport.Send(ctx, msg); err != nil {
		logger.Error("reminder send failed", "reminder_id", rem.ID.String(), "error", err.Error())
		return true, nil
	}

	logger.Info("reminder sent", "reminder_id", rem.ID.String(),
		"candidate_id", rem.CandidateID.String(), "recipient", rem.Recipient)
	return true, nil
}
