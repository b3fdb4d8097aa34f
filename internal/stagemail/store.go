package stagemail

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides database operations for the stage-email queue, reminders
// and templates.
type Store struct {
	db *sql.DB
}

// NewStore creates a new stage-email store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

// Enqueue inserts a pending queue row. The partial unique index on
// (candidate_id, to_stage) over live rows enforces the at-most-one-live
// invariant; a violation is reported as ErrDuplicateLive, which callers
// treat as "already queued, nothing to do".
func (s *Store) Enqueue(ctx context.Context, q *QueuedEmail) error {
	q.ID = uuid.New()
	q.CreatedAt = time.Now()
	if q.Status == "" {
		q.Status = StatusPending
	}
	if q.Variables == nil {
		q.Variables = map[string]string{}
	}

	vars, err := json.Marshal(q.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `INSERT INTO stage_email_queue (id, org_id, candidate_id, to_stage, template_id,
		variables, status, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query, q.ID, q.OrgID, q.CandidateID, q.ToStage,
		q.TemplateID, vars, q.Status, q.ScheduledFor, q.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateLive
	}
	return err
}

// Claim atomically takes ownership of one due pending row, moving it to
// processing. Returns nil, nil when nothing is due. Concurrent workers
// racing on the same row get exactly one winner; SKIP LOCKED makes the
// losers move on without blocking.
func (s *Store) Claim(ctx context.Context) (*QueuedEmail, error) {
	query := `
		WITH claimed AS (
			UPDATE stage_email_queue
			SET status = 'processing'
			WHERE id IN (
				SELECT id FROM stage_email_queue
				WHERE status = 'pending' AND scheduled_for <= NOW()
				ORDER BY scheduled_for
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			) AND status = 'pending'
			RETURNING id, org_id, candidate_id, to_stage, template_id, variables::text,
				status, scheduled_for, created_at
		)
		SELECT id, org_id, candidate_id, to_stage, template_id, variables, status, scheduled_for, created_at
		FROM claimed`

	q := &QueuedEmail{}
	var varsJSON string
	err := s.db.QueryRowContext(ctx, query).Scan(&q.ID, &q.OrgID, &q.CandidateID, &q.ToStage,
		&q.TemplateID, &varsJSON, &q.Status, &q.ScheduledFor, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(varsJSON), &q.Variables); err != nil {
		q.Variables = map[string]string{}
	}
	return q, nil
}

// MarkSent finalizes a processing row as sent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	return s.finish(ctx, id, StatusSent, "")
}

// MarkFailed finalizes a processing row as failed, capturing the transport
// error verbatim for operator diagnosis.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.finish(ctx, id, StatusFailed, errMsg)
}

// MarkSkipped finalizes a processing row as skipped: the precondition for
// the send no longer held. Distinct from failed; this is a no-op outcome.
func (s *Store) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	return s.finish(ctx, id, StatusSkipped, reason)
}

func (s *Store) finish(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	query := `UPDATE stage_email_queue
		SET status = $1, error_message = NULLIF($2, ''), processed_at = NOW()
		WHERE id = $3 AND status = 'processing'`

	res, err := s.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue row %s not in processing state", id)
	}
	return nil
}

// Cancel cancels a pending row. Conditional on pending so a cancel can
// never clobber a row a worker has already claimed: an email in flight
// stays in flight.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE stage_email_queue
		SET status = 'cancelled', processed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotCancellable
	}
	return nil
}

// CancelPendingForCandidate cancels every pending row for a candidate
// except those targeting keepStage. Used when a candidate moves on or
// leaves the pipeline; best-effort, returns the number cancelled.
func (s *Store) CancelPendingForCandidate(ctx context.Context, candidateID uuid.UUID, keepStage string) (int64, error) {
	query := `UPDATE stage_email_queue
		SET status = 'cancelled', processed_at = NOW()
		WHERE candidate_id = $1 AND status = 'pending' AND to_stage <> $2`

	res, err := s.db.ExecContext(ctx, query, candidateID, keepStage)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Reset returns a failed row to the claimable pool. This is the operator
// retry: deliberate, never automatic, because a duplicate transactional
// email to a candidate is worse than a late one.
func (s *Store) Reset(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE stage_email_queue
		SET status = 'pending', error_message = NULL, processed_at = NULL, scheduled_for = NOW()
		WHERE id = $1 AND status = 'failed'`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotResettable
	}
	return nil
}

// Get retrieves one queue row.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*QueuedEmail, error) {
	query := `SELECT id, org_id, candidate_id, to_stage, template_id, variables::text,
		status, scheduled_for, processed_at, COALESCE(error_message, ''), created_at
		FROM stage_email_queue WHERE id = $1`

	q := &QueuedEmail{}
	var varsJSON string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&q.ID, &q.OrgID, &q.CandidateID,
		&q.ToStage, &q.TemplateID, &varsJSON, &q.Status, &q.ScheduledFor,
		&q.ProcessedAt, &q.ErrorMessage, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(varsJSON), &q.Variables)
	return q, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status      string
	CandidateID uuid.UUID
	Limit       int
}

// List retrieves queue rows for the operator dashboard, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*QueuedEmail, error) {
	query := `SELECT id, org_id, candidate_id, to_stage, template_id, variables::text,
		status, scheduled_for, processed_at, COALESCE(error_message, ''), created_at
		FROM stage_email_queue WHERE 1=1`

	args := []interface{}{}
	argNum := 1
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, f.Status)
		argNum++
	}
	if f.CandidateID != uuid.Nil {
		query += fmt.Sprintf(" AND candidate_id = $%d", argNum)
		args = append(args, f.CandidateID)
		argNum++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*QueuedEmail
	for rows.Next() {
		q := &QueuedEmail{}
		var varsJSON string
		err := rows.Scan(&q.ID, &q.OrgID, &q.CandidateID, &q.ToStage, &q.TemplateID,
			&varsJSON, &q.Status, &q.ScheduledFor, &q.ProcessedAt, &q.ErrorMessage, &q.CreatedAt)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(varsJSON), &q.Variables)
		items = append(items, q)
	}
	return items, rows.Err()
}

// GetTemplate retrieves an active template by ID.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `SELECT id, org_id, name, subject, body, COALESCE(layout, ''), status, created_at, updated_at
		FROM email_templates WHERE id = $1 AND status = 'active'`

	t := &Template{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.OrgID, &t.Name,
		&t.Subject, &t.Body, &t.Layout, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// CreateTemplate inserts a new template.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = "active"
	}

	query := `INSERT INTO email_templates (id, org_id, name, subject, body, layout, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query, t.ID, t.OrgID, t.Name, t.Subject, t.Body,
		t.Layout, t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

// ListTemplates retrieves an organization's active templates.
func (s *Store) ListTemplates(ctx context.Context, orgID uuid.UUID) ([]*Template, error) {
	query := `SELECT id, org_id, name, subject, body, COALESCE(layout, ''), status, created_at, updated_at
		FROM email_templates WHERE org_id = $1 AND status = 'active' ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.Subject, &t.Body, &t.Layout,
			&t.Status, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// CreateReminder schedules a reminder.
func (s *Store) CreateReminder(ctx context.Context, rem *Reminder) error {
	rem.ID = uuid.New()
	rem.CreatedAt = time.Now()

	query := `INSERT INTO email_reminders (id, org_id, candidate_id, stage, recipient, note,
		fire_at, is_cancelled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`

	_, err := s.db.ExecContext(ctx, query, rem.ID, rem.OrgID, rem.CandidateID, rem.Stage,
		rem.Recipient, rem.Note, rem.FireAt, rem.CreatedAt)
	return err
}

// ClaimDueReminder atomically marks one due reminder as sent and returns
// it. Setting sent_at at claim time is what makes "fires at most once"
// hold under concurrent schedulers. Returns nil, nil when none are due.
func (s *Store) ClaimDueReminder(ctx context.Context) (*Reminder, error) {
	query := `
		WITH claimed AS (
			UPDATE email_reminders
			SET sent_at = NOW()
			WHERE id IN (
				SELECT id FROM email_reminders
				WHERE sent_at IS NULL AND NOT is_cancelled AND fire_at <= NOW()
				ORDER BY fire_at
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			) AND sent_at IS NULL AND NOT is_cancelled
			RETURNING id, org_id, candidate_id, stage, recipient, COALESCE(note, ''), fire_at, sent_at, created_at
		)
		SELECT id, org_id, candidate_id, stage, recipient, note, fire_at, sent_at, created_at
		FROM claimed`

	rem := &Reminder{}
	err := s.db.QueryRowContext(ctx, query).Scan(&rem.ID, &rem.OrgID, &rem.CandidateID,
		&rem.Stage, &rem.Recipient, &rem.Note, &rem.FireAt, &rem.SentAt, &rem.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rem, nil
}

// CancelReminder cancels one unfired reminder.
func (s *Store) CancelReminder(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE email_reminders
		SET is_cancelled = true, cancelled_at = NOW()
		WHERE id = $1 AND sent_at IS NULL AND NOT is_cancelled`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotCancellable
	}
	return nil
}

// CancelRemindersForCandidate cancels every unfired reminder for a
// candidate whose stage no longer matches. Used by the stage-change hook.
func (s *Store) CancelRemindersForCandidate(ctx context.Context, candidateID uuid.UUID, keepStage string) (int64, error) {
	query := `UPDATE email_reminders
		SET is_cancelled = true, cancelled_at = NOW()
		WHERE candidate_id = $1 AND sent_at IS NULL AND NOT is_cancelled AND stage <> $2`

	res, err := s.db.ExecContext(ctx, query, candidateID, keepStage)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListReminders retrieves reminders for a candidate, soonest first.
func (s *Store) ListReminders(ctx context.Context, candidateID uuid.UUID) ([]*Reminder, error) {
	query := `SELECT id, org_id, candidate_id, stage, recipient, COALESCE(note, ''), fire_at,
		sent_at, is_cancelled, cancelled_at, created_at
		FROM email_reminders WHERE candidate_id = $1 ORDER BY fire_at`

	rows, err := s.db.QueryContext(ctx, query, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		rem := &Reminder{}
		err := rows.Scan(&rem.ID, &rem.OrgID, &rem.CandidateID, &rem.Stage, &rem.Recipient,
			&rem.Note, &rem.FireAt, &rem.SentAt, &rem.IsCancelled, &rem.CancelledAt, &rem.CreatedAt)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}
