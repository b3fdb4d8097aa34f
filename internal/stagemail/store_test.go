package stagemail

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, func() { db.Close() }
}

func TestEnqueue(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO stage_email_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := &QueuedEmail{
		OrgID:        uuid.New(),
		CandidateID:  uuid.New(),
		ToStage:      "interview",
		TemplateID:   uuid.New(),
		Variables:    map[string]string{"first_name": "Ada"},
		ScheduledFor: time.Now().Add(30 * time.Minute),
	}
	err := store.Enqueue(context.Background(), q)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, q.ID)
	assert.Equal(t, StatusPending, q.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueDuplicateLive(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO stage_email_queue").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_stage_email_queue_live"})

	q := &QueuedEmail{
		CandidateID:  uuid.New(),
		ToStage:      "interview",
		TemplateID:   uuid.New(),
		ScheduledFor: time.Now(),
	}
	err := store.Enqueue(context.Background(), q)

	assert.ErrorIs(t, err, ErrDuplicateLive)
}

// Claim's exactly-one-winner guarantee under concurrent workers comes from
// the query shape itself: the inner SELECT takes the row lock with FOR
// UPDATE SKIP LOCKED, and the outer UPDATE re-checks status = 'pending', so
// a racing worker either skips the locked row or matches zero rows. sqlmock
// can only exercise the per-worker outcomes (a claimed row here, the
// loser's empty result in TestClaimEmptyQueue); the interleaving itself is
// enforced by Postgres.
func TestClaim(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	id := uuid.New()
	orgID := uuid.New()
	candID := uuid.New()
	tplID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "org_id", "candidate_id", "to_stage", "template_id",
		"variables", "status", "scheduled_for", "created_at"}).
		AddRow(id, orgID, candID, "offer", tplID, `{"first_name":"Ada"}`, StatusProcessing, now, now)

	mock.ExpectQuery("UPDATE stage_email_queue").WillReturnRows(rows)

	q, err := store.Claim(context.Background())

	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, id, q.ID)
	assert.Equal(t, StatusProcessing, q.Status)
	assert.Equal(t, "Ada", q.Variables["first_name"])
}

func TestClaimEmptyQueue(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE stage_email_queue").WillReturnError(sql.ErrNoRows)

	q, err := store.Claim(context.Background())

	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestFinishRequiresProcessing(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	// Row is not in processing: zero rows affected, caller gets an error
	// instead of silently overwriting another worker's outcome.
	mock.ExpectExec("UPDATE stage_email_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkSent(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestCancelOnlyPending(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{"pending row is cancelled", 1, nil},
		{"claimed row is untouched", 0, ErrNotCancellable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("UPDATE stage_email_queue").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			err := store.Cancel(context.Background(), uuid.New())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResetOnlyFailed(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE stage_email_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Reset(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotResettable)
}

func TestCancelPendingForCandidate(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE stage_email_queue").
		WithArgs(sqlmock.AnyArg(), "offer").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.CancelPendingForCandidate(context.Background(), uuid.New(), "offer")

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClaimDueReminder(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "org_id", "candidate_id", "stage", "recipient",
		"note", "fire_at", "sent_at", "created_at"}).
		AddRow(id, uuid.New(), uuid.New(), "interview", "ops@example.com", "", now, now, now)

	mock.ExpectQuery("UPDATE email_reminders").WillReturnRows(rows)

	rem, err := store.ClaimDueReminder(context.Background())

	require.NoError(t, err)
	require.NotNil(t, rem)
	assert.Equal(t, id, rem.ID)
	require.NotNil(t, rem.SentAt)
}

func TestCancelReminderAlreadyFired(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE email_reminders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CancelReminder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusSent, StatusFailed, StatusCancelled, StatusSkipped} {
		assert.True(t, IsTerminal(status), status)
	}
	for _, status := range []string{StatusPending, StatusProcessing} {
		assert.False(t, IsTerminal(status), status)
	}
}

func TestEnqueueOtherDBError(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO stage_email_queue").
		WillReturnError(errors.New("connection refused"))

	err := store.Enqueue(context.Background(), &QueuedEmail{
		CandidateID: uuid.New(), ToStage: "x", TemplateID: uuid.New(), ScheduledFor: time.Now(),
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateLive)
}
