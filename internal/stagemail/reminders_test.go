package stagemail

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/hireflow/internal/pipeline"
)

func setupScheduler(t *testing.T, transport *fakeTransport) (*ReminderScheduler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	rs := NewReminderScheduler(NewStore(db), pipeline.NewStore(db), transport,
		"HireFlow", "jobs@example.com", time.Second)
	return rs, mock, func() { db.Close() }
}

func expectReminderClaim(mock sqlmock.Sqlmock, rem *Reminder) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "org_id", "candidate_id", "stage", "recipient",
		"note", "fire_at", "sent_at", "created_at"}).
		AddRow(rem.ID, rem.OrgID, rem.CandidateID, rem.Stage, rem.Recipient, rem.Note, now, now, now)
	mock.ExpectQuery("UPDATE email_reminders").WillReturnRows(rows)
}

func TestFireOneSendsNudge(t *testing.T) {
	transport := &fakeTransport{}
	rs, mock, cleanup := setupScheduler(t, transport)
	defer cleanup()

	rem := &Reminder{ID: uuid.New(), OrgID: uuid.New(), CandidateID: uuid.New(),
		Stage: "interview", Recipient: "ops@example.com", Note: "follow up"}
	c := &pipeline.Candidate{ID: rem.CandidateID, OrgID: rem.OrgID,
		FullName: "Ada Lovelace", Email: "ada@example.com",
		CurrentStage: "interview", Status: pipeline.CandidateActive}

	expectReminderClaim(mock, rem)
	now := time.Now()
	mock.ExpectQuery("FROM candidates").WillReturnRows(
		sqlmock.NewRows([]string{"id", "org_id", "full_name", "email", "position",
			"current_stage", "status", "stage_entered_at", "created_at", "updated_at"}).
			AddRow(c.ID, c.OrgID, c.FullName, c.Email, "", c.CurrentStage, c.Status, now, now, now))

	fired, err := rs.FireOne(context.Background())

	require.NoError(t, err)
	assert.True(t, fired)
	require.Len(t, transport.sent, 1)
	msg := transport.sent[0]
	assert.Equal(t, "ops@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Ada Lovelace")
	assert.Contains(t, msg.Subject, "interview")
}

func TestFireOneNothingDue(t *testing.T) {
	rs, mock, cleanup := setupScheduler(t, &fakeTransport{})
	defer cleanup()

	mock.ExpectQuery("UPDATE email_reminders").WillReturnError(sql.ErrNoRows)

	fired, err := rs.FireOne(context.Background())

	require.NoError(t, err)
	assert.False(t, fired)
}

func TestFireOneConditionNoLongerHolds(t *testing.T) {
	transport := &fakeTransport{}
	rs, mock, cleanup := setupScheduler(t, transport)
	defer cleanup()

	rem := &Reminder{ID: uuid.New(), OrgID: uuid.New(), CandidateID: uuid.New(),
		Stage: "interview", Recipient: "ops@example.com"}

	expectReminderClaim(mock, rem)
	now := time.Now()
	mock.ExpectQuery("FROM candidates").WillReturnRows(
		sqlmock.NewRows([]string{"id", "org_id", "full_name", "email", "position",
			"current_stage", "status", "stage_entered_at", "created_at", "updated_at"}).
			AddRow(rem.CandidateID, rem.OrgID, "Ada Lovelace", "ada@example.com", "",
				"offer", pipeline.CandidateActive, now, now, now))

	// Candidate moved on: the reminder is consumed but nothing is sent.
	fired, err := rs.FireOne(context.Background())

	require.NoError(t, err)
	assert.True(t, fired)
	assert.Empty(t, transport.sent)
}

func TestSchedulerStartStop(t *testing.T) {
	rs, _, cleanup := setupScheduler(t, &fakeTransport{})
	defer cleanup()

	rs.Start()
	rs.Start()

	rs.mu.Lock()
	running := rs.running
	rs.mu.Unlock()
	assert.True(t, running)

	rs.Stop()

	rs.mu.Lock()
	running = rs.running
	rs.mu.Unlock()
	assert.False(t, running)
}
