package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, func() { db.Close() }
}

func TestGetCandidate(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM candidates").WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"id", "org_id", "full_name", "email", "position",
			"current_stage", "status", "stage_entered_at", "created_at", "updated_at"}).
			AddRow(id, uuid.New(), "Ada Lovelace", "ada@example.com", "Engineer",
				"interview", CandidateActive, now, now, now))

	c, err := store.GetCandidate(context.Background(), id)

	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Ada Lovelace", c.FullName)
	assert.True(t, c.Active())
}

func TestGetCandidateNotFound(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("FROM candidates").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, err := store.GetCandidate(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCreateCandidateNormalizesEmail(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO candidates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Candidate{OrgID: uuid.New(), FullName: "Ada Lovelace",
		Email: "  Ada@Example.COM ", CurrentStage: "applied"}
	err := store.CreateCandidate(context.Background(), c)

	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, CandidateActive, c.Status)
	assert.NotEqual(t, uuid.Nil, c.ID)
}

func TestUpdateStageReturnsPrevious(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("UPDATE candidates").
		WithArgs(id, "offer").
		WillReturnRows(sqlmock.NewRows([]string{"prev_stage"}).AddRow("interview"))

	prev, err := store.UpdateStage(context.Background(), id, "offer")

	require.NoError(t, err)
	assert.Equal(t, "interview", prev)
}

func TestUpdateStageMissingCandidate(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE candidates").
		WillReturnRows(sqlmock.NewRows([]string{"prev_stage"}))

	_, err := store.UpdateStage(context.Background(), uuid.New(), "offer")
	assert.Error(t, err)
}

func TestUpdateStatusMissingCandidate(t *testing.T) {
	store, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE candidates").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStatus(context.Background(), uuid.New(), CandidateRejected)
	assert.Error(t, err)
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		full string
		want string
	}{
		{"Ada Lovelace", "Ada"},
		{"Ada", "Ada"},
		{"  Ada Lovelace  ", "Ada"},
		{"", ""},
	}
	for _, tt := range tests {
		c := &Candidate{FullName: tt.full}
		assert.Equal(t, tt.want, c.FirstName())
	}
}
