package stagemail

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSettings(t *testing.T) (*SettingsStore, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ss := NewSettingsStore(db, cache, time.Minute)
	return ss, mock, mr, func() {
		cache.Close()
		mr.Close()
		db.Close()
	}
}

func TestSettingsGetLoadsAndCaches(t *testing.T) {
	ss, mock, mr, cleanup := setupSettings(t)
	defer cleanup()

	orgID := uuid.New()
	tplID := uuid.New()
	rows := sqlmock.NewRows([]string{"stage", "enabled", "template_id", "delay_minutes"}).
		AddRow("interview", true, tplID, 30).
		AddRow("offer", false, uuid.New(), 0)
	mock.ExpectQuery("FROM stage_email_settings").WillReturnRows(rows)

	settings, err := ss.Get(context.Background(), orgID)

	require.NoError(t, err)
	assert.Len(t, settings.Rules, 2)
	rule, ok := settings.RuleFor("interview")
	require.True(t, ok)
	assert.Equal(t, tplID, rule.TemplateID)
	assert.Equal(t, 30, rule.DelayMinutes)

	// Second read is served from the cache; no second DB expectation.
	assert.True(t, mr.Exists(settingsKey(orgID)))
	cached, err := ss.Get(context.Background(), orgID)
	require.NoError(t, err)
	assert.Len(t, cached.Rules, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsGetEmptyOrg(t *testing.T) {
	ss, mock, _, cleanup := setupSettings(t)
	defer cleanup()

	mock.ExpectQuery("FROM stage_email_settings").
		WillReturnRows(sqlmock.NewRows([]string{"stage", "enabled", "template_id", "delay_minutes"}))

	settings, err := ss.Get(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Empty(t, settings.Rules)
}

func TestSettingsUpdateInvalidatesCache(t *testing.T) {
	ss, mock, mr, cleanup := setupSettings(t)
	defer cleanup()

	orgID := uuid.New()
	stale, _ := json.Marshal(&Settings{OrgID: orgID, Rules: map[string]StageRule{}})
	mr.Set(settingsKey(orgID), string(stale))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM stage_email_settings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO stage_email_settings").
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ss.Update(context.Background(), orgID, map[string]StageRule{
		"interview": {Enabled: true, TemplateID: uuid.New(), DelayMinutes: 15},
	})

	require.NoError(t, err)
	assert.False(t, mr.Exists(settingsKey(orgID)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsUpdateValidation(t *testing.T) {
	ss, _, _, cleanup := setupSettings(t)
	defer cleanup()

	tests := []struct {
		name  string
		rules map[string]StageRule
	}{
		{"enabled rule without template", map[string]StageRule{
			"interview": {Enabled: true},
		}},
		{"negative delay", map[string]StageRule{
			"interview": {Enabled: true, TemplateID: uuid.New(), DelayMinutes: -5},
		}},
		{"empty stage name", map[string]StageRule{
			"": {Enabled: false},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ss.Update(context.Background(), uuid.New(), tt.rules))
		})
	}
}

func TestSettingsGetWithoutCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ss := NewSettingsStore(db, nil, 0)
	mock.ExpectQuery("FROM stage_email_settings").
		WillReturnRows(sqlmock.NewRows([]string{"stage", "enabled", "template_id", "delay_minutes"}).
			AddRow("screening", true, uuid.New(), 0))

	settings, err := ss.Get(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Len(t, settings.Rules, 1)
}
