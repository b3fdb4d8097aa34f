package stagemail

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/hireflow/internal/pipeline"
)

func testCandidate() *pipeline.Candidate {
	return &pipeline.Candidate{
		ID:           uuid.New(),
		OrgID:        uuid.New(),
		FullName:     "Ada Lovelace",
		Email:        "ada@example.com",
		Position:     "Backend Engineer",
		CurrentStage: "interview",
		Status:       pipeline.CandidateActive,
	}
}

func TestEvaluate(t *testing.T) {
	tplID := uuid.New()
	settings := &Settings{
		Rules: map[string]StageRule{
			"interview": {Enabled: true, TemplateID: tplID, DelayMinutes: 30},
			"offer":     {Enabled: false, TemplateID: uuid.New()},
		},
	}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	intent := Evaluate(settings, testCandidate(), "interview", now)

	require.NotNil(t, intent)
	assert.Equal(t, tplID, intent.TemplateID)
	assert.Equal(t, now.Add(30*time.Minute), intent.ScheduledFor)
	assert.Equal(t, "Ada Lovelace", intent.Variables["candidate_name"])
	assert.Equal(t, "Ada", intent.Variables["first_name"])
	assert.Equal(t, "interview", intent.Variables["stage"])
}

func TestEvaluateZeroDelay(t *testing.T) {
	settings := &Settings{Rules: map[string]StageRule{
		"screening": {Enabled: true, TemplateID: uuid.New(), DelayMinutes: 0},
	}}
	now := time.Now()

	intent := Evaluate(settings, testCandidate(), "screening", now)

	require.NotNil(t, intent)
	assert.Equal(t, now, intent.ScheduledFor)
}

func TestEvaluateNoAction(t *testing.T) {
	tplID := uuid.New()
	enabled := &Settings{Rules: map[string]StageRule{
		"interview": {Enabled: true, TemplateID: tplID, DelayMinutes: 5},
	}}

	withdrawn := testCandidate()
	withdrawn.Status = pipeline.CandidateWithdrawn

	noEmail := testCandidate()
	noEmail.Email = ""

	tests := []struct {
		name      string
		settings  *Settings
		candidate *pipeline.Candidate
		stage     string
	}{
		{"stage not configured", enabled, testCandidate(), "rejected"},
		{"rule disabled", &Settings{Rules: map[string]StageRule{
			"interview": {Enabled: false, TemplateID: tplID},
		}}, testCandidate(), "interview"},
		{"rule enabled without template", &Settings{Rules: map[string]StageRule{
			"interview": {Enabled: true},
		}}, testCandidate(), "interview"},
		{"candidate not active", enabled, withdrawn, "interview"},
		{"candidate without email", enabled, noEmail, "interview"},
		{"nil settings", nil, testCandidate(), "interview"},
		{"nil candidate", enabled, nil, "interview"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Evaluate(tt.settings, tt.candidate, tt.stage, time.Now()))
		})
	}
}

func TestRuleFor(t *testing.T) {
	settings := &Settings{Rules: map[string]StageRule{
		"on":  {Enabled: true, TemplateID: uuid.New()},
		"off": {Enabled: false, TemplateID: uuid.New()},
	}}

	_, ok := settings.RuleFor("on")
	assert.True(t, ok)
	_, ok = settings.RuleFor("off")
	assert.False(t, ok)
	_, ok = settings.RuleFor("missing")
	assert.False(t, ok)
}
