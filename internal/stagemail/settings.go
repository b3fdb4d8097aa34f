package stagemail

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/hireflow/internal/pkg/logger"
)

// SettingsStore reads and writes per-organization auto-send configuration.
// Settings are read on every stage transition and written rarely, so reads
// go through a short-TTL Redis cache when one is configured; any cache
// error falls back to the database.
type SettingsStore struct {
	db    *sql.DB
	cache *redis.Client
	ttl   time.Duration
}

// NewSettingsStore creates a settings store. cache may be nil.
func NewSettingsStore(db *sql.DB, cache *redis.Client, ttl time.Duration) *SettingsStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SettingsStore{db: db, cache: cache, ttl: ttl}
}

func settingsKey(orgID uuid.UUID) string {
	return "stagemail:settings:" + orgID.String()
}

// Get returns an organization's settings. Organizations with no rows get
// an empty rule set, not an error.
func (ss *SettingsStore) Get(ctx context.Context, orgID uuid.UUID) (*Settings, error) {
	if ss.cache != nil {
		if data, err := ss.cache.Get(ctx, settingsKey(orgID)).Bytes(); err == nil {
			var settings Settings
			if json.Unmarshal(data, &settings) == nil {
				return &settings, nil
			}
		}
	}

	settings, err := ss.load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if ss.cache != nil {
		if data, err := json.Marshal(settings); err == nil {
			if err := ss.cache.Set(ctx, settingsKey(orgID), data, ss.ttl).Err(); err != nil {
				logger.Debug("settings cache set failed", "org_id", orgID.String(), "error", err.Error())
			}
		}
	}
	return settings, nil
}

func (ss *SettingsStore) load(ctx context.Context, orgID uuid.UUID) (*Settings, error) {
	query := `SELECT stage, enabled, template_id, delay_minutes
		FROM stage_email_settings WHERE org_id = $1`

	rows, err := ss.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := &Settings{OrgID: orgID, Rules: map[string]StageRule{}}
	for rows.Next() {
		var stage string
		var rule StageRule
		if err := rows.Scan(&stage, &rule.Enabled, &rule.TemplateID, &rule.DelayMinutes); err != nil {
			return nil, err
		}
		settings.Rules[stage] = rule
	}
	return settings, rows.Err()
}

// Update replaces an organization's rules and invalidates the cache.
// Validation happens here, at the write boundary, so reads can trust the
// stored rows.
func (ss *SettingsStore) Update(ctx context.Context, orgID uuid.UUID, rules map[string]StageRule) error {
	for stage, rule := range rules {
		if stage == "" {
			return fmt.Errorf("empty stage name")
		}
		if rule.DelayMinutes < 0 {
			return fmt.Errorf("stage %q: negative delay", stage)
		}
		if rule.Enabled && rule.TemplateID == uuid.Nil {
			return fmt.Errorf("stage %q: enabled rule requires a template", stage)
		}
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_email_settings WHERE org_id = $1`, orgID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stage_email_settings
		(org_id, stage, enabled, template_id, delay_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for stage, rule := range rules {
		if _, err := stmt.ExecContext(ctx, orgID, stage, rule.Enabled, rule.TemplateID, rule.DelayMinutes); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if ss.cache != nil {
		if err := ss.cache.Del(ctx, settingsKey(orgID)).Err(); err != nil {
			logger.Warn("settings cache invalidation failed", "org_id", orgID.String(), "error", err.Error())
		}
	}
	return nil
}
