package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for candidates.
type Store struct {
	db *sql.DB
}

// NewStore creates a new candidate store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetCandidate retrieves a candidate by ID.
func (s *Store) GetCandidate(ctx context.Context, id uuid.UUID) (*Candidate, error) {
	query := `SELECT id, org_id, full_name, email, COALESCE(position, ''), current_stage,
		status, stage_entered_at, created_at, updated_at
		FROM candidates WHERE id = $1`

	c := &Candidate{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.OrgID, &c.FullName, &c.Email,
		&c.Position, &c.CurrentStage, &c.Status, &c.StageEnteredAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// CreateCandidate inserts a new candidate.
func (s *Store) CreateCandidate(ctx context.Context, c *Candidate) error {
	c.ID = uuid.New()
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	c.StageEnteredAt = c.CreatedAt
	if c.Status == "" {
		c.Status = CandidateActive
	}

	query := `INSERT INTO candidates (id, org_id, full_name, email, position, current_stage,
		status, stage_entered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.OrgID, c.FullName, c.Email, c.Position,
		c.CurrentStage, c.Status, c.StageEnteredAt, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateStage moves a candidate to a new stage and returns the stage they
// came from. The row is locked for the swap so the previous stage read is
// consistent with the write.
func (s *Store) UpdateStage(ctx context.Context, id uuid.UUID, toStage string) (string, error) {
	query := `UPDATE candidates c
		SET current_stage = $2, stage_entered_at = NOW(), updated_at = NOW()
		FROM (SELECT id, current_stage AS prev_stage FROM candidates WHERE id = $1 FOR UPDATE) old
		WHERE c.id = old.id
		RETURNING old.prev_stage`

	var prev string
	err := s.db.QueryRowContext(ctx, query, id, toStage).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("candidate %s not found", id)
	}
	return prev, err
}

// UpdateStatus sets a candidate's status (hired, rejected, withdrawn).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("candidate %s not found", id)
	}
	return nil
}

// ListCandidates retrieves an organization's candidates, optionally
// filtered by stage, newest first.
func (s *Store) ListCandidates(ctx context.Context, orgID uuid.UUID, stage string, limit int) ([]*Candidate, error) {
	query := `SELECT id, org_id, full_name, email, COALESCE(position, ''), current_stage,
		status, stage_entered_at, created_at, updated_at
		FROM candidates WHERE org_id = $1`

	args := []interface{}{orgID}
	if stage != "" {
		query += " AND current_stage = $2"
		args = append(args, stage)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c := &Candidate{}
		err := rows.Scan(&c.ID, &c.OrgID, &c.FullName, &c.Email, &c.Position, &c.CurrentStage,
			&c.Status, &c.StageEnteredAt, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
