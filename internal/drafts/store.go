// Package drafts persists in-progress wizard snapshots so a visitor can resume
// after the in-memory copy is gone.
package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"portal-onboarding/internal/common/logger"
)

var ErrDraftNotFound = errors.New("DRAFT_NOT_FOUND")

const defaultTable = "application_drafts"

// Draft is one stored wizard snapshot. Data is opaque to the store.
type Draft struct {
	ID        string
	Owner     string
	Step      int
	Submitted bool
	Data      json.RawMessage
	UpdatedAt time.Time
}

// PostgresStore keeps one row per wizard, overwritten on every save.
type PostgresStore struct {
	db     *sql.DB
	table  string
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, table string, log logger.Logger) *PostgresStore {
	if table == "" {
		table = defaultTable
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostgresStore{db: db, table: pq.QuoteIdentifier(table), logger: log}
}

// EnsureSchema creates the drafts table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			step        INTEGER NOT NULL,
			record      JSONB NOT NULL,
			submitted   BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at  TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create drafts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, d *Draft) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, owner, step, record, submitted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			step = EXCLUDED.step,
			record = EXCLUDED.record,
			submitted = EXCLUDED.submitted,
			updated_at = EXCLUDED.updated_at`, s.table),
		d.ID, d.Owner, d.Step, []byte(d.Data), d.Submitted, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save draft %s: %w", d.ID, err)
	}

	s.logger.Debug("Draft saved", map[string]interface{}{
		"draftId": d.ID,
		"step":    d.Step,
	})
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, owner, step, record, submitted, updated_at
		FROM %s WHERE id = $1`, s.table), id)
	return scanDraft(row)
}

// LatestForOwner returns the owner's most recently touched unsubmitted draft.
func (s *PostgresStore) LatestForOwner(ctx context.Context, owner string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, owner, step, record, submitted, updated_at
		FROM %s WHERE owner = $1 AND submitted = FALSE
		ORDER BY updated_at DESC LIMIT 1`, s.table), owner)
	return scanDraft(row)
}

// Reassign moves every draft held by from over to to and returns how many
// moved.
func (s *PostgresStore) Reassign(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET owner = $1 WHERE owner = $2`, s.table), to, from)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reassign drafts: %w", err)
	}
	if n > 0 {
		s.logger.Debug("Drafts reassigned", map[string]interface{}{"count": n})
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}

func scanDraft(row *sql.Row) (*Draft, error) {
	var d Draft
	var data []byte
	err := row.Scan(&d.ID, &d.Owner, &d.Step, &data, &d.Submitted, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	d.Data = json.RawMessage(data)
	return &d, nil
}
