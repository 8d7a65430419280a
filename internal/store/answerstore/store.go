// Package answerstore persists AssessmentAnswer rows, unique per
// (assessment_id, control_id, submeasure_id) (§3).
package answerstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessment_answers (
	id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	assessment_id        UUID NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	control_id           UUID NOT NULL,
	submeasure_id        UUID NOT NULL,
	documentation_score  SMALLINT,
	implementation_score SMALLINT,
	comments             TEXT NOT NULL DEFAULT '',
	evidence_files       TEXT[] NOT NULL DEFAULT '{}',
	answered_by          UUID NOT NULL,
	ip_address           TEXT NOT NULL DEFAULT '',
	user_agent           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (assessment_id, control_id, submeasure_id)
);

CREATE INDEX IF NOT EXISTS idx_answers_assessment ON assessment_answers(assessment_id);
CREATE INDEX IF NOT EXISTS idx_answers_submeasure ON assessment_answers(assessment_id, submeasure_id);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Upsert writes an answer idempotently keyed by (assessment, control,
// submeasure); a repeat write from the same user overwrites the scores and
// bumps updated_at, it never creates a duplicate row.
func (s *Store) Upsert(ctx context.Context, tx pgx.Tx, a *domain.AssessmentAnswer) error {
	q := `
		INSERT INTO assessment_answers (assessment_id, control_id, submeasure_id, documentation_score,
			implementation_score, comments, evidence_files, answered_by, ip_address, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (assessment_id, control_id, submeasure_id) DO UPDATE SET
			documentation_score = EXCLUDED.documentation_score,
			implementation_score = EXCLUDED.implementation_score,
			comments = EXCLUDED.comments,
			evidence_files = EXCLUDED.evidence_files,
			answered_by = EXCLUDED.answered_by,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			updated_at = now()
		RETURNING id, created_at, updated_at`
	row := tx.QueryRow(ctx, q, a.AssessmentID, a.ControlID, a.SubmeasureID, a.DocumentationScore,
		a.ImplementationScore, a.Comments, a.EvidenceFiles, a.AnsweredBy, a.IPAddress, a.UserAgent)
	return row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (s *Store) Get(ctx context.Context, assessmentID, controlID, submeasureID uuid.UUID) (*domain.AssessmentAnswer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, assessment_id, control_id, submeasure_id, documentation_score, implementation_score,
		       comments, evidence_files, answered_by, ip_address, user_agent, created_at, updated_at
		FROM assessment_answers WHERE assessment_id=$1 AND control_id=$2 AND submeasure_id=$3`,
		assessmentID, controlID, submeasureID)
	return scan(row)
}

// BySubmeasure returns every answer recorded for a submeasure within an
// assessment, the input to internal/scoring's control-score computation.
func (s *Store) BySubmeasure(ctx context.Context, assessmentID, submeasureID uuid.UUID) ([]domain.AssessmentAnswer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, assessment_id, control_id, submeasure_id, documentation_score, implementation_score,
		       comments, evidence_files, answered_by, ip_address, user_agent, created_at, updated_at
		FROM assessment_answers WHERE assessment_id=$1 AND submeasure_id=$2`, assessmentID, submeasureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AssessmentAnswer
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]domain.AssessmentAnswer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, assessment_id, control_id, submeasure_id, documentation_score, implementation_score,
		       comments, evidence_files, answered_by, ip_address, user_agent, created_at, updated_at
		FROM assessment_answers WHERE assessment_id=$1`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AssessmentAnswer
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*domain.AssessmentAnswer, error) {
	var a domain.AssessmentAnswer
	if err := row.Scan(&a.ID, &a.AssessmentID, &a.ControlID, &a.SubmeasureID, &a.DocumentationScore,
		&a.ImplementationScore, &a.Comments, &a.EvidenceFiles, &a.AnsweredBy, &a.IPAddress, &a.UserAgent,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "answer not found")
		}
		return nil, err
	}
	return &a, nil
}
