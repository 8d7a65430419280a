// Package auditstore appends AuditLog rows; rows are never mutated or
// deleted (§8 invariant 5).
package auditstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	assessment_id UUID,
	action        TEXT NOT NULL,
	actor         UUID NOT NULL,
	detail        JSONB DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_assessment ON audit_logs(assessment_id, created_at DESC);
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

// Append writes one immutable entry. tx is optional: pass the caller's
// transaction to make the audit row atomic with the state change it records.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, entry domain.AuditLog) error {
	q := `INSERT INTO audit_logs (assessment_id, action, actor, detail) VALUES ($1,$2,$3,$4)`
	if tx != nil {
		_, err := tx.Exec(ctx, q, entry.AssessmentID, entry.Action, entry.Actor, entry.Detail)
		return err
	}
	_, err := s.pool.Exec(ctx, q, entry.AssessmentID, entry.Action, entry.Actor, entry.Detail)
	return err
}

func (s *Store) ForAssessment(ctx context.Context, assessmentID uuid.UUID) ([]domain.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, assessment_id, action, actor, detail, created_at
		FROM audit_logs WHERE assessment_id = $1 ORDER BY created_at`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.AssessmentID, &a.Action, &a.Actor, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
