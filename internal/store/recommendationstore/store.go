// Package recommendationstore persists AIRecommendation rows and
// AssessmentInsights (§3). At most one recommendation per (assessment,
// control) may be is_active=true (§8 invariant 4); superseding a
// recommendation links the old row's superseded_by_id instead of deleting it.
package recommendationstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ai_recommendations (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	assessment_id    UUID NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	control_id       UUID NOT NULL,
	content          TEXT NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	superseded_by_id UUID REFERENCES ai_recommendations(id),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_recommendations_one_active
	ON ai_recommendations(assessment_id, control_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS assessment_insights (
	assessment_id UUID PRIMARY KEY REFERENCES assessments(id) ON DELETE CASCADE,
	gaps          TEXT[] NOT NULL DEFAULT '{}',
	roadmap       JSONB DEFAULT '{}',
	narrative     TEXT NOT NULL DEFAULT '',
	per_measure   JSONB DEFAULT '{}',
	stale         BOOLEAN NOT NULL DEFAULT true,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// maxSupersedeChainDepth bounds the cycle guard on SupersededByID: the chain
// is expected to be a handful of revisions deep; anything past this is
// treated as corrupt rather than walked forever (§9).
const maxSupersedeChainDepth = 64

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

// Supersede deactivates the current active recommendation for (assessment,
// control), if any, links it to the new row, and inserts the new row as
// active — all inside one transaction so the "at most one active" invariant
// never observes a gap.
func (s *Store) Supersede(ctx context.Context, assessmentID, controlID uuid.UUID, content string) (*domain.AIRecommendation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var prevID *uuid.UUID
	row := tx.QueryRow(ctx, `
		SELECT id FROM ai_recommendations WHERE assessment_id=$1 AND control_id=$2 AND is_active`,
		assessmentID, controlID)
	var id uuid.UUID
	if err := row.Scan(&id); err == nil {
		prevID = &id
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	if prevID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE ai_recommendations SET is_active=false WHERE id=$1`, *prevID); err != nil {
			return nil, err
		}
	}

	next := &domain.AIRecommendation{AssessmentID: assessmentID, ControlID: controlID, Content: content, IsActive: true}
	if err := tx.QueryRow(ctx, `
		INSERT INTO ai_recommendations (assessment_id, control_id, content, is_active)
		VALUES ($1,$2,$3,true) RETURNING id, created_at`,
		assessmentID, controlID, content).Scan(&next.ID, &next.CreatedAt); err != nil {
		return nil, err
	}

	if prevID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE ai_recommendations SET superseded_by_id=$2 WHERE id=$1`,
			*prevID, next.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) Active(ctx context.Context, assessmentID, controlID uuid.UUID) (*domain.AIRecommendation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, assessment_id, control_id, content, is_active, superseded_by_id, created_at
		FROM ai_recommendations WHERE assessment_id=$1 AND control_id=$2 AND is_active`,
		assessmentID, controlID)
	return scan(row)
}

// Chain walks superseded_by_id forward from rec, oldest to newest, capped at
// maxSupersedeChainDepth to guard against a corrupted cyclic link.
func (s *Store) Chain(ctx context.Context, id uuid.UUID) ([]domain.AIRecommendation, error) {
	var out []domain.AIRecommendation
	cur := &id
	for depth := 0; cur != nil; depth++ {
		if depth >= maxSupersedeChainDepth {
			return nil, apperr.Wrap(apperr.ErrValidation, "superseded_by_id chain exceeds %d links, likely cyclic", maxSupersedeChainDepth)
		}
		row := s.pool.QueryRow(ctx, `
			SELECT id, assessment_id, control_id, content, is_active, superseded_by_id, created_at
			FROM ai_recommendations WHERE id=$1`, *cur)
		rec, err := scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
		cur = rec.SupersededByID
	}
	return out, nil
}

func scan(row pgx.Row) (*domain.AIRecommendation, error) {
	var r domain.AIRecommendation
	if err := row.Scan(&r.ID, &r.AssessmentID, &r.ControlID, &r.Content, &r.IsActive, &r.SupersededByID, &r.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "recommendation not found")
		}
		return nil, err
	}
	return &r, nil
}

// InvalidateInsights marks the cached AssessmentInsights stale, triggered by
// any answer write (§3).
func (s *Store) InvalidateInsights(ctx context.Context, assessmentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assessment_insights (assessment_id, stale) VALUES ($1, true)
		ON CONFLICT (assessment_id) DO UPDATE SET stale = true, updated_at = now()`, assessmentID)
	return err
}

func (s *Store) Insights(ctx context.Context, assessmentID uuid.UUID) (*domain.AssessmentInsights, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT assessment_id, gaps, roadmap, narrative, per_measure, stale, updated_at
		FROM assessment_insights WHERE assessment_id=$1`, assessmentID)
	var in domain.AssessmentInsights
	if err := row.Scan(&in.AssessmentID, &in.Gaps, &in.Roadmap, &in.Narrative, &in.PerMeasure, &in.Stale, &in.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "no insights cached for %s", assessmentID)
		}
		return nil, err
	}
	return &in, nil
}

func (s *Store) PutInsights(ctx context.Context, in *domain.AssessmentInsights) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assessment_insights (assessment_id, gaps, roadmap, narrative, per_measure, stale, updated_at)
		VALUES ($1,$2,$3,$4,$5,false,now())
		ON CONFLICT (assessment_id) DO UPDATE SET
			gaps = EXCLUDED.gaps, roadmap = EXCLUDED.roadmap, narrative = EXCLUDED.narrative,
			per_measure = EXCLUDED.per_measure, stale = false, updated_at = now()`,
		in.AssessmentID, in.Gaps, in.Roadmap, in.Narrative, in.PerMeasure)
	return err
}
