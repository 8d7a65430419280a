// Package assessmentstore persists Assessment rows and their cached
// score/compliance summaries (§3, §4.11), in the same manual-pgx style as
// chunkstore.
package assessmentstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	organization_id       UUID NOT NULL REFERENCES organizations(id),
	version_id            UUID NOT NULL REFERENCES questionnaire_versions(id),
	security_level        VARCHAR(20) NOT NULL,
	status                VARCHAR(20) NOT NULL DEFAULT 'draft',
	total_controls        INTEGER NOT NULL DEFAULT 0,
	answered_controls     INTEGER NOT NULL DEFAULT 0,
	mandatory_controls    INTEGER NOT NULL DEFAULT 0,
	mandatory_answered    INTEGER NOT NULL DEFAULT 0,
	compliance_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	compliance_status     VARCHAR(20),
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS submeasure_scores (
	assessment_id              UUID NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	submeasure_id              UUID NOT NULL,
	documentation_avg          DOUBLE PRECISION,
	implementation_avg         DOUBLE PRECISION,
	overall_score              DOUBLE PRECISION,
	passes_individual_threshold BOOLEAN NOT NULL DEFAULT false,
	passes_average_threshold   BOOLEAN NOT NULL DEFAULT false,
	passes_overall             BOOLEAN NOT NULL DEFAULT false,
	total_controls             INTEGER NOT NULL DEFAULT 0,
	answered_controls          INTEGER NOT NULL DEFAULT 0,
	mandatory_controls         INTEGER NOT NULL DEFAULT 0,
	mandatory_answered         INTEGER NOT NULL DEFAULT 0,
	failed_controls            TEXT[] NOT NULL DEFAULT '{}',
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (assessment_id, submeasure_id)
);

CREATE TABLE IF NOT EXISTS measure_scores (
	assessment_id      UUID NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	measure_id         UUID NOT NULL,
	documentation_avg  DOUBLE PRECISION,
	implementation_avg DOUBLE PRECISION,
	overall_score      DOUBLE PRECISION,
	passes_compliance  BOOLEAN NOT NULL DEFAULT false,
	total_submeasures  INTEGER NOT NULL DEFAULT 0,
	passed_submeasures INTEGER NOT NULL DEFAULT 0,
	critical_failures  TEXT[] NOT NULL DEFAULT '{}',
	total_controls     INTEGER NOT NULL DEFAULT 0,
	answered_controls  INTEGER NOT NULL DEFAULT 0,
	mandatory_controls INTEGER NOT NULL DEFAULT 0,
	mandatory_answered INTEGER NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (assessment_id, measure_id)
);

CREATE TABLE IF NOT EXISTS compliance_scores (
	assessment_id        UUID PRIMARY KEY REFERENCES assessments(id) ON DELETE CASCADE,
	overall_score        DOUBLE PRECISION,
	compliance_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	passes_compliance    BOOLEAN NOT NULL DEFAULT false,
	total_measures       INTEGER NOT NULL DEFAULT 0,
	passed_measures      INTEGER NOT NULL DEFAULT 0,
	maturity_score       INTEGER NOT NULL DEFAULT 0,
	maturity_threshold   INTEGER NOT NULL DEFAULT 0,
	meets_maturity_trend BOOLEAN NOT NULL DEFAULT false,
	individual_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	average_threshold    DOUBLE PRECISION NOT NULL DEFAULT 0,
	detailed_results     JSONB DEFAULT '{}',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assessments_org ON assessments(organization_id);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
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

func (s *Store) Create(ctx context.Context, a *domain.Assessment) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO assessments (organization_id, version_id, security_level, status)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at`,
		a.OrganizationID, a.VersionID, string(a.SecurityLevel), string(domain.StatusDraft))
	a.Status = domain.StatusDraft
	return row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Assessment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, version_id, security_level, status, total_controls,
		       answered_controls, mandatory_controls, mandatory_answered, compliance_percentage,
		       compliance_status, created_at, updated_at, completed_at
		FROM assessments WHERE id = $1`, id)
	return scanAssessment(row)
}

// GetForUpdate locks the row; callers that recompute and persist scores
// serialize through Postgres rather than a Go-level mutex (§5).
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Assessment, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, organization_id, version_id, security_level, status, total_controls,
		       answered_controls, mandatory_controls, mandatory_answered, compliance_percentage,
		       compliance_status, created_at, updated_at, completed_at
		FROM assessments WHERE id = $1 FOR UPDATE`, id)
	return scanAssessment(row)
}

func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

func scanAssessment(row pgx.Row) (*domain.Assessment, error) {
	var a domain.Assessment
	var level, status string
	var complianceStatus *string
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.VersionID, &level, &status, &a.TotalControls,
		&a.AnsweredControls, &a.MandatoryControls, &a.MandatoryAnswered, &a.CompliancePercentage,
		&complianceStatus, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "assessment not found")
		}
		return nil, err
	}
	a.SecurityLevel = domain.SecurityLevel(level)
	a.Status = domain.AssessmentStatus(status)
	if complianceStatus != nil {
		cs := domain.ComplianceStatus(*complianceStatus)
		a.ComplianceStatus = &cs
	}
	return &a, nil
}

// UpdateStatus persists a state-machine transition (internal/assessment owns
// validating it). completed_at is stamped automatically when the new status
// is StatusCompleted.
func (s *Store) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AssessmentStatus) error {
	exec := func(q string, args ...any) error {
		var err error
		if tx != nil {
			_, err = tx.Exec(ctx, q, args...)
		} else {
			_, err = s.pool.Exec(ctx, q, args...)
		}
		return err
	}
	if status == domain.StatusCompleted {
		return exec(`UPDATE assessments SET status = $2, completed_at = now(), updated_at = now() WHERE id = $1`, id, string(status))
	}
	return exec(`UPDATE assessments SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

// UpdateProgress refreshes the cached answered/mandatory counters shown on
// the Assessment summary.
func (s *Store) UpdateProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, total, answered, mandatory, mandatoryAnswered int) error {
	q := `UPDATE assessments SET total_controls=$2, answered_controls=$3, mandatory_controls=$4, mandatory_answered=$5, updated_at = now() WHERE id = $1`
	if tx != nil {
		_, err := tx.Exec(ctx, q, id, total, answered, mandatory, mandatoryAnswered)
		return err
	}
	_, err := s.pool.Exec(ctx, q, id, total, answered, mandatory, mandatoryAnswered)
	return err
}

// UpdateComplianceSummary writes the cached percentage/status pair onto the
// assessment row after a recompute.
func (s *Store) UpdateComplianceSummary(ctx context.Context, tx pgx.Tx, id uuid.UUID, pct float64, status domain.ComplianceStatus) error {
	q := `UPDATE assessments SET compliance_percentage=$2, compliance_status=$3, updated_at = now() WHERE id = $1`
	if tx != nil {
		_, err := tx.Exec(ctx, q, id, pct, string(status))
		return err
	}
	_, err := s.pool.Exec(ctx, q, id, pct, string(status))
	return err
}

func (s *Store) UpsertSubmeasureScore(ctx context.Context, tx pgx.Tx, sc domain.SubmeasureScore) error {
	q := `
		INSERT INTO submeasure_scores (assessment_id, submeasure_id, documentation_avg, implementation_avg,
			overall_score, passes_individual_threshold, passes_average_threshold, passes_overall,
			total_controls, answered_controls, mandatory_controls, mandatory_answered, failed_controls, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
		ON CONFLICT (assessment_id, submeasure_id) DO UPDATE SET
			documentation_avg = EXCLUDED.documentation_avg,
			implementation_avg = EXCLUDED.implementation_avg,
			overall_score = EXCLUDED.overall_score,
			passes_individual_threshold = EXCLUDED.passes_individual_threshold,
			passes_average_threshold = EXCLUDED.passes_average_threshold,
			passes_overall = EXCLUDED.passes_overall,
			total_controls = EXCLUDED.total_controls,
			answered_controls = EXCLUDED.answered_controls,
			mandatory_controls = EXCLUDED.mandatory_controls,
			mandatory_answered = EXCLUDED.mandatory_answered,
			failed_controls = EXCLUDED.failed_controls,
			updated_at = now()`
	args := []any{sc.AssessmentID, sc.SubmeasureID, sc.DocumentationAvg, sc.ImplementationAvg, sc.OverallScore,
		sc.PassesIndividualThreshold, sc.PassesAverageThreshold, sc.PassesOverall, sc.TotalControls,
		sc.AnsweredControls, sc.MandatoryControls, sc.MandatoryAnswered, sc.FailedControls}
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, q, args...)
	} else {
		_, err = s.pool.Exec(ctx, q, args...)
	}
	return err
}

func (s *Store) UpsertMeasureScore(ctx context.Context, tx pgx.Tx, mc domain.MeasureScore) error {
	q := `
		INSERT INTO measure_scores (assessment_id, measure_id, documentation_avg, implementation_avg,
			overall_score, passes_compliance, total_submeasures, passed_submeasures, critical_failures,
			total_controls, answered_controls, mandatory_controls, mandatory_answered, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
		ON CONFLICT (assessment_id, measure_id) DO UPDATE SET
			documentation_avg = EXCLUDED.documentation_avg,
			implementation_avg = EXCLUDED.implementation_avg,
			overall_score = EXCLUDED.overall_score,
			passes_compliance = EXCLUDED.passes_compliance,
			total_submeasures = EXCLUDED.total_submeasures,
			passed_submeasures = EXCLUDED.passed_submeasures,
			critical_failures = EXCLUDED.critical_failures,
			total_controls = EXCLUDED.total_controls,
			answered_controls = EXCLUDED.answered_controls,
			mandatory_controls = EXCLUDED.mandatory_controls,
			mandatory_answered = EXCLUDED.mandatory_answered,
			updated_at = now()`
	args := []any{mc.AssessmentID, mc.MeasureID, mc.DocumentationAvg, mc.ImplementationAvg, mc.OverallScore,
		mc.PassesCompliance, mc.TotalSubmeasures, mc.PassedSubmeasures, mc.CriticalFailures,
		mc.TotalControls, mc.AnsweredControls, mc.MandatoryControls, mc.MandatoryAnswered}
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, q, args...)
	} else {
		_, err = s.pool.Exec(ctx, q, args...)
	}
	return err
}

func (s *Store) UpsertComplianceScore(ctx context.Context, tx pgx.Tx, cs domain.ComplianceScore) error {
	q := `
		INSERT INTO compliance_scores (assessment_id, overall_score, compliance_percentage, passes_compliance,
			total_measures, passed_measures, maturity_score, maturity_threshold, meets_maturity_trend,
			individual_threshold, average_threshold, detailed_results, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (assessment_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			compliance_percentage = EXCLUDED.compliance_percentage,
			passes_compliance = EXCLUDED.passes_compliance,
			total_measures = EXCLUDED.total_measures,
			passed_measures = EXCLUDED.passed_measures,
			maturity_score = EXCLUDED.maturity_score,
			maturity_threshold = EXCLUDED.maturity_threshold,
			meets_maturity_trend = EXCLUDED.meets_maturity_trend,
			individual_threshold = EXCLUDED.individual_threshold,
			average_threshold = EXCLUDED.average_threshold,
			detailed_results = EXCLUDED.detailed_results,
			updated_at = now()`
	args := []any{cs.AssessmentID, cs.OverallScore, cs.CompliancePercentage, cs.PassesCompliance,
		cs.TotalMeasures, cs.PassedMeasures, cs.MaturityScore, cs.MaturityThreshold, cs.MeetsMaturityTrend,
		cs.IndividualThreshold, cs.AverageThreshold, cs.DetailedResults}
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, q, args...)
	} else {
		_, err = s.pool.Exec(ctx, q, args...)
	}
	return err
}

func (s *Store) ComplianceScore(ctx context.Context, assessmentID uuid.UUID) (*domain.ComplianceScore, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT assessment_id, overall_score, compliance_percentage, passes_compliance, total_measures,
		       passed_measures, maturity_score, maturity_threshold, meets_maturity_trend,
		       individual_threshold, average_threshold, detailed_results, updated_at
		FROM compliance_scores WHERE assessment_id = $1`, assessmentID)
	var cs domain.ComplianceScore
	if err := row.Scan(&cs.AssessmentID, &cs.OverallScore, &cs.CompliancePercentage, &cs.PassesCompliance,
		&cs.TotalMeasures, &cs.PassedMeasures, &cs.MaturityScore, &cs.MaturityThreshold, &cs.MeetsMaturityTrend,
		&cs.IndividualThreshold, &cs.AverageThreshold, &cs.DetailedResults, &cs.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "compliance score not computed yet for %s", assessmentID)
		}
		return nil, err
	}
	return &cs, nil
}
