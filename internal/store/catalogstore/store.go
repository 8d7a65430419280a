// Package catalogstore holds the questionnaire catalog: versions, measures,
// submeasures, controls and their mappings/requirements (§3). Read-mostly —
// writes only happen from internal/questionnaire on import. Grounded on the
// same manual-pgx style as chunkstore; no separate teacher file covers this
// table group directly, so the schema shape follows original_source's
// SQLAlchemy models (backend/app/models/questionnaire.py in original_source).
package catalogstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questionnaire_versions (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	content_hash TEXT NOT NULL UNIQUE,
	active       BOOLEAN NOT NULL DEFAULT false,
	label        TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS measures (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	version_id  UUID NOT NULL REFERENCES questionnaire_versions(id) ON DELETE CASCADE,
	code        TEXT NOT NULL,
	name        TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	UNIQUE(version_id, code)
);

CREATE TABLE IF NOT EXISTS submeasures (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	measure_id  UUID NOT NULL REFERENCES measures(id) ON DELETE CASCADE,
	code        TEXT NOT NULL,
	name        TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	UNIQUE(measure_id, code)
);

CREATE TABLE IF NOT EXISTS controls (
	id   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS control_submeasure_mappings (
	control_id    UUID NOT NULL REFERENCES controls(id) ON DELETE CASCADE,
	submeasure_id UUID NOT NULL REFERENCES submeasures(id) ON DELETE CASCADE,
	order_index   INTEGER NOT NULL,
	PRIMARY KEY (control_id, submeasure_id)
);

CREATE TABLE IF NOT EXISTS control_requirements (
	control_id    UUID NOT NULL REFERENCES controls(id) ON DELETE CASCADE,
	submeasure_id UUID NOT NULL REFERENCES submeasures(id) ON DELETE CASCADE,
	level         VARCHAR(20) NOT NULL,
	is_mandatory  BOOLEAN NOT NULL DEFAULT false,
	is_applicable BOOLEAN NOT NULL DEFAULT true,
	minimum_score NUMERIC(3,1),
	PRIMARY KEY (control_id, submeasure_id, level)
);
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

func (s *Store) ActiveVersion(ctx context.Context) (*domain.QuestionnaireVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, content_hash, active, label, created_at
		FROM questionnaire_versions WHERE active LIMIT 1`)
	var v domain.QuestionnaireVersion
	if err := row.Scan(&v.ID, &v.ContentHash, &v.Active, &v.Label, &v.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "no active questionnaire version")
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) VersionByHash(ctx context.Context, hash string) (*domain.QuestionnaireVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, content_hash, active, label, created_at
		FROM questionnaire_versions WHERE content_hash = $1`, hash)
	var v domain.QuestionnaireVersion
	if err := row.Scan(&v.ID, &v.ContentHash, &v.Active, &v.Label, &v.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// MeasuresForVersion returns every measure in catalog order.
func (s *Store) MeasuresForVersion(ctx context.Context, versionID uuid.UUID) ([]domain.Measure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, version_id, code, name, order_index
		FROM measures WHERE version_id = $1 ORDER BY order_index`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Measure
	for rows.Next() {
		var m domain.Measure
		if err := rows.Scan(&m.ID, &m.VersionID, &m.Code, &m.Name, &m.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SubmeasuresForMeasure(ctx context.Context, measureID uuid.UUID) ([]domain.Submeasure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, measure_id, code, name, order_index
		FROM submeasures WHERE measure_id = $1 ORDER BY order_index`, measureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Submeasure
	for rows.Next() {
		var sm domain.Submeasure
		if err := rows.Scan(&sm.ID, &sm.MeasureID, &sm.Code, &sm.Name, &sm.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// RequirementsForSubmeasure returns the (control, requirement) rows
// applicable to a submeasure at a given security level, joined with the
// control's mapping order.
func (s *Store) RequirementsForSubmeasure(ctx context.Context, submeasureID uuid.UUID, level domain.SecurityLevel) ([]domain.ControlRequirement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr.control_id, cr.submeasure_id, cr.level, cr.is_mandatory, cr.is_applicable, cr.minimum_score
		FROM control_requirements cr
		JOIN control_submeasure_mappings m ON m.control_id = cr.control_id AND m.submeasure_id = cr.submeasure_id
		WHERE cr.submeasure_id = $1 AND cr.level = $2 AND cr.is_applicable
		ORDER BY m.order_index`, submeasureID, string(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ControlRequirement
	for rows.Next() {
		var r domain.ControlRequirement
		var level string
		var minScore *float64
		if err := rows.Scan(&r.ControlID, &r.SubmeasureID, &level, &r.IsMandatory, &r.IsApplicable, &minScore); err != nil {
			return nil, err
		}
		r.Level = domain.SecurityLevel(level)
		if minScore != nil {
			t := domain.ScoreThreshold(*minScore)
			r.MinimumScore = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DistinctControlCountsForMeasure implements the Python original's
// _get_measure_distinct_control_counts: a control mapped into several
// submeasures of the same measure must be counted once at the measure level,
// not once per submeasure the way SubmeasureResult's own counts are. Same
// total/answered/mandatory/mandatory_answered shape as CompletionStats,
// scoped down from a whole questionnaire version to a single measure.
func (s *Store) DistinctControlCountsForMeasure(ctx context.Context, assessmentID, measureID uuid.UUID, level domain.SecurityLevel) (total, answered, mandatory, mandatoryAnswered int, err error) {
	row := s.pool.QueryRow(ctx, `
		WITH total AS (
			SELECT COUNT(DISTINCT cr.control_id) AS n,
			       COUNT(DISTINCT cr.control_id) FILTER (WHERE cr.is_mandatory) AS mandatory_n
			FROM control_requirements cr
			JOIN control_submeasure_mappings m ON m.control_id = cr.control_id AND m.submeasure_id = cr.submeasure_id
			JOIN submeasures sm ON sm.id = cr.submeasure_id
			WHERE sm.measure_id = $1 AND cr.level = $2 AND cr.is_applicable
		),
		answered AS (
			SELECT COUNT(DISTINCT aa.control_id) AS n
			FROM assessment_answers aa
			JOIN submeasures sm ON sm.id = aa.submeasure_id
			WHERE aa.assessment_id = $3 AND sm.measure_id = $1
		),
		mandatory_answered AS (
			SELECT COUNT(DISTINCT aa.control_id) AS n
			FROM assessment_answers aa
			JOIN control_requirements cr
			       ON cr.control_id = aa.control_id AND cr.submeasure_id = aa.submeasure_id AND cr.level = $2
			JOIN submeasures sm ON sm.id = aa.submeasure_id
			WHERE aa.assessment_id = $3 AND sm.measure_id = $1 AND cr.is_mandatory
		)
		SELECT total.n, answered.n, total.mandatory_n, mandatory_answered.n
		FROM total, answered, mandatory_answered`, measureID, string(level), assessmentID)
	err = row.Scan(&total, &answered, &mandatory, &mandatoryAnswered)
	return
}

// MappedControl is a control mapped into a submeasure with its security-level
// requirement row left-joined in. Defaults to is_mandatory=false,
// is_applicable=true when no requirement row exists for (control, submeasure,
// level) — the same fallback calculate_control_score applies when a mapping
// has no matching row in control_requirements.
type MappedControl struct {
	ControlID    uuid.UUID
	ControlCode  string
	IsMandatory  bool
	IsApplicable bool
	MinimumScore *float64
}

// ControlsForSubmeasure returns every control mapped into a submeasure, in
// mapping order, regardless of whether it has a requirement row — scoring
// then filters to IsApplicable itself, mirroring the unconditional mapping
// walk in calculate_submeasure_compliance.
func (s *Store) ControlsForSubmeasure(ctx context.Context, submeasureID uuid.UUID, level domain.SecurityLevel) ([]MappedControl, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.code,
		       COALESCE(cr.is_mandatory, false),
		       COALESCE(cr.is_applicable, true),
		       cr.minimum_score
		FROM control_submeasure_mappings m
		JOIN controls c ON c.id = m.control_id
		LEFT JOIN control_requirements cr
		       ON cr.control_id = m.control_id AND cr.submeasure_id = m.submeasure_id AND cr.level = $2
		WHERE m.submeasure_id = $1
		ORDER BY m.order_index`, submeasureID, string(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MappedControl
	for rows.Next() {
		var mc MappedControl
		if err := rows.Scan(&mc.ControlID, &mc.ControlCode, &mc.IsMandatory, &mc.IsApplicable, &mc.MinimumScore); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// CompletionStats computes assessment-wide distinct control counts across an
// entire questionnaire version — the same DISTINCT-through-the-mapping-join
// shape as DistinctControlCountsForMeasure, widened from one measure to the
// whole catalog, the way the original's completion-stats repository query
// widens the same join.
func (s *Store) CompletionStats(ctx context.Context, versionID, assessmentID uuid.UUID, level domain.SecurityLevel) (total, answered, mandatory, mandatoryAnswered int, err error) {
	row := s.pool.QueryRow(ctx, `
		WITH total AS (
			SELECT COUNT(DISTINCT cr.control_id) AS n,
			       COUNT(DISTINCT cr.control_id) FILTER (WHERE cr.is_mandatory) AS mandatory_n
			FROM control_requirements cr
			JOIN control_submeasure_mappings m ON m.control_id = cr.control_id AND m.submeasure_id = cr.submeasure_id
			JOIN submeasures sm ON sm.id = cr.submeasure_id
			JOIN measures me ON me.id = sm.measure_id
			WHERE me.version_id = $1 AND cr.level = $2 AND cr.is_applicable
		),
		answered AS (
			SELECT COUNT(DISTINCT aa.control_id) AS n
			FROM assessment_answers aa
			JOIN submeasures sm ON sm.id = aa.submeasure_id
			JOIN measures me ON me.id = sm.measure_id
			WHERE aa.assessment_id = $3 AND me.version_id = $1
		),
		mandatory_answered AS (
			SELECT COUNT(DISTINCT aa.control_id) AS n
			FROM assessment_answers aa
			JOIN control_requirements cr
			       ON cr.control_id = aa.control_id AND cr.submeasure_id = aa.submeasure_id AND cr.level = $2
			JOIN submeasures sm ON sm.id = aa.submeasure_id
			JOIN measures me ON me.id = sm.measure_id
			WHERE aa.assessment_id = $3 AND me.version_id = $1 AND cr.is_mandatory
		)
		SELECT total.n, answered.n, total.mandatory_n, mandatory_answered.n
		FROM total, answered, mandatory_answered`, versionID, string(level), assessmentID)
	err = row.Scan(&total, &answered, &mandatory, &mandatoryAnswered)
	return
}

// MappingExists reports whether (control, submeasure) has a
// ControlSubmeasureMapping row — the only path from a control to a
// submeasure context (§3). internal/assessment checks this before an answer
// write is allowed to reach answerstore.Upsert.
func (s *Store) MappingExists(ctx context.Context, controlID, submeasureID uuid.UUID) (bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM control_submeasure_mappings WHERE control_id = $1 AND submeasure_id = $2)`,
		controlID, submeasureID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

func (s *Store) Control(ctx context.Context, id uuid.UUID) (*domain.Control, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, code, name FROM controls WHERE id = $1`, id)
	var c domain.Control
	if err := row.Scan(&c.ID, &c.Code, &c.Name); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "control %s", id)
		}
		return nil, err
	}
	return &c, nil
}

// BeginTx starts the transaction internal/questionnaire wraps a whole import
// in: a reimport that fails partway must not leave a half-written version
// behind.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// DeactivateAllVersions flips every questionnaire_versions row to inactive;
// the importer calls this immediately before activating a freshly inserted
// version, so exactly one version is ever active (§3).
func (s *Store) DeactivateAllVersions(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `UPDATE questionnaire_versions SET active = false WHERE active`)
	return err
}

// CreateVersion inserts a new questionnaire_versions row, active from the
// moment it's created (the caller deactivates the previous one first, inside
// the same transaction).
func (s *Store) CreateVersion(ctx context.Context, tx pgx.Tx, v *domain.QuestionnaireVersion) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO questionnaire_versions (content_hash, active, label)
		VALUES ($1, true, $2) RETURNING id, created_at`, v.ContentHash, v.Label)
	v.Active = true
	return row.Scan(&v.ID, &v.CreatedAt)
}

// CreateMeasure inserts one measure row under versionID.
func (s *Store) CreateMeasure(ctx context.Context, tx pgx.Tx, m *domain.Measure) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO measures (version_id, code, name, order_index) VALUES ($1,$2,$3,$4)
		RETURNING id`, m.VersionID, m.Code, m.Name, m.OrderIndex)
	return row.Scan(&m.ID)
}

// CreateSubmeasure inserts one submeasure row under measureID.
func (s *Store) CreateSubmeasure(ctx context.Context, tx pgx.Tx, sm *domain.Submeasure) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO submeasures (measure_id, code, name, order_index) VALUES ($1,$2,$3,$4)
		RETURNING id`, sm.MeasureID, sm.Code, sm.Name, sm.OrderIndex)
	return row.Scan(&sm.ID)
}

// UpsertControl get-or-creates a control by its globally unique code — the
// same control encountered under several submeasures in the spreadsheet
// resolves to one row, which is what makes the M:N mapping below possible
// (§3: "mapping is the only path from a control to its submeasure context").
func (s *Store) UpsertControl(ctx context.Context, tx pgx.Tx, c *domain.Control) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO controls (code, name) VALUES ($1,$2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, c.Code, c.Name)
	return row.Scan(&c.ID)
}

// CreateMapping links a control into a submeasure at order_index, idempotent
// within one import (a control appearing twice for the same submeasure in
// the spreadsheet collapses to one edge).
func (s *Store) CreateMapping(ctx context.Context, tx pgx.Tx, m domain.ControlSubmeasureMapping) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO control_submeasure_mappings (control_id, submeasure_id, order_index)
		VALUES ($1,$2,$3) ON CONFLICT (control_id, submeasure_id) DO UPDATE SET order_index = EXCLUDED.order_index`,
		m.ControlID, m.SubmeasureID, m.OrderIndex)
	return err
}

// CreateRequirement writes the per-(control, submeasure, level) applicability
// record; one row per level the spreadsheet declares an obligation flag for.
func (s *Store) CreateRequirement(ctx context.Context, tx pgx.Tx, r domain.ControlRequirement) error {
	var minScore *float64
	if r.MinimumScore != nil {
		v := float64(*r.MinimumScore)
		minScore = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO control_requirements (control_id, submeasure_id, level, is_mandatory, is_applicable, minimum_score)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (control_id, submeasure_id, level) DO UPDATE SET
			is_mandatory = EXCLUDED.is_mandatory, is_applicable = EXCLUDED.is_applicable, minimum_score = EXCLUDED.minimum_score`,
		r.ControlID, r.SubmeasureID, string(r.Level), r.IsMandatory, r.IsApplicable, minScore)
	return err
}
