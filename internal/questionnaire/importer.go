package questionnaire

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

// catalogWriter is the slice of catalogstore.Store the importer needs.
// Grounded on questionnaire_importer_updated.py's _calculate_content_hash /
// _find_existing_version / _create_version flow, rebuilt against the M:N
// schema catalogstore actually persists (see parser.go's package doc).
type catalogWriter interface {
	VersionByHash(ctx context.Context, hash string) (*domain.QuestionnaireVersion, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
	DeactivateAllVersions(ctx context.Context, tx pgx.Tx) error
	CreateVersion(ctx context.Context, tx pgx.Tx, v *domain.QuestionnaireVersion) error
	CreateMeasure(ctx context.Context, tx pgx.Tx, m *domain.Measure) error
	CreateSubmeasure(ctx context.Context, tx pgx.Tx, sm *domain.Submeasure) error
	UpsertControl(ctx context.Context, tx pgx.Tx, c *domain.Control) error
	CreateMapping(ctx context.Context, tx pgx.Tx, m domain.ControlSubmeasureMapping) error
	CreateRequirement(ctx context.Context, tx pgx.Tx, r domain.ControlRequirement) error
}

type auditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, entry domain.AuditLog) error
}

// Importer versions and persists a parsed Questionnaire (§6).
type Importer struct {
	catalog catalogWriter
	audit   auditWriter
}

func NewImporter(catalog catalogWriter, audit auditWriter) *Importer {
	return &Importer{catalog: catalog, audit: audit}
}

// Result reports what Import actually did.
type Result struct {
	Version  domain.QuestionnaireVersion
	Imported bool // false when an identical version already existed (no-op)
}

// ContentHash canonicalizes a Questionnaire (sorted measure/submeasure/
// control/requirement order, independent of sheet row order) and returns its
// sha256 hex digest — the same no-op/reimport key original_source computes
// over its parsed QuestionnaireData JSON.
func ContentHash(q *Questionnaire) string {
	canonical := canonicalize(q)
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalForm is a stable, deterministically-ordered JSON projection of a
// Questionnaire used only for hashing — field order and map iteration never
// leak into the hash.
type canonicalForm struct {
	Measures []canonicalMeasure `json:"measures"`
}

type canonicalMeasure struct {
	Code        string               `json:"code"`
	Name        string               `json:"name"`
	Submeasures []canonicalSubmeasure `json:"submeasures"`
}

type canonicalSubmeasure struct {
	Code     string            `json:"code"`
	Name     string            `json:"name"`
	Controls []canonicalControl `json:"controls"`
}

type canonicalControl struct {
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Requirements []canonicalRequirement `json:"requirements"`
}

type canonicalRequirement struct {
	Level        string   `json:"level"`
	IsMandatory  bool     `json:"is_mandatory"`
	IsApplicable bool     `json:"is_applicable"`
	MinimumScore *float64 `json:"minimum_score,omitempty"`
}

func canonicalize(q *Questionnaire) canonicalForm {
	measures := make([]ParsedMeasure, len(q.Measures))
	copy(measures, q.Measures)
	sort.Slice(measures, func(i, j int) bool { return measures[i].Code < measures[j].Code })

	out := canonicalForm{}
	for _, m := range measures {
		cm := canonicalMeasure{Code: m.Code, Name: m.Name}
		subs := make([]*ParsedSubmeasure, len(m.Submeasures))
		copy(subs, m.Submeasures)
		sort.Slice(subs, func(i, j int) bool { return subs[i].Code < subs[j].Code })

		for _, sm := range subs {
			csm := canonicalSubmeasure{Code: sm.Code, Name: sm.Name}
			refs := make([]ParsedControlRef, len(sm.Controls))
			copy(refs, sm.Controls)
			sort.Slice(refs, func(i, j int) bool { return refs[i].Code < refs[j].Code })

			for _, ref := range refs {
				ctrl := q.Controls[ref.Code]
				cc := canonicalControl{Code: ctrl.Code, Name: ctrl.Name}
				reqs := make([]Requirement, len(ctrl.Requirements))
				copy(reqs, ctrl.Requirements)
				sort.Slice(reqs, func(i, j int) bool { return reqs[i].Level < reqs[j].Level })
				for _, r := range reqs {
					cc.Requirements = append(cc.Requirements, canonicalRequirement{
						Level: string(r.Level), IsMandatory: r.IsMandatory, IsApplicable: r.IsApplicable, MinimumScore: r.MinimumScore,
					})
				}
				csm.Controls = append(csm.Controls, cc)
			}
			cm.Submeasures = append(cm.Submeasures, csm)
		}
		out.Measures = append(out.Measures, cm)
	}
	return out
}

// Import persists a parsed Questionnaire as a new, active QuestionnaireVersion.
// A content-hash match with the current catalog is a no-op unless force is
// set; a hash mismatch always creates a new version and deactivates every
// prior one — in-flight assessments keep referencing the version they were
// created against, since Assessment.VersionID is never mutated post-creation
// (§3, §9 Open Question decision).
func (imp *Importer) Import(ctx context.Context, q *Questionnaire, label string, actor uuid.UUID, force bool) (Result, error) {
	hash := ContentHash(q)

	existing, err := imp.catalog.VersionByHash(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if existing != nil && !force {
		return Result{Version: *existing, Imported: false}, nil
	}

	tx, err := imp.catalog.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx)

	if err := imp.catalog.DeactivateAllVersions(ctx, tx); err != nil {
		return Result{}, err
	}

	version := domain.QuestionnaireVersion{ContentHash: hash, Label: label}
	if err := imp.catalog.CreateVersion(ctx, tx, &version); err != nil {
		return Result{}, err
	}

	controlIDs := make(map[string]uuid.UUID, len(q.Controls))

	for _, m := range q.Measures {
		measure := domain.Measure{VersionID: version.ID, Code: m.Code, Name: m.Name, OrderIndex: m.OrderIndex}
		if err := imp.catalog.CreateMeasure(ctx, tx, &measure); err != nil {
			return Result{}, err
		}

		for _, sm := range m.Submeasures {
			submeasure := domain.Submeasure{MeasureID: measure.ID, Code: sm.Code, Name: sm.Name, OrderIndex: sm.OrderIndex}
			if err := imp.catalog.CreateSubmeasure(ctx, tx, &submeasure); err != nil {
				return Result{}, err
			}

			for _, ref := range sm.Controls {
				controlID, ok := controlIDs[ref.Code]
				if !ok {
					parsed := q.Controls[ref.Code]
					control := domain.Control{Code: parsed.Code, Name: parsed.Name}
					if err := imp.catalog.UpsertControl(ctx, tx, &control); err != nil {
						return Result{}, err
					}
					controlID = control.ID
					controlIDs[ref.Code] = controlID

					for _, req := range parsed.Requirements {
						var threshold *domain.ScoreThreshold
						if req.MinimumScore != nil {
							t := domain.ScoreThreshold(*req.MinimumScore)
							threshold = &t
						}
						if err := imp.catalog.CreateRequirement(ctx, tx, domain.ControlRequirement{
							ControlID: controlID, SubmeasureID: submeasure.ID, Level: req.Level,
							IsMandatory: req.IsMandatory, IsApplicable: req.IsApplicable, MinimumScore: threshold,
						}); err != nil {
							return Result{}, err
						}
					}
				}

				if err := imp.catalog.CreateMapping(ctx, tx, domain.ControlSubmeasureMapping{
					ControlID: controlID, SubmeasureID: submeasure.ID, OrderIndex: ref.OrderIndex,
				}); err != nil {
					return Result{}, err
				}
			}
		}
	}

	if err := imp.audit.Append(ctx, tx, domain.AuditLog{
		Action: "questionnaire_imported",
		Actor:  actor,
		Detail: domain.JSONBag{"content_hash": hash, "label": label, "measures": len(q.Measures)},
	}); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}

	return Result{Version: version, Imported: true}, nil
}
