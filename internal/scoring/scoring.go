// Package scoring implements the ZKS/NIS2 compliance scoring methodology
// (C10): control score K=(D+I)/2, submeasure dual-condition pass, measure
// pass iff every submeasure with at least one answered control passes,
// overall compliance and
// maturity trend. Ported from compliance_scoring.py's ComplianceScoringService,
// computed internally in shopspring/decimal with half-up rounding so results
// are byte-identical to the original regardless of float64 accumulation
// order.
package scoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/answerstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/assessmentstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/catalogstore"
)

// levelThresholds holds Pi (individual) and T (average) per security level.
type levelThresholds struct {
	Individual decimal.Decimal
	Average    decimal.Decimal
}

// Thresholds mirrors ComplianceScoringService.THRESHOLDS verbatim.
var Thresholds = map[domain.SecurityLevel]levelThresholds{
	domain.LevelOsnovna:  {Individual: decimal.NewFromFloat(2.0), Average: decimal.NewFromFloat(2.5)},
	domain.LevelSrednja:  {Individual: decimal.NewFromFloat(2.5), Average: decimal.NewFromFloat(3.0)},
	domain.LevelNapredna: {Individual: decimal.NewFromFloat(3.0), Average: decimal.NewFromFloat(3.5)},
}

// MaturityThresholds mirrors ComplianceScoringService.MATURITY_THRESHOLDS: the
// minimum count of passed submeasures (summed across all measures) a level
// expects to see before it's considered a maturing, not just compliant,
// assessment.
var MaturityThresholds = map[domain.SecurityLevel]int{
	domain.LevelOsnovna:  109,
	domain.LevelSrednja:  58,
	domain.LevelNapredna: 15,
}

func thresholdsFor(level domain.SecurityLevel) (levelThresholds, error) {
	t, ok := Thresholds[level]
	if !ok {
		return levelThresholds{}, fmt.Errorf("scoring: invalid security level %q", level)
	}
	return t, nil
}

func quant(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// controlScore is the per-control computation within one submeasure context.
type controlScore struct {
	ControlID           uuid.UUID
	ControlCode         string
	DocumentationScore  *int
	ImplementationScore *int
	OverallScore        *decimal.Decimal
	MinimumRequired     *decimal.Decimal
	IsMandatory         bool
	IsApplicable        bool
	PassesThreshold     bool
	HasAnswer           bool
}

// SubmeasureResult is the dual-condition-checked compliance of one submeasure.
type SubmeasureResult struct {
	SubmeasureID              uuid.UUID
	DocumentationAvg          *decimal.Decimal
	ImplementationAvg         *decimal.Decimal
	OverallScore              *decimal.Decimal
	PassesIndividualThreshold bool
	PassesAverageThreshold    bool
	PassesOverall             bool
	TotalControls             int
	AnsweredControls          int
	MandatoryControls         int
	MandatoryAnswered         int
	FailedControls            []string

	controls []controlScore
}

// MeasureResult aggregates its submeasures; it passes only if every
// submeasure with at least one answered control also passes.
type MeasureResult struct {
	MeasureID         uuid.UUID
	DocumentationAvg  *decimal.Decimal
	ImplementationAvg *decimal.Decimal
	OverallScore      *decimal.Decimal
	PassesCompliance  bool
	TotalSubmeasures  int
	PassedSubmeasures int
	CriticalFailures  []string
	TotalControls     int
	AnsweredControls  int
	MandatoryControls int
	MandatoryAnswered int

	Submeasures []SubmeasureResult
}

// OverallResult is the assessment-wide rollup, U = Σ(Mi)/n.
type OverallResult struct {
	AssessmentID         uuid.UUID
	SecurityLevel        domain.SecurityLevel
	Measures             []MeasureResult
	OverallScore         *decimal.Decimal
	CompliancePercentage decimal.Decimal
	PassesCompliance     bool
	TotalMeasures        int
	PassedMeasures       int
	MaturityScore        int
	MaturityThreshold    int
	MeetsMaturityTrend   bool
	IndividualThreshold  decimal.Decimal
	AverageThreshold     decimal.Decimal
}

// catalogReader is the slice of catalogstore.Store that scoring needs to
// walk the questionnaire catalog. Accepting an interface here (rather than
// *catalogstore.Store directly) lets tests fake the catalog without a
// database.
type catalogReader interface {
	ControlsForSubmeasure(ctx context.Context, submeasureID uuid.UUID, level domain.SecurityLevel) ([]catalogstore.MappedControl, error)
	SubmeasuresForMeasure(ctx context.Context, measureID uuid.UUID) ([]domain.Submeasure, error)
	MeasuresForVersion(ctx context.Context, versionID uuid.UUID) ([]domain.Measure, error)
	CompletionStats(ctx context.Context, versionID, assessmentID uuid.UUID, level domain.SecurityLevel) (total, answered, mandatory, mandatoryAnswered int, err error)
	DistinctControlCountsForMeasure(ctx context.Context, assessmentID, measureID uuid.UUID, level domain.SecurityLevel) (total, answered, mandatory, mandatoryAnswered int, err error)
}

// answerReader is the slice of answerstore.Store scoring needs.
type answerReader interface {
	BySubmeasure(ctx context.Context, assessmentID, submeasureID uuid.UUID) ([]domain.AssessmentAnswer, error)
}

// assessmentWriter is the slice of assessmentstore.Store scoring needs to
// lock the assessment row and persist the recomputed cache tables.
type assessmentWriter interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Assessment, error)
	UpdateProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, total, answered, mandatory, mandatoryAnswered int) error
	UpdateComplianceSummary(ctx context.Context, tx pgx.Tx, id uuid.UUID, pct float64, status domain.ComplianceStatus) error
	UpsertSubmeasureScore(ctx context.Context, tx pgx.Tx, sc domain.SubmeasureScore) error
	UpsertMeasureScore(ctx context.Context, tx pgx.Tx, mc domain.MeasureScore) error
	UpsertComplianceScore(ctx context.Context, tx pgx.Tx, cs domain.ComplianceScore) error
}

// Engine computes and persists compliance scores for an assessment.
type Engine struct {
	catalog     catalogReader
	answers     answerReader
	assessments assessmentWriter
}

func New(catalog catalogReader, answers answerReader, assessments assessmentWriter) *Engine {
	return &Engine{catalog: catalog, answers: answers, assessments: assessments}
}

// scoreControl implements calculate_control_score: K=(D+I)/2, quantized, with
// a threshold check against the control's own minimum_score when one exists.
func scoreControl(mc catalogstore.MappedControl, answer *domain.AssessmentAnswer) controlScore {
	cs := controlScore{
		ControlID:    mc.ControlID,
		ControlCode:  mc.ControlCode,
		IsMandatory:  mc.IsMandatory,
		IsApplicable: mc.IsApplicable,

		PassesThreshold: true,
	}
	if mc.MinimumScore != nil {
		m := decimal.NewFromFloat(*mc.MinimumScore)
		cs.MinimumRequired = &m
	}
	if answer == nil || answer.DocumentationScore == nil || answer.ImplementationScore == nil {
		return cs
	}

	cs.HasAnswer = true
	cs.DocumentationScore = answer.DocumentationScore
	cs.ImplementationScore = answer.ImplementationScore

	doc := decimal.NewFromInt(int64(*answer.DocumentationScore))
	impl := decimal.NewFromInt(int64(*answer.ImplementationScore))
	overall := quant(doc.Add(impl).Div(decimal.NewFromInt(2)))
	cs.OverallScore = &overall

	if cs.MinimumRequired != nil {
		cs.PassesThreshold = overall.GreaterThanOrEqual(*cs.MinimumRequired)
	}
	return cs
}

// SubmeasureCompliance implements calculate_submeasure_compliance's
// dual-condition check: every answered control must individually clear its
// own floor, AND the answered-control average must clear the level's T.
func (e *Engine) SubmeasureCompliance(ctx context.Context, assessmentID, submeasureID uuid.UUID, level domain.SecurityLevel) (SubmeasureResult, error) {
	thresholds, err := thresholdsFor(level)
	if err != nil {
		return SubmeasureResult{}, err
	}

	mapped, err := e.catalog.ControlsForSubmeasure(ctx, submeasureID, level)
	if err != nil {
		return SubmeasureResult{}, err
	}

	answered, err := e.answers.BySubmeasure(ctx, assessmentID, submeasureID)
	if err != nil {
		return SubmeasureResult{}, err
	}
	byControl := make(map[uuid.UUID]*domain.AssessmentAnswer, len(answered))
	for i := range answered {
		byControl[answered[i].ControlID] = &answered[i]
	}

	res := SubmeasureResult{SubmeasureID: submeasureID, PassesIndividualThreshold: true}
	for _, mc := range mapped {
		if !mc.IsApplicable {
			continue
		}
		cs := scoreControl(mc, byControl[mc.ControlID])
		res.controls = append(res.controls, cs)

		res.TotalControls++
		if cs.IsMandatory {
			res.MandatoryControls++
		}
		if cs.HasAnswer {
			res.AnsweredControls++
			if cs.IsMandatory {
				res.MandatoryAnswered++
			}
		}
	}

	if res.AnsweredControls == 0 {
		return res, nil
	}

	n := decimal.NewFromInt(int64(res.AnsweredControls))
	var totalDoc, totalImpl, totalOverall decimal.Decimal
	for _, cs := range res.controls {
		if !cs.HasAnswer {
			continue
		}
		totalDoc = totalDoc.Add(decimal.NewFromInt(int64(*cs.DocumentationScore)))
		totalImpl = totalImpl.Add(decimal.NewFromInt(int64(*cs.ImplementationScore)))
		totalOverall = totalOverall.Add(*cs.OverallScore)

		if !cs.PassesThreshold {
			res.PassesIndividualThreshold = false
			res.FailedControls = append(res.FailedControls, cs.ControlCode)
		}
	}

	docAvg := quant(totalDoc.Div(n))
	implAvg := quant(totalImpl.Div(n))
	overallAvg := quant(totalOverall.Div(n))
	res.DocumentationAvg = &docAvg
	res.ImplementationAvg = &implAvg
	res.OverallScore = &overallAvg

	res.PassesAverageThreshold = overallAvg.GreaterThanOrEqual(thresholds.Average)
	res.PassesOverall = res.PassesIndividualThreshold && res.PassesAverageThreshold
	return res, nil
}

// MeasureCompliance implements calculate_measure_compliance: a measure passes
// only if every submeasure with at least one answered control also passes.
func (e *Engine) MeasureCompliance(ctx context.Context, assessmentID, measureID uuid.UUID, level domain.SecurityLevel) (MeasureResult, error) {
	submeasures, err := e.catalog.SubmeasuresForMeasure(ctx, measureID)
	if err != nil {
		return MeasureResult{}, err
	}

	codeByID := make(map[uuid.UUID]string, len(submeasures))
	for _, sm := range submeasures {
		codeByID[sm.ID] = sm.Code
	}

	res := MeasureResult{MeasureID: measureID, PassesCompliance: true}
	for _, sm := range submeasures {
		sc, err := e.SubmeasureCompliance(ctx, assessmentID, sm.ID, level)
		if err != nil {
			return MeasureResult{}, err
		}
		if sc.TotalControls == 0 {
			continue
		}
		res.Submeasures = append(res.Submeasures, sc)
	}

	var scored []SubmeasureResult
	for _, sc := range res.Submeasures {
		if sc.OverallScore != nil {
			scored = append(scored, sc)
		}
	}

	if len(scored) > 0 {
		var totalScore, totalDoc, totalImpl decimal.Decimal
		var nDoc, nImpl int
		for _, sc := range scored {
			totalScore = totalScore.Add(*sc.OverallScore)
		}
		overall := quant(totalScore.Div(decimal.NewFromInt(int64(len(scored)))))
		res.OverallScore = &overall

		for _, sc := range res.Submeasures {
			if sc.DocumentationAvg != nil {
				totalDoc = totalDoc.Add(*sc.DocumentationAvg)
				nDoc++
			}
			if sc.ImplementationAvg != nil {
				totalImpl = totalImpl.Add(*sc.ImplementationAvg)
				nImpl++
			}
		}
		if nDoc > 0 {
			d := quant(totalDoc.Div(decimal.NewFromInt(int64(nDoc))))
			res.DocumentationAvg = &d
		}
		if nImpl > 0 {
			d := quant(totalImpl.Div(decimal.NewFromInt(int64(nImpl))))
			res.ImplementationAvg = &d
		}
	}

	for _, sc := range res.Submeasures {
		if sc.PassesOverall {
			res.PassedSubmeasures++
		}
	}
	// passes_compliance = all(sc.passes_overall for sc in submeasures if
	// sc.answered_controls > 0) — vacuously true when nothing is answered
	// yet, which is why res.PassesCompliance starts true above.
	for _, sc := range res.Submeasures {
		if sc.AnsweredControls == 0 {
			continue
		}
		if !sc.PassesOverall {
			res.PassesCompliance = false
			res.CriticalFailures = append(res.CriticalFailures, codeByID[sc.SubmeasureID])
		}
	}
	res.TotalSubmeasures = len(res.Submeasures)

	res.TotalControls, res.AnsweredControls, res.MandatoryControls, res.MandatoryAnswered, err =
		e.catalog.DistinctControlCountsForMeasure(ctx, assessmentID, measureID, level)
	if err != nil {
		return MeasureResult{}, err
	}

	return res, nil
}

// OverallCompliance implements calculate_overall_compliance: U=Σ(Mi)/n over
// every measure, passing only if all measures with answered content pass,
// plus the maturity-trend check against the total passed-submeasure count.
func (e *Engine) OverallCompliance(ctx context.Context, assessment *domain.Assessment) (OverallResult, error) {
	thresholds, err := thresholdsFor(assessment.SecurityLevel)
	if err != nil {
		return OverallResult{}, err
	}
	maturityThreshold := MaturityThresholds[assessment.SecurityLevel]

	measures, err := e.catalog.MeasuresForVersion(ctx, assessment.VersionID)
	if err != nil {
		return OverallResult{}, err
	}

	res := OverallResult{
		AssessmentID:        assessment.ID,
		SecurityLevel:       assessment.SecurityLevel,
		IndividualThreshold: thresholds.Individual,
		AverageThreshold:    thresholds.Average,
		MaturityThreshold:   maturityThreshold,
		PassesCompliance:    true,
	}

	for _, m := range measures {
		mc, err := e.MeasureCompliance(ctx, assessment.ID, m.ID, assessment.SecurityLevel)
		if err != nil {
			return OverallResult{}, err
		}
		res.Measures = append(res.Measures, mc)
	}

	var scored []MeasureResult
	for _, mc := range res.Measures {
		if mc.OverallScore != nil {
			scored = append(scored, mc)
		}
	}
	if len(scored) > 0 {
		var total decimal.Decimal
		for _, mc := range scored {
			total = total.Add(*mc.OverallScore)
		}
		overall := quant(total.Div(decimal.NewFromInt(int64(len(scored)))))
		res.OverallScore = &overall
	}

	for _, mc := range res.Measures {
		if mc.PassesCompliance {
			res.PassedMeasures++
		}
		anyAnswered := false
		for _, sc := range mc.Submeasures {
			if sc.AnsweredControls > 0 {
				anyAnswered = true
				break
			}
		}
		if anyAnswered && !mc.PassesCompliance {
			res.PassesCompliance = false
		}
		res.MaturityScore += mc.PassedSubmeasures
	}

	res.TotalMeasures = len(res.Measures)
	if res.TotalMeasures > 0 {
		pct := decimal.NewFromInt(int64(res.PassedMeasures)).Div(decimal.NewFromInt(int64(res.TotalMeasures))).Mul(decimal.NewFromInt(100))
		res.CompliancePercentage = quant(pct)
	}
	res.MeetsMaturityTrend = res.MaturityScore >= maturityThreshold

	return res, nil
}

// Recompute runs the full three-level calculation and persists every cached
// score row plus the assessment's progress/compliance summary inside one
// transaction, locking the assessment row first so concurrent recomputes
// (e.g. two answers submitted back to back) serialize through Postgres
// rather than racing each other.
func (e *Engine) Recompute(ctx context.Context, assessmentID uuid.UUID) (OverallResult, error) {
	tx, err := e.assessments.BeginTx(ctx)
	if err != nil {
		return OverallResult{}, err
	}
	defer tx.Rollback(ctx)

	assessment, err := e.assessments.GetForUpdate(ctx, tx, assessmentID)
	if err != nil {
		return OverallResult{}, err
	}

	overall, err := e.OverallCompliance(ctx, assessment)
	if err != nil {
		return OverallResult{}, err
	}

	if err := e.persist(ctx, tx, overall); err != nil {
		return OverallResult{}, err
	}

	total, answered, mandatory, mandatoryAnswered, err := e.catalog.CompletionStats(ctx, assessment.VersionID, assessmentID, assessment.SecurityLevel)
	if err != nil {
		return OverallResult{}, err
	}
	if err := e.assessments.UpdateProgress(ctx, tx, assessmentID, total, answered, mandatory, mandatoryAnswered); err != nil {
		return OverallResult{}, err
	}

	status := domain.ComplianceNonCompliant
	if overall.PassesCompliance {
		status = domain.ComplianceCompliant
	}
	pct, _ := overall.CompliancePercentage.Float64()
	if err := e.assessments.UpdateComplianceSummary(ctx, tx, assessmentID, pct, status); err != nil {
		return OverallResult{}, err
	}

	return overall, tx.Commit(ctx)
}

// persist writes the submeasure/measure/compliance cache tables, mirroring
// store_compliance_results: only scored submeasures/measures get a row, the
// overall compliance_scores row is always written.
func (e *Engine) persist(ctx context.Context, tx pgx.Tx, overall OverallResult) error {
	for _, mc := range overall.Measures {
		for _, sc := range mc.Submeasures {
			if sc.OverallScore == nil {
				continue
			}
			if err := e.assessments.UpsertSubmeasureScore(ctx, tx, domain.SubmeasureScore{
				AssessmentID:              overall.AssessmentID,
				SubmeasureID:              sc.SubmeasureID,
				DocumentationAvg:          decimalPtrToFloat(sc.DocumentationAvg),
				ImplementationAvg:         decimalPtrToFloat(sc.ImplementationAvg),
				OverallScore:              decimalPtrToFloat(sc.OverallScore),
				PassesIndividualThreshold: sc.PassesIndividualThreshold,
				PassesAverageThreshold:    sc.PassesAverageThreshold,
				PassesOverall:             sc.PassesOverall,
				TotalControls:             sc.TotalControls,
				AnsweredControls:          sc.AnsweredControls,
				MandatoryControls:         sc.MandatoryControls,
				MandatoryAnswered:         sc.MandatoryAnswered,
				FailedControls:            sc.FailedControls,
			}); err != nil {
				return err
			}
		}

		if mc.OverallScore == nil {
			continue
		}
		if err := e.assessments.UpsertMeasureScore(ctx, tx, domain.MeasureScore{
			AssessmentID:      overall.AssessmentID,
			MeasureID:         mc.MeasureID,
			DocumentationAvg:  decimalPtrToFloat(mc.DocumentationAvg),
			ImplementationAvg: decimalPtrToFloat(mc.ImplementationAvg),
			OverallScore:      decimalPtrToFloat(mc.OverallScore),
			PassesCompliance:  mc.PassesCompliance,
			TotalSubmeasures:  mc.TotalSubmeasures,
			PassedSubmeasures: mc.PassedSubmeasures,
			CriticalFailures:  mc.CriticalFailures,
			TotalControls:     mc.TotalControls,
			AnsweredControls:  mc.AnsweredControls,
			MandatoryControls: mc.MandatoryControls,
			MandatoryAnswered: mc.MandatoryAnswered,
		}); err != nil {
			return err
		}
	}

	return e.assessments.UpsertComplianceScore(ctx, tx, domain.ComplianceScore{
		AssessmentID:         overall.AssessmentID,
		OverallScore:         decimalPtrToFloat(overall.OverallScore),
		CompliancePercentage: mustFloat(overall.CompliancePercentage),
		PassesCompliance:     overall.PassesCompliance,
		TotalMeasures:        overall.TotalMeasures,
		PassedMeasures:       overall.PassedMeasures,
		MaturityScore:        overall.MaturityScore,
		MaturityThreshold:    overall.MaturityThreshold,
		MeetsMaturityTrend:   overall.MeetsMaturityTrend,
		IndividualThreshold:  mustFloat(overall.IndividualThreshold),
		AverageThreshold:     mustFloat(overall.AverageThreshold),
	})
}

func decimalPtrToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}

func mustFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
