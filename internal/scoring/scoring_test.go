package scoring

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/catalogstore"
)

// fakeCatalog is an in-memory stand-in for catalogstore.Store, keyed by the
// same submeasure/measure ids the tests hand out.
type fakeCatalog struct {
	controlsBySubmeasure map[uuid.UUID][]catalogstore.MappedControl
	submeasuresByMeasure map[uuid.UUID][]domain.Submeasure
	measuresByVersion    map[uuid.UUID][]domain.Measure
	answeredByControl    map[uuid.UUID]bool
}

func (f *fakeCatalog) ControlsForSubmeasure(_ context.Context, submeasureID uuid.UUID, _ domain.SecurityLevel) ([]catalogstore.MappedControl, error) {
	return f.controlsBySubmeasure[submeasureID], nil
}

func (f *fakeCatalog) SubmeasuresForMeasure(_ context.Context, measureID uuid.UUID) ([]domain.Submeasure, error) {
	return f.submeasuresByMeasure[measureID], nil
}

func (f *fakeCatalog) MeasuresForVersion(_ context.Context, versionID uuid.UUID) ([]domain.Measure, error) {
	return f.measuresByVersion[versionID], nil
}

func (f *fakeCatalog) CompletionStats(context.Context, uuid.UUID, uuid.UUID, domain.SecurityLevel) (int, int, int, int, error) {
	return 0, 0, 0, 0, nil
}

// DistinctControlCountsForMeasure mirrors the real DISTINCT-across-submeasure
// rollup by deduplicating controlsBySubmeasure across every submeasure the
// measure maps to; answered/mandatoryAnswered come from answeredByControl,
// which tests populate with whichever controls they mark as answered.
func (f *fakeCatalog) DistinctControlCountsForMeasure(_ context.Context, _, measureID uuid.UUID, _ domain.SecurityLevel) (total, answered, mandatory, mandatoryAnswered int, err error) {
	seen := map[uuid.UUID]bool{}
	for _, sm := range f.submeasuresByMeasure[measureID] {
		for _, mc := range f.controlsBySubmeasure[sm.ID] {
			if seen[mc.ControlID] {
				continue
			}
			seen[mc.ControlID] = true
			total++
			if mc.IsMandatory {
				mandatory++
			}
			if f.answeredByControl[mc.ControlID] {
				answered++
				if mc.IsMandatory {
					mandatoryAnswered++
				}
			}
		}
	}
	return total, answered, mandatory, mandatoryAnswered, nil
}

// fakeAnswers is an in-memory stand-in for answerstore.Store.
type fakeAnswers struct {
	bySubmeasure map[uuid.UUID][]domain.AssessmentAnswer
}

func (f *fakeAnswers) BySubmeasure(_ context.Context, _ uuid.UUID, submeasureID uuid.UUID) ([]domain.AssessmentAnswer, error) {
	return f.bySubmeasure[submeasureID], nil
}

func scorePtr(v int) *int { return &v }

func TestScoreControl_NoAnswerDefaultsPass(t *testing.T) {
	mc := catalogstore.MappedControl{ControlID: uuid.New(), ControlCode: "ORG-001", IsApplicable: true}
	cs := scoreControl(mc, nil)
	if cs.HasAnswer {
		t.Fatal("expected no answer")
	}
	if !cs.PassesThreshold {
		t.Fatal("an unanswered control with no minimum should default to passing")
	}
	if cs.OverallScore != nil {
		t.Fatal("overall score should be nil without an answer")
	}
}

func TestScoreControl_AverageAndMinimum(t *testing.T) {
	min := 3.0
	mc := catalogstore.MappedControl{ControlID: uuid.New(), ControlCode: "ORG-002", IsApplicable: true, MinimumScore: &min}
	answer := &domain.AssessmentAnswer{DocumentationScore: scorePtr(2), ImplementationScore: scorePtr(3)}

	cs := scoreControl(mc, answer)
	if !cs.HasAnswer {
		t.Fatal("expected answer to be recognized")
	}
	if got := cs.OverallScore.InexactFloat64(); got != 2.5 {
		t.Fatalf("K=(2+3)/2 should be 2.5, got %v", got)
	}
	if cs.PassesThreshold {
		t.Fatal("2.5 should fail a minimum of 3.0")
	}
}

func TestSubmeasureCompliance_DualCondition(t *testing.T) {
	ctx := context.Background()
	submeasureID := uuid.New()
	controlA := uuid.New()
	controlB := uuid.New()
	assessmentID := uuid.New()

	min := 2.0
	catalog := &fakeCatalog{
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			submeasureID: {
				{ControlID: controlA, ControlCode: "ORG-001", IsApplicable: true, IsMandatory: true, MinimumScore: &min},
				{ControlID: controlB, ControlCode: "ORG-002", IsApplicable: true},
			},
		},
	}
	answers := &fakeAnswers{
		bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{
			submeasureID: {
				{ControlID: controlA, SubmeasureID: submeasureID, DocumentationScore: scorePtr(3), ImplementationScore: scorePtr(3)},
				{ControlID: controlB, SubmeasureID: submeasureID, DocumentationScore: scorePtr(2), ImplementationScore: scorePtr(2)},
			},
		},
	}

	e := New(catalog, answers, nil)
	res, err := e.SubmeasureCompliance(ctx, assessmentID, submeasureID, domain.LevelOsnovna)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PassesIndividualThreshold {
		t.Fatalf("both controls clear their own floors, expected individual pass; failed=%v", res.FailedControls)
	}
	// average = (3+2)/2 = 2.5 >= osnovna's T of 2.5
	if !res.PassesAverageThreshold {
		t.Fatalf("average 2.5 should clear osnovna's 2.5 threshold, got overall=%v", res.OverallScore)
	}
	if !res.PassesOverall {
		t.Fatal("both conditions hold, submeasure should pass overall")
	}
	if res.MandatoryControls != 1 || res.MandatoryAnswered != 1 {
		t.Fatalf("expected 1 mandatory/1 answered, got %d/%d", res.MandatoryControls, res.MandatoryAnswered)
	}
}

func TestSubmeasureCompliance_FailsIndividualEvenIfAverageHolds(t *testing.T) {
	ctx := context.Background()
	submeasureID := uuid.New()
	controlA := uuid.New()
	controlB := uuid.New()
	assessmentID := uuid.New()

	min := 3.0
	catalog := &fakeCatalog{
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			submeasureID: {
				{ControlID: controlA, ControlCode: "ORG-001", IsApplicable: true, MinimumScore: &min},
				{ControlID: controlB, ControlCode: "ORG-002", IsApplicable: true},
			},
		},
	}
	answers := &fakeAnswers{
		bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{
			submeasureID: {
				// average here is (2+5)/2 = 3.5, well above any threshold, but
				// control A's own 2.0 fails its private minimum of 3.0.
				{ControlID: controlA, SubmeasureID: submeasureID, DocumentationScore: scorePtr(2), ImplementationScore: scorePtr(2)},
				{ControlID: controlB, SubmeasureID: submeasureID, DocumentationScore: scorePtr(5), ImplementationScore: scorePtr(5)},
			},
		},
	}

	e := New(catalog, answers, nil)
	res, err := e.SubmeasureCompliance(ctx, assessmentID, submeasureID, domain.LevelOsnovna)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PassesIndividualThreshold {
		t.Fatal("control A's 2.0 should fail its private 3.0 minimum")
	}
	if res.PassesOverall {
		t.Fatal("a single failed individual floor must fail the submeasure even with a passing average")
	}
	if len(res.FailedControls) != 1 || res.FailedControls[0] != "ORG-001" {
		t.Fatalf("expected ORG-001 in failed controls, got %v", res.FailedControls)
	}
}

func TestSubmeasureCompliance_UnansweredIsNeitherPassNorFail(t *testing.T) {
	ctx := context.Background()
	submeasureID := uuid.New()
	catalog := &fakeCatalog{
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			submeasureID: {{ControlID: uuid.New(), ControlCode: "ORG-001", IsApplicable: true}},
		},
	}
	answers := &fakeAnswers{bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{}}

	e := New(catalog, answers, nil)
	res, err := e.SubmeasureCompliance(ctx, uuid.New(), submeasureID, domain.LevelOsnovna)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OverallScore != nil {
		t.Fatal("no answers means no overall score yet")
	}
	if res.PassesOverall {
		t.Fatal("an unanswered submeasure cannot already be passing")
	}
}

func TestMeasureCompliance_PassesOnlyIfAllAnsweredSubmeasuresPass(t *testing.T) {
	ctx := context.Background()
	measureID := uuid.New()
	smPass := uuid.New()
	smFail := uuid.New()
	controlPass := uuid.New()
	controlFail := uuid.New()
	min := 3.0

	catalog := &fakeCatalog{
		submeasuresByMeasure: map[uuid.UUID][]domain.Submeasure{
			measureID: {
				{ID: smPass, MeasureID: measureID, Code: "1.1"},
				{ID: smFail, MeasureID: measureID, Code: "1.2"},
			},
		},
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			smPass: {{ControlID: controlPass, ControlCode: "ORG-001", IsApplicable: true}},
			smFail: {{ControlID: controlFail, ControlCode: "ORG-002", IsApplicable: true, MinimumScore: &min}},
		},
		answeredByControl: map[uuid.UUID]bool{controlPass: true, controlFail: true},
	}
	answers := &fakeAnswers{
		bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{
			smPass: {{ControlID: controlPass, SubmeasureID: smPass, DocumentationScore: scorePtr(4), ImplementationScore: scorePtr(4)}},
			smFail: {{ControlID: controlFail, SubmeasureID: smFail, DocumentationScore: scorePtr(1), ImplementationScore: scorePtr(1)}},
		},
	}

	e := New(catalog, answers, nil)
	res, err := e.MeasureCompliance(ctx, uuid.New(), measureID, domain.LevelOsnovna)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PassesCompliance {
		t.Fatal("one failing answered submeasure should fail the whole measure")
	}
	if len(res.CriticalFailures) != 1 || res.CriticalFailures[0] != "1.2" {
		t.Fatalf("expected submeasure 1.2 in critical failures, got %v", res.CriticalFailures)
	}
	if res.PassedSubmeasures != 1 {
		t.Fatalf("expected exactly one passed submeasure, got %d", res.PassedSubmeasures)
	}
}

func TestMeasureCompliance_DistinctControlCountsAcrossSubmeasures(t *testing.T) {
	ctx := context.Background()
	measureID := uuid.New()
	smA := uuid.New()
	smB := uuid.New()
	shared := uuid.New()
	onlyA := uuid.New()

	catalog := &fakeCatalog{
		submeasuresByMeasure: map[uuid.UUID][]domain.Submeasure{
			measureID: {
				{ID: smA, MeasureID: measureID, Code: "2.1"},
				{ID: smB, MeasureID: measureID, Code: "2.2"},
			},
		},
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			// shared is mapped into both submeasures of this measure and
			// must count once at the measure level, not twice.
			smA: {
				{ControlID: shared, ControlCode: "ORG-010", IsApplicable: true, IsMandatory: true},
				{ControlID: onlyA, ControlCode: "ORG-011", IsApplicable: true},
			},
			smB: {
				{ControlID: shared, ControlCode: "ORG-010", IsApplicable: true, IsMandatory: true},
			},
		},
		answeredByControl: map[uuid.UUID]bool{shared: true},
	}
	answers := &fakeAnswers{
		bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{
			smA: {{ControlID: shared, SubmeasureID: smA, DocumentationScore: scorePtr(4), ImplementationScore: scorePtr(4)}},
			smB: {{ControlID: shared, SubmeasureID: smB, DocumentationScore: scorePtr(4), ImplementationScore: scorePtr(4)}},
		},
	}

	e := New(catalog, answers, nil)
	res, err := e.MeasureCompliance(ctx, uuid.New(), measureID, domain.LevelOsnovna)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalControls != 2 {
		t.Fatalf("expected the shared control counted once (2 distinct total), got %d", res.TotalControls)
	}
	if res.MandatoryControls != 1 {
		t.Fatalf("expected 1 distinct mandatory control, got %d", res.MandatoryControls)
	}
	if res.AnsweredControls != 1 || res.MandatoryAnswered != 1 {
		t.Fatalf("expected 1 answered/1 mandatory answered, got %d/%d", res.AnsweredControls, res.MandatoryAnswered)
	}
}

func TestOverallCompliance_MaturityTrend(t *testing.T) {
	ctx := context.Background()
	versionID := uuid.New()
	measureID := uuid.New()
	submeasureID := uuid.New()
	controlID := uuid.New()

	catalog := &fakeCatalog{
		measuresByVersion: map[uuid.UUID][]domain.Measure{
			versionID: {{ID: measureID, VersionID: versionID, Code: "M1"}},
		},
		submeasuresByMeasure: map[uuid.UUID][]domain.Submeasure{
			measureID: {{ID: submeasureID, MeasureID: measureID, Code: "1.1"}},
		},
		controlsBySubmeasure: map[uuid.UUID][]catalogstore.MappedControl{
			submeasureID: {{ControlID: controlID, ControlCode: "ORG-001", IsApplicable: true}},
		},
	}
	answers := &fakeAnswers{
		bySubmeasure: map[uuid.UUID][]domain.AssessmentAnswer{
			submeasureID: {{ControlID: controlID, SubmeasureID: submeasureID, DocumentationScore: scorePtr(5), ImplementationScore: scorePtr(5)}},
		},
	}

	assessment := &domain.Assessment{ID: uuid.New(), VersionID: versionID, SecurityLevel: domain.LevelOsnovna}
	e := New(catalog, answers, nil)
	res, err := e.OverallCompliance(ctx, assessment)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalMeasures != 1 || res.PassedMeasures != 1 {
		t.Fatalf("expected the single measure to pass, got total=%d passed=%d", res.TotalMeasures, res.PassedMeasures)
	}
	if res.MaturityScore != 1 {
		t.Fatalf("expected maturity score of 1 passed submeasure, got %d", res.MaturityScore)
	}
	if res.MeetsMaturityTrend {
		t.Fatal("osnovna needs 109 passed submeasures; one should not meet the trend")
	}
	if pct := res.CompliancePercentage.InexactFloat64(); pct != 100 {
		t.Fatalf("expected 100%% compliance_percentage, got %v", pct)
	}
}

func TestOverallCompliance_InvalidLevel(t *testing.T) {
	e := New(&fakeCatalog{}, &fakeAnswers{}, nil)
	_, err := e.OverallCompliance(context.Background(), &domain.Assessment{SecurityLevel: "invalid"})
	if err == nil {
		t.Fatal("expected an error for an unknown security level")
	}
}
