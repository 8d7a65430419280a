package assessment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/scoring"
)

// fakeTx is a no-op pgx.Tx stand-in: the orchestrator only calls
// Commit/Rollback on it, never runs a query through it directly (the fake
// stores below ignore the tx argument entirely).
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeCatalog struct {
	mapped map[[2]uuid.UUID]bool
}

func (f *fakeCatalog) MappingExists(_ context.Context, controlID, submeasureID uuid.UUID) (bool, error) {
	return f.mapped[[2]uuid.UUID{controlID, submeasureID}], nil
}

type fakeAnswers struct{ upserts int }

func (f *fakeAnswers) Upsert(_ context.Context, _ pgx.Tx, a *domain.AssessmentAnswer) error {
	f.upserts++
	a.ID = uuid.New()
	return nil
}

type fakeAssessments struct {
	assessment    *domain.Assessment
	statusWritten []domain.AssessmentStatus
}

func (f *fakeAssessments) Get(context.Context, uuid.UUID) (*domain.Assessment, error) {
	cp := *f.assessment
	return &cp, nil
}
func (f *fakeAssessments) BeginTx(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (f *fakeAssessments) GetForUpdate(context.Context, pgx.Tx, uuid.UUID) (*domain.Assessment, error) {
	cp := *f.assessment
	return &cp, nil
}
func (f *fakeAssessments) UpdateStatus(_ context.Context, _ pgx.Tx, _ uuid.UUID, status domain.AssessmentStatus) error {
	f.assessment.Status = status
	f.statusWritten = append(f.statusWritten, status)
	return nil
}

type fakeAudit struct{ entries []domain.AuditLog }

func (f *fakeAudit) Append(_ context.Context, _ pgx.Tx, entry domain.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeScoring struct {
	result scoring.OverallResult
}

func (f *fakeScoring) Recompute(context.Context, uuid.UUID) (scoring.OverallResult, error) {
	return f.result, nil
}

func newFixture(status domain.AssessmentStatus) (*Orchestrator, *fakeAssessments, *fakeAudit, uuid.UUID, uuid.UUID, uuid.UUID) {
	assessmentID := uuid.New()
	controlID := uuid.New()
	submeasureID := uuid.New()

	catalog := &fakeCatalog{mapped: map[[2]uuid.UUID]bool{{controlID, submeasureID}: true}}
	answers := &fakeAnswers{}
	assessments := &fakeAssessments{assessment: &domain.Assessment{
		ID: assessmentID, Status: status, MandatoryControls: 1, MandatoryAnswered: 0,
	}}
	audit := &fakeAudit{}
	scorer := &fakeScoring{result: scoring.OverallResult{PassesCompliance: false}}

	return New(catalog, answers, assessments, audit, scorer), assessments, audit, assessmentID, controlID, submeasureID
}

func TestUpdateAnswer_RejectsUnmappedContext(t *testing.T) {
	o, _, _, assessmentID, _, _ := newFixture(domain.StatusDraft)
	_, err := o.UpdateAnswer(context.Background(), UpdateAnswerRequest{
		AssessmentID: assessmentID,
		ControlID:    uuid.New(), // not in the fixture's mapping
		SubmeasureID: uuid.New(),
	})
	if !apperr.Is(err, apperr.ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
}

func TestUpdateAnswer_AutoPromotesDraftToInProgress(t *testing.T) {
	o, assessments, audit, assessmentID, controlID, submeasureID := newFixture(domain.StatusDraft)

	res, err := o.UpdateAnswer(context.Background(), UpdateAnswerRequest{
		AssessmentID: assessmentID,
		ControlID:    controlID,
		SubmeasureID: submeasureID,
		AnsweredBy:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.StatusTransition.Occurred || res.StatusTransition.To != domain.StatusInProgress {
		t.Fatalf("expected auto-promotion to in_progress, got %+v", res.StatusTransition)
	}
	if assessments.assessment.Status != domain.StatusInProgress {
		t.Fatalf("assessment status not persisted: %v", assessments.assessment.Status)
	}

	var sawStatusChange bool
	for _, e := range audit.entries {
		if e.Action == "status_changed" {
			sawStatusChange = true
		}
	}
	if !sawStatusChange {
		t.Fatal("expected a status_changed audit row")
	}
}

func TestUpdateAnswer_AutoCompletesOnMandatoryAndCompliance(t *testing.T) {
	assessmentID := uuid.New()
	controlID := uuid.New()
	submeasureID := uuid.New()

	catalog := &fakeCatalog{mapped: map[[2]uuid.UUID]bool{{controlID, submeasureID}: true}}
	answers := &fakeAnswers{}
	assessments := &fakeAssessments{assessment: &domain.Assessment{
		ID: assessmentID, Status: domain.StatusInProgress, MandatoryControls: 1, MandatoryAnswered: 1,
	}}
	audit := &fakeAudit{}
	scorer := &fakeScoring{result: scoring.OverallResult{PassesCompliance: true}}
	o := New(catalog, answers, assessments, audit, scorer)

	res, err := o.UpdateAnswer(context.Background(), UpdateAnswerRequest{
		AssessmentID: assessmentID, ControlID: controlID, SubmeasureID: submeasureID, AnsweredBy: uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.StatusTransition.Occurred || res.StatusTransition.To != domain.StatusCompleted {
		t.Fatalf("expected auto-completion, got %+v", res.StatusTransition)
	}
}

func TestChangeStatus_RejectsInvalidTransitionWithoutForce(t *testing.T) {
	o, _, _, assessmentID, _, _ := newFixture(domain.StatusCompleted)
	_, err := o.ChangeStatus(context.Background(), assessmentID, domain.StatusInProgress, uuid.New(), false)
	if !apperr.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestChangeStatus_ForceBypassesTable(t *testing.T) {
	o, assessments, _, assessmentID, _, _ := newFixture(domain.StatusCompleted)
	transition, err := o.ChangeStatus(context.Background(), assessmentID, domain.StatusInProgress, uuid.New(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !transition.Occurred || assessments.assessment.Status != domain.StatusInProgress {
		t.Fatal("forced transition did not apply")
	}
}

func TestValidateSubmission_BlocksOnMandatoryGap(t *testing.T) {
	a := &domain.Assessment{TotalControls: 10, AnsweredControls: 10, MandatoryControls: 3, MandatoryAnswered: 2}
	check := ValidateSubmission(a)
	if check.CanSubmit {
		t.Fatal("expected submission to be blocked on mandatory gap")
	}
	if len(check.Errors) == 0 {
		t.Fatal("expected a blocking error")
	}
}

func TestValidateSubmission_BlocksUnderNinetyPercentCompletion(t *testing.T) {
	a := &domain.Assessment{TotalControls: 10, AnsweredControls: 8, MandatoryControls: 0, MandatoryAnswered: 0}
	check := ValidateSubmission(a)
	if check.CanSubmit {
		t.Fatal("80% completion should block submission")
	}
}

func TestValidateSubmission_NonComplianceIsWarningNotError(t *testing.T) {
	nonCompliant := domain.ComplianceNonCompliant
	a := &domain.Assessment{
		TotalControls: 10, AnsweredControls: 10, MandatoryControls: 2, MandatoryAnswered: 2,
		ComplianceStatus: &nonCompliant,
	}
	check := ValidateSubmission(a)
	if !check.CanSubmit {
		t.Fatal("non-compliance alone should not block submission")
	}
	if len(check.Warnings) == 0 {
		t.Fatal("expected a warning about non-compliance")
	}
}

func TestCanTransition_TerminalArchivedHasNoOutboundMoves(t *testing.T) {
	if CanTransition(domain.StatusArchived, domain.StatusDraft) {
		t.Fatal("archived should be terminal")
	}
}
