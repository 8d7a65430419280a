// Package assessment implements the Assessment Orchestrator (C11): the
// status state machine, progress aggregation, the answer-write pipeline that
// ties the answer store (C9) to the scoring engine (C10), submission
// validation, and the audit trail. Grounded on the original's
// AssessmentService transition table and on compliance_scoring.py's
// recompute-then-cache flow that internal/scoring already ports; this
// package is the one place that sequences "write an answer, recompute its
// submeasure/measure/overall scores, maybe flip status, always audit."
package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/scoring"
)

// transitions is the §4.11 state machine: allowed "to" statuses per "from"
// status. archived is terminal and completed moves only to archived; any
// other move out of them needs the operator force-escape hatch, which callers
// request explicitly via force=true.
var transitions = map[domain.AssessmentStatus]map[domain.AssessmentStatus]bool{
	domain.StatusDraft:      {domain.StatusInProgress: true, domain.StatusAbandoned: true},
	domain.StatusInProgress: {domain.StatusReview: true, domain.StatusCompleted: true, domain.StatusAbandoned: true},
	domain.StatusReview:     {domain.StatusInProgress: true, domain.StatusCompleted: true, domain.StatusAbandoned: true},
	domain.StatusCompleted:  {domain.StatusArchived: true},
	domain.StatusAbandoned:  {domain.StatusDraft: true, domain.StatusArchived: true},
	domain.StatusArchived:   {},
}

// CanTransition reports whether the state machine allows from->to directly.
func CanTransition(from, to domain.AssessmentStatus) bool {
	return transitions[from][to]
}

type catalogReader interface {
	MappingExists(ctx context.Context, controlID, submeasureID uuid.UUID) (bool, error)
}

type answerWriter interface {
	Upsert(ctx context.Context, tx pgx.Tx, a *domain.AssessmentAnswer) error
}

type assessmentReaderWriter interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Assessment, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Assessment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.AssessmentStatus) error
}

type auditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, entry domain.AuditLog) error
}

// scoringEngine is the slice of *scoring.Engine the orchestrator calls.
// Declared as an interface so tests can fake the recompute step the same
// way internal/scoring fakes its own store dependencies.
type scoringEngine interface {
	Recompute(ctx context.Context, assessmentID uuid.UUID) (scoring.OverallResult, error)
}

// Orchestrator sequences answer writes, scoring recomputation, auto
// transitions, and audit logging (C11).
type Orchestrator struct {
	catalog     catalogReader
	answers     answerWriter
	assessments assessmentReaderWriter
	audit       auditWriter
	scoring     scoringEngine
}

func New(catalog catalogReader, answers answerWriter, assessments assessmentReaderWriter, audit auditWriter, scoringEngine scoringEngine) *Orchestrator {
	return &Orchestrator{catalog: catalog, answers: answers, assessments: assessments, audit: audit, scoring: scoringEngine}
}

// UpdateAnswerRequest is the §6 update_answer request shape.
type UpdateAnswerRequest struct {
	AssessmentID        uuid.UUID
	ControlID           uuid.UUID
	SubmeasureID        uuid.UUID
	DocumentationScore  *int
	ImplementationScore *int
	Comments            string
	EvidenceFiles       []string
	AnsweredBy          uuid.UUID
	IPAddress           string
	UserAgent           string
}

// StatusTransition describes an auto- or explicit transition the caller
// should be told about, or the zero value when none occurred.
type StatusTransition struct {
	Occurred bool
	From     domain.AssessmentStatus
	To       domain.AssessmentStatus
}

// UpdateAnswerResult is the §6 update_answer response shape.
type UpdateAnswerResult struct {
	Answer           domain.AssessmentAnswer
	Overall          scoring.OverallResult
	StatusTransition StatusTransition
}

// UpdateAnswer is the C9->C10->C11 pipeline triggered by every answer write:
// validate the (control, submeasure) mapping exists, upsert the answer,
// recompute affected compliance, then evaluate the auto-transition rules.
func (o *Orchestrator) UpdateAnswer(ctx context.Context, req UpdateAnswerRequest) (UpdateAnswerResult, error) {
	exists, err := o.catalog.MappingExists(ctx, req.ControlID, req.SubmeasureID)
	if err != nil {
		return UpdateAnswerResult{}, err
	}
	if !exists {
		return UpdateAnswerResult{}, apperr.Wrap(apperr.ErrInvalidContext,
			"control %s has no mapping into submeasure %s", req.ControlID, req.SubmeasureID)
	}

	assessment, err := o.assessments.Get(ctx, req.AssessmentID)
	if err != nil {
		return UpdateAnswerResult{}, err
	}

	answer := domain.AssessmentAnswer{
		AssessmentID:        req.AssessmentID,
		ControlID:           req.ControlID,
		SubmeasureID:        req.SubmeasureID,
		DocumentationScore:  req.DocumentationScore,
		ImplementationScore: req.ImplementationScore,
		Comments:            req.Comments,
		EvidenceFiles:       req.EvidenceFiles,
		AnsweredBy:          req.AnsweredBy,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
	}

	tx, err := o.assessments.BeginTx(ctx)
	if err != nil {
		return UpdateAnswerResult{}, err
	}
	defer tx.Rollback(ctx)

	if err := o.answers.Upsert(ctx, tx, &answer); err != nil {
		return UpdateAnswerResult{}, err
	}
	if err := o.audit.Append(ctx, tx, domain.AuditLog{
		AssessmentID: &req.AssessmentID,
		Action:       "answer_written",
		Actor:        req.AnsweredBy,
		Detail: domain.JSONBag{
			"control_id":    req.ControlID.String(),
			"submeasure_id": req.SubmeasureID.String(),
		},
	}); err != nil {
		return UpdateAnswerResult{}, err
	}

	transition := StatusTransition{}
	if assessment.Status == domain.StatusDraft {
		if err := o.assessments.UpdateStatus(ctx, tx, req.AssessmentID, domain.StatusInProgress); err != nil {
			return UpdateAnswerResult{}, err
		}
		if err := o.audit.Append(ctx, tx, domain.AuditLog{
			AssessmentID: &req.AssessmentID,
			Action:       "status_changed",
			Actor:        req.AnsweredBy,
			Detail:       domain.JSONBag{"from": string(domain.StatusDraft), "to": string(domain.StatusInProgress), "reason": "first_answer"},
		}); err != nil {
			return UpdateAnswerResult{}, err
		}
		transition = StatusTransition{Occurred: true, From: domain.StatusDraft, To: domain.StatusInProgress}
		assessment.Status = domain.StatusInProgress
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateAnswerResult{}, err
	}

	overall, err := o.scoring.Recompute(ctx, req.AssessmentID)
	if err != nil {
		return UpdateAnswerResult{}, err
	}

	// Auto-promote in_progress -> completed once every mandatory control is
	// answered and overall compliance passes (§4.11). This check runs after
	// the scoring recompute has its own fresh view of mandatory_answered vs
	// mandatory_controls, so it reflects the write that just happened.
	if assessment.Status == domain.StatusInProgress {
		refreshed, err := o.assessments.Get(ctx, req.AssessmentID)
		if err != nil {
			return UpdateAnswerResult{}, err
		}
		if refreshed.MandatoryControls > 0 && refreshed.MandatoryAnswered == refreshed.MandatoryControls && overall.PassesCompliance {
			t2, err := o.changeStatus(ctx, req.AssessmentID, domain.StatusInProgress, domain.StatusCompleted, req.AnsweredBy, false, "auto_complete")
			if err != nil {
				return UpdateAnswerResult{}, err
			}
			transition = t2
		}
	}

	return UpdateAnswerResult{Answer: answer, Overall: overall, StatusTransition: transition}, nil
}

// ChangeStatus validates and applies an explicit status transition request,
// e.g. an operator or reviewer moving an assessment along the state machine.
// force bypasses the transition table (still audited, with reason recorded).
func (o *Orchestrator) ChangeStatus(ctx context.Context, assessmentID uuid.UUID, to domain.AssessmentStatus, actor uuid.UUID, force bool) (StatusTransition, error) {
	assessment, err := o.assessments.Get(ctx, assessmentID)
	if err != nil {
		return StatusTransition{}, err
	}
	if !force && !CanTransition(assessment.Status, to) {
		return StatusTransition{}, apperr.Wrap(apperr.ErrInvalidTransition, "%s -> %s", assessment.Status, to)
	}
	reason := "explicit"
	if force {
		reason = "forced"
	}
	return o.changeStatus(ctx, assessmentID, assessment.Status, to, actor, force, reason)
}

func (o *Orchestrator) changeStatus(ctx context.Context, assessmentID uuid.UUID, from, to domain.AssessmentStatus, actor uuid.UUID, forced bool, reason string) (StatusTransition, error) {
	tx, err := o.assessments.BeginTx(ctx)
	if err != nil {
		return StatusTransition{}, err
	}
	defer tx.Rollback(ctx)

	if err := o.assessments.UpdateStatus(ctx, tx, assessmentID, to); err != nil {
		return StatusTransition{}, err
	}
	if err := o.audit.Append(ctx, tx, domain.AuditLog{
		AssessmentID: &assessmentID,
		Action:       "status_changed",
		Actor:        actor,
		Detail: domain.JSONBag{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
			"forced": forced,
		},
	}); err != nil {
		return StatusTransition{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return StatusTransition{}, err
	}
	return StatusTransition{Occurred: true, From: from, To: to}, nil
}

// SubmissionCheck is the §4.11 submission-validation result: blocking errors
// and advisory warnings are distinct, matching the UI contract in §7.
type SubmissionCheck struct {
	CanSubmit bool
	Errors    []string
	Warnings  []string
}

// ValidateSubmission blocks submit when mandatory-answered is short of
// mandatory-total, or overall completion is under 90%; non-compliance itself
// is only ever a warning, never a blocking error (§4.11, §7).
func ValidateSubmission(a *domain.Assessment) SubmissionCheck {
	check := SubmissionCheck{CanSubmit: true}

	if a.MandatoryControls > 0 && a.MandatoryAnswered < a.MandatoryControls {
		check.CanSubmit = false
		check.Errors = append(check.Errors, fmt.Sprintf(
			"%d of %d mandatory controls answered", a.MandatoryAnswered, a.MandatoryControls))
	}

	completion := completionPercent(a)
	if completion < 90 {
		check.CanSubmit = false
		check.Errors = append(check.Errors, fmt.Sprintf("overall completion %.2f%% is below the 90%% submission floor", completion))
	}

	if a.ComplianceStatus != nil && *a.ComplianceStatus == domain.ComplianceNonCompliant {
		check.Warnings = append(check.Warnings, "assessment does not currently meet compliance thresholds")
	}

	return check
}

func completionPercent(a *domain.Assessment) float64 {
	if a.TotalControls == 0 {
		return 0
	}
	pct := 100 * float64(a.AnsweredControls) / float64(a.TotalControls)
	if pct > 100 {
		pct = 100
	}
	return pct
}
