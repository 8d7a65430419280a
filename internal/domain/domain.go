// Package domain holds the plain-struct entities shared across the compliance
// engine: organizations, the questionnaire catalog, assessments and their
// scored answers, and the document/chunk corpus used by retrieval.
package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/xjson"
)

// SecurityLevel is one of the three ZKS/NIS2 assessment tiers.
type SecurityLevel string

const (
	LevelOsnovna  SecurityLevel = "osnovna"
	LevelSrednja  SecurityLevel = "srednja"
	LevelNapredna SecurityLevel = "napredna"
)

func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelOsnovna, LevelSrednja, LevelNapredna:
		return true
	}
	return false
}

// AssessmentStatus is the lifecycle state of an Assessment (§4.11).
type AssessmentStatus string

const (
	StatusDraft      AssessmentStatus = "draft"
	StatusInProgress AssessmentStatus = "in_progress"
	StatusReview     AssessmentStatus = "review"
	StatusCompleted  AssessmentStatus = "completed"
	StatusAbandoned  AssessmentStatus = "abandoned"
	StatusArchived   AssessmentStatus = "archived"
)

// ComplianceStatus is the cached pass/fail summary on an Assessment.
type ComplianceStatus string

const (
	ComplianceCompliant    ComplianceStatus = "compliant"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
)

// DocumentScope distinguishes tenant-private corpora from the shared global one.
type DocumentScope string

const (
	ScopeOrganization DocumentScope = "organization"
	ScopeGlobal       DocumentScope = "global"
)

// DocumentStatus tracks ingestion progress for a ProcessedDocument.
type DocumentStatus string

const (
	DocStatusPending    DocumentStatus = "pending"
	DocStatusProcessing DocumentStatus = "processing"
	DocStatusCompleted  DocumentStatus = "completed"
	DocStatusFailed     DocumentStatus = "failed"
)

// DocType is the fixed provenance tag used for retrieval boosting (§4.2, §4.6).
type DocType string

const (
	DocTypeZKS        DocType = "ZKS"
	DocTypeNIS2       DocType = "NIS2"
	DocTypeUKS        DocType = "UKS"
	DocTypePrilogB    DocType = "PRILOG_B"
	DocTypePrilogC    DocType = "PRILOG_C"
	DocTypeISO        DocType = "ISO"
	DocTypeNIST       DocType = "NIST"
	DocTypeStandard   DocType = "standard"
	DocTypeRegulation DocType = "regulation"
	DocTypeCustom     DocType = "custom"
)

// JSONBag is an opaque, forward-compatible JSON bag (chunk_metadata,
// processing_metadata, implementation_metadata in §9). Unknown keys survive a
// round trip through the store untouched; only the keys the engine reads are
// named by the types below.
type JSONBag map[string]any

// Value and Scan round-trip JSONBag through jsonb columns via xjson instead
// of pgx's default encoding/json codec, so chunk_metadata/processing_metadata
// pick up whichever codec xjson is built with (std by default, the
// -tags jsonv2 experimental path otherwise) without touching call sites.
func (j JSONBag) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return xjson.Marshal(j)
}

func (j *JSONBag) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into JSONBag", src)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return xjson.Unmarshal(raw, j)
}

// Organization is the tenant root (§3).
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// QuestionnaireVersion is an immutable, content-hashed questionnaire snapshot.
type QuestionnaireVersion struct {
	ID          uuid.UUID `json:"id"`
	ContentHash string    `json:"content_hash"`
	Active      bool      `json:"active"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}

// Measure is the top catalog level, belonging to a QuestionnaireVersion.
type Measure struct {
	ID         uuid.UUID `json:"id"`
	VersionID  uuid.UUID `json:"version_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
}

// Submeasure belongs to exactly one Measure.
type Submeasure struct {
	ID         uuid.UUID `json:"id"`
	MeasureID  uuid.UUID `json:"measure_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
}

// Control is globally unique by Code; its submeasure context always comes
// through a ControlSubmeasureMapping (§3 invariant).
type Control struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// ControlSubmeasureMapping is the M:N edge between Control and Submeasure.
type ControlSubmeasureMapping struct {
	ControlID    uuid.UUID `json:"control_id"`
	SubmeasureID uuid.UUID `json:"submeasure_id"`
	OrderIndex   int       `json:"order_index"`
}

// ControlRequirement is the applicability record for (control, submeasure,
// security_level).
type ControlRequirement struct {
	ControlID     uuid.UUID       `json:"control_id"`
	SubmeasureID  uuid.UUID       `json:"submeasure_id"`
	Level         SecurityLevel   `json:"level"`
	IsMandatory   bool            `json:"is_mandatory"`
	IsApplicable  bool            `json:"is_applicable"`
	MinimumScore  *ScoreThreshold `json:"minimum_score,omitempty"`
}

// ScoreThreshold is a minimum_score value, constrained to the enumerated set
// in §3 ({2.0, 2.5, 3.0, 3.5, 4.0, 5.0}).
type ScoreThreshold float64

// Assessment is one organization's attempt at a fixed security level.
type Assessment struct {
	ID                   uuid.UUID        `json:"id"`
	OrganizationID       uuid.UUID        `json:"organization_id"`
	VersionID            uuid.UUID        `json:"version_id"`
	SecurityLevel        SecurityLevel    `json:"security_level"`
	Status               AssessmentStatus `json:"status"`
	TotalControls        int              `json:"total_controls"`
	AnsweredControls     int              `json:"answered_controls"`
	MandatoryControls    int              `json:"mandatory_controls"`
	MandatoryAnswered    int              `json:"mandatory_answered"`
	CompliancePercentage float64          `json:"compliance_percentage"`
	ComplianceStatus     *ComplianceStatus `json:"compliance_status,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

// AssessmentAnswer is unique by (assessment_id, control_id, submeasure_id).
type AssessmentAnswer struct {
	ID                 uuid.UUID `json:"id"`
	AssessmentID        uuid.UUID `json:"assessment_id"`
	ControlID            uuid.UUID `json:"control_id"`
	SubmeasureID          uuid.UUID `json:"submeasure_id"`
	DocumentationScore  *int      `json:"documentation_score,omitempty"`
	ImplementationScore *int      `json:"implementation_score,omitempty"`
	Comments            string    `json:"comments,omitempty"`
	EvidenceFiles       []string  `json:"evidence_files,omitempty"`
	AnsweredBy          uuid.UUID `json:"answered_by"`
	IPAddress           string    `json:"ip_address,omitempty"`
	UserAgent           string    `json:"user_agent,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AverageScore implements K = (D + I) / 2, nil until both scores are present.
func (a AssessmentAnswer) AverageScore() *float64 {
	if a.DocumentationScore == nil || a.ImplementationScore == nil {
		return nil
	}
	v := (float64(*a.DocumentationScore) + float64(*a.ImplementationScore)) / 2
	return &v
}

// SubmeasureScore is the cached, computed submeasure-level result.
type SubmeasureScore struct {
	AssessmentID               uuid.UUID `json:"assessment_id"`
	SubmeasureID               uuid.UUID `json:"submeasure_id"`
	DocumentationAvg           *float64  `json:"documentation_avg,omitempty"`
	ImplementationAvg          *float64  `json:"implementation_avg,omitempty"`
	OverallScore               *float64  `json:"overall_score,omitempty"`
	PassesIndividualThreshold  bool      `json:"passes_individual_threshold"`
	PassesAverageThreshold     bool      `json:"passes_average_threshold"`
	PassesOverall              bool      `json:"passes_overall"`
	TotalControls              int       `json:"total_controls"`
	AnsweredControls           int       `json:"answered_controls"`
	MandatoryControls          int       `json:"mandatory_controls"`
	MandatoryAnswered          int       `json:"mandatory_answered"`
	FailedControls             []string  `json:"failed_controls"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// MeasureScore is the cached, computed measure-level result.
type MeasureScore struct {
	AssessmentID      uuid.UUID `json:"assessment_id"`
	MeasureID         uuid.UUID `json:"measure_id"`
	DocumentationAvg  *float64  `json:"documentation_avg,omitempty"`
	ImplementationAvg *float64  `json:"implementation_avg,omitempty"`
	OverallScore      *float64  `json:"overall_score,omitempty"`
	PassesCompliance  bool      `json:"passes_compliance"`
	TotalSubmeasures  int       `json:"total_submeasures"`
	PassedSubmeasures int       `json:"passed_submeasures"`
	CriticalFailures  []string  `json:"critical_failures"`
	TotalControls     int       `json:"total_controls"`
	AnsweredControls  int       `json:"answered_controls"`
	MandatoryControls int       `json:"mandatory_controls"`
	MandatoryAnswered int       `json:"mandatory_answered"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ComplianceScore is the cached, computed overall assessment result.
type ComplianceScore struct {
	AssessmentID         uuid.UUID `json:"assessment_id"`
	OverallScore         *float64  `json:"overall_score,omitempty"`
	CompliancePercentage float64   `json:"compliance_percentage"`
	PassesCompliance     bool      `json:"passes_compliance"`
	TotalMeasures        int       `json:"total_measures"`
	PassedMeasures        int       `json:"passed_measures"`
	MaturityScore        int       `json:"maturity_score"`
	MaturityThreshold    int       `json:"maturity_threshold"`
	MeetsMaturityTrend   bool      `json:"meets_maturity_trend"`
	IndividualThreshold  float64   `json:"individual_threshold"`
	AverageThreshold     float64   `json:"average_threshold"`
	DetailedResults      JSONBag   `json:"detailed_results,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ProcessedDocument is a compliance document owned by an org, or global.
type ProcessedDocument struct {
	ID               uuid.UUID      `json:"id"`
	OrganizationID   *uuid.UUID     `json:"organization_id,omitempty"`
	Scope            DocumentScope  `json:"scope"`
	IsGlobal         bool           `json:"is_global"`
	UploadedBy       uuid.UUID      `json:"uploaded_by"`
	DocumentType     DocType        `json:"document_type"`
	Source           string         `json:"source"`
	Title            string         `json:"title"`
	FileName         string         `json:"file_name"`
	FileSize         int64          `json:"file_size"`
	MimeType         string         `json:"mime_type"`
	Status           DocumentStatus `json:"status"`
	BlobPath         string         `json:"blob_path"`
	UploadDate       time.Time      `json:"upload_date"`
	ProcessedDate    *time.Time     `json:"processed_date,omitempty"`
	ProcessingMeta   JSONBag        `json:"processing_metadata,omitempty"`
}

// ScopeConsistent enforces §3's invariant: scope='global' iff
// organization_id is nil and is_global is true.
func (d ProcessedDocument) ScopeConsistent() bool {
	if d.Scope == ScopeGlobal {
		return d.OrganizationID == nil && d.IsGlobal
	}
	return d.OrganizationID != nil && !d.IsGlobal
}

// DocumentChunk is the unit of retrieval (§3).
type DocumentChunk struct {
	ID                  uuid.UUID `json:"id"`
	ProcessedDocumentID uuid.UUID `json:"processed_document_id"`
	ChunkIndex          int       `json:"chunk_index"`
	Content             string    `json:"content"`
	Embedding           []float32 `json:"embedding,omitempty"`
	ControlIDs          []string  `json:"control_ids"`
	DocType             DocType   `json:"doc_type"`
	SectionTitle        *string   `json:"section_title,omitempty"`
	PageStart           int       `json:"page_start"`
	PageEnd             int       `json:"page_end"`
	PageAnchor          int       `json:"page_anchor"`
	Metadata            JSONBag   `json:"chunk_metadata,omitempty"`

	// Denormalized provenance, populated by the store join for retrieval
	// consumers (doc_title powers citation matching in C8).
	DocTitle string `json:"doc_title,omitempty"`
}

// PageInvariant enforces page_start <= page_anchor <= page_end (§8 invariant 1).
func (c DocumentChunk) PageInvariant() bool {
	return c.PageStart <= c.PageAnchor && c.PageAnchor <= c.PageEnd
}

// AssessmentInsights is a cached, AI-derived artifact, invalidated on answer
// writes (§3).
type AssessmentInsights struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	Gaps         []string  `json:"gaps"`
	Roadmap      JSONBag   `json:"roadmap"`
	Narrative    string    `json:"narrative"`
	PerMeasure   JSONBag   `json:"per_measure_recommendations"`
	Stale        bool      `json:"stale"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AIRecommendation is persisted per (assessment, control); at most one
// is_active=true per pair (§8 invariant 4).
type AIRecommendation struct {
	ID             uuid.UUID  `json:"id"`
	AssessmentID   uuid.UUID  `json:"assessment_id"`
	ControlID      uuid.UUID  `json:"control_id"`
	Content        string     `json:"content"`
	IsActive       bool       `json:"is_active"`
	SupersededByID *uuid.UUID `json:"superseded_by_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AuditLog is append-only; rows are never mutated (§8 invariant 5).
type AuditLog struct {
	ID           uuid.UUID `json:"id"`
	AssessmentID *uuid.UUID `json:"assessment_id,omitempty"`
	Action       string    `json:"action"`
	Actor        uuid.UUID `json:"actor"`
	Detail       JSONBag   `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
