// Handlers for every route Router registers: thin gin glue over the
// internal engines/stores, matching the teacher's one-handler-per-route
// shape in unified-rag-service/main.go (bind request, call a service method,
// map the error through respondError, write JSON).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/assessment"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/httpapi/authmw"
	"github.com/zks-samoprocjena/compliance-engine/internal/httpapi/validate"
	"github.com/zks-samoprocjena/compliance-engine/internal/ingest"
	"github.com/zks-samoprocjena/compliance-engine/internal/questionnaire"
	"github.com/zks-samoprocjena/compliance-engine/internal/recommendation"
)

// searchRequest is the §6 search() request body.
type searchRequest struct {
	Query     string `json:"query" binding:"required"`
	K         int    `json:"k"`
	ControlID string `json:"control_id"`
}

func (s *Server) handleSearch(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}
	if req.K <= 0 {
		req.K = 8
	}

	results, err := s.rag.Search(c.Request.Context(), user.OrganizationID, req.Query, req.K, req.ControlID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// askRequest is the §6 answer_with_citations() request body.
type askRequest struct {
	Query      string `json:"query" binding:"required"`
	Language   string `json:"language"`
	MaxSources int    `json:"max_sources"`
	ControlID  string `json:"control_id"`
}

func (s *Server) handleAsk(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}

	result, err := s.rag.Ask(c.Request.Context(), user.OrganizationID, req.Query, req.Language, req.MaxSources, req.ControlID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleUploadDocument stores the uploaded file's bytes in object storage,
// records a pending ProcessedDocument, and enqueues it for background
// ingestion (extract -> chunk -> embed -> store) rather than blocking the
// request on the full pipeline.
func (s *Server) handleUploadDocument(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "missing document file: %v", err))
		return
	}
	defer file.Close()

	docType := domain.DocType(c.DefaultPostForm("document_type", string(domain.DocTypeCustom)))
	title := c.DefaultPostForm("title", header.Filename)
	isGlobal := c.PostForm("is_global") == "true"
	if isGlobal && !user.HasRole("admin") {
		respondError(c, apperr.ErrForbidden)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	scope := domain.ScopeOrganization
	orgID := &user.OrganizationID
	if isGlobal {
		scope = domain.ScopeGlobal
		orgID = nil
	}

	blobPath, err := s.blobs.Put(c.Request.Context(), user.OrganizationID.String(), header.Filename, contentType, header.Size, file)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrExtractionFailed, "store upload: %v", err))
		return
	}

	doc := &domain.ProcessedDocument{
		OrganizationID: orgID,
		Scope:          scope,
		IsGlobal:       isGlobal,
		UploadedBy:     user.ID,
		DocumentType:   docType,
		Source:         header.Filename,
		Title:          title,
		FileName:       header.Filename,
		FileSize:       header.Size,
		MimeType:       contentType,
		Status:         domain.DocStatusPending,
		BlobPath:       blobPath,
	}
	if err := s.chunks.InsertDocument(c.Request.Context(), doc); err != nil {
		respondError(c, err)
		return
	}

	if _, err := s.jobs.Enqueue(c.Request.Context(), ingest.JobTypeIngestDocument, ingest.JobPayload{DocumentID: doc.ID}); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrExtractionFailed, "enqueue ingestion: %v", err))
		return
	}

	c.JSON(http.StatusAccepted, doc)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid document id"))
		return
	}
	doc, err := s.chunks.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleActiveVersion(c *gin.Context) {
	version, err := s.catalog.ActiveVersion(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (s *Server) handleImportQuestionnaire(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "missing questionnaire file: %v", err))
		return
	}
	defer file.Close()

	data := make([]byte, header.Size)
	if _, err := file.Read(data); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "read upload: %v", err))
		return
	}

	q, err := questionnaire.Parse(data)
	if err != nil {
		respondError(c, err)
		return
	}

	force := c.Query("force") == "true"
	label := c.DefaultQuery("label", header.Filename)
	result, err := s.importer.Import(c.Request.Context(), q, label, user.ID, force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// createAssessmentRequest is the request body for starting a new assessment.
type createAssessmentRequest struct {
	SecurityLevel domain.SecurityLevel `json:"security_level" binding:"required"`
}

func (s *Server) handleCreateAssessment(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	var req createAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}
	if !req.SecurityLevel.Valid() {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "unknown security_level %q", req.SecurityLevel))
		return
	}

	version, err := s.catalog.ActiveVersion(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	a := &domain.Assessment{
		OrganizationID: user.OrganizationID,
		VersionID:      version.ID,
		SecurityLevel:  req.SecurityLevel,
	}
	if err := s.assessments.Create(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) handleGetAssessment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid assessment id"))
		return
	}
	a, err := s.assessments.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// updateAnswerRequest is the §6 update_answer() request body.
type updateAnswerRequest struct {
	ControlID           uuid.UUID `json:"control_id" binding:"required"`
	SubmeasureID         uuid.UUID `json:"submeasure_id" binding:"required"`
	DocumentationScore  *int      `json:"documentation_score" binding:"omitempty,min=1,max=5"`
	ImplementationScore *int      `json:"implementation_score" binding:"omitempty,min=1,max=5"`
	Comments            string    `json:"comments"`
	EvidenceFiles       []string  `json:"evidence_files"`
}

func (s *Server) handleUpdateAnswer(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid assessment id"))
		return
	}

	var req updateAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}

	result, err := s.orchestrator.UpdateAnswer(c.Request.Context(), assessment.UpdateAnswerRequest{
		AssessmentID:        assessmentID,
		ControlID:           req.ControlID,
		SubmeasureID:        req.SubmeasureID,
		DocumentationScore:  req.DocumentationScore,
		ImplementationScore: req.ImplementationScore,
		Comments:            req.Comments,
		EvidenceFiles:       req.EvidenceFiles,
		AnsweredBy:          user.ID,
		IPAddress:           c.ClientIP(),
		UserAgent:           c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// changeStatusRequest is the request body for an explicit status transition.
type changeStatusRequest struct {
	Status domain.AssessmentStatus `json:"status" binding:"required"`
	Force  bool                    `json:"force"`
}

func (s *Server) handleChangeStatus(c *gin.Context) {
	user, _ := authmw.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid assessment id"))
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}
	if req.Force && !user.HasRole("admin") {
		respondError(c, apperr.ErrForbidden)
		return
	}

	transition, err := s.orchestrator.ChangeStatus(c.Request.Context(), id, req.Status, user.ID, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transition)
}

func (s *Server) handleSubmissionCheck(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid assessment id"))
		return
	}
	a, err := s.assessments.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment.ValidateSubmission(a))
}

func (s *Server) handleGetRecommendation(c *gin.Context) {
	assessmentID, controlID, err := parseAssessmentAndControl(c)
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := s.recommendations.Active(c.Request.Context(), assessmentID, controlID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// regenerateRecommendationRequest names the submeasure the control is being
// scored under, since recommendations are generated from the current answer
// and answerstore.Get is keyed by (assessment, control, submeasure).
type regenerateRecommendationRequest struct {
	SubmeasureID uuid.UUID `json:"submeasure_id" binding:"required"`
}

func (s *Server) handleRegenerateRecommendation(c *gin.Context) {
	assessmentID, controlID, err := parseAssessmentAndControl(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req regenerateRecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "%s", validate.FieldErrors(err)))
		return
	}

	payload := recommendation.JobPayload{AssessmentID: assessmentID, ControlID: controlID, SubmeasureID: req.SubmeasureID}
	if _, err := s.jobs.Enqueue(c.Request.Context(), recommendation.JobType, payload); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrExtractionFailed, "enqueue recommendation regen: %v", err))
		return
	}
	c.Status(http.StatusAccepted)
}

func parseAssessmentAndControl(c *gin.Context) (uuid.UUID, uuid.UUID, error) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Wrap(apperr.ErrValidation, "invalid assessment id")
	}
	controlID, err := uuid.Parse(c.Param("controlId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Wrap(apperr.ErrValidation, "invalid control id")
	}
	return assessmentID, controlID, nil
}

func (s *Server) handleOverallScore(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, "invalid assessment id"))
		return
	}
	a, err := s.assessments.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	overall, err := s.scoring.OverallCompliance(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overall)
}
