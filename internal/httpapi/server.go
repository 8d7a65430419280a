// Package httpapi wires the gin HTTP surface: route groups for retrieval,
// scoring, assessment, and questionnaire import, each handler thin over the
// internal engines/stores. Route grouping and middleware wiring follows
// unified-rag-service/main.go's func main() (gin.New + Logger + Recovery, a
// manual CORS handler, an /api/v1 group), generalized from one big service
// struct with every handler as a method into a Server that composes the
// smaller internal packages this module actually has.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/assessment"
	"github.com/zks-samoprocjena/compliance-engine/internal/citation"
	"github.com/zks-samoprocjena/compliance-engine/internal/httpapi/authmw"
	"github.com/zks-samoprocjena/compliance-engine/internal/questionnaire"
	"github.com/zks-samoprocjena/compliance-engine/internal/ragquery"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/lexical"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/semantic"
	"github.com/zks-samoprocjena/compliance-engine/internal/scoring"
	"github.com/zks-samoprocjena/compliance-engine/internal/queue"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/assessmentstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/blobstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/catalogstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/recommendationstore"
)

// Server bundles every component a handler needs. Its fields are the
// concrete store/engine types, not interfaces — this is the composition
// root, the one place allowed to know every concrete type exists.
type Server struct {
	logger  *zap.Logger
	auth    *authmw.Middleware
	catalog *catalogstore.Store
	chunks  *chunkstore.Store
	blobs   *blobstore.Store
	jobs    *queue.Queue

	lexicalSearch  *lexical.Searcher
	semanticSearch *semantic.Searcher

	scoring         *scoring.Engine
	assessments     *assessmentstore.Store
	orchestrator    *assessment.Orchestrator
	importer        *questionnaire.Importer
	citations       *citation.Validator
	rag             *ragquery.Service
	recommendations *recommendationstore.Store
}

type Deps struct {
	Logger          *zap.Logger
	Auth            *authmw.Middleware
	Catalog         *catalogstore.Store
	Chunks          *chunkstore.Store
	Blobs           *blobstore.Store
	Jobs            *queue.Queue
	LexicalSearch   *lexical.Searcher
	SemanticSearch  *semantic.Searcher
	Scoring         *scoring.Engine
	Assessments     *assessmentstore.Store
	Orchestrator    *assessment.Orchestrator
	Importer        *questionnaire.Importer
	Citations       *citation.Validator
	RAG             *ragquery.Service
	Recommendations *recommendationstore.Store
}

func New(d Deps) *Server {
	return &Server{
		logger: d.Logger, auth: d.Auth, catalog: d.Catalog, chunks: d.Chunks,
		blobs: d.Blobs, jobs: d.Jobs,
		lexicalSearch: d.LexicalSearch, semanticSearch: d.SemanticSearch,
		scoring: d.Scoring, assessments: d.Assessments, orchestrator: d.Orchestrator,
		importer: d.Importer, citations: d.Citations, rag: d.RAG,
		recommendations: d.Recommendations,
	}
}

// cors mirrors the teacher's permissive-by-default manual CORS handler: this
// API is consumed by a separate frontend origin, same as unified-rag-service.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Router builds the gin engine: a public /healthz endpoint plus an
// authenticated /api/v1 group. cmd/api adds /metrics to the returned engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	api := r.Group("/api/v1")
	api.Use(s.auth.Authenticate())
	{
		search := api.Group("/search")
		search.POST("", s.handleSearch)
		search.POST("/ask", s.handleAsk)

		docs := api.Group("/documents")
		docs.POST("", authmw.RequireRole("admin"), s.handleUploadDocument)
		docs.GET("/:id", s.handleGetDocument)

		qn := api.Group("/questionnaire")
		qn.POST("/import", authmw.RequireRole("admin"), s.handleImportQuestionnaire)
		qn.GET("/active", s.handleActiveVersion)

		as := api.Group("/assessments")
		as.POST("", s.handleCreateAssessment)
		as.GET("/:id", s.handleGetAssessment)
		as.PUT("/:id/answers", s.handleUpdateAnswer)
		as.POST("/:id/status", s.handleChangeStatus)
		as.GET("/:id/submission-check", s.handleSubmissionCheck)
		as.GET("/:id/score", s.handleOverallScore)
		as.GET("/:id/controls/:controlId/recommendation", s.handleGetRecommendation)
		as.POST("/:id/controls/:controlId/recommendation", s.handleRegenerateRecommendation)
	}

	return r
}
