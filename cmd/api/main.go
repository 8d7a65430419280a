// Command api runs the gin HTTP server: retrieval, scoring, assessment, and
// questionnaire-import endpoints behind auth middleware, plus health and
// metrics. Wiring follows unified-rag-service/main.go's func main() (load
// config, open the pool, build every dependent service, serve), generalized
// from one monolithic service struct into the smaller composed packages
// this module actually has.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/assessment"
	"github.com/zks-samoprocjena/compliance-engine/internal/citation"
	"github.com/zks-samoprocjena/compliance-engine/internal/config"
	"github.com/zks-samoprocjena/compliance-engine/internal/embedding"
	"github.com/zks-samoprocjena/compliance-engine/internal/httpapi"
	"github.com/zks-samoprocjena/compliance-engine/internal/httpapi/authmw"
	"github.com/zks-samoprocjena/compliance-engine/internal/logging"
	"github.com/zks-samoprocjena/compliance-engine/internal/queue"
	"github.com/zks-samoprocjena/compliance-engine/internal/questionnaire"
	"github.com/zks-samoprocjena/compliance-engine/internal/ragquery"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/lexical"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/semantic"
	"github.com/zks-samoprocjena/compliance-engine/internal/scoring"
	"github.com/zks-samoprocjena/compliance-engine/internal/searchcache"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/answerstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/assessmentstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/auditstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/blobstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/catalogstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/recommendationstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(false, cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.ServiceName+"-api", cfg.Tracing.OTLPEndpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracing(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	chunks := chunkstore.New(pool)
	catalog := catalogstore.New(pool)
	answers := answerstore.New(pool)
	assessments := assessmentstore.New(pool)
	audit := auditstore.New(pool)
	recommendations := recommendationstore.New(pool)

	for _, ensure := range []func(context.Context) error{
		chunks.EnsureSchema, catalog.EnsureSchema, answers.EnsureSchema,
		assessments.EnsureSchema, audit.EnsureSchema, recommendations.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Fatal("ensure schema", zap.Error(err))
		}
	}

	blobs, err := blobstore.New(ctx, cfg.MinIO)
	if err != nil {
		logger.Fatal("connect object store", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	jobQueue := queue.New(redisClient, "jobs", cfg.Ingest.JobTimeout, 5)

	redisCache, err := searchcache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis search cache unavailable, falling back to in-process only", zap.Error(err))
	}
	var cache searchcache.Cache
	if redisCache != nil {
		cache = searchcache.NewTwoLevel(redisCache)
	} else {
		cache = searchcache.NewInMemory()
	}

	embedder := embedding.NewOllama(cfg.Embed)
	generator := ragquery.NewOllama(cfg.Generate)

	lexicalSearch := lexical.New(chunks)
	semanticSearch := semantic.New(chunks, embedder)
	citationValidator := citation.New(citation.DefaultPageTolerance)
	rag := ragquery.New(lexicalSearch, semanticSearch, generator, citationValidator, cache, logger)

	scoringEngine := scoring.New(catalog, answers, assessments)
	orchestrator := assessment.New(catalog, answers, assessments, audit, scoringEngine)
	importer := questionnaire.NewImporter(catalog, audit)
	auth := authmw.New(cfg.Auth.HMACSecret, logger)

	server := httpapi.New(httpapi.Deps{
		Logger:         logger,
		Auth:           auth,
		Catalog:        catalog,
		Chunks:         chunks,
		Blobs:          blobs,
		Jobs:           jobQueue,
		Recommendations: recommendations,
		LexicalSearch:  lexicalSearch,
		SemanticSearch: semanticSearch,
		Scoring:        scoringEngine,
		Assessments:    assessments,
		Orchestrator:   orchestrator,
		Importer:       importer,
		Citations:      citationValidator,
		RAG:            rag,
	})

	router := server.Router()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
