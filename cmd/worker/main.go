// Command worker runs the background job pool: ingestion (extract -> chunk
// -> embed -> store) and recommendation regeneration, both consumed off the
// same at-least-once Redis queue. Pool shape follows unified-rag-service's
// startWorkers (fixed goroutine count, each looping Dequeue/process/Ack),
// generalized from one job type to a type-dispatch over whatever the API
// enqueued.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/chunker"
	"github.com/zks-samoprocjena/compliance-engine/internal/config"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/embedding"
	"github.com/zks-samoprocjena/compliance-engine/internal/extract"
	"github.com/zks-samoprocjena/compliance-engine/internal/ingest"
	"github.com/zks-samoprocjena/compliance-engine/internal/logging"
	"github.com/zks-samoprocjena/compliance-engine/internal/queue"
	"github.com/zks-samoprocjena/compliance-engine/internal/ragquery"
	"github.com/zks-samoprocjena/compliance-engine/internal/recommendation"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/answerstore"
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

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.ServiceName+"-worker", cfg.Tracing.OTLPEndpoint, cfg.Tracing.SampleRatio)
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
	recommendations := recommendationstore.New(pool)

	for _, ensure := range []func(context.Context) error{
		chunks.EnsureSchema, catalog.EnsureSchema, answers.EnsureSchema, recommendations.EnsureSchema,
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

	embedder := embedding.NewOllama(cfg.Embed)
	pipeline := ingest.New(blobs, chunks, extract.New(), chunker.New(domain.DocTypeCustom), embedder, logger)

	generator := ragquery.NewOllama(cfg.Generate)
	recEngine := recommendation.New(recommendations, answers, catalog, generator)

	workers := cfg.Ingest.ChunkWorkers + cfg.Ingest.EmbedWorkers
	if workers <= 0 {
		workers = 4
	}
	if cfg.Ingest.MaxInFlightJobs > 0 && workers > cfg.Ingest.MaxInFlightJobs {
		workers = cfg.Ingest.MaxInFlightJobs
	}

	logger.Info("worker pool starting", zap.Int("workers", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go runWorker(ctx, &wg, i, jobQueue, pipeline, recEngine, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down worker pool")
	wg.Wait()
}

// runWorker loops Dequeue -> dispatch -> Ack/Nack until ctx is cancelled,
// bounding each job's processing time to 10 minutes so a stuck
// model call can't wedge the worker forever.
func runWorker(ctx context.Context, wg *sync.WaitGroup, id int, jobs *queue.Queue, pipeline *ingest.Pipeline, recEngine *recommendation.Engine, logger *zap.Logger) {
	defer wg.Done()
	log := logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := jobs.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		cause := dispatch(jobCtx, job, pipeline, recEngine)
		cancel()

		if cause != nil {
			log.Error("job failed", zap.String("job_id", job.ID.String()), zap.String("type", job.Type), zap.Error(cause))
			if err := jobs.Nack(ctx, job, cause); err != nil {
				log.Error("nack failed", zap.Error(err))
			}
			continue
		}
		if err := jobs.Ack(ctx, job); err != nil {
			log.Error("ack failed", zap.Error(err))
		}
	}
}

func dispatch(ctx context.Context, job *queue.Job, pipeline *ingest.Pipeline, recEngine *recommendation.Engine) error {
	switch job.Type {
	case ingest.JobTypeIngestDocument:
		var payload ingest.JobPayload
		if err := decode(job.Payload, &payload); err != nil {
			return err
		}
		return pipeline.Process(ctx, payload.DocumentID)

	case recommendation.JobType:
		var payload recommendation.JobPayload
		if err := decode(job.Payload, &payload); err != nil {
			return err
		}
		_, err := recEngine.Regenerate(ctx, payload.AssessmentID, payload.ControlID, payload.SubmeasureID)
		return err

	default:
		log.Printf("worker: unknown job type %q, dropping", job.Type)
		return nil
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("worker: decode job payload: %w", err)
	}
	return nil
}
