// Package queue implements an at-least-once Redis-list job queue (A6) for
// background ingestion and recommendation work, the shape spec §5 asks for:
// a fixed worker pool pulling from a durable queue rather than
// goroutine-per-request fire-and-forget. Adapted from the teacher's
// go-redis/v9 use in searchcache/cache.go and the startWorkers pool-of-N
// pattern in unified-rag-service/main.go, generalized from one hardcoded job
// type to an arbitrary named queue plus a processing list that holds each
// dequeued job's ID until Ack or Nack. Nothing moves IDs that a worker left on
// the processing list back to pending.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Job is one unit of background work. Payload is left as raw JSON so each
// job type (ingestion, recommendation regen) defines its own shape.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempt    int             `json:"attempt"`
}

// Queue is a named Redis-list-backed queue: Dequeue moves a job's ID from the
// pending list onto a processing list (BRPOPLPUSH, like a classic
// reliable-queue pattern over Redis lists), where it stays until Ack removes
// it or Nack re-queues or dead-letters it. A job whose worker stops before
// Ack or Nack is not handed out again; the visibility duration only sets how
// long a dequeued job's stored payload is kept.
type Queue struct {
	client      *redis.Client
	name        string
	visibility  time.Duration
	maxAttempts int
}

func New(client *redis.Client, name string, visibility time.Duration, maxAttempts int) *Queue {
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{client: client, name: name, visibility: visibility, maxAttempts: maxAttempts}
}

func (q *Queue) pendingKey() string    { return fmt.Sprintf("queue:%s:pending", q.name) }
func (q *Queue) processingKey() string { return fmt.Sprintf("queue:%s:processing", q.name) }
func (q *Queue) jobKey(id uuid.UUID) string {
	return fmt.Sprintf("queue:%s:job:%s", q.name, id)
}

// Enqueue appends a new job under a fresh ID; every call adds another pending
// entry, so enqueuing the same payload twice yields two jobs. Per-document
// idempotence of ingestion comes from the pipeline replacing a document's
// chunks, not from the queue.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: marshal payload: %w", err)
	}
	job := Job{ID: uuid.New(), Type: jobType, Payload: body, EnqueuedAt: time.Now()}
	raw, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 24*time.Hour)
	pipe.LPush(ctx, q.pendingKey(), job.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return job.ID, nil
}

// Dequeue blocks up to timeout for a job, moving its ID onto the processing
// list, where it stays until Ack or Nack, and sets the stored payload to
// expire after the visibility duration.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	raw, err := q.client.Get(ctx, q.jobKey(uuid.MustParse(res))).Bytes()
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", res, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", res, err)
	}

	q.client.Expire(ctx, q.jobKey(job.ID), q.visibility)
	return &job, nil
}

// Ack removes a completed job from the processing list and deletes its
// stored payload.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, job.ID.String())
	pipe.Del(ctx, q.jobKey(job.ID))
	_, err := pipe.Exec(ctx)
	return err
}

// Nack returns a failed job to the pending queue for retry, unless it has
// exhausted maxAttempts, in which case it is dropped into the dead-letter
// list with its failure preserved rather than discarded (spec §7's "marked
// failed with diagnostic metadata preserved, never destructively").
func (q *Queue) Nack(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal retried job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, job.ID.String())
	if job.Attempt >= q.maxAttempts {
		deadLetter := map[string]any{"job": job, "cause": cause.Error(), "failed_at": time.Now()}
		dlRaw, _ := json.Marshal(deadLetter)
		pipe.LPush(ctx, fmt.Sprintf("queue:%s:dead", q.name), dlRaw)
		pipe.Del(ctx, q.jobKey(job.ID))
	} else {
		pipe.Set(ctx, q.jobKey(job.ID), raw, 24*time.Hour)
		pipe.LPush(ctx, q.pendingKey(), job.ID.String())
	}
	_, err = pipe.Exec(ctx)
	return err
}
