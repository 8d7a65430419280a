// Package metrics exposes the Prometheus counters/histograms the API and
// worker binaries register against, grounded in the teacher root module's
// github.com/prometheus/client_golang dependency (cmd/metrics-server in the
// retrieved pack serves an equivalent /metrics endpoint).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zks_ingest_jobs_total",
		Help: "Ingestion jobs processed, by outcome.",
	}, []string{"outcome"})

	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zks_ingest_job_duration_seconds",
		Help:    "Wall-clock duration of document ingestion jobs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"outcome"})

	ChunksProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zks_chunks_produced_total",
		Help: "Chunks produced by the page-aware chunker.",
	})

	RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zks_retrieval_duration_seconds",
		Help:    "Duration of the retrieval pipeline, by stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	RetrievalTierHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zks_retrieval_tier_hits_total",
		Help: "Fused retrieval results, by tier_source.",
	}, []string{"tier_source"})

	ScoringRecomputeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zks_scoring_recompute_total",
		Help: "Compliance recomputations triggered by an answer write.",
	})

	AnswerWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zks_answer_writes_total",
		Help: "Assessment answer upserts accepted.",
	})

	AssessmentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zks_assessment_transitions_total",
		Help: "Assessment status transitions, by (from, to).",
	}, []string{"from", "to"})

	CitationsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zks_citations_validated_total",
		Help: "Citations processed by the validator, by outcome.",
	}, []string{"outcome"})
)
