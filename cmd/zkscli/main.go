// Command zkscli is the operator CLI for maintenance actions that don't
// belong behind the HTTP surface: questionnaire import, forced assessment
// status transitions, and triggering re-embedding after a model change.
// Built with cobra the way blackcoderx/falcon's cmd/falcon wires a root
// command with viper-bound global flags ahead of PersistentPreRunE setup.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zks-samoprocjena/compliance-engine/internal/assessment"
	"github.com/zks-samoprocjena/compliance-engine/internal/config"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/ingest"
	"github.com/zks-samoprocjena/compliance-engine/internal/questionnaire"
	"github.com/zks-samoprocjena/compliance-engine/internal/queue"
	"github.com/zks-samoprocjena/compliance-engine/internal/scoring"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/answerstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/assessmentstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/auditstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/catalogstore"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"

	redis "github.com/redis/go-redis/v9"
)

var (
	actorFlag string
	forceFlag bool
)

func main() {
	root := &cobra.Command{
		Use:   "zkscli",
		Short: "Operator CLI for the compliance engine",
	}
	root.PersistentFlags().StringVar(&actorFlag, "actor", "", "operator user id performing this action (required)")

	root.AddCommand(importQuestionnaireCmd())
	root.AddCommand(setStatusCmd())
	root.AddCommand(reembedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func importQuestionnaireCmd() *cobra.Command {
	var label string
	var file string

	cmd := &cobra.Command{
		Use:   "import-questionnaire",
		Short: "Import a questionnaire catalog from an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			q, err := questionnaire.Parse(data)
			if err != nil {
				return fmt.Errorf("parse questionnaire: %w", err)
			}

			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			catalog := catalogstore.New(pool)
			audit := auditstore.New(pool)
			if err := catalog.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := audit.EnsureSchema(ctx); err != nil {
				return err
			}

			importer := questionnaire.NewImporter(catalog, audit)
			if label == "" {
				label = file
			}
			result, err := importer.Import(ctx, q, label, actor, forceFlag)
			if err != nil {
				return err
			}
			if !result.Imported {
				fmt.Printf("no-op: content hash %s already active as version %s\n", result.Version.ContentHash, result.Version.ID)
				return nil
			}
			fmt.Printf("imported version %s (%s), content hash %s\n", result.Version.ID, label, result.Version.ContentHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the questionnaire workbook (required)")
	cmd.Flags().StringVar(&label, "label", "", "human-readable label for this version")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "import even if the content hash matches the active version")
	cmd.MarkFlagRequired("file")
	return cmd
}

func setStatusCmd() *cobra.Command {
	var assessmentIDStr, statusStr string

	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Force an assessment's status to a new value, bypassing the normal transition rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			assessmentID, err := uuid.Parse(assessmentIDStr)
			if err != nil {
				return fmt.Errorf("invalid --assessment: %w", err)
			}
			status := domain.AssessmentStatus(statusStr)

			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			catalog := catalogstore.New(pool)
			answers := answerstore.New(pool)
			assessments := assessmentstore.New(pool)
			audit := auditstore.New(pool)
			for _, ensure := range []func(context.Context) error{
				catalog.EnsureSchema, answers.EnsureSchema, assessments.EnsureSchema, audit.EnsureSchema,
			} {
				if err := ensure(ctx); err != nil {
					return err
				}
			}

			scoringEngine := scoring.New(catalog, answers, assessments)
			orchestrator := assessment.New(catalog, answers, assessments, audit, scoringEngine)

			transition, err := orchestrator.ChangeStatus(ctx, assessmentID, status, actor, true)
			if err != nil {
				return err
			}
			fmt.Printf("assessment %s: %s -> %s\n", assessmentID, transition.From, transition.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&assessmentIDStr, "assessment", "", "assessment id (required)")
	cmd.Flags().StringVar(&statusStr, "status", "", "target status: draft|in_progress|review|completed|abandoned|archived (required)")
	cmd.MarkFlagRequired("assessment")
	cmd.MarkFlagRequired("status")
	return cmd
}

func reembedCmd() *cobra.Command {
	var documentIDStr string

	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Re-queue a document (or every completed global-scope document) for re-ingestion after an embedding model change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			chunks := chunkstore.New(pool)
			if err := chunks.EnsureSchema(ctx); err != nil {
				return err
			}

			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			jobQueue := queue.New(redisClient, "jobs", cfg.Ingest.JobTimeout, 5)

			if documentIDStr != "" {
				documentID, err := uuid.Parse(documentIDStr)
				if err != nil {
					return fmt.Errorf("invalid --document: %w", err)
				}
				return enqueueReembed(ctx, jobQueue, documentID)
			}

			// With no single --document given, the only scope-safe bulk action is
			// the shared global corpus: organization-scoped documents require an
			// organization_id the CLI has no business picking on an operator's
			// behalf.
			docs, err := chunks.ListDocuments(ctx, nil, true)
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}
			requeued := 0
			for _, d := range docs {
				if d.Status != domain.DocStatusCompleted {
					continue
				}
				if err := enqueueReembed(ctx, jobQueue, d.ID); err != nil {
					return err
				}
				requeued++
			}
			fmt.Printf("re-queued %d documents\n", requeued)
			return nil
		},
	}
	cmd.Flags().StringVar(&documentIDStr, "document", "", "re-embed a single document id; omit to re-embed every completed global-scope document")
	return cmd
}

func enqueueReembed(ctx context.Context, q *queue.Queue, documentID uuid.UUID) error {
	_, err := q.Enqueue(ctx, ingest.JobTypeIngestDocument, ingest.JobPayload{DocumentID: documentID})
	return err
}

func requireActor() (uuid.UUID, error) {
	if actorFlag == "" {
		return uuid.Nil, fmt.Errorf("--actor is required")
	}
	return uuid.Parse(actorFlag)
}

func init() {
	viper.SetEnvPrefix("ZKS")
	viper.AutomaticEnv()
}
