// Package recommendation generates AI advisory text for a scored control and
// persists it through recommendationstore's supersede-chain, the way
// cognitive-microservice's Ollama-backed advisory generator produces one
// recommendation per finding. Runs off the background job queue, never
// inline on a request, since a model call is too slow to hold an HTTP
// request open for (§5).
package recommendation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

// JobType is the queue.Job.Type the API enqueues when an operator requests a
// recommendation refresh and the worker dispatches back into Engine.Regenerate.
const JobType = "recommendation_regen"

// JobPayload is the queue payload shape for JobType.
type JobPayload struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	ControlID    uuid.UUID `json:"control_id"`
	SubmeasureID uuid.UUID `json:"submeasure_id"`
}

// Generator produces advisory prose from a prompt. Satisfied by
// *ragquery.OllamaGenerator without importing ragquery, keeping this package
// independent of the retrieval stack.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type store interface {
	Supersede(ctx context.Context, assessmentID, controlID uuid.UUID, content string) (*domain.AIRecommendation, error)
}

type answerReader interface {
	Get(ctx context.Context, assessmentID, controlID, submeasureID uuid.UUID) (*domain.AssessmentAnswer, error)
}

type catalogReader interface {
	Control(ctx context.Context, id uuid.UUID) (*domain.Control, error)
}

// Engine generates and persists one recommendation per (assessment, control).
type Engine struct {
	store     store
	answers   answerReader
	catalog   catalogReader
	generator Generator
}

func New(store store, answers answerReader, catalog catalogReader, generator Generator) *Engine {
	return &Engine{store: store, answers: answers, catalog: catalog, generator: generator}
}

// Regenerate builds a prompt from the control's current answer and scores,
// calls the generator, and supersedes any prior recommendation for this
// pair. Idempotent per (assessment_id, control_id): calling it twice just
// adds another superseded revision, never two simultaneously-active rows,
// because Supersede runs the deactivate-then-insert in one transaction.
func (e *Engine) Regenerate(ctx context.Context, assessmentID, controlID, submeasureID uuid.UUID) (*domain.AIRecommendation, error) {
	answer, err := e.answers.Get(ctx, assessmentID, controlID, submeasureID)
	if err != nil {
		return nil, fmt.Errorf("recommendation: load answer: %w", err)
	}
	control, err := e.catalog.Control(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("recommendation: load control: %w", err)
	}

	prompt := buildPrompt(control, answer)
	content, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("recommendation: generate: %w", err)
	}

	return e.store.Supersede(ctx, assessmentID, controlID, content)
}

func buildPrompt(control *domain.Control, answer *domain.AssessmentAnswer) string {
	return fmt.Sprintf(
		"Control %s (%s).\nCurrent documentation score: %v, implementation score: %v, comments: %q.\n"+
			"Write a short, concrete recommendation in Croatian for closing the gap to full compliance.",
		control.Code, control.Name,
		scoreOrNil(answer.DocumentationScore), scoreOrNil(answer.ImplementationScore), answer.Comments,
	)
}

func scoreOrNil(s *int) any {
	if s == nil {
		return "not answered"
	}
	return *s
}
