package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finquery/finquery/internal/checkpoint"
	"github.com/finquery/finquery/internal/genai"
	"github.com/finquery/finquery/internal/observability"
	"github.com/finquery/finquery/internal/store"
)

const (
	ClientsTable     = "financial_advisor_clients"
	AllocationsTable = "client_target_allocations"
)

const (
	OutcomeAnswered      = "answered"
	OutcomeRejected      = "rejected"
	OutcomeNotUnderstood = "not_understood"
	OutcomeFailed        = "failed"
)

type Dependencies struct {
	Store       store.Store
	Generator   genai.Generator
	Checkpoints checkpoint.Store
	Logger      *slog.Logger
	// SubjectGrader defaults to a fixed yes, which lets every question
	// through to the SQL stages.
	SubjectGrader Classifier
}

// Pipeline is the question-answering state machine: a fixed stage sequence
// over a shared State with a single conditional fork after subject grading.
type Pipeline struct {
	store         store.Store
	generator     genai.Generator
	checkpoints   checkpoint.Store
	logger        *slog.Logger
	subjectGrader Classifier
	intentGrader  Classifier
	entityGrader  Classifier
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	subjectGrader := deps.SubjectGrader
	if subjectGrader == nil {
		subjectGrader = FixedClassifier{Verdict: VerdictYes}
	}
	return &Pipeline{
		store:         deps.Store,
		generator:     deps.Generator,
		checkpoints:   deps.Checkpoints,
		logger:        logger,
		subjectGrader: subjectGrader,
		intentGrader:  FixedClassifier{Verdict: VerdictYes},
		entityGrader:  FixedClassifier{Verdict: VerdictYes},
	}, nil
}

type stage struct {
	name string
	run  func(ctx context.Context, st *State) error
}

// Run executes one pipeline invocation. threadID is the caller-supplied
// conversation key; it is only used for checkpointing, never interpreted.
func (p *Pipeline) Run(ctx context.Context, question, threadID string) (Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With(slog.String("run_id", runID), slog.String("thread_id", threadID))
	st := &State{Question: question}

	if err := p.runStage(ctx, logger, stage{"subject_grader", p.subjectGraderStage}, st); err != nil {
		observability.ObservePipelineRun(OutcomeFailed)
		return Result{}, err
	}

	if st.Subject != VerdictYes {
		if err := p.runStage(ctx, logger, stage{"no_financial_question", p.noFinancialQuestionStage}, st); err != nil {
			observability.ObservePipelineRun(OutcomeFailed)
			return Result{}, err
		}
		result := Result{TextAnswer: st.RejectionAnswer}
		p.finish(ctx, logger, st, runID, threadID, OutcomeRejected, result)
		return result, nil
	}

	stages := []stage{
		{"user_intent_generator", p.userIntentStage},
		{"extract_entities", p.extractEntitiesStage},
		{"sql_generator", p.sqlGeneratorStage},
		{"sql_grader", p.sqlGraderStage},
		{"execute_query", p.executeQueryStage},
		{"generate_answer", p.generateAnswerStage},
	}
	for _, s := range stages {
		if err := p.runStage(ctx, logger, s, st); err != nil {
			if errors.Is(err, ErrEmptyQuery) {
				logger.Warn("no sql extracted, short-circuiting", slog.String("stage", s.name))
				result := Result{TextAnswer: NotUnderstoodMessage}
				p.finish(ctx, logger, st, runID, threadID, OutcomeNotUnderstood, result)
				return result, nil
			}
			observability.ObservePipelineRun(OutcomeFailed)
			return Result{}, err
		}
	}

	result := Result{Query: st.Query, Data: st.Records, TextAnswer: st.FinalAnswer}
	p.finish(ctx, logger, st, runID, threadID, OutcomeAnswered, result)
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, s stage, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := s.run(ctx, st)
	observability.ObserveStageDuration(s.name, time.Since(start))
	if err != nil {
		logger.Error("stage failed",
			slog.String("stage", s.name),
			slog.String("duration", time.Since(start).String()),
			slog.Any("error", err),
		)
		return err
	}
	logger.Debug("stage complete",
		slog.String("stage", s.name),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, st *State, runID, threadID, outcome string, result Result) {
	observability.ObservePipelineRun(outcome)
	if p.checkpoints == nil {
		return
	}
	err := p.checkpoints.Save(ctx, checkpoint.Checkpoint{
		ThreadID:   threadID,
		RunID:      runID,
		Question:   st.Question,
		Outcome:    outcome,
		Query:      st.Query,
		TextAnswer: result.TextAnswer,
	})
	if err != nil {
		// Checkpoints are best-effort; the answer still goes out.
		logger.Warn("checkpoint save failed", slog.Any("error", err))
	}
}

// subjectGraderStage fails closed: a classification error or unparseable
// verdict routes to the rejection path instead of crashing the run.
func (p *Pipeline) subjectGraderStage(ctx context.Context, st *State) error {
	verdict, err := p.subjectGrader.Classify(ctx, st.Question)
	if err != nil {
		p.logger.Warn("subject classification failed, treating as non-financial", slog.Any("error", err))
		st.Subject = VerdictNo
		return nil
	}
	if verdict == VerdictUnset {
		verdict = VerdictNo
	}
	st.Subject = verdict
	return nil
}

func (p *Pipeline) userIntentStage(ctx context.Context, st *State) error {
	verdict, err := p.intentGrader.Classify(ctx, st.Question)
	if err != nil {
		return fmt.Errorf("grade user intent: %w", err)
	}
	st.UserIntent = verdict
	return nil
}

func (p *Pipeline) extractEntitiesStage(ctx context.Context, st *State) error {
	verdict, err := p.entityGrader.Classify(ctx, st.Question)
	if err != nil {
		return fmt.Errorf("extract entities: %w", err)
	}
	st.Entities = verdict
	return nil
}

func (p *Pipeline) sqlGeneratorStage(ctx context.Context, st *State) error {
	clientsSchema, err := p.tableSchema(ctx, ClientsTable)
	if err != nil {
		return err
	}
	allocationsSchema, err := p.tableSchema(ctx, AllocationsTable)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf(
		"With this data schema:\nTABLE %s\n%s\nand this data schema:\nTABLE %s\n%s\n\nYou are a helpful SQL assistant financial advisor answering the following question:\n%s\n\nReturn only the sql query that will answer the question. Remember to use ilike without %% for case-insensitive matching.",
		ClientsTable, clientsSchema,
		AllocationsTable, allocationsSchema,
		st.Question,
	)
	answer, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate sql: %w", err)
	}

	st.Query = ExtractSQL(answer)
	if st.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

func (p *Pipeline) sqlGraderStage(_ context.Context, st *State) error {
	if !IsAllowedSQL(st.Query) {
		st.QueryValid = VerdictNo
		return ErrQueryRejected
	}
	st.QueryValid = VerdictYes
	return nil
}

func (p *Pipeline) executeQueryStage(ctx context.Context, st *State) error {
	result, err := p.store.Execute(ctx, st.Query)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	observability.ObserveQueryDuration(result.Duration)
	st.Records = result.Records
	return nil
}

func (p *Pipeline) generateAnswerStage(ctx context.Context, st *State) error {
	data, err := json.Marshal(st.Records)
	if err != nil {
		return fmt.Errorf("serialize query result: %w", err)
	}

	prompt := fmt.Sprintf(
		"You are a helpful assistant financial advisor generating a user-friendly response to the following question:\n%s\nand this data:\n%s\n\nReturn only the user-friendly response.",
		st.Question,
		string(data),
	)
	answer, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}

	st.FinalAnswer = strings.TrimSpace(answer)
	st.RejectionAnswer = ""
	return nil
}

func (p *Pipeline) noFinancialQuestionStage(_ context.Context, st *State) error {
	st.RejectionAnswer = RejectionMessage
	return nil
}

func (p *Pipeline) tableSchema(ctx context.Context, table string) (string, error) {
	columns, err := p.store.Schema(ctx, table)
	if err != nil {
		if errors.Is(err, store.ErrTableNotFound) {
			return "", fmt.Errorf("table %q: %w", table, ErrStoreNotInitialized)
		}
		return "", fmt.Errorf("fetch %q schema: %w", table, err)
	}

	var b strings.Builder
	for _, column := range columns {
		fmt.Fprintf(&b, "%s %s\n", column.Name, column.Type)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
