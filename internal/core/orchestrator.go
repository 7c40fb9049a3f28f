package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/metrics"
)

const ApologyAnswer = "I apologize, but I encountered an error while processing your question. Please try again."

type Stage string

const (
	StageStart           Stage = "start"
	StageHistoryLoaded   Stage = "history_loaded"
	StageContextSearched Stage = "context_searched"
	StageMediaResolved   Stage = "media_resolved"
	StageAnswerGenerated Stage = "answer_generated"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

type HistoryProvider interface {
	Load(ctx context.Context, conversationID int64, limit int) ([]llm.Message, error)
}

type ContextRetriever interface {
	Search(ctx context.Context, query string, documentID *int64, k int) ([]ContextItem, error)
}

type MediaSelector interface {
	Link(ctx context.Context, items []ContextItem, documentID *int64, query string) (Media, error)
}

type AnswerComposer interface {
	Compose(ctx context.Context, query string, items []ContextItem, history []llm.Message, media Media) (string, error)
}

// Result is what a chat turn produces. ProcessingTime is in seconds.
type Result struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ProcessingTime float64  `json:"processing_time"`

	// Stage is StageDone or StageFailed; FailedAfter is the last stage
	// completed before a failure.
	Stage       Stage `json:"-"`
	FailedAfter Stage `json:"-"`
	Err         error `json:"-"`
}

type OrchestratorConfig struct {
	TopK         int
	HistoryLimit int
	// ParallelRetrieval loads history and searches context concurrently.
	ParallelRetrieval bool
}

type Orchestrator struct {
	history  HistoryProvider
	searcher ContextRetriever
	linker   MediaSelector
	composer AnswerComposer
	cfg      OrchestratorConfig
}

func NewOrchestrator(history HistoryProvider, searcher ContextRetriever, linker MediaSelector, composer AnswerComposer, cfg OrchestratorConfig) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Orchestrator{history: history, searcher: searcher, linker: linker, composer: composer, cfg: cfg}
}

// Process runs one chat turn. It never fails: any stage error yields the
// apology answer with no sources.
func (o *Orchestrator) Process(ctx context.Context, conversationID int64, message string, documentID *int64) (result Result) {
	start := time.Now()
	stage := StageStart

	defer func() {
		if r := recover(); r != nil {
			result = o.fail(stage, fmt.Errorf("panic in chat pipeline: %v", r), start)
		}
		label := result.Stage
		if label == StageFailed {
			label = result.FailedAfter
		}
		metrics.RecordPipeline(string(label), outcome(result.Stage), time.Since(start).Seconds())
	}()

	var (
		history []llm.Message
		items   []ContextItem
	)

	if o.cfg.ParallelRetrieval {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			defer recoverInto(&err)
			history, err = o.history.Load(gctx, conversationID, o.cfg.HistoryLimit)
			return err
		})
		g.Go(func() (err error) {
			defer recoverInto(&err)
			items, err = o.searcher.Search(gctx, message, documentID, o.cfg.TopK)
			return err
		})
		if err := g.Wait(); err != nil {
			return o.fail(stage, err, start)
		}
		stage = StageContextSearched
	} else {
		var err error
		if history, err = o.history.Load(ctx, conversationID, o.cfg.HistoryLimit); err != nil {
			return o.fail(stage, err, start)
		}
		stage = StageHistoryLoaded

		if items, err = o.searcher.Search(ctx, message, documentID, o.cfg.TopK); err != nil {
			return o.fail(stage, err, start)
		}
		stage = StageContextSearched
	}

	media, err := o.linker.Link(ctx, items, documentID, message)
	if err != nil {
		return o.fail(stage, err, start)
	}
	stage = StageMediaResolved

	answer, err := o.composer.Compose(ctx, message, items, history, media)
	if err != nil {
		return o.fail(stage, err, start)
	}
	stage = StageAnswerGenerated

	sources := FormatSources(items, media)
	elapsed := time.Since(start)
	log.Info().
		Int64("conversation_id", conversationID).
		Int("context_items", len(items)).
		Int("images", len(media.Images)).
		Int("tables", len(media.Tables)).
		Dur("took", elapsed).
		Msg("Chat turn answered")

	return Result{
		Answer:         answer,
		Sources:        sources,
		ProcessingTime: round2(elapsed.Seconds()),
		Stage:          StageDone,
	}
}

func (o *Orchestrator) fail(stage Stage, err error, start time.Time) Result {
	log.Error().Err(err).Str("stage", string(stage)).Msg("Chat pipeline failed")
	return Result{
		Answer:         ApologyAnswer,
		Sources:        []Source{},
		ProcessingTime: round2(time.Since(start).Seconds()),
		Stage:          StageFailed,
		FailedAfter:    stage,
		Err:            err,
	}
}

// recoverInto turns a panic in a retrieval goroutine into its error.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic in chat pipeline: %v", r)
	}
}

func outcome(stage Stage) string {
	if stage == StageDone {
		return "success"
	}
	return "failure"
}
