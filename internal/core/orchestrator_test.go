package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/store"
)

type stubHistory struct {
	msgs []llm.Message
	err  error
}

func (s stubHistory) Load(context.Context, int64, int) ([]llm.Message, error) { return s.msgs, s.err }

type stubSearch struct {
	items []ContextItem
	err   error
	panic bool
}

func (s stubSearch) Search(context.Context, string, *int64, int) ([]ContextItem, error) {
	if s.panic {
		panic("unexpected")
	}
	return s.items, s.err
}

type stubLinker struct {
	media Media
	err   error
}

func (s stubLinker) Link(context.Context, []ContextItem, *int64, string) (Media, error) {
	return s.media, s.err
}

type stubComposer struct {
	answer string
	err    error
}

func (s stubComposer) Compose(context.Context, string, []ContextItem, []llm.Message, Media) (string, error) {
	return s.answer, s.err
}

func TestProcessSuccess(t *testing.T) {
	items := []ContextItem{
		{Chunk: store.Chunk{Content: "one", PageNumber: 1}, Score: 0.9},
		{Chunk: store.Chunk{Content: "two", PageNumber: 2}, Score: 0.8},
	}
	for _, parallel := range []bool{false, true} {
		o := NewOrchestrator(
			stubHistory{},
			stubSearch{items: items},
			stubLinker{media: Media{Images: images(1, 1), Tables: tables(1, 2)}},
			stubComposer{answer: "the answer"},
			OrchestratorConfig{ParallelRetrieval: parallel},
		)
		res := o.Process(context.Background(), 1, "question", nil)
		assert.Equal(t, "the answer", res.Answer)
		assert.Equal(t, StageDone, res.Stage)
		assert.Len(t, res.Sources, 4)
		assert.GreaterOrEqual(t, res.ProcessingTime, 0.0)
		assert.NoError(t, res.Err)
	}
}

func TestProcessContainsFailures(t *testing.T) {
	tests := []struct {
		name     string
		history  HistoryProvider
		search   ContextRetriever
		linker   MediaSelector
		composer AnswerComposer
		after    Stage
	}{
		{"history", stubHistory{err: errBoom}, stubSearch{}, stubLinker{}, stubComposer{answer: "a"}, StageStart},
		{"search", stubHistory{}, stubSearch{err: errBoom}, stubLinker{}, stubComposer{answer: "a"}, StageHistoryLoaded},
		{"linker", stubHistory{}, stubSearch{}, stubLinker{err: errBoom}, stubComposer{answer: "a"}, StageContextSearched},
		{"composer", stubHistory{}, stubSearch{}, stubLinker{}, stubComposer{err: errBoom}, StageMediaResolved},
		{"panic", stubHistory{}, stubSearch{panic: true}, stubLinker{}, stubComposer{answer: "a"}, StageHistoryLoaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(tt.history, tt.search, tt.linker, tt.composer, OrchestratorConfig{})

			var res Result
			require.NotPanics(t, func() {
				res = o.Process(context.Background(), 1, "question", nil)
			})
			assert.Equal(t, ApologyAnswer, res.Answer)
			assert.NotNil(t, res.Sources)
			assert.Empty(t, res.Sources)
			assert.GreaterOrEqual(t, res.ProcessingTime, 0.0)
			assert.Equal(t, StageFailed, res.Stage)
			assert.Equal(t, tt.after, res.FailedAfter)
			assert.Error(t, res.Err)
		})
	}
}

func TestProcessParallelRetrievalFailure(t *testing.T) {
	o := NewOrchestrator(stubHistory{}, stubSearch{err: errBoom}, stubLinker{}, stubComposer{answer: "a"},
		OrchestratorConfig{ParallelRetrieval: true})

	res := o.Process(context.Background(), 1, "question", nil)
	assert.Equal(t, ApologyAnswer, res.Answer)
	assert.ErrorIs(t, res.Err, errBoom)

	o = NewOrchestrator(stubHistory{}, stubSearch{panic: true}, stubLinker{}, stubComposer{answer: "a"},
		OrchestratorConfig{ParallelRetrieval: true})
	require.NotPanics(t, func() {
		res = o.Process(context.Background(), 1, "question", nil)
	})
	assert.Equal(t, ApologyAnswer, res.Answer)
	assert.Equal(t, StageStart, res.FailedAfter)
}

// An empty document still gets an answer, generated from no context.
func TestProcessEmptyDocumentEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	doc := &store.Document{Filename: "empty.pdf", FilePath: "uploads/documents/empty.pdf"}
	require.NoError(t, db.CreateDocument(ctx, doc))
	require.NoError(t, db.CompleteDocument(ctx, doc.ID, 0, 0, 0, 0))
	conv, err := db.CreateConversation(ctx, "hi", &doc.ID)
	require.NoError(t, err)

	gateway, err := NewEmbeddingGateway(&fakeEmbedder{dim: 4}, 4, 16, 0)
	require.NoError(t, err)
	completer := &fakeCompleter{answer: "Hello! Ask me about the document."}

	o := NewOrchestrator(
		NewHistoryLoader(db),
		NewContextSearcher(gateway, db, db),
		NewMediaLinker(db),
		NewResponseComposer(completer, 0),
		OrchestratorConfig{TopK: 5, HistoryLimit: 5},
	)

	res := o.Process(ctx, conv.ID, "hi", &doc.ID)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "Hello! Ask me about the document.", res.Answer)
	assert.Empty(t, res.Sources)

	require.NotEmpty(t, completer.messages)
	system := completer.messages[0].Content
	assert.NotContains(t, system, "relevant image(s)")
	assert.NotContains(t, system, "relevant table(s)")
	user := completer.messages[len(completer.messages)-1].Content
	assert.Contains(t, user, "--- DOCUMENT CONTEXT ---\n"+NoContextText+"\n--- END CONTEXT ---")
}
