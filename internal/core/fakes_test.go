package core

import (
	"context"
	"errors"
	"sync"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/store"
)

var errBoom = errors.New("boom")

type fakeEmbedder struct {
	mu     sync.Mutex
	dim    int
	err    error
	calls  int
	inputs []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = 1
	}
	return vec, nil
}

type fakeIndex struct {
	results   []store.ScoredChunk
	err       error
	lastDocID *int64
	lastK     int
}

func (f *fakeIndex) InsertChunk(context.Context, *store.Chunk) error { return nil }
func (f *fakeIndex) GetChunk(context.Context, int64) (*store.Chunk, error) { return nil, nil }
func (f *fakeIndex) DeleteDocumentChunks(context.Context, int64) (int64, error) { return 0, nil }
func (f *fakeIndex) CountDocumentChunks(context.Context, int64) (int, error) { return len(f.results), nil }

func (f *fakeIndex) SearchChunks(_ context.Context, _ []float32, documentID *int64, k int) ([]store.ScoredChunk, error) {
	f.lastDocID = documentID
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

type fakeMediaStore struct {
	images    []store.Image
	tables    []store.Table
	lookupErr error
	listErr   error
	pageErr   error
	listCalls int
}

func (f *fakeMediaStore) GetImagesByIDs(_ context.Context, ids []int64) ([]store.Image, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []store.Image
	for _, id := range ids {
		for _, img := range f.images {
			if img.ID == id {
				out = append(out, img)
			}
		}
	}
	return out, nil
}

func (f *fakeMediaStore) GetTablesByIDs(_ context.Context, ids []int64) ([]store.Table, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []store.Table
	for _, id := range ids {
		for _, tbl := range f.tables {
			if tbl.ID == id {
				out = append(out, tbl)
			}
		}
	}
	return out, nil
}

func (f *fakeMediaStore) ListImagesByDocument(_ context.Context, documentID int64, limit int) ([]store.Image, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Image
	for _, img := range f.images {
		if img.DocumentID == documentID && len(out) < limit {
			out = append(out, img)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) ListTablesByDocument(_ context.Context, documentID int64, limit int) ([]store.Table, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Table
	for _, tbl := range f.tables {
		if tbl.DocumentID == documentID && len(out) < limit {
			out = append(out, tbl)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) ListImagesByPage(_ context.Context, documentID int64, page, limit int) ([]store.Image, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	var out []store.Image
	for _, img := range f.images {
		if img.DocumentID == documentID && img.PageNumber == page && len(out) < limit {
			out = append(out, img)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) ListTablesByPage(_ context.Context, documentID int64, page, limit int) ([]store.Table, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	var out []store.Table
	for _, tbl := range f.tables {
		if tbl.DocumentID == documentID && tbl.PageNumber == page && len(out) < limit {
			out = append(out, tbl)
		}
	}
	return out, nil
}

type fakeCompleter struct {
	answer   string
	err      error
	messages []llm.Message
	opts     llm.CompletionOptions
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	f.messages = messages
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func images(docID int64, ids ...int64) []store.Image {
	out := make([]store.Image, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Image{ID: id, DocumentID: docID, PageNumber: int(id), Caption: "figure", FilePath: "uploads/images/img.png"})
	}
	return out
}

func tables(docID int64, ids ...int64) []store.Table {
	out := make([]store.Table, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Table{ID: id, DocumentID: docID, PageNumber: int(id), Caption: "results", ImagePath: "uploads/tables/t.png", Rows: 2, Columns: 3})
	}
	return out
}

func ptr[T any](v T) *T { return &v }
