package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Runner executes ingestions in background goroutines and waits for them
// on shutdown.
type Runner struct {
	processor *Processor
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRunner(processor *Processor) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{processor: processor, ctx: ctx, cancel: cancel}
}

func (r *Runner) Start(documentID int64, doc *ExtractedDocument) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.processor.Process(r.ctx, documentID, doc); err != nil {
			log.Error().Err(err).Int64("document_id", documentID).Msg("Document ingestion failed")
		}
	}()
}

// Shutdown waits for running ingestions. When ctx expires first they are
// cancelled, marked as failed, and ctx.Err() is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
