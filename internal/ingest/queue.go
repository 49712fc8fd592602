package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrQueueClosed = errors.New("ingest queue closed")

// Processor runs ingestion for one document.
type Processor interface {
	Process(ctx context.Context, documentID int64) error
}

// Queue feeds document ids to a fixed pool of workers. A failing or panicking
// document is logged and never stops the pool.
type Queue struct {
	proc    Processor
	workers int
	jobs    chan int64
	// done is closed by Stop to release blocked submitters.
	done     chan struct{}
	stopOnce sync.Once

	// mu is held for reading while sending on jobs and for writing to close it.
	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

func NewQueue(proc Processor, workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &Queue{proc: proc, workers: workers, jobs: make(chan int64, size), done: make(chan struct{})}
}

// Start launches the workers. They exit when Stop drains the queue or ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < q.workers; w++ {
		worker := w
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id, ok := <-q.jobs:
					if !ok {
						return nil
					}
					q.run(ctx, worker, id)
				}
			}
		})
	}
	q.group = g
	log.Info().Int("workers", q.workers).Msg("Ingestion queue started")
}

func (q *Queue) run(ctx context.Context, worker int, id int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", worker).Int64("document_id", id).Interface("panic", r).Msg("Ingestion worker recovered from panic")
		}
	}()
	if err := q.proc.Process(ctx, id); err != nil {
		log.Error().Err(err).Int("worker", worker).Int64("document_id", id).Msg("Document ingestion failed")
	}
}

// Submit enqueues a document, blocking while the queue is full. A blocked
// Submit returns ErrQueueClosed once Stop is called.
func (q *Queue) Submit(ctx context.Context, id int64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- id:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("submit document %d: %w", id, ctx.Err())
	}
}

// Stop closes the queue and waits for queued documents to finish. Documents
// still queued when the workers' context is cancelled are dropped.
func (q *Queue) Stop() error {
	q.stopOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	g := q.group
	q.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}
