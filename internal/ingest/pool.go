package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
)

// Worker pool defaults.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 10
)

// ErrQueueFull is returned by Submit when the ingestion queue is at
// capacity. Callers surface it as backpressure to the uploader.
var ErrQueueFull = errors.New("ingest: queue full")

// Pool runs ingestion jobs on a fixed set of workers over a bounded queue.
// Uploads are accepted immediately and processed asynchronously; the
// tracker is the only window into job progress.
type Pool struct {
	pipeline *Pipeline
	jobs     chan string
	log      *slog.Logger

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	closed   chan struct{}
	closeOne sync.Once
}

// NewPool starts workers draining the job queue. Non-positive workers or
// queueSize fall back to the defaults. Close must be called to stop the
// workers.
func NewPool(pipeline *Pipeline, workers, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		pipeline: pipeline,
		jobs:     make(chan string, queueSize),
		log:      log,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}
	return p
}

// worker drains jobs until the queue is closed.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for path := range p.jobs {
		// Errors are already recorded on the tracker; the worker only logs.
		if err := p.pipeline.Ingest(ctx, path); err != nil {
			p.log.Debug("ingest worker: job failed",
				slog.Int("worker", id),
				slog.String("path", path),
			)
		}
	}
}

// Submit enqueues the file at path for ingestion and marks it pending.
// Returns ErrQueueFull when the queue has no room.
func (p *Pool) Submit(path string) error {
	select {
	case <-p.closed:
		return errors.New("ingest: pool closed")
	default:
	}

	// Mark pending before enqueueing so a fast worker can never be outraced
	// into having its processing state overwritten.
	filename := filepath.Base(path)
	p.pipeline.Tracker.SetPending(filename)

	select {
	case p.jobs <- path:
		return nil
	default:
		p.pipeline.Tracker.Delete(filename)
		return ErrQueueFull
	}
}

// Close stops accepting jobs, waits for in-flight jobs to finish and
// releases the workers.
func (p *Pool) Close() {
	p.closeOne.Do(func() {
		close(p.closed)
		close(p.jobs)
		p.wg.Wait()
		p.cancel()
	})
}
