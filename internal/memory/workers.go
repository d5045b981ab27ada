package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

// Completer asks the local small model for a completion. The librarian and
// compressor use it for extraction and merging.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExtractJob is one post-exchange extraction request.
type ExtractJob struct {
	UserText      string
	AssistantText string
	Model         string
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers        int
	QueueDepth     int
	ExtractTimeout time.Duration
}

// Pool runs the background memory workers over a bounded FIFO queue. The
// request path only ever enqueues; it never waits on extraction. Delivery
// is at-least-once, which the index tolerates through hash dedup.
type Pool struct {
	index     *Index
	legacy    *LegacyStore
	completer Completer
	pub       bus.EventPublisher
	queue     chan ExtractJob
	timeout   time.Duration
	workers   int
	wg        sync.WaitGroup
}

// NewPool creates a worker pool. completer may be nil, in which case
// extraction jobs are dropped with a warning.
func NewPool(index *Index, legacy *LegacyStore, completer Completer, pub bus.EventPublisher, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 60 * time.Second
	}
	return &Pool{
		index:     index,
		legacy:    legacy,
		completer: completer,
		pub:       pub,
		queue:     make(chan ExtractJob, cfg.QueueDepth),
		timeout:   cfg.ExtractTimeout,
		workers:   cfg.Workers,
	}
}

// Run starts the workers and blocks until ctx is cancelled and all workers
// have drained their current job.
func (p *Pool) Run(ctx context.Context) error {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Wait()
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.runExtract(ctx, job)
		}
	}
}

// EnqueueExtract queues a librarian job without blocking. A full queue
// drops the job; extraction is best-effort.
func (p *Pool) EnqueueExtract(job ExtractJob) bool {
	select {
	case p.queue <- job:
		return true
	default:
		slog.Warn("memory extract queue full, dropping job")
		return false
	}
}

// QueueLen returns the number of pending extraction jobs.
func (p *Pool) QueueLen() int { return len(p.queue) }

// runExtract executes one librarian job. Extraction failures log and drop;
// they are never visible to the client and there is no poison queue.
func (p *Pool) runExtract(ctx context.Context, job ExtractJob) {
	// Extraction gets its own timeout, independent of the request that
	// enqueued it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	ex, err := p.extract(ctx, job)
	if err != nil {
		slog.Warn("memory extraction failed", "model", job.Model, "error", err)
		return
	}
	if ex == nil {
		return
	}

	for _, cand := range ex.candidates() {
		id, created, err := p.index.Add(ctx, cand.text, cand.category, "librarian", cand.importance)
		if err != nil {
			slog.Warn("memory index insert failed", "error", err)
			continue
		}
		if created && p.pub != nil {
			p.pub.Broadcast(bus.Event{
				Name:    protocol.EventMemoryIndexed,
				Payload: bus.MemoryIndexedPayload{ID: id, Category: cand.category},
			})
		}
	}

	if err := p.legacy.Merge(ex); err != nil {
		slog.Warn("legacy memory merge failed", "error", err)
	}
}
