package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

const DefaultWorkers = 4

// Processor handles one message. *Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, msg Message) Result
}

// WorkerPool runs a Processor over incoming messages with bounded
// concurrency. Submit blocks while every worker is busy.
type WorkerPool struct {
	ctx       context.Context
	processor Processor
	pool      *pool.Pool
	log       *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool whose workers inherit ctx's values but not its
// cancellation, so messages already submitted still finish during shutdown.
func NewWorkerPool(ctx context.Context, workers int, processor Processor, log *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerPool{
		ctx:       context.WithoutCancel(ctx),
		processor: processor,
		pool:      pool.New().WithMaxGoroutines(workers),
		log:       log,
	}
}

// Submit hands msg to a worker.
func (w *WorkerPool) Submit(msg Message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrPoolClosed
	}

	w.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("panic processing message", "topic", msg.Topic, "panic", r)
			}
		}()
		w.processor.Process(w.ctx, msg)
	})
	return nil
}

// Close stops accepting messages and waits for in-flight ones to finish.
func (w *WorkerPool) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.pool.Wait()
}

// Submitter accepts messages from a transport.
type Submitter interface {
	Submit(msg Message) error
}

var _ Submitter = (*WorkerPool)(nil)
