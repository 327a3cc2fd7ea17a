package printer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrSpoolerClosed = errors.New("print spooler closed")
	ErrSpoolerFull   = errors.New("print spooler queue full")
)

const defaultQueueSize = 32

// Spooler prints jobs one at a time in the order they were submitted.
// Render failures are logged and the job is dropped.
type Spooler struct {
	renderer Renderer
	queue    chan Job
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewSpooler(r Renderer, queueSize int, timeout time.Duration, log *slog.Logger) *Spooler {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Spooler{
		renderer: r,
		queue:    make(chan Job, queueSize),
		timeout:  timeout,
		log:      log.With("renderer", r.Name()),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit queues a job without blocking.
func (s *Spooler) Submit(job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSpoolerClosed
	}
	select {
	case s.queue <- job:
		return nil
	default:
		return ErrSpoolerFull
	}
}

// Close stops accepting jobs and waits for the queued ones to print.
func (s *Spooler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Spooler) run() {
	defer s.wg.Done()
	for job := range s.queue {
		s.render(job)
	}
}

func (s *Spooler) render(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.renderer.Render(ctx, job); err != nil {
		s.log.Error("failed to print telegram", "packet_id", job.PacketID, "from", job.From.ShortName, "error", err)
		return
	}
	s.log.Debug("telegram printed", "packet_id", job.PacketID, "from", job.From.ShortName)
}
