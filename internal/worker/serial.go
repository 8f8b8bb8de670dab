// Package worker provides the serial execution queues used by the capture
// pipeline. Each queue runs posted closures one at a time on its own goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when posting to a closed queue.
var ErrClosed = errors.New("queue closed")

// DefaultDepth is the queue depth used when none is configured.
const DefaultDepth = 64

// Serial executes closures in FIFO order on a single goroutine.
type Serial struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	done   chan struct{}

	executed atomic.Uint64
	dropped  atomic.Uint64
	panics   atomic.Uint64
}

// NewSerial creates and starts a queue holding at most depth pending tasks.
func NewSerial(name string, depth int, logger *slog.Logger) *Serial {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{
		name:   name,
		logger: logger.With(slog.String("queue", name)),
		tasks:  make(chan func(), depth),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// TryPost enqueues fn without blocking. It returns false, counting a drop,
// when the queue is full or closed.
func (s *Serial) TryPost(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.tasks <- fn:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Post enqueues fn, waiting for space if the queue is full.
func (s *Serial) Post(fn func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	s.tasks <- fn
	return nil
}

// Do enqueues fn and waits until it has run or ctx is done.
func (s *Serial) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := s.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s queue: %w", s.name, ctx.Err())
	}
}

// Drain waits until every task posted before the call has run.
func (s *Serial) Drain(ctx context.Context) error {
	return s.Do(ctx, func() {})
}

// Close stops accepting tasks, runs the remaining ones and waits for the
// queue goroutine to exit. Close is idempotent.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()
	<-s.done
}

// Name returns the queue name.
func (s *Serial) Name() string {
	return s.name
}

// Stats returns queue statistics.
func (s *Serial) Stats() Stats {
	return Stats{
		Name:     s.name,
		Pending:  len(s.tasks),
		Capacity: cap(s.tasks),
		Executed: s.executed.Load(),
		Dropped:  s.dropped.Load(),
		Panics:   s.panics.Load(),
	}
}

// Stats holds queue statistics.
type Stats struct {
	Name     string `json:"name"`
	Pending  int    `json:"pending"`
	Capacity int    `json:"capacity"`
	Executed uint64 `json:"executed"`
	Dropped  uint64 `json:"dropped"`
	Panics   uint64 `json:"panics"`
}

func (s *Serial) run() {
	defer close(s.done)
	for fn := range s.tasks {
		s.execute(fn)
	}
}

func (s *Serial) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("queue task panicked", slog.Any("panic", r))
		}
	}()
	fn()
	s.executed.Add(1)
}
