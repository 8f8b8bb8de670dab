// Package recorder writes the per-stream outputs of a recording session.
//
// Every recorder owns a private serial queue. Samples are posted without
// blocking and dropped (and counted) only when that queue is full; control
// operations wait for space and are never dropped. Lifecycle:
//
//	Unprepared -> Preparing -> Writing -> Finished
//
// Samples posted while Preparing run after the prepare task. Samples that
// arrive after Finish are ignored.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/worker"
)

// State is the lifecycle state of a recorder.
type State int32

// Recorder states.
const (
	StateUnprepared State = iota
	StatePreparing
	StateWriting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUnprepared:
		return "unprepared"
	case StatePreparing:
		return "preparing"
	case StateWriting:
		return "writing"
	case StateFinished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrAlreadyPrepared is returned when Prepare is called twice.
var ErrAlreadyPrepared = errors.New("recorder already prepared")

// Recorder is the lifecycle shared by every stream recorder.
type Recorder interface {
	Prepare(dir, recordingID string) error
	Finish(ctx context.Context) error
	State() State
	Stats() Stats
	// Path is the final output file. It is empty until Prepare.
	Path() string
}

// Stats holds per-recorder counters.
type Stats struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Options configures the lifecycle core shared by the recorders.
type Options struct {
	Logger     *slog.Logger
	QueueDepth int
}

// lifecycle implements the state machine and queue handling.
type lifecycle struct {
	name   string
	opts   Options
	logger *slog.Logger

	state atomic.Int32
	queue *worker.Serial

	mu   sync.Mutex
	path string
	err  error

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func (l *lifecycle) setup(name string, opts Options) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l.name = name
	l.opts = opts
	l.logger = observability.WithComponent(opts.Logger, "recorder").With(slog.String("stream", name))
}

// prepare moves to Preparing, starts the queue and posts open.
func (l *lifecycle) prepare(recordingID string, open func() (string, error)) error {
	l.mu.Lock()
	if !l.state.CompareAndSwap(int32(StateUnprepared), int32(StatePreparing)) {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", l.name, ErrAlreadyPrepared)
	}
	l.queue = worker.NewSerial("recorder."+l.name, l.opts.QueueDepth,
		observability.WithRecordingID(l.logger, recordingID))
	queue := l.queue
	l.mu.Unlock()

	return queue.Post(func() {
		path, err := open()
		l.mu.Lock()
		l.path = path
		l.err = err
		l.mu.Unlock()
		if err != nil {
			observability.WithError(l.logger, err).Error("recorder prepare failed")
			return
		}
		l.state.CompareAndSwap(int32(StatePreparing), int32(StateWriting))
		l.logger.Debug("recorder writing", slog.String("path", path))
	})
}

// post queues a sample task. fn runs only while Writing.
func (l *lifecycle) post(fn func()) {
	queue := l.currentQueue()
	if state := State(l.state.Load()); queue == nil || state == StateFinished {
		l.logger.Debug("sample ignored", slog.String("state", state.String()))
		return
	}
	ok := queue.TryPost(func() {
		if State(l.state.Load()) != StateWriting {
			return
		}
		fn()
	})
	if ok {
		return
	}
	// A closed queue means Finish won the race; that sample is ignored,
	// not dropped.
	if State(l.state.Load()) == StateFinished {
		return
	}
	l.dropped.Add(1)
}

// finish runs close on the queue, waits for it and shuts the queue down.
func (l *lifecycle) finish(ctx context.Context, close func(ctx context.Context) error) (err error) {
	current := State(l.state.Load())
	if current == StateUnprepared || current == StateFinished {
		return nil
	}

	done := observability.TimedOperationWithError(ctx, l.logger, "finish_"+l.name, &err)
	defer done()

	queue := l.currentQueue()
	var closeErr error
	if err := queue.Do(ctx, func() {
		wasWriting := State(l.state.Swap(int32(StateFinished))) == StateWriting
		if wasWriting {
			closeErr = close(ctx)
		}
	}); err != nil {
		return err
	}
	queue.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	return closeErr
}

func (l *lifecycle) stats() Stats {
	return Stats{
		Name:    l.name,
		State:   State(l.state.Load()).String(),
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
		Failed:  l.failed.Load(),
	}
}

func (l *lifecycle) currentQueue() *worker.Serial {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue
}

func (l *lifecycle) outputPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *lifecycle) setPath(p string) {
	l.mu.Lock()
	l.path = p
	l.mu.Unlock()
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State { return State(l.state.Load()) }

// Stats returns the recorder counters.
func (l *lifecycle) Stats() Stats { return l.stats() }

// Path returns the output file path.
func (l *lifecycle) Path() string { return l.outputPath() }

// sampleFailed records a per-sample write failure at the recorder boundary.
func (l *lifecycle) sampleFailed(err error) {
	if l.failed.Add(1) == 1 {
		observability.WithError(l.logger, err).Warn("sample write failed")
	}
}
