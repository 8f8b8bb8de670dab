package encoder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Parameter sets of a 640x480 baseline stream. The null encoder reuses
// them for every format; players only need them to be well formed.
var (
	nullSPS = []byte{
		0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0x50, 0x1e,
		0xd8, 0x08, 0x00, 0x00, 0x03, 0x00, 0x08, 0x00,
		0x00, 0x03, 0x00, 0x3c, 0x8f, 0x16, 0x2d, 0x96,
	}
	nullPPS = []byte{0x68, 0xce, 0x06, 0xe2}
	nullAUD = []byte{0x09, 0xf0}
)

// Null is an in-process encoder that emits one tiny IDR access unit per
// frame. It is used when no ffmpeg is available and in tests.
type Null struct {
	depth int

	mu      sync.Mutex
	started bool
	closed  bool
	format  Format
	input   chan time.Duration
	done    chan struct{}

	framesIn     atomic.Uint64
	accessUnits  atomic.Uint64
	backpressure atomic.Uint64
}

// NewNull creates a null encoder with an input queue of depth frames.
func NewNull(depth int) *Null {
	if depth <= 0 {
		depth = 8
	}
	return &Null{depth: depth}
}

// Start launches the delivery goroutine.
func (e *Null) Start(format Format, onAU AccessUnitFunc) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if _, err := pixFmtName(format.PixelFormat); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("encoder already started")
	}
	e.format = format
	e.input = make(chan time.Duration, e.depth)
	e.done = make(chan struct{})
	e.started = true

	go func() {
		defer close(e.done)
		for pts := range e.input {
			idr := []byte{0x65, 0x88, 0x84, byte(pts), byte(pts >> 8)}
			e.accessUnits.Add(1)
			if onAU != nil {
				onAU(pts, [][]byte{nullAUD, nullSPS, nullPPS, idr})
			}
		}
	}()
	return nil
}

// Ready reports whether the input queue has room.
func (e *Null) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed && len(e.input) < cap(e.input)
}

// Encode queues a frame without blocking.
func (e *Null) Encode(frame []byte, pts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case !e.started:
		return ErrNotStarted
	case e.closed:
		return ErrClosed
	case len(frame) != e.format.FrameSize():
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), e.format.FrameSize())
	}

	select {
	case e.input <- pts:
		e.framesIn.Add(1)
		return nil
	default:
		e.backpressure.Add(1)
		return ErrBackpressure
	}
}

// Close delivers the queued frames and stops.
func (e *Null) Close() error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.input)
	done := e.done
	e.mu.Unlock()

	<-done
	return nil
}

// Stats returns encoder counters.
func (e *Null) Stats() Stats {
	return Stats{
		FramesIn:     e.framesIn.Load(),
		AccessUnits:  e.accessUnits.Load(),
		Backpressure: e.backpressure.Load(),
	}
}
