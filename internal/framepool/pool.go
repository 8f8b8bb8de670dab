// Package framepool holds recently captured frames so callers can commit a
// window of frames after the fact.
package framepool

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// DefaultCapacity is the number of frames retained when no capacity is configured.
const DefaultCapacity = 120

// Config configures a Pool.
type Config struct {
	// Capacity is the maximum number of frames held. When a store pushes the
	// pool over capacity the lowest-numbered frame is evicted.
	Capacity int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

// Pool is a bounded, frame-number keyed store with a committed set.
// A committed frame number is never returned by RetrieveRange again until Clear.
type Pool struct {
	mu        sync.Mutex
	capacity  int
	frames    map[uint64]*models.Frame
	order     numberHeap
	committed map[uint64]struct{}

	stored    atomic.Uint64
	evicted   atomic.Uint64
	commits   atomic.Uint64
	misses    atomic.Uint64
	overwrite atomic.Uint64
}

// New creates a pool.
func New(cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Pool{
		capacity:  cfg.Capacity,
		frames:    make(map[uint64]*models.Frame, cfg.Capacity+1),
		committed: make(map[uint64]struct{}),
	}
}

// Store inserts the frame, replacing any frame with the same number, and
// evicts the lowest-numbered frame if the pool is over capacity.
// The pool takes ownership of the frame; callers must not mutate it afterwards.
func (p *Pool) Store(frame *models.Frame) {
	if frame == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.frames[frame.Number]; exists {
		p.overwrite.Add(1)
	} else {
		heap.Push(&p.order, frame.Number)
	}
	p.frames[frame.Number] = frame
	p.stored.Add(1)

	for len(p.frames) > p.capacity && p.order.Len() > 0 {
		n := heap.Pop(&p.order).(uint64)
		if _, ok := p.frames[n]; !ok {
			continue // removed earlier
		}
		delete(p.frames, n)
		p.evicted.Add(1)
	}

	if p.order.Len() > 2*p.capacity {
		p.compact()
	}
}

// Retrieve returns the frame with the given number. It does not touch the
// committed set.
func (p *Pool) Retrieve(number uint64) (*models.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.frames[number]
	if !ok {
		p.misses.Add(1)
	}
	return f, ok
}

// RetrieveRange returns the present, uncommitted frames numbered
// center-radius through center+radius in ascending order and marks each of
// them committed. Missing and already committed numbers are skipped.
func (p *Pool) RetrieveRange(center uint64, radius uint64) []*models.Frame {
	lo := uint64(0)
	if center > radius {
		lo = center - radius
	}
	hi := center + radius
	if hi < center {
		hi = ^uint64(0)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.Frame
	for n := lo; ; n++ {
		if _, done := p.committed[n]; !done {
			if f, ok := p.frames[n]; ok {
				p.committed[n] = struct{}{}
				p.commits.Add(1)
				out = append(out, f)
			} else {
				p.misses.Add(1)
			}
		}
		if n == hi {
			break
		}
	}
	return out
}

// IsCommitted reports whether the frame number has been committed.
func (p *Pool) IsCommitted(number uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.committed[number]
	return ok
}

// Remove deletes the frame with the given number if present. The committed
// set is left untouched.
func (p *Pool) Remove(number uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.frames, number)
}

// Clear drops every frame and resets the committed set.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = make(map[uint64]*models.Frame, p.capacity+1)
	p.order = p.order[:0]
	p.committed = make(map[uint64]struct{})
}

// Len returns the number of frames currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Capacity returns the configured capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// compact rebuilds the heap from the live keys. Caller holds mu.
func (p *Pool) compact() {
	p.order = p.order[:0]
	for n := range p.frames {
		p.order = append(p.order, n)
	}
	heap.Init(&p.order)
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	held := len(p.frames)
	committed := len(p.committed)
	p.mu.Unlock()

	return Stats{
		Held:        held,
		Capacity:    p.capacity,
		Committed:   committed,
		Stored:      p.stored.Load(),
		Evicted:     p.evicted.Load(),
		Commits:     p.commits.Load(),
		Misses:      p.misses.Load(),
		Overwritten: p.overwrite.Load(),
	}
}

// Stats holds pool statistics.
type Stats struct {
	Held        int    `json:"held"`
	Capacity    int    `json:"capacity"`
	Committed   int    `json:"committed"`
	Stored      uint64 `json:"stored"`
	Evicted     uint64 `json:"evicted"`
	Commits     uint64 `json:"commits"`
	Misses      uint64 `json:"misses"`
	Overwritten uint64 `json:"overwritten"`
}

// numberHeap is a min-heap of frame numbers.
type numberHeap []uint64

func (h numberHeap) Len() int           { return len(h) }
func (h numberHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h numberHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *numberHeap) Push(x any) { *h = append(*h, x.(uint64)) }

func (h *numberHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
