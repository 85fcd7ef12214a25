package strategy

import (
	"sync"
	"time"

	"github.com/aristath/netqueue/internal/request"
)

// notifier holds the delegate shared by every ready strategy.
type notifier struct {
	dmu      sync.Mutex
	delegate request.ReadinessDelegate
}

func (n *notifier) SetDelegate(d request.ReadinessDelegate) {
	n.dmu.Lock()
	defer n.dmu.Unlock()
	n.delegate = d
}

func (n *notifier) notify(s request.ReadyStrategy) {
	n.dmu.Lock()
	d := n.delegate
	n.dmu.Unlock()
	if d != nil {
		d.ReadinessChanged(s)
	}
}

// ReadyAfter becomes ready once, after a fixed delay, and stays ready.
type ReadyAfter struct {
	notifier
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   int
	fired bool
}

// NewReadyAfter creates a strategy that is ready delay after Start.
func NewReadyAfter(delay time.Duration) *ReadyAfter {
	return &ReadyAfter{delay: delay}
}

// Delay returns the configured delay.
func (s *ReadyAfter) Delay() time.Duration { return s.delay }

func (s *ReadyAfter) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Start arms the timer. A running or already fired timer is left alone.
func (s *ReadyAfter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired || s.timer != nil {
		return
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

// Stop disarms a pending timer. A later Start re-arms it from zero.
func (s *ReadyAfter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *ReadyAfter) fire(gen int) {
	s.mu.Lock()
	if s.fired || s.timer == nil || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.timer = nil
	s.mu.Unlock()

	s.notify(s)
}

// ReadyFunc evaluates readiness asynchronously and reports the result through
// report, as many times as it likes.
type ReadyFunc func(report func(ready bool))

// Predicate takes its state from the last value reported by a caller-supplied
// function. Every report notifies the delegate.
type Predicate struct {
	notifier
	fn ReadyFunc

	mu    sync.Mutex
	ready bool
}

// NewPredicate creates a predicate-driven strategy. It is not ready until fn
// first reports true.
func NewPredicate(fn ReadyFunc) *Predicate {
	return &Predicate{fn: fn}
}

func (s *Predicate) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Start invokes the predicate. The last reported value is kept until the
// predicate reports again.
func (s *Predicate) Start() {
	s.fn(s.report)
}

func (s *Predicate) report(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()

	s.notify(s)
}
