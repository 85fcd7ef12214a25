package strategy

import (
	"context"
	"net"
	"sync"
	"time"
)

// ReachabilityState is the observed connectivity state.
type ReachabilityState int

const (
	ReachabilityUnknown ReachabilityState = iota // No report yet
	Reachable                                    // Monitor reports connectivity
	Unreachable                                  // Monitor reports no connectivity
	TimedOut                                     // Unreachable for longer than the timeout
)

func (s ReachabilityState) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ConnectivityMonitor watches network connectivity.
type ConnectivityMonitor interface {
	// Watch reports connectivity until ctx is done. It should report the
	// initial state promptly and then only changes.
	Watch(ctx context.Context, report func(reachable bool))
}

// Reachability is ready when the network is reachable, or once it has been
// unreachable (or unknown) for longer than the timeout. A zero timeout waits
// for connectivity indefinitely.
type Reachability struct {
	notifier
	monitor ConnectivityMonitor
	timeout time.Duration

	mu        sync.Mutex
	state     ReachabilityState
	reachable bool
	timedOut  bool
	timer     *time.Timer
	timerGen  int
	watchGen  int
	cancel    context.CancelFunc
}

// NewReachability creates a reachability-gated strategy.
func NewReachability(monitor ConnectivityMonitor, timeout time.Duration) *Reachability {
	return &Reachability{monitor: monitor, timeout: timeout}
}

// State returns the current state.
func (s *Reachability) State() ReachabilityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Reachability) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable || s.timedOut
}

// Start (re)starts the connectivity watch. An already expired timeout stays
// expired, and a running timer keeps running.
func (s *Reachability) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.watchGen++
	gen := s.watchGen
	if !s.reachable && !s.timedOut && s.timer == nil {
		s.startTimerLocked()
	}
	s.mu.Unlock()

	go s.monitor.Watch(ctx, func(reachable bool) { s.update(gen, reachable) })
}

// Stop ends the watch and disarms the timer.
func (s *Reachability) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.disableTimerLocked()
}

func (s *Reachability) update(gen int, reachable bool) {
	s.mu.Lock()
	if gen != s.watchGen {
		s.mu.Unlock()
		return
	}
	if s.state != ReachabilityUnknown && s.reachable == reachable {
		s.mu.Unlock()
		return
	}

	s.reachable = reachable
	if reachable {
		s.state = Reachable
		s.disableTimerLocked()
		s.timedOut = false
	} else {
		s.state = Unreachable
		s.disableTimerLocked()
		s.timedOut = false
		s.startTimerLocked()
	}
	s.mu.Unlock()

	s.notify(s)
}

func (s *Reachability) startTimerLocked() {
	if s.timeout <= 0 {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.timeout, func() { s.expire(gen) })
}

func (s *Reachability) disableTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Reachability) expire(gen int) {
	s.mu.Lock()
	if gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.timedOut = true
	if !s.reachable {
		s.state = TimedOut
	}
	s.mu.Unlock()

	s.notify(s)
}

// DialMonitor probes connectivity by dialing a TCP address periodically.
type DialMonitor struct {
	Address     string        // host:port to dial
	Interval    time.Duration // Probe interval (default 5s)
	DialTimeout time.Duration // Per-probe timeout (default 3s)
}

// Watch dials Address every Interval and reports changes.
func (m DialMonitor) Watch(ctx context.Context, report func(reachable bool)) {
	interval := m.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	dialTimeout := m.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	last := false
	for {
		reachable := m.probe(ctx, dialTimeout)
		if ctx.Err() != nil {
			return
		}
		if first || reachable != last {
			report(reachable)
			first = false
			last = reachable
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m DialMonitor) probe(ctx context.Context, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
