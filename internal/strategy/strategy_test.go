package strategy

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/netqueue/internal/request"
)

// recordingDelegate counts readiness notifications.
type recordingDelegate struct {
	mu    sync.Mutex
	count int
	ch    chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{ch: make(chan struct{}, 64)}
}

func (d *recordingDelegate) ReadinessChanged(request.ReadyStrategy) {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *recordingDelegate) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *recordingDelegate) waitNotify(t *testing.T) {
	t.Helper()
	select {
	case <-d.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for readiness notification")
	}
}

// fakeMonitor lets tests drive connectivity reports by hand.
type fakeMonitor struct {
	mu      sync.Mutex
	reports []func(bool)
	started chan struct{}
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{started: make(chan struct{}, 8)}
}

func (m *fakeMonitor) Watch(ctx context.Context, report func(bool)) {
	m.mu.Lock()
	m.reports = append(m.reports, report)
	m.mu.Unlock()
	m.started <- struct{}{}
	<-ctx.Done()
}

func (m *fakeMonitor) waitWatch(t *testing.T) {
	t.Helper()
	select {
	case <-m.started:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor was never watched")
	}
}

// send reports to the most recent watch.
func (m *fakeMonitor) send(reachable bool) {
	m.mu.Lock()
	report := m.reports[len(m.reports)-1]
	m.mu.Unlock()
	report(reachable)
}

func TestReadyAfter_FiresOnce(t *testing.T) {
	d := newRecordingDelegate()
	s := NewReadyAfter(20 * time.Millisecond)
	s.SetDelegate(d)

	if s.IsReady() {
		t.Fatal("should not be ready before Start")
	}
	s.Start()
	s.Start() // second start keeps the running timer
	d.waitNotify(t)

	if !s.IsReady() {
		t.Fatal("should be ready after the delay")
	}
	s.Start()
	time.Sleep(40 * time.Millisecond)
	if got := d.Count(); got != 1 {
		t.Errorf("expected one notification, got %d", got)
	}
}

func TestReadyAfter_StopPreventsFire(t *testing.T) {
	d := newRecordingDelegate()
	s := NewReadyAfter(20 * time.Millisecond)
	s.SetDelegate(d)

	s.Start()
	s.Stop()
	time.Sleep(50 * time.Millisecond)
	if s.IsReady() || d.Count() != 0 {
		t.Fatalf("stopped timer fired: ready=%v notifications=%d", s.IsReady(), d.Count())
	}

	s.Start()
	d.waitNotify(t)
	if !s.IsReady() {
		t.Error("restarted timer should fire")
	}
}

func TestPredicate_LastReportWins(t *testing.T) {
	d := newRecordingDelegate()
	var report func(bool)
	s := NewPredicate(func(r func(bool)) { report = r })
	s.SetDelegate(d)

	s.Start()
	if s.IsReady() {
		t.Fatal("predicate should start not ready")
	}

	report(true)
	if !s.IsReady() {
		t.Error("expected ready after reporting true")
	}
	report(false)
	if s.IsReady() {
		t.Error("expected not ready after reporting false")
	}
	if got := d.Count(); got != 2 {
		t.Errorf("expected 2 notifications, got %d", got)
	}
}

func TestReachability_Transitions(t *testing.T) {
	m := newFakeMonitor()
	d := newRecordingDelegate()
	s := NewReachability(m, time.Hour)
	s.SetDelegate(d)

	s.Start()
	m.waitWatch(t)
	if s.IsReady() || s.State() != ReachabilityUnknown {
		t.Fatalf("unexpected initial state %v", s.State())
	}

	m.send(true)
	if !s.IsReady() || s.State() != Reachable {
		t.Fatalf("expected reachable, got %v", s.State())
	}
	m.send(true)
	if got := d.Count(); got != 1 {
		t.Errorf("repeated report should not notify, got %d notifications", got)
	}

	m.send(false)
	if s.IsReady() || s.State() != Unreachable {
		t.Fatalf("expected unreachable, got %v", s.State())
	}
	if got := d.Count(); got != 2 {
		t.Errorf("expected 2 notifications, got %d", got)
	}
	s.Stop()
}

func TestReachability_TimeoutMakesReady(t *testing.T) {
	m := newFakeMonitor()
	d := newRecordingDelegate()
	s := NewReachability(m, 30*time.Millisecond)
	s.SetDelegate(d)

	s.Start()
	m.waitWatch(t)
	m.send(false)
	d.waitNotify(t)
	if s.IsReady() {
		t.Fatal("should not be ready while the timeout is pending")
	}

	d.waitNotify(t)
	if !s.IsReady() || s.State() != TimedOut {
		t.Fatalf("expected timed out and ready, got %v", s.State())
	}

	// Restarting keeps the expired timeout.
	s.Start()
	m.waitWatch(t)
	if !s.IsReady() {
		t.Error("restart should not clear an expired timeout")
	}

	// Regaining then losing connectivity starts a fresh timeout.
	m.send(true)
	m.send(false)
	if s.IsReady() {
		t.Error("losing connectivity again should restart the timeout")
	}
	s.Stop()
}

func TestReachability_ZeroTimeoutWaitsForever(t *testing.T) {
	m := newFakeMonitor()
	s := NewReachability(m, 0)
	s.Start()
	m.waitWatch(t)
	m.send(false)
	time.Sleep(20 * time.Millisecond)
	if s.IsReady() {
		t.Error("zero timeout should never time out")
	}
	s.Stop()
}

func TestExponentialBackOff(t *testing.T) {
	s := NewExponentialBackOff(5)
	fail := errors.New("boom")

	if got := s.NextBackoff(nil, nil); got != 0 {
		t.Errorf("success should not retry, got %v", got)
	}

	want := []float64{math.Log(2), math.Log(3), math.Log(4), math.Log(5), 0}
	for i, w := range want {
		got := s.NextBackoff(nil, fail)
		if math.Abs(got-w) > 1e-9 {
			t.Errorf("failure %d: backoff = %v, want %v", i+1, got, w)
		}
	}
	if s.Count() != 5 {
		t.Errorf("Count = %d, want 5", s.Count())
	}
}

func TestExponentialBackOff_LimitOne(t *testing.T) {
	s := NewExponentialBackOff(1)
	if got := s.NextBackoff(nil, errors.New("x")); got != 0 {
		t.Errorf("limit 1 should never retry, got %v", got)
	}
}

func TestPredicateRetry(t *testing.T) {
	s := NewPredicateRetry(3, func(resp map[string]any, err error) bool {
		return err != nil || resp["status"] == "pending"
	})

	if got := s.NextBackoff(map[string]any{"status": "done"}, nil); got != 0 {
		t.Errorf("done should not retry, got %v", got)
	}
	if got := s.NextBackoff(map[string]any{"status": "pending"}, nil); math.Abs(got-math.Log(2)) > 1e-9 {
		t.Errorf("pending should retry after ln 2, got %v", got)
	}
	if got := s.NextBackoff(nil, errors.New("x")); got <= 0 {
		t.Errorf("error should retry, got %v", got)
	}
	if got := s.NextBackoff(nil, errors.New("x")); got != 0 {
		t.Errorf("limit reached, got %v", got)
	}
}

func TestBackOffRetry_ConstantPolicy(t *testing.T) {
	s := NewBackOffRetryWithPolicy(backoff.NewConstantBackOff(250*time.Millisecond), 3, time.Second)
	fail := errors.New("boom")

	for i := 0; i < 2; i++ {
		if got := s.NextBackoff(nil, fail); math.Abs(got-0.25) > 1e-9 {
			t.Errorf("attempt %d: backoff = %v, want 0.25", i+1, got)
		}
	}
	if got := s.NextBackoff(nil, fail); got != 0 {
		t.Errorf("limit reached, got %v", got)
	}
}

func TestBackOffRetry_StopAndSuccess(t *testing.T) {
	s := NewBackOffRetryWithPolicy(&backoff.StopBackOff{}, 0, time.Second)
	if got := s.NextBackoff(nil, errors.New("x")); got != 0 {
		t.Errorf("stop policy should not retry, got %v", got)
	}

	cfg := DefaultRetryConfig()
	cfg.RandomizationFactor = 0
	cfg.Limit = 0
	r := NewBackOffRetry(cfg, time.Millisecond)
	if got := r.NextBackoff(nil, errors.New("x")); math.Abs(got-500) > 1e-6 {
		t.Errorf("first backoff = %v units, want 500", got)
	}
	if got := r.NextBackoff(nil, nil); got != 0 {
		t.Errorf("success should not retry, got %v", got)
	}
}
