package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/netqueue/internal/events"
	"github.com/aristath/netqueue/internal/mapper"
	"github.com/aristath/netqueue/internal/request"
	"github.com/aristath/netqueue/internal/strategy"
	"github.com/aristath/netqueue/internal/transport"
)

var (
	// ErrClosed is returned by submissions after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrTaskNotFound is returned when an ID names no live task.
	ErrTaskNotFound = errors.New("task not found")
)

// Stats summarizes scheduler activity.
type Stats struct {
	Submitted int // Logical requests accepted
	Merged    int // Duplicate submissions folded into a pending task
	Retried   int // Attempts resubmitted by a retry strategy
	Completed int // Outcomes delivered without error
	Failed    int // Outcomes delivered with an error
	Cancelled int // Tasks cancelled
	Running   int
	Pending   int
}

type requestState struct {
	attempts int
	first    time.Time
}

// Scheduler orders, gates and runs requests. Higher-priority tasks start
// before lower-priority tasks submitted while they are pending; ready
// strategies gate each task; retry strategies resubmit failed attempts.
//
// Completions, response listeners and progress handlers run on a single
// callback goroutine in the order their outcomes were produced.
type Scheduler struct {
	transport transport.Transport
	mapper    mapper.ContentMapper
	header    http.Header
	logger    *slog.Logger
	bus       *events.EventBus
	unit      time.Duration
	prepare   PrepareFunc

	ctx   context.Context
	stop  context.CancelFunc
	queue *callbackQueue
	group errgroup.Group

	mu         sync.Mutex
	live       []*Task // submission order
	limit      int
	suspended  bool
	closed     bool
	delivering int
	changed    chan struct{}
	requests   map[string]*requestState
	stats      Stats
}

// New creates a scheduler that sends requests through tr.
func New(tr transport.Transport, opts ...Option) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		transport: tr,
		mapper:    mapper.Default(),
		header:    DefaultHeader(),
		logger:    slog.New(slog.DiscardHandler),
		unit:      time.Second,
		ctx:       ctx,
		stop:      stop,
		changed:   make(chan struct{}),
		requests:  make(map[string]*requestState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = newCallbackQueue()
	return s
}

// Submit enqueues req. A request equal to the most recently submitted task,
// while that task is still pending, is merged into it instead.
func (s *Scheduler) Submit(req *request.Request) (*Task, error) {
	return s.SubmitForced(req, false)
}

// Retry enqueues req as a new task, bypassing de-duplication.
func (s *Scheduler) Retry(req *request.Request) (*Task, error) {
	return s.SubmitForced(req, true)
}

// SubmitForced enqueues req. Unless forced, an equal request whose task is
// the most recent one and has not started absorbs req's completions and
// listeners, and that task is returned.
func (s *Scheduler) SubmitForced(req *request.Request, forced bool) (*Task, error) {
	if req == nil {
		return nil, errors.New("submit: nil request")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	if !forced {
		if last := s.lastLocked(); last != nil && last.mergeableLocked() && last.req.IsEqualTo(req) {
			last.req.Merge(req)
			s.stats.Merged++
			ready := last.readyLocked()
			s.mu.Unlock()

			s.logger.Debug("merged duplicate request",
				"task_id", last.id, "request_id", last.req.ID(), "merged_request_id", req.ID())
			s.publish(events.TopicTask, events.TaskMergedEvent{
				ID:              last.id,
				RequestID:       last.req.ID(),
				MergedRequestID: req.ID(),
				Timestamp:       time.Now(),
			})
			if !ready {
				last.Poke()
			}
			return last, nil
		}
	}

	now := time.Now()
	state := s.requests[req.ID()]
	if state == nil {
		state = &requestState{first: now}
		s.requests[req.ID()] = state
		s.stats.Submitted++
	}
	state.attempts++

	cm := req.ContentMapper()
	if cm == nil {
		cm = s.mapper
	}
	t := &Task{
		id:        uuid.NewString(),
		req:       req,
		sched:     s,
		mapper:    cm,
		priority:  req.Priority(),
		attempt:   state.attempts,
		submitted: now,
		status:    TaskPending,
	}
	s.linkLocked(t)
	s.live = append(s.live, t)
	deps := t.dependsOnLocked()
	s.mu.Unlock()

	u := req.URL()
	s.logger.Debug("task submitted",
		"task_id", t.id,
		"request_id", req.ID(),
		"method", req.Method(),
		"url", u.String(),
		"priority", t.priority.String(),
		"attempt", t.attempt,
		"depends_on", len(deps))
	s.publish(events.TopicTask, events.TaskSubmittedEvent{
		ID:        t.id,
		RequestID: req.ID(),
		Name:      req.Name(),
		Method:    string(req.Method()),
		URL:       u.String(),
		Priority:  t.priority.String(),
		Attempt:   t.attempt,
		DependsOn: deps,
		Timestamp: now,
	})

	t.wireStrategies()
	s.schedule()
	s.publishProgress()
	return t, nil
}

// SetSuspended pauses or resumes starting tasks. Running tasks continue.
func (s *Scheduler) SetSuspended(suspended bool) {
	s.mu.Lock()
	s.suspended = suspended
	s.mu.Unlock()

	s.logger.Info("scheduler suspension changed", "suspended", suspended)
	if !suspended {
		s.schedule()
	}
}

// Suspended reports whether the scheduler is suspended.
func (s *Scheduler) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// SetConcurrencyLimit bounds running tasks. 0 means unbounded. Lowering the
// limit does not stop tasks already running.
func (s *Scheduler) SetConcurrencyLimit(n int) {
	s.mu.Lock()
	s.limit = max(n, 0)
	s.mu.Unlock()
	s.schedule()
}

// ConcurrencyLimit returns the current limit.
func (s *Scheduler) ConcurrencyLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// Cancel cancels the live task with the given ID. Its completions are not
// called, and a running transport call is aborted.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	var target *Task
	for _, t := range s.live {
		if t.id == id {
			target = t
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrTaskNotFound)
	}
	attempts := s.cancelLocked(target)
	s.mu.Unlock()

	s.cancelled(target, attempts)
	s.schedule()
	s.publishProgress()
	return nil
}

// CancelAll cancels every live task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := append([]*Task(nil), s.live...)
	attempts := make([]int, len(tasks))
	for i, t := range tasks {
		attempts[i] = s.cancelLocked(t)
	}
	s.mu.Unlock()

	for i, t := range tasks {
		s.cancelled(t, attempts[i])
	}
	s.publishProgress()
}

// Tasks returns a snapshot of live tasks in submission order.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]TaskInfo, 0, len(s.live))
	for _, t := range s.live {
		infos = append(infos, t.infoLocked())
	}
	return infos
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Running returns the number of running tasks.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// Order returns live task IDs in an order that respects every priority
// dependency.
func (s *Scheduler) Order() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return orderTasks(s.live)
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// Wait blocks until no task is live and every outcome has been delivered,
// or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := len(s.live) == 0 && s.delivering == 0
		changed := s.changed
		s.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels every live task, waits for running calls to return and
// drains the callback queue. Later submissions fail with ErrClosed. Close
// must not be called from a completion.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tasks := append([]*Task(nil), s.live...)
	attempts := make([]int, len(tasks))
	for i, t := range tasks {
		attempts[i] = s.cancelLocked(t)
	}
	s.mu.Unlock()

	s.stop()
	for i, t := range tasks {
		s.cancelled(t, attempts[i])
	}

	err := s.group.Wait()
	s.queue.close()
	s.logger.Info("scheduler closed", "cancelled", len(tasks))
	return err
}

// schedule starts every task that is ready, within the concurrency limit.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	running := s.runningLocked()
	for _, t := range s.live {
		if t.status == TaskRunning {
			continue
		}
		if !t.readyLocked() {
			t.status = TaskBlocked
			continue
		}
		t.status = TaskReady
		if s.suspended || (s.limit > 0 && running >= s.limit) {
			continue
		}
		s.startLocked(t)
		running++
	}
	s.mu.Unlock()
}

func (s *Scheduler) startLocked(t *Task) {
	ctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel
	t.status = TaskRunning
	t.started = time.Now()
	s.group.Go(func() error {
		s.logger.Debug("task started", "task_id", t.id, "request_id", t.req.ID(), "attempt", t.attempt)
		s.publish(events.TopicTask, events.TaskStartedEvent{
			ID:        t.id,
			RequestID: t.req.ID(),
			Name:      t.req.Name(),
			Attempt:   t.attempt,
			Timestamp: time.Now(),
		})
		s.publishProgress()

		resp, err := s.perform(ctx, t)
		s.finish(t, resp, err)
		return nil
	})
}

// perform runs one attempt: prepare hook, transport call, content mapping
// and error mapping.
func (s *Scheduler) perform(ctx context.Context, t *Task) (*request.Response, error) {
	req := t.req
	if s.prepare != nil {
		if err := s.prepare(ctx, req); err != nil {
			return nil, mapError(req, fmt.Errorf("preparing request: %w", err))
		}
	}

	call, err := req.Call(s.header)
	if err != nil {
		return nil, mapError(req, err)
	}

	res, err := s.transport.Do(ctx, call, func(received, expected int64) {
		s.progress(t, received, expected)
	})

	var resp *request.Response
	if res != nil {
		resp = &request.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}
	}
	if err == nil {
		if resp == nil {
			resp = &request.Response{}
		}
		value, merr := t.mapper.Map(resp.Body)
		resp.Value = value
		if merr != nil {
			err = merr
		}
	}
	if err != nil {
		err = mapError(req, err)
	}
	return resp, err
}

func mapError(req *request.Request, err error) error {
	if em := req.ErrorMapper(); em != nil {
		if mapped := em.MapError(err); mapped != nil {
			return mapped
		}
	}
	return err
}

func (s *Scheduler) progress(t *Task, received, expected int64) {
	if expected <= 0 {
		return
	}
	fraction := float64(received) / float64(expected)
	s.queue.post(func() {
		s.mu.Lock()
		cancelled := t.status == TaskCancelled
		s.mu.Unlock()
		if cancelled {
			return
		}
		t.req.ReportProgress(fraction)
		s.publish(events.TopicTask, events.TaskProgressEvent{
			ID:        t.id,
			RequestID: t.req.ID(),
			Received:  received,
			Expected:  expected,
			Fraction:  fraction,
			Timestamp: time.Now(),
		})
	})
}

// finish records the end of an attempt and hands the outcome to the callback
// queue. Results of cancelled tasks are dropped.
func (s *Scheduler) finish(t *Task, resp *request.Response, err error) {
	s.mu.Lock()
	if t.status == TaskCancelled {
		s.mu.Unlock()
		s.logger.Debug("dropping result of cancelled task", "task_id", t.id, "request_id", t.req.ID())
		return
	}
	t.cancel()
	if err != nil {
		t.status = TaskFailed
	} else {
		t.status = TaskFinished
	}
	s.removeLocked(t)
	s.delivering++
	s.mu.Unlock()

	if !s.queue.post(func() { s.deliver(t, resp, err) }) {
		s.doneDelivering()
	}
	s.schedule()
}

// deliver applies the retry strategy: a positive backoff resubmits the
// request behind a delay and discards the outcome; otherwise completions and
// listeners receive it.
func (s *Scheduler) deliver(t *Task, resp *request.Response, err error) {
	defer s.doneDelivering()

	req := t.req
	if rs := req.RetryStrategy(); rs != nil {
		if backoff := rs.NextBackoff(resp.Map(), err); backoff > 0 {
			s.retry(t, backoff, err)
			return
		}
	}
	s.complete(t, resp, err)
}

func (s *Scheduler) retry(t *Task, backoff float64, cause error) {
	req := t.req
	delay := time.Duration(backoff * float64(s.unit))
	req.AddReadyStrategy(strategy.NewReadyAfter(delay))

	s.mu.Lock()
	s.stats.Retried++
	s.mu.Unlock()

	s.logger.Info("retrying request",
		"task_id", t.id,
		"request_id", req.ID(),
		"attempt", t.attempt,
		"backoff", delay,
		"error", cause)
	s.publish(events.TopicTask, events.TaskRetryingEvent{
		ID:        t.id,
		RequestID: req.ID(),
		Attempt:   t.attempt,
		Backoff:   delay,
		Err:       cause,
		Timestamp: time.Now(),
	})

	if _, err := s.Retry(req); err != nil {
		s.logger.Warn("dropping retry", "request_id", req.ID(), "error", err)
		s.mu.Lock()
		delete(s.requests, req.ID())
		s.mu.Unlock()
		stopStrategies(req)
	}
}

func (s *Scheduler) complete(t *Task, resp *request.Response, err error) {
	req := t.req
	now := time.Now()

	s.mu.Lock()
	attempts, first := t.attempt, t.submitted
	if state := s.requests[req.ID()]; state != nil {
		attempts, first = state.attempts, state.first
		delete(s.requests, req.ID())
	}
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Completed++
	}
	s.mu.Unlock()

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	u := req.URL()
	duration := now.Sub(first)

	if err != nil {
		s.logger.Warn("request failed",
			"task_id", t.id, "request_id", req.ID(), "url", u.String(),
			"attempt", attempts, "error", err)
		s.publish(events.TopicTask, events.TaskFailedEvent{
			ID:         t.id,
			RequestID:  req.ID(),
			Name:       req.Name(),
			Method:     string(req.Method()),
			URL:        u.String(),
			StatusCode: statusCode,
			Attempts:   attempts,
			Err:        err,
			Duration:   duration,
			Timestamp:  now,
		})
	} else {
		s.logger.Debug("request completed",
			"task_id", t.id, "request_id", req.ID(), "url", u.String(),
			"attempt", attempts, "status", statusCode)
		s.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:         t.id,
			RequestID:  req.ID(),
			Name:       req.Name(),
			Method:     string(req.Method()),
			URL:        u.String(),
			StatusCode: statusCode,
			Attempts:   attempts,
			Duration:   duration,
			Timestamp:  now,
		})
	}

	stopStrategies(req)
	req.Complete(resp, err)
	s.publishProgress()
}

func (s *Scheduler) doneDelivering() {
	s.mu.Lock()
	s.delivering--
	s.notifyChangedLocked()
	s.mu.Unlock()
}

// cancelLocked marks t cancelled and removes it. Returns the attempt count.
func (s *Scheduler) cancelLocked(t *Task) int {
	if t.cancel != nil {
		t.cancel()
	}
	t.status = TaskCancelled
	s.stats.Cancelled++
	attempts := t.attempt
	if state := s.requests[t.req.ID()]; state != nil {
		attempts = state.attempts
		delete(s.requests, t.req.ID())
	}
	s.removeLocked(t)
	return attempts
}

func (s *Scheduler) cancelled(t *Task, attempts int) {
	stopStrategies(t.req)
	u := t.req.URL()
	s.logger.Debug("task cancelled", "task_id", t.id, "request_id", t.req.ID())
	s.publish(events.TopicTask, events.TaskCancelledEvent{
		ID:        t.id,
		RequestID: t.req.ID(),
		Name:      t.req.Name(),
		Method:    string(t.req.Method()),
		URL:       u.String(),
		Attempts:  attempts,
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) lastLocked() *Task {
	if len(s.live) == 0 {
		return nil
	}
	return s.live[len(s.live)-1]
}

func (s *Scheduler) removeLocked(t *Task) {
	for i, other := range s.live {
		if other == t {
			s.live = append(s.live[:i], s.live[i+1:]...)
			break
		}
	}
	s.notifyChangedLocked()
}

func (s *Scheduler) notifyChangedLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) runningLocked() int {
	n := 0
	for _, t := range s.live {
		if t.status == TaskRunning {
			n++
		}
	}
	return n
}

func (s *Scheduler) statsLocked() Stats {
	st := s.stats
	st.Running = s.runningLocked()
	st.Pending = len(s.live) - st.Running
	return st
}

func (s *Scheduler) publish(topic string, ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, ev)
	}
}

func (s *Scheduler) publishProgress() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	st := s.statsLocked()
	s.mu.Unlock()
	s.bus.Publish(events.TopicQueue, events.QueueProgressEvent{
		Total:     st.Submitted,
		Running:   st.Running,
		Pending:   st.Pending,
		Completed: st.Completed,
		Failed:    st.Failed,
		Cancelled: st.Cancelled,
		Timestamp: time.Now(),
	})
}
