package scheduler

import (
	"context"
	"time"

	"github.com/aristath/netqueue/internal/mapper"
	"github.com/aristath/netqueue/internal/request"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Submitted, not yet evaluated
	TaskBlocked                     // Waiting on dependencies or ready strategies
	TaskReady                       // Eligible, waiting for a free slot or resume
	TaskRunning                     // Transport call in flight
	TaskFinished                    // Attempt succeeded
	TaskFailed                      // Attempt ended with an error
	TaskCancelled                   // Cancelled, outcome suppressed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskBlocked:
		return "blocked"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskCancelled
}

// Task wraps one attempt of a Request. A retry creates a new Task for the
// same Request.
type Task struct {
	id        string
	req       *request.Request
	sched     *Scheduler
	mapper    mapper.ContentMapper
	priority  request.Priority
	attempt   int
	submitted time.Time

	// Guarded by sched.mu.
	status  TaskStatus
	deps    []*Task
	cancel  context.CancelFunc
	started time.Time
}

// TaskInfo is a point-in-time copy of a task's state.
type TaskInfo struct {
	ID        string
	RequestID string
	Name      string
	Priority  request.Priority
	Status    TaskStatus
	Attempt   int
	DependsOn []string // IDs of unfinished tasks that must start first
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Request returns the wrapped request.
func (t *Task) Request() *request.Request { return t.req }

// Priority returns the request priority captured at submission.
func (t *Task) Priority() request.Priority { return t.priority }

// Attempt returns the 1-based attempt number.
func (t *Task) Attempt() int { return t.attempt }

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.status
}

// DependsOn returns the IDs of unfinished tasks this task waits for.
func (t *Task) DependsOn() []string {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.dependsOnLocked()
}

// IsReady reports whether every dependency is done and the request is ready.
func (t *Task) IsReady() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.readyLocked()
}

// Cancel cancels the task. A running transport call is aborted and its
// outcome dropped. Cancelling a finished task does nothing.
func (t *Task) Cancel() {
	_ = t.sched.Cancel(t.id)
}

// Poke restarts every ready strategy of the request so newly added
// constraints are evaluated. Accumulated strategy state is kept.
func (t *Task) Poke() {
	for _, s := range t.req.ReadyStrategies() {
		s.Start()
	}
}

// ReadinessChanged implements request.ReadinessDelegate. The scheduling pass
// runs on the callback queue so strategies may notify from inside Start.
func (t *Task) ReadinessChanged(request.ReadyStrategy) {
	t.sched.queue.post(t.sched.schedule)
}

func (t *Task) wireStrategies() {
	for _, s := range t.req.ReadyStrategies() {
		s.SetDelegate(t)
		s.Start()
	}
}

func (t *Task) readyLocked() bool {
	for _, d := range t.deps {
		if !d.status.Terminal() {
			return false
		}
	}
	return t.req.IsReady()
}

func (t *Task) dependsOnLocked() []string {
	var ids []string
	for _, d := range t.deps {
		if !d.status.Terminal() {
			ids = append(ids, d.id)
		}
	}
	return ids
}

func (t *Task) mergeableLocked() bool {
	switch t.status {
	case TaskPending, TaskBlocked, TaskReady:
		return true
	}
	return false
}

func (t *Task) infoLocked() TaskInfo {
	return TaskInfo{
		ID:        t.id,
		RequestID: t.req.ID(),
		Name:      t.req.Name(),
		Priority:  t.priority,
		Status:    t.status,
		Attempt:   t.attempt,
		DependsOn: t.dependsOnLocked(),
	}
}

func stopStrategies(req *request.Request) {
	for _, s := range req.ReadyStrategies() {
		if st, ok := s.(request.Stopper); ok {
			st.Stop()
		}
	}
}
