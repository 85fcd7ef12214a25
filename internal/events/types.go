package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicQueue = "queue"
)

// Event type constants
const (
	EventTypeTaskSubmitted = "task.submitted"
	EventTypeTaskMerged    = "task.merged"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskProgress  = "task.progress"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskRetrying  = "task.retrying"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeQueueProgress = "queue.progress"
)

// TaskSubmittedEvent is published when a task enters the queue.
type TaskSubmittedEvent struct {
	ID        string
	RequestID string
	Name      string
	Method    string
	URL       string
	Priority  string
	Attempt   int
	DependsOn []string
	Timestamp time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) TaskID() string    { return e.ID }

// TaskMergedEvent is published when a duplicate submission is folded into a
// pending task.
type TaskMergedEvent struct {
	ID              string
	RequestID       string
	MergedRequestID string
	Timestamp       time.Time
}

func (e TaskMergedEvent) EventType() string { return EventTypeTaskMerged }
func (e TaskMergedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a task's transport call begins.
type TaskStartedEvent struct {
	ID        string
	RequestID string
	Name      string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskProgressEvent is published as response bytes arrive.
type TaskProgressEvent struct {
	ID        string
	RequestID string
	Received  int64
	Expected  int64
	Fraction  float64
	Timestamp time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a request's outcome is delivered
// without error.
type TaskCompletedEvent struct {
	ID         string
	RequestID  string
	Name       string
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a request's outcome is delivered with
// an error, after retries are exhausted.
type TaskFailedEvent struct {
	ID         string
	RequestID  string
	Name       string
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published when a failed attempt is resubmitted.
type TaskRetryingEvent struct {
	ID        string
	RequestID string
	Attempt   int
	Backoff   time.Duration
	Err       error
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled.
type TaskCancelledEvent struct {
	ID        string
	RequestID string
	Name      string
	Method    string
	URL       string
	Attempts  int
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// QueueProgressEvent is published when queue counts change.
type QueueProgressEvent struct {
	Total     int
	Running   int
	Pending   int
	Completed int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) TaskID() string    { return "" }
