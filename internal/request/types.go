package request

import (
	"fmt"
	"net/http"
	"strings"
)

// Method is an HTTP request method.
type Method string

const (
	MethodHead   Method = http.MethodHead
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
	MethodPatch  Method = http.MethodPatch
)

// ParseMethod converts a case-insensitive method name. Empty means GET.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return MethodGet, nil
	case MethodHead, MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// Priority orders pending requests. Higher priorities start first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityDefault:
		return "default"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name. Empty means PriorityDefault.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "default", "normal":
		return PriorityDefault, nil
	case "high":
		return PriorityHigh, nil
	case "highest":
		return PriorityHighest, nil
	default:
		return PriorityDefault, fmt.Errorf("unknown priority %q", s)
	}
}

// Response is the outcome of one attempt. On transport failure it may be nil
// or carry only the partial status, headers and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Value      any // Mapped content
}

// Map returns the mapped value when it is a JSON object, nil otherwise.
func (r *Response) Map() map[string]any {
	if r == nil {
		return nil
	}
	m, _ := r.Value.(map[string]any)
	return m
}

// Completion is invoked once per terminal outcome of a request.
type Completion func(req *Request, resp *Response, err error)

// ProgressHandler receives the fraction of the body received so far.
type ProgressHandler func(req *Request, fraction float64)

// ReadinessDelegate is notified whenever a ready strategy's state changes.
type ReadinessDelegate interface {
	ReadinessChanged(s ReadyStrategy)
}

// ReadyStrategy gates whether a request may start.
type ReadyStrategy interface {
	// SetDelegate replaces the receiver of change notifications.
	SetDelegate(d ReadinessDelegate)
	// IsReady reports the current state.
	IsReady() bool
	// Start begins (or re-triggers) evaluation. Calling Start again must not
	// reset state that has already been accumulated.
	Start()
}

// Stopper is implemented by ready strategies that own timers or goroutines.
type Stopper interface {
	Stop()
}

// RetryStrategy decides whether a finished attempt is retried.
type RetryStrategy interface {
	// NextBackoff returns the delay in backoff units before the next attempt,
	// or 0 to stop retrying and deliver the outcome.
	NextBackoff(resp map[string]any, err error) float64
}

// ResponseListener observes final outcomes alongside completions.
type ResponseListener interface {
	ResponseReceived(value any, err error)
}

// ListenerFunc adapts a plain function to ResponseListener.
type ListenerFunc func(value any, err error)

func (f ListenerFunc) ResponseReceived(value any, err error) { f(value, err) }

// FilteredListener forwards only outcomes accepted by Filter.
type FilteredListener struct {
	Filter   func(value any, err error) bool
	Callback func(value any, err error)
}

// NewFilteredListener creates a FilteredListener.
func NewFilteredListener(filter func(any, error) bool, callback func(any, error)) *FilteredListener {
	return &FilteredListener{Filter: filter, Callback: callback}
}

func (l *FilteredListener) ResponseReceived(value any, err error) {
	if l.Filter(value, err) {
		l.Callback(value, err)
	}
}
