package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/aristath/netqueue/internal/mapper"
	"github.com/aristath/netqueue/internal/transport"
)

// Request describes one logical unit of network work. It is configuration,
// not executable: the scheduler wraps it in a task per attempt.
// All methods are safe for concurrent use.
type Request struct {
	id     string
	method Method
	url    *url.URL

	mu            sync.Mutex
	name          string
	header        http.Header
	params        map[string]any
	body          []byte
	priority      Priority
	retry         RetryStrategy
	ready         []ReadyStrategy
	contentMapper mapper.ContentMapper
	errorMapper   mapper.ErrorMapper
	completions   []Completion
	progress      ProgressHandler
	listeners     []listenerEntry
	nextListener  uint64
}

type listenerEntry struct {
	id       uint64
	listener ResponseListener
}

// Option configures a Request at construction.
type Option func(*Request)

// WithName sets a human-readable label used in logs and the dashboard.
func WithName(name string) Option { return func(r *Request) { r.name = name } }

// WithHeader sets the request headers. Without it the scheduler's default
// headers apply.
func WithHeader(h http.Header) Option { return func(r *Request) { r.header = h.Clone() } }

// WithParameters sets parameters, which take part in equality.
func WithParameters(p map[string]any) Option { return func(r *Request) { r.params = p } }

// WithBody sets a raw body. It takes precedence over parameter encoding.
func WithBody(b []byte) Option { return func(r *Request) { r.body = b } }

// WithPriority sets the priority (default PriorityDefault).
func WithPriority(p Priority) Option { return func(r *Request) { r.priority = p } }

// WithRetryStrategy sets the retry policy.
func WithRetryStrategy(s RetryStrategy) Option { return func(r *Request) { r.retry = s } }

// WithReadyStrategy appends a ready strategy.
func WithReadyStrategy(s ReadyStrategy) Option {
	return func(r *Request) { r.ready = append(r.ready, s) }
}

// WithContentMapper overrides the scheduler's content mapper.
func WithContentMapper(m mapper.ContentMapper) Option {
	return func(r *Request) { r.contentMapper = m }
}

// WithErrorMapper sets the error mapper.
func WithErrorMapper(m mapper.ErrorMapper) Option { return func(r *Request) { r.errorMapper = m } }

// WithCompletion appends a completion.
func WithCompletion(c Completion) Option {
	return func(r *Request) { r.completions = append(r.completions, c) }
}

// WithProgress sets the progress handler.
func WithProgress(p ProgressHandler) Option { return func(r *Request) { r.progress = p } }

// New creates a request for method and rawURL.
func New(method Method, rawURL string, opts ...Option) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if method == "" {
		method = MethodGet
	}

	r := &Request{
		id:       uuid.New().String(),
		method:   method,
		url:      u,
		priority: PriorityDefault,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ID returns the request's unique identifier.
func (r *Request) ID() string { return r.id }

// Method returns the HTTP method.
func (r *Request) Method() Method { return r.method }

// URL returns a copy of the target URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Name returns the label, falling back to "METHOD URL".
func (r *Request) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.name != "" {
		return r.name
	}
	return string(r.method) + " " + r.url.String()
}

// Header returns a copy of the request headers (nil if unset).
func (r *Request) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Clone()
}

// SetHeader replaces the request headers.
func (r *Request) SetHeader(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = h.Clone()
}

// Parameters returns the parameter map.
func (r *Request) Parameters() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Priority returns the priority.
func (r *Request) Priority() Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.priority
}

// SetPriority changes the priority. Dependency edges are computed at
// submission, so changes made after submitting do not reorder queued tasks.
func (r *Request) SetPriority(p Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priority = p
}

// RetryStrategy returns the retry policy (may be nil).
func (r *Request) RetryStrategy() RetryStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retry
}

// SetRetryStrategy replaces the retry policy.
func (r *Request) SetRetryStrategy(s RetryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry = s
}

// ContentMapper returns the request's mapper override (may be nil).
func (r *Request) ContentMapper() mapper.ContentMapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentMapper
}

// SetContentMapper sets the mapper override.
func (r *Request) SetContentMapper(m mapper.ContentMapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentMapper = m
}

// ErrorMapper returns the error mapper (may be nil).
func (r *Request) ErrorMapper() mapper.ErrorMapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorMapper
}

// SetErrorMapper sets the error mapper.
func (r *Request) SetErrorMapper(m mapper.ErrorMapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorMapper = m
}

// AddCompletion appends a completion. All completions fire in append order.
func (r *Request) AddCompletion(c Completion) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
}

// AddReadyStrategy appends a ready strategy. Wiring and starting happen when
// the owning task is created.
func (r *Request) AddReadyStrategy(s ReadyStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, s)
}

// ReadyStrategies returns a snapshot of the ready strategies.
func (r *Request) ReadyStrategies() []ReadyStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReadyStrategy(nil), r.ready...)
}

// IsReady is the AND of all ready strategies; true when there are none.
func (r *Request) IsReady() bool {
	for _, s := range r.ReadyStrategies() {
		if !s.IsReady() {
			return false
		}
	}
	return true
}

// ListenerHandle unregisters a response listener.
type ListenerHandle struct {
	req *Request
	id  uint64
}

// Remove unregisters the listener. Safe to call more than once.
func (h ListenerHandle) Remove() {
	if h.req == nil {
		return
	}
	h.req.mu.Lock()
	defer h.req.mu.Unlock()
	for i, e := range h.req.listeners {
		if e.id == h.id {
			h.req.listeners = append(h.req.listeners[:i], h.req.listeners[i+1:]...)
			return
		}
	}
}

// AddResponseListener registers l until the returned handle is removed.
// The registry keeps l reachable; callers that drop the handle keep
// receiving outcomes for the life of the request.
func (r *Request) AddResponseListener(l ResponseListener) ListenerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextListener++
	r.listeners = append(r.listeners, listenerEntry{id: r.nextListener, listener: l})
	return ListenerHandle{req: r, id: r.nextListener}
}

// ResponseListeners returns the registered listeners.
func (r *Request) ResponseListeners() []ResponseListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResponseListener, 0, len(r.listeners))
	for _, e := range r.listeners {
		out = append(out, e.listener)
	}
	return out
}

// Merge folds other's completions and listeners into r. Used when a
// duplicate submission is de-duplicated into an already queued request.
// Handles returned by other.AddResponseListener do not affect r.
func (r *Request) Merge(other *Request) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	completions := append([]Completion(nil), other.completions...)
	listeners := make([]ResponseListener, 0, len(other.listeners))
	for _, e := range other.listeners {
		listeners = append(listeners, e.listener)
	}
	other.mu.Unlock()

	r.mu.Lock()
	r.completions = append(r.completions, completions...)
	r.mu.Unlock()
	for _, l := range listeners {
		r.AddResponseListener(l)
	}
}

// Complete delivers the final outcome: every completion in order, then every
// response listener.
func (r *Request) Complete(resp *Response, err error) {
	r.mu.Lock()
	completions := append([]Completion(nil), r.completions...)
	r.mu.Unlock()

	for _, c := range completions {
		c(r, resp, err)
	}

	var value any
	if resp != nil {
		value = resp.Value
	}
	for _, l := range r.ResponseListeners() {
		l.ResponseReceived(value, err)
	}
}

// ReportProgress forwards a progress fraction to the progress handler.
func (r *Request) ReportProgress(fraction float64) {
	r.mu.Lock()
	p := r.progress
	r.mu.Unlock()
	if p != nil {
		p(r, fraction)
	}
}

// IsEqualTo reports whether both requests target the same method and URL
// with equal parameters. ID, priority and callbacks are ignored.
func (r *Request) IsEqualTo(other *Request) bool {
	if other == nil {
		return false
	}
	if r == other {
		return true
	}
	if r.method != other.method || r.url.String() != other.url.String() {
		return false
	}
	return sameParameters(r.Parameters(), other.Parameters())
}

// Key hashes method, URL and parameters. Equal requests share a key.
func (r *Request) Key() (uint64, error) {
	return hashstructure.Hash(struct {
		Method string
		URL    string
		Params map[string]any
	}{string(r.method), r.url.String(), r.Parameters()}, hashstructure.FormatV2, nil)
}

func sameParameters(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ha, errA := hashstructure.Hash(a, hashstructure.FormatV2, nil)
	hb, errB := hashstructure.Hash(b, hashstructure.FormatV2, nil)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return ha == hb
}

// Call builds the transport call. defaultHeader applies when the request has
// no headers of its own. Parameters go to the query string for GET, HEAD and
// DELETE, and into a JSON body otherwise unless a raw body was set.
func (r *Request) Call(defaultHeader http.Header) (*transport.Call, error) {
	r.mu.Lock()
	header := r.header.Clone()
	params := r.params
	body := r.body
	r.mu.Unlock()

	if len(header) == 0 {
		header = defaultHeader.Clone()
	}

	u := r.URL()
	if body == nil && len(params) > 0 {
		switch r.method {
		case MethodGet, MethodHead, MethodDelete:
			q := u.Query()
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			u.RawQuery = q.Encode()
		default:
			encoded, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("encoding parameters: %w", err)
			}
			body = encoded
		}
	}

	return &transport.Call{
		Method: string(r.method),
		URL:    u,
		Header: header,
		Body:   body,
	}, nil
}
