package request

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type stubStrategy struct {
	ready    bool
	delegate ReadinessDelegate
	starts   int
}

func (s *stubStrategy) SetDelegate(d ReadinessDelegate) { s.delegate = d }
func (s *stubStrategy) IsReady() bool                   { return s.ready }
func (s *stubStrategy) Start()                          { s.starts++ }

func mustNew(t *testing.T, method Method, rawURL string, opts ...Option) *Request {
	t.Helper()
	r, err := New(method, rawURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestIsEqualTo(t *testing.T) {
	tests := []struct {
		name string
		a, b *Request
		want bool
	}{
		{
			name: "same method url and params",
			a:    mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 1})),
			b:    mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 1}), WithPriority(PriorityHighest)),
			want: true,
		},
		{
			name: "no params on either side",
			a:    mustNew(t, MethodGet, "https://api.test/items"),
			b:    mustNew(t, MethodGet, "https://api.test/items"),
			want: true,
		},
		{
			name: "different params",
			a:    mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 1})),
			b:    mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 2})),
			want: false,
		},
		{
			name: "get vs post same url",
			a:    mustNew(t, MethodGet, "https://api.test/items"),
			b:    mustNew(t, MethodPost, "https://api.test/items"),
			want: false,
		},
		{
			name: "different url",
			a:    mustNew(t, MethodGet, "https://api.test/items"),
			b:    mustNew(t, MethodGet, "https://api.test/other"),
			want: false,
		},
		{
			name: "nested params equal regardless of map order",
			a:    mustNew(t, MethodPost, "https://api.test/q", WithParameters(map[string]any{"a": []any{1, 2}, "b": map[string]any{"x": "y"}})),
			b:    mustNew(t, MethodPost, "https://api.test/q", WithParameters(map[string]any{"b": map[string]any{"x": "y"}, "a": []any{1, 2}})),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.IsEqualTo(tt.b); got != tt.want {
				t.Errorf("IsEqualTo = %v, want %v", got, tt.want)
			}
			if got := tt.b.IsEqualTo(tt.a); got != tt.want {
				t.Errorf("IsEqualTo (reversed) = %v, want %v", got, tt.want)
			}
			if tt.a.ID() == tt.b.ID() {
				t.Error("distinct requests must have distinct IDs")
			}
		})
	}
}

func TestKey_MatchesEquality(t *testing.T) {
	a := mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 1}))
	b := mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 1}))
	c := mustNew(t, MethodGet, "https://api.test/items", WithParameters(map[string]any{"page": 3}))

	ka, err := a.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	kb, _ := b.Key()
	kc, _ := c.Key()
	if ka != kb {
		t.Error("equal requests should share a key")
	}
	if ka == kc {
		t.Error("different params should change the key")
	}
}

func TestIsReady_ANDOfStrategies(t *testing.T) {
	r := mustNew(t, MethodGet, "https://api.test/")
	if !r.IsReady() {
		t.Fatal("request without strategies should be ready")
	}

	s1 := &stubStrategy{ready: true}
	s2 := &stubStrategy{ready: false}
	r.AddReadyStrategy(s1)
	r.AddReadyStrategy(s2)
	if r.IsReady() {
		t.Error("expected not ready while one strategy is not ready")
	}

	s2.ready = true
	if !r.IsReady() {
		t.Error("expected ready once all strategies are ready")
	}
}

func TestComplete_OrderAndListeners(t *testing.T) {
	var order []string
	r := mustNew(t, MethodGet, "https://api.test/", WithCompletion(func(req *Request, resp *Response, err error) {
		order = append(order, "first")
	}))
	r.AddCompletion(func(req *Request, resp *Response, err error) { order = append(order, "second") })
	r.AddCompletion(func(req *Request, resp *Response, err error) { order = append(order, "third") })

	var heard []any
	handle := r.AddResponseListener(ListenerFunc(func(value any, err error) {
		heard = append(heard, value)
	}))

	r.Complete(&Response{Value: "v1"}, nil)
	if diff := cmp.Diff([]string{"first", "second", "third"}, order); diff != "" {
		t.Errorf("completion order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{"v1"}, heard); diff != "" {
		t.Errorf("listener values mismatch (-want +got):\n%s", diff)
	}

	handle.Remove()
	handle.Remove()
	r.Complete(&Response{Value: "v2"}, nil)
	if len(heard) != 1 {
		t.Errorf("removed listener should not be called, got %v", heard)
	}
}

func TestFilteredListener(t *testing.T) {
	var errs []error
	l := NewFilteredListener(
		func(value any, err error) bool { return err != nil },
		func(value any, err error) { errs = append(errs, err) },
	)

	r := mustNew(t, MethodGet, "https://api.test/")
	r.AddResponseListener(l)
	r.Complete(&Response{Value: 1}, nil)
	r.Complete(nil, errors.New("offline"))

	if len(errs) != 1 || errs[0].Error() != "offline" {
		t.Errorf("expected only the error outcome, got %v", errs)
	}
}

func TestMerge(t *testing.T) {
	var calls []string
	a := mustNew(t, MethodGet, "https://api.test/", WithCompletion(func(*Request, *Response, error) { calls = append(calls, "a") }))
	b := mustNew(t, MethodGet, "https://api.test/", WithCompletion(func(*Request, *Response, error) { calls = append(calls, "b") }))
	var listened int
	b.AddResponseListener(ListenerFunc(func(any, error) { listened++ }))

	a.Merge(b)
	a.Merge(a)
	a.Complete(nil, nil)

	if diff := cmp.Diff([]string{"a", "b"}, calls); diff != "" {
		t.Errorf("merged completions mismatch (-want +got):\n%s", diff)
	}
	if listened != 1 {
		t.Errorf("expected merged listener to fire once, got %d", listened)
	}
}

func TestCall_Encoding(t *testing.T) {
	defaults := http.Header{"Content-Type": []string{"application/json"}}

	get := mustNew(t, MethodGet, "https://api.test/search?lang=en", WithParameters(map[string]any{"q": "go lang", "page": 2}))
	call, err := get.Call(defaults)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	q := call.URL.Query()
	if q.Get("q") != "go lang" || q.Get("page") != "2" || q.Get("lang") != "en" {
		t.Errorf("unexpected query %q", call.URL.RawQuery)
	}
	if call.Body != nil {
		t.Errorf("GET should not carry a body, got %q", call.Body)
	}
	if call.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected default header, got %v", call.Header)
	}

	post := mustNew(t, MethodPost, "https://api.test/items",
		WithParameters(map[string]any{"name": "widget"}),
		WithHeader(http.Header{"Authorization": []string{"Bearer t"}}))
	call, err = post.Call(defaults)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(call.Body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded["name"] != "widget" {
		t.Errorf("unexpected body %s", call.Body)
	}
	if call.Header.Get("Content-Type") != "" || call.Header.Get("Authorization") != "Bearer t" {
		t.Errorf("request headers should replace defaults, got %v", call.Header)
	}

	raw := mustNew(t, MethodPut, "https://api.test/blob", WithBody([]byte{1, 2, 3}), WithParameters(map[string]any{"ignored": true}))
	call, _ = raw.Call(nil)
	if diff := cmp.Diff([]byte{1, 2, 3}, call.Body); diff != "" {
		t.Errorf("raw body should win over parameters (-want +got):\n%s", diff)
	}
}

func TestParsePriorityAndMethod(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityDefault, PriorityHigh, PriorityHighest} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePriority(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
	if !(PriorityLow < PriorityDefault && PriorityDefault < PriorityHigh && PriorityHigh < PriorityHighest) {
		t.Error("priorities must be ordered low < default < high < highest")
	}

	m, err := ParseMethod("patch")
	if err != nil || m != MethodPatch {
		t.Errorf("ParseMethod(patch) = %v, %v", m, err)
	}
	if m, _ := ParseMethod(""); m != MethodGet {
		t.Errorf("empty method should default to GET, got %v", m)
	}
	if _, err := ParseMethod("TRACE"); err == nil {
		t.Error("expected error for unsupported method")
	}
}
