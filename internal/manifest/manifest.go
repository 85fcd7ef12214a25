// Package manifest reads batches of request descriptions from YAML or JSON.
package manifest

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/netqueue/internal/config"
	"github.com/aristath/netqueue/internal/mapper"
	"github.com/aristath/netqueue/internal/request"
	"github.com/aristath/netqueue/internal/strategy"
)

// Manifest is a batch of requests. JSON documents parse as YAML.
type Manifest struct {
	Defaults Defaults `yaml:"defaults"`
	Requests []Entry  `yaml:"requests"`
}

// Defaults apply to every entry that does not set the field itself.
type Defaults struct {
	Headers  map[string]string `yaml:"headers"`
	Priority string            `yaml:"priority"`
	Retry    *Retry            `yaml:"retry"`
}

// Entry describes one request.
type Entry struct {
	Name         string            `yaml:"name"`
	Method       string            `yaml:"method"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Params       map[string]any    `yaml:"params"`
	Body         string            `yaml:"body"`
	Priority     string            `yaml:"priority"`
	Response     string            `yaml:"response"` // "json" (default), "json-or-empty" or "raw"
	Retry        *Retry            `yaml:"retry"`
	Delay        time.Duration     `yaml:"delay"`
	Reachability *Reachability     `yaml:"reachability"`
}

// Retry overrides the configured retry strategy for an entry.
type Retry struct {
	Kind  string `yaml:"kind"` // "exponential", "backoff" or "none"
	Limit int    `yaml:"limit"`
}

// Reachability gates an entry on a TCP address becoming reachable.
type Reachability struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every invalid entry at once.
func (m *Manifest) Validate() error {
	if len(m.Requests) == 0 {
		return errors.New("manifest contains no requests")
	}
	var errs []error
	if _, err := request.ParsePriority(m.Defaults.Priority); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	if err := m.Defaults.Retry.validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	for i, e := range m.Requests {
		if err := e.validate(); err != nil {
			errs = append(errs, fmt.Errorf("requests[%d] %s: %w", i, e.label(), err))
		}
	}
	return errors.Join(errs...)
}

func (e Entry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}

func (e Entry) validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not http or https", u.Scheme)
	}
	if _, err := request.ParseMethod(e.Method); err != nil {
		return err
	}
	if _, err := request.ParsePriority(e.Priority); err != nil {
		return err
	}
	if e.Body != "" && len(e.Params) > 0 {
		return errors.New("body and params are mutually exclusive")
	}
	switch e.Response {
	case "", "json", "json-or-empty", "raw":
	default:
		return fmt.Errorf("response %q is not one of json, json-or-empty, raw", e.Response)
	}
	if e.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	if r := e.Reachability; r != nil && r.Address == "" {
		return errors.New("reachability.address is required")
	}
	return e.Retry.validate()
}

func (r *Retry) validate() error {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case "", "exponential", "backoff", "none":
	default:
		return fmt.Errorf("retry.kind %q is not one of exponential, backoff, none", r.Kind)
	}
	if r.Limit < 0 {
		return errors.New("retry.limit must not be negative")
	}
	return nil
}

// Build creates one request per entry. defaults supplies the retry policy
// that entries refine, and unit is the scheduler's backoff unit.
func (m *Manifest) Build(defaults config.RetryConfig, unit time.Duration) ([]*request.Request, error) {
	defaults = m.Defaults.Retry.apply(defaults)

	reqs := make([]*request.Request, 0, len(m.Requests))
	for i, e := range m.Requests {
		req, err := m.build(e, defaults, unit)
		if err != nil {
			return nil, fmt.Errorf("requests[%d] %s: %w", i, e.label(), err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (m *Manifest) build(e Entry, defaults config.RetryConfig, unit time.Duration) (*request.Request, error) {
	method, err := request.ParseMethod(e.Method)
	if err != nil {
		return nil, err
	}
	prio := e.Priority
	if prio == "" {
		prio = m.Defaults.Priority
	}
	priority, err := request.ParsePriority(prio)
	if err != nil {
		return nil, err
	}

	opts := []request.Option{
		request.WithName(e.Name),
		request.WithPriority(priority),
	}
	if h := mergeHeaders(m.Defaults.Headers, e.Headers); len(h) > 0 {
		opts = append(opts, request.WithHeader(h))
	}
	if len(e.Params) > 0 {
		opts = append(opts, request.WithParameters(e.Params))
	}
	if e.Body != "" {
		opts = append(opts, request.WithBody([]byte(e.Body)))
	}
	switch e.Response {
	case "raw":
		opts = append(opts, request.WithContentMapper(mapper.Passthrough{}))
	case "json-or-empty":
		opts = append(opts, request.WithContentMapper(mapper.NewJSON(true)))
	case "json":
		opts = append(opts, request.WithContentMapper(mapper.NewJSON(false)))
	}
	if rs := retryStrategy(e.Retry.apply(defaults), unit); rs != nil {
		opts = append(opts, request.WithRetryStrategy(rs))
	}
	if e.Delay > 0 {
		opts = append(opts, request.WithReadyStrategy(strategy.NewReadyAfter(e.Delay)))
	}
	if r := e.Reachability; r != nil {
		monitor := strategy.DialMonitor{Address: r.Address}
		opts = append(opts, request.WithReadyStrategy(strategy.NewReachability(monitor, r.Timeout)))
	}

	return request.New(method, e.URL, opts...)
}

func (r *Retry) apply(cfg config.RetryConfig) config.RetryConfig {
	if r == nil {
		return cfg
	}
	if r.Kind != "" {
		cfg.Kind = r.Kind
	}
	if r.Limit > 0 {
		cfg.Limit = r.Limit
	}
	return cfg
}

func retryStrategy(cfg config.RetryConfig, unit time.Duration) request.RetryStrategy {
	switch cfg.Kind {
	case "exponential":
		return strategy.NewExponentialBackOff(cfg.Limit)
	case "backoff":
		return strategy.NewBackOffRetry(strategy.RetryConfig{
			InitialInterval:     cfg.InitialInterval.Duration,
			MaxInterval:         cfg.MaxInterval.Duration,
			MaxElapsedTime:      cfg.MaxElapsedTime.Duration,
			Multiplier:          cfg.Multiplier,
			RandomizationFactor: cfg.RandomizationFactor,
			Limit:               cfg.Limit,
		}, unit)
	default:
		return nil
	}
}

func mergeHeaders(base, override map[string]string) http.Header {
	h := make(http.Header, len(base)+len(override))
	for k, v := range base {
		h.Set(k, v)
	}
	for k, v := range override {
		h.Set(k, v)
	}
	return h
}
