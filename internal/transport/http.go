package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxPreallocate bounds the body buffer reserved from Content-Length.
const maxPreallocate = 1 << 20

// HTTPConfig configures the net/http transport.
type HTTPConfig struct {
	Timeout      time.Duration // Whole-call timeout (default 60s)
	StatusErrors bool          // Report status >= 400 as *StatusError
	ChunkSize    int           // Read buffer size for progress reporting (default 32KiB)
}

// DefaultHTTPConfig returns the default HTTP transport configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   60 * time.Second,
		ChunkSize: 32 * 1024,
	}
}

// HTTP performs calls with a pooled net/http client.
type HTTP struct {
	client *http.Client
	config HTTPConfig
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultHTTPConfig().ChunkSize
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTP{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// NewHTTPWithClient wraps an existing client (used with httptest servers).
func NewHTTPWithClient(client *http.Client, cfg HTTPConfig) *HTTP {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultHTTPConfig().ChunkSize
	}
	return &HTTP{client: client, config: cfg}
}

// Do sends the call and streams the body, reporting progress per chunk.
// A read failure returns the partial result together with the error.
func (t *HTTP) Do(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error) {
	var body io.Reader = http.NoBody
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL.String(), body)
	if err != nil {
		return nil, wrap(call, err)
	}
	if call.Header != nil {
		req.Header = call.Header.Clone()
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, wrap(call, err)
	}
	defer resp.Body.Close()

	result := &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	// Content-Length is only a hint; the buffer grows as bytes arrive.
	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(min(resp.ContentLength, maxPreallocate)))
	}
	chunk := make([]byte, t.config.ChunkSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if progress != nil {
				progress(int64(buf.Len()), resp.ContentLength)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			result.Body = buf.Bytes()
			return result, wrap(call, readErr)
		}
	}
	result.Body = buf.Bytes()

	if t.config.StatusErrors && resp.StatusCode >= http.StatusBadRequest {
		return result, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return result, nil
}
