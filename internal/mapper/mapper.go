package mapper

import (
	"encoding/json"
	"fmt"
)

// ContentMapper turns a raw response body into a domain value.
type ContentMapper interface {
	Map(data []byte) (any, error)
}

// ContentMapperFunc adapts a plain function to ContentMapper.
type ContentMapperFunc func(data []byte) (any, error)

func (f ContentMapperFunc) Map(data []byte) (any, error) { return f(data) }

// ErrorMapper converts a transport or decode error into a domain error.
type ErrorMapper interface {
	MapError(err error) error
}

// ErrorMapperFunc adapts a plain function to ErrorMapper.
type ErrorMapperFunc func(err error) error

func (f ErrorMapperFunc) MapError(err error) error { return f(err) }

// DecodeError is returned when a successful response body cannot be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JSON decodes bodies into generic JSON values (map[string]any, []any, ...).
// With AcceptsEmpty set, an empty body maps to nil without error.
type JSON struct {
	AcceptsEmpty bool
}

// NewJSON creates a JSON content mapper.
func NewJSON(acceptsEmpty bool) *JSON {
	return &JSON{AcceptsEmpty: acceptsEmpty}
}

// Map decodes data as JSON.
func (m *JSON) Map(data []byte) (any, error) {
	if m.AcceptsEmpty && len(data) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return v, nil
}

// Passthrough returns the body unchanged. Use it for binary payloads.
type Passthrough struct{}

// Map returns data as-is.
func (Passthrough) Map(data []byte) (any, error) { return data, nil }

// Default is the content mapper used when neither the request nor the
// scheduler configures one.
func Default() ContentMapper {
	return NewJSON(true)
}
