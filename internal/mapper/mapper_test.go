package mapper

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSON_Map(t *testing.T) {
	tests := []struct {
		name         string
		acceptsEmpty bool
		body         []byte
		want         any
		wantDecode   bool
	}{
		{
			name: "object",
			body: []byte(`{"operation":"/fetch","count":2}`),
			want: map[string]any{"operation": "/fetch", "count": float64(2)},
		},
		{
			name: "array",
			body: []byte(`[1,"two",null]`),
			want: []any{float64(1), "two", nil},
		},
		{
			name:       "malformed body",
			body:       []byte(`{"operation":`),
			wantDecode: true,
		},
		{
			name:         "empty body accepted",
			acceptsEmpty: true,
			body:         nil,
			want:         nil,
		},
		{
			name:       "empty body rejected",
			body:       []byte{},
			wantDecode: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewJSON(tt.acceptsEmpty).Map(tt.body)
			if tt.wantDecode {
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Fatalf("expected DecodeError, got %v", err)
				}
				if got != nil {
					t.Errorf("expected nil value alongside decode error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mapped value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPassthrough_ByteIdentical(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0x10, 0x0d, 0x0a}

	got, err := Passthrough{}.Map(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := got.([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", got)
	}
	if !bytes.Equal(b, payload) {
		t.Errorf("payload changed: got %v, want %v", b, payload)
	}
}

func TestFuncAdapters(t *testing.T) {
	cm := ContentMapperFunc(func(data []byte) (any, error) { return len(data), nil })
	v, _ := cm.Map([]byte("abc"))
	if v != 3 {
		t.Errorf("expected 3, got %v", v)
	}

	sentinel := errors.New("domain failure")
	em := ErrorMapperFunc(func(err error) error { return sentinel })
	if got := em.MapError(errors.New("boom")); got != sentinel {
		t.Errorf("expected sentinel error, got %v", got)
	}
}
