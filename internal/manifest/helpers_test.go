package manifest

import (
	"errors"
	"fmt"
)

var errBoom = errors.New("boom")

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
