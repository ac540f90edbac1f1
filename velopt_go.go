package velopt

import (
	"github.com/velopt-ml/velopt/options"
)

// NewGoSession creates a session backed by the pure go onnx runtime. No
// native libraries are required, at the cost of operator coverage and speed.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}
