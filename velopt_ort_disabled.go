//go:build NOORT && !ALL

package velopt

import (
	"errors"

	"github.com/velopt-ml/velopt/options"
)

func NewORTSession(_ ...options.WithOption) (*Session, error) {
	return nil, errors.New("library was compiled without onnxruntime support, recompile without the NOORT tag to use the ORT backend")
}
