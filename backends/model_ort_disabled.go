//go:build NOORT && !ALL

package backends

import (
	"errors"

	"github.com/velopt-ml/velopt/options"
)

var errORTDisabled = errors.New("library was compiled without onnxruntime support, recompile without the NOORT tag to use the ORT backend")

func NewORTCandidate(_ *Model, _ *options.OrtOptions, _ string, _ map[string]string) (CandidateSession, error) {
	return nil, errORTDisabled
}

func loadInputOutputMetaORT(_ []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	return nil, nil, errORTDisabled
}
