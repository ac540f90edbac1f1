package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/util"
)

// ElementType is the element type of a model input or output tensor.
type ElementType int

const (
	ElementFloat32 ElementType = iota
	ElementInt64
)

func (e ElementType) String() string {
	switch e {
	case ElementInt64:
		return "int64"
	default:
		return "float32"
	}
}

// Dtype returns the gorgonia dtype matching the element type.
func (e ElementType) Dtype() tensor.Dtype {
	switch e {
	case ElementInt64:
		return tensor.Int64
	default:
		return tensor.Float32
	}
}

type Shape []int64

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

func (s Shape) ValuesInt() []int {
	output := make([]int, len(s))
	for i, v := range s {
		output[i] = int(v)
	}
	return output
}

// NewShape Returns a Shape, with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}

type InputOutputInfo struct {
	// The name of the input or output
	Name string
	// The input or output's dimensions. Dynamic dimensions are -1 or 0.
	Dimensions Shape
	// The element type of the tensor.
	Type ElementType
}

func GetNames(info []InputOutputInfo) []string {
	names := make([]string, 0, len(info))
	for _, v := range info {
		names = append(names, v.Name)
	}
	return names
}

// Model holds an onnx model that is being optimized, along with its tensor
// metadata once a backend has introspected it.
type Model struct {
	ID           string
	Path         string
	OnnxFilename string
	OnnxPath     string
	OnnxBytes    []byte
	Size         int64
	InputsMeta   []InputOutputInfo
	OutputsMeta  []InputOutputInfo
}

// LoadModel locates the .onnx file under path and reads it. Tensor metadata
// is filled in by LoadModelMeta once the session backend is known.
func LoadModel(path string, onnxFilename string) (*Model, error) {
	model := &Model{
		ID:           path + ":" + onnxFilename,
		Path:         path,
		OnnxFilename: onnxFilename,
	}
	if err := getOnnxModelPath(model); err != nil {
		return nil, err
	}
	onnxBytes, err := util.ReadFileBytes(model.OnnxPath)
	if err != nil {
		return nil, err
	}
	model.OnnxBytes = onnxBytes
	stats, err := util.FileStats(model.OnnxPath)
	if err != nil {
		return nil, err
	}
	model.Size = stats.Size()
	return model, nil
}

// LoadModelMeta introspects the model with the given backend and stores the
// input and output tensor metadata on the model.
func LoadModelMeta(model *Model, backend string) error {
	var inputs, outputs []InputOutputInfo
	var err error
	switch backend {
	case "ORT":
		inputs, outputs, err = loadInputOutputMetaORT(model.OnnxBytes)
	case "GO":
		inputs, outputs, err = loadInputOutputMetaGo(model.OnnxBytes)
	default:
		return fmt.Errorf("backend %s not supported", backend)
	}
	if err != nil {
		return err
	}
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	return nil
}

func getOnnxModelPath(model *Model) error {
	onnxFiles, err := getOnnxFiles(model.Path)
	if err != nil {
		return err
	}
	if len(onnxFiles) == 0 {
		return fmt.Errorf("no .onnx file detected at %s. There should be exactly one .onnx file", model.Path)
	}
	if len(onnxFiles) > 1 {
		if model.OnnxFilename == "" {
			return fmt.Errorf("multiple .onnx files detected at %s and no OnnxFilename specified", model.Path)
		}
		for i := range onnxFiles {
			if onnxFiles[i][1] == model.OnnxFilename {
				model.OnnxPath = util.PathJoinSafe(onnxFiles[i]...)
				return nil
			}
		}
		return fmt.Errorf("file %s not found at %s", model.OnnxFilename, model.Path)
	}
	model.OnnxPath = util.PathJoinSafe(onnxFiles[0]...)
	return nil
}

func getOnnxFiles(path string) ([][]string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{util.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	err := util.WalkDir()(context.Background(), path, walker)
	return onnxFiles, err
}

// CandidateSession is a compiled candidate of the model that can run
// inference on dense tensors. Implementations wrap the session of the
// execution backend that compiled the candidate.
type CandidateSession interface {
	Run(inputs []*tensor.Dense) ([]*tensor.Dense, error)
	Destroy() error
}
