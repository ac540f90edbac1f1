//go:build !NOORT || ALL

package backends

import (
	"errors"
	"fmt"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/options"
)

// ORTCandidate is a model candidate compiled through onnxruntime with a
// given execution provider and provider flags.
type ORTCandidate struct {
	session        *ort.DynamicAdvancedSession
	sessionOptions *ort.SessionOptions
	inputsMeta     []InputOutputInfo
	outputsMeta    []InputOutputInfo
}

// NewORTCandidate compiles the model into an onnxruntime session. The
// provider is the execution provider to append ("" for the default CPU
// provider), and providerOptions carries the provider flags, including any
// precision flags for the candidate's quantization variant.
func NewORTCandidate(model *Model, o *options.OrtOptions, provider string, providerOptions map[string]string) (*ORTCandidate, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	destroyOnError := func(err error) error {
		return errors.Join(err, sessionOptions.Destroy())
	}

	if o != nil {
		if o.IntraOpNumThreads != nil {
			if err := sessionOptions.SetIntraOpNumThreads(*o.IntraOpNumThreads); err != nil {
				return nil, destroyOnError(err)
			}
		}
		if o.InterOpNumThreads != nil {
			if err := sessionOptions.SetInterOpNumThreads(*o.InterOpNumThreads); err != nil {
				return nil, destroyOnError(err)
			}
		}
		if o.CPUMemArena != nil {
			if err := sessionOptions.SetCpuMemArena(*o.CPUMemArena); err != nil {
				return nil, destroyOnError(err)
			}
		}
		if o.MemPattern != nil {
			if err := sessionOptions.SetMemPattern(*o.MemPattern); err != nil {
				return nil, destroyOnError(err)
			}
		}
	}

	if err := appendExecutionProvider(sessionOptions, provider, providerOptions); err != nil {
		return nil, destroyOnError(err)
	}

	inputs, outputs, err := loadInputOutputMetaORT(model.OnnxBytes)
	if err != nil {
		return nil, destroyOnError(err)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model.OnnxBytes,
		GetNames(inputs),
		GetNames(outputs),
		sessionOptions,
	)
	if err != nil {
		return nil, destroyOnError(err)
	}

	return &ORTCandidate{
		session:        session,
		sessionOptions: sessionOptions,
		inputsMeta:     inputs,
		outputsMeta:    outputs,
	}, nil
}

func appendExecutionProvider(sessionOptions *ort.SessionOptions, provider string, providerOptions map[string]string) error {
	switch provider {
	case "":
		return nil
	case "cuda":
		cudaOptions, optErr := ort.NewCUDAProviderOptions()
		if optErr != nil {
			return optErr
		}
		if len(providerOptions) > 0 {
			if err := cudaOptions.Update(providerOptions); err != nil {
				return errors.Join(err, cudaOptions.Destroy())
			}
		}
		if err := sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return errors.Join(err, cudaOptions.Destroy())
		}
		return cudaOptions.Destroy()
	case "tensorrt":
		tensorRTOptions, optErr := ort.NewTensorRTProviderOptions()
		if optErr != nil {
			return optErr
		}
		if len(providerOptions) > 0 {
			if err := tensorRTOptions.Update(providerOptions); err != nil {
				return errors.Join(err, tensorRTOptions.Destroy())
			}
		}
		if err := sessionOptions.AppendExecutionProviderTensorRT(tensorRTOptions); err != nil {
			return errors.Join(err, tensorRTOptions.Destroy())
		}
		return tensorRTOptions.Destroy()
	case "openvino":
		return sessionOptions.AppendExecutionProviderOpenVINO(providerOptions)
	case "coreml":
		return sessionOptions.AppendExecutionProviderCoreMLV2(providerOptions)
	case "directml":
		deviceID := 0
		if raw, ok := providerOptions["device_id"]; ok {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil {
				return fmt.Errorf("invalid DirectML device_id %q: %w", raw, parseErr)
			}
			deviceID = parsed
		}
		return sessionOptions.AppendExecutionProviderDirectML(deviceID)
	default:
		return fmt.Errorf("execution provider %s not supported", provider)
	}
}

// Run executes the candidate on a single batch of dense tensors, one tensor
// per model input, and returns one dense tensor per model output.
func (c *ORTCandidate) Run(inputs []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(inputs) != len(c.inputsMeta) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(c.inputsMeta), len(inputs))
	}

	inputValues := make([]ort.Value, len(inputs))
	destroyValues := func(values []ort.Value) error {
		var agg error
		for _, v := range values {
			if v != nil {
				agg = errors.Join(agg, v.Destroy())
			}
		}
		return agg
	}

	for i, input := range inputs {
		value, err := denseToORTValue(input)
		if err != nil {
			return nil, errors.Join(err, destroyValues(inputValues))
		}
		inputValues[i] = value
	}

	outputValues := make([]ort.Value, len(c.outputsMeta))
	if err := c.session.Run(inputValues, outputValues); err != nil {
		return nil, errors.Join(err, destroyValues(inputValues))
	}

	outputs := make([]*tensor.Dense, len(outputValues))
	var convErr error
	for i, value := range outputValues {
		if convErr != nil {
			break
		}
		outputs[i], convErr = ortValueToDense(value)
	}
	err := errors.Join(convErr, destroyValues(inputValues), destroyValues(outputValues))
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

func (c *ORTCandidate) Destroy() error {
	return errors.Join(c.session.Destroy(), c.sessionOptions.Destroy())
}

func denseToORTValue(input *tensor.Dense) (ort.Value, error) {
	dims := input.Shape()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	switch backing := input.Data().(type) {
	case []float32:
		return ort.NewTensor(ort.NewShape(shape...), backing)
	case []int64:
		return ort.NewTensor(ort.NewShape(shape...), backing)
	default:
		return nil, fmt.Errorf("input tensor type %T not supported", backing)
	}
}

func ortValueToDense(value ort.Value) (*tensor.Dense, error) {
	switch v := value.(type) {
	case *ort.Tensor[float32]:
		shape := v.GetShape()
		backing := make([]float32, len(v.GetData()))
		copy(backing, v.GetData())
		return tensor.New(tensor.WithShape(Shape(shape).ValuesInt()...), tensor.WithBacking(backing)), nil
	case *ort.Tensor[int64]:
		shape := v.GetShape()
		backing := make([]int64, len(v.GetData()))
		copy(backing, v.GetData())
		return tensor.New(tensor.WithShape(Shape(shape).ValuesInt()...), tensor.WithBacking(backing)), nil
	default:
		return nil, fmt.Errorf("output tensor type %T not supported", value)
	}
}

func loadInputOutputMetaORT(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	return convertORTInputOutputs(inputs), convertORTInputOutputs(outputs), nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []InputOutputInfo {
	inputOutputsStandardised := make([]InputOutputInfo, len(inputOutputs))
	for i, inputOutput := range inputOutputs {
		elementType := ElementFloat32
		if inputOutput.DataType == ort.TensorElementDataTypeInt64 {
			elementType = ElementInt64
		}
		inputOutputsStandardised[i] = InputOutputInfo{
			Name:       inputOutput.Name,
			Dimensions: Shape(inputOutput.Dimensions),
			Type:       elementType,
		}
	}
	return inputOutputsStandardised
}
