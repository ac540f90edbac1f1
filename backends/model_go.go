package backends

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoCandidate is a model candidate executed by the pure go onnx runtime.
// There is no native compilation step, so the candidate is available on any
// platform, at the cost of operator coverage and speed.
type GoCandidate struct {
	model       *gonnx.Model
	inputsMeta  []InputOutputInfo
	outputsMeta []InputOutputInfo
}

func NewGoCandidate(model *Model) (*GoCandidate, error) {
	goModel, err := gonnx.NewModelFromBytes(model.OnnxBytes)
	if err != nil {
		return nil, err
	}
	inputs, outputs := convertGoInputOutputs(goModel)
	return &GoCandidate{
		model:       goModel,
		inputsMeta:  inputs,
		outputsMeta: outputs,
	}, nil
}

func (c *GoCandidate) Run(inputs []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(inputs) != len(c.inputsMeta) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(c.inputsMeta), len(inputs))
	}
	inputMap := map[string]tensor.Tensor{}
	for i, meta := range c.inputsMeta {
		inputMap[meta.Name] = inputs[i]
	}
	outputMap, err := c.model.Run(inputMap)
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensor.Dense, len(c.outputsMeta))
	for i, meta := range c.outputsMeta {
		out, ok := outputMap[meta.Name]
		if !ok {
			return nil, fmt.Errorf("output %s missing from session result", meta.Name)
		}
		dense, ok := out.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("output %s has unexpected tensor type %T", meta.Name, out)
		}
		outputs[i] = dense
	}
	return outputs, nil
}

func (c *GoCandidate) Destroy() error {
	c.model = nil
	return nil
}

func loadInputOutputMetaGo(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	model, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	inputs, outputs := convertGoInputOutputs(model)
	return inputs, outputs, nil
}

func convertGoInputOutputs(model *gonnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	var inputs, outputs []InputOutputInfo

	inputShapes := model.InputShapes()
	for _, name := range model.InputNames() {
		shape := inputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, y := range shape {
			dimensions[i] = y.Size
		}
		inputs = append(inputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	outputShapes := model.OutputShapes()
	for _, name := range model.OutputNames() {
		shape := outputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, y := range shape {
			dimensions[i] = y.Size
		}
		outputs = append(outputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	return inputs, outputs
}
