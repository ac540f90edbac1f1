package data

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/util"
)

// serializedInput is one model input on a jsonl line.
type serializedInput struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// ReadJSONLines parses representative input samples from jsonl: one sample
// per line, each line a JSON array with one {"shape": [...], "values": [...]}
// object per model input, in model input order. Values are converted to the
// element type the model metadata declares for that input.
func ReadJSONLines(r io.Reader, inputs []backends.InputOutputInfo) (*Manager, error) {
	reader := bufio.NewReader(r)
	var samples []Sample
	for {
		line, err := util.ReadLine(reader)
		if len(bytes.TrimSpace(line)) > 0 {
			sample, parseErr := parseSample(line, inputs)
			if parseErr != nil {
				return nil, fmt.Errorf("sample %d: %w", len(samples), parseErr)
			}
			samples = append(samples, sample)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return NewManager(samples)
}

func parseSample(line []byte, inputs []backends.InputOutputInfo) (Sample, error) {
	var serialized []serializedInput
	if err := jsoniter.Unmarshal(line, &serialized); err != nil {
		return nil, err
	}
	if len(serialized) != len(inputs) {
		return nil, fmt.Errorf("got %d inputs, model expects %d", len(serialized), len(inputs))
	}
	sample := make(Sample, len(inputs))
	for i, meta := range inputs {
		in := serialized[i]
		total := 1
		for _, d := range in.Shape {
			if d < 1 {
				return nil, fmt.Errorf("input %s has invalid dimension %d", meta.Name, d)
			}
			total *= d
		}
		if total != len(in.Values) {
			return nil, fmt.Errorf("input %s has %d values, shape %v holds %d", meta.Name, len(in.Values), in.Shape, total)
		}
		switch meta.Type {
		case backends.ElementInt64:
			backing := make([]int64, len(in.Values))
			for j, v := range in.Values {
				backing[j] = int64(v)
			}
			sample[i] = tensor.New(tensor.WithShape(in.Shape...), tensor.WithBacking(backing))
		default:
			backing := make([]float32, len(in.Values))
			for j, v := range in.Values {
				backing[j] = float32(v)
			}
			sample[i] = tensor.New(tensor.WithShape(in.Shape...), tensor.WithBacking(backing))
		}
	}
	return sample, nil
}
