// Package data manages the representative input data driving the
// optimization search: calibration samples for quantized candidates and
// validation samples for the precision check and latency measurement.
package data

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/backends"
)

// Sample is one batch of model inputs, one dense tensor per model input.
type Sample []*tensor.Dense

// Manager holds the representative input samples.
type Manager struct {
	samples []Sample
}

// NewManager wraps user supplied samples.
func NewManager(samples []Sample) (*Manager, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("at least one input sample is required")
	}
	width := len(samples[0])
	for i, sample := range samples {
		if len(sample) != width {
			return nil, fmt.Errorf("sample %d has %d inputs, expected %d", i, len(sample), width)
		}
	}
	return &Manager{samples: samples}, nil
}

// Random generates n random samples matching the model input metadata.
// Dynamic batch dimensions are fixed to batchSize; any other dynamic
// dimension cannot be guessed and is an error, the caller should supply real
// data instead.
func Random(inputs []backends.InputOutputInfo, batchSize int, n int, seed int64) (*Manager, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("model has no inputs to generate data for")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if n < 1 {
		return nil, fmt.Errorf("sample count must be at least 1, got %d", n)
	}
	rng := rand.New(rand.NewSource(seed))
	samples := make([]Sample, n)
	for s := range samples {
		sample := make(Sample, len(inputs))
		for i, meta := range inputs {
			dims, err := resolveDims(meta, batchSize)
			if err != nil {
				return nil, err
			}
			sample[i] = randomTensor(rng, meta.Type, dims)
		}
		samples[s] = sample
	}
	return &Manager{samples: samples}, nil
}

func resolveDims(meta backends.InputOutputInfo, batchSize int) ([]int, error) {
	dims := make([]int, len(meta.Dimensions))
	for d, size := range meta.Dimensions {
		switch {
		case size > 0:
			dims[d] = int(size)
		case d == 0:
			dims[d] = batchSize
		default:
			return nil, fmt.Errorf("input %s has dynamic dimension %d, supply representative data instead of relying on random generation", meta.Name, d)
		}
	}
	return dims, nil
}

func randomTensor(rng *rand.Rand, elementType backends.ElementType, dims []int) *tensor.Dense {
	total := 1
	for _, d := range dims {
		total *= d
	}
	switch elementType {
	case backends.ElementInt64:
		backing := make([]int64, total)
		for i := range backing {
			backing[i] = rng.Int63n(2)
		}
		return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
	default:
		backing := make([]float32, total)
		for i := range backing {
			backing[i] = rng.Float32()
		}
		return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
	}
}

// Len returns the number of samples held.
func (m *Manager) Len() int {
	return len(m.samples)
}

// Get returns up to n samples, cycling when n exceeds the number held.
func (m *Manager) Get(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = m.samples[i%len(m.samples)]
	}
	return out
}

// Split partitions the samples into a calibration set of up to calibration
// samples and a validation set holding the rest. At least one sample always
// ends up in the validation set.
func (m *Manager) Split(calibration int) ([]Sample, []Sample) {
	if calibration >= len(m.samples) {
		calibration = len(m.samples) - 1
	}
	if calibration < 0 {
		calibration = 0
	}
	return m.samples[:calibration], m.samples[calibration:]
}
