package benchmark

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// relativeDifferenceFloor keeps the denominator of the relative difference
// away from zero for near-zero activations.
const relativeDifferenceFloor = 1e-5

// RelativeDifference computes the mean relative difference between two
// output tensors: mean over elements of |a-b| / max(|a|, |b|, 1e-5).
func RelativeDifference(reference, candidate *tensor.Dense) (float64, error) {
	refData, err := floatData(reference)
	if err != nil {
		return 0, err
	}
	candData, err := floatData(candidate)
	if err != nil {
		return 0, err
	}
	if len(refData) != len(candData) {
		return 0, fmt.Errorf("output element counts differ: %d vs %d", len(refData), len(candData))
	}
	if len(refData) == 0 {
		return 0, nil
	}
	var total float64
	for i := range refData {
		denominator := math.Max(math.Max(math.Abs(refData[i]), math.Abs(candData[i])), relativeDifferenceFloor)
		total += math.Abs(refData[i]-candData[i]) / denominator
	}
	return total / float64(len(refData)), nil
}

// Drift computes the worst mean relative difference between the reference
// outputs and the candidate outputs across all validation samples.
func Drift(reference, candidate [][]*tensor.Dense) (float64, error) {
	if len(reference) != len(candidate) {
		return 0, fmt.Errorf("sample counts differ: %d vs %d", len(reference), len(candidate))
	}
	var worst float64
	for s := range reference {
		if len(reference[s]) != len(candidate[s]) {
			return 0, fmt.Errorf("sample %d output counts differ: %d vs %d", s, len(reference[s]), len(candidate[s]))
		}
		for o := range reference[s] {
			difference, err := RelativeDifference(reference[s][o], candidate[s][o])
			if err != nil {
				return 0, fmt.Errorf("sample %d output %d: %w", s, o, err)
			}
			if difference > worst {
				worst = difference
			}
		}
	}
	return worst, nil
}

// CheckPrecision reports whether the candidate outputs stay within the
// accepted drift of the reference outputs.
func CheckPrecision(reference, candidate [][]*tensor.Dense, threshold float64) (bool, float64, error) {
	drift, err := Drift(reference, candidate)
	if err != nil {
		return false, 0, err
	}
	return drift <= threshold, drift, nil
}

func floatData(t *tensor.Dense) ([]float64, error) {
	switch backing := t.Data().(type) {
	case []float32:
		out := make([]float64, len(backing))
		for i, v := range backing {
			out[i] = float64(v)
		}
		return out, nil
	case []float64:
		return backing, nil
	case []int64:
		out := make([]float64, len(backing))
		for i, v := range backing {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("output tensor type %T not supported for precision check", backing)
	}
}
