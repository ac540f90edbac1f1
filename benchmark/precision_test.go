package benchmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func denseF32(values ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(values)), tensor.WithBacking(values))
}

func TestRelativeDifference(t *testing.T) {
	identical, err := RelativeDifference(denseF32(1, 2, 3), denseF32(1, 2, 3))
	require.NoError(t, err)
	assert.Zero(t, identical)

	// |1.0-1.1| / 1.1 and |2.0-2.0| / 2.0 average to ~0.04545
	difference, err := RelativeDifference(denseF32(1.0, 2.0), denseF32(1.1, 2.0))
	require.NoError(t, err)
	assert.InDelta(t, 0.04545, difference, 1e-4)

	// near-zero activations are compared against the floor, not against zero
	difference, err = RelativeDifference(denseF32(0), denseF32(1e-7))
	require.NoError(t, err)
	assert.InDelta(t, 0.01, difference, 1e-3)

	_, err = RelativeDifference(denseF32(1, 2), denseF32(1))
	assert.ErrorContains(t, err, "element counts differ")
}

func TestRelativeDifferenceInt64(t *testing.T) {
	reference := tensor.New(tensor.WithShape(2), tensor.WithBacking([]int64{10, 20}))
	candidate := tensor.New(tensor.WithShape(2), tensor.WithBacking([]int64{10, 20}))
	difference, err := RelativeDifference(reference, candidate)
	require.NoError(t, err)
	assert.Zero(t, difference)
}

func TestDrift(t *testing.T) {
	reference := [][]*tensor.Dense{
		{denseF32(1, 2)},
		{denseF32(3, 4)},
	}
	candidate := [][]*tensor.Dense{
		{denseF32(1, 2)},
		{denseF32(3, 4.4)},
	}
	worst, err := Drift(reference, candidate)
	require.NoError(t, err)
	// the second sample dominates: (0 + 0.4/4.4) / 2
	assert.InDelta(t, 0.04545, worst, 1e-4)

	_, err = Drift(reference, candidate[:1])
	assert.ErrorContains(t, err, "sample counts differ")

	_, err = Drift(reference, [][]*tensor.Dense{{denseF32(1, 2)}, {}})
	assert.ErrorContains(t, err, "output counts differ")
}

func TestCheckPrecision(t *testing.T) {
	reference := [][]*tensor.Dense{{denseF32(1, 2, 3)}}
	near := [][]*tensor.Dense{{denseF32(1.001, 2.001, 3.001)}}
	far := [][]*tensor.Dense{{denseF32(2, 4, 6)}}

	ok, drift, err := CheckPrecision(reference, near, 1e-2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, drift, 1e-2)

	ok, drift, err = CheckPrecision(reference, far, 1e-2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, drift, 0.4)
}
