package learners

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/quantization"
)

type fakeSession struct {
	runs      int
	destroyed bool
	err       error
}

func (f *fakeSession) Run(inputs []*tensor.Dense) ([]*tensor.Dense, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return inputs, nil
}

func (f *fakeSession) Destroy() error {
	f.destroyed = true
	return nil
}

func TestLearnerRun(t *testing.T) {
	session := &fakeSession{}
	learner := New(session, "cuda", quantization.Half)

	input := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 2}))
	outputs, err := learner.Run([]*tensor.Dense{input})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, input, outputs[0])

	assert.Equal(t, "cuda", learner.Accelerator())
	assert.Equal(t, quantization.Half, learner.Quantization())
}

func TestLearnerStatistics(t *testing.T) {
	session := &fakeSession{}
	learner := New(session, "cpu", quantization.None)

	stats := learner.Statistics()
	assert.Zero(t, stats.InferenceCount)
	assert.Zero(t, stats.InferenceAverage)

	input := tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{1}))
	for i := 0; i < 3; i++ {
		_, err := learner.Run([]*tensor.Dense{input})
		require.NoError(t, err)
	}

	stats = learner.Statistics()
	assert.Equal(t, uint64(3), stats.InferenceCount)
	assert.GreaterOrEqual(t, stats.InferenceTotal, stats.InferenceAverage)
}

func TestLearnerFailedRunsAreNotCounted(t *testing.T) {
	session := &fakeSession{err: errors.New("compile cache corrupted")}
	learner := New(session, "cpu", quantization.None)

	_, err := learner.Run(nil)
	assert.Error(t, err)
	assert.Zero(t, learner.Statistics().InferenceCount)
}

func TestLearnerDestroy(t *testing.T) {
	session := &fakeSession{}
	learner := New(session, "cpu", quantization.None)
	require.NoError(t, learner.Destroy())
	assert.True(t, session.destroyed)
}
