package velopt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/accelerators"
	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/data"
	"github.com/velopt-ml/velopt/options"
	"github.com/velopt-ml/velopt/quantization"
)

type fakeCandidate struct {
	outputs   []float32
	delay     time.Duration
	runErr    error
	runs      int
	destroyed bool
}

func (f *fakeCandidate) Run(_ []*tensor.Dense) ([]*tensor.Dense, error) {
	f.runs++
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	backing := make([]float32, len(f.outputs))
	copy(backing, f.outputs)
	return []*tensor.Dense{tensor.New(tensor.WithShape(1, len(backing)), tensor.WithBacking(backing))}, nil
}

func (f *fakeCandidate) Destroy() error {
	f.destroyed = true
	return nil
}

// newSearchSession builds a session whose model loading and candidate
// compilation are replaced with fakes, keyed by "accelerator/quantization".
// calibrationSeen records the calibration sample count handed to each compile.
func newSearchSession(t *testing.T, candidates map[string]*fakeCandidate, calibrationSeen map[string]int, opts ...options.WithOption) *Session {
	t.Helper()
	session, err := newSession("ORT", opts...)
	require.NoError(t, err)
	session.loadModel = func(config OptimizeConfig) (*backends.Model, error) {
		return &backends.Model{
			Path: config.ModelPath,
			Size: 1024,
			InputsMeta: []backends.InputOutputInfo{
				{Name: "input", Dimensions: backends.NewShape(-1, 2), Type: backends.ElementFloat32},
			},
		}, nil
	}
	session.compile = func(_ *backends.Model, candidate accelerators.Candidate, calibration []data.Sample) (backends.CandidateSession, error) {
		if calibrationSeen != nil {
			calibrationSeen[candidate.String()] = len(calibration)
		}
		fake, ok := candidates[candidate.String()]
		if !ok {
			return nil, fmt.Errorf("no compiled artifact for %s", candidate)
		}
		return fake, nil
	}
	return session
}

func searchSamples(n int) *data.Manager {
	samples := make([]data.Sample, n)
	for i := range samples {
		samples[i] = data.Sample{tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 2}))}
	}
	manager, err := data.NewManager(samples)
	if err != nil {
		panic(err)
	}
	return manager
}

func outcomeFor(t *testing.T, report *OptimizationReport, accelerator string, q quantization.Type) CandidateOutcome {
	t.Helper()
	for _, outcome := range report.Candidates {
		if outcome.Accelerator == accelerator && outcome.Quantization == q.String() {
			return outcome
		}
	}
	t.Fatalf("no outcome for %s/%s in report", accelerator, q)
	return CandidateOutcome{}
}

func TestOptimizeSelectsFastestCandidate(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}, delay: 4 * time.Millisecond}
	cuda := &fakeCandidate{outputs: []float32{1, 2}, delay: time.Millisecond}
	session := newSearchSession(t,
		map[string]*fakeCandidate{"cpu/none": cpu, "cuda/none": cuda},
		nil,
		options.WithCuda(nil),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(3),
	)

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "cuda/none", optimized.Report.Winner)
	assert.Equal(t, "cuda", optimized.Accelerator())
	assert.Equal(t, quantization.None, optimized.Quantization())
	assert.Greater(t, optimized.Report.Speedup, 1.0)
	assert.Equal(t, int64(1024), optimized.Report.ModelSizeBytes)
	assert.Greater(t, optimized.Report.BaselineMedian, time.Duration(0))

	assert.Equal(t, StatusOptimized, outcomeFor(t, optimized.Report, "cpu", quantization.None).Status)
	assert.Equal(t, StatusOptimized, outcomeFor(t, optimized.Report, "cuda", quantization.None).Status)

	assert.True(t, cpu.destroyed, "the losing candidate is released")
	assert.False(t, cuda.destroyed)

	outputs, err := optimized.Run(searchSamples(1).Get(1)[0])
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	require.NoError(t, session.Destroy())
	assert.True(t, cuda.destroyed)
}

func TestOptimizeRejectsDriftingCandidate(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}, delay: 2 * time.Millisecond}
	cuda := &fakeCandidate{outputs: []float32{2, 4}, delay: time.Millisecond}
	session := newSearchSession(t,
		map[string]*fakeCandidate{"cpu/none": cpu, "cuda/none": cuda},
		nil,
		options.WithCuda(nil),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(2),
	)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "cpu/none", optimized.Report.Winner, "the faster candidate lost on output drift")
	rejected := outcomeFor(t, optimized.Report, "cuda", quantization.None)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Contains(t, rejected.Reason, "drift")
	assert.Greater(t, rejected.MetricDrop, 0.4)
	assert.True(t, cuda.destroyed)
}

func TestOptimizeBaselineFailureIsFatal(t *testing.T) {
	session := newSearchSession(t, map[string]*fakeCandidate{}, nil)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	_, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	assert.ErrorContains(t, err, "baseline")
}

func TestOptimizeRecordsFailedCandidates(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}}
	session := newSearchSession(t,
		map[string]*fakeCandidate{"cpu/none": cpu},
		nil,
		options.WithCuda(nil),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(2),
	)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	require.NoError(t, err, "a non-baseline candidate failing does not abort the search")

	assert.Equal(t, "cpu/none", optimized.Report.Winner)
	failed := outcomeFor(t, optimized.Report, "cuda", quantization.None)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Reason)

	unavailable := outcomeFor(t, optimized.Report, "tensorrt", quantization.None)
	assert.Equal(t, StatusUnavailable, unavailable.Status)
}

func TestOptimizeRecordsFailingRuns(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}}
	cuda := &fakeCandidate{runErr: errors.New("provider crashed")}
	session := newSearchSession(t,
		map[string]*fakeCandidate{"cpu/none": cpu, "cuda/none": cuda},
		nil,
		options.WithCuda(nil),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(2),
	)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	require.NoError(t, err)

	failed := outcomeFor(t, optimized.Report, "cuda", quantization.None)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Reason, "provider crashed")
	assert.True(t, cuda.destroyed)
}

func TestOptimizeRoutesCalibrationSamples(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}, delay: time.Millisecond}
	trt := &fakeCandidate{outputs: []float32{1, 2}}
	trtInt8 := &fakeCandidate{outputs: []float32{1, 2}}
	calibrationSeen := map[string]int{}
	session := newSearchSession(t,
		map[string]*fakeCandidate{
			"cpu/none":             cpu,
			"tensorrt/none":        trt,
			"tensorrt/static_int8": trtInt8,
		},
		calibrationSeen,
		options.WithTensorRT(nil),
		options.WithSearchMode(options.ModeUnconstrained),
		options.WithMetricDropThreshold(0.5),
		options.WithQuantizations(quantization.StaticInt8),
		options.WithValidationSamples(2),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(2),
	)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(5),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calibrationSeen["tensorrt/static_int8"],
		"samples outside the validation split calibrate the quantized candidate")
	assert.Equal(t, StatusOptimized, outcomeFor(t, optimized.Report, "tensorrt", quantization.StaticInt8).Status)
}

func TestOptimizeSkipsCalibrationlessStaticInt8(t *testing.T) {
	cpu := &fakeCandidate{outputs: []float32{1, 2}}
	trt := &fakeCandidate{outputs: []float32{1, 2}}
	session := newSearchSession(t,
		map[string]*fakeCandidate{"cpu/none": cpu, "tensorrt/none": trt},
		nil,
		options.WithTensorRT(nil),
		options.WithSearchMode(options.ModeUnconstrained),
		options.WithMetricDropThreshold(0.5),
		options.WithQuantizations(quantization.StaticInt8),
		options.WithValidationSamples(10),
		options.WithWarmupRounds(0),
		options.WithBenchmarkRounds(2),
	)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	optimized, err := session.Optimize(context.Background(), OptimizeConfig{
		ModelPath: "/models/test",
		Data:      searchSamples(2),
	})
	require.NoError(t, err)

	skipped := outcomeFor(t, optimized.Report, "tensorrt", quantization.StaticInt8)
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Reason, "calibration")
}
