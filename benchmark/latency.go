// Package benchmark measures candidate latency and checks candidate outputs
// against the baseline model outputs.
package benchmark

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/data"
)

// Runner runs one batch of inference. Both compiled candidates and wrapped
// learners satisfy this.
type Runner interface {
	Run(inputs []*tensor.Dense) ([]*tensor.Dense, error)
}

// Result holds the latency statistics of one measured candidate.
type Result struct {
	Rounds int
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
}

// Measure runs warmup untimed rounds followed by rounds timed rounds against
// the runner, cycling through the given samples. Candidates are ranked by
// median latency, which is robust against scheduling outliers.
func Measure(ctx context.Context, runner Runner, samples []data.Sample, warmup int, rounds int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("at least one input sample is required to measure latency")
	}
	if rounds < 1 {
		return Result{}, fmt.Errorf("at least one benchmark round is required, got %d", rounds)
	}

	for i := 0; i < warmup; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, err := runner.Run(samples[i%len(samples)]); err != nil {
			return Result{}, fmt.Errorf("warmup round %d failed: %w", i, err)
		}
	}

	durations := make([]time.Duration, rounds)
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		start := time.Now()
		if _, err := runner.Run(samples[i%len(samples)]); err != nil {
			return Result{}, fmt.Errorf("benchmark round %d failed: %w", i, err)
		}
		durations[i] = time.Since(start)
	}
	return summarize(durations), nil
}

func summarize(durations []time.Duration) Result {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	n := len(sorted)
	p95Index := (n * 95) / 100
	if p95Index >= n {
		p95Index = n - 1
	}
	return Result{
		Rounds: n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   total / time.Duration(n),
		Median: sorted[n/2],
		P95:    sorted[p95Index],
	}
}
