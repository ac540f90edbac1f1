// Package learners wraps a compiled candidate so it exposes the same call
// interface as the original model, with runtime statistics.
package learners

import (
	"math"
	"sync/atomic"
	"time"

	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/quantization"
)

// InferenceLearner is the optimized model returned to the caller. Run has
// the same calling convention as the baseline model: one dense tensor per
// model input in, one dense tensor per model output out.
type InferenceLearner interface {
	Run(inputs []*tensor.Dense) ([]*tensor.Dense, error)
	Accelerator() string
	Quantization() quantization.Type
	Statistics() Statistics
	Destroy() error
}

// Statistics holds runtime statistics of a learner for profiling purposes.
type Statistics struct {
	InferenceCount   uint64
	InferenceTotal   time.Duration
	InferenceAverage time.Duration
}

type timings struct {
	NumCalls uint64
	TotalNS  uint64
}

// Learner is the default InferenceLearner implementation over a candidate
// session.
type Learner struct {
	session      backends.CandidateSession
	accelerator  string
	quantization quantization.Type
	timings      *timings
}

func New(session backends.CandidateSession, accelerator string, q quantization.Type) *Learner {
	return &Learner{
		session:      session,
		accelerator:  accelerator,
		quantization: q,
		timings:      &timings{},
	}
}

func (l *Learner) Run(inputs []*tensor.Dense) ([]*tensor.Dense, error) {
	start := time.Now()
	outputs, err := l.session.Run(inputs)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&l.timings.NumCalls, 1)
	atomic.AddUint64(&l.timings.TotalNS, uint64(time.Since(start)))
	return outputs, nil
}

func (l *Learner) Accelerator() string {
	return l.accelerator
}

func (l *Learner) Quantization() quantization.Type {
	return l.quantization
}

func (l *Learner) Statistics() Statistics {
	numCalls := atomic.LoadUint64(&l.timings.NumCalls)
	totalNS := atomic.LoadUint64(&l.timings.TotalNS)
	return Statistics{
		InferenceCount:   numCalls,
		InferenceTotal:   time.Duration(totalNS),
		InferenceAverage: time.Duration(float64(totalNS) / math.Max(1, float64(numCalls))),
	}
}

func (l *Learner) Destroy() error {
	return l.session.Destroy()
}
