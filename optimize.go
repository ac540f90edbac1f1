package velopt

import (
	"context"
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/velopt-ml/velopt/accelerators"
	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/benchmark"
	"github.com/velopt-ml/velopt/data"
	"github.com/velopt-ml/velopt/learners"
	"github.com/velopt-ml/velopt/quantization"
	"github.com/velopt-ml/velopt/util"
)

// constrainedDriftThreshold is the accepted output drift for candidates that
// do not reduce precision. Compiled models are never bit-identical to the
// baseline, but they must stay numerically close.
const constrainedDriftThreshold = 1e-2

// OptimizeConfig describes one optimization search.
type OptimizeConfig struct {
	// ModelPath is a local directory or s3:// URL holding the .onnx model.
	ModelPath string
	// OnnxFilename selects the .onnx file when the model path holds several.
	OnnxFilename string
	// Data holds representative input samples. When nil, samples are read
	// from DataPath, or generated randomly from the model input metadata.
	Data *data.Manager
	// DataPath is a jsonl file of representative input samples, one sample
	// per line as parsed by data.ReadJSONLines.
	DataPath string
	// BatchSize is the batch dimension used for generated samples. Default 1.
	BatchSize int
	// SampleCount is the number of generated samples. Default 20.
	SampleCount int
	// Seed seeds the random sample generation.
	Seed int64
}

// OptimizedModel wraps the fastest surviving candidate of a search. It is
// callable the same way as the baseline model and carries the full report of
// the search.
type OptimizedModel struct {
	learners.InferenceLearner
	Report *OptimizationReport
}

// Optimize runs the full search: it loads the model, builds the candidate
// matrix from the session options, compiles and benchmarks every available
// candidate, rejects candidates whose outputs drift beyond the accepted
// threshold, and wraps the fastest survivor.
func (s *Session) Optimize(ctx context.Context, config OptimizeConfig) (*OptimizedModel, error) {
	if config.ModelPath == "" {
		return nil, errors.New("a model path is required")
	}

	model, err := s.loadModel(config)
	if err != nil {
		return nil, err
	}

	search := s.options.SearchOptions
	for _, t := range search.Quantizations {
		if err := quantization.Validate(t, search.MetricDropThreshold); err != nil {
			return nil, err
		}
	}

	manager := config.Data
	if manager == nil && config.DataPath != "" {
		manager, err = readDataFile(config.DataPath, model.InputsMeta)
		if err != nil {
			return nil, err
		}
	}
	if manager == nil {
		batchSize := config.BatchSize
		if batchSize == 0 {
			batchSize = 1
		}
		sampleCount := config.SampleCount
		if sampleCount == 0 {
			sampleCount = 20
		}
		manager, err = data.Random(model.InputsMeta, batchSize, sampleCount, config.Seed)
		if err != nil {
			return nil, err
		}
	}
	// calibration samples stay with the compiling provider, the tail drives
	// the precision check and the latency measurement
	calibration, validation := manager.Split(manager.Len() - search.ValidationSamples)

	candidates, skips, err := accelerators.Enumerate(s.options)
	if err != nil {
		return nil, err
	}

	report := &OptimizationReport{
		ModelPath:      model.Path,
		ModelSizeBytes: model.Size,
		Backend:        s.options.Backend,
	}
	for _, skip := range skips {
		status := StatusSkipped
		if skip.Reason == "unavailable" {
			status = StatusUnavailable
		}
		report.Candidates = append(report.Candidates, CandidateOutcome{
			Accelerator:  skip.Candidate.Accelerator.Name,
			Quantization: skip.Candidate.Quantization.String(),
			Status:       status,
			Reason:       skip.Reason,
		})
	}

	type winner struct {
		session   backends.CandidateSession
		candidate accelerators.Candidate
		result    benchmark.Result
	}
	var best *winner
	var referenceOutputs [][]*tensor.Dense
	var baselineMedian float64

	destroyBest := func() error {
		if best == nil {
			return nil
		}
		return best.session.Destroy()
	}

	for i, candidate := range candidates {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, destroyBest())
		}
		isBaseline := i == 0
		outcome := CandidateOutcome{
			Accelerator:  candidate.Accelerator.Name,
			Quantization: candidate.Quantization.String(),
		}

		if candidate.Quantization.RequiresCalibration() && len(calibration) == 0 {
			outcome.Status = StatusSkipped
			outcome.Reason = "static quantization needs calibration samples, none left after the validation split"
			report.Candidates = append(report.Candidates, outcome)
			continue
		}

		session, compileErr := s.compile(model, candidate, calibration)
		if compileErr != nil {
			if isBaseline {
				return nil, errors.Join(fmt.Errorf("baseline candidate %s failed to compile: %w", candidate, compileErr), destroyBest())
			}
			outcome.Status = StatusFailed
			outcome.Reason = compileErr.Error()
			report.Candidates = append(report.Candidates, outcome)
			continue
		}

		outputs, runErr := runOnSamples(session, validation)
		if runErr != nil {
			discardErr := session.Destroy()
			if isBaseline {
				return nil, errors.Join(fmt.Errorf("baseline candidate %s failed to run: %w", candidate, runErr), discardErr, destroyBest())
			}
			outcome.Status = StatusFailed
			outcome.Reason = joinReason(runErr, discardErr)
			report.Candidates = append(report.Candidates, outcome)
			continue
		}

		if isBaseline {
			referenceOutputs = outputs
		} else {
			threshold := constrainedDriftThreshold
			if candidate.Quantization.IsReduced() {
				threshold = search.MetricDropThreshold
			}
			ok, drift, checkErr := benchmark.CheckPrecision(referenceOutputs, outputs, threshold)
			outcome.MetricDrop = drift
			if checkErr != nil || !ok {
				discardErr := session.Destroy()
				outcome.Status = StatusRejected
				if checkErr != nil {
					outcome.Reason = joinReason(checkErr, discardErr)
				} else {
					outcome.Reason = fmt.Sprintf("output drift %g exceeds threshold %g", drift, threshold)
				}
				report.Candidates = append(report.Candidates, outcome)
				continue
			}
		}

		result, measureErr := benchmark.Measure(ctx, session, validation, search.WarmupRounds, search.BenchmarkRounds)
		if measureErr != nil {
			discardErr := session.Destroy()
			if isBaseline || ctx.Err() != nil {
				return nil, errors.Join(measureErr, discardErr, destroyBest())
			}
			outcome.Status = StatusFailed
			outcome.Reason = joinReason(measureErr, discardErr)
			report.Candidates = append(report.Candidates, outcome)
			continue
		}

		if isBaseline {
			baselineMedian = float64(result.Median)
			report.BaselineMedian = result.Median
		}
		outcome.Status = StatusOptimized
		outcome.MedianLatency = result.Median
		outcome.MeanLatency = result.Mean
		outcome.P95Latency = result.P95
		if baselineMedian > 0 {
			outcome.SpeedupVsBaseline = baselineMedian / float64(result.Median)
		}
		report.Candidates = append(report.Candidates, outcome)

		if best == nil || result.Median < best.result.Median {
			if discardErr := destroyBest(); discardErr != nil {
				return nil, errors.Join(discardErr, session.Destroy())
			}
			best = &winner{session: session, candidate: candidate, result: result}
		} else if discardErr := session.Destroy(); discardErr != nil {
			return nil, errors.Join(discardErr, destroyBest())
		}
	}

	if best == nil {
		return nil, errors.New("no candidate was successfully optimized")
	}

	report.Winner = best.candidate.String()
	report.WinnerMedian = best.result.Median
	if report.BaselineMedian > 0 {
		report.Speedup = float64(report.BaselineMedian) / float64(best.result.Median)
	}

	optimized := &OptimizedModel{
		InferenceLearner: learners.New(best.session, best.candidate.Accelerator.Name, best.candidate.Quantization),
		Report:           report,
	}
	s.optimizedModels = append(s.optimizedModels, optimized)
	return optimized, nil
}

func (s *Session) loadBackendModel(config OptimizeConfig) (*backends.Model, error) {
	model, err := backends.LoadModel(config.ModelPath, config.OnnxFilename)
	if err != nil {
		return nil, err
	}
	if err := backends.LoadModelMeta(model, s.options.Backend); err != nil {
		return nil, err
	}
	return model, nil
}

func (s *Session) compileBackendCandidate(model *backends.Model, candidate accelerators.Candidate, calibration []data.Sample) (backends.CandidateSession, error) {
	var session backends.CandidateSession
	var err error
	if candidate.Accelerator.Backend == "GO" {
		session, err = backends.NewGoCandidate(model)
	} else {
		providerOptions := candidate.Accelerator.ProviderOptions(s.options, candidate.Quantization)
		session, err = backends.NewORTCandidate(model, s.options.ORTOptions, candidate.Accelerator.Provider, providerOptions)
	}
	if err != nil {
		return nil, err
	}
	if candidate.Quantization.RequiresCalibration() {
		// engine build and calibration happen on the first runs
		for _, sample := range calibration {
			if _, runErr := session.Run(sample); runErr != nil {
				return nil, errors.Join(fmt.Errorf("calibration pass failed: %w", runErr), session.Destroy())
			}
		}
	}
	return session, nil
}

func readDataFile(path string, inputs []backends.InputOutputInfo) (*data.Manager, error) {
	file, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	manager, err := data.ReadJSONLines(file, inputs)
	return manager, errors.Join(err, util.CloseFile(file))
}

func runOnSamples(runner benchmark.Runner, samples []data.Sample) ([][]*tensor.Dense, error) {
	outputs := make([][]*tensor.Dense, len(samples))
	for i, sample := range samples {
		out, err := runner.Run(sample)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

func joinReason(errs ...error) string {
	joined := errors.Join(errs...)
	if joined == nil {
		return ""
	}
	return joined.Error()
}
