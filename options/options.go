package options

import (
	"fmt"
	"runtime"

	"github.com/velopt-ml/velopt/quantization"
	"github.com/velopt-ml/velopt/util"
)

type Options struct {
	ORTOptions    *OrtOptions
	SearchOptions *SearchOptions
	Destroy       func() error
	Backend       string
}

func Defaults() *Options {
	_, _, libraryPathDefault := getDefaultLibraryPaths()
	return &Options{
		ORTOptions: &OrtOptions{
			LibraryPath: &libraryPathDefault,
		},
		SearchOptions: &SearchOptions{
			Mode:                ModeConstrained,
			Quantizations:       []quantization.Type{quantization.None},
			WarmupRounds:        5,
			BenchmarkRounds:     30,
			ValidationSamples:   10,
			MetricDropThreshold: 0,
		},
		Destroy: func() error {
			return nil
		},
	}
}

func getDefaultLibraryPaths() (string, string, string) {
	switch runtime.GOOS {
	case "windows":
		return `onnxruntime.dll`, `.\`, `.\onnxruntime.dll`
	case "darwin":
		return "libonnxruntime.dylib", "/usr/local/lib", "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "libonnxruntime.so", "/usr/lib", "/usr/lib/libonnxruntime.so"
	}
}

type LoggingLevel int

const (
	LoggingLevelVerbose LoggingLevel = 0
	LoggingLevelInfo    LoggingLevel = 1
	LoggingLevelWarning LoggingLevel = 2
	LoggingLevelError   LoggingLevel = 3
	LoggingLevelFatal   LoggingLevel = 4
)

type OrtOptions struct {
	LibraryPath       *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
	CoreMLOptions     map[string]string
	DirectMLOptions   *int
	OpenVINOOptions   map[string]string
	TensorRTOptions   map[string]string
}

// SearchMode controls how much compile time the optimization search may spend.
type SearchMode string

const (
	// ModeConstrained skips candidates with expensive compile steps, such as
	// engine-building targets.
	ModeConstrained SearchMode = "constrained"
	// ModeUnconstrained tries every available candidate.
	ModeUnconstrained SearchMode = "unconstrained"
)

// SearchOptions configure the candidate search performed by Session.Optimize.
type SearchOptions struct {
	// MetricDropThreshold is the maximum accepted output drift of a
	// reduced-precision candidate against the baseline outputs. Zero means
	// reduced-precision candidates are not searched.
	MetricDropThreshold float64
	// Quantizations are the precision variants included in the search.
	Quantizations []quantization.Type
	// IgnoredAccelerators are accelerator names excluded from the search.
	IgnoredAccelerators []string
	// WarmupRounds are untimed inference runs before latency measurement.
	WarmupRounds int
	// BenchmarkRounds are timed inference runs per candidate.
	BenchmarkRounds int
	// ValidationSamples is the number of samples used for the precision check.
	ValidationSamples int
	// Mode selects the compile-time budget of the search.
	Mode SearchMode
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) Use this function to set the path to the
// "libonnxruntime.so", "libonnxruntime.dylib" or "onnxruntime.dll" file.
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for ORT backend")
		}
		exists, err := util.FileExists(ortLibraryPath)
		if err != nil {
			return fmt.Errorf("error checking for existence of ONNX Runtime library file: %w", err)
		}
		if !exists {
			return fmt.Errorf("ONNX Runtime library does not exist at %q", ortLibraryPath)
		}
		o.ORTOptions.LibraryPath = &ortLibraryPath
		return nil
	}
}

// WithTelemetry (ORT only) Enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithTelemetry is only supported for ORT backend")
		}
		enabled := true
		o.ORTOptions.Telemetry = &enabled
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) Sets the number of threads used to parallelize execution within onnxruntime
// graph nodes. If unspecified, onnxruntime uses the number of physical CPU cores.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithIntraOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) Sets the number of threads used to parallelize execution across separate
// onnxruntime graph nodes. If unspecified, onnxruntime uses the number of physical CPU cores.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithInterOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithCPUMemArena (ORT only) Enable/Disable the usage of the memory arena on CPU.
// Arena may pre-allocate memory for future usage. Default is true.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCPUMemArena is only supported for ORT backend")
		}
		o.ORTOptions.CPUMemArena = &enable
		return nil
	}
}

// WithMemPattern (ORT only) Enable/Disable the memory pattern optimization.
// If this is enabled memory is preallocated if all shapes are known. Default is true.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithMemPattern is only supported for ORT backend")
		}
		o.ORTOptions.MemPattern = &enable
		return nil
	}
}

// WithCuda (ORT only) enables the CUDA accelerator for the search.
// It takes a map of CUDA provider parameters as input.
func WithCuda(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCuda is only supported for ORT backend")
		}
		if options == nil {
			options = map[string]string{}
		}
		o.ORTOptions.CudaOptions = options
		return nil
	}
}

// WithCoreML (ORT only) enables the CoreML accelerator for the search.
// The options parameter carries the CoreML provider flags.
func WithCoreML(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCoreML is only supported for ORT backend")
		}
		if options == nil {
			options = map[string]string{}
		}
		o.ORTOptions.CoreMLOptions = options
		return nil
	}
}

// WithDirectML (ORT only) enables the DirectML accelerator for the search on
// the given device ID. By default, this option is not set.
func WithDirectML(deviceID int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithDirectML is only supported for ORT backend")
		}
		o.ORTOptions.DirectMLOptions = &deviceID
		return nil
	}
}

// WithOpenVINO (ORT only) enables the OpenVINO accelerator for the search.
// The options parameter should be a map of string keys and string values.
// Example usage: WithOpenVINO(map[string]string{"device_type": "CPU", "num_of_threads": "4"})
func WithOpenVINO(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOpenVINO is only supported for ORT backend")
		}
		if options == nil {
			options = map[string]string{}
		}
		o.ORTOptions.OpenVINOOptions = options
		return nil
	}
}

// WithTensorRT (ORT only) enables the TensorRT accelerator for the search.
// The options parameter carries the TensorRT provider flags.
// Note: For the TensorRT provider to work, the onnxruntime library must be built with TensorRT support.
func WithTensorRT(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithTensorRT is only supported for ORT backend")
		}
		if options == nil {
			options = map[string]string{}
		}
		o.ORTOptions.TensorRTOptions = options
		return nil
	}
}

// WithMetricDropThreshold sets the maximum accepted output drift of a
// reduced-precision candidate with respect to the baseline model outputs.
// Candidates that drift further are rejected.
func WithMetricDropThreshold(threshold float64) WithOption {
	return func(o *Options) error {
		if threshold < 0 {
			return fmt.Errorf("metric drop threshold must not be negative, got %f", threshold)
		}
		o.SearchOptions.MetricDropThreshold = threshold
		return nil
	}
}

// WithQuantizations sets the precision variants searched per accelerator.
// Reduced-precision variants require a metric drop threshold.
func WithQuantizations(types ...quantization.Type) WithOption {
	return func(o *Options) error {
		if len(types) == 0 {
			return fmt.Errorf("at least one quantization type is required")
		}
		for _, t := range types {
			if err := quantization.Validate(t, o.SearchOptions.MetricDropThreshold); err != nil {
				return err
			}
		}
		o.SearchOptions.Quantizations = types
		return nil
	}
}

// WithIgnoredAccelerators excludes the named accelerators from the search.
func WithIgnoredAccelerators(names ...string) WithOption {
	return func(o *Options) error {
		o.SearchOptions.IgnoredAccelerators = names
		return nil
	}
}

// WithSearchMode sets the compile-time budget of the search. Constrained mode
// skips candidates with expensive compile steps.
func WithSearchMode(mode SearchMode) WithOption {
	return func(o *Options) error {
		switch mode {
		case ModeConstrained, ModeUnconstrained:
			o.SearchOptions.Mode = mode
			return nil
		default:
			return fmt.Errorf("unknown search mode %q", mode)
		}
	}
}

// WithBenchmarkRounds sets the number of timed inference runs per candidate.
func WithBenchmarkRounds(rounds int) WithOption {
	return func(o *Options) error {
		if rounds < 1 {
			return fmt.Errorf("benchmark rounds must be at least 1, got %d", rounds)
		}
		o.SearchOptions.BenchmarkRounds = rounds
		return nil
	}
}

// WithWarmupRounds sets the number of untimed inference runs before latency
// measurement starts.
func WithWarmupRounds(rounds int) WithOption {
	return func(o *Options) error {
		if rounds < 0 {
			return fmt.Errorf("warmup rounds must not be negative, got %d", rounds)
		}
		o.SearchOptions.WarmupRounds = rounds
		return nil
	}
}

// WithValidationSamples sets the number of input samples used to compare
// candidate outputs against the baseline outputs.
func WithValidationSamples(n int) WithOption {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("validation samples must be at least 1, got %d", n)
		}
		o.SearchOptions.ValidationSamples = n
		return nil
	}
}
