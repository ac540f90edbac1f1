// Package accelerators holds the catalog of acceleration targets the
// optimization search can compile a model for. Each accelerator maps to an
// onnxruntime execution provider, except for the pure go target which runs
// without native libraries.
package accelerators

import (
	"fmt"
	"runtime"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/velopt-ml/velopt/options"
	"github.com/velopt-ml/velopt/quantization"
)

// Accelerator describes one acceleration target.
type Accelerator struct {
	// Name identifies the accelerator, e.g. "cuda".
	Name string
	// Backend is the session backend that compiles for this target, ORT or GO.
	Backend string
	// Device is the hardware class the target runs on, cpu or gpu.
	Device string
	// Provider is the onnxruntime execution provider to append, empty for the
	// default CPU provider.
	Provider string
	// SlowCompile marks targets with an expensive compile step, such as
	// engine builders. They are skipped in constrained search mode.
	SlowCompile bool
}

var catalog = map[string]Accelerator{
	"cpu":      {Name: "cpu", Backend: "ORT", Device: "cpu", Provider: ""},
	"cuda":     {Name: "cuda", Backend: "ORT", Device: "gpu", Provider: "cuda"},
	"tensorrt": {Name: "tensorrt", Backend: "ORT", Device: "gpu", Provider: "tensorrt", SlowCompile: true},
	"openvino": {Name: "openvino", Backend: "ORT", Device: "cpu", Provider: "openvino"},
	"coreml":   {Name: "coreml", Backend: "ORT", Device: "cpu", Provider: "coreml"},
	"directml": {Name: "directml", Backend: "ORT", Device: "gpu", Provider: "directml"},
	"go":       {Name: "go", Backend: "GO", Device: "cpu", Provider: ""},
}

// search order: the baseline cpu target first, then local cpu targets, then
// gpu targets.
var searchOrder = []string{"cpu", "go", "openvino", "coreml", "directml", "cuda", "tensorrt"}

// Get returns the accelerator with the given name.
func Get(name string) (Accelerator, error) {
	accelerator, ok := catalog[name]
	if !ok {
		return Accelerator{}, fmt.Errorf("unknown accelerator %q, valid accelerators are: %v", name, Names())
	}
	return accelerator, nil
}

// Names returns the sorted names of all catalogued accelerators.
func Names() []string {
	names := maps.Keys(catalog)
	slices.Sort(names)
	return names
}

// Available reports whether the accelerator can be compiled for with the
// given session options. Provider-backed targets are available once their
// provider options have been configured; platform-bound providers
// additionally require the right operating system.
func (a Accelerator) Available(o *options.Options) bool {
	if a.Backend != o.Backend {
		return false
	}
	switch a.Name {
	case "cpu", "go":
		return true
	case "cuda":
		return o.ORTOptions.CudaOptions != nil
	case "tensorrt":
		return o.ORTOptions.TensorRTOptions != nil
	case "openvino":
		return o.ORTOptions.OpenVINOOptions != nil
	case "coreml":
		return o.ORTOptions.CoreMLOptions != nil && runtime.GOOS == "darwin"
	case "directml":
		return o.ORTOptions.DirectMLOptions != nil && runtime.GOOS == "windows"
	default:
		return false
	}
}

// SupportsQuantization reports whether the accelerator can realize the given
// precision variant at compile time.
func (a Accelerator) SupportsQuantization(t quantization.Type) bool {
	if t == quantization.None {
		return true
	}
	switch a.Name {
	case "tensorrt":
		return t == quantization.Half || t == quantization.StaticInt8
	case "openvino":
		return t == quantization.Half
	default:
		return false
	}
}

// ProviderOptions resolves the execution provider flags for a candidate,
// merging the user configured provider options with the flags realizing the
// quantization variant.
func (a Accelerator) ProviderOptions(o *options.Options, t quantization.Type) map[string]string {
	merged := map[string]string{}
	var configured map[string]string
	switch a.Name {
	case "cuda":
		configured = o.ORTOptions.CudaOptions
	case "tensorrt":
		configured = o.ORTOptions.TensorRTOptions
	case "openvino":
		configured = o.ORTOptions.OpenVINOOptions
	case "coreml":
		configured = o.ORTOptions.CoreMLOptions
	case "directml":
		if o.ORTOptions.DirectMLOptions != nil {
			merged["device_id"] = fmt.Sprintf("%d", *o.ORTOptions.DirectMLOptions)
		}
	}
	for k, v := range configured {
		merged[k] = v
	}
	switch a.Name {
	case "tensorrt":
		switch t {
		case quantization.Half:
			merged["trt_fp16_enable"] = "1"
		case quantization.StaticInt8:
			merged["trt_int8_enable"] = "1"
			merged["trt_int8_use_native_calibration_table"] = "1"
		}
	case "openvino":
		if t == quantization.Half {
			merged["precision"] = "FP16"
		}
	}
	return merged
}

// Candidate is one point of the search matrix: an accelerator compiled with
// a precision variant.
type Candidate struct {
	Accelerator  Accelerator
	Quantization quantization.Type
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s", c.Accelerator.Name, c.Quantization)
}

// Skip records a candidate excluded from the search and why.
type Skip struct {
	Candidate Candidate
	Reason    string
}

// Enumerate builds the candidate matrix for the given session options. The
// first returned candidate is always the baseline (the plain backend target
// with no quantization). Excluded combinations are returned as skips so they
// can be reported.
func Enumerate(o *options.Options) ([]Candidate, []Skip, error) {
	search := o.SearchOptions
	ignored := map[string]bool{}
	for _, name := range search.IgnoredAccelerators {
		if _, err := Get(name); err != nil {
			return nil, nil, err
		}
		ignored[name] = true
	}

	quantizations := search.Quantizations
	if !slices.Contains(quantizations, quantization.None) {
		quantizations = append([]quantization.Type{quantization.None}, quantizations...)
	}

	var candidates []Candidate
	var skips []Skip
	for _, name := range searchOrder {
		accelerator := catalog[name]
		for _, t := range quantizations {
			candidate := Candidate{Accelerator: accelerator, Quantization: t}
			switch {
			case accelerator.Backend != o.Backend:
				// targets of the other backend are silently out of scope
			case ignored[name]:
				skips = append(skips, Skip{Candidate: candidate, Reason: "ignored"})
			case !accelerator.Available(o):
				skips = append(skips, Skip{Candidate: candidate, Reason: "unavailable"})
			case !accelerator.SupportsQuantization(t):
				skips = append(skips, Skip{Candidate: candidate, Reason: fmt.Sprintf("quantization %s not supported", t)})
			case accelerator.SlowCompile && search.Mode == options.ModeConstrained:
				skips = append(skips, Skip{Candidate: candidate, Reason: "slow compile target skipped in constrained mode"})
			default:
				candidates = append(candidates, candidate)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, skips, fmt.Errorf("no candidate accelerators to search for backend %s", o.Backend)
	}
	if candidates[0].Quantization != quantization.None {
		return nil, skips, fmt.Errorf("no unquantized baseline candidate available for backend %s", o.Backend)
	}
	return candidates, skips, nil
}
