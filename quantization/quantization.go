// Package quantization defines the precision-reduction variants that can be
// applied to a candidate model during the optimization search. The actual
// numeric transformation is performed by the execution provider that compiles
// the candidate; this package only describes and validates the variants.
package quantization

import (
	"fmt"
	"strings"
)

// Type is a precision-reduction variant.
type Type string

const (
	// None leaves the model weights and activations at full precision.
	None Type = "none"
	// Half compiles the model with float16 weights and activations.
	Half Type = "half"
	// StaticInt8 quantizes weights and activations to int8 using calibration data.
	StaticInt8 Type = "static_int8"
)

// All lists every variant in search order. None comes first so the baseline
// candidate is always evaluated before any reduced-precision one.
var All = []Type{None, Half, StaticInt8}

func (t Type) String() string {
	return string(t)
}

// IsReduced reports whether the variant lowers precision below float32.
func (t Type) IsReduced() bool {
	return t != None
}

// RequiresCalibration reports whether the variant needs representative input
// data at compile time to compute activation ranges.
func (t Type) RequiresCalibration() bool {
	return t == StaticInt8
}

// Parse converts a user supplied string into a Type.
func Parse(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case None, "":
		return None, nil
	case Half, "fp16", "float16":
		return Half, nil
	case StaticInt8:
		return StaticInt8, nil
	default:
		return None, fmt.Errorf("unknown quantization type %q, valid types are: %s", s, typeNames())
	}
}

// Validate checks that a variant can be searched given the metric drop
// threshold. Reduced precision changes the model outputs, so the caller must
// state how much output drift is acceptable.
func Validate(t Type, metricDropThreshold float64) error {
	if t.IsReduced() && metricDropThreshold <= 0 {
		return fmt.Errorf("quantization type %s requires a metric drop threshold greater than zero", t)
	}
	if metricDropThreshold < 0 {
		return fmt.Errorf("metric drop threshold must not be negative, got %f", metricDropThreshold)
	}
	return nil
}

func typeNames() string {
	names := make([]string, len(All))
	for i, t := range All {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
