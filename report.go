package velopt

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Candidate outcome statuses.
const (
	StatusOptimized   = "optimized"
	StatusRejected    = "rejected"
	StatusFailed      = "failed"
	StatusSkipped     = "skipped"
	StatusUnavailable = "unavailable"
)

// CandidateOutcome records what happened to one candidate during the search.
type CandidateOutcome struct {
	Accelerator       string        `json:"accelerator"`
	Quantization      string        `json:"quantization"`
	Status            string        `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	MedianLatency     time.Duration `json:"medianLatencyNs,omitempty"`
	MeanLatency       time.Duration `json:"meanLatencyNs,omitempty"`
	P95Latency        time.Duration `json:"p95LatencyNs,omitempty"`
	MetricDrop        float64       `json:"metricDrop,omitempty"`
	SpeedupVsBaseline float64       `json:"speedupVsBaseline,omitempty"`
}

// OptimizationReport summarizes a full optimization search.
type OptimizationReport struct {
	ModelPath      string             `json:"modelPath"`
	ModelSizeBytes int64              `json:"modelSizeBytes"`
	Backend        string             `json:"backend"`
	Winner         string             `json:"winner"`
	BaselineMedian time.Duration      `json:"baselineMedianNs"`
	WinnerMedian   time.Duration      `json:"winnerMedianNs"`
	Speedup        float64            `json:"speedup"`
	Candidates     []CandidateOutcome `json:"candidates"`
}

// JSON serializes the report, indented when pretty is set.
func (r *OptimizationReport) JSON(pretty bool) ([]byte, error) {
	if pretty {
		return jsoniter.MarshalIndent(r, "", "  ")
	}
	return jsoniter.Marshal(r)
}
