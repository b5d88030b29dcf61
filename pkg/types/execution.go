package types

import (
	"fmt"
	"time"
)

// ExecutionMode defines the execution mode.
type ExecutionMode string

const (
	// ModeConstantVUs maintains a fixed number of VUs for a duration.
	ModeConstantVUs ExecutionMode = "constant-vus"
	// ModeRampingVUs adjusts VU count according to stages.
	ModeRampingVUs ExecutionMode = "ramping-vus"
	// ModePerVUIterations has each VU execute a fixed number of iterations.
	ModePerVUIterations ExecutionMode = "per-vu-iterations"
)

// Stage is one timed ramp segment. Concurrency moves linearly from the previous
// stage's target (0 for the first stage) to Target over Duration.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"`
}

// String renders the stage in the same "30s:5" form the CLI accepts.
func (s Stage) String() string {
	return fmt.Sprintf("%s:%d", s.Duration, s.Target)
}

// StagesDuration returns the sum of all stage durations.
func StagesDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the highest target across the stages.
func MaxTarget(stages []Stage) int {
	peak := 0
	for _, s := range stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

// Threshold defines an end-of-run pass/fail condition such as
// {Metric: "http_req_duration", Condition: "p(95)<500"}.
type Threshold struct {
	Metric    string `yaml:"metric" json:"metric"`
	Condition string `yaml:"condition" json:"condition"`
}

// ThresholdResult contains the result of threshold evaluation.
type ThresholdResult struct {
	Metric    string  `json:"metric"`
	Condition string  `json:"condition"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	// Missing is set when the metric never received a sample.
	Missing bool `json:"missing,omitempty"`
}

// CheckResult is a single recorded assertion outcome.
type CheckResult struct {
	Name      string    `json:"name"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
}
