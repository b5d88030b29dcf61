package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"yqhp/load-harness/pkg/metrics"
)

// ErrInvalidThreshold is returned for threshold expressions that cannot be evaluated.
var ErrInvalidThreshold = errors.New("invalid threshold")

// operators are matched longest first so "<=" is not read as "<".
var operators = []string{"<=", ">=", "!=", "==", "<", ">"}

// Threshold is a parsed expression like "p(95)<500".
type Threshold struct {
	Source     string
	Key        string
	Percentile float64 // set when Key is p(N)
	Operator   string
	isPct      bool
	Value      float64
}

// ParseThreshold parses "<aggregation> <op> <number>". Whitespace is optional.
func ParseThreshold(expr string) (*Threshold, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidThreshold)
	}

	for _, op := range operators {
		idx := strings.Index(src, op)
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(src[:idx])
		rhs := strings.TrimSpace(src[idx+len(op):])
		if key == "" || rhs == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidThreshold, expr)
		}
		value, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: right-hand side %q is not a number", ErrInvalidThreshold, expr, rhs)
		}

		th := &Threshold{Source: src, Key: key, Operator: op, Value: value}
		if strings.HasPrefix(key, "p(") {
			p, err := parsePercentile(key)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidThreshold, expr, err)
			}
			th.Percentile = p
			th.isPct = true
		}
		return th, nil
	}
	return nil, fmt.Errorf("%w: %q: no comparison operator", ErrInvalidThreshold, expr)
}

func parsePercentile(key string) (float64, error) {
	if !strings.HasSuffix(key, ")") {
		return 0, fmt.Errorf("malformed percentile %q", key)
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(key[2:len(key)-1]), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed percentile %q", key)
	}
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("percentile %v out of range [0, 100]", p)
	}
	return p, nil
}

// validKeys lists the aggregation keys each metric type supports.
var validKeys = map[metrics.MetricType][]string{
	metrics.Counter: {"count", "rate"},
	metrics.Gauge:   {"value", "min", "max"},
	metrics.Rate:    {"rate"},
	metrics.Trend:   {"avg", "min", "max", "med"},
}

// SupportsType reports whether the threshold key can be computed for the metric type.
func (t *Threshold) SupportsType(mt metrics.MetricType) bool {
	if t.isPct {
		return mt == metrics.Trend
	}
	for _, k := range validKeys[mt] {
		if k == t.Key {
			return true
		}
	}
	return false
}

// Compare applies the operator to an observed value.
func (t *Threshold) Compare(observed float64) bool {
	switch t.Operator {
	case "<":
		return observed < t.Value
	case "<=":
		return observed <= t.Value
	case ">":
		return observed > t.Value
	case ">=":
		return observed >= t.Value
	case "==":
		return observed == t.Value
	case "!=":
		return observed != t.Value
	}
	return false
}

// Observe pulls the value addressed by the threshold key out of a metric sink.
func (t *Threshold) Observe(m *metrics.Metric, durationSec float64) float64 {
	if t.isPct {
		if trend, ok := m.Sink.(*metrics.TrendSink); ok {
			return trend.Percentile(t.Percentile)
		}
	}
	return m.Sink.Format(durationSec)[t.Key]
}
