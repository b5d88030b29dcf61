package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-harness/pkg/types"
)

var (
	// ErrInvalidStage is returned for a malformed "duration:target" stage.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrInvalidThreshold is returned for a malformed "metric=expression" flag.
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// ParseStage parses one "30s:5" stage.
func ParseStage(s string) (types.Stage, error) {
	durPart, targetPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return types.Stage{}, fmt.Errorf("%w %q: expected duration:target", ErrInvalidStage, s)
	}
	d, err := time.ParseDuration(strings.TrimSpace(durPart))
	if err != nil {
		return types.Stage{}, fmt.Errorf("%w %q: %v", ErrInvalidStage, s, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(targetPart))
	if err != nil {
		return types.Stage{}, fmt.Errorf("%w %q: target is not an integer", ErrInvalidStage, s)
	}
	if d < 0 || target < 0 {
		return types.Stage{}, fmt.Errorf("%w %q: duration and target must be non-negative", ErrInvalidStage, s)
	}
	return types.Stage{Duration: d, Target: target}, nil
}

// ParseStages parses every --stage value in order.
func ParseStages(specs []string) ([]types.Stage, error) {
	stages := make([]types.Stage, 0, len(specs))
	for _, s := range specs {
		st, err := ParseStage(s)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// ParseThresholdFlag parses "http_req_duration=p(95)<500". Only the first
// "=" separates the metric, so "value==1" style expressions survive.
func ParseThresholdFlag(s string) (types.Threshold, error) {
	metric, cond, ok := strings.Cut(strings.TrimSpace(s), "=")
	metric, cond = strings.TrimSpace(metric), strings.TrimSpace(cond)
	if !ok || metric == "" || cond == "" {
		return types.Threshold{}, fmt.Errorf("%w %q: expected metric=expression", ErrInvalidThreshold, s)
	}
	return types.Threshold{Metric: metric, Condition: cond}, nil
}

// ThresholdList accepts both the list form
//
//	thresholds:
//	  - {metric: http_req_duration, condition: "p(95)<500"}
//
// and the k6 map form
//
//	thresholds:
//	  http_req_duration: ["p(95)<500", "max<2000"]
//	  errors: "rate<0.1"
type ThresholdList []types.Threshold

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ThresholdList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []types.Threshold
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil

	case yaml.MappingNode:
		var out ThresholdList
		for i := 0; i+1 < len(value.Content); i += 2 {
			metric := value.Content[i].Value
			node := value.Content[i+1]
			switch node.Kind {
			case yaml.ScalarNode:
				out = append(out, types.Threshold{Metric: metric, Condition: node.Value})
			case yaml.SequenceNode:
				var conds []string
				if err := node.Decode(&conds); err != nil {
					return fmt.Errorf("thresholds.%s: %w", metric, err)
				}
				for _, c := range conds {
					out = append(out, types.Threshold{Metric: metric, Condition: c})
				}
			default:
				return fmt.Errorf("thresholds.%s: expected a string or a list of strings", metric)
			}
		}
		*l = out
		return nil
	}
	return fmt.Errorf("thresholds: expected a list or a mapping (line %d)", value.Line)
}
