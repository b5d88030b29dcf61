package execution

import (
	"time"

	"yqhp/load-harness/pkg/types"
)

// DesiredVUs returns the VU count the stage list asks for at elapsed.
// Within a stage the count moves linearly from the previous target (0 for the
// first stage) and is rounded down, so it never exceeds the exact
// interpolation whether ramping up or down. At or past a
// stage's end the count is exactly that stage's target; past the last stage
// it is the last target.
func DesiredVUs(stages []types.Stage, elapsed time.Duration) int {
	if len(stages) == 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	prev := 0
	var stageStart time.Duration
	for _, st := range stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			// 整数运算向下取整，插值不会被放大
			d := int64(st.Duration)
			e := int64(elapsed - stageStart)
			return int((int64(prev)*d + int64(st.Target-prev)*e) / d)
		}
		prev = st.Target
		stageStart = stageEnd
	}
	return prev
}

// PhaseAt returns the scheduler phase at elapsed: Ramping(i) while stage i
// changes the target, Steady(i) while it holds it and Draining past the end.
func PhaseAt(stages []types.Stage, elapsed time.Duration) Phase {
	if elapsed < 0 {
		elapsed = 0
	}
	prev := 0
	var stageStart time.Duration
	for i, st := range stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			if st.Target == prev {
				return Phase{Kind: PhaseSteady, Stage: i}
			}
			return Phase{Kind: PhaseRamping, Stage: i}
		}
		prev = st.Target
		stageStart = stageEnd
	}
	return phaseOf(PhaseDraining)
}

// ValidateStages rejects empty lists, negative durations and negative
// targets. A zero-duration stage jumps straight to its target.
func ValidateStages(stages []types.Stage) error {
	if len(stages) == 0 {
		return ErrNoStages
	}
	for i, st := range stages {
		if st.Duration < 0 || st.Target < 0 {
			return &StageError{Index: i, Stage: st}
		}
	}
	return nil
}
