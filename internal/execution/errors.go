package execution

import (
	"errors"
	"fmt"

	"yqhp/load-harness/pkg/types"
)

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilIterationFunc is returned when the iteration function is nil.
	ErrNilIterationFunc = errors.New("iteration function is nil")

	// ErrNoStages is returned when no stages are defined for ramping modes.
	ErrNoStages = errors.New("no stages defined for ramping mode")

	// ErrInvalidStage is returned for a stage with a negative duration or target.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvalidVUs is returned when a fixed-VU mode gets fewer than one VU.
	ErrInvalidVUs = errors.New("invalid vus: must be positive")

	// ErrInvalidDuration is returned when constant-vus has no positive duration.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")

	// ErrInvalidIterations is returned when per-vu-iterations has no positive count.
	ErrInvalidIterations = errors.New("invalid iterations: must be positive")

	// ErrModeAlreadyRunning is returned when trying to start a mode that is already running.
	ErrModeAlreadyRunning = errors.New("execution mode is already running")

	// ErrUnknownMode is returned by the registry for an unregistered mode name.
	ErrUnknownMode = errors.New("unknown execution mode")
)

// StageError names the offending stage.
type StageError struct {
	Index int
	Stage types.Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): duration and target must not be negative", e.Index, e.Stage)
}

func (e *StageError) Unwrap() error {
	return ErrInvalidStage
}
