package orchestrator

import (
	"errors"
	"fmt"
)

// StageError is an unrecoverable failure of one stage. Execute records it
// on the result and stops.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErrorf(stage Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// asStageError converts any error raised while running stage.
func asStageError(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Stage: stage, Message: err.Error(), Err: err}
}
