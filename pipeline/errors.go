package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// EmptyResultWarning is reported when a stage removes every point.
// It does not stop the pipeline.
type EmptyResultWarning struct {
	Stage  StageConfig
	Before int
}

func (w *EmptyResultWarning) Error() string {
	return fmt.Sprintf("%s removed all %d points", w.Stage, w.Before)
}

// RevertedWarning is reported when a stage that would remove every point was
// rolled back to its input.
type RevertedWarning struct {
	Stage  StageConfig
	Before int
}

func (w *RevertedWarning) Error() string {
	return fmt.Sprintf("%s would remove all %d points, stage reverted", w.Stage, w.Before)
}

// CancellationError is returned when a run is cancelled. No state is changed.
type CancellationError struct {
	Stage  StageConfig
	Points int
	Err    error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s on %d points cancelled: %v", e.Stage, e.Points, e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
