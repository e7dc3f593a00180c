package engine

import "errors"

var (
	// ErrAlreadyRunning means the case holds an active job lease.
	ErrAlreadyRunning = errors.New("case already has an active job")

	// ErrQueueFull means the worker queue cannot take more jobs right now.
	ErrQueueFull = errors.New("job queue is full")

	// ErrConflict means the case is not in a state that permits the
	// requested operation.
	ErrConflict = errors.New("operation conflicts with current case state")
)

// ValidationError marks caller mistakes the API maps to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
