package engine

import "fmt"

// ProcessingError reports an unrecoverable loop failure, such as a stream
// with no events to process.
type ProcessingError struct {
	Stream string
	Reason string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %s", e.Stream, e.Reason)
}

// MaxIterationsExceededError reports a loop that exhausted its iteration
// budget without reaching a termination verdict.
type MaxIterationsExceededError struct {
	ThreadID      string
	MaxIterations int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("processing exceeded maximum iterations (%d) for thread %s",
		e.MaxIterations, e.ThreadID)
}
