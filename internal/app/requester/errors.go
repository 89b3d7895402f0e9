package requester

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrJobNotFound    = errors.New("job_not_found")
	ErrEnqueueFailed  = errors.New("enqueue_failed")
)

// EnqueueError means the queue backend did not accept the job.
type EnqueueError struct {
	Err error
}

func (e *EnqueueError) Error() string {
	return ErrEnqueueFailed.Error() + ": " + e.Err.Error()
}

func (e *EnqueueError) Unwrap() []error {
	return []error{ErrEnqueueFailed, e.Err}
}
