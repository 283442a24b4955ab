package courier

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrStoreClosed = errors.New("courier: store closed")

	// Not found errors.
	ErrJobNotFound  = errors.New("courier: job not found")
	ErrDLQNotFound  = errors.New("courier: dlq entry not found")
	ErrUserNotFound = errors.New("courier: user not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("courier: job already exists")
	ErrUserExists       = errors.New("courier: user already exists")

	// ErrClaimConflict reports that two workers hold the same active job.
	// A correct store never produces it.
	ErrClaimConflict = errors.New("courier: claim conflict")

	// State errors.
	ErrInvalidState = errors.New("courier: invalid state transition")
	ErrLeaseLost    = errors.New("courier: lease lost")
	ErrQueueFull    = errors.New("courier: queue full")

	// Input errors.
	ErrEmptyTopic         = errors.New("courier: empty topic")
	ErrInvalidCredentials = errors.New("courier: invalid credentials")
	ErrInvalidConfig      = errors.New("courier: invalid config")
)

// DispatchError is returned when a job could not be appended to the queue,
// either because the store was unreachable or the payload could not be
// serialized.
type DispatchError struct {
	Topic string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("courier: dispatch to %q: %v", e.Topic, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ExecutionError marks a handler failure as transient. The job is retried
// while its budget lasts. Plain errors returned by handlers are treated the
// same way.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "courier: execution: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// PermanentError marks a handler failure that retrying cannot fix, such as
// a malformed payload. The job goes straight to the dead letter queue.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "courier: permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as an ExecutionError. It returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Err: err}
}

// Permanent wraps err as a PermanentError. It returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or any error it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsDispatchError reports whether err is a DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
