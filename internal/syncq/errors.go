package syncq

import (
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned when a sequence number is not in the queue.
var ErrEntryNotFound = errors.New("queue entry not found")

// TransientError is a delivery failure worth retrying, such as a network error or timeout.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient sync failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is a rejection the remote will repeat for the same payload, such as a schema
// validation failure. Entries that hit it are abandoned without retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent sync rejection: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError. Anything else is treated as transient.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
