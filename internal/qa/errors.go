package qa

import (
	"errors"
	"fmt"
)

var (
	// ErrRunTerminal is returned when mutating a completed or failed run.
	ErrRunTerminal = errors.New("evaluation run already terminal")
	// ErrRunCancelled is returned by Execute when the caller cancelled the run.
	ErrRunCancelled = errors.New("evaluation run cancelled")
)

// OracleInvocationError wraps the last error of an exhausted oracle call.
type OracleInvocationError struct {
	Attempts int
	Err      error
}

func (e *OracleInvocationError) Error() string {
	return fmt.Sprintf("oracle failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *OracleInvocationError) Unwrap() error { return e.Err }

// OracleMalformedResponseError is returned for responses without a valid
// verdict or reasoning.
type OracleMalformedResponseError struct {
	Reason string
}

func (e *OracleMalformedResponseError) Error() string {
	return "malformed oracle response: " + e.Reason
}

// StoreWriteError is a failed write to the persistent store.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreWriteError) Unwrap() error { return e.Err }
