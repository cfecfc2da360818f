// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"fmt"
)

// ErrNetwork is the sentinel behind NetworkError.
var ErrNetwork = errors.New("network failure")

// NetworkError reports a transient fetch failure that persisted after every
// retry. Op names the phase ("build", "resolve", ...).
type NetworkError struct {
	Op       string
	Target   string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	target := ""
	if e.Target != "" {
		target = " " + e.Target
	}
	return fmt.Sprintf("%s%s: network failure after %d attempts: %v", e.Op, target, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// AsNetworkError converts a RetryExhaustedError into a NetworkError for op.
// Any other error is returned unchanged.
func AsNetworkError(op, target string, err error) error {
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return &NetworkError{Op: op, Target: target, Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	return err
}
