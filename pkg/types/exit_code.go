// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// Process exit statuses reported by the codeden CLI. Each build-time and
// runtime failure class has its own status so wrapper scripts can branch on it.
const (
	ExitSuccess          ExitCode = 0
	ExitFailure          ExitCode = 1
	ExitInvalidInput     ExitCode = 2
	ExitPackageNotFound  ExitCode = 3
	ExitNetwork          ExitCode = 4
	ExitPortInUse        ExitCode = 5
	ExitAuthConfig       ExitCode = 6
	ExitEngineNotFound   ExitCode = 7
	ExitToolchainMissing ExitCode = 8
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is a POSIX process exit status (0-255). Zero means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess reports whether the code is ExitSuccess.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }

// IsEngineFailure reports whether the code was produced by the container
// engine itself rather than the contained process (125 engine error,
// 126 not executable, 127 not found).
func (c ExitCode) IsEngineFailure() bool { return c >= 125 && c <= 127 }

// String returns the decimal representation.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
