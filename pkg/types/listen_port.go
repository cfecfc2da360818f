// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
var ErrInvalidListenPort = errors.New("invalid listen port")

type (
	// ListenPort is a TCP port a session binds on the host.
	// Zero asks the kernel for an ephemeral port.
	ListenPort int

	// InvalidListenPortError is returned when a ListenPort is outside 0-65535.
	InvalidListenPortError struct {
		Value ListenPort
	}
)

// String returns the decimal representation.
func (p ListenPort) String() string { return strconv.Itoa(int(p)) }

// IsEphemeral reports whether the port asks for kernel selection.
func (p ListenPort) IsEphemeral() bool { return p == 0 }

// Validate returns an error if the port is outside 0-65535.
func (p ListenPort) Validate() error {
	if p < 0 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidListenPortError) Error() string {
	return fmt.Sprintf("invalid listen port %d: must be 0 (ephemeral) or 1-65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort for errors.Is.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }
