// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
)

var (
	// ErrPortInUse is wrapped by PortInUseError.
	ErrPortInUse = errors.New("port already in use")
	// ErrAuthConfig is wrapped by AuthConfigError.
	ErrAuthConfig = errors.New("invalid authentication configuration")
	// ErrInvalidWorkDir is returned when the working directory is missing
	// or is not a directory.
	ErrInvalidWorkDir = errors.New("invalid working directory")
	// ErrInvalidOptions is returned for option combinations no backend can
	// serve.
	ErrInvalidOptions = errors.New("invalid session options")
)

type (
	// PortInUseError reports that the session address is already bound,
	// either by the bind probe or by the container engine.
	PortInUseError struct {
		Host string
		Port int
		Err  error
	}

	// AuthConfigError reports an authentication setup that cannot admit
	// anyone, such as password mode without a credential. Source names
	// where the credential was expected to come from.
	AuthConfigError struct {
		Mode   descriptor.AuthMode
		Source string
		Reason string
	}

	// WorkDirError wraps ErrInvalidWorkDir with the offending path.
	WorkDirError struct {
		Path string
		Err  error
	}
)

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("%s is already in use", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

func (e *PortInUseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPortInUse}
	}
	return []error{ErrPortInUse, e.Err}
}

func (e *AuthConfigError) Error() string {
	msg := fmt.Sprintf("auth mode %q: %s", e.Mode, e.Reason)
	if e.Source != "" {
		msg += " (credential source: " + e.Source + ")"
	}
	return msg
}

func (e *AuthConfigError) Unwrap() error { return ErrAuthConfig }

func (e *WorkDirError) Error() string {
	return fmt.Sprintf("working directory %s: %v", e.Path, e.Err)
}

func (e *WorkDirError) Unwrap() []error { return []error{ErrInvalidWorkDir, e.Err} }

// isAddrInUse reports whether a listen error means the address is taken.
func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "address already in use")
}

// portAllocated reports whether a failed engine start was refused because
// the host port is taken.
func portAllocated(err error) bool {
	var cmdErr *container.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	out := strings.ToLower(cmdErr.Stderr)
	return strings.Contains(out, "port is already allocated") ||
		strings.Contains(out, "address already in use")
}
