// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"strings"
)

var (
	// engineRaceMarkers are rootless podman races that pass on a rerun.
	engineRaceMarkers = []string{
		"ping_group_range",
		"OCI runtime error",
		"error creating overlay mount",
		"error mounting layer",
	}

	// fetchMarkers are network failures reported by apt, curl and
	// registries.
	fetchMarkers = []string{
		// name resolution and connectivity
		"Temporary failure resolving",
		"Could not resolve host",
		"Could not connect to",
		"connection timed out",
		"connection refused",
		"connection reset by peer",
		"i/o timeout",
		"TLS handshake timeout",
		"no such host",
		// apt mirrors
		"Failed to fetch",
		"Unable to fetch some archives",
		"Hash Sum mismatch",
		// registries
		"503 Service Unavailable",
		"502 Bad Gateway",
		"429 Too Many Requests",
		"toomanyrequests",
	}
)

// HasFetchFailure reports whether output contains a network fetch failure.
func HasFetchFailure(output string) bool {
	return containsAny(output, fetchMarkers)
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// IsTransientError reports whether err looks like a failure worth retrying.
// Context errors never are. A BuildError is judged by its captured output,
// and exit code 125 (engine-internal failure) counts as transient unless
// the engine reported a port conflict.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	text := err.Error()
	var be *BuildError
	if errors.As(err, &be) {
		if be.ExitCode == 125 {
			return true
		}
		text += "\n" + be.Output
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		if ce.ExitCode == 125 && !strings.Contains(ce.Stderr, "address already in use") &&
			!strings.Contains(ce.Stderr, "port is already allocated") {
			return true
		}
		text += "\n" + ce.Stderr
	}

	return containsAny(text, fetchMarkers) || containsAny(text, engineRaceMarkers)
}
