// SPDX-License-Identifier: MPL-2.0

// Package session launches a long-running development session bound to a
// host address and serving a working directory.
//
// Two backends exist. The editor backend runs a built environment image
// detached through the container engine and follows it until it exits. The
// ssh backend runs an in-process SSH server (wish) that opens shells in the
// working directory.
//
// Launch checks the authentication configuration before any socket is
// opened and probes the port before the backend starts, so a missing
// credential and an occupied port both fail fast with typed errors.
package session
