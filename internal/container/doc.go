// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman CLIs behind one Engine
// interface: image builds, throwaway runs, detached editor containers and
// image inspection. It also owns the retry policy and transient-error
// classification shared by every network-bound build step.
package container
