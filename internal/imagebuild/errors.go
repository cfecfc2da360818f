// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"errors"
	"fmt"
	"strings"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
)

var (
	// ErrPackageNotFound is the sentinel behind PackageNotFoundError.
	ErrPackageNotFound = errors.New("package not found")
	// ErrToolchain is the sentinel behind ToolchainError.
	ErrToolchain = errors.New("toolchain verification failed")
	// ErrNotIdempotent is the sentinel behind NotIdempotentError.
	ErrNotIdempotent = errors.New("rebuild is not idempotent")
	// ErrSampleFailed is the sentinel behind SampleError.
	ErrSampleFailed = errors.New("sample program failed")

	// ErrNetwork is the sentinel behind NetworkError.
	ErrNetwork = container.ErrNetwork
)

type (
	// NetworkError reports a fetch failure that persisted through every
	// retry of a build phase.
	NetworkError = container.NetworkError

	// PackageNotFoundError reports a package apt cannot install, or one
	// missing from a built image. It is never retried.
	PackageNotFoundError struct {
		Package string
		// Version is set when a pinned version was not found.
		Version string
		// Image is set when the package is missing from a built image.
		Image  string
		Output string
		Err    error
	}

	// ToolchainError reports a toolchain whose version query failed or
	// whose version does not satisfy the descriptor's minimum.
	ToolchainError struct {
		Name       string
		Command    []string
		ExitCode   int
		Version    string
		Constraint string
		Output     string
		Err        error
	}

	// NotIdempotentError reports that a cache-bypassing rebuild installed a
	// different package set than the previous build of the same digest.
	NotIdempotentError struct {
		Digest string
		Diff   PackageDiff
	}

	// SampleError reports a sample program that exited non-zero.
	SampleError struct {
		Language descriptor.Language
		ExitCode int
		Output   string
	}
)

func (e *PackageNotFoundError) Error() string {
	switch {
	case e.Image != "":
		return fmt.Sprintf("package %q is not installed in image %s", e.Package, e.Image)
	case e.Version != "":
		return fmt.Sprintf("package %q has no version %q", e.Package, e.Version)
	default:
		return fmt.Sprintf("package %q not found", e.Package)
	}
}

func (e *PackageNotFoundError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPackageNotFound}
	}
	return []error{ErrPackageNotFound, e.Err}
}

func (e *ToolchainError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("toolchain %s: %v", e.Name, e.Err)
	case e.Constraint != "":
		return fmt.Sprintf("toolchain %s: version %s does not satisfy %q", e.Name, e.Version, e.Constraint)
	default:
		return fmt.Sprintf("toolchain %s: %q exited with code %d: %s",
			e.Name, strings.Join(e.Command, " "), e.ExitCode, strings.TrimSpace(e.Output))
	}
}

func (e *ToolchainError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolchain}
	}
	return []error{ErrToolchain, e.Err}
}

func (e *NotIdempotentError) Error() string {
	return fmt.Sprintf("rebuild of %s changed the installed packages: %s", e.Digest, e.Diff)
}

func (e *NotIdempotentError) Unwrap() error { return ErrNotIdempotent }

func (e *SampleError) Error() string {
	return fmt.Sprintf("%s sample exited with code %d: %s", e.Language, e.ExitCode, strings.TrimSpace(e.Output))
}

func (e *SampleError) Unwrap() error { return ErrSampleFailed }
