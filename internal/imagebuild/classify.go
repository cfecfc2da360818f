// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"errors"
	"regexp"

	"codeden-cli/internal/container"
)

var (
	unableToLocate  = regexp.MustCompile(`Unable to locate package (\S+)`)
	noCandidate     = regexp.MustCompile(`Package '([^']+)' has no installation candidate`)
	versionNotFound = regexp.MustCompile(`Version '([^']+)' for '([^']+)' was not found`)
)

// classifyBuildError decides how a failed engine build is handled: a
// *PackageNotFoundError (fatal), retry (transient fetch failure), or the
// error unchanged (fatal).
//
// apt's package reports win over the engine's exit code: podman exits 125
// for any failed RUN step. A failed "apt-get update" leaves apt without
// package lists, after which every install reports "Unable to locate
// package", so fetch failures in the output win over the package reports.
func classifyBuildError(err error) (retry bool, classified error) {
	var be *container.BuildError
	if errors.As(err, &be) && !container.HasFetchFailure(be.Output) {
		if pnf := packageNotFound(be.Output); pnf != nil {
			pnf.Err = err
			return false, pnf
		}
	}
	return container.IsTransientError(err), err
}

// packageNotFound extracts the first apt "no such package" report.
func packageNotFound(output string) *PackageNotFoundError {
	if m := versionNotFound.FindStringSubmatch(output); m != nil {
		return &PackageNotFoundError{Package: m[2], Version: m[1], Output: output}
	}
	if m := unableToLocate.FindStringSubmatch(output); m != nil {
		return &PackageNotFoundError{Package: m[1], Output: output}
	}
	if m := noCandidate.FindStringSubmatch(output); m != nil {
		return &PackageNotFoundError{Package: m[1], Output: output}
	}
	return nil
}
