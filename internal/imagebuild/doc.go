// SPDX-License-Identifier: MPL-2.0

// Package imagebuild turns an environment descriptor into a container image.
//
// A build pins the base image to its registry digest, derives a
// content-addressed tag from the descriptor, and reuses an existing image
// with that tag. Otherwise it renders a deterministic Dockerfile into a
// temporary build context and runs the engine build under bounded
// exponential backoff. apt failures are classified: a missing package is
// fatal on first sight, while fetch failures are retried and surface as
// a NetworkError once the policy is exhausted.
//
// After a build the installed package set is snapshotted with dpkg-query
// and recorded in the store, which is what CheckIdempotence compares
// against. VerifyToolchains and RunSample exercise the built image.
package imagebuild
