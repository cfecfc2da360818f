// SPDX-License-Identifier: MPL-2.0

// Package registry pins base image references to manifest digests by
// querying their OCI registry. Requests are rate limited and retried with
// the shared container backoff.
package registry
