// SPDX-License-Identifier: MPL-2.0

// Package issue holds the user-facing failure catalog and the
// ActionableError type that carries operation, resource and remediation
// hints up to the CLI.
package issue
