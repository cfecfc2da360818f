// SPDX-License-Identifier: MPL-2.0

// Package store keeps build and session history in a SQLite database under
// the codeden state directory. Build records carry the installed package
// snapshot that the idempotence check compares against.
package store
