// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the codeden CLI.
//
// The root command wires configuration, the container engine, the base
// image resolver and the history store into the build, launch, verify and
// scaffolding subcommands. Domain failures are mapped to issue catalog
// pages and process exit codes at this boundary.
package cmd
