// SPDX-License-Identifier: MPL-2.0

// Package workspace scaffolds a ready-to-launch project directory for one
// language: the sample program, the environment descriptor, a Dockerfile
// and docker-compose file for running without codeden, and a start script
// that builds and launches through codeden.
package workspace
