// SPDX-License-Identifier: MPL-2.0

// Package descriptor defines the Environment Descriptor: the immutable
// description of a development image (base image, OS packages, environment,
// exposed port, auth mode and the toolchains it must provide). Descriptors
// are authored in CUE, validated against an embedded schema plus Go-level
// checks, and named by a canonical content digest.
package descriptor
