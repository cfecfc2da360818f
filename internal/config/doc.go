// SPDX-License-Identifier: MPL-2.0

// Package config loads codeden settings with Viper, using CUE as the file
// format. The user file (config.cue in the platform config directory) is
// validated against the embedded #Config schema, merged over defaults and
// finally overridden by CODEDEN_* environment variables.
package config
