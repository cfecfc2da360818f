// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// LoadOptions selects the config source.
type LoadOptions struct {
	// ConfigFilePath loads exactly this file; a missing file is an error.
	ConfigFilePath string
	// ConfigDirPath replaces ConfigDir for the config.cue lookup.
	ConfigDirPath string
}

// Provider loads configuration from explicit options.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

type fileProvider struct{}

func NewProvider() Provider {
	return &fileProvider{}
}

func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return loadWithOptions(ctx, opts)
}
