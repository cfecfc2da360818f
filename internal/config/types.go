// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"codeden-cli/pkg/types"
)

const (
	ContainerEnginePodman ContainerEngine = "podman"
	ContainerEngineDocker ContainerEngine = "docker"

	BackendEditor SessionBackend = "editor"
	BackendSSH    SessionBackend = "ssh"

	ColorSchemeAuto  ColorScheme = "auto"
	ColorSchemeDark  ColorScheme = "dark"
	ColorSchemeLight ColorScheme = "light"
)

var (
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	ErrInvalidSessionBackend  = errors.New("invalid session backend")
	ErrInvalidColorScheme     = errors.New("invalid color scheme")
	// ErrInvalidConfig is wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine selects the CLI used for builds and editor sessions.
	ContainerEngine string

	// SessionBackend selects how a session is served.
	SessionBackend string

	// ColorScheme is the terminal palette preference.
	ColorScheme string

	// InvalidValueError reports an enumerated setting outside its allowed set.
	InvalidValueError struct {
		Field   string
		Value   string
		Allowed []string
		kind    error
	}

	// InvalidConfigError aggregates every field error found by Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the fully resolved codeden configuration.
	Config struct {
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		StateDir        string          `json:"state_dir" mapstructure:"state_dir"`
		Build           BuildConfig     `json:"build" mapstructure:"build"`
		Session         SessionConfig   `json:"session" mapstructure:"session"`
		UI              UIConfig        `json:"ui" mapstructure:"ui"`

		// SourcePath is the file the config was read from, empty for defaults.
		SourcePath string `json:"-" mapstructure:"-"`
	}

	BuildConfig struct {
		// PinBaseImage resolves the base image tag to its registry digest
		// before building.
		PinBaseImage bool        `json:"pin_base_image" mapstructure:"pin_base_image"`
		Platform     string      `json:"platform" mapstructure:"platform"`
		RegistryRPS  float64     `json:"registry_rps" mapstructure:"registry_rps"`
		Retry        RetryConfig `json:"retry" mapstructure:"retry"`
	}

	// RetryConfig bounds the exponential backoff applied to network-bound
	// build steps.
	RetryConfig struct {
		Attempts int           `json:"attempts" mapstructure:"attempts"`
		Backoff  time.Duration `json:"backoff" mapstructure:"backoff"`
	}

	SessionConfig struct {
		Host            string         `json:"host" mapstructure:"host"`
		Port            int            `json:"port" mapstructure:"port"`
		Backend         SessionBackend `json:"backend" mapstructure:"backend"`
		PasswordEnv     string         `json:"password_env" mapstructure:"password_env"`
		StartupTimeout  time.Duration  `json:"startup_timeout" mapstructure:"startup_timeout"`
		ShutdownTimeout time.Duration  `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	}

	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}
)

// DefaultConfig returns the built-in settings. StateDir is left empty and
// resolved by Load.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEnginePodman,
		Build: BuildConfig{
			PinBaseImage: true,
			RegistryRPS:  5,
			Retry:        RetryConfig{Attempts: 4, Backoff: 2 * time.Second},
		},
		Session: SessionConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Backend:         BackendEditor,
			PasswordEnv:     "PASSWORD",
			StartupTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		UI: UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: invalid value %q (allowed: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *InvalidValueError) Unwrap() error { return e.kind }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes ErrInvalidConfig and every field error to errors.Is/As.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

func (e ContainerEngine) Validate() error {
	switch e {
	case ContainerEnginePodman, ContainerEngineDocker:
		return nil
	}
	return &InvalidValueError{Field: "container_engine", Value: string(e), Allowed: []string{"podman", "docker"}, kind: ErrInvalidContainerEngine}
}

func (b SessionBackend) Validate() error {
	switch b {
	case BackendEditor, BackendSSH:
		return nil
	}
	return &InvalidValueError{Field: "session.backend", Value: string(b), Allowed: []string{"editor", "ssh"}, kind: ErrInvalidSessionBackend}
}

func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	}
	return &InvalidValueError{Field: "ui.color_scheme", Value: string(c), Allowed: []string{"auto", "dark", "light"}, kind: ErrInvalidColorScheme}
}

// Validate checks cross-field constraints on a decoded config.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(c.ContainerEngine.Validate())
	add(c.Session.Backend.Validate())
	add(c.UI.ColorScheme.Validate())
	if err := types.ListenPort(c.Session.Port).Validate(); err != nil {
		add(fmt.Errorf("session.port: %w", err))
	}
	if c.Build.Retry.Attempts < 1 {
		add(fmt.Errorf("build.retry.attempts: must be at least 1, got %d", c.Build.Retry.Attempts))
	}
	if c.Build.Retry.Backoff < 0 {
		add(fmt.Errorf("build.retry.backoff: must not be negative, got %s", c.Build.Retry.Backoff))
	}
	if c.Build.RegistryRPS <= 0 {
		add(fmt.Errorf("build.registry_rps: must be positive, got %g", c.Build.RegistryRPS))
	}
	if c.Session.StartupTimeout <= 0 {
		add(fmt.Errorf("session.startup_timeout: must be positive, got %s", c.Session.StartupTimeout))
	}
	if c.Session.ShutdownTimeout <= 0 {
		add(fmt.Errorf("session.shutdown_timeout: must be positive, got %s", c.Session.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}
