// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"codeden-cli/internal/issue"
	"codeden-cli/pkg/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	AppName = "codeden"
	// EnvPrefix prefixes environment overrides: session.port is CODEDEN_SESSION_PORT.
	EnvPrefix      = "CODEDEN"
	ConfigFileName = "config.cue"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the directory holding config.cue: %APPDATA% on Windows,
// ~/Library/Application Support on macOS and $XDG_CONFIG_HOME (or ~/.config)
// elsewhere.
//
//nolint:revive // stutters with the package name
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// DefaultStateDir returns where the build and session history lives when
// state_dir is unset: $XDG_DATA_HOME/codeden (or ~/.local/share/codeden),
// %LOCALAPPDATA%\codeden on Windows and the config dir's "state" child on macOS.
func DefaultStateDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
	case "darwin":
		cfgDir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cfgDir, "state"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", AppName), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("container_engine", string(d.ContainerEngine))
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("build.pin_base_image", d.Build.PinBaseImage)
	v.SetDefault("build.platform", d.Build.Platform)
	v.SetDefault("build.registry_rps", d.Build.RegistryRPS)
	v.SetDefault("build.retry.attempts", d.Build.Retry.Attempts)
	v.SetDefault("build.retry.backoff", d.Build.Retry.Backoff)
	v.SetDefault("session.host", d.Session.Host)
	v.SetDefault("session.port", d.Session.Port)
	v.SetDefault("session.backend", string(d.Session.Backend))
	v.SetDefault("session.password_env", d.Session.PasswordEnv)
	v.SetDefault("session.startup_timeout", d.Session.StartupTimeout)
	v.SetDefault("session.shutdown_timeout", d.Session.ShutdownTimeout)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load config canceled: %w", err)
	}

	v := newViper()

	path := opts.ConfigFilePath
	explicit := path != ""
	if !explicit {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, err
			}
		}
		path = filepath.Join(dir, ConfigFileName)
	}

	source := ""
	switch {
	case fileExists(path):
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, loadError(path, err)
		}
		source = path
	case explicit:
		return nil, loadError(path, fmt.Errorf("config file not found: %s", path))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, loadError(path, fmt.Errorf("decode config: %w", err))
	}
	cfg.SourcePath = source

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(source).
			WithSuggestion("Check CODEDEN_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

func loadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE matching the config schema").
		WithSuggestion("Run 'codeden config init' to write a default config").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

// loadCUEIntoViper validates the file against #Config and merges the decoded
// map into v. Fields are optional, so validation is non-concrete and the
// result is a map rather than a Config.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := cueutil.CheckSize(data, cueutil.DefaultMaxDocumentSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(configSchema)
	if schema.Err() != nil {
		return fmt.Errorf("internal error: compile config schema: %w", schema.Err())
	}
	user := ctx.CompileBytes(data, cue.Filename(path))
	if user.Err() != nil {
		return cueutil.FormatError(user.Err(), path)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var m map[string]any
	if err := unified.Decode(&m); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrConfigExists is returned by WriteDefault when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes the default config to dir/config.cue (ConfigDir when
// dir is empty) and returns the path. An existing file is kept unless force
// is set.
func WriteDefault(dir string, force bool) (string, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if !force && fileExists(path) {
		return path, ErrConfigExists
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return path, nil
}

// GenerateCUE renders cfg in the config.cue format. Empty optional strings
// are omitted so the result always validates against #Config.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// codeden configuration\n\n")
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)
	if cfg.StateDir != "" {
		fmt.Fprintf(&sb, "state_dir: %q\n", cfg.StateDir)
	}

	sb.WriteString("\nbuild: {\n")
	fmt.Fprintf(&sb, "\tpin_base_image: %v\n", cfg.Build.PinBaseImage)
	if cfg.Build.Platform != "" {
		fmt.Fprintf(&sb, "\tplatform: %q\n", cfg.Build.Platform)
	}
	fmt.Fprintf(&sb, "\tregistry_rps: %g\n", cfg.Build.RegistryRPS)
	sb.WriteString("\tretry: {\n")
	fmt.Fprintf(&sb, "\t\tattempts: %d\n", cfg.Build.Retry.Attempts)
	fmt.Fprintf(&sb, "\t\tbackoff: %q\n", cfg.Build.Retry.Backoff.String())
	sb.WriteString("\t}\n}\n")

	sb.WriteString("\nsession: {\n")
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.Session.Host)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.Session.Port)
	fmt.Fprintf(&sb, "\tbackend: %q\n", cfg.Session.Backend)
	fmt.Fprintf(&sb, "\tpassword_env: %q\n", cfg.Session.PasswordEnv)
	fmt.Fprintf(&sb, "\tstartup_timeout: %q\n", cfg.Session.StartupTimeout.String())
	fmt.Fprintf(&sb, "\tshutdown_timeout: %q\n", cfg.Session.ShutdownTimeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	sb.WriteString("}\n")

	return sb.String()
}
