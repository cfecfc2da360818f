// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeden-cli/internal/config"
	"codeden-cli/internal/issue"
)

// newConfigCommand creates the `codeden config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage codeden configuration",
		Long: `Manage codeden configuration.

Configuration is stored in:
  - Linux: ~/.config/codeden/config.cue
  - macOS: ~/Library/Application Support/codeden/config.cue
  - Windows: %APPDATA%\codeden\config.cue

Every key can be overridden with a CODEDEN_* environment variable, for
example CODEDEN_SESSION_PORT=9000.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(showConfig(cmd.Context(), app))
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(initConfig(app, force))
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(showConfigPath(app))
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForDisplay(cmd.Context(), app)
			if err != nil {
				return app.fail(err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func loadConfigForDisplay(ctx context.Context, app *App) (*config.Config, error) {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return nil, app.configError(err)
	}
	return cfg, nil
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := loadConfigForDisplay(ctx, app)
	if err != nil {
		return err
	}

	w := app.stdout
	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	kv := func(indent, key string, value any) {
		fmt.Fprintf(w, "%s%s: %s\n", indent, keyStyle.Render(key), valueStyle.Render(fmt.Sprint(value)))
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if cfg.SourcePath != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), cfg.SourcePath)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	kv("", "container_engine", cfg.ContainerEngine)
	kv("", "state_dir", cfg.StateDir)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("build"))
	kv("  ", "pin_base_image", cfg.Build.PinBaseImage)
	if cfg.Build.Platform != "" {
		kv("  ", "platform", cfg.Build.Platform)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", keyStyle.Render("platform"), SubtitleStyle.Render("(engine default)"))
	}
	kv("  ", "registry_rps", cfg.Build.RegistryRPS)
	kv("  ", "retry.attempts", cfg.Build.Retry.Attempts)
	kv("  ", "retry.backoff", cfg.Build.Retry.Backoff)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("session"))
	kv("  ", "host", cfg.Session.Host)
	kv("  ", "port", cfg.Session.Port)
	kv("  ", "backend", cfg.Session.Backend)
	kv("  ", "password_env", cfg.Session.PasswordEnv)
	kv("  ", "startup_timeout", cfg.Session.StartupTimeout)
	kv("  ", "shutdown_timeout", cfg.Session.ShutdownTimeout)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	kv("  ", "verbose", cfg.UI.Verbose)
	kv("  ", "color_scheme", cfg.UI.ColorScheme)

	return nil
}

func initConfig(app *App, force bool) error {
	path, err := config.WriteDefault("", force)
	if errors.Is(err, config.ErrConfigExists) {
		fmt.Fprintf(app.stdout, "%s Configuration already exists at %s (use --force to overwrite)\n",
			WarningStyle.Render("!"), path)
		return nil
	}
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("create config").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(app *App) error {
	if app.configPath != "" {
		fmt.Fprintf(app.stdout, "Config file: %s\n", app.configPath)
		return nil
	}
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName))
	if stateDir, err := config.DefaultStateDir(); err == nil {
		fmt.Fprintf(app.stdout, "State directory: %s\n", stateDir)
	}
	return nil
}
