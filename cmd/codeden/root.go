// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"codeden-cli/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the codeden command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "codeden",
		Short: "Reproducible browser-editor development environments",
		Long: TitleStyle.Render("codeden") + SubtitleStyle.Render(" - reproducible development environments") + `

codeden builds a container image with a language toolchain and a browser
code editor from a small CUE descriptor, then serves a working directory
through it. Sessions can also be served over SSH without any container.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Scaffold a workspace:   codeden init myapp --lang python
  2. Export the password:    export PASSWORD='...'
  3. Build and launch:       codeden up codeden.myapp.cue --workdir workspace-myapp

` + SubtitleStyle.Render("Examples:") + `
  codeden languages              List the language presets
  codeden build --lang go        Build the Go preset image
  codeden verify --lang java     Check the Java toolchain in the image
  codeden launch --backend ssh   Serve the current directory over SSH
  codeden history                Show recent builds and sessions`,
		SilenceUsage: true,
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: types.ExitInvalidInput, Err: err}
	})

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/codeden/config.cue)")

	root.AddCommand(
		newBuildCommand(app),
		newLaunchCommand(app),
		newUpCommand(app),
		newVerifyCommand(app),
		newInitCommand(app),
		newLanguagesCommand(app),
		newHistoryCommand(app),
		newSampleCommand(app),
		newConfigCommand(app),
	)
	return root
}

// usageArgs turns positional argument errors into usage exit codes.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &ExitError{Code: types.ExitInvalidInput, Err: err}
		}
		return nil
	}
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the classified status. It is called
// by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(int(types.ExitFailure))
	}
}
