// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/issue"
	"codeden-cli/internal/workspace"
)

type initFlags struct {
	lang        string
	dir         string
	port        int
	passwordEnv string
	force       bool
}

func newInitCommand(app *App) *cobra.Command {
	var flags initFlags
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Scaffold a workspace for a language preset",
		Long: `Create a workspace directory with the language's sample program, the
preset descriptor, a Dockerfile, a docker-compose file and a start script:

  workspace-<name>/           sample program
  codeden.<name>.cue          environment descriptor
  Dockerfile.<name>           image recipe
  docker-compose.<name>.yml   editor service
  start-<name>.sh             builds and launches with codeden`,
		Example: `  codeden init myapp --lang python
  codeden init api --lang nodejs --port 9000 --force`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(app.scaffold(cmd.Context(), args[0], flags))
		},
	}
	cmd.Flags().StringVarP(&flags.lang, "lang", "l", "", "language preset, required (see 'codeden languages')")
	cmd.Flags().StringVar(&flags.dir, "dir", ".", "directory to create the workspace in")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "host port for the editor (default: the preset's port)")
	cmd.Flags().StringVar(&flags.passwordEnv, "password-env", "", "environment variable holding the editor password (default: session.password_env)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "overwrite an existing workspace")
	return cmd
}

func (a *App) scaffold(ctx context.Context, name string, flags initFlags) error {
	if flags.lang == "" {
		return fmt.Errorf("%w: --lang is required", errUsage)
	}
	lang, err := descriptor.ResolveLanguage(flags.lang)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("resolve language").
			WithResource(flags.lang).
			WithSuggestion("Run 'codeden languages' to list the presets").
			Wrap(err).
			BuildError()
	}

	passwordEnv := flags.passwordEnv
	if passwordEnv == "" {
		cfg, err := a.loadConfig(ctx)
		if err != nil {
			return a.configError(err)
		}
		passwordEnv = cfg.Session.PasswordEnv
	}

	layout, err := workspace.Scaffold(flags.dir, name, lang, workspace.Options{
		HostPort:    flags.port,
		PasswordEnv: passwordEnv,
		Overwrite:   flags.force,
		Logger:      a.logger("init"),
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("scaffold workspace").
			WithResource(name).
			Wrap(err).
			BuildError()
	}
	printLayout(a.stdout, layout, passwordEnv)
	return nil
}

func printLayout(w io.Writer, l workspace.Layout, passwordEnv string) {
	rel := func(p string) string {
		if r, err := filepath.Rel(l.Root, p); err == nil {
			return r
		}
		return p
	}

	fmt.Fprintf(w, "%s Created workspace %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(rel(l.Dir)))
	for _, f := range l.Files {
		fmt.Fprintf(w, "  %s\n", rel(f))
	}
	for _, f := range []string{l.Readme, l.Descriptor, l.Dockerfile, l.Compose, l.Script} {
		fmt.Fprintf(w, "  %s\n", rel(f))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, SubtitleStyle.Render("Next steps:"))
	fmt.Fprintf(w, "  export %s='...'\n", passwordEnv)
	fmt.Fprintf(w, "  ./%s\n", rel(l.Script))
}
