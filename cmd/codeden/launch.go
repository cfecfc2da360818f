// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/issue"
	"codeden-cli/internal/session"
	"codeden-cli/pkg/types"
)

// launchFlags are shared by launch and up. Empty values fall back to the
// session section of the config.
type launchFlags struct {
	image       string
	host        string
	port        int
	workdir     string
	auth        string
	passwordEnv string
	backend     string
}

func (f *launchFlags) addFlags(cmd *cobra.Command, withImage bool) {
	if withImage {
		cmd.Flags().StringVar(&f.image, "image", "", "image tag to run (default: the latest build of the environment)")
	}
	cmd.Flags().StringVar(&f.host, "host", "", "address to bind (default: session.host)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "port to bind (default: the preset's port, else session.port)")
	cmd.Flags().StringVarP(&f.workdir, "workdir", "w", ".", "directory to serve")
	cmd.Flags().StringVar(&f.auth, "auth", "", "authentication mode: password or none (default: the descriptor's)")
	cmd.Flags().StringVar(&f.passwordEnv, "password-env", "", "environment variable holding the password (default: session.password_env)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "session backend: editor or ssh (default: session.backend)")
}

func newLaunchCommand(app *App) *cobra.Command {
	var (
		src   descriptorSource
		flags launchFlags
	)
	cmd := &cobra.Command{
		Use:   "launch [descriptor]",
		Short: "Serve a working directory through a built environment",
		Long: `Serve a working directory until interrupted.

The editor backend runs the environment image with the directory mounted
and the editor published on host:port. The ssh backend serves the directory
over SSH from this process and needs no image.

Password authentication reads the password from the variable named by
--password-env and refuses to start when it is empty. A port that is
already bound fails immediately.`,
		Example: `  PASSWORD=secret codeden launch codeden.myapp.cue --workdir workspace-myapp
  codeden launch --lang go --port 9000 --auth none
  codeden launch --backend ssh --port 2222`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(app.launch(cmd.Context(), cmd, src, args, flags, nil))
		},
	}
	src.addFlags(cmd)
	flags.addFlags(cmd, true)
	return cmd
}

func newUpCommand(app *App) *cobra.Command {
	var (
		src   descriptorSource
		flags launchFlags
		build buildFlags
	)
	cmd := &cobra.Command{
		Use:   "up [descriptor]",
		Short: "Build the environment image, then launch it",
		Long: `Build the environment image (reusing an existing one unless --force is
given), then serve the working directory through it like 'codeden launch'.`,
		Example: `  codeden up codeden.myapp.cue --workdir workspace-myapp --port 8080`,
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(app.launch(cmd.Context(), cmd, src, args, flags, &build))
		},
	}
	src.addFlags(cmd)
	flags.addFlags(cmd, false)
	build.addFlags(cmd)
	return cmd
}

// launch starts a session and blocks until it ends. A non-nil build builds
// the image first.
func (a *App) launch(ctx context.Context, cmd *cobra.Command, src descriptorSource, args []string, flags launchFlags, build *buildFlags) error {
	if err := a.preloadConfig(ctx); err != nil {
		return err
	}
	backend := session.Backend(flags.backend)
	if backend == "" {
		backend = session.Backend(a.cfg.Session.Backend)
	}
	if err := backend.Validate(); err != nil {
		return err
	}
	editor := backend == session.BackendEditor

	svc, err := a.open(ctx, editor || build != nil)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	opts := session.Options{
		Backend:         backend,
		Host:            flags.host,
		StartupTimeout:  svc.cfg.Session.StartupTimeout,
		ShutdownTimeout: svc.cfg.Session.ShutdownTimeout,
		Store:           svc.store,
		Logger:          a.logger("session"),
	}
	if opts.Host == "" {
		opts.Host = svc.cfg.Session.Host
	}

	var rd resolvedDescriptor
	if editor || build != nil || src.given(args) {
		if rd, err = src.resolve(args); err != nil {
			return err
		}
		opts.Descriptor = rd.desc
	}

	if flags.auth != "" {
		opts.Auth = descriptor.AuthMode(flags.auth)
	} else if opts.Descriptor != nil {
		opts.Auth = opts.Descriptor.Auth
	}
	passwordEnv := flags.passwordEnv
	if passwordEnv == "" {
		passwordEnv = svc.cfg.Session.PasswordEnv
	}
	opts.Credential = os.Getenv(passwordEnv)
	opts.CredentialSource = "$" + passwordEnv

	if build != nil {
		// Refuse before a possibly long build, not after it.
		if err := session.CheckAuth(authOrDefault(opts.Auth), opts.Credential, opts.CredentialSource); err != nil {
			return issue.NewErrorContext().
				WithOperation("launch session").
				WithSuggestion(launchSuggestion(err, passwordEnv)).
				Wrap(err).
				BuildError()
		}
		res, err := a.build(ctx, svc, rd.desc, *build)
		if err != nil {
			return err
		}
		printBuildResult(a.stdout, res)
		opts.Descriptor = res.Descriptor
		opts.Image = res.Tag
	}
	if editor {
		opts.Engine = svc.engine
		if opts.Image == "" && flags.image != "" {
			opts.Image = container.ImageTag(flags.image)
		}
		if opts.Image == "" {
			if opts.Image, err = latestImage(ctx, svc, rd.desc); err != nil {
				return err
			}
		}
	} else {
		opts.HostKeyPath = hostKeyPath(svc.cfg)
	}

	switch {
	case cmd.Flags().Changed("port"):
		opts.Port = flags.port
	case rd.lang != "" && editor:
		opts.Port = rd.lang.HostPort()
	default:
		opts.Port = svc.cfg.Session.Port
	}

	if opts.WorkDir, err = filepath.Abs(flags.workdir); err != nil {
		return err
	}

	s, err := session.Launch(ctx, opts)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("launch session").
			WithResource(fmt.Sprintf("%s:%d", opts.Host, opts.Port)).
			WithSuggestion(launchSuggestion(err, passwordEnv)).
			Wrap(err).
			BuildError()
	}
	printSession(a.stdout, s)

	code, err := s.Wait(ctx)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("serve session").
			WithResource(s.Address()).
			Wrap(err).
			BuildError()
	}
	if err := sessionExitError(s.ID().String(), code); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s Session %s stopped\n", SuccessStyle.Render("✓"), s.ID())
	return nil
}

// sessionExitError reports a non-zero session status. The status itself
// stays in the message and the history record; codeden exits 1 so it is
// not mistaken for one of its own exit codes.
func sessionExitError(id string, status int) error {
	if status == 0 {
		return nil
	}
	return &ExitError{Code: types.ExitFailure, Err: fmt.Errorf("session %s exited with status %d", id, status)}
}

// preloadConfig loads the config early so backend defaults are known
// before anything is opened.
func (a *App) preloadConfig(ctx context.Context) error {
	if _, err := a.loadConfig(ctx); err != nil {
		return a.configError(err)
	}
	return nil
}

func authOrDefault(mode descriptor.AuthMode) descriptor.AuthMode {
	if mode == "" {
		return descriptor.AuthPassword
	}
	return mode
}

func launchSuggestion(err error, passwordEnv string) string {
	id, _ := classifyChain(err)
	switch id {
	case issue.AuthConfigMissingId:
		return fmt.Sprintf("Export %s, or pass --auth none on a trusted network", passwordEnv)
	case issue.PortInUseId:
		return "Pick another port with --port"
	case issue.WorkDirNotFoundId:
		return "Point --workdir at an existing directory"
	}
	return ""
}

func printSession(w io.Writer, s *session.Session) {
	fmt.Fprintf(w, "%s Session %s running\n", SuccessStyle.Render("✓"), s.ID())
	switch s.Backend() {
	case session.BackendSSH:
		fmt.Fprintf(w, "  ssh:     %s\n", CmdStyle.Render(s.Address()))
	default:
		fmt.Fprintf(w, "  editor:  %s\n", CmdStyle.Render("http://"+s.Address()))
	}
	fmt.Fprintf(w, "  workdir: %s\n", s.WorkDir())
	fmt.Fprintln(w, SubtitleStyle.Render("  Press Ctrl+C to stop"))
}
