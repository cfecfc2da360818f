// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"codeden-cli/internal/descriptor"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
)

// sshBackend serves shells in the working directory over SSH.
type sshBackend struct {
	workdir     string
	shell       string
	auth        descriptor.AuthMode
	credential  string
	hostKeyPath string
	logger      *log.Logger

	srv *ssh.Server
	ln  net.Listener

	served   chan struct{}
	serveErr error
}

func newSSHBackend(opts Options) *sshBackend {
	return &sshBackend{
		workdir:     opts.WorkDir,
		shell:       opts.Shell,
		auth:        opts.Auth,
		credential:  opts.Credential,
		hostKeyPath: opts.HostKeyPath,
		logger:      opts.Logger,
		served:      make(chan struct{}),
	}
}

// start serves on the probe listener itself, so the checked port is the
// one that gets used.
func (b *sshBackend) start(_ context.Context, ln net.Listener) (string, error) {
	options := []ssh.Option{
		wish.WithAddress(ln.Addr().String()),
		wish.WithMiddleware(
			b.handler(),
			logging.MiddlewareWithLogger(b.logger),
		),
	}
	if b.hostKeyPath != "" {
		options = append(options, wish.WithHostKeyPath(b.hostKeyPath))
	}
	if b.auth == descriptor.AuthPassword {
		options = append(options, wish.WithPasswordAuth(b.checkPassword))
	}

	srv, err := wish.NewServer(options...)
	if err != nil {
		_ = ln.Close()
		return "", fmt.Errorf("create ssh server: %w", err)
	}
	b.srv, b.ln = srv, ln

	go func() {
		defer close(b.served)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			b.serveErr = fmt.Errorf("ssh serve: %w", err)
		}
	}()
	return ln.Addr().String(), nil
}

func (b *sshBackend) wait(ctx context.Context) (int, error) {
	select {
	case <-b.served:
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	if b.serveErr != nil {
		return 1, b.serveErr
	}
	return 0, nil
}

// stop closes the listener and waits for open connections until ctx ends,
// then drops whatever is left.
func (b *sshBackend) stop(ctx context.Context) error {
	err := b.srv.Shutdown(ctx)
	_ = b.ln.Close()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		b.logger.Warn("closing ssh connections still open at shutdown")
		err = b.srv.Close()
	}
	if err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("ssh shutdown: %w", err)
	}
	return nil
}

func (b *sshBackend) checkPassword(ctx ssh.Context, password string) bool {
	ok := subtle.ConstantTimeCompare([]byte(password), []byte(b.credential)) == 1
	if !ok {
		b.logger.Warn("rejected password", "user", ctx.User(), "remote", ctx.RemoteAddr())
	}
	return ok
}

func (b *sshBackend) handler() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if cmd := sess.Command(); len(cmd) > 0 {
				b.runCommand(sess, cmd)
				return
			}
			if _, _, isPty := sess.Pty(); !isPty {
				_, _ = fmt.Fprintln(sess.Stderr(), "an interactive session needs a terminal; pass a command or use ssh -t")
				_ = sess.Exit(1)
				return
			}
			b.runShell(sess)
		}
	}
}

func (b *sshBackend) command(sess ssh.Session, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(sess.Context(), name, args...)
	cmd.Dir = b.workdir
	cmd.Env = append(os.Environ(), sess.Environ()...)
	cmd.Env = append(cmd.Env, "PWD="+b.workdir)
	return cmd
}

func (b *sshBackend) runShell(sess ssh.Session) {
	ptyReq, winCh, _ := sess.Pty()
	cmd := b.command(sess, b.shell, "-l")
	cmd.Env = append(cmd.Env, "TERM="+ptyReq.Term)

	f, err := startPty(cmd, ptyReq.Window.Width, ptyReq.Window.Height)
	if err != nil {
		_, _ = fmt.Fprintf(sess.Stderr(), "start shell: %v\n", err)
		_ = sess.Exit(1)
		return
	}
	defer func() { _ = f.Close() }()

	go func() {
		for win := range winCh {
			resizePty(f, win.Width, win.Height)
		}
	}()
	go func() { _, _ = io.Copy(f, sess) }()
	_, _ = io.Copy(sess, f)

	_ = sess.Exit(exitStatus(cmd.Wait()))
}

// runCommand runs a one-shot command; a single argument is handed to the
// shell so pipelines work.
func (b *sshBackend) runCommand(sess ssh.Session, args []string) {
	var cmd *exec.Cmd
	if len(args) == 1 {
		cmd = b.command(sess, b.shell, "-c", args[0])
	} else {
		cmd = b.command(sess, args[0], args[1:]...)
	}
	cmd.Stdin = sess
	cmd.Stdout = sess
	cmd.Stderr = sess.Stderr()

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		_, _ = fmt.Fprintf(sess.Stderr(), "%v\n", err)
	}
	_ = sess.Exit(exitStatus(err))
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
