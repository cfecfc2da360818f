// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/store"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
)

const (
	BackendEditor Backend = "editor"
	BackendSSH    Backend = "ssh"

	DefaultHost            = "0.0.0.0"
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultShell           = "/bin/sh"
)

type (
	// Backend selects what serves the session.
	Backend string

	// Recorder persists session history. *store.Store implements it.
	Recorder interface {
		StartSession(ctx context.Context, rec store.SessionRecord) (store.SessionRecord, error)
		FinishSession(ctx context.Context, id ulid.ULID, exitCode int, errMsg string) error
	}

	// Options configures Launch.
	Options struct {
		Backend Backend
		Host    string
		// Port 0 picks an ephemeral port; only the ssh backend accepts it.
		Port    int
		WorkDir string

		Auth       descriptor.AuthMode
		Credential string
		// CredentialSource names where Credential was read from, e.g.
		// "$PASSWORD". It only appears in error messages.
		CredentialSource string

		// Engine, Image and Descriptor are required by the editor backend.
		Engine     container.Engine
		Image      container.ImageTag
		Descriptor *descriptor.Descriptor

		// Shell and HostKeyPath configure the ssh backend. An empty
		// HostKeyPath uses a key generated for this session only.
		Shell       string
		HostKeyPath string

		StartupTimeout  time.Duration
		ShutdownTimeout time.Duration

		Store  Recorder
		Logger *log.Logger
	}

	// Session is a launched server. It is single-use: once stopped or
	// failed, launch a new one.
	Session struct {
		lifecycle

		id      ulid.ULID
		opts    Options
		backend backend
		addr    string
		logger  *log.Logger

		mu       sync.Mutex
		exitCode int

		// exited is closed when the backend's server has returned.
		exited chan struct{}
	}

	// backend is one way of serving a session. start receives the bound
	// probe listener and either serves on it or releases it.
	backend interface {
		start(ctx context.Context, ln net.Listener) (addr string, err error)
		wait(ctx context.Context) (exitCode int, err error)
		stop(ctx context.Context) error
	}
)

func (b Backend) String() string { return string(b) }

func (b Backend) Validate() error {
	switch b {
	case BackendEditor, BackendSSH:
		return nil
	}
	return fmt.Errorf("%w: unknown backend %q (valid: editor, ssh)", ErrInvalidOptions, string(b))
}

// Backends lists the supported backends, default first.
func Backends() []Backend { return []Backend{BackendEditor, BackendSSH} }

func (o *Options) applyDefaults() {
	if o.Backend == "" {
		o.Backend = BackendEditor
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Auth == "" {
		o.Auth = descriptor.AuthPassword
		if o.Descriptor != nil && o.Descriptor.Auth != "" {
			o.Auth = o.Descriptor.Auth
		}
	}
	if o.Shell == "" {
		o.Shell = DefaultShell
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "session"})
	}
}

func (o *Options) validate() error {
	if err := o.Backend.Validate(); err != nil {
		return err
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.Backend == BackendEditor {
		var missing []string
		if o.Engine == nil {
			missing = append(missing, "engine")
		}
		if o.Image == "" {
			missing = append(missing, "image")
		}
		if o.Descriptor == nil {
			missing = append(missing, "descriptor")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: editor backend needs %s", ErrInvalidOptions, strings.Join(missing, ", "))
		}
		if o.Port == 0 {
			return fmt.Errorf("%w: editor backend needs an explicit port", ErrInvalidOptions)
		}
	}
	return nil
}

// Launch starts a session. The steps run in order and each one aborts the
// launch: authentication check, working directory check, port bind probe,
// backend start. A missing credential is reported before any socket is
// opened, and a bound port is reported without waiting.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := CheckAuth(opts.Auth, opts.Credential, opts.CredentialSource); err != nil {
		return nil, err
	}
	workdir, err := checkWorkDir(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	opts.WorkDir = workdir

	ln, err := probePort(ctx, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}

	s := newSession(opts)
	if err := s.start(ctx, ln); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(opts Options) *Session {
	s := &Session{
		lifecycle: newLifecycle(),
		id:        ulid.Make(),
		opts:      opts,
		logger:    opts.Logger,
		exited:    make(chan struct{}),
	}
	switch opts.Backend {
	case BackendSSH:
		s.backend = newSSHBackend(opts)
	default:
		s.backend = newEditorBackend(opts, s.containerName())
	}
	return s
}

func (s *Session) start(ctx context.Context, ln net.Listener) error {
	if err := s.begin(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, s.opts.StartupTimeout)
	defer cancel()

	addr, err := s.backend.start(startCtx, ln)
	if err != nil {
		s.fail(err)
		return err
	}
	s.addr = addr
	s.markRunning()
	s.logger.Info("session started", "backend", s.opts.Backend, "address", addr, "workdir", s.opts.WorkDir)

	s.record(ctx)
	go s.follow()
	return nil
}

// follow waits for the backend's server to return. A server that exits on
// its own ends the session with its exit status.
func (s *Session) follow() {
	code, err := s.backend.wait(context.Background())
	close(s.exited)

	if !s.beginStop() {
		return
	}
	switch {
	case err != nil:
		s.finish(1, err)
	case code != 0:
		s.finish(code, fmt.Errorf("%s server exited with status %d", s.opts.Backend, code))
	default:
		s.finish(0, nil)
	}
}

// Stop shuts the session down gracefully, bounded by the shutdown timeout.
// Calling it again, or after the server exited, is a no-op.
func (s *Session) Stop() error {
	if !s.beginStop() {
		if s.State() == StateStopping {
			<-s.Done()
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := s.backend.stop(ctx)
	select {
	case <-s.exited:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("server did not exit within %s: %w", s.opts.ShutdownTimeout, ctx.Err())
		}
	}
	if err != nil {
		s.finish(1, err)
		return err
	}
	s.finish(0, nil)
	return nil
}

// Wait blocks until the server exits or ctx is cancelled, stopping the
// session in the latter case. It returns the session's exit status: 0
// after a clean shutdown.
func (s *Session) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.Done():
	case <-ctx.Done():
		s.logger.Info("stopping session", "reason", context.Cause(ctx))
		if err := s.Stop(); err != nil {
			return s.ExitCode(), err
		}
	}
	return s.ExitCode(), s.Err()
}

func (s *Session) finish(code int, err error) {
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()

	if s.opts.Store != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if rerr := s.opts.Store.FinishSession(context.Background(), s.id, code, msg); rerr != nil {
			s.logger.Warn("could not record session end", "id", s.id, "error", rerr)
		}
	}

	if err != nil {
		s.logger.Error("session failed", "error", err)
		s.fail(err)
		return
	}
	s.logger.Info("session stopped", "address", s.addr)
	s.markStopped()
}

func (s *Session) record(ctx context.Context) {
	if s.opts.Store == nil {
		return
	}
	_, err := s.opts.Store.StartSession(ctx, store.SessionRecord{
		ID:      s.id,
		Backend: s.opts.Backend.String(),
		Image:   s.opts.Image.String(),
		Address: s.addr,
		WorkDir: s.opts.WorkDir,
	})
	if err != nil {
		s.logger.Warn("could not record session", "id", s.id, "error", err)
	}
}

// ID identifies the session in the history store.
func (s *Session) ID() ulid.ULID { return s.id }

// Address is the bound host:port. For port 0 it carries the chosen port.
func (s *Session) Address() string { return s.addr }

func (s *Session) Backend() Backend { return s.opts.Backend }

func (s *Session) WorkDir() string { return s.opts.WorkDir }

// ExitCode is the session's exit status once it has ended.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *Session) containerName() string {
	name := "session"
	if s.opts.Descriptor != nil {
		name = s.opts.Descriptor.Name.Repository()
	}
	return "codeden-" + name + "-" + strings.ToLower(s.id.String())
}

// CheckAuth reports whether mode can be enforced with credential. Launch
// runs it before any socket is opened; source only appears in the error.
func CheckAuth(mode descriptor.AuthMode, credential, source string) error {
	if err := mode.Validate(); err != nil {
		return &AuthConfigError{Mode: mode, Source: source, Reason: "unknown mode (valid: password, none)"}
	}
	if mode == descriptor.AuthPassword && strings.TrimSpace(credential) == "" {
		return &AuthConfigError{Mode: mode, Source: source, Reason: "password authentication requires a non-empty credential"}
	}
	return nil
}

// checkWorkDir returns the absolute form of dir.
func checkWorkDir(dir string) (string, error) {
	if dir == "" {
		return "", &WorkDirError{Path: dir, Err: errors.New("not set")}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &WorkDirError{Path: dir, Err: err}
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", &WorkDirError{Path: abs, Err: errors.New("does not exist")}
	case err != nil:
		return "", &WorkDirError{Path: abs, Err: err}
	case !info.IsDir():
		return "", &WorkDirError{Path: abs, Err: errors.New("is not a directory")}
	}
	return abs, nil
}

// probePort binds host:port and returns the listener, so the port is known
// to be free when the backend starts.
func probePort(ctx context.Context, host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return nil, &PortInUseError{Host: host, Port: port, Err: err}
		}
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return ln, nil
}
