// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"codeden-cli/internal/config"
	"codeden-cli/internal/container"
	"codeden-cli/internal/store"
	"codeden-cli/internal/testutil"
	"codeden-cli/pkg/types"
)

type (
	// staticConfig returns a fixed configuration, or err.
	staticConfig struct {
		cfg *config.Config
		err error
	}

	// fakeEngine answers the engine calls the CLI makes itself. Anything a
	// builder or session would call panics through the nil interface.
	fakeEngine struct {
		container.Engine
		images map[container.ImageTag]bool
	}

	// lockedBuffer is written by a running command while the test reads it.
	lockedBuffer struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
)

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg := *s.cfg
	return &cfg, nil
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) ImageExists(_ context.Context, tag container.ImageTag) (bool, error) {
	return e.images[tag], nil
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Session.Host = "127.0.0.1"
	cfg.Session.StartupTimeout = 5 * time.Second
	cfg.Session.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestApp(cfg *config.Config, engine container.Engine, stdout, stderr io.Writer) *App {
	return NewApp(Dependencies{
		Config: staticConfig{cfg: cfg},
		Engines: func(config.ContainerEngine) (container.Engine, error) {
			if engine == nil {
				return nil, &container.EngineNotAvailableError{Engine: "podman", Reason: "not installed"}
			}
			return engine, nil
		},
		Stdout: stdout,
		Stderr: stderr,
	})
}

func run(ctx context.Context, app *App, args ...string) error {
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(ctx)
}

func exitCode(t *testing.T, err error) types.ExitCode {
	t.Helper()
	if err == nil {
		return types.ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v is not an *ExitError", err)
	}
	return exitErr.Code
}

func TestSampleCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"sample"}, "Sum of 10 and 20 is: 30"},
		{[]string{"sample", "--a", "2", "--b", "3"}, "Sum of 2 and 3 is: 5"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			app := newTestApp(testConfig(t), nil, &out, io.Discard)
			if err := run(t.Context(), app, tt.args...); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLanguagesCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := newTestApp(testConfig(t), nil, &out, io.Discard)
	if err := run(t.Context(), app, "languages"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"python", "nodejs", "java", "go", "rust", "8084", "javac"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestInitCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	app := newTestApp(testConfig(t), nil, &out, io.Discard)

	if err := run(t.Context(), app, "init", "demo", "--lang", "py", "--dir", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{"workspace-demo/main.py", "workspace-demo/README.md", "codeden.demo.cue", "Dockerfile.demo", "docker-compose.demo.yml", "start-demo.sh"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "export PASSWORD=") {
		t.Errorf("output lacks next steps:\n%s", out.String())
	}

	err := run(t.Context(), app, "init", "demo", "--lang", "python", "--dir", dir)
	if got := exitCode(t, err); got != types.ExitFailure {
		t.Errorf("second init exit = %d, want %d", got, types.ExitFailure)
	}

	if err := run(t.Context(), app, "init", "demo", "--lang", "python", "--dir", dir, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	descPath := filepath.Join(t.TempDir(), "bad.cue")
	if err := os.WriteFile(descPath, []byte(`name: "x"`+"\npackages: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want types.ExitCode
	}{
		{"init without language", []string{"init", "demo"}, types.ExitInvalidInput},
		{"init with bad name", []string{"init", "bad/name", "--lang", "go"}, types.ExitInvalidInput},
		{"init unknown language", []string{"init", "demo", "--lang", "cobol"}, types.ExitInvalidInput},
		{"build without descriptor", []string{"build"}, types.ExitInvalidInput},
		{"build with file and preset", []string{"build", descPath, "--lang", "go"}, types.ExitInvalidInput},
		{"build unknown language", []string{"build", "--lang", "cobol"}, types.ExitInvalidInput},
		{"build invalid descriptor", []string{"build", descPath}, types.ExitInvalidInput},
		{"too many arguments", []string{"build", "a.cue", "b.cue"}, types.ExitInvalidInput},
		{"unknown flag", []string{"sample", "--c", "1"}, types.ExitInvalidInput},
		{"unknown backend", []string{"launch", "--backend", "vnc"}, types.ExitInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newTestApp(testConfig(t), nil, io.Discard, io.Discard)
			err := run(t.Context(), app, tt.args...)
			if got := exitCode(t, err); got != tt.want {
				t.Errorf("exit = %d, want %d (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestBuildWithoutEngine(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	app := newTestApp(testConfig(t), nil, io.Discard, &stderr)
	err := run(t.Context(), app, "build", "--lang", "go")
	if got := exitCode(t, err); got != types.ExitEngineNotFound {
		t.Fatalf("exit = %d, want %d (err: %v)", got, types.ExitEngineNotFound, err)
	}
	if !strings.Contains(stderr.String(), "Install podman or docker") {
		t.Errorf("stderr lacks the suggestion:\n%s", stderr.String())
	}
}

func TestLaunchWithoutImage(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	app := newTestApp(testConfig(t), &fakeEngine{}, io.Discard, &stderr)
	err := run(t.Context(), app, "launch", "--lang", "python", "--workdir", t.TempDir())
	if !errors.Is(err, errNoImage) {
		t.Fatalf("err = %v, want errNoImage", err)
	}
	if got := exitCode(t, err); got != types.ExitFailure {
		t.Errorf("exit = %d, want %d", got, types.ExitFailure)
	}
	if !strings.Contains(stderr.String(), "codeden up") {
		t.Errorf("stderr lacks the suggestion:\n%s", stderr.String())
	}
}

func TestLaunchMissingCredential(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	app := newTestApp(testConfig(t), nil, io.Discard, &stderr)
	err := run(t.Context(), app, "launch", "--backend", "ssh",
		"--password-env", "CODEDEN_TEST_UNSET_PASSWORD", "--workdir", t.TempDir())
	if got := exitCode(t, err); got != types.ExitAuthConfig {
		t.Fatalf("exit = %d, want %d (err: %v)", got, types.ExitAuthConfig, err)
	}
	if !strings.Contains(stderr.String(), "CODEDEN_TEST_UNSET_PASSWORD") {
		t.Errorf("stderr does not name the variable:\n%s", stderr.String())
	}
}

func TestUpChecksCredentialBeforeBuilding(t *testing.T) {
	t.Parallel()

	// The engine would panic on Build.
	app := newTestApp(testConfig(t), &fakeEngine{}, io.Discard, io.Discard)
	err := run(t.Context(), app, "up", "--lang", "go", "--no-pin",
		"--password-env", "CODEDEN_TEST_UNSET_PASSWORD", "--workdir", t.TempDir())
	if got := exitCode(t, err); got != types.ExitAuthConfig {
		t.Fatalf("exit = %d, want %d (err: %v)", got, types.ExitAuthConfig, err)
	}
}

func TestLaunchPortInUse(t *testing.T) {
	t.Parallel()

	port := strconv.Itoa(testutil.OccupiedPort(t))

	app := newTestApp(testConfig(t), nil, io.Discard, io.Discard)
	err := run(t.Context(), app, "launch", "--backend", "ssh", "--auth", "none",
		"--host", "127.0.0.1", "--port", port, "--workdir", t.TempDir())
	if got := exitCode(t, err); got != types.ExitPortInUse {
		t.Fatalf("exit = %d, want %d (err: %v)", got, types.ExitPortInUse, err)
	}
}

func TestLaunchSSHUntilCancelled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	var out lockedBuffer
	app := newTestApp(cfg, nil, &out, io.Discard)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, app, "launch", "--backend", "ssh", "--auth", "none",
			"--port", "0", "--workdir", t.TempDir())
	}()

	deadline := time.After(10 * time.Second)
	for !strings.Contains(out.String(), "running") {
		select {
		case err := <-done:
			t.Fatalf("launch returned early: %v", err)
		case <-deadline:
			t.Fatalf("session did not start; output:\n%s", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("launch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("launch did not return after cancel")
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Errorf("output lacks the stop line:\n%s", out.String())
	}

	st, err := store.Open(t.Context(), store.DefaultPath(cfg.StateDir))
	if err != nil {
		t.Fatal(err)
	}
	defer testutil.MustClose(t, st)
	sessions, err := st.ListSessions(t.Context(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("recorded %d sessions, want 1", len(sessions))
	}
	if s := sessions[0]; s.Running() || s.ExitCode == nil || *s.ExitCode != 0 || s.Backend != "ssh" {
		t.Errorf("session record = %+v", s)
	}
	if _, err := os.Stat(filepath.Join(cfg.StateDir, hostKeyFile)); err != nil {
		t.Errorf("host key not persisted: %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	st, err := store.Open(t.Context(), store.DefaultPath(cfg.StateDir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordBuild(t.Context(), store.BuildRecord{
		Name:     "demo",
		Digest:   "sha256:abc",
		Tag:      "codeden/demo:abc",
		Engine:   "podman 5.2.1",
		Packages: []string{"git=1:2.34.1"},
	}); err != nil {
		t.Fatal(err)
	}
	testutil.MustClose(t, st)

	var out bytes.Buffer
	app := newTestApp(cfg, nil, &out, io.Discard)
	if err := run(t.Context(), app, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"Builds", "codeden/demo:abc", "built", "podman 5.2.1", "Sessions", "(none)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestConfigCommands(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := newTestApp(testConfig(t), nil, &out, io.Discard)

	if err := run(t.Context(), app, "config", "dump"); err != nil {
		t.Fatalf("config dump: %v", err)
	}
	for _, want := range []string{`container_engine: "podman"`, `password_env: "PASSWORD"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("dump lacks %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := run(t.Context(), app, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "(using defaults)") {
		t.Errorf("show output:\n%s", out.String())
	}
}

func TestConfigLoadFailure(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{err: errors.New("boom")},
		Stdout: io.Discard,
		Stderr: &stderr,
	})
	err := run(t.Context(), app, "config", "show")
	if got := exitCode(t, err); got != types.ExitFailure {
		t.Fatalf("exit = %d, want %d", got, types.ExitFailure)
	}
	if !strings.Contains(stderr.String(), "codeden config path") {
		t.Errorf("stderr lacks the suggestion:\n%s", stderr.String())
	}
}

func TestExitErrorMessage(t *testing.T) {
	t.Parallel()

	if got := (&ExitError{Code: 5}).Error(); got != "exit code 5" {
		t.Errorf("Error() = %q", got)
	}
	cause := errors.New("port taken")
	err := &ExitError{Code: 5, Err: cause}
	if err.Error() != "port taken" || !errors.Is(err, cause) {
		t.Errorf("ExitError does not wrap its cause: %v", err)
	}
}

func TestSessionExitError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantNil  bool
		wantText string
	}{
		{name: "clean", status: 0, wantNil: true},
		{name: "status matching package not found", status: 3, wantText: "exited with status 3"},
		{name: "status matching port in use", status: 5, wantText: "exited with status 5"},
		{name: "killed", status: 137, wantText: "exited with status 137"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := sessionExitError("01J0000000000000000000TEST", tt.status)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("sessionExitError() = %v, want nil", err)
				}
				return
			}
			if got := exitCode(t, err); got != types.ExitFailure {
				t.Errorf("exit = %d, want %d", got, types.ExitFailure)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q lacks %q", err, tt.wantText)
			}
		})
	}
}
