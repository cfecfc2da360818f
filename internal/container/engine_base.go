// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// buildOutputTail bounds how much build output a BuildError keeps.
const buildOutputTail = 64 << 10

type (
	// ExecCommandFunc creates the *exec.Cmd for an engine invocation.
	// Tests replace it to record arguments.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc renders a mount as a -v argument.
	VolumeFormatFunc func(VolumeMount) string

	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine holds what Docker and Podman share: the binary, the
	// argument builders and the command runners.
	BaseCLIEngine struct {
		name            string
		binaryPath      string
		execCommand     ExecCommandFunc
		volumeFormatter VolumeFormatFunc
	}

	// CommandError is a failed engine invocation with its stderr.
	CommandError struct {
		Engine   string
		Args     []string
		ExitCode int
		Stderr   string
		Err      error
	}

	// BuildError is a failed image build. Output holds the tail of the
	// combined build log, which callers inspect to classify the failure.
	BuildError struct {
		Engine   string
		Tag      ImageTag
		ExitCode int
		Output   string
		Err      error
	}

	tailWriter struct {
		buf   []byte
		limit int
	}
)

func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.execCommand = fn }
}

func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.volumeFormatter = fn }
}

// WithBinaryPath overrides the engine binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.binaryPath = path }
}

func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:            name,
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		volumeFormatter: VolumeMount.String,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

func (e *CommandError) Error() string {
	verb := ""
	if len(e.Args) > 0 {
		verb = " " + e.Args[0]
	}
	msg := fmt.Sprintf("%s%s failed", e.Engine, verb)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return msg + ": " + s
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s build of %s failed", e.Engine, e.Tag)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string { return string(w.buf) }

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- argument builders ---

func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	args = append(args, "-f", joinContext(opts.ContextDir, dockerfile))
	args = append(args, "-t", string(opts.Tag))
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Pull {
		args = append(args, "--pull")
	}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	for _, k := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	return append(args, opts.ContextDir)
}

func joinContext(dir, file string) string {
	if dir == "" || strings.HasPrefix(file, "/") {
		return file
	}
	return strings.TrimRight(dir, "/") + "/" + file
}

// RunArgs builds "run" arguments; detach adds -d.
func (e *BaseCLIEngine) RunArgs(opts RunOptions, detach bool) []string {
	args := []string{"run"}
	if detach {
		args = append(args, "-d")
	}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, k := range sortedKeys(opts.SecretEnv) {
		args = append(args, "-e", k)
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p.String())
	}
	args = append(args, string(opts.Image))
	return append(args, opts.Command...)
}

func (e *BaseCLIEngine) StopArgs(id ContainerID, timeout time.Duration) []string {
	return []string{"stop", "-t", strconv.Itoa(int(timeout.Round(time.Second) / time.Second)), string(id)}
}

func (e *BaseCLIEngine) RemoveArgs(id ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(id))
}

// --- command runners ---

// CreateCommand returns the command for args without running it.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

func (e *BaseCLIEngine) notAvailable() error {
	if e.binaryPath == "" {
		return &EngineNotAvailableError{Engine: e.name, Reason: e.name + " was not found on PATH"}
	}
	return nil
}

// RunCommandOutput runs args and returns trimmed stdout. Failures come back
// as *CommandError with stderr attached.
func (e *BaseCLIEngine) RunCommandOutput(ctx context.Context, args ...string) (string, error) {
	if err := e.notAvailable(); err != nil {
		return "", err
	}
	return e.commandOutput(e.CreateCommand(ctx, args...), args)
}

func (e *BaseCLIEngine) commandOutput(cmd *exec.Cmd, args []string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Engine: e.name, Args: args, ExitCode: exitCode(err), Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunCommandStatus runs args and discards stdout.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, err := e.RunCommandOutput(ctx, args...)
	return err
}

// runCommand creates a "run" invocation whose environment carries
// opts.SecretEnv.
func (e *BaseCLIEngine) runCommand(ctx context.Context, opts RunOptions, detach bool) (*exec.Cmd, []string) {
	args := e.RunArgs(opts, detach)
	cmd := e.CreateCommand(ctx, args...)
	if len(opts.SecretEnv) > 0 {
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		for _, k := range sortedKeys(opts.SecretEnv) {
			env = append(env, k+"="+opts.SecretEnv[k])
		}
		cmd.Env = env
	}
	return cmd, args
}

// --- shared Engine operations ---

func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := e.notAvailable(); err != nil {
		return err
	}
	if err := opts.Tag.Validate(); err != nil {
		return err
	}

	tail := &tailWriter{limit: buildOutputTail}
	var out io.Writer = tail
	if opts.Output != nil {
		out = io.MultiWriter(opts.Output, tail)
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return &BuildError{Engine: e.name, Tag: opts.Tag, ExitCode: exitCode(err), Output: tail.String(), Err: err}
	}
	return nil
}

func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := e.notAvailable(); err != nil {
		return nil, err
	}
	var stderr tailWriter
	stderr.limit = buildOutputTail

	cmd, args := e.runCommand(ctx, opts, false)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(opts.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	if err == nil {
		return &RunResult{}, nil
	}
	code := exitCode(err)
	if code < 0 || ctx.Err() != nil {
		return nil, &CommandError{Engine: e.name, Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	// 125 means the engine itself failed before the process started.
	if code == 125 {
		return nil, &CommandError{Engine: e.name, Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return &RunResult{ExitCode: code}, nil
}

func (e *BaseCLIEngine) Start(ctx context.Context, opts RunOptions) (ContainerID, error) {
	for _, p := range opts.Ports {
		if err := p.Validate(); err != nil {
			return "", err
		}
	}
	for _, v := range opts.Volumes {
		if err := v.Validate(); err != nil {
			return "", err
		}
	}
	if err := e.notAvailable(); err != nil {
		return "", err
	}
	out, err := e.commandOutput(e.runCommand(ctx, opts, true))
	if err != nil {
		return "", err
	}
	id := ContainerID(lastLine(out))
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("%s run -d printed no container id", e.name)
	}
	return id, nil
}

func (e *BaseCLIEngine) Wait(ctx context.Context, id ContainerID) (int, error) {
	out, err := e.RunCommandOutput(ctx, "wait", string(id))
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(lastLine(out))
	if err != nil {
		return -1, fmt.Errorf("parse exit code of %s: %w", id.Short(), err)
	}
	return code, nil
}

func (e *BaseCLIEngine) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	return e.RunCommandStatus(ctx, e.StopArgs(id, timeout)...)
}

func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(id, force)...)
}

func (e *BaseCLIEngine) ImageID(ctx context.Context, tag ImageTag) (string, error) {
	return e.RunCommandOutput(ctx, "image", "inspect", "--format", "{{.Id}}", string(tag))
}

