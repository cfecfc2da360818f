// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/exp/slices"
)

func TestDockerBuildCapturesOutput(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("build", mockResponse{
		ExitCode: 100,
		Stdout:   "Step 3/9 : RUN apt-get install -y nosuchpkg\n",
		Stderr:   "E: Unable to locate package nosuchpkg\n",
	})
	e := newMockDocker(m)

	var live bytes.Buffer
	err := e.Build(context.Background(), BuildOptions{ContextDir: "/ctx", Tag: "codeden/x:1", Output: &live})

	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("Build() = %v, want *BuildError", err)
	}
	if be.ExitCode != 100 {
		t.Errorf("ExitCode = %d, want 100", be.ExitCode)
	}
	if !strings.Contains(be.Output, "Unable to locate package nosuchpkg") {
		t.Errorf("Output missing apt error: %q", be.Output)
	}
	if !strings.Contains(live.String(), "Step 3/9") {
		t.Errorf("live output not streamed: %q", live.String())
	}
	if !strings.Contains(be.Error(), "Unable to locate package") {
		t.Errorf("Error() should end with the last output line: %v", be)
	}
}

func TestDockerBuildRejectsEmptyTag(t *testing.T) {
	t.Parallel()

	e := newMockDocker(newMockCommandRecorder())
	if err := e.Build(context.Background(), BuildOptions{ContextDir: "/ctx"}); !errors.Is(err, ErrInvalidImageTag) {
		t.Errorf("Build() = %v, want ErrInvalidImageTag", err)
	}
}

func TestRunReportsProcessExitCode(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("run", mockResponse{ExitCode: 3, Stderr: "boom"})
	res, err := newMockDocker(m).Run(context.Background(), RunOptions{Image: "img", Remove: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRunEngineFailureIsError(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("run", mockResponse{ExitCode: 125, Stderr: "Error: no such image"})
	_, err := newMockDocker(m).Run(context.Background(), RunOptions{Image: "img"})
	var ce *CommandError
	if !errors.As(err, &ce) || ce.ExitCode != 125 || !strings.Contains(ce.Stderr, "no such image") {
		t.Errorf("Run() = %v, want CommandError exit 125", err)
	}
}

func TestStartAndWait(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().
		on("run", mockResponse{Stdout: "Unable to find image locally\n4f1c2d3e4b5a6978\n"}).
		on("wait", mockResponse{Stdout: "137\n"})
	e := newMockDocker(m)

	id, err := e.Start(context.Background(), RunOptions{
		Image: "img",
		Ports: []PortMapping{{HostPort: 8080, ContainerPort: 8080}},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id != "4f1c2d3e4b5a6978" {
		t.Errorf("Start() id = %q", id)
	}
	if !strings.Contains(m.lastJoined(), "run -d") {
		t.Errorf("Start() args = %q, want detached run", m.lastJoined())
	}

	code, err := e.Wait(context.Background(), id)
	if err != nil || code != 137 {
		t.Errorf("Wait() = %d, %v; want 137", code, err)
	}
}

func TestStartPassesSecretsThroughEnvironment(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("run", mockResponse{Stdout: "4f1c2d3e4b5a6978\n"})
	e := newMockDocker(m)

	_, err := e.Start(context.Background(), RunOptions{
		Image:     "img",
		SecretEnv: map[string]string{"PASSWORD": "s3cret"},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if args := m.lastJoined(); strings.Contains(args, "s3cret") || !strings.Contains(args, "-e PASSWORD") {
		t.Errorf("Start() args = %q, want the name only", args)
	}
	if !slices.Contains(m.lastCmd().Env, "PASSWORD=s3cret") {
		t.Error("engine process environment lacks PASSWORD")
	}
	if !slices.Contains(m.lastCmd().Env, "GO_WANT_HELPER_PROCESS=1") {
		t.Error("existing command environment was replaced")
	}
}

func TestStartPortConflict(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("run", mockResponse{
		ExitCode: 125,
		Stderr:   "docker: Error response from daemon: Bind for 0.0.0.0:8080 failed: port is already allocated.",
	})
	_, err := newMockDocker(m).Start(context.Background(), RunOptions{Image: "img"})
	var ce *CommandError
	if !errors.As(err, &ce) || !strings.Contains(ce.Stderr, "port is already allocated") {
		t.Fatalf("Start() = %v", err)
	}
	if IsTransientError(err) {
		t.Error("a port conflict must not be retried")
	}
}

func TestStartValidatesMounts(t *testing.T) {
	t.Parallel()

	_, err := newMockDocker(newMockCommandRecorder()).Start(context.Background(), RunOptions{
		Image:   "img",
		Volumes: []VolumeMount{{Source: "/src", Target: "relative"}},
	})
	if !errors.Is(err, ErrInvalidVolumeMount) {
		t.Errorf("Start() = %v, want ErrInvalidVolumeMount", err)
	}
}

func TestStopAndRemove(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	e := newMockDocker(m)
	if err := e.Stop(context.Background(), "abc", 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if got := m.lastJoined(); got != "/usr/bin/docker stop -t 10 abc" {
		t.Errorf("Stop() ran %q", got)
	}
	if err := e.Remove(context.Background(), "abc", true); err != nil {
		t.Fatal(err)
	}
	if got := m.lastJoined(); got != "/usr/bin/docker rm -f abc" {
		t.Errorf("Remove() ran %q", got)
	}
}

func TestImageID(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder().on("image", mockResponse{Stdout: "sha256:deadbeef\n"})
	id, err := newMockDocker(m).ImageID(context.Background(), "codeden/x:1")
	if err != nil || id != "sha256:deadbeef" {
		t.Errorf("ImageID() = %q, %v", id, err)
	}
}

func TestDockerImageExists(t *testing.T) {
	t.Parallel()

	present := newMockCommandRecorder()
	if ok, err := newMockDocker(present).ImageExists(context.Background(), "img"); !ok || err != nil {
		t.Errorf("ImageExists() = %v, %v; want true", ok, err)
	}

	absent := newMockCommandRecorder().on("image", mockResponse{ExitCode: 1})
	if ok, err := newMockDocker(absent).ImageExists(context.Background(), "img"); ok || err != nil {
		t.Errorf("ImageExists() = %v, %v; want false", ok, err)
	}
}

func TestPodmanImageExists(t *testing.T) {
	t.Parallel()

	absent := newMockCommandRecorder().on("image", mockResponse{ExitCode: 1})
	ok, err := newMockPodman(t, absent).ImageExists(context.Background(), "img")
	if ok || err != nil {
		t.Errorf("ImageExists() = %v, %v; want false, nil", ok, err)
	}
	if got := absent.lastJoined(); got != "/usr/bin/podman image exists img" {
		t.Errorf("ran %q", got)
	}

	broken := newMockCommandRecorder().on("image", mockResponse{ExitCode: 125, Stderr: "storage corrupted"})
	if _, err := newMockPodman(t, broken).ImageExists(context.Background(), "img"); err == nil {
		t.Error("ImageExists() should surface engine failures")
	}
}

func TestEngineNames(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	if got := newMockDocker(m).Name(); got != "docker" {
		t.Errorf("Name() = %q", got)
	}
	if got := newMockPodman(t, m).Name(); got != "podman" {
		t.Errorf("Name() = %q", got)
	}
}

func TestNewEngineUnknownType(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine("lxc"); err == nil {
		t.Error("NewEngine(lxc) should fail")
	}
}
