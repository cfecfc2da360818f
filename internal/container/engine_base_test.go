// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", "/usr/bin/docker")
	got := strings.Join(e.BuildArgs(BuildOptions{
		ContextDir: "/tmp/ctx",
		Tag:        "codeden/py:abc",
		NoCache:    true,
		Platform:   "linux/amd64",
		BuildArgs:  map[string]string{"B": "2", "A": "1"},
		Labels:     map[string]string{"io.codeden.digest": "sha256:x"},
	}), " ")
	want := "build -f /tmp/ctx/Dockerfile -t codeden/py:abc --no-cache --platform linux/amd64 " +
		"--build-arg A=1 --build-arg B=2 --label io.codeden.digest=sha256:x /tmp/ctx"
	if got != want {
		t.Errorf("BuildArgs() =\n %q\nwant\n %q", got, want)
	}
}

func TestRunArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", "/usr/bin/docker")
	opts := RunOptions{
		Image:      "codeden/py:abc",
		Entrypoint: "/bin/sh",
		Command:    []string{"-c", "python3 --version"},
		Name:       "codeden-x",
		Remove:     true,
		WorkDir:    "/home/coder/workspace",
		Env:        map[string]string{"LANG": "C.UTF-8"},
		SecretEnv:  map[string]string{"PASSWORD": "s3cret"},
		Volumes:    []VolumeMount{{Source: "/src", Target: "/home/coder/workspace"}},
		Ports:      []PortMapping{{HostIP: "127.0.0.1", HostPort: 9000, ContainerPort: 8080}},
	}

	got := strings.Join(e.RunArgs(opts, true), " ")
	want := "run -d --rm --name codeden-x --entrypoint /bin/sh -w /home/coder/workspace -e LANG=C.UTF-8 -e PASSWORD " +
		"-v /src:/home/coder/workspace -p 127.0.0.1:9000:8080/tcp codeden/py:abc -c python3 --version"
	if got != want {
		t.Errorf("RunArgs() =\n %q\nwant\n %q", got, want)
	}
	if strings.Contains(got, "s3cret") {
		t.Error("RunArgs() leaks a secret value onto the command line")
	}
}

func TestStopArgsRoundsTimeout(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("podman", "/usr/bin/podman")
	got := strings.Join(e.StopArgs("abc", 1500*time.Millisecond), " ")
	if got != "stop -t 2 abc" {
		t.Errorf("StopArgs() = %q", got)
	}
}

func TestMissingBinary(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", "")
	_, err := e.RunCommandOutput(context.Background(), "version")
	if !errors.Is(err, ErrEngineNotAvailable) {
		t.Errorf("RunCommandOutput() = %v, want ErrEngineNotAvailable", err)
	}
}

func TestTailWriterKeepsEnd(t *testing.T) {
	t.Parallel()

	w := &tailWriter{limit: 8}
	_, _ = w.Write([]byte("0123456789"))
	_, _ = w.Write([]byte("ab"))
	if got := w.String(); got != "456789ab" {
		t.Errorf("tail = %q, want %q", got, "456789ab")
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()

	if got := lastLine("a\nb\n\n  \n"); got != "b" {
		t.Errorf("lastLine() = %q", got)
	}
	if got := lastLine(""); got != "" {
		t.Errorf("lastLine(empty) = %q", got)
	}
}
