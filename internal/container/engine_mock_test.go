// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type (
	// mockCommandRecorder records engine invocations and answers them by
	// re-executing the test binary as TestHelperProcess.
	mockCommandRecorder struct {
		mu          sync.Mutex
		invocations [][]string
		cmds        []*exec.Cmd
		// responses maps an engine verb ("build", "run", "wait") to its reply;
		// verbs without an entry get fallback.
		responses map[string]mockResponse
		fallback  mockResponse
	}

	mockResponse struct {
		ExitCode int
		Stdout   string
		Stderr   string
	}
)

func newMockCommandRecorder() *mockCommandRecorder {
	return &mockCommandRecorder{responses: map[string]mockResponse{}}
}

func (m *mockCommandRecorder) on(verb string, r mockResponse) *mockCommandRecorder {
	m.responses[verb] = r
	return m
}

func (m *mockCommandRecorder) execCommand(_ context.Context, name string, args ...string) *exec.Cmd {
	m.mu.Lock()
	m.invocations = append(m.invocations, append([]string{name}, args...))
	resp := m.fallback
	if len(args) > 0 {
		if r, ok := m.responses[args[0]]; ok {
			resp = r
		}
	}
	m.mu.Unlock()

	cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
	//nolint:gosec // re-executes the test binary
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{
		"GO_WANT_HELPER_PROCESS=1",
		"GO_HELPER_EXIT_CODE=" + strconv.Itoa(resp.ExitCode),
		"GO_HELPER_STDOUT=" + resp.Stdout,
		"GO_HELPER_STDERR=" + resp.Stderr,
	}
	m.mu.Lock()
	m.cmds = append(m.cmds, cmd)
	m.mu.Unlock()
	return cmd
}

// lastCmd returns the most recent command, including changes the engine
// made to it after creation.
func (m *mockCommandRecorder) lastCmd() *exec.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cmds) == 0 {
		return nil
	}
	return m.cmds[len(m.cmds)-1]
}

func (m *mockCommandRecorder) last() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.invocations) == 0 {
		return nil
	}
	return m.invocations[len(m.invocations)-1]
}

func (m *mockCommandRecorder) lastJoined() string { return strings.Join(m.last(), " ") }

// TestHelperProcess is not a real test; it stands in for the engine binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("GO_HELPER_STDERR"))
	code, _ := strconv.Atoi(os.Getenv("GO_HELPER_EXIT_CODE"))
	os.Exit(code)
}

func newMockDocker(m *mockCommandRecorder) *DockerEngine {
	return NewDockerEngine(WithBinaryPath("/usr/bin/docker"), WithExecCommand(m.execCommand))
}

func newMockPodman(t *testing.T, m *mockCommandRecorder) *PodmanEngine {
	t.Helper()
	return NewPodmanEngine(WithBinaryPath("/usr/bin/podman"), WithExecCommand(m.execCommand))
}
