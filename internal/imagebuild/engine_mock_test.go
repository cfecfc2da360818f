// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/registry"
)

// runResponse is what the mock engine's Run writes and returns.
type runResponse struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// mockEngine implements container.Engine in memory. Builds succeed unless
// buildErrs has a queued error; built tags are remembered for ImageExists.
type mockEngine struct {
	mu sync.Mutex

	images map[container.ImageTag]bool
	// buildErrs is consumed one per Build call; nil entries succeed.
	buildErrs []error
	// alwaysFail, when set, is returned by every Build once buildErrs is empty.
	alwaysFail error
	// run answers Run calls; the default answers dpkg-query with version "1.0".
	run func(opts container.RunOptions) runResponse

	versionErr  error
	buildCalls  []container.BuildOptions
	dockerfiles []string
	runCalls    []container.RunOptions
}

func newMockEngine() *mockEngine {
	return &mockEngine{images: map[container.ImageTag]bool{}}
}

func (m *mockEngine) Name() string    { return "mock" }
func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Version(context.Context) (string, error) {
	if m.versionErr != nil {
		return "", m.versionErr
	}
	return "1.0.0", nil
}

func (m *mockEngine) Build(_ context.Context, opts container.BuildOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buildCalls = append(m.buildCalls, opts)
	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return err
	}
	m.dockerfiles = append(m.dockerfiles, string(data))

	var buildErr error
	switch {
	case len(m.buildErrs) > 0:
		buildErr, m.buildErrs = m.buildErrs[0], m.buildErrs[1:]
	case m.alwaysFail != nil:
		buildErr = m.alwaysFail
	}
	if buildErr == nil {
		m.images[opts.Tag] = true
	}
	return buildErr
}

func (m *mockEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	m.mu.Lock()
	m.runCalls = append(m.runCalls, opts)
	run := m.run
	m.mu.Unlock()

	if run == nil {
		run = dpkgResponder(nil)
	}
	resp := run(opts)
	if resp.err != nil {
		return nil, resp.err
	}
	if opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, resp.stdout)
	}
	if opts.Stderr != nil {
		_, _ = io.WriteString(opts.Stderr, resp.stderr)
	}
	return &container.RunResult{ExitCode: resp.exitCode}, nil
}

func (m *mockEngine) Start(context.Context, container.RunOptions) (container.ContainerID, error) {
	return "", fmt.Errorf("mock: Start not supported")
}

func (m *mockEngine) Wait(context.Context, container.ContainerID) (int, error) { return 0, nil }

func (m *mockEngine) Stop(context.Context, container.ContainerID, time.Duration) error { return nil }

func (m *mockEngine) Remove(context.Context, container.ContainerID, bool) error { return nil }

func (m *mockEngine) ImageExists(_ context.Context, tag container.ImageTag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[tag], nil
}

func (m *mockEngine) ImageID(_ context.Context, tag container.ImageTag) (string, error) {
	return "sha256:id-" + strings.ReplaceAll(string(tag), ":", "-"), nil
}

func (m *mockEngine) builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buildCalls)
}

// dpkgResponder answers dpkg-query with versions from the map, "1.0" for
// packages not listed, and nothing for packages mapped to "".
func dpkgResponder(versions map[string]string) func(container.RunOptions) runResponse {
	return func(opts container.RunOptions) runResponse {
		if opts.Entrypoint != "dpkg-query" {
			return runResponse{}
		}
		var out strings.Builder
		// Skip "-W" and the format flag.
		for _, name := range opts.Command[2:] {
			version, ok := versions[name]
			if !ok {
				version = "1.0"
			}
			if version == "" {
				continue
			}
			fmt.Fprintf(&out, "%s=%s\n", name, version)
		}
		return runResponse{stdout: out.String()}
	}
}

// fakeResolver pins every reference to the same digest.
type fakeResolver struct {
	err   error
	calls int
}

const fakeDigest = "sha256:1111111111111111111111111111111111111111111111111111111111111111"

func (f *fakeResolver) Resolve(_ context.Context, ref descriptor.ImageRef) (registry.Resolved, error) {
	f.calls++
	if f.err != nil {
		return registry.Resolved{}, f.err
	}
	repo := registry.Normalize(ref)
	if i := strings.LastIndex(repo, ":"); i > strings.LastIndex(repo, "/") {
		repo = repo[:i]
	}
	return registry.Resolved{Reference: ref, Repository: repo, Pinned: descriptor.ImageRef(repo + "@" + fakeDigest)}, nil
}
