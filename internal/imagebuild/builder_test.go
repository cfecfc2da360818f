// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/registry"
	"codeden-cli/internal/store"
)

var fastRetry = container.RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

func newTestBuilder(t *testing.T, engine *mockEngine, opts ...Option) (*Builder, *store.Store) {
	t.Helper()
	st, err := store.Open(t.Context(), store.MemoryPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	base := []Option{
		WithHistory(st),
		WithRetryPolicy(fastRetry),
		WithLogger(log.New(io.Discard)),
	}
	return NewBuilder(engine, append(base, opts...)...), st
}

func networkFailure() error {
	return &container.BuildError{
		Engine:   "mock",
		ExitCode: 100,
		Output:   "Err:1 http://deb.debian.org/debian bookworm InRelease\n  Temporary failure resolving 'deb.debian.org'\nE: Failed to fetch http://deb.debian.org/debian/dists/bookworm/InRelease",
		Err:      errors.New("exit status 100"),
	}
}

func TestBuildThenReuse(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	b, st := newTestBuilder(t, engine)
	d := mustPreset(t, descriptor.LangPython)

	first, err := b.Build(t.Context(), d)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if first.Cached || first.Attempts != 1 {
		t.Errorf("first build: Cached=%v Attempts=%d", first.Cached, first.Attempts)
	}
	if !strings.HasPrefix(string(first.Tag), descriptor.TagRepositoryPrefix+"python:") {
		t.Errorf("Tag = %q", first.Tag)
	}
	if len(first.Packages) != len(d.Packages) || first.Packages[0] != "python3=1.0" {
		t.Errorf("Packages = %v", first.Packages)
	}
	if first.Record == nil || first.Record.Engine != "mock 1.0.0" {
		t.Errorf("Record = %+v", first.Record)
	}
	if opts := engine.buildCalls[0]; opts.NoCache || opts.Dockerfile != dockerfileName {
		t.Errorf("BuildOptions = %+v", opts)
	}

	second, err := b.Build(t.Context(), d)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if !second.Cached || second.Tag != first.Tag {
		t.Errorf("second build: Cached=%v Tag=%s", second.Cached, second.Tag)
	}
	if n := engine.builds(); n != 1 {
		t.Errorf("engine builds = %d, want 1", n)
	}

	history, err := st.ListBuilds(t.Context(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || !history[0].CacheHit {
		t.Errorf("history = %+v", history)
	}
}

func TestBuildForceBypassesCache(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	b, _ := newTestBuilder(t, engine, WithForce(true))
	d := mustPreset(t, descriptor.LangGo)

	for range 2 {
		if _, err := b.Build(t.Context(), d); err != nil {
			t.Fatalf("Build() error = %v", err)
		}
	}
	if n := engine.builds(); n != 2 {
		t.Errorf("engine builds = %d, want 2", n)
	}
	if !engine.buildCalls[1].NoCache {
		t.Error("forced build did not disable the layer cache")
	}
}

func TestBuildRetriesNetworkFailures(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	engine.buildErrs = []error{networkFailure(), nil}
	b, _ := newTestBuilder(t, engine)

	res, err := b.Build(t.Context(), mustPreset(t, descriptor.LangPython))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestBuildNetworkErrorAfterRetries(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	engine.alwaysFail = networkFailure()
	b, _ := newTestBuilder(t, engine)

	_, err := b.Build(t.Context(), mustPreset(t, descriptor.LangPython))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Build() error = %v, want ErrNetwork", err)
	}
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Attempts != fastRetry.Attempts || ne.Op != "build" {
		t.Errorf("NetworkError = %+v", ne)
	}
	if n := engine.builds(); n != fastRetry.Attempts {
		t.Errorf("engine builds = %d, want %d", n, fastRetry.Attempts)
	}
}

func TestBuildPackageNotFoundIsFatal(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	engine.alwaysFail = &container.BuildError{
		Engine:   "mock",
		ExitCode: 100,
		Output:   "Reading package lists...\nE: Unable to locate package nosuchpkg\n",
		Err:      errors.New("exit status 100"),
	}
	b, _ := newTestBuilder(t, engine)
	d := mustPreset(t, descriptor.LangPython)
	d.Packages = append(d.Packages, "nosuchpkg")

	_, err := b.Build(t.Context(), d)
	var pnf *PackageNotFoundError
	if !errors.As(err, &pnf) {
		t.Fatalf("Build() error = %v, want *PackageNotFoundError", err)
	}
	if pnf.Package != "nosuchpkg" {
		t.Errorf("Package = %q", pnf.Package)
	}
	if n := engine.builds(); n != 1 {
		t.Errorf("engine builds = %d, want 1 (never retried)", n)
	}
}

func TestBuildRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	b, _ := newTestBuilder(t, engine)

	_, err := b.Build(t.Context(), &descriptor.Descriptor{Name: "empty"})
	if !errors.Is(err, descriptor.ErrInvalidDescriptor) || !errors.Is(err, descriptor.ErrEmptyPackages) {
		t.Fatalf("Build() error = %v, want ErrEmptyPackages", err)
	}
	if n := engine.builds(); n != 0 {
		t.Errorf("engine builds = %d, want 0", n)
	}
}

func TestBuildPinsBaseImage(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	resolver := &fakeResolver{}
	b, _ := newTestBuilder(t, engine, WithResolver(resolver), WithPinBaseImage(true))
	d := mustPreset(t, descriptor.LangRust)

	res, err := b.Build(t.Context(), d)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := "docker.io/codercom/code-server@" + fakeDigest
	if string(res.Descriptor.BaseImage) != want {
		t.Errorf("pinned base = %q, want %q", res.Descriptor.BaseImage, want)
	}
	if res.BaseImage != descriptor.DefaultBaseImage {
		t.Errorf("BaseImage = %q, want the unpinned reference", res.BaseImage)
	}
	if !strings.HasPrefix(engine.dockerfiles[0], "# codeden environment rust\nFROM "+want+"\n") {
		t.Errorf("Dockerfile does not start from the pinned base:\n%s", engine.dockerfiles[0])
	}
	if res.Record.ResolvedBase != want {
		t.Errorf("ResolvedBase = %q", res.Record.ResolvedBase)
	}

	// The unpinned descriptor must not share a tag with the pinned one.
	unpinned, err := d.Tag()
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Tag) == unpinned {
		t.Error("tag does not depend on the resolved base")
	}
}

func TestBuildSkipsResolverForPinnedBase(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	b, _ := newTestBuilder(t, newMockEngine(), WithResolver(resolver), WithPinBaseImage(true))
	d := mustPreset(t, descriptor.LangPython).WithBaseImage("docker.io/library/debian@" + fakeDigest)

	if _, err := b.Build(t.Context(), d); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.calls)
	}
}

func TestBuildResolveFailure(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	resolver := &fakeResolver{err: &registry.ImageNotFoundError{Reference: "docker.io/library/nope:1", StatusCode: 404}}
	b, _ := newTestBuilder(t, engine, WithResolver(resolver), WithPinBaseImage(true))

	_, err := b.Build(t.Context(), mustPreset(t, descriptor.LangPython))
	if !errors.Is(err, registry.ErrImageNotFound) {
		t.Fatalf("Build() error = %v, want ErrImageNotFound", err)
	}
	if n := engine.builds(); n != 0 {
		t.Errorf("engine builds = %d, want 0", n)
	}
}

func TestBuildPinningNeedsResolver(t *testing.T) {
	t.Parallel()

	b, _ := newTestBuilder(t, newMockEngine(), WithPinBaseImage(true))
	if _, err := b.Build(t.Context(), mustPreset(t, descriptor.LangPython)); err == nil {
		t.Fatal("Build() error = nil, want missing resolver error")
	}
}

func TestBuildRecordWithoutEngineVersion(t *testing.T) {
	t.Parallel()

	engine := newMockEngine()
	engine.versionErr = errors.New("daemon unreachable")
	b, _ := newTestBuilder(t, engine)

	res, err := b.Build(t.Context(), mustPreset(t, descriptor.LangGo))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Record == nil || res.Record.Engine != "mock" {
		t.Errorf("Record.Engine = %+v, want the bare engine name", res.Record)
	}
}

func TestClassifyBuildError(t *testing.T) {
	t.Parallel()

	buildErr := func(output string) error {
		return &container.BuildError{Engine: "mock", ExitCode: 100, Output: output, Err: errors.New("exit status 100")}
	}

	tests := []struct {
		name        string
		err         error
		wantRetry   bool
		wantPackage string
		wantVersion string
	}{
		{name: "unable to locate", err: buildErr("E: Unable to locate package foo-bar"), wantPackage: "foo-bar"},
		{name: "no candidate", err: buildErr("E: Package 'python2' has no installation candidate"), wantPackage: "python2"},
		{name: "version not found", err: buildErr("E: Version '9.9' for 'git' was not found"), wantPackage: "git", wantVersion: "9.9"},
		{name: "fetch failure", err: buildErr("E: Failed to fetch http://deb.debian.org/x.deb  503  Service Unavailable"), wantRetry: true},
		{
			name:      "missing lists after failed update",
			err:       buildErr("W: Temporary failure resolving 'deb.debian.org'\nE: Unable to locate package git"),
			wantRetry: true,
		},
		{
			name:        "unable to locate under podman exit 125",
			err:         &container.BuildError{Engine: "podman", ExitCode: 125, Output: "Step 3/9: RUN apt-get install -y nosuchpkg\nE: Unable to locate package nosuchpkg\nError: building at STEP \"RUN ...\": exit status 100", Err: errors.New("exit status 125")},
			wantPackage: "nosuchpkg",
		},
		{
			name:      "fetch failure under podman exit 125",
			err:       &container.BuildError{Engine: "podman", ExitCode: 125, Output: "E: Failed to fetch http://deb.debian.org/pool/main/g/git.deb\nE: Unable to locate package git", Err: errors.New("exit status 125")},
			wantRetry: true,
		},
		{name: "podman exit 125 without output", err: &container.BuildError{Engine: "podman", ExitCode: 125, Err: errors.New("exit status 125")}, wantRetry: true},
		{name: "other build failure", err: buildErr("error: dockerfile parse error")},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			retry, got := classifyBuildError(tt.err)
			if retry != tt.wantRetry {
				t.Errorf("retry = %v, want %v", retry, tt.wantRetry)
			}
			var pnf *PackageNotFoundError
			isPNF := errors.As(got, &pnf)
			if tt.wantPackage == "" {
				if isPNF {
					t.Errorf("got PackageNotFoundError %v", pnf)
				}
				return
			}
			if !isPNF {
				t.Fatalf("error = %v, want *PackageNotFoundError", got)
			}
			if pnf.Package != tt.wantPackage || pnf.Version != tt.wantVersion {
				t.Errorf("PackageNotFoundError = %+v", pnf)
			}
			if !errors.Is(got, ErrPackageNotFound) {
				t.Error("errors.Is(ErrPackageNotFound) = false")
			}
		})
	}
}
