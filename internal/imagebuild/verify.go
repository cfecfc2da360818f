// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/exp/slices"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/sample"
	"codeden-cli/internal/store"
)

// dpkgFormat prints one "name=version" line per installed package.
const dpkgFormat = "${Package}=${Version}\n"

var versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}`)

type (
	// ToolchainReport is the outcome of one toolchain's version query.
	ToolchainReport struct {
		Name    string
		Version string
		Output  string
		Err     error
	}

	// PackageDiff compares two installed package snapshots.
	PackageDiff struct {
		Added   []string
		Removed []string
		// Changed lists "name: old -> new".
		Changed []string
	}

	// IdempotenceReport is the outcome of CheckIdempotence.
	IdempotenceReport struct {
		Digest   string
		Tag      container.ImageTag
		Previous []string
		Current  []string
		Diff     PackageDiff
	}
)

// Empty reports whether the snapshots were identical.
func (d PackageDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func (d PackageDiff) String() string {
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, "added "+strings.Join(d.Added, ", "))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, "removed "+strings.Join(d.Removed, ", "))
	}
	if len(d.Changed) > 0 {
		parts = append(parts, "changed "+strings.Join(d.Changed, ", "))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "; ")
}

// InstalledPackages queries dpkg in a throwaway container of tag for the
// declared packages of d. The result is ordered like d.Packages.
func (b *Builder) InstalledPackages(ctx context.Context, tag container.ImageTag, d *descriptor.Descriptor) ([]string, error) {
	names := make([]string, len(d.Packages))
	for i, p := range d.Packages {
		names[i] = p.Base()
	}

	// dpkg-query exits 1 when any name is unknown; missing packages are
	// detected from its output instead.
	var stdout, stderr bytes.Buffer
	_, err := b.engine.Run(ctx, container.RunOptions{
		Image:      tag,
		Entrypoint: "dpkg-query",
		Command:    append([]string{"-W", "-f=" + dpkgFormat}, names...),
		Remove:     true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("query installed packages in %s: %w", tag, err)
	}

	installed := make(map[string]string, len(names))
	for line := range strings.Lines(stdout.String()) {
		name, version, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || version == "" {
			// dpkg lists known but uninstalled packages with no version.
			continue
		}
		// Multi-arch packages are reported as "name:arch".
		name, _, _ = strings.Cut(name, ":")
		installed[name] = version
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		version, ok := installed[name]
		if !ok {
			return nil, &PackageNotFoundError{Package: name, Image: string(tag), Output: stderr.String()}
		}
		out = append(out, name+"="+version)
	}
	return out, nil
}

// VerifyToolchains runs every toolchain's version query in a throwaway
// container of tag. All toolchains are checked; failures are joined.
func (b *Builder) VerifyToolchains(ctx context.Context, tag container.ImageTag, d *descriptor.Descriptor) ([]ToolchainReport, error) {
	reports := make([]ToolchainReport, 0, len(d.Toolchains))
	var errs []error
	for _, tc := range d.Toolchains {
		report := b.verifyToolchain(ctx, tag, tc)
		if report.Err != nil {
			errs = append(errs, report.Err)
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (b *Builder) verifyToolchain(ctx context.Context, tag container.ImageTag, tc descriptor.Toolchain) ToolchainReport {
	report := ToolchainReport{Name: tc.Name}
	if len(tc.VersionCmd) == 0 {
		report.Err = &ToolchainError{Name: tc.Name, Err: descriptor.ErrInvalidToolchain}
		return report
	}

	var out combinedOutput
	res, err := b.engine.Run(ctx, container.RunOptions{
		Image:      tag,
		Entrypoint: tc.VersionCmd[0],
		Command:    tc.VersionCmd[1:],
		Remove:     true,
		Stdout:     &out,
		Stderr:     &out,
	})
	report.Output = out.String()
	if err != nil {
		report.Err = &ToolchainError{Name: tc.Name, Command: tc.VersionCmd, Output: report.Output, Err: err}
		return report
	}
	if res.ExitCode != 0 {
		report.Err = &ToolchainError{Name: tc.Name, Command: tc.VersionCmd, ExitCode: res.ExitCode, Output: report.Output}
		return report
	}

	report.Version = versionPattern.FindString(report.Output)
	b.logger.Debug("toolchain version", "name", tc.Name, "version", report.Version)
	if tc.MinVersion == "" {
		return report
	}
	if err := checkMinVersion(report.Version, tc.MinVersion); err != nil {
		report.Err = &ToolchainError{
			Name:       tc.Name,
			Command:    tc.VersionCmd,
			Version:    report.Version,
			Constraint: tc.MinVersion,
			Output:     report.Output,
			Err:        err,
		}
	}
	return report
}

// errVersionTooOld marks a parsed version outside its constraint.
var errVersionTooOld = errors.New("version does not satisfy constraint")

func checkMinVersion(version, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("constraint %q: %w", constraint, err)
	}
	if version == "" {
		return errors.New("no version number in output")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s is not %s", errVersionTooOld, v, constraint)
	}
	return nil
}

// CheckIdempotence rebuilds d bypassing every cache and compares the
// installed packages with the previous build of the same digest. Without a
// previous snapshot, one is taken from the existing image or a first build.
// A difference is reported as *NotIdempotentError alongside the report.
func (b *Builder) CheckIdempotence(ctx context.Context, d *descriptor.Descriptor) (*IdempotenceReport, error) {
	if b.history == nil {
		return nil, errors.New("idempotence check needs build history")
	}

	previous, err := b.baseline(ctx, d)
	if err != nil {
		return nil, err
	}
	rebuilt, err := b.build(ctx, d, true)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	report := &IdempotenceReport{
		Digest:   rebuilt.Digest.String(),
		Tag:      rebuilt.Tag,
		Previous: previous,
		Current:  rebuilt.Packages,
		Diff:     diffPackages(previous, rebuilt.Packages),
	}
	if !report.Diff.Empty() {
		return report, &NotIdempotentError{Digest: report.Digest, Diff: report.Diff}
	}
	return report, nil
}

// baseline returns the package snapshot to compare a rebuild against.
func (b *Builder) baseline(ctx context.Context, d *descriptor.Descriptor) ([]string, error) {
	pinned, err := b.prepare(ctx, d)
	if err != nil {
		return nil, err
	}
	dg, err := pinned.Digest()
	if err != nil {
		return nil, err
	}

	prev, err := b.history.LatestBuild(ctx, dg.String())
	switch {
	case err == nil:
		return prev.Packages, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	res, err := b.build(ctx, d, false)
	if err != nil {
		return nil, fmt.Errorf("baseline build: %w", err)
	}
	if !res.Cached {
		return res.Packages, nil
	}
	return b.InstalledPackages(ctx, res.Tag, res.Descriptor)
}

func diffPackages(previous, current []string) PackageDiff {
	split := func(pkgs []string) map[string]string {
		m := make(map[string]string, len(pkgs))
		for _, p := range pkgs {
			name, version, _ := strings.Cut(p, "=")
			m[name] = version
		}
		return m
	}
	prev, cur := split(previous), split(current)

	var diff PackageDiff
	for name, version := range cur {
		old, ok := prev[name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, name+"="+version)
		case old != version:
			diff.Changed = append(diff.Changed, fmt.Sprintf("%s: %s -> %s", name, old, version))
		}
	}
	for name, version := range prev {
		if _, ok := cur[name]; !ok {
			diff.Removed = append(diff.Removed, name+"="+version)
		}
	}
	slices.Sort(diff.Added)
	slices.Sort(diff.Removed)
	slices.Sort(diff.Changed)
	return diff
}

// RunSample runs the sample program found in workdir inside tag, with
// workdir mounted at the descriptor's working directory, and checks its
// output. It returns the program output.
func (b *Builder) RunSample(ctx context.Context, tag container.ImageTag, d *descriptor.Descriptor, workdir string) (string, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return "", err
	}
	lang, err := sample.Detect(abs)
	if err != nil {
		return "", err
	}
	cmd, err := sample.Command(lang)
	if err != nil {
		return "", err
	}
	target := d.WorkDir
	if target == "" {
		target = descriptor.DefaultWorkDir
	}

	var out combinedOutput
	res, err := b.engine.Run(ctx, container.RunOptions{
		Image:      tag,
		Entrypoint: cmd[0],
		Command:    cmd[1:],
		WorkDir:    target,
		Volumes:    []container.VolumeMount{{Source: abs, Target: target}},
		Remove:     true,
		Stdout:     &out,
		Stderr:     &out,
	})
	if err != nil {
		return "", fmt.Errorf("run %s sample: %w", lang, err)
	}
	if res.ExitCode != 0 {
		return out.String(), &SampleError{Language: lang, ExitCode: res.ExitCode, Output: out.String()}
	}
	return out.String(), sample.Check(out.String())
}

// combinedOutput collects a process's stdout and stderr, which the engine
// may write from separate goroutines.
type combinedOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *combinedOutput) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *combinedOutput) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
