// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/opencontainers/go-digest"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/registry"
	"codeden-cli/internal/store"
	"codeden-cli/internal/testutil"
)

type (
	// Resolver pins a base image reference to a digest.
	Resolver interface {
		Resolve(ctx context.Context, ref descriptor.ImageRef) (registry.Resolved, error)
	}

	// History records builds and returns the latest snapshot of a digest.
	History interface {
		RecordBuild(ctx context.Context, rec store.BuildRecord) (store.BuildRecord, error)
		LatestBuild(ctx context.Context, digest string) (*store.BuildRecord, error)
	}

	// Builder builds environment images with a container engine.
	Builder struct {
		engine   container.Engine
		resolver Resolver
		history  History
		policy   container.RetryPolicy
		pin      bool
		force    bool
		platform string
		output   io.Writer
		logger   *log.Logger
		clock    testutil.Clock
		// engineVersion caches engineLabel.
		engineVersion string
	}

	// Option configures a Builder.
	Option func(*Builder)

	// Result describes a built (or reused) image.
	Result struct {
		// Descriptor is the descriptor as built, with the base image pinned
		// when pinning was enabled.
		Descriptor *descriptor.Descriptor
		// BaseImage is the base image reference before pinning.
		BaseImage descriptor.ImageRef
		Digest    digest.Digest
		Tag       container.ImageTag
		ImageID   string
		// Cached is true when an image with Tag already existed.
		Cached bool
		// Attempts is the number of engine builds run (0 for a cache hit).
		Attempts int
		// Packages is the installed "name=version" snapshot; empty for a
		// cache hit.
		Packages []string
		Duration time.Duration
		Record   *store.BuildRecord
	}
)

// WithResolver sets the registry resolver used to pin base images.
func WithResolver(r Resolver) Option {
	return func(b *Builder) { b.resolver = r }
}

// WithHistory sets where builds are recorded.
func WithHistory(h History) Option {
	return func(b *Builder) { b.history = h }
}

// WithRetryPolicy sets the backoff for transient build failures.
func WithRetryPolicy(p container.RetryPolicy) Option {
	return func(b *Builder) { b.policy = p }
}

// WithPinBaseImage enables resolving the base image to a digest before
// building. It needs a resolver.
func WithPinBaseImage(pin bool) Option {
	return func(b *Builder) { b.pin = pin }
}

// WithForce bypasses the image cache and the engine's layer cache.
func WithForce(force bool) Option {
	return func(b *Builder) { b.force = force }
}

// WithPlatform builds for platform ("linux/amd64") instead of the host's.
func WithPlatform(platform string) Option {
	return func(b *Builder) { b.platform = platform }
}

// WithOutput streams the engine's build log to w.
func WithOutput(w io.Writer) Option {
	return func(b *Builder) { b.output = w }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithClock sets the time source used for build durations.
func WithClock(c testutil.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// NewBuilder creates a Builder for engine.
func NewBuilder(engine container.Engine, opts ...Option) *Builder {
	b := &Builder{
		engine: engine,
		policy: container.DefaultRetryPolicy,
		output: io.Discard,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "build"}),
		clock:  testutil.RealClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the image for d. See the package documentation for the
// phases.
func (b *Builder) Build(ctx context.Context, d *descriptor.Descriptor) (*Result, error) {
	return b.build(ctx, d, b.force)
}

func (b *Builder) build(ctx context.Context, d *descriptor.Descriptor, force bool) (*Result, error) {
	start := b.clock.Now()
	base := d.BaseImage
	if base == "" {
		base = descriptor.DefaultBaseImage
	}

	d, err := b.prepare(ctx, d)
	if err != nil {
		return nil, err
	}
	dg, err := d.Digest()
	if err != nil {
		return nil, err
	}
	tagStr, err := d.Tag()
	if err != nil {
		return nil, err
	}
	tag := container.ImageTag(tagStr)
	res := &Result{Descriptor: d, BaseImage: base, Digest: dg, Tag: tag}

	if !force {
		exists, err := b.engine.ImageExists(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("check image %s: %w", tag, err)
		}
		if exists {
			b.logger.Info("reusing image", "tag", tag)
			res.Cached = true
			if res.ImageID, err = b.engine.ImageID(ctx, tag); err != nil {
				return nil, err
			}
			res.Duration = b.clock.Since(start)
			if err := b.record(ctx, res); err != nil {
				return nil, err
			}
			return res, nil
		}
	}

	if res.Attempts, err = b.runBuild(ctx, d, tag, force); err != nil {
		return nil, err
	}
	if res.ImageID, err = b.engine.ImageID(ctx, tag); err != nil {
		return nil, err
	}
	if res.Packages, err = b.InstalledPackages(ctx, tag, d); err != nil {
		return nil, err
	}
	res.Duration = b.clock.Since(start)
	b.logger.Info("built image", "tag", tag, "attempts", res.Attempts, "duration", res.Duration.Round(time.Millisecond))
	if err := b.record(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// prepare validates a defaulted copy of d and pins its base image.
func (b *Builder) prepare(ctx context.Context, d *descriptor.Descriptor) (*descriptor.Descriptor, error) {
	d = d.Clone()
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !b.pin || d.BaseImage.IsPinned() {
		return d, nil
	}
	if b.resolver == nil {
		return nil, errors.New("base image pinning enabled without a registry resolver")
	}
	resolved, err := b.resolver.Resolve(ctx, d.BaseImage)
	if err != nil {
		return nil, fmt.Errorf("pin base image %s: %w", d.BaseImage, err)
	}
	b.logger.Debug("pinned base image", "ref", d.BaseImage, "pinned", resolved.Pinned)
	return d.WithBaseImage(resolved.Pinned), nil
}

// runBuild writes the build context and runs the engine build under the
// retry policy. It returns the number of attempts made.
func (b *Builder) runBuild(ctx context.Context, d *descriptor.Descriptor, tag container.ImageTag, force bool) (int, error) {
	dockerfile, err := Dockerfile(d, d.BaseImage)
	if err != nil {
		return 0, err
	}
	contextDir, err := os.MkdirTemp("", "codeden-build-*")
	if err != nil {
		return 0, fmt.Errorf("create build context: %w", err)
	}
	defer func() { _ = os.RemoveAll(contextDir) }()
	if err := os.WriteFile(filepath.Join(contextDir, dockerfileName), []byte(dockerfile), 0o644); err != nil {
		return 0, fmt.Errorf("write Dockerfile: %w", err)
	}

	attempts := 0
	err = container.RetryWithBackoff(ctx, b.policy, func(attempt int) (bool, error) {
		attempts = attempt + 1
		b.logger.Info("building image", "tag", tag, "attempt", attempts)
		buildErr := b.engine.Build(ctx, container.BuildOptions{
			ContextDir: contextDir,
			Dockerfile: dockerfileName,
			Tag:        tag,
			Platform:   b.platform,
			NoCache:    force,
			Output:     b.output,
		})
		if buildErr == nil {
			return false, nil
		}
		retry, classified := classifyBuildError(buildErr)
		if retry {
			b.logger.Warn("transient build failure", "tag", tag, "attempt", attempts, "err", buildErr)
		}
		return retry, classified
	})
	return attempts, container.AsNetworkError("build", string(tag), err)
}

func (b *Builder) record(ctx context.Context, res *Result) error {
	if b.history == nil {
		return nil
	}
	rec, err := b.history.RecordBuild(ctx, store.BuildRecord{
		Name:         string(res.Descriptor.Name),
		Digest:       res.Digest.String(),
		Tag:          string(res.Tag),
		BaseImage:    string(res.BaseImage),
		ResolvedBase: resolvedBase(res.Descriptor),
		ImageID:      res.ImageID,
		Engine:       b.engineLabel(ctx),
		CacheHit:     res.Cached,
		Duration:     res.Duration,
		Packages:     res.Packages,
	})
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	res.Record = &rec
	return nil
}

// engineLabel names the engine and its version for build records, as in
// "podman 5.2.1". A failed version query falls back to the name and is
// tried again on the next build.
func (b *Builder) engineLabel(ctx context.Context) string {
	if b.engineVersion != "" {
		return b.engineVersion
	}
	name := b.engine.Name()
	v, err := b.engine.Version(ctx)
	if err != nil || v == "" {
		b.logger.Debug("engine version unavailable", "engine", name, "error", err)
		return name
	}
	b.engineVersion = name + " " + v
	return b.engineVersion
}

func resolvedBase(d *descriptor.Descriptor) string {
	if d.BaseImage.IsPinned() {
		return string(d.BaseImage)
	}
	return ""
}
