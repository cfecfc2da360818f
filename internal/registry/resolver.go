// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"
	"golang.org/x/time/rate"

	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
)

const userAgent = "codeden"

type (
	// Resolver pins image references to manifest digests.
	Resolver struct {
		limiter   *rate.Limiter
		policy    container.RetryPolicy
		platform  *v1.Platform
		transport http.RoundTripper
		keychain  authn.Keychain
		insecure  bool
		logger    *log.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// Resolved is the outcome of pinning a reference.
	Resolved struct {
		// Reference is the reference as given.
		Reference descriptor.ImageRef
		// Repository is the normalized repository, e.g. "docker.io/library/debian".
		Repository string
		// Digest is the manifest (or, for multi-platform images without a
		// configured platform, index) digest.
		Digest digest.Digest
		// Pinned is Repository@Digest.
		Pinned descriptor.ImageRef
		// Cached is true when Reference was already pinned and no request
		// was made.
		Cached bool
	}
)

// WithRateLimit caps registry requests per second. Zero or negative
// disables the limit.
func WithRateLimit(rps float64) Option {
	return func(r *Resolver) {
		if rps <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryPolicy sets the backoff used for transient failures.
func WithRetryPolicy(p container.RetryPolicy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithPlatform resolves multi-platform indexes to the manifest for platform
// (e.g. "linux/amd64").
func WithPlatform(p *v1.Platform) Option {
	return func(r *Resolver) { r.platform = p }
}

// WithTransport sets the HTTP transport used for registry requests.
func WithTransport(t http.RoundTripper) Option {
	return func(r *Resolver) { r.transport = t }
}

// WithKeychain sets the credential source. The default is the docker
// config keychain.
func WithKeychain(k authn.Keychain) Option {
	return func(r *Resolver) { r.keychain = k }
}

// WithInsecure allows plain HTTP registries.
func WithInsecure(insecure bool) Option {
	return func(r *Resolver) { r.insecure = insecure }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver. Defaults: 5 requests per second, the
// container default retry policy, the docker config keychain.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		limiter:  rate.NewLimiter(rate.Limit(5), 1),
		policy:   container.DefaultRetryPolicy,
		keychain: authn.DefaultKeychain,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "registry"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve pins ref to a digest. Already pinned references are returned
// without contacting the registry. A missing manifest yields an
// *ImageNotFoundError immediately; transient failures are retried and
// surface as *container.NetworkError once the policy is exhausted.
func (r *Resolver) Resolve(ctx context.Context, ref descriptor.ImageRef) (Resolved, error) {
	var nameOpts []name.Option
	if r.insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	parsed, err := parse(ref, nameOpts...)
	if err != nil {
		return Resolved{}, err
	}
	repo := repository(parsed)

	if d, ok := parsed.(name.Digest); ok {
		dg, err := digest.Parse(d.DigestStr())
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: %w", descriptor.ErrInvalidImageRef, err)
		}
		return Resolved{Reference: ref, Repository: repo, Digest: dg, Pinned: pinned(repo, dg), Cached: true}, nil
	}

	var hash v1.Hash
	err = container.RetryWithBackoff(ctx, r.policy, func(attempt int) (bool, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
		h, err := r.fetch(ctx, parsed)
		if err == nil {
			hash = h
			return false, nil
		}
		if nf := notFound(parsed.String(), err); nf != nil {
			return false, nf
		}
		retry := isTransient(err)
		if retry {
			r.logger.Warn("registry request failed", "ref", parsed.String(), "attempt", attempt+1, "err", err)
		}
		return retry, err
	})
	if err != nil {
		return Resolved{}, container.AsNetworkError("resolve", parsed.String(), err)
	}

	dg, err := digest.Parse(hash.String())
	if err != nil {
		return Resolved{}, fmt.Errorf("registry returned digest %q: %w", hash.String(), err)
	}
	r.logger.Debug("resolved base image", "ref", string(ref), "digest", dg.String())
	return Resolved{Reference: ref, Repository: repo, Digest: dg, Pinned: pinned(repo, dg)}, nil
}

// fetch HEADs the manifest. With a platform configured, an index is
// followed to the matching image manifest.
func (r *Resolver) fetch(ctx context.Context, ref name.Reference) (v1.Hash, error) {
	opts := r.remoteOptions(ctx)
	desc, err := remote.Head(ref, opts...)
	if err != nil {
		return v1.Hash{}, err
	}
	if r.platform == nil || !desc.MediaType.IsIndex() {
		return desc.Digest, nil
	}

	rd, err := remote.Get(ref, append(opts, remote.WithPlatform(*r.platform))...)
	if err != nil {
		return v1.Hash{}, err
	}
	img, err := rd.Image()
	if err != nil {
		return v1.Hash{}, fmt.Errorf("select platform %s: %w", r.platform.String(), err)
	}
	return img.Digest()
}

func (r *Resolver) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithUserAgent(userAgent),
		remote.WithAuthFromKeychain(r.keychain),
		// Retries are ours; the transport makes a single attempt.
		remote.WithRetryBackoff(remote.Backoff{Steps: 1}),
	}
	if r.transport != nil {
		opts = append(opts, remote.WithTransport(r.transport))
	}
	return opts
}

func pinned(repo string, dg digest.Digest) descriptor.ImageRef {
	return descriptor.ImageRef(repo + "@" + dg.String())
}

// notFound maps registry "no such manifest" answers to ImageNotFoundError.
func notFound(ref string, err error) error {
	var te *transport.Error
	if !errors.As(err, &te) {
		return nil
	}
	switch te.StatusCode {
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return &ImageNotFoundError{Reference: ref, StatusCode: te.StatusCode, Err: err}
	}
	for _, d := range te.Errors {
		if d.Code == transport.ManifestUnknownErrorCode || d.Code == transport.NameUnknownErrorCode {
			return &ImageNotFoundError{Reference: ref, StatusCode: te.StatusCode, Err: err}
		}
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return te.StatusCode >= http.StatusInternalServerError ||
			te.StatusCode == http.StatusTooManyRequests ||
			te.StatusCode == http.StatusRequestTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return container.IsTransientError(err)
}
