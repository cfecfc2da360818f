// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	"codeden-cli/internal/config"
	"codeden-cli/internal/container"
	"codeden-cli/internal/imagebuild"
	"codeden-cli/internal/registry"
	"codeden-cli/internal/store"
)

// hostKeyFile is the ssh backend's persistent host key under the state
// directory.
const hostKeyFile = "ssh_host_ed25519"

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and reaches
	// configuration, engines and storage only through it.
	App struct {
		Config   ConfigProvider
		Engines  EngineFactory
		Stores   StoreOpener
		Resolver ResolverFactory
		stdout   io.Writer
		stderr   io.Writer

		// verbose and configPath are bound to the persistent root flags.
		verbose    bool
		configPath string

		mu  sync.Mutex
		cfg *config.Config
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Engines  EngineFactory
		Stores   StoreOpener
		Resolver ResolverFactory
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory returns the container engine for the configured
	// preference.
	EngineFactory func(preferred config.ContainerEngine) (container.Engine, error)

	// StoreOpener opens the history database at path.
	StoreOpener func(ctx context.Context, path string) (*store.Store, error)

	// ResolverFactory builds the base image resolver for a configuration.
	ResolverFactory func(cfg *config.Config, logger *log.Logger) (imagebuild.Resolver, error)
)

// NewApp fills unset dependencies with the production implementations.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:   deps.Config,
		Engines:  deps.Engines,
		Stores:   deps.Stores,
		Resolver: deps.Resolver,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Engines == nil {
		app.Engines = defaultEngine
	}
	if app.Stores == nil {
		app.Stores = func(ctx context.Context, path string) (*store.Store, error) {
			return store.Open(ctx, path)
		}
	}
	if app.Resolver == nil {
		app.Resolver = defaultResolver
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func defaultEngine(preferred config.ContainerEngine) (container.Engine, error) {
	return container.NewEngine(container.EngineType(preferred))
}

func defaultResolver(cfg *config.Config, logger *log.Logger) (imagebuild.Resolver, error) {
	opts := []registry.Option{
		registry.WithRateLimit(cfg.Build.RegistryRPS),
		registry.WithRetryPolicy(retryPolicy(cfg)),
		registry.WithLogger(logger),
	}
	if cfg.Build.Platform != "" {
		p, err := v1.ParsePlatform(cfg.Build.Platform)
		if err != nil {
			return nil, fmt.Errorf("%w: build.platform %q: %w", config.ErrInvalidConfig, cfg.Build.Platform, err)
		}
		opts = append(opts, registry.WithPlatform(p))
	}
	return registry.NewResolver(opts...), nil
}

func retryPolicy(cfg *config.Config) container.RetryPolicy {
	policy := container.DefaultRetryPolicy
	if cfg.Build.Retry.Attempts > 0 {
		policy.Attempts = cfg.Build.Retry.Attempts
	}
	if cfg.Build.Retry.Backoff > 0 {
		policy.Base = cfg.Build.Retry.Backoff
	}
	return policy
}

// loadConfig loads the configuration once per invocation. ui.verbose turns
// verbose output on when the flag did not.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, err
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}
	a.cfg = cfg
	return cfg, nil
}

// logger returns a component logger writing to stderr. Verbose output
// lowers the level to debug.
func (a *App) logger(prefix string) *log.Logger {
	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix: prefix,
		Level:  level,
	})
}

// engine selects the configured container engine.
func (a *App) engine(cfg *config.Config) (container.Engine, error) {
	return a.Engines(cfg.ContainerEngine)
}

// openStore opens the history database under the state directory.
func (a *App) openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return a.Stores(ctx, store.DefaultPath(cfg.StateDir))
}

// newBuilder assembles an image builder with history and base pinning
// configured from cfg.
func (a *App) newBuilder(cfg *config.Config, engine container.Engine, history imagebuild.History, force, pin bool) (*imagebuild.Builder, error) {
	opts := []imagebuild.Option{
		imagebuild.WithHistory(history),
		imagebuild.WithRetryPolicy(retryPolicy(cfg)),
		imagebuild.WithPinBaseImage(pin),
		imagebuild.WithForce(force),
		imagebuild.WithPlatform(cfg.Build.Platform),
		imagebuild.WithLogger(a.logger("build")),
	}
	if pin {
		resolver, err := a.Resolver(cfg, a.logger("registry"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, imagebuild.WithResolver(resolver))
	}
	if a.verbose {
		opts = append(opts, imagebuild.WithOutput(a.stderr))
	}
	return imagebuild.NewBuilder(engine, opts...), nil
}

// hostKeyPath is where the ssh backend keeps its host key.
func hostKeyPath(cfg *config.Config) string {
	return filepath.Join(cfg.StateDir, hostKeyFile)
}

// styleName maps ui.color_scheme to a glamour style.
func (a *App) styleName() string {
	if a.cfg != nil {
		switch a.cfg.UI.ColorScheme {
		case config.ColorSchemeLight:
			return "light"
		case config.ColorSchemeDark:
			return "dark"
		}
	}
	return "dark"
}
