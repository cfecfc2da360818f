// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"codeden-cli/internal/config"
	"codeden-cli/internal/container"
	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/issue"
	"codeden-cli/internal/store"
)

type (
	// services are what a build or session command opens for one
	// invocation. Close releases the store.
	services struct {
		cfg    *config.Config
		engine container.Engine
		store  *store.Store
	}

	// descriptorSource selects the descriptor of a command: a file given as
	// the positional argument, or a language preset.
	descriptorSource struct {
		lang string
		name string
	}

	// resolvedDescriptor is a loaded descriptor. lang is set only for
	// presets.
	resolvedDescriptor struct {
		desc *descriptor.Descriptor
		lang descriptor.Language
		path string
	}
)

// open loads the configuration and the history store, and selects the
// container engine when withEngine is set.
func (a *App) open(ctx context.Context, withEngine bool) (*services, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, a.configError(err)
	}

	svc := &services{cfg: cfg}
	if withEngine {
		engine, err := a.engine(cfg)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("select container engine").
				WithResource(string(cfg.ContainerEngine)).
				WithSuggestion("Install podman or docker, or set container_engine in your config").
				Wrap(err).
				BuildError()
		}
		svc.engine = engine
	}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open history").
			WithResource(store.DefaultPath(cfg.StateDir)).
			Wrap(err).
			BuildError()
	}
	svc.store = st
	return svc, nil
}

// configError attaches the config issue page to a load failure.
func (a *App) configError(err error) error {
	return issue.NewErrorContext().
		WithOperation("load config").
		WithResource(a.configPath).
		WithSuggestion("Run 'codeden config path' to see which file is read").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

func (s *services) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *descriptorSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.lang, "lang", "l", "", "use a language preset (see 'codeden languages')")
	cmd.Flags().StringVar(&s.name, "name", "", "environment name for a preset (default: the language)")
}

// given reports whether a descriptor was selected at all.
func (s *descriptorSource) given(args []string) bool {
	return len(args) > 0 || s.lang != ""
}

func (s *descriptorSource) resolve(args []string) (resolvedDescriptor, error) {
	switch {
	case len(args) > 0 && s.lang != "":
		return resolvedDescriptor{}, fmt.Errorf("%w: pass either a descriptor file or --lang, not both", errUsage)
	case len(args) > 0:
		d, err := descriptor.Load(args[0])
		if err != nil {
			return resolvedDescriptor{}, issue.NewErrorContext().
				WithOperation("load descriptor").
				WithResource(args[0]).
				WithSuggestion("Generate a descriptor with 'codeden init <name> --lang <language>'").
				Wrap(err).
				BuildError()
		}
		return resolvedDescriptor{desc: d, path: args[0]}, nil
	case s.lang != "":
		lang, err := descriptor.ResolveLanguage(s.lang)
		if err != nil {
			return resolvedDescriptor{}, issue.NewErrorContext().
				WithOperation("resolve language").
				WithResource(s.lang).
				WithSuggestion("Run 'codeden languages' to list the presets").
				Wrap(err).
				BuildError()
		}
		d, err := descriptor.Preset(lang, descriptor.Name(s.name))
		if err != nil {
			return resolvedDescriptor{}, err
		}
		return resolvedDescriptor{desc: d, lang: lang}, nil
	default:
		return resolvedDescriptor{}, fmt.Errorf("%w: pass a descriptor file or --lang", errUsage)
	}
}

// latestImage returns the newest recorded image of the environment that
// still exists in the engine.
func latestImage(ctx context.Context, svc *services, d *descriptor.Descriptor) (container.ImageTag, error) {
	builds, err := svc.store.ListBuilds(ctx, 100)
	if err != nil {
		return "", err
	}
	for _, b := range builds {
		if b.Name != d.Name.String() {
			continue
		}
		tag := container.ImageTag(b.Tag)
		ok, err := svc.engine.ImageExists(ctx, tag)
		if err != nil {
			return "", err
		}
		if ok {
			return tag, nil
		}
	}
	return "", issue.NewErrorContext().
		WithOperation("find image").
		WithResource(d.Name.String()).
		WithSuggestion("Build it first with 'codeden build', or build and launch with 'codeden up'").
		Wrap(errNoImage).
		BuildError()
}

// errNoImage is returned when launch has no image to run.
var errNoImage = errors.New("no built image for this environment")
