// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"codeden-cli/internal/descriptor"
	"codeden-cli/internal/imagebuild"
	"codeden-cli/internal/issue"
)

// buildFlags are shared by build and up.
type buildFlags struct {
	force bool
	noPin bool
}

func (f *buildFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "rebuild even when the image already exists")
	cmd.Flags().BoolVar(&f.noPin, "no-pin", false, "build from the base image tag without resolving its digest")
}

func newBuildCommand(app *App) *cobra.Command {
	var (
		src   descriptorSource
		flags buildFlags
	)
	cmd := &cobra.Command{
		Use:   "build [descriptor]",
		Short: "Build the environment image",
		Long: `Build the container image described by a descriptor file or a language
preset. An image whose tag already exists is reused unless --force is given.

Missing packages fail the build immediately. Network failures are retried
with exponential backoff (build.retry in the config) before giving up.`,
		Example: `  codeden build codeden.myapp.cue
  codeden build --lang python --force`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			rd, err := src.resolve(args)
			if err != nil {
				return app.fail(err)
			}
			svc, err := app.open(cmd.Context(), true)
			if err != nil {
				return app.fail(err)
			}
			defer func() { _ = svc.Close() }()

			res, err := app.build(cmd.Context(), svc, rd.desc, flags)
			if err != nil {
				return app.fail(err)
			}
			printBuildResult(app.stdout, res)
			return nil
		},
	}
	src.addFlags(cmd)
	flags.addFlags(cmd)
	return cmd
}

func (a *App) build(ctx context.Context, svc *services, d *descriptor.Descriptor, flags buildFlags) (*imagebuild.Result, error) {
	pin := svc.cfg.Build.PinBaseImage && !flags.noPin
	builder, err := a.newBuilder(svc.cfg, svc.engine, svc.store, flags.force, pin)
	if err != nil {
		return nil, err
	}
	res, err := builder.Build(ctx, d)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("build image").
			WithResource(d.Name.String()).
			Wrap(err).
			BuildError()
	}
	return res, nil
}

func printBuildResult(w io.Writer, res *imagebuild.Result) {
	verb := "Built"
	if res.Cached {
		verb = "Reused"
	}
	fmt.Fprintf(w, "%s %s %s\n", SuccessStyle.Render("✓"), verb, CmdStyle.Render(res.Tag.String()))
	if res.Descriptor != nil && res.Descriptor.BaseImage != res.BaseImage {
		fmt.Fprintf(w, "  base:     %s → %s\n", res.BaseImage, VerboseStyle.Render(res.Descriptor.BaseImage.String()))
	} else {
		fmt.Fprintf(w, "  base:     %s\n", res.BaseImage)
	}
	fmt.Fprintf(w, "  digest:   %s\n", VerboseStyle.Render(res.Digest.String()))
	if res.Cached {
		return
	}
	fmt.Fprintf(w, "  packages: %d installed\n", len(res.Packages))
	fmt.Fprintf(w, "  took:     %s (%d attempt(s))\n", res.Duration.Round(time.Millisecond), res.Attempts)
}
