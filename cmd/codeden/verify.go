// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"codeden-cli/internal/container"
	"codeden-cli/internal/imagebuild"
	"codeden-cli/internal/issue"
)

type verifyFlags struct {
	rebuild   bool
	sampleDir string
	noPin     bool
}

func newVerifyCommand(app *App) *cobra.Command {
	var (
		src   descriptorSource
		flags verifyFlags
	)
	cmd := &cobra.Command{
		Use:   "verify [descriptor]",
		Short: "Check the toolchains of a built environment",
		Long: `Run every declared toolchain's version query inside the environment image
and report the versions found.

--rebuild rebuilds the image without any cache and compares the installed
package set with the previous build of the same descriptor. --sample runs
the sample program in a workspace directory and checks its output.`,
		Example: `  codeden verify --lang java
  codeden verify codeden.myapp.cue --rebuild --sample workspace-myapp`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(app.verify(cmd.Context(), src, args, flags))
		},
	}
	src.addFlags(cmd)
	cmd.Flags().BoolVar(&flags.rebuild, "rebuild", false, "rebuild without cache and compare installed packages")
	cmd.Flags().StringVar(&flags.sampleDir, "sample", "", "run the sample program found in this directory")
	cmd.Flags().BoolVar(&flags.noPin, "no-pin", false, "build from the base image tag without resolving its digest")
	return cmd
}

func (a *App) verify(ctx context.Context, src descriptorSource, args []string, flags verifyFlags) error {
	rd, err := src.resolve(args)
	if err != nil {
		return err
	}
	svc, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	pin := svc.cfg.Build.PinBaseImage && !flags.noPin
	builder, err := a.newBuilder(svc.cfg, svc.engine, svc.store, false, pin)
	if err != nil {
		return err
	}
	name := rd.desc.Name.String()

	var tag container.ImageTag
	if flags.rebuild {
		report, err := builder.CheckIdempotence(ctx, rd.desc)
		if report != nil {
			printIdempotence(a.stdout, report)
		}
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("check rebuild").
				WithResource(name).
				Wrap(err).
				BuildError()
		}
		tag = report.Tag
	} else {
		res, err := builder.Build(ctx, rd.desc)
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("build image").
				WithResource(name).
				Wrap(err).
				BuildError()
		}
		tag = res.Tag
	}

	reports, verifyErr := builder.VerifyToolchains(ctx, tag, rd.desc)
	printToolchains(a.stdout, tag, reports)

	var sampleErr error
	if flags.sampleDir != "" {
		out, err := builder.RunSample(ctx, tag, rd.desc, flags.sampleDir)
		if err == nil {
			fmt.Fprintf(a.stdout, "%s Sample: %s\n", SuccessStyle.Render("✓"), strings.TrimSpace(out))
		} else {
			fmt.Fprintf(a.stdout, "%s Sample failed\n", ErrorStyle.Render("✗"))
			sampleErr = err
		}
	}

	if err := errors.Join(verifyErr, sampleErr); err != nil {
		return issue.NewErrorContext().
			WithOperation("verify environment").
			WithResource(name).
			Wrap(err).
			BuildError()
	}
	return nil
}

func printToolchains(w io.Writer, tag container.ImageTag, reports []imagebuild.ToolchainReport) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Toolchains in"), CmdStyle.Render(tag.String()))
	if len(reports) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  (none declared)"))
		return
	}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		status := SuccessStyle.Render("ok")
		if r.Err != nil {
			status = ErrorStyle.Render("failed")
		}
		rows = append(rows, []string{r.Name, r.Version, status})
	}
	fmt.Fprintln(w, newTable([]string{"TOOLCHAIN", "VERSION", "STATUS"}, rows))
}

func printIdempotence(w io.Writer, report *imagebuild.IdempotenceReport) {
	if report.Diff.Empty() {
		fmt.Fprintf(w, "%s Rebuild installed the same %d packages\n", SuccessStyle.Render("✓"), len(report.Current))
		return
	}
	fmt.Fprintf(w, "%s Rebuild changed the installed packages:\n", ErrorStyle.Render("✗"))
	for _, line := range strings.Split(report.Diff.String(), "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// newTable renders rows under headers with the CLI palette.
func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...).
		Rows(rows...)
}
