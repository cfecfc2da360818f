// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"codeden-cli/internal/descriptor"
)

func newLanguagesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the language presets",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(printLanguages(app.stdout))
		},
	}
}

func printLanguages(w io.Writer) error {
	langs := descriptor.Languages()
	rows := make([][]string, 0, len(langs))
	for _, l := range langs {
		d, err := descriptor.Preset(l, "")
		if err != nil {
			return err
		}
		toolchains := make([]string, 0, len(d.Toolchains))
		for _, tc := range d.Toolchains {
			toolchains = append(toolchains, tc.Name)
		}
		rows = append(rows, []string{
			string(l),
			strings.Join(l.Aliases(), ", "),
			strconv.Itoa(l.HostPort()),
			strings.Join(toolchains, ", "),
			d.BaseImage.String(),
		})
	}
	fmt.Fprintln(w, newTable([]string{"LANGUAGE", "ALIASES", "PORT", "TOOLCHAINS", "BASE IMAGE"}, rows))
	return nil
}
