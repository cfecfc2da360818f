// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"codeden-cli/internal/sample"
)

func newSampleCommand(app *App) *cobra.Command {
	var a, b int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the sample programs' arithmetic report",
		Long: `Print the line every scaffolded sample program prints. 'codeden verify
--sample' expects this output for the default operands.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(app.stdout, sample.Report(a, b))
			return nil
		},
	}
	cmd.Flags().IntVar(&a, "a", sample.DefaultA, "first operand")
	cmd.Flags().IntVar(&b, "b", sample.DefaultB, "second operand")
	return cmd
}
