// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"codeden-cli/internal/store"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent builds and sessions",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(app.history(cmd.Context(), limit))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "entries to show per table")
	return cmd
}

func (a *App) history(ctx context.Context, limit int) error {
	svc, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	builds, err := svc.store.ListBuilds(ctx, limit)
	if err != nil {
		return err
	}
	sessions, err := svc.store.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	printBuilds(a.stdout, builds)
	fmt.Fprintln(a.stdout)
	printSessions(a.stdout, sessions)
	return nil
}

func printBuilds(w io.Writer, builds []store.BuildRecord) {
	fmt.Fprintln(w, TitleStyle.Render("Builds"))
	if len(builds) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  (none)"))
		return
	}
	rows := make([][]string, 0, len(builds))
	for _, b := range builds {
		source := "built"
		if b.CacheHit {
			source = "cached"
		}
		rows = append(rows, []string{
			b.CreatedAt.Local().Format(historyTimeLayout),
			b.Name,
			b.Tag,
			source,
			b.Engine,
			strconv.Itoa(len(b.Packages)),
			b.Duration.Round(time.Second).String(),
		})
	}
	fmt.Fprintln(w, newTable([]string{"CREATED", "NAME", "TAG", "SOURCE", "ENGINE", "PACKAGES", "DURATION"}, rows))
}

func printSessions(w io.Writer, sessions []store.SessionRecord) {
	fmt.Fprintln(w, TitleStyle.Render("Sessions"))
	if len(sessions) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  (none)"))
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.StartedAt.Local().Format(historyTimeLayout),
			s.ID.String(),
			s.Backend,
			s.Address,
			s.WorkDir,
			sessionStatus(s),
		})
	}
	fmt.Fprintln(w, newTable([]string{"STARTED", "ID", "BACKEND", "ADDRESS", "WORKDIR", "STATUS"}, rows))
}

func sessionStatus(s store.SessionRecord) string {
	switch {
	case s.Running():
		return WarningStyle.Render("running")
	case s.Error != "":
		return ErrorStyle.Render("failed: " + s.Error)
	case s.ExitCode != nil && *s.ExitCode != 0:
		return ErrorStyle.Render("exit " + strconv.Itoa(*s.ExitCode))
	default:
		return SuccessStyle.Render("stopped")
	}
}
