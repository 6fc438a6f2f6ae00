// grizzly-status summarizes every harness instance running on this
// host by aggregating their shared status files.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v3"

	"github.com/pyoor/grizzly/internal/status"
)

func main() {
	cmd := &cli.Command{
		Name:   "grizzly-status",
		Usage:  "show counters for running harness instances",
		Action: show,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func show(ctx context.Context, cmd *cli.Command) error {
	snaps, err := status.ReadAll()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no active instances")
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].PID < snaps[j].PID })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"PID", "Uptime", "Iterations", "Rate/m", "Results", "Ignored", "Errors"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Iterations", Align: text.AlignRight},
		{Name: "Rate/m", Align: text.AlignRight},
		{Name: "Results", Align: text.AlignRight},
		{Name: "Ignored", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
	})

	var total status.Snapshot
	for _, s := range snaps {
		t.AppendRow(table.Row{
			s.PID,
			formatUptime(s.UpdatedAt.Sub(s.StartedAt)),
			s.Iterations,
			fmt.Sprintf("%.1f", s.Rate()),
			s.Results,
			s.Ignored,
			s.Errors,
		})
		total.Iterations += s.Iterations
		total.Results += s.Results
		total.Ignored += s.Ignored
		total.Errors += s.Errors
	}
	t.AppendFooter(table.Row{
		"TOTAL", "", total.Iterations, "", total.Results, total.Ignored, total.Errors,
	})
	t.Render()
	return nil
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
