package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [chart-id...]",
	Short: "Re-execute stored charts",
	Long:  `Re-runs the given charts, or every stored chart when no ids are given, and stores the refreshed figures. Failed charts keep their previous figure.`,
	RunE:  runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	out := cmd.OutOrStdout()

	if len(args) > 0 {
		failed := 0
		for _, id := range args {
			if _, err := application.ChartService.Refresh(ctx, id); err != nil {
				failed++
				fmt.Fprintf(out, "%s: %v\n", id, err)
				continue
			}
			fmt.Fprintf(out, "%s: ok\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d charts failed to refresh", failed, len(args))
		}
		return nil
	}

	summary, err := application.ChartService.RefreshAll(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(summary.Failures))
	for id := range summary.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "%s: %s\n", id, summary.Failures[id])
	}
	fmt.Fprintf(out, "refreshed %d of %d charts (%d failed)\n", summary.Refreshed, summary.Total, summary.Failed)
	return nil
}
