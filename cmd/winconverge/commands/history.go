package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/winconverge/winconverge/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit       int
		allMachines bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the runs recorded for this machine, newest first, or show the
actions of one run.

The history is a record only; it is never consulted when converging.`,
		Example: `  # List the last 20 runs
  winconverge history

  # Show the actions of one run
  winconverge history 6f1c2a4e-0c5d-4a7e-9d55-0b8f1e2f3a10 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			store, err := s.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := store.ListActionResultsByRun(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]any{"run": run, "actions": results})
				}
				printRun(out, run, results)
				return nil
			}

			filter := stores.RunFilter{Limit: limit}
			if !allMachines {
				machineID, err := s.machineIdentity()
				if err != nil {
					return err
				}
				filter.MachineID = &machineID
			}
			runs, err := store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&allMachines, "all", false, "list runs of every machine in the store")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	for _, run := range runs {
		mode := "apply"
		if run.DryRun {
			mode = "plan"
		}
		fmt.Fprintf(w, "%s  %s  %-5s %-10s %-9s %3d resources %3d actions %3d not applied  %s\n",
			run.ID, run.StartedAt.Local().Format(time.DateTime), mode, run.MachineID,
			run.Status, run.Resources, run.Actions, run.ActionsFailed, run.DocumentPath)
	}
}

func printRun(w io.Writer, run *stores.Run, results []*stores.ActionResult) {
	fmt.Fprintf(w, "Run %s on %s: %s\n", run.ID, run.MachineID, run.Status)
	fmt.Fprintf(w, "  document: %s\n", run.DocumentPath)
	fmt.Fprintf(w, "  started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(w, "  error:    %s\n", *run.Error)
	}
	fmt.Fprintln(w)
	for _, r := range results {
		fmt.Fprintf(w, "%3d %-8s %s:%s  %s", r.Seq, r.Status, r.ResourceKind, r.ResourceName, r.Description)
		if r.Error != nil {
			fmt.Fprintf(w, ": %s", *r.Error)
		}
		fmt.Fprintln(w)
	}
}
