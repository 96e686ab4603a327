package commands

import (
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var opts convergeOptions

	cmd := &cobra.Command{
		Use:   "apply <document>",
		Short: "Converge this machine to a document",
		Long: `Converge this machine to the configuration blocks that target it.

This command:
  - Loads and validates the document (.json, .yaml or .cue)
  - Selects the blocks whose targets name this machine
  - Reads each resource and plans only the differing properties
  - Checks every plan against the policies
  - Applies the plan in stage order and records the run

Exit status is 0 when everything converged, 2 when some resources or
document items failed and 1 when the run could not start.`,
		Example: `  # Converge the live machine
  winconverge apply site.yaml

  # Show what would change without changing anything
  winconverge apply site.yaml --dry-run

  # Converge a recorded snapshot instead of the live machine
  winconverge apply site.yaml --observed web01.json --save-observed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.documentPath = args[0]
			return runConverge(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "plan and record actions without executing them")
	cmd.Flags().StringVar(&opts.observed, "observed", "", "converge a JSON machine snapshot instead of the live machine")
	cmd.Flags().BoolVar(&opts.saveObserved, "save-observed", false, "write the converged state back to the --observed snapshot")

	return cmd
}

func newPlanCommand() *cobra.Command {
	var opts convergeOptions

	cmd := &cobra.Command{
		Use:   "plan <document>",
		Short: "Show the actions apply would take",
		Long: `Plan the convergence of this machine without changing it.

Equivalent to apply --dry-run. The run is recorded in the history with
every action marked as planned.`,
		Example: `  # Plan against the live machine
  winconverge plan site.yaml

  # Plan as another machine against its snapshot
  winconverge plan site.yaml --machine WEB02 --observed web02.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.documentPath = args[0]
			opts.dryRun = true
			return runConverge(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.observed, "observed", "", "plan against a JSON machine snapshot instead of the live machine")

	return cmd
}

// runConverge loads the document, converges once and reports the result.
func runConverge(cmd *cobra.Command, opts convergeOptions) error {
	ctx := cmd.Context()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	loaded, err := s.loadDocument(ctx, opts.documentPath)
	if err != nil {
		return err
	}

	c, err := s.newConverger(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.converge(ctx, loaded)
	if report == nil {
		return err
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Convergence stopped")
	}

	if opts.saveObserved && c.memory != nil && !opts.dryRun {
		if err := c.memory.SaveFile(s.fs, opts.observed); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if code := exitCode(report, loaded); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
