package commands

import (
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a document",
		Long: `Validate a desired-state document without touching the machine.

This command:
  - Parses the document (.json, .yaml or .cue)
  - Checks it against the embedded CUE schema
  - Checks every item's required fields and value ranges

Items that fail validation would be skipped by apply. The exit status is 2
when any item fails and 1 when the document cannot be read at all.`,
		Example: `  # Validate a document
  winconverge validate site.yaml

  # Print the issues as JSON
  winconverge validate site.cue --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			loaded, err := s.loadDocument(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, loaded.Issues); err != nil {
					return err
				}
			} else {
				printIssues(out, loaded)
			}

			if loaded.HasErrors() {
				return &ExitError{Code: 2}
			}
			return nil
		},
	}

	return cmd
}
