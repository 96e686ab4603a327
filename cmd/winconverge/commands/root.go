package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile     string
	machineName string
	verbose     bool
	jsonOutput  bool

	buildVersion = "dev"
)

// ExitError carries a process exit status out of a command that has
// already reported its outcome.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "winconverge",
		Short: "winconverge - desired state for Windows and IIS hosts",
		Long: `winconverge converges a Windows machine to a declarative document.

A document holds configuration blocks. Each block names the machines it
targets and the resources they should have: optional features, the time
zone, directories and their ACLs, SMB shares, IIS application pools,
websites and web applications, hosts-file entries and event-log sources.

Only the differences between the document and the machine are applied.
Properties the document does not mention are left alone.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load settings from a .env file")
	rootCmd.PersistentFlags().StringVarP(&machineName, "machine", "m", "", "machine identity to match blocks against")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
