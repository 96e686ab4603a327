package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/winconverge/winconverge/pkg/config"
	"github.com/winconverge/winconverge/pkg/engine"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes a human-readable report. Resources already in sync are
// only counted.
func printReport(w io.Writer, report *engine.Report) {
	mode := "apply"
	if report.DryRun {
		mode = "plan"
	}
	fmt.Fprintf(w, "Run %s (%s) on %s: %s\n", report.RunID, mode, report.MachineID, report.Status)
	if report.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", report.Error)
	}

	for _, res := range report.Resources {
		if res.Outcome == engine.OutcomeInSync && len(res.Warnings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s [%s]\n", res.Resource, res.Outcome)
		for _, ar := range res.Actions {
			fmt.Fprintf(w, "  %-8s %s", ar.Status, ar.Action.Description())
			if ar.Error != "" {
				fmt.Fprintf(w, ": %s", ar.Error)
			}
			fmt.Fprintln(w)
		}
		if res.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", res.Error)
		}
		for _, v := range res.Violations {
			fmt.Fprintf(w, "  policy: %s\n", v)
		}
		for _, issue := range res.Issues {
			fmt.Fprintf(w, "  issue: %s\n", issue)
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}

	s := report.Summary
	fmt.Fprintf(w, "\n%d resources: %d in sync, %d created, %d updated, %d planned, %d failed, %d skipped\n",
		s.Resources, s.InSync, s.Created, s.Updated, s.Planned, s.Failed, s.Skipped)
	fmt.Fprintf(w, "%d actions: %d applied, %d failed, %d skipped, %d denied\n",
		s.Actions, s.ActionsApplied, s.ActionsFailed, s.ActionsSkipped, s.ActionsDenied)
}

// printIssues lists the problems found while loading a document.
func printIssues(w io.Writer, loaded *config.LoadedDocument) {
	if len(loaded.Issues) == 0 {
		fmt.Fprintf(w, "%s: ok (%d blocks)\n", loaded.Source, len(loaded.Document.Configurations))
		return
	}
	for _, issue := range loaded.Issues {
		fmt.Fprintf(w, "%s: %s\n", issue.Severity, issue.Error())
	}
}
