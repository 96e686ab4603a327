package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/winconverge/winconverge/pkg/stores"
)

// Ledger writes run reports to the run history store.
// The history is never read back for convergence decisions.
type Ledger struct {
	store        stores.Store
	documentPath string
}

// NewLedger creates a ledger recording runs of the document at documentPath.
func NewLedger(store stores.Store, documentPath string) *Ledger {
	return &Ledger{store: store, documentPath: documentPath}
}

// RecordRun stores the run, every action result and one event per resource problem
// in a single transaction.
func (l *Ledger) RecordRun(ctx context.Context, report *Report) error {
	run, err := l.runRow(report)
	if err != nil {
		return err
	}

	var results []*stores.ActionResult
	var events []*stores.Event
	seq := 0
	for _, res := range report.Resources {
		for _, ar := range res.Actions {
			row, err := actionRow(report.RunID, seq, res.Resource, ar)
			if err != nil {
				return err
			}
			results = append(results, row)
			seq++
		}
		events = append(events, resourceEvents(report, res)...)
	}

	if err := l.store.SaveRun(ctx, run, results, events); err != nil {
		return fmt.Errorf("failed to record run %s: %w", report.RunID, err)
	}
	return nil
}

func (l *Ledger) runRow(report *Report) (*stores.Run, error) {
	metadata, err := json.Marshal(map[string]any{
		"blocks_matched": report.BlocksMatched,
		"summary":        report.Summary,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run metadata: %w", err)
	}

	now := time.Now().UTC()
	run := &stores.Run{
		ID:            report.RunID,
		MachineID:     report.MachineID,
		DocumentPath:  l.documentPath,
		Status:        stores.RunStatus(report.Status),
		DryRun:        report.DryRun,
		Resources:     report.Summary.Resources,
		Actions:       report.Summary.Actions,
		ActionsFailed: report.Summary.ActionsFailed + report.Summary.ActionsSkipped + report.Summary.ActionsDenied,
		StartedAt:     report.StartedAt.UTC(),
		Metadata:      string(metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !report.CompletedAt.IsZero() {
		completed := report.CompletedAt.UTC()
		run.CompletedAt = &completed
	}
	if report.Error != "" {
		msg := report.Error
		run.Error = &msg
	}
	return run, nil
}

func actionRow(runID string, seq int, ref ResourceRef, ar ActionResult) (*stores.ActionResult, error) {
	detail, err := json.Marshal(ar.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action: %w", err)
	}

	row := &stores.ActionResult{
		RunID:        runID,
		Seq:          seq,
		ResourceKind: string(ref.Kind),
		ResourceName: ref.Name,
		Action:       string(ar.Action.Kind),
		Description:  ar.Action.Description(),
		Status:       stores.ActionStatus(ar.Status),
		Detail:       string(detail),
		DurationMS:   ar.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if ar.Error != "" {
		msg := ar.Error
		row.Error = &msg
	}
	return row, nil
}

func resourceEvents(report *Report, res ResourceResult) []*stores.Event {
	var events []*stores.Event
	add := func(level stores.EventLevel, msg string) {
		runID := report.RunID
		resource := res.Resource.String()
		events = append(events, &stores.Event{
			RunID:     &runID,
			Resource:  &resource,
			Level:     level,
			Message:   msg,
			Timestamp: report.CompletedAt.UTC(),
		})
	}

	for _, issue := range res.Issues {
		add(stores.EventLevelWarning, issue)
	}
	for _, w := range res.Warnings {
		add(stores.EventLevelWarning, w)
	}
	for _, v := range res.Violations {
		add(stores.EventLevelWarning, v)
	}
	if res.Error != "" {
		add(stores.EventLevelError, res.Error)
	}
	return events
}
