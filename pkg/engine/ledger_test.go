package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/winconverge/winconverge/pkg/engine"
	"github.com/winconverge/winconverge/pkg/stores"
)

func newHistory(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLedgerRecordsRuns(t *testing.T) {
	store := newHistory(t)
	ledger := engine.NewLedger(store, `C:\config\shop.json`)
	sys := newMachine(t)
	sys.FailOn("CreateResource", "website:Shop", errors.New("port in use"))

	report, err := newOrchestrator(sys, engine.WithRecorder(ledger)).Converge(context.Background(), shopDocument(), machine)
	if err != nil {
		t.Fatalf("Converge: %v", err)
	}

	ctx := context.Background()
	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != stores.RunStatusPartial || run.MachineID != machine || run.DocumentPath != `C:\config\shop.json` {
		t.Errorf("unexpected run row: %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("expected the completion time to be stored")
	}
	if run.Actions != report.Summary.Actions {
		t.Errorf("actions = %d, want %d", run.Actions, report.Summary.Actions)
	}
	if want := report.Summary.ActionsFailed + report.Summary.ActionsSkipped; run.ActionsFailed != want {
		t.Errorf("actions failed = %d, want %d", run.ActionsFailed, want)
	}

	results, err := store.ListActionResultsByRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListActionResultsByRun: %v", err)
	}
	if len(results) != report.Summary.Actions {
		t.Fatalf("expected %d action rows, got %d", report.Summary.Actions, len(results))
	}
	for i, r := range results {
		if r.Seq != i {
			t.Errorf("row %d has seq %d", i, r.Seq)
		}
	}
	var createFailed bool
	for _, r := range results {
		if r.ResourceKind == string(engine.KindWebsite) && r.Action == string(engine.ActionCreate) {
			createFailed = r.Status == stores.ActionStatusFailed && r.Error != nil
		}
	}
	if !createFailed {
		t.Error("expected the failed website create to be stored with its error")
	}

	errorLevel := stores.EventLevelError
	events, err := store.GetEvents(ctx, &report.RunID, &errorLevel, 100, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected error events for the site and the skipped web application, got %d", len(events))
	}
}

func TestLedgerRecordsFailedRuns(t *testing.T) {
	store := newHistory(t)
	ledger := engine.NewLedger(store, "missing.json")

	report, err := newOrchestrator(newMachine(t), engine.WithRecorder(ledger)).Converge(context.Background(), nil, machine)
	if err == nil {
		t.Fatal("expected an error for a missing document")
	}

	run, err := store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.Error == nil {
		t.Errorf("expected a failed run with its error, got %+v", run)
	}
}
