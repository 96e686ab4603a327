// Package engine converges a Windows machine running IIS to a declarative document.
//
// # Overview
//
// A Document holds configuration blocks. Each block names the machines it targets
// and the state those machines must be in: time zone, optional features,
// directories with their ACLs and SMB shares, application pools, websites with
// bindings and nested web applications, hosts-file entries and event-log sources.
//
// A run on one machine goes through these steps:
//
//  1. Select - SelectBlocks keeps the blocks that list the machine identity
//  2. Fetch - the System collaborator reads the live state of each resource
//  3. Plan - the Converger diffs desired against observed state into Actions
//  4. Check - an optional PolicyEvaluator approves or denies each plan
//  5. Apply - the Executor performs the actions through the System
//  6. Report - the Report is returned and handed to a RunRecorder
//
// Resources are processed one at a time in a fixed stage order: time zone and
// features, directories then their shares, application pools, websites then their
// web applications, hosts entries, event sources.
//
// # Planning
//
// Plan functions are pure. They read an observed snapshot, or nil when the resource
// is absent, and return a ResourcePlan. When a resource is created, the rest of
// the plan is computed against the state the create leaves behind, so a single
// run converges a new resource.
//
// Advanced settings are routed by the PathResolver. Keys without "/" are flat
// attributes, possibly dotted. Keys with "/" are split at the last "." into a
// schema-path filter and an attribute name. A small relocation table moves
// site-level keys such as preloadEnabled under their defaults element.
//
// Bindings are reconciled exhaustively with Reconcile. Permissions are not:
// missing grants are added, and only accounts listed for removal are revoked.
//
// # Error Classification
//
// Errors are classified to decide how far a failure reaches:
//
//   - Input: a malformed item is skipped and its siblings continue
//   - NotFound: a missing resource takes the create path
//   - Apply: a rejected write fails that action only
//   - Fatal: a failed create or fetch stops the resource and its nested resources
//
// A run fails as a whole only when the document is missing or the machine
// identity is unknown. Everything else lands in the Report, whose ExitCode is
// 0 for succeeded and noop, 2 for partial and 1 otherwise.
//
// # Example Usage
//
//	orch := engine.NewOrchestrator(system,
//	    engine.WithDryRun(dryRun),
//	    engine.WithRecorder(engine.NewLedger(store, path)),
//	)
//	report, err := orch.Converge(ctx, doc, machineID)
//	if err != nil {
//	    return err
//	}
//	os.Exit(report.ExitCode())
package engine
