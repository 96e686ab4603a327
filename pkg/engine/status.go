package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every planned action succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some items failed; warnings were logged and the run continued.
	RunStatusPartial RunStatus = "partial"

	// RunStatusNoop indicates no configuration block targets this machine.
	RunStatusNoop RunStatus = "noop"

	// RunStatusFailed indicates a document-level failure.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial,
		RunStatusNoop, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// ResourceKind identifies the type of a managed resource.
type ResourceKind string

const (
	KindTimeZone    ResourceKind = "timezone"
	KindFeature     ResourceKind = "feature"
	KindDirectory   ResourceKind = "directory"
	KindShare       ResourceKind = "share"
	KindAppPool     ResourceKind = "apppool"
	KindWebsite     ResourceKind = "website"
	KindWebApp      ResourceKind = "webapp"
	KindHostEntry   ResourceKind = "host"
	KindEventSource ResourceKind = "eventlog"
)

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case KindTimeZone, KindFeature, KindDirectory, KindShare, KindAppPool,
		KindWebsite, KindWebApp, KindHostEntry, KindEventSource:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// ActionKind represents the type of write an action performs.
type ActionKind string

const (
	// ActionCreate creates an absent resource with all of its initial attributes.
	ActionCreate ActionKind = "create"

	// ActionUpdateAttribute writes one flat attribute on the resource object.
	ActionUpdateAttribute ActionKind = "update_attribute"

	// ActionWriteSchemaPath writes one attribute at a configuration schema path.
	ActionWriteSchemaPath ActionKind = "write_schema_path"

	// ActionClearCollection empties a collection before it is re-populated.
	ActionClearCollection ActionKind = "clear_collection"

	// ActionAppendCollectionItem appends one element to a collection.
	ActionAppendCollectionItem ActionKind = "append_collection_item"

	ActionAddBinding       ActionKind = "add_binding"
	ActionRemoveBinding    ActionKind = "remove_binding"
	ActionGrantPermission  ActionKind = "grant_permission"
	ActionRevokePermission ActionKind = "revoke_permission"

	// ActionSetFeature enables or disables a Windows feature.
	ActionSetFeature ActionKind = "set_feature"

	ActionSetTimeZone       ActionKind = "set_time_zone"
	ActionSetHostEntry      ActionKind = "set_host_entry"
	ActionRemoveEventSource ActionKind = "remove_event_source"
)

// IsCreate reports whether the action creates its resource.
func (k ActionKind) IsCreate() bool {
	return k == ActionCreate
}

// Validate checks if the action kind is valid.
func (k ActionKind) Validate() error {
	switch k {
	case ActionCreate, ActionUpdateAttribute, ActionWriteSchemaPath,
		ActionClearCollection, ActionAppendCollectionItem,
		ActionAddBinding, ActionRemoveBinding,
		ActionGrantPermission, ActionRevokePermission,
		ActionSetFeature, ActionSetTimeZone, ActionSetHostEntry, ActionRemoveEventSource:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %s", k)
	}
}

// ActionStatus represents the outcome of a single action.
type ActionStatus string

const (
	// ActionStatusApplied indicates the system accepted the write.
	ActionStatusApplied ActionStatus = "applied"

	// ActionStatusPlanned indicates the action was computed but not executed (dry run).
	ActionStatusPlanned ActionStatus = "planned"

	// ActionStatusFailed indicates the system rejected the write.
	ActionStatusFailed ActionStatus = "failed"

	// ActionStatusSkipped indicates the action was not attempted because its resource failed.
	ActionStatusSkipped ActionStatus = "skipped"

	// ActionStatusDenied indicates a policy blocked the action.
	ActionStatusDenied ActionStatus = "denied"
)

// IsFailure reports whether the status counts against the run.
func (s ActionStatus) IsFailure() bool {
	return s == ActionStatusFailed || s == ActionStatusSkipped || s == ActionStatusDenied
}

// ResourceOutcome summarises what happened to one resource.
type ResourceOutcome string

const (
	OutcomeInSync  ResourceOutcome = "in_sync"
	OutcomeCreated ResourceOutcome = "created"
	OutcomeUpdated ResourceOutcome = "updated"
	OutcomePlanned ResourceOutcome = "planned"
	OutcomePartial ResourceOutcome = "partial"
	OutcomeFailed  ResourceOutcome = "failed"
	OutcomeSkipped ResourceOutcome = "skipped"
)

// IsFailure reports whether the outcome counts against the run.
func (o ResourceOutcome) IsFailure() bool {
	return o == OutcomePartial || o == OutcomeFailed || o == OutcomeSkipped
}
