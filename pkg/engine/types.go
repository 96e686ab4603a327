package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document is a parsed desired-state document.
type Document struct {
	// Configurations are the configuration blocks in document order.
	Configurations []ConfigurationBlock `json:"Configurations" validate:"dive"`
}

// UnmarshalJSON accepts either {"Configurations": [...]} or a bare array of blocks.
func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var blocks []ConfigurationBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		d.Configurations = blocks
		return nil
	}

	type document Document
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return err
	}
	*d = Document(doc)
	return nil
}

// ConfigurationBlock is one targeted unit of desired state.
type ConfigurationBlock struct {
	// TargetMachineNames lists the machine identities this block applies to.
	TargetMachineNames []string `json:"TargetMachineNames" validate:"required,min=1,dive,required"`

	// TimeZone is the Windows time zone id, e.g. "UTC" or "W. Europe Standard Time".
	TimeZone string `json:"TimeZone,omitempty"`

	// EnabledFeatures lists Windows optional features that must be enabled.
	EnabledFeatures []string `json:"EnabledFeatures,omitempty" validate:"dive,required"`

	// DisabledFeatures lists Windows optional features that must be disabled.
	DisabledFeatures []string `json:"DisabledFeatures,omitempty" validate:"dive,required"`

	Directories []DirectorySpec `json:"Directories,omitempty"`
	AppPools    []AppPoolSpec   `json:"AppPools,omitempty"`
	Websites    []WebsiteSpec   `json:"Websites,omitempty"`

	// Hosts maps hostnames to IP addresses in the hosts file.
	Hosts map[string]string `json:"Hosts,omitempty"`

	// EventLogs maps event source names to their registration.
	EventLogs map[string]LogSpec `json:"EventLogs,omitempty"`
}

// TargetsMachine reports whether the block lists machineID.
func (b ConfigurationBlock) TargetsMachine(machineID string) bool {
	for _, name := range b.TargetMachineNames {
		if name == machineID {
			return true
		}
	}
	return false
}

// FileAttributes are the NTFS attribute flags managed on a directory.
type FileAttributes struct {
	ReadOnly bool `json:"ReadOnly"`
	Hidden   bool `json:"Hidden"`
	System   bool `json:"System"`
}

// DirectorySpec describes a directory with its ACL and shares.
type DirectorySpec struct {
	// Path is the absolute directory path.
	Path string `json:"Path" validate:"required"`

	// Attributes are applied when set.
	Attributes *FileAttributes `json:"Attributes,omitempty"`

	// Permissions are granted when missing. Extra grants on the directory are kept.
	Permissions []AclEntry `json:"Permissions,omitempty"`

	// RemovePermissions lists accounts whose explicit entries are revoked.
	RemovePermissions []string `json:"RemovePermissions,omitempty"`

	// Shares are SMB shares exposing this directory.
	Shares []ShareSpec `json:"Shares,omitempty"`
}

// AclEntry is a desired NTFS access rule.
type AclEntry struct {
	AccountName string `json:"AccountName" validate:"required"`
	Access      string `json:"Access" validate:"required,oneofci=FullControl Modify ReadAndExecute ListDirectory Read Write"`

	// Type is Allow or Deny. Empty means Allow.
	Type string `json:"Type,omitempty" validate:"omitempty,oneofci=Allow Deny"`

	// Inheritance defaults to "ContainerInherit, ObjectInherit".
	Inheritance string `json:"Inheritance,omitempty"`

	// Propagation defaults to "None".
	Propagation string `json:"Propagation,omitempty"`
}

// ShareSpec describes an SMB share over its parent directory.
type ShareSpec struct {
	Name              string           `json:"Name" validate:"required"`
	Description       string           `json:"Description,omitempty"`
	Permissions       []SharePermEntry `json:"Permissions,omitempty"`
	RemovePermissions []string         `json:"RemovePermissions,omitempty"`
}

// SharePermEntry is a desired share access grant.
type SharePermEntry struct {
	AccountName string `json:"AccountName" validate:"required"`

	// Access is Full, Change, Read or Custom. FullControl is accepted for Full.
	Access string `json:"Access" validate:"required,oneofci=Full FullControl Change Read Custom"`

	// Type is Allow or Deny. Empty means Allow.
	Type string `json:"Type,omitempty" validate:"omitempty,oneofci=Allow Deny"`
}

// AppPoolSpec describes an IIS application pool.
type AppPoolSpec struct {
	Name                  string           `json:"Name" validate:"required"`
	ManagedRuntimeVersion string           `json:"ManagedRuntimeVersion,omitempty"`
	ManagedPipelineMode   string           `json:"ManagedPipelineMode,omitempty" validate:"omitempty,oneofci=Integrated Classic"`
	AdvancedSettings      map[string]Value `json:"AdvancedSettings,omitempty"`
}

// WebsiteSpec describes an IIS website.
type WebsiteSpec struct {
	SiteName    string `json:"SiteName" validate:"required"`
	ContentPath string `json:"ContentPath,omitempty"`
	AppPool     string `json:"AppPool,omitempty"`

	// Bindings are reconciled exhaustively: bindings not listed are removed.
	Bindings         []BindingSpec    `json:"Bindings,omitempty" validate:"dive"`
	AdvancedSettings map[string]Value `json:"AdvancedSettings,omitempty"`
	WebApps          []WebAppSpec     `json:"WebApps,omitempty"`
}

// WebAppSpec describes a web application nested one level under a site.
type WebAppSpec struct {
	Name             string           `json:"Name" validate:"required"`
	ContentPath      string           `json:"ContentPath,omitempty"`
	AppPool          string           `json:"AppPool,omitempty"`
	AdvancedSettings map[string]Value `json:"AdvancedSettings,omitempty"`
}

// BindingSpec is a site binding.
type BindingSpec struct {
	Protocol   string `json:"Protocol" validate:"required"`
	Port       uint16 `json:"Port" validate:"required"`
	HostHeader string `json:"HostHeader,omitempty"`
}

// String renders the binding in IIS binding-information form.
func (b BindingSpec) String() string {
	return fmt.Sprintf("%s *:%d:%s", b.Protocol, b.Port, b.HostHeader)
}

// LogSpec is the registration of an event-log source.
type LogSpec struct {
	// LogName defaults to "Application".
	LogName string `json:"LogName,omitempty"`
}

// DefaultLogName is the event log a source is registered under when none is given.
const DefaultLogName = "Application"

// Name returns the log name with its default applied.
func (l LogSpec) Name() string {
	if l.LogName == "" {
		return DefaultLogName
	}
	return l.LogName
}

// ResourceRef identifies a managed resource.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`

	// Name is the resource address: a path for directories, "Site/App" for web applications.
	Name string `json:"name"`

	// Parent is the enclosing resource name for nested resources.
	Parent string `json:"parent,omitempty"`
}

// String returns the "kind:name" form used in logs and the ledger.
func (r ResourceRef) String() string {
	return string(r.Kind) + ":" + r.Name
}

// PermissionEntry is an access rule as the engine and the system exchange it.
// It serves both NTFS entries and share grants.
type PermissionEntry struct {
	Account     string `json:"account"`
	Access      string `json:"access"`
	Type        string `json:"type"`
	Inheritance string `json:"inheritance,omitempty"`
	Propagation string `json:"propagation,omitempty"`

	// Inherited marks entries that come from a parent container.
	Inherited bool `json:"inherited,omitempty"`
}

// CreateSpec carries the initial attributes of a resource being created.
type CreateSpec struct {
	// Path is the directory path, the share path or the physical path of a site or app.
	Path string `json:"path,omitempty"`

	Attributes            *FileAttributes `json:"attributes,omitempty"`
	Description           string          `json:"description,omitempty"`
	AppPool               string          `json:"app_pool,omitempty"`
	ManagedRuntimeVersion string          `json:"managed_runtime_version,omitempty"`
	ManagedPipelineMode   string          `json:"managed_pipeline_mode,omitempty"`

	// Binding is the first binding of a new website.
	Binding *BindingSpec `json:"binding,omitempty"`

	// LogName is the event log of a new event source.
	LogName string `json:"log_name,omitempty"`
}

// Action is a single write computed by a plan function.
type Action struct {
	Kind     ActionKind  `json:"kind"`
	Resource ResourceRef `json:"resource"`

	// Property addresses attribute, schema-path and collection writes.
	Property *PropertyRef `json:"property,omitempty"`

	// Value is the written value; for collection appends, the single element.
	Value *Value `json:"value,omitempty"`

	// Previous is the observed value being replaced, if known.
	Previous *Value `json:"previous,omitempty"`

	Create     *CreateSpec      `json:"create,omitempty"`
	Binding    *BindingSpec     `json:"binding,omitempty"`
	Permission *PermissionEntry `json:"permission,omitempty"`

	// Target names the feature, time zone, hostname or event source for machine-level actions.
	Target string `json:"target,omitempty"`

	// Enabled is the desired feature state for set_feature.
	Enabled bool `json:"enabled,omitempty"`

	// Address is the IP address for set_host_entry.
	Address string `json:"address,omitempty"`
}

// Description returns a one-line human readable summary.
func (a Action) Description() string {
	switch a.Kind {
	case ActionCreate:
		return fmt.Sprintf("create %s", a.Resource)
	case ActionUpdateAttribute, ActionWriteSchemaPath:
		return fmt.Sprintf("set %s on %s to %s", a.Property, a.Resource, a.Value)
	case ActionClearCollection:
		return fmt.Sprintf("clear %s on %s", a.Property, a.Resource)
	case ActionAppendCollectionItem:
		return fmt.Sprintf("append %s to %s on %s", a.Value, a.Property, a.Resource)
	case ActionAddBinding:
		return fmt.Sprintf("add binding %s to %s", a.Binding, a.Resource)
	case ActionRemoveBinding:
		return fmt.Sprintf("remove binding %s from %s", a.Binding, a.Resource)
	case ActionGrantPermission:
		return fmt.Sprintf("grant %s %s %s on %s", a.Permission.Type, a.Permission.Access, a.Permission.Account, a.Resource)
	case ActionRevokePermission:
		return fmt.Sprintf("revoke %s %s %s on %s", a.Permission.Type, a.Permission.Access, a.Permission.Account, a.Resource)
	case ActionSetFeature:
		if a.Enabled {
			return fmt.Sprintf("enable feature %s", a.Target)
		}
		return fmt.Sprintf("disable feature %s", a.Target)
	case ActionSetTimeZone:
		return fmt.Sprintf("set time zone to %s", a.Target)
	case ActionSetHostEntry:
		return fmt.Sprintf("map %s to %s", a.Target, a.Address)
	case ActionRemoveEventSource:
		return fmt.Sprintf("remove event source %s", a.Target)
	default:
		return string(a.Kind)
	}
}

// ResourcePlan is the outcome of planning one resource.
type ResourcePlan struct {
	Resource ResourceRef `json:"resource"`

	// Exists reports whether the resource was observed.
	Exists bool `json:"exists"`

	// Actions are ordered: create, scalar updates, set reconciliation, advanced settings.
	Actions []Action `json:"actions"`

	// Issues are input errors for items that were skipped.
	Issues []error `json:"-"`

	// Warnings are non-blocking notes such as conflicting grant and revoke entries.
	Warnings []string `json:"warnings,omitempty"`
}

// InSync reports whether the plan has no actions.
func (p *ResourcePlan) InSync() bool {
	return len(p.Actions) == 0
}

func (p *ResourcePlan) add(actions ...Action) {
	p.Actions = append(p.Actions, actions...)
}

func (p *ResourcePlan) issue(err error) {
	p.Issues = append(p.Issues, err)
}

func (p *ResourcePlan) warn(format string, args ...any) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}

// ActionResult records what happened to one action.
type ActionResult struct {
	Action   Action        `json:"action"`
	Status   ActionStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ResourceResult records what happened to one resource.
type ResourceResult struct {
	Resource ResourceRef     `json:"resource"`
	Block    int             `json:"block"`
	Outcome  ResourceOutcome `json:"outcome"`
	Actions  []ActionResult  `json:"actions,omitempty"`
	Issues   []string        `json:"issues,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`

	// Violations are policy findings for the planned actions.
	Violations []string `json:"violations,omitempty"`

	// Error is set when the resource could not be fetched, created or was denied.
	Error string `json:"error,omitempty"`
}

// ReportSummary holds the counters of a run.
type ReportSummary struct {
	Resources      int `json:"resources"`
	InSync         int `json:"in_sync"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Planned        int `json:"planned"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Actions        int `json:"actions"`
	ActionsApplied int `json:"actions_applied"`
	ActionsFailed  int `json:"actions_failed"`
	ActionsSkipped int `json:"actions_skipped"`
	ActionsDenied  int `json:"actions_denied"`
	InputErrors    int `json:"input_errors"`
}

// Report is the result of a convergence run.
type Report struct {
	RunID         string           `json:"run_id"`
	MachineID     string           `json:"machine_id"`
	DryRun        bool             `json:"dry_run"`
	Status        RunStatus        `json:"status"`
	BlocksMatched int              `json:"blocks_matched"`
	Resources     []ResourceResult `json:"resources"`
	Summary       ReportSummary    `json:"summary"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ExitCode maps the report status to the process exit status.
func (r *Report) ExitCode() int {
	switch r.Status {
	case RunStatusSucceeded, RunStatusNoop:
		return 0
	case RunStatusPartial:
		return 2
	default:
		return 1
	}
}
