package engine

import (
	"context"
)

// System is the collaborator that reads and writes live machine state.
// Fetch methods return a NotFound-classified error when the resource is absent.
type System interface {
	// FetchDirectory returns the attributes and explicit and inherited ACL entries of a directory.
	FetchDirectory(ctx context.Context, path string) (*ObservedDirectory, error)

	// FetchShare returns an SMB share and its access grants.
	FetchShare(ctx context.Context, name string) (*ObservedShare, error)

	// FetchAppPool returns an application pool and the values at props.
	FetchAppPool(ctx context.Context, name string, props []PropertyRef) (*ObservedAppPool, error)

	// FetchSite returns a website, its bindings and the values at props.
	FetchSite(ctx context.Context, name string, props []PropertyRef) (*ObservedSite, error)

	// FetchWebApp returns the web application app under site and the values at props.
	FetchWebApp(ctx context.Context, site, app string, props []PropertyRef) (*ObservedWebApp, error)

	// FetchFeatures returns the state of the named optional features.
	FetchFeatures(ctx context.Context, names []string) (ObservedFeatures, error)

	// FetchTimeZone returns the current time zone id.
	FetchTimeZone(ctx context.Context) (string, error)

	// FetchHosts returns the hosts-file entries.
	FetchHosts(ctx context.Context) (ObservedHosts, error)

	// FetchEventSource returns the registration of an event source.
	FetchEventSource(ctx context.Context, source string) (*ObservedEventSource, error)

	// CreateResource creates ref with its initial attributes.
	CreateResource(ctx context.Context, ref ResourceRef, spec CreateSpec) error

	// WriteAttribute sets a flat, possibly dotted, attribute on the resource object.
	WriteAttribute(ctx context.Context, ref ResourceRef, name string, value Value) error

	// WriteSchemaPath sets an attribute at a configuration-schema filter scoped to ref.
	WriteSchemaPath(ctx context.Context, ref ResourceRef, filter, name string, value Value) error

	// ClearCollection removes every element of the collection at prop.
	ClearCollection(ctx context.Context, ref ResourceRef, prop PropertyRef) error

	// AppendCollectionItem appends one element to the collection at prop.
	AppendCollectionItem(ctx context.Context, ref ResourceRef, prop PropertyRef, item Value) error

	AddBinding(ctx context.Context, site ResourceRef, binding BindingSpec) error
	RemoveBinding(ctx context.Context, site ResourceRef, binding BindingSpec) error

	// GrantPermission adds an access rule to a directory or share.
	GrantPermission(ctx context.Context, target ResourceRef, entry PermissionEntry) error

	// RevokePermission removes an access rule from a directory or share.
	RevokePermission(ctx context.Context, target ResourceRef, entry PermissionEntry) error

	SetFeature(ctx context.Context, name string, enabled bool) error
	SetTimeZone(ctx context.Context, id string) error
	SetHostEntry(ctx context.Context, host, address string) error
	RemoveEventSource(ctx context.Context, source string) error
}

// PolicySeverity is the severity of a policy finding.
type PolicySeverity string

const (
	// PolicySeverityError blocks the resource's actions in enforcing mode.
	PolicySeverityError PolicySeverity = "error"

	// PolicySeverityWarning is logged only.
	PolicySeverityWarning PolicySeverity = "warning"
)

// PolicyFinding is one policy result for a planned resource.
type PolicyFinding struct {
	Policy   string         `json:"policy"`
	Message  string         `json:"message"`
	Severity PolicySeverity `json:"severity"`
}

// String renders the finding for reports.
func (f PolicyFinding) String() string {
	return string(f.Severity) + ": " + f.Policy + ": " + f.Message
}

// PolicyDecision is the result of evaluating a plan.
type PolicyDecision struct {
	// Allowed is false when the planned actions must not run.
	Allowed bool `json:"allowed"`

	Findings []PolicyFinding `json:"findings,omitempty"`
}

// PolicyEvaluator checks a resource plan before its actions run.
type PolicyEvaluator interface {
	EvaluatePlan(ctx context.Context, plan *ResourcePlan) (*PolicyDecision, error)
}

// RunRecorder receives the report of a finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *Report) error
}
