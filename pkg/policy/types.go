package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/winconverge/winconverge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but never block.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block the resource in enforcing mode.
	SeverityError Severity = "error"
)

// Mode controls what error findings do.
type Mode string

const (
	// ModeEnforcing blocks a resource's actions on any error finding.
	ModeEnforcing Mode = "enforcing"

	// ModeAdvisory reports findings and never blocks.
	ModeAdvisory Mode = "advisory"

	// ModeDisabled skips evaluation.
	ModeDisabled Mode = "disabled"
)

// ParseMode converts a mode name, accepting any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeEnforcing, ModeAdvisory, ModeDisabled:
		return m, nil
	case "":
		return ModeEnforcing, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q (want enforcing, advisory or disabled)", s)
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The package may define deny and
	// warn rule sets; each member is a message string or an object with
	// "message" and optionally "severity".
	Rego string `json:"rego"`

	// Severity applies to deny results that carry none.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies that ship with winconverge.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is a single policy result for a resource.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Finding converts the violation for the convergence report.
func (v Violation) Finding() engine.PolicyFinding {
	sev := engine.PolicySeverityWarning
	if v.Severity == SeverityError {
		sev = engine.PolicySeverityError
	}
	return engine.PolicyFinding{Policy: v.Policy, Message: v.Message, Severity: sev}
}

// PolicyInput is the document policies see as input.
type PolicyInput struct {
	Resource ResourceInput `json:"resource"`
	Actions  []ActionInput `json:"actions"`

	// Warnings are the planner's own warnings for the resource.
	Warnings []string `json:"warnings,omitempty"`
}

// ResourceInput describes the planned resource.
type ResourceInput struct {
	// ID is the resource's display form, e.g. "website:Shop".
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`

	// Exists is false when the plan creates the resource.
	Exists bool `json:"exists"`
}

// ActionInput is a planned action with its human-readable description.
type ActionInput struct {
	engine.Action
	Description string `json:"description"`
}

// NewPolicyInput builds the policy input for a resource plan.
func NewPolicyInput(plan *engine.ResourcePlan) *PolicyInput {
	input := &PolicyInput{
		Resource: ResourceInput{
			ID:     plan.Resource.String(),
			Kind:   string(plan.Resource.Kind),
			Name:   plan.Resource.Name,
			Parent: plan.Resource.Parent,
			Exists: plan.Exists,
		},
		Actions:  make([]ActionInput, 0, len(plan.Actions)),
		Warnings: plan.Warnings,
	}
	for _, action := range plan.Actions {
		input.Actions = append(input.Actions, ActionInput{Action: action, Description: action.Description()})
	}
	return input
}
