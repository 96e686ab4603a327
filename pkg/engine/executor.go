package engine

import (
	"context"
	"errors"
	"fmt"
)

// Executor applies actions through a System.
type Executor struct {
	system System
}

// NewExecutor creates an executor for system.
func NewExecutor(system System) *Executor {
	return &Executor{system: system}
}

// Apply performs one action. Errors are classified: a failed create is fatal for
// its resource, anything else the system rejects is an apply error.
func (e *Executor) Apply(ctx context.Context, action Action) error {
	if err := action.Kind.Validate(); err != nil {
		return NewInputError("cannot apply action", err).WithResource(action.Resource.String())
	}

	err := e.dispatch(ctx, action)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ee *EngineError
	if errors.As(err, &ee) {
		if ee.Resource == "" {
			ee.WithResource(action.Resource.String())
		}
		if ee.Operation == "" {
			ee.WithOperation(string(action.Kind))
		}
		return ee
	}

	if action.Kind.IsCreate() {
		return NewFatalError("failed to create resource", err).
			WithCode(ErrCodeCreateFailed).
			WithResource(action.Resource.String()).
			WithOperation(string(action.Kind))
	}
	return NewApplyError(action.Description(), err).
		WithResource(action.Resource.String()).
		WithOperation(string(action.Kind))
}

func (e *Executor) dispatch(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionCreate:
		if a.Create == nil {
			return missingField(a, "create spec")
		}
		return e.system.CreateResource(ctx, a.Resource, *a.Create)
	case ActionRemoveEventSource:
		return e.system.RemoveEventSource(ctx, a.Target)
	case ActionUpdateAttribute:
		if a.Property == nil || a.Value == nil {
			return missingField(a, "property value")
		}
		return e.system.WriteAttribute(ctx, a.Resource, a.Property.Name, *a.Value)
	case ActionWriteSchemaPath:
		if a.Property == nil || a.Value == nil {
			return missingField(a, "property value")
		}
		return e.system.WriteSchemaPath(ctx, a.Resource, a.Property.Filter, a.Property.Name, *a.Value)
	case ActionClearCollection:
		if a.Property == nil {
			return missingField(a, "property")
		}
		return e.system.ClearCollection(ctx, a.Resource, *a.Property)
	case ActionAppendCollectionItem:
		if a.Property == nil || a.Value == nil {
			return missingField(a, "collection item")
		}
		return e.system.AppendCollectionItem(ctx, a.Resource, *a.Property, *a.Value)
	case ActionAddBinding, ActionRemoveBinding:
		if a.Binding == nil {
			return missingField(a, "binding")
		}
		if a.Kind == ActionAddBinding {
			return e.system.AddBinding(ctx, a.Resource, *a.Binding)
		}
		return e.system.RemoveBinding(ctx, a.Resource, *a.Binding)
	case ActionGrantPermission, ActionRevokePermission:
		if a.Permission == nil {
			return missingField(a, "permission")
		}
		if a.Kind == ActionGrantPermission {
			return e.system.GrantPermission(ctx, a.Resource, *a.Permission)
		}
		return e.system.RevokePermission(ctx, a.Resource, *a.Permission)
	case ActionSetFeature:
		return e.system.SetFeature(ctx, a.Target, a.Enabled)
	case ActionSetTimeZone:
		return e.system.SetTimeZone(ctx, a.Target)
	case ActionSetHostEntry:
		return e.system.SetHostEntry(ctx, a.Target, a.Address)
	default:
		return fmt.Errorf("unsupported action kind: %s", a.Kind)
	}
}

func missingField(a Action, field string) error {
	return NewInputError(fmt.Sprintf("%s action has no %s", a.Kind, field), nil)
}
