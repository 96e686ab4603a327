package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/winconverge/winconverge/pkg/engine"
	"github.com/winconverge/winconverge/pkg/system/memory"
)

func TestExecutorApply(t *testing.T) {
	sys := memory.New()
	exec := engine.NewExecutor(sys)
	ctx := context.Background()
	site := engine.WebsiteRef("Shop")
	binding := engine.BindingSpec{Protocol: "http", Port: 80}
	pool := engine.String("ShopPool")

	actions := []engine.Action{
		{Kind: engine.ActionCreate, Resource: site, Create: &engine.CreateSpec{Path: `C:\sites\shop`, Binding: &binding}},
		{Kind: engine.ActionUpdateAttribute, Resource: site, Property: &engine.PropertyRef{Kind: engine.PropertyFlat, Name: "applicationPool"}, Value: &pool},
		{Kind: engine.ActionAddBinding, Resource: site, Binding: &engine.BindingSpec{Protocol: "https", Port: 443}},
	}
	for _, a := range actions {
		if err := exec.Apply(ctx, a); err != nil {
			t.Fatalf("Apply(%s): %v", a.Kind, err)
		}
	}

	observed, err := sys.FetchSite(ctx, "Shop", nil)
	if err != nil {
		t.Fatalf("FetchSite: %v", err)
	}
	if observed.AppPool != "ShopPool" || len(observed.Bindings) != 2 {
		t.Errorf("unexpected site state: %+v", observed)
	}

	want := []string{"CreateResource website:Shop", "WriteAttribute website:Shop", "AddBinding website:Shop"}
	calls := sys.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestExecutorClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	site := engine.WebsiteRef("Shop")
	binding := engine.BindingSpec{Protocol: "http", Port: 80}
	value := engine.String("x")
	create := engine.Action{Kind: engine.ActionCreate, Resource: site, Create: &engine.CreateSpec{Path: `C:\x`, Binding: &binding}}
	update := engine.Action{
		Kind:     engine.ActionUpdateAttribute,
		Resource: site,
		Property: &engine.PropertyRef{Kind: engine.PropertyFlat, Name: "serverAutoStart"},
		Value:    &value,
	}

	t.Run("failed create is fatal", func(t *testing.T) {
		sys := memory.New()
		sys.FailOn("CreateResource", "website:Shop", errors.New("access denied"))
		err := engine.NewExecutor(sys).Apply(ctx, create)
		if !engine.IsFatal(err) {
			t.Fatalf("expected a fatal error, got %v", err)
		}
		var ee *engine.EngineError
		if !errors.As(err, &ee) || ee.Code != engine.ErrCodeCreateFailed || ee.Operation != "create" {
			t.Errorf("expected CREATE_FAILED on the create operation, got %+v", ee)
		}
	})

	t.Run("failed update is an apply error", func(t *testing.T) {
		sys := memory.New()
		sys.FailOn("WriteAttribute", "", errors.New("locked"))
		err := engine.NewExecutor(sys).Apply(ctx, update)
		if !engine.IsApply(err) {
			t.Fatalf("expected an apply error, got %v", err)
		}
	})

	t.Run("classified errors keep their class", func(t *testing.T) {
		sys := memory.New()
		err := engine.NewExecutor(sys).Apply(ctx, update)
		if !engine.IsNotFound(err) {
			t.Fatalf("expected NotFound for a missing site, got %v", err)
		}
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Operation != string(engine.ActionUpdateAttribute) {
			t.Errorf("expected the operation to be filled in, got %q", ee.Operation)
		}
	})

	t.Run("malformed actions are input errors", func(t *testing.T) {
		exec := engine.NewExecutor(memory.New())
		if err := exec.Apply(ctx, engine.Action{Kind: "reboot", Resource: site}); !engine.IsInput(err) {
			t.Errorf("expected an input error for an unknown kind, got %v", err)
		}
		if err := exec.Apply(ctx, engine.Action{Kind: engine.ActionAddBinding, Resource: site}); !engine.IsInput(err) {
			t.Errorf("expected an input error for a missing binding, got %v", err)
		}
	})

	t.Run("cancellation is passed through", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := engine.NewExecutor(memory.New()).Apply(cctx, create)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if engine.IsFatal(err) {
			t.Error("expected cancellation to stay unclassified")
		}
	})
}
