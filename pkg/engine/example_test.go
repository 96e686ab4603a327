package engine_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/winconverge/winconverge/pkg/engine"
	"github.com/winconverge/winconverge/pkg/system/memory"
)

// Example_converge converges an empty machine twice. The second run has nothing to do.
func Example_converge() {
	doc := &engine.Document{Configurations: []engine.ConfigurationBlock{{
		TargetMachineNames: []string{"WEB01"},
		AppPools:           []engine.AppPoolSpec{{Name: "ShopPool", ManagedRuntimeVersion: "v4.0"}},
		Websites: []engine.WebsiteSpec{{
			SiteName:    "Shop",
			ContentPath: `C:\sites\shop`,
			AppPool:     "ShopPool",
			Bindings:    []engine.BindingSpec{{Protocol: "http", Port: 80}},
		}},
	}}}

	orch := engine.NewOrchestrator(memory.New(), engine.WithLogger(zerolog.Nop()))
	for i := 0; i < 2; i++ {
		report, err := orch.Converge(context.Background(), doc, "WEB01")
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("%s created=%d in_sync=%d\n", report.Status, report.Summary.Created, report.Summary.InSync)
	}
	// Output:
	// succeeded created=2 in_sync=0
	// succeeded created=0 in_sync=2
}

// ExamplePlanWebsite shows the actions planned for a site that is missing a binding.
func ExamplePlanWebsite() {
	desired := engine.WebsiteSpec{
		SiteName: "Shop",
		Bindings: []engine.BindingSpec{
			{Protocol: "http", Port: 80},
			{Protocol: "https", Port: 443},
		},
		AdvancedSettings: map[string]engine.Value{"preloadEnabled": engine.Bool(true)},
	}
	observed := &engine.ObservedSite{
		Name:     "Shop",
		Bindings: []engine.BindingSpec{{Protocol: "http", Port: 80}, {Protocol: "http", Port: 8080}},
	}

	for _, a := range engine.PlanWebsite(desired, observed).Actions {
		fmt.Println(a.Description())
	}
	// Output:
	// add binding https *:443: to website:Shop
	// remove binding http *:8080: from website:Shop
	// set applicationDefaults.preloadEnabled on website:Shop to true
}
