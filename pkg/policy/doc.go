// Package policy provides Open Policy Agent (OPA) integration for winconverge.
//
// Every resource plan is evaluated before its actions run. Policies see the
// planned resource and its actions and can deny the whole resource or attach
// warnings to the convergence report.
//
// # Usage
//
// Creating a policy engine and handing it to the orchestrator:
//
//	logger := zerolog.New(os.Stdout)
//	policies, err := policy.NewEngine(logger, policy.WithMode(policy.ModeEnforcing))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := policies.LoadPolicies(ctx, []string{`C:\ProgramData\winconverge\policies`}); err != nil {
//	    log.Fatal(err)
//	}
//
//	orch := engine.NewOrchestrator(system, engine.WithPolicy(policies))
//
// # Built-in Policies
//
//  1. protect-admin-access - denies revoking access for Administrators or SYSTEM
//  2. no-everyone-full-control - denies granting FullControl or Full to Everyone
//  3. https-binding-removal - warns when a site loses an https binding
//  4. schema-path-scope - warns on schema-path writes outside the IIS sections
//
// The protected accounts and allowed schema roots are read from
// data.winconverge and can be replaced with WithProtectedAccounts and
// WithSchemaRoots.
//
// # Custom Policies
//
// Custom policies are Rego v1 modules. A .rego file is named after the file;
// a file named after a built-in replaces it. The package may define deny and
// warn sets whose members are strings or objects with a message and an
// optional severity:
//
//	package winconverge.custom.default_pool
//
//	deny contains msg if {
//	    input.resource.kind == "apppool"
//	    lower(input.resource.name) == "defaultapppool"
//	    not input.resource.exists
//	    msg := "DefaultAppPool must not be created"
//	}
//
// # Modes
//
// In enforcing mode an error finding blocks the resource. Advisory mode
// reports findings without blocking, and disabled mode skips evaluation.
// An evaluation error always blocks.
//
// # Hot Reload
//
// Engine.Watch reloads policy files when they change. A reload that fails to
// compile keeps the previous policy set.
package policy
