package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/winconverge/winconverge/pkg/engine"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func revokePlan(account string) *engine.ResourcePlan {
	ref := engine.DirectoryRef(`C:\sites\shop`)
	return &engine.ResourcePlan{
		Resource: ref,
		Exists:   true,
		Actions: []engine.Action{{
			Kind:       engine.ActionRevokePermission,
			Resource:   ref,
			Permission: &engine.PermissionEntry{Account: account, Access: "FullControl", Type: "Allow"},
		}},
	}
}

func grantPlan(ref engine.ResourceRef, account, access, typ string) *engine.ResourcePlan {
	return &engine.ResourcePlan{
		Resource: ref,
		Exists:   true,
		Actions: []engine.Action{{
			Kind:       engine.ActionGrantPermission,
			Resource:   ref,
			Permission: &engine.PermissionEntry{Account: account, Access: access, Type: typ},
		}},
	}
}

func schemaPlan(filter string) *engine.ResourcePlan {
	ref := engine.WebsiteRef("Shop")
	value := engine.String("Ssl")
	return &engine.ResourcePlan{
		Resource: ref,
		Exists:   true,
		Actions: []engine.Action{{
			Kind:     engine.ActionWriteSchemaPath,
			Resource: ref,
			Property: &engine.PropertyRef{Kind: engine.PropertySchemaPath, Filter: filter, Name: "sslFlags"},
			Value:    &value,
		}},
	}
}

func bindingPlan(protocol string, port uint16) *engine.ResourcePlan {
	ref := engine.WebsiteRef("Shop")
	return &engine.ResourcePlan{
		Resource: ref,
		Exists:   true,
		Actions: []engine.Action{{
			Kind:     engine.ActionRemoveBinding,
			Resource: ref,
			Binding:  &engine.BindingSpec{Protocol: protocol, Port: port},
		}},
	}
}

func findingsOf(decision *engine.PolicyDecision, policy string) []engine.PolicyFinding {
	var out []engine.PolicyFinding
	for _, f := range decision.Findings {
		if f.Policy == policy {
			out = append(out, f)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		PolicyHTTPSBindingRemoval,
		PolicyNoEveryoneFullControl,
		PolicyProtectAdminAccess,
		PolicySchemaPathScope,
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policy %d = %s, want %s", i, p.Name, expected[i])
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s should be an enabled built-in", p.Name)
		}
	}

	if eng.Mode() != ModeEnforcing {
		t.Errorf("default mode = %s, want enforcing", eng.Mode())
	}

	var _ engine.PolicyEvaluator = eng
}

func TestEvaluatePlan_ProtectAdminAccess(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		account       string
		expectAllowed bool
	}{
		{`BUILTIN\Administrators`, false},
		{"Administrators", false},
		{`NT AUTHORITY\SYSTEM`, false},
		{"system", false},
		{`CORP\alice`, true},
		{`CORP\SystemAdmins`, true},
	}

	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			decision, err := eng.EvaluatePlan(context.Background(), revokePlan(tt.account))
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v: %+v", tt.expectAllowed, decision.Allowed, decision.Findings)
			}
			findings := findingsOf(decision, PolicyProtectAdminAccess)
			if tt.expectAllowed {
				if len(findings) != 0 {
					t.Errorf("unexpected findings: %+v", findings)
				}
				return
			}
			if len(findings) != 1 || findings[0].Severity != engine.PolicySeverityError {
				t.Fatalf("expected one error finding, got %+v", findings)
			}
			if !strings.Contains(findings[0].Message, `directory:C:\sites\shop`) {
				t.Errorf("finding should name the resource: %s", findings[0].Message)
			}
		})
	}
}

func TestEvaluatePlan_NoEveryoneFullControl(t *testing.T) {
	eng := newTestEngine(t)

	dir := engine.DirectoryRef(`C:\data`)
	share := engine.ShareRef(`C:\data`, "data")

	tests := []struct {
		name          string
		plan          *engine.ResourcePlan
		expectAllowed bool
	}{
		{"directory full control", grantPlan(dir, "Everyone", "FullControl", "Allow"), false},
		{"share full", grantPlan(share, "Everyone", "Full", "Allow"), false},
		{"qualified everyone", grantPlan(dir, `\Everyone`, "FullControl", "Allow"), false},
		{"everyone read", grantPlan(dir, "Everyone", "Read", "Allow"), true},
		{"deny rule", grantPlan(dir, "Everyone", "FullControl", "Deny"), true},
		{"named account", grantPlan(dir, `CORP\ops`, "FullControl", "Allow"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.EvaluatePlan(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v: %+v", tt.expectAllowed, decision.Allowed, decision.Findings)
			}
			if got := len(findingsOf(decision, PolicyNoEveryoneFullControl)); (got > 0) == tt.expectAllowed {
				t.Errorf("unexpected finding count %d", got)
			}
		})
	}
}

func TestEvaluatePlan_Warnings(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name         string
		plan         *engine.ResourcePlan
		policy       string
		wantFindings int
	}{
		{"https removal", bindingPlan("HTTPS", 443), PolicyHTTPSBindingRemoval, 1},
		{"http removal", bindingPlan("http", 8080), PolicyHTTPSBindingRemoval, 0},
		{"webServer section", schemaPlan("system.webServer/security/access"), PolicySchemaPathScope, 0},
		{"applicationHost section", schemaPlan("/system.applicationHost/sites/site/limits"), PolicySchemaPathScope, 0},
		{"system.web section", schemaPlan("system.web/sessionState"), PolicySchemaPathScope, 1},
		{"appSettings section", schemaPlan("appSettings"), PolicySchemaPathScope, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.EvaluatePlan(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if !decision.Allowed {
				t.Errorf("warnings must not block: %+v", decision.Findings)
			}
			findings := findingsOf(decision, tt.policy)
			if len(findings) != tt.wantFindings {
				t.Fatalf("expected %d findings, got %+v", tt.wantFindings, findings)
			}
			for _, f := range findings {
				if f.Severity != engine.PolicySeverityWarning {
					t.Errorf("severity = %s, want warning", f.Severity)
				}
			}
		})
	}
}

func TestEvaluatePlan_Modes(t *testing.T) {
	ctx := context.Background()

	advisory := newTestEngine(t, WithMode(ModeAdvisory))
	decision, err := advisory.EvaluatePlan(ctx, revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("advisory mode must not block")
	}
	if len(findingsOf(decision, PolicyProtectAdminAccess)) != 1 {
		t.Errorf("advisory mode should still report findings: %+v", decision.Findings)
	}

	disabled := newTestEngine(t, WithMode(ModeDisabled))
	decision, err = disabled.EvaluatePlan(ctx, revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed || len(decision.Findings) != 0 {
		t.Errorf("disabled mode should not evaluate: %+v", decision)
	}
}

func TestEvaluatePlan_ProtectedAccountsOption(t *testing.T) {
	eng := newTestEngine(t, WithProtectedAccounts("svc-backup"))

	decision, err := eng.EvaluatePlan(context.Background(), revokePlan(`CORP\svc-backup`))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Error("revoking a configured protected account should be denied")
	}

	decision, err = eng.EvaluatePlan(context.Background(), revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("Administrators is not protected once the list is replaced")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.DisablePolicy(PolicyProtectAdminAccess); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	decision, err := eng.EvaluatePlan(ctx, revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("disabled policy should not deny")
	}

	if err := eng.EnablePolicy(PolicyProtectAdminAccess); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	decision, err = eng.EvaluatePlan(ctx, revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Error("re-enabled policy should deny")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
}

const defaultPoolRego = `# Sites must not run in DefaultAppPool.
package winconverge.custom.default_pool

deny contains msg if {
	input.resource.kind == "apppool"
	lower(input.resource.name) == "defaultapppool"
	not input.resource.exists
	msg := "DefaultAppPool must not be created"
}

deny contains {"message": sprintf("%s: pipeline mode changes need review", [input.resource.id]), "severity": "warning"} if {
	some action in input.actions
	action.kind == "update_attribute"
	action.property.name == "managedPipelineMode"
}
`

func TestLoadPolicies_Custom(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default-pool.rego"), []byte(defaultPoolRego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	p, err := eng.GetPolicy("default-pool")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if p.Description != "Sites must not run in DefaultAppPool." {
		t.Errorf("Description = %q", p.Description)
	}

	ref := engine.AppPoolRef("DefaultAppPool")
	create := &engine.ResourcePlan{
		Resource: ref,
		Actions:  []engine.Action{{Kind: engine.ActionCreate, Resource: ref}},
	}
	decision, err := eng.EvaluatePlan(ctx, create)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Error("custom deny should block")
	}

	value := engine.String("Classic")
	shop := engine.AppPoolRef("Shop")
	update := &engine.ResourcePlan{
		Resource: shop,
		Exists:   true,
		Actions: []engine.Action{{
			Kind:     engine.ActionUpdateAttribute,
			Resource: shop,
			Property: &engine.PropertyRef{Kind: engine.PropertyFlat, Name: "managedPipelineMode"},
			Value:    &value,
		}},
	}
	decision, err = eng.EvaluatePlan(ctx, update)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("a deny member with warning severity must not block")
	}
	findings := findingsOf(decision, "default-pool")
	if len(findings) != 1 || findings[0].Severity != engine.PolicySeverityWarning {
		t.Errorf("unexpected findings: %+v", findings)
	}
}

func TestLoadPolicies_ReplacesBuiltin(t *testing.T) {
	dir := t.TempDir()
	permissive := "package winconverge.custom.permissive\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"
	path := filepath.Join(dir, PolicyProtectAdminAccess+".rego")
	if err := os.WriteFile(path, []byte(permissive), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	decision, err := eng.EvaluatePlan(context.Background(), revokePlan("Administrators"))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("a file named after a built-in should replace it")
	}
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny contains msg if {"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Fatal("expected a compile error")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "no-creates",
		Rego:     "package winconverge.custom.no_creates\n\ndeny contains \"no creates\" if {\n\tnot input.resource.exists\n}\n",
		Severity: SeverityError,
		Enabled:  true,
	}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Fatalf("expected built-ins plus one, got %d", len(eng.ListPolicies()))
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains", Enabled: true}
	if err := eng.ReplacePolicies(ctx, []Policy{broken}); err == nil {
		t.Fatal("expected a compile error")
	}
	if _, err := eng.GetPolicy("no-creates"); err != nil {
		t.Error("a failed replace should keep the previous policies")
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}
	if _, err := eng.GetPolicy("no-creates"); err == nil {
		t.Error("replacing with nothing should drop custom policies")
	}
}

func TestEvaluate_ErrorsAreReturned(t *testing.T) {
	eng := newTestEngine(t)
	conflicting := Policy{
		Name:    "conflict",
		Rego:    "package winconverge.custom.conflict\n\nlimit := count(input.actions)\n\nlimit := 99 if input.resource.kind == \"directory\"\n",
		Enabled: true,
	}
	if err := eng.ReplacePolicies(context.Background(), []Policy{conflicting}); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}

	if _, err := eng.EvaluatePlan(context.Background(), revokePlan(`CORP\alice`)); err == nil {
		t.Fatal("expected an evaluation error for conflicting rule values")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeEnforcing, false},
		{"Enforcing", ModeEnforcing, false},
		{"advisory", ModeAdvisory, false},
		{" disabled ", ModeDisabled, false},
		{"strict", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
