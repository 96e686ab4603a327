package config

import (
	"strings"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Custom: {
	field1: string
	field2: int
}
`
	if err := sr.RegisterDefinitions(customSchema, "Custom"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("Custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.RegisterDefinitions(customSchema, "Missing"); err == nil {
		t.Error("expected an error for a definition the source does not declare")
	}
	if err := sr.RegisterSchema("broken", "field: {"); err == nil {
		t.Error("expected an error for a schema that does not compile")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{SchemaDocument, SchemaBlock, "Directory", "AppPool", "Website", "Binding", "WebApp"} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}

	names := sr.ListSchemas()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("ListSchemas() not sorted: %v", names)
		}
	}
}

func TestSchemaRegistry_ValidateBlock(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name     string
		block    any
		wantPath string
	}{
		{
			name: "minimal block",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
			},
		},
		{
			name: "unknown fields are allowed",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
				"Comment":            "managed by ops",
			},
		},
		{
			name: "advanced settings take any value",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
				"AppPools": []any{map[string]any{
					"Name": "Shop",
					"AdvancedSettings": map[string]any{
						"processModel.idleTimeout": "00:20:00",
						"recycling.periodicRestart.schedule": []any{
							map[string]any{"value": "03:00:00"},
						},
					},
				}},
			},
		},
		{
			name:     "targets are required",
			block:    map[string]any{"TimeZone": "UTC"},
			wantPath: "Configurations[0].TargetMachineNames",
		},
		{
			name: "targets must not be empty",
			block: map[string]any{
				"TargetMachineNames": []any{},
			},
			wantPath: "Configurations[0].TargetMachineNames",
		},
		{
			name: "port must be a number",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
				"Websites": []any{map[string]any{
					"SiteName": "Shop",
					"Bindings": []any{map[string]any{"Protocol": "http", "Port": "eighty"}},
				}},
			},
			wantPath: "Configurations[0].Websites[0].Bindings[0].Port",
		},
		{
			name: "port out of range",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
				"Websites": []any{map[string]any{
					"SiteName": "Shop",
					"Bindings": []any{map[string]any{"Protocol": "http", "Port": int64(70000)}},
				}},
			},
			wantPath: "Configurations[0].Websites[0].Bindings[0].Port",
		},
		{
			name: "hosts map strings",
			block: map[string]any{
				"TargetMachineNames": []any{"WEB01"},
				"Hosts":              map[string]any{"db.local": int64(10)},
			},
			wantPath: "Configurations[0].Hosts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := sr.Validate(SchemaBlock, tt.block, "Configurations[0]")
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if tt.wantPath == "" {
				if len(issues) > 0 {
					t.Fatalf("unexpected issues: %v", issues)
				}
				return
			}
			if len(issues) == 0 {
				t.Fatalf("expected issues at %s, got none", tt.wantPath)
			}
			found := false
			for _, issue := range issues {
				if issue.Severity != SeverityError {
					t.Errorf("issue severity = %q, want error", issue.Severity)
				}
				if strings.HasPrefix(issue.Path, tt.wantPath) {
					found = true
				}
			}
			if !found {
				t.Errorf("no issue at %s in %v", tt.wantPath, issues)
			}
		})
	}
}

func TestSchemaRegistry_ValidateUnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if _, err := sr.Validate("nope", map[string]any{}, ""); err == nil {
		t.Fatal("expected an error for an unknown schema")
	}
}

func TestCUEPath(t *testing.T) {
	tests := []struct {
		prefix    string
		selectors []string
		want      string
	}{
		{"", nil, ""},
		{"Configurations[0]", nil, "Configurations[0]"},
		{"Configurations[0]", []string{"Websites", "1", "Bindings", "0", "Port"}, "Configurations[0].Websites[1].Bindings[0].Port"},
		{"", []string{"Hosts", "db.local"}, "Hosts.db.local"},
		{"Configurations[2]", []string{"0"}, "Configurations[2][0]"},
	}

	for _, tt := range tests {
		if got := joinPath(tt.prefix, cuePath(tt.selectors)); got != tt.want {
			t.Errorf("joinPath(%q, cuePath(%v)) = %q, want %q", tt.prefix, tt.selectors, got, tt.want)
		}
	}
}
