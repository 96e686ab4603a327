package config

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/winconverge/winconverge/pkg/engine"
)

const shopJSON = `{
	"Configurations": [
		{
			"TargetMachineNames": ["WEB01", "WEB02"],
			"TimeZone": "UTC",
			"EnabledFeatures": ["IIS-WebServer"],
			"Directories": [
				{
					"Path": "C:\\sites\\shop",
					"Attributes": {"Hidden": true},
					"Permissions": [{"AccountName": "IIS_IUSRS", "Access": "ReadAndExecute"}],
					"Shares": [{"Name": "shop$", "Permissions": [{"AccountName": "Everyone", "Access": "Read"}]}]
				}
			],
			"AppPools": [
				{"Name": "Shop", "ManagedPipelineMode": "Integrated", "AdvancedSettings": {"processModel.idleTimeout": "00:20:00", "queueLength": 2000}}
			],
			"Websites": [
				{
					"SiteName": "Shop",
					"ContentPath": "C:\\sites\\shop",
					"AppPool": "Shop",
					"Bindings": [{"Protocol": "https", "Port": 443, "HostHeader": "shop.example.com"}],
					"WebApps": [{"Name": "api", "ContentPath": "C:\\sites\\shop\\api"}]
				}
			],
			"Hosts": {"db.shop.local": "10.0.0.5"},
			"EventLogs": {"ShopService": {"LogName": "Application"}}
		}
	]
}`

const shopYAML = `
Configurations:
  - TargetMachineNames: [WEB01, WEB02]
    TimeZone: UTC
    EnabledFeatures: [IIS-WebServer]
    Directories:
      - Path: 'C:\sites\shop'
        Attributes: {Hidden: true}
        Permissions:
          - {AccountName: IIS_IUSRS, Access: ReadAndExecute}
        Shares:
          - Name: shop$
            Permissions:
              - {AccountName: Everyone, Access: Read}
    AppPools:
      - Name: Shop
        ManagedPipelineMode: Integrated
        AdvancedSettings:
          processModel.idleTimeout: "00:20:00"
          queueLength: 2000
    Websites:
      - SiteName: Shop
        ContentPath: 'C:\sites\shop'
        AppPool: Shop
        Bindings:
          - {Protocol: https, Port: 443, HostHeader: shop.example.com}
        WebApps:
          - {Name: api, ContentPath: 'C:\sites\shop\api'}
    Hosts:
      db.shop.local: 10.0.0.5
    EventLogs:
      ShopService: {LogName: Application}
`

const shopCUE = `
_site: "C:\\sites\\shop"

Configurations: [{
	TargetMachineNames: ["WEB01", "WEB02"]
	TimeZone:           "UTC"
	EnabledFeatures: ["IIS-WebServer"]
	Directories: [{
		Path: _site
		Attributes: Hidden: true
		Permissions: [{AccountName: "IIS_IUSRS", Access: "ReadAndExecute"}]
		Shares: [{Name: "shop$", Permissions: [{AccountName: "Everyone", Access: "Read"}]}]
	}]
	AppPools: [{
		Name:                "Shop"
		ManagedPipelineMode: "Integrated"
		AdvancedSettings: {
			"processModel.idleTimeout": "00:20:00"
			queueLength:                2000
		}
	}]
	Websites: [{
		SiteName:    "Shop"
		ContentPath: _site
		AppPool:     "Shop"
		Bindings: [{Protocol: "https", Port: 443, HostHeader: "shop.example.com"}]
		WebApps: [{Name: "api", ContentPath: _site + "\\api"}]
	}]
	Hosts: "db.shop.local": "10.0.0.5"
	EventLogs: ShopService: LogName: "Application"
}]
`

func checkShop(t *testing.T, doc *LoadedDocument) {
	t.Helper()

	if len(doc.Issues) > 0 {
		t.Fatalf("unexpected issues: %v", doc.Issues)
	}
	if len(doc.Document.Configurations) != 1 {
		t.Fatalf("expected 1 block, got %d", len(doc.Document.Configurations))
	}
	b := doc.Document.Configurations[0]

	if !b.TargetsMachine("WEB02") || b.TimeZone != "UTC" {
		t.Errorf("unexpected block header: %+v", b)
	}
	if len(b.Directories) != 1 || b.Directories[0].Path != `C:\sites\shop` {
		t.Fatalf("unexpected directories: %+v", b.Directories)
	}
	if b.Directories[0].Attributes == nil || !b.Directories[0].Attributes.Hidden {
		t.Errorf("expected hidden attribute, got %+v", b.Directories[0].Attributes)
	}
	if len(b.Directories[0].Shares) != 1 || len(b.Directories[0].Shares[0].Permissions) != 1 {
		t.Errorf("unexpected shares: %+v", b.Directories[0].Shares)
	}

	if len(b.AppPools) != 1 {
		t.Fatalf("expected 1 app pool, got %d", len(b.AppPools))
	}
	settings := b.AppPools[0].AdvancedSettings
	if !settings["queueLength"].Equal(engine.Number(2000)) {
		t.Errorf("queueLength = %v, want 2000", settings["queueLength"])
	}
	if !settings["processModel.idleTimeout"].Equal(engine.String("00:20:00")) {
		t.Errorf("idleTimeout = %v", settings["processModel.idleTimeout"])
	}

	if len(b.Websites) != 1 {
		t.Fatalf("expected 1 website, got %d", len(b.Websites))
	}
	site := b.Websites[0]
	if len(site.Bindings) != 1 || site.Bindings[0].Port != 443 || site.Bindings[0].HostHeader != "shop.example.com" {
		t.Errorf("unexpected bindings: %+v", site.Bindings)
	}
	if len(site.WebApps) != 1 || site.WebApps[0].ContentPath != `C:\sites\shop\api` {
		t.Errorf("unexpected web apps: %+v", site.WebApps)
	}

	if b.Hosts["db.shop.local"] != "10.0.0.5" {
		t.Errorf("unexpected hosts: %v", b.Hosts)
	}
	if b.EventLogs["ShopService"].Name() != "Application" {
		t.Errorf("unexpected event logs: %v", b.EventLogs)
	}
}

func TestLoader_Formats(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		format  string
	}{
		{"json", "shop.json", shopJSON, FormatJSON},
		{"yaml", "shop.yaml", shopYAML, FormatYAML},
		{"yml", "shop.yml", shopYAML, FormatYAML},
		{"cue", "shop.cue", shopCUE, FormatCUE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, tt.path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write document: %v", err)
			}

			doc, err := NewLoader(WithFs(fs)).Load(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if doc.Format != tt.format || doc.Source != tt.path {
				t.Errorf("format/source = %s/%s, want %s/%s", doc.Format, doc.Source, tt.format, tt.path)
			}
			checkShop(t, doc)
		})
	}
}

func TestLoader_BareArray(t *testing.T) {
	content := `[{"TargetMachineNames": ["WEB01"], "TimeZone": "UTC"}, {"TargetMachineNames": ["DB01"]}]`

	doc, err := NewLoader().Parse([]byte(content), FormatJSON, "inline.json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Document.Configurations) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(doc.Document.Configurations))
	}
	if doc.Document.Configurations[1].TargetMachineNames[0] != "DB01" {
		t.Errorf("blocks out of order: %+v", doc.Document.Configurations)
	}
}

func TestLoader_EmptyConfigurations(t *testing.T) {
	doc, err := NewLoader().Parse([]byte(`{"Configurations": []}`), FormatJSON, "empty.json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Document.Configurations) != 0 || len(doc.Issues) != 0 {
		t.Errorf("expected an empty document, got %+v", doc)
	}
}

func TestLoader_FatalDocuments(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
	}{
		{"malformed json", "bad.json", `{"Configurations": [`},
		{"trailing json", "bad.json", `{"Configurations": []} {}`},
		{"malformed yaml", "bad.yaml", "Configurations:\n  - TargetMachineNames: [WEB01\n"},
		{"malformed cue", "bad.cue", `Configurations: [{`},
		{"conflicting cue", "bad.cue", "x: 1\nx: 2\n"},
		{"empty yaml", "empty.yaml", ""},
		{"no configurations", "other.json", `{"Blocks": []}`},
		{"configurations not a list", "other.json", `{"Configurations": {"TargetMachineNames": ["WEB01"]}}`},
		{"scalar document", "scalar.json", `42`},
		{"unsupported extension", "shop.xml", `<Configurations/>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, tt.path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write document: %v", err)
			}

			_, err := NewLoader(WithFs(fs)).Load(context.Background(), tt.path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !engine.IsFatal(err) {
				t.Errorf("expected a fatal error, got %v", err)
			}
		})
	}
}

func TestLoader_MissingDocument(t *testing.T) {
	_, err := NewLoader(WithFs(afero.NewMemMapFs())).Load(context.Background(), "missing.json")
	if !engine.IsFatal(err) {
		t.Fatalf("expected a fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing.json") {
		t.Errorf("error should name the document: %v", err)
	}
}

func TestLoader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewLoader().Load(ctx, "shop.json"); err != context.Canceled {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoader_DropsInvalidItems(t *testing.T) {
	content := `{
		"Configurations": [
			{"TimeZone": "UTC"},
			{
				"TargetMachineNames": ["WEB01"],
				"EnabledFeatures": ["IIS-WebServer", " "],
				"Directories": [
					{"Attributes": {"Hidden": true}},
					{
						"Path": "C:\\data",
						"Permissions": [
							{"AccountName": "Users", "Access": "read"},
							{"AccountName": "Users", "Access": "Everything"},
							{"Access": "Read"}
						],
						"Shares": [{"Name": "data", "Permissions": [{"AccountName": "Everyone", "Access": "Owner"}]}]
					}
				],
				"AppPools": [
					{"Name": "Shop", "ManagedPipelineMode": "classic"},
					{"Name": "Legacy", "ManagedPipelineMode": "Hybrid"}
				],
				"Websites": [
					{
						"SiteName": "Shop",
						"Bindings": [
							{"Protocol": "http", "Port": 80},
							{"Protocol": "gopher", "Port": 70},
							{"Protocol": "https"}
						],
						"WebApps": [{"ContentPath": "C:\\x"}, {"Name": "api"}]
					},
					{"ContentPath": "C:\\orphan"}
				],
				"Hosts": {"db.local": "10.0.0.5", "cache.local": "not-an-ip", "bad host": "10.0.0.6"},
				"EventLogs": {"ShopService": {}}
			},
			{"TargetMachineNames": ["WEB01"], "Websites": [{"SiteName": "Api", "Bindings": [{"Protocol": "http", "Port": "eighty"}]}]}
		]
	}`

	doc, err := NewLoader().Parse([]byte(content), FormatJSON, "shop.json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(doc.Document.Configurations) != 1 {
		t.Fatalf("expected only the middle block to survive, got %d blocks", len(doc.Document.Configurations))
	}
	b := doc.Document.Configurations[0]

	if len(b.EnabledFeatures) != 1 {
		t.Errorf("EnabledFeatures = %v", b.EnabledFeatures)
	}
	if len(b.Directories) != 1 || b.Directories[0].Path != `C:\data` {
		t.Fatalf("Directories = %+v", b.Directories)
	}
	if perms := b.Directories[0].Permissions; len(perms) != 1 || perms[0].Access != "read" {
		t.Errorf("Permissions = %+v", perms)
	}
	if shares := b.Directories[0].Shares; len(shares) != 1 || len(shares[0].Permissions) != 0 {
		t.Errorf("Shares = %+v", shares)
	}
	if len(b.AppPools) != 1 || b.AppPools[0].Name != "Shop" {
		t.Errorf("AppPools = %+v", b.AppPools)
	}
	if len(b.Websites) != 1 {
		t.Fatalf("Websites = %+v", b.Websites)
	}
	if bindings := b.Websites[0].Bindings; len(bindings) != 1 || bindings[0].Port != 80 {
		t.Errorf("Bindings = %+v", bindings)
	}
	if apps := b.Websites[0].WebApps; len(apps) != 1 || apps[0].Name != "api" {
		t.Errorf("WebApps = %+v", apps)
	}
	if len(b.Hosts) != 1 || b.Hosts["db.local"] != "10.0.0.5" {
		t.Errorf("Hosts = %v", b.Hosts)
	}
	if _, ok := b.EventLogs["ShopService"]; !ok {
		t.Errorf("EventLogs = %v", b.EventLogs)
	}

	wantPaths := []string{
		"Configurations[0].TargetMachineNames",
		"Configurations[1].EnabledFeatures[1]",
		"Configurations[1].Directories[0].Path",
		"Configurations[1].Directories[1].Permissions[1].Access",
		"Configurations[1].Directories[1].Permissions[2].AccountName",
		"Configurations[1].Directories[1].Shares[0].Permissions[0].Access",
		"Configurations[1].AppPools[1].ManagedPipelineMode",
		"Configurations[1].Websites[0].Bindings[1]",
		"Configurations[1].Websites[0].Bindings[2].Port",
		"Configurations[1].Websites[0].WebApps[0].Name",
		"Configurations[1].Websites[1].SiteName",
		"Configurations[1].Hosts.bad host",
		"Configurations[1].Hosts.cache.local",
		"Configurations[2].Websites[0].Bindings[0].Port",
	}
	for _, want := range wantPaths {
		found := false
		for _, issue := range doc.Issues {
			if strings.HasPrefix(issue.Path, want) {
				found = true
				if issue.File != "shop.json" {
					t.Errorf("issue %s has file %q", issue.Path, issue.File)
				}
			}
		}
		if !found {
			t.Errorf("missing issue at %s", want)
		}
	}

	if !doc.HasErrors() {
		t.Error("HasErrors() = false")
	}
	errs := doc.InputErrors()
	if len(errs) != len(doc.Issues) {
		t.Fatalf("InputErrors() = %d, want %d", len(errs), len(doc.Issues))
	}
	for _, err := range errs {
		if !engine.IsInput(err) {
			t.Errorf("expected an input error, got %v", err)
		}
	}
}

func TestLoader_YAMLNullsAreAbsent(t *testing.T) {
	content := `
Configurations:
  - TargetMachineNames: [WEB01]
    Directories:
    Websites:
      - SiteName: Shop
        Bindings:
`
	doc, err := NewLoader().Parse([]byte(content), FormatYAML, "shop.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Issues) > 0 {
		t.Fatalf("unexpected issues: %v", doc.Issues)
	}
	b := doc.Document.Configurations[0]
	if len(b.Directories) != 0 || len(b.Websites) != 1 || len(b.Websites[0].Bindings) != 0 {
		t.Errorf("unexpected block: %+v", b)
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"site.json", FormatJSON, false},
		{"SITE.JSON", FormatJSON, false},
		{"site.yaml", FormatYAML, false},
		{"site.yml", FormatYAML, false},
		{`C:\config\site.cue`, FormatCUE, false},
		{"site.toml", "", true},
		{"site", "", true},
	}

	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatOf(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
