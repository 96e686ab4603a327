package windows

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"unicode/utf16"

	"github.com/winconverge/winconverge/pkg/engine"
)

func TestPSLiteral(t *testing.T) {
	tests := []struct {
		name  string
		value engine.Value
		want  string
	}{
		{"string", engine.String("O'Brien"), "'O''Brien'"},
		{"empty", engine.Value{}, "''"},
		{"true", engine.Bool(true), "$true"},
		{"false", engine.Bool(false), "$false"},
		{"integer", engine.Number(300), "300"},
		{"fraction", engine.Number(0.5), "0.5"},
		{"collection", engine.CollectionOf(engine.String("a"), engine.Number(1)), "@('a', 1)"},
		{"record", engine.RecordOf(map[string]engine.Value{
			"value": engine.String("03:00:00"),
			"name":  engine.String("nightly"),
		}), "@{'name'='nightly'; 'value'='03:00:00'}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := psLiteral(tt.value); got != tt.want {
				t.Errorf("psLiteral() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIISPathAndLocation(t *testing.T) {
	tests := []struct {
		ref      engine.ResourceRef
		path     string
		location string
	}{
		{engine.AppPoolRef("ShopPool"), `IIS:\AppPools\ShopPool`, ""},
		{engine.WebsiteRef("Shop"), `IIS:\Sites\Shop`, "Shop"},
		{engine.WebAppRef("Shop", "/api/"), `IIS:\Sites\Shop\api`, "Shop/api"},
		{engine.WebAppRef("Shop", "api/v2"), `IIS:\Sites\Shop\api\v2`, "Shop/api/v2"},
	}

	for _, tt := range tests {
		t.Run(tt.ref.String(), func(t *testing.T) {
			path, err := iisPath(tt.ref)
			if err != nil {
				t.Fatalf("iisPath() error = %v", err)
			}
			if path != tt.path {
				t.Errorf("iisPath() = %s, want %s", path, tt.path)
			}
			if got := location(tt.ref); got != tt.location {
				t.Errorf("location() = %s, want %s", got, tt.location)
			}
		})
	}

	if _, err := iisPath(engine.DirectoryRef(`C:\data`)); err == nil {
		t.Error("directories have no IIS path")
	}
}

func TestParseBindingInformation(t *testing.T) {
	tests := []struct {
		info    string
		want    engine.BindingSpec
		wantErr bool
	}{
		{"*:80:", engine.BindingSpec{Protocol: "http", Port: 80}, false},
		{"*:8080:shop.local", engine.BindingSpec{Protocol: "http", Port: 8080, HostHeader: "shop.local"}, false},
		{"[::1]:443:", engine.BindingSpec{Protocol: "http", Port: 443}, false},
		{"*", engine.BindingSpec{}, true},
		{"80:", engine.BindingSpec{}, true},
		{"*:http:", engine.BindingSpec{}, true},
		{"*:70000:", engine.BindingSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.info, func(t *testing.T) {
			got, err := parseBindingInformation("http", tt.info)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBindingInformation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseBindingInformation() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeRights(t *testing.T) {
	tests := map[string]string{
		"FullControl":                    "FullControl",
		"ReadAndExecute, Synchronize":    "ReadAndExecute",
		"Modify, Synchronize":            "Modify",
		"Synchronize":                    "Synchronize",
		"Read, Write, Synchronize":       "Read, Write",
		" ReadAndExecute , Synchronize ": "ReadAndExecute",
	}

	for in, want := range tests {
		if got := normalizeRights(in); got != want {
			t.Errorf("normalizeRights(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeProperties(t *testing.T) {
	flat := engine.PropertyRef{Kind: engine.PropertyFlat, Name: "queueLength"}
	schema := engine.PropertyRef{Kind: engine.PropertySchemaPath, Filter: "system.webServer/security/access", Name: "sslFlags"}
	missing := engine.PropertyRef{Kind: engine.PropertyFlat, Name: "autoStart"}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(`{"queueLength":1000,"system.webServer/security/access.sslFlags":null}`), &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	got, err := decodeProperties(raw, []engine.PropertyRef{flat, schema, missing})
	if err != nil {
		t.Fatalf("decodeProperties() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the non-null property, got %v", got)
	}
	if !got[flat].Equal(engine.Number(1000)) {
		t.Errorf("queueLength = %v", got[flat])
	}

	if got, err := decodeProperties(raw, nil); err != nil || got != nil {
		t.Errorf("no requested properties should decode to nil, got %v, %v", got, err)
	}
}

func TestEncodeCommand(t *testing.T) {
	script := "Write-Output 'héllo'\n"
	data, err := base64.StdEncoding.DecodeString(EncodeCommand(script))
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if len(data)%2 != 0 {
		t.Fatalf("odd length %d", len(data))
	}
	units := make([]uint16, len(data)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	if got := string(utf16.Decode(units)); got != script {
		t.Errorf("round trip = %q, want %q", got, script)
	}
}

func TestScriptError(t *testing.T) {
	err := &ScriptError{ExitCode: 1, Stderr: "  Access is denied.\r\n"}
	if err.Error() != "powershell exited with code 1: Access is denied." {
		t.Errorf("Error() = %q", err.Error())
	}
	bare := &ScriptError{ExitCode: 3}
	if bare.Error() != "powershell exited with code 3" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
