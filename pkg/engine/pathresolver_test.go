package engine

import (
	"testing"
)

func TestResolveFor(t *testing.T) {
	tests := []struct {
		name    string
		kind    ResourceKind
		key     string
		want    PropertyRef
		wantErr bool
	}{
		{
			name: "flat attribute is lower-cased at the first letter",
			kind: KindAppPool,
			key:  "QueueLength",
			want: PropertyRef{Kind: PropertyFlat, Name: "queueLength"},
		},
		{
			name: "dotted flat attribute",
			kind: KindAppPool,
			key:  "ProcessModel.IdleTimeout",
			want: PropertyRef{Kind: PropertyFlat, Name: "processModel.IdleTimeout"},
		},
		{
			name: "schema path splits at the last dot",
			kind: KindWebsite,
			key:  "system.webServer/security/authentication/anonymousAuthentication.enabled",
			want: PropertyRef{
				Kind:   PropertySchemaPath,
				Filter: "system.webServer/security/authentication/anonymousAuthentication",
				Name:   "enabled",
			},
		},
		{
			name: "site preloadEnabled is relocated",
			kind: KindWebsite,
			key:  "PreloadEnabled",
			want: PropertyRef{Kind: PropertyFlat, Name: "applicationDefaults.preloadEnabled"},
		},
		{
			name: "site physicalPathCredential is relocated",
			kind: KindWebsite,
			key:  "physicalPathCredentialLogonType",
			want: PropertyRef{Kind: PropertyFlat, Name: "virtualDirectoryDefaults.physicalPathCredentialLogonType"},
		},
		{
			name: "web application physicalPathCredential is relocated",
			kind: KindWebApp,
			key:  "PhysicalPathCredential",
			want: PropertyRef{Kind: PropertyFlat, Name: "virtualDirectoryDefaults.physicalPathCredential"},
		},
		{
			name: "web application preloadEnabled stays native",
			kind: KindWebApp,
			key:  "preloadEnabled",
			want: PropertyRef{Kind: PropertyFlat, Name: "preloadEnabled"},
		},
		{
			name: "whitespace is trimmed",
			kind: KindAppPool,
			key:  "  autoStart ",
			want: PropertyRef{Kind: PropertyFlat, Name: "autoStart"},
		},
		{
			name:    "schema path without attribute",
			kind:    KindWebsite,
			key:     "system.webServer/security/access",
			wantErr: true,
		},
		{
			name:    "schema path ending in a dot",
			kind:    KindWebsite,
			key:     "system.webServer/security/access.",
			wantErr: true,
		},
		{
			name:    "empty key",
			kind:    KindAppPool,
			key:     "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultResolver.ResolveFor(tt.kind, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				if !IsInput(err) {
					t.Errorf("expected an input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveFor(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestResolveAppliesEveryRule(t *testing.T) {
	got, err := DefaultResolver.Resolve("preloadEnabled")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != "applicationDefaults.preloadEnabled" {
		t.Errorf("expected the unscoped resolve to relocate, got %s", got.Name)
	}
}

func TestCustomRelocationRules(t *testing.T) {
	r := NewPathResolver([]RelocationRule{{Prefix: "limits", Target: "system.applicationHost/sites/site/"}})
	got, err := r.ResolveFor(KindWebsite, "Limits.maxBandwidth")
	if err != nil {
		t.Fatalf("ResolveFor: %v", err)
	}
	want := PropertyRef{Kind: PropertySchemaPath, Filter: "system.applicationHost/sites/site/limits", Name: "maxBandwidth"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	rules := r.Rules()
	rules[0].Prefix = "changed"
	if r.Rules()[0].Prefix != "limits" {
		t.Error("Rules must return a copy")
	}
}

func TestResolveSettingsSkipsInvalidKeys(t *testing.T) {
	settings := map[string]Value{
		"startMode":                        String("AlwaysRunning"),
		"system.webServer/defaultDocument": Bool(true),
		"AutoStart":                        Bool(true),
	}

	resolved, issues := DefaultResolver.ResolveSettings(KindAppPool, settings)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved settings, got %d", len(resolved))
	}
	if resolved[0].Key != "AutoStart" || resolved[1].Key != "startMode" {
		t.Errorf("expected sorted key order, got %s, %s", resolved[0].Key, resolved[1].Key)
	}
}

func TestPropertyRefsExcludesCollections(t *testing.T) {
	settings := map[string]Value{
		"recycling.periodicRestart.schedule": CollectionOf(String("03:00:00")),
		"startMode":                          String("AlwaysRunning"),
	}
	refs := DefaultResolver.PropertyRefs(KindAppPool, settings)
	if len(refs) != 1 || refs[0].Name != "startMode" {
		t.Errorf("expected only startMode, got %v", refs)
	}
}

func TestSettingActions(t *testing.T) {
	ref := AppPoolRef("Pool")
	queue := PropertyRef{Kind: PropertyFlat, Name: "queueLength"}
	ssl := PropertyRef{Kind: PropertySchemaPath, Filter: "system.webServer/security/access", Name: "sslFlags"}
	schedule := PropertyRef{Kind: PropertyFlat, Name: "recycling.periodicRestart.schedule"}

	settings := []ResolvedSetting{
		{Key: "queueLength", Property: queue, Value: Number(2000)},
		{Key: "ssl", Property: ssl, Value: String("Ssl")},
		{Key: "schedule", Property: schedule, Value: CollectionOf(String("03:00:00"), String("15:00:00"))},
	}

	t.Run("unknown observed values are written", func(t *testing.T) {
		actions := settingActions(ref, settings, nil)
		kinds := actionKinds(actions)
		want := []ActionKind{
			ActionUpdateAttribute,
			ActionWriteSchemaPath,
			ActionClearCollection,
			ActionAppendCollectionItem,
			ActionAppendCollectionItem,
		}
		if !equalKinds(kinds, want) {
			t.Fatalf("got %v, want %v", kinds, want)
		}
		if actions[0].Previous != nil {
			t.Error("expected no previous value for an unknown observed value")
		}
	})

	t.Run("equal scalars are skipped, collections are always rewritten", func(t *testing.T) {
		observed := map[PropertyRef]Value{
			queue: String("2000"),
			ssl:   String("None"),
		}
		actions := settingActions(ref, settings, observed)
		kinds := actionKinds(actions)
		want := []ActionKind{
			ActionWriteSchemaPath,
			ActionClearCollection,
			ActionAppendCollectionItem,
			ActionAppendCollectionItem,
		}
		if !equalKinds(kinds, want) {
			t.Fatalf("got %v, want %v", kinds, want)
		}
		if actions[0].Previous == nil || actions[0].Previous.String() != "None" {
			t.Errorf("expected previous value None, got %v", actions[0].Previous)
		}
	})

	t.Run("record is appended as one item", func(t *testing.T) {
		record := RecordOf(map[string]Value{"value": String("03:00:00")})
		actions := settingActions(ref, []ResolvedSetting{{Key: "s", Property: schedule, Value: record}}, nil)
		if len(actions) != 2 || actions[1].Kind != ActionAppendCollectionItem {
			t.Fatalf("expected clear and one append, got %v", actionKinds(actions))
		}
		if !actions[1].Value.Equal(record) {
			t.Errorf("expected the record itself to be appended, got %s", actions[1].Value)
		}
	})
}

func actionKinds(actions []Action) []ActionKind {
	kinds := make([]ActionKind, len(actions))
	for i, a := range actions {
		kinds[i] = a.Kind
	}
	return kinds
}

func equalKinds(a, b []ActionKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
