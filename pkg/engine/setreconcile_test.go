package engine

import (
	"testing"
)

func TestReconcile(t *testing.T) {
	keyOf := func(s string) string { return s }

	tests := []struct {
		name       string
		desired    []string
		observed   []string
		wantAdd    []string
		wantRemove []string
	}{
		{name: "equal sets", desired: []string{"a", "b"}, observed: []string{"b", "a"}},
		{name: "empty observed", desired: []string{"a", "b"}, wantAdd: []string{"a", "b"}},
		{name: "empty desired", observed: []string{"a"}, wantRemove: []string{"a"}},
		{name: "both sides", desired: []string{"a", "c"}, observed: []string{"a", "b"}, wantAdd: []string{"c"}, wantRemove: []string{"b"}},
		{name: "duplicates collapse", desired: []string{"a", "a"}, observed: []string{"b", "b"}, wantAdd: []string{"a"}, wantRemove: []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := Reconcile(tt.desired, tt.observed, keyOf)
			if !equalStrings(diff.ToAdd, tt.wantAdd) {
				t.Errorf("ToAdd = %v, want %v", diff.ToAdd, tt.wantAdd)
			}
			if !equalStrings(diff.ToRemove, tt.wantRemove) {
				t.Errorf("ToRemove = %v, want %v", diff.ToRemove, tt.wantRemove)
			}
			if diff.Empty() != (len(tt.wantAdd) == 0 && len(tt.wantRemove) == 0) {
				t.Errorf("Empty() = %v", diff.Empty())
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	desired := []BindingSpec{{Protocol: "http", Port: 80}, {Protocol: "https", Port: 443, HostHeader: "shop"}}
	observed := []BindingSpec{{Protocol: "http", Port: 8080}}

	diff := Reconcile(desired, observed, BindingKeyOf)

	// Apply the diff and reconcile again.
	var applied []BindingSpec
	for _, o := range observed {
		removed := false
		for _, r := range diff.ToRemove {
			if BindingKeyOf(r) == BindingKeyOf(o) {
				removed = true
			}
		}
		if !removed {
			applied = append(applied, o)
		}
	}
	applied = append(applied, diff.ToAdd...)

	if again := Reconcile(desired, applied, BindingKeyOf); !again.Empty() {
		t.Errorf("expected an empty diff after applying, got %+v", again)
	}
}

func TestBindingKeyIgnoresCase(t *testing.T) {
	a := BindingSpec{Protocol: "HTTP", Port: 80, HostHeader: "Shop.Example.com"}
	b := BindingSpec{Protocol: "http", Port: 80, HostHeader: "shop.example.com"}
	if BindingKeyOf(a) != BindingKeyOf(b) {
		t.Error("expected bindings differing only in case to share a key")
	}
	if BindingKeyOf(a) == BindingKeyOf(BindingSpec{Protocol: "http", Port: 80}) {
		t.Error("expected an absent host header to be a distinct key")
	}
}

func TestValidateBinding(t *testing.T) {
	tests := []struct {
		binding BindingSpec
		valid   bool
	}{
		{BindingSpec{Protocol: "http", Port: 80}, true},
		{BindingSpec{Protocol: "HTTPS", Port: 443}, true},
		{BindingSpec{Protocol: "ftp", Port: 21}, true},
		{BindingSpec{Protocol: "net.tcp", Port: 808}, false},
		{BindingSpec{Protocol: "http", Port: 0}, false},
	}
	for _, tt := range tests {
		err := ValidateBinding(tt.binding)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateBinding(%s) = %v, want valid=%v", tt.binding, err, tt.valid)
		}
		if err != nil && !IsInput(err) {
			t.Errorf("expected an input error, got %v", err)
		}
	}
}

func TestAccountMatches(t *testing.T) {
	tests := []struct {
		observed, name string
		want           bool
	}{
		{`BUILTIN\Administrators`, "Administrators", true},
		{`builtin\administrators`, `BUILTIN\Administrators`, true},
		{"Everyone", "everyone", true},
		{`CONTOSO\svc-web`, "svc", false},
		{`CONTOSO\web`, `OTHER\web`, false},
		{`FABRIKAM\bob`, `CONTOSO\bob`, false},
		{"bob", `CONTOSO\bob`, false},
		{"Users", "", false},
	}
	for _, tt := range tests {
		if got := AccountMatches(tt.observed, tt.name); got != tt.want {
			t.Errorf("AccountMatches(%q, %q) = %v, want %v", tt.observed, tt.name, got, tt.want)
		}
	}
}

func TestPermissionKeys(t *testing.T) {
	observed := PermissionEntry{Account: `IIS_IUSRS`, Access: "ReadAndExecute, Synchronize", Type: "Allow"}
	desired := PermissionEntry{Account: "iis_iusrs", Access: "ReadAndExecute"}
	if PermissionKeyOf(observed) != PermissionKeyOf(desired) {
		t.Errorf("expected Synchronize and an empty type to normalise away: %+v vs %+v",
			PermissionKeyOf(observed), PermissionKeyOf(desired))
	}

	share := PermissionEntry{Account: "Everyone", Access: "FullControl", Type: "Allow"}
	if SharePermissionKeyOf(share).Access != "full" {
		t.Errorf("expected FullControl to normalise to full, got %s", SharePermissionKeyOf(share).Access)
	}
	if PermissionKeyOf(PermissionEntry{Account: "a", Access: "Read", Type: "Deny"}) ==
		PermissionKeyOf(PermissionEntry{Account: "a", Access: "Read", Type: "Allow"}) {
		t.Error("expected allow and deny rules to have distinct keys")
	}
}

func TestSelectRevocations(t *testing.T) {
	observed := []PermissionEntry{
		{Account: `CONTOSO\temp`, Access: "Modify", Type: "Allow"},
		{Account: `CONTOSO\temp`, Access: "Read", Type: "Allow", Inherited: true},
		{Account: `BUILTIN\Users`, Access: "Read", Type: "Allow"},
	}

	got := SelectRevocations(observed, []string{"temp"})
	if len(got) != 1 || got[0].Access != "Modify" {
		t.Errorf("expected only the explicit temp entry, got %v", got)
	}
	if got := SelectRevocations(observed, nil); len(got) != 0 {
		t.Errorf("expected nothing without a removal list, got %v", got)
	}
}

func TestSelectRevocationsKeepsOtherDomains(t *testing.T) {
	observed := []PermissionEntry{
		{Account: `FABRIKAM\bob`, Access: "Modify", Type: "Allow"},
		{Account: `CONTOSO\bob`, Access: "Read", Type: "Allow"},
	}

	got := SelectRevocations(observed, []string{`CONTOSO\bob`})
	if len(got) != 1 || got[0].Account != `CONTOSO\bob` {
		t.Errorf("expected only CONTOSO\\bob to be revoked, got %v", got)
	}
	if got := SelectRevocations(observed, []string{"bob"}); len(got) != 2 {
		t.Errorf("expected an unqualified name to match both domains, got %v", got)
	}
}

func TestReconcilePermissionsIsConservative(t *testing.T) {
	desired := []PermissionEntry{
		{Account: "Administrators", Access: "FullControl", Type: "Allow"},
		{Account: "IIS_IUSRS", Access: "Read", Type: "Allow"},
	}
	observed := []PermissionEntry{
		{Account: `BUILTIN\Administrators`, Access: "FullControl", Type: "Allow", Inherited: true},
		{Account: `CONTOSO\extra`, Access: "Modify", Type: "Allow"},
	}

	diff := reconcilePermissions(desired, observed, nil, PermissionKeyOf)
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Account != "IIS_IUSRS" {
		t.Errorf("expected only IIS_IUSRS to be granted, got %v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 0 {
		t.Errorf("expected unlisted entries to be kept, got %v", diff.ToRemove)
	}

	diff = reconcilePermissions(desired, observed, []string{"extra"}, PermissionKeyOf)
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].Account != `CONTOSO\extra` {
		t.Errorf("expected the listed account to be revoked, got %v", diff.ToRemove)
	}
}

func TestReconcilePermissionsAcrossDomains(t *testing.T) {
	tests := []struct {
		name     string
		desired  string
		observed string
		wantAdd  bool
	}{
		{"same qualified name", `CONTOSO\bob`, `contoso\BOB`, false},
		{"unqualified desired", "bob", `CONTOSO\bob`, false},
		{"unqualified observed", `BUILTIN\Users`, "Users", false},
		{"different domains", `CONTOSO\bob`, `FABRIKAM\bob`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desired := []PermissionEntry{{Account: tt.desired, Access: "Modify"}}
			observed := []PermissionEntry{{Account: tt.observed, Access: "Modify", Type: "Allow"}}
			diff := reconcilePermissions(desired, observed, nil, PermissionKeyOf)
			if got := len(diff.ToAdd) == 1; got != tt.wantAdd {
				t.Errorf("grant emitted = %v, want %v (diff %+v)", got, tt.wantAdd, diff)
			}
		})
	}
}

func TestConflictingAccounts(t *testing.T) {
	desired := []PermissionEntry{{Account: `CONTOSO\web`}, {Account: "Users"}}
	got := conflictingAccounts(desired, []string{"web", `CONTOSO\web`})
	if len(got) != 1 || got[0] != `CONTOSO\web` {
		t.Errorf("expected one conflict for CONTOSO\\web, got %v", got)
	}
}

func equalStrings(a, b []string) bool {
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
