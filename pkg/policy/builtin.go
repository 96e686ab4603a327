package policy

// Built-in policy names.
const (
	PolicyProtectAdminAccess    = "protect-admin-access"
	PolicyNoEveryoneFullControl = "no-everyone-full-control"
	PolicyHTTPSBindingRemoval   = "https-binding-removal"
	PolicySchemaPathScope       = "schema-path-scope"
)

// Keys under data.winconverge that built-in policies read.
const (
	dataRoot                  = "winconverge"
	protectedAccountsDataKey  = "protected_accounts"
	allowedSchemaRootsDataKey = "allowed_schema_roots"
)

// DefaultProtectedAccounts are the accounts whose access is never revoked.
var DefaultProtectedAccounts = []string{"Administrators", "SYSTEM"}

// DefaultSchemaRoots are the configuration sections schema paths may write.
var DefaultSchemaRoots = []string{"system.webServer", "system.applicationHost"}

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	policies := []Policy{
		protectAdminAccessPolicy(),
		noEveryoneFullControlPolicy(),
		httpsBindingRemovalPolicy(),
		schemaPathScopePolicy(),
	}
	for i := range policies {
		policies[i].Enabled = true
		policies[i].Builtin = true
	}
	return policies
}

// protectAdminAccessPolicy stops a run from locking administrators out.
func protectAdminAccessPolicy() Policy {
	return Policy{
		Name:        PolicyProtectAdminAccess,
		Description: "Denies revoking access for Administrators or SYSTEM",
		Severity:    SeverityError,
		Tags:        []string{"permissions", "safety"},
		Rego: `package winconverge.policies.protect_admin_access

protected(account) if {
	some name in data.winconverge.protected_accounts
	lower(account) == lower(name)
}

protected(account) if {
	some name in data.winconverge.protected_accounts
	endswith(lower(account), concat("", ["\\", lower(name)]))
}

deny contains msg if {
	some action in input.actions
	action.kind == "revoke_permission"
	protected(action.permission.account)
	msg := sprintf("%s: refusing to revoke %s access for protected account %s", [input.resource.id, action.permission.access, action.permission.account])
}
`,
	}
}

// noEveryoneFullControlPolicy denies opening a directory or share to everyone.
func noEveryoneFullControlPolicy() Policy {
	return Policy{
		Name:        PolicyNoEveryoneFullControl,
		Description: "Denies granting FullControl or Full access to Everyone",
		Severity:    SeverityError,
		Tags:        []string{"permissions", "security"},
		Rego: `package winconverge.policies.no_everyone_full_control

full_rights := {"fullcontrol", "full"}

everyone(account) if lower(account) == "everyone"

everyone(account) if endswith(lower(account), "\\everyone")

deny contains msg if {
	some action in input.actions
	action.kind == "grant_permission"
	everyone(action.permission.account)
	lower(action.permission.access) in full_rights
	lower(object.get(action.permission, "type", "allow")) != "deny"
	msg := sprintf("%s: granting %s to %s is not allowed", [input.resource.id, action.permission.access, action.permission.account])
}
`,
	}
}

// httpsBindingRemovalPolicy flags a site losing an https binding.
func httpsBindingRemovalPolicy() Policy {
	return Policy{
		Name:        PolicyHTTPSBindingRemoval,
		Description: "Warns when an https binding is removed from a website",
		Severity:    SeverityWarning,
		Tags:        []string{"iis", "tls"},
		Rego: `package winconverge.policies.https_binding_removal

warn contains msg if {
	some action in input.actions
	action.kind == "remove_binding"
	lower(action.binding.Protocol) == "https"
	msg := sprintf("%s: %s", [input.resource.id, action.description])
}
`,
	}
}

// schemaPathScopePolicy flags schema paths outside the IIS sections.
func schemaPathScopePolicy() Policy {
	return Policy{
		Name:        PolicySchemaPathScope,
		Description: "Warns on schema-path writes outside system.webServer and system.applicationHost",
		Severity:    SeverityWarning,
		Tags:        []string{"iis", "configuration"},
		Rego: `package winconverge.policies.schema_path_scope

writes := {"write_schema_path", "clear_collection", "append_collection_item"}

allowed_roots := {lower(r) | some r in data.winconverge.allowed_schema_roots}

root(filter) := r if {
	r := lower(split(trim_left(filter, "/"), "/")[0])
}

warn contains msg if {
	some action in input.actions
	action.kind in writes
	action.property.kind == "schema_path"
	not root(action.property.filter) in allowed_roots
	msg := sprintf("%s: schema path %s is outside the IIS configuration sections", [input.resource.id, action.property.filter])
}
`,
	}
}
