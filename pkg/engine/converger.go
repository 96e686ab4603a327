package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	defaultInheritance = "ContainerInherit, ObjectInherit"
	defaultPropagation = "None"
)

// Converger computes per-resource plans from desired and observed state.
// Plan methods are pure: observed snapshots are read, never modified.
type Converger struct {
	resolver *PathResolver
}

// NewConverger creates a converger. A nil resolver uses DefaultResolver.
func NewConverger(resolver *PathResolver) *Converger {
	if resolver == nil {
		resolver = DefaultResolver
	}
	return &Converger{resolver: resolver}
}

// Resolver returns the path resolver used for advanced settings.
func (c *Converger) Resolver() *PathResolver {
	return c.resolver
}

var defaultConverger = NewConverger(nil)

// PlanDirectory plans a directory with DefaultResolver. Nested shares are planned separately.
func PlanDirectory(desired DirectorySpec, observed *ObservedDirectory) *ResourcePlan {
	return defaultConverger.PlanDirectory(desired, observed)
}

// PlanShare plans a share over dirPath with DefaultResolver.
func PlanShare(dirPath string, desired ShareSpec, observed *ObservedShare) *ResourcePlan {
	return defaultConverger.PlanShare(dirPath, desired, observed)
}

// PlanAppPool plans an application pool with DefaultResolver.
func PlanAppPool(desired AppPoolSpec, observed *ObservedAppPool) *ResourcePlan {
	return defaultConverger.PlanAppPool(desired, observed)
}

// PlanWebsite plans a website with DefaultResolver. Nested web applications are planned separately.
func PlanWebsite(desired WebsiteSpec, observed *ObservedSite) *ResourcePlan {
	return defaultConverger.PlanWebsite(desired, observed)
}

// PlanWebApp plans a web application under site with DefaultResolver.
func PlanWebApp(site string, desired WebAppSpec, observed *ObservedWebApp) *ResourcePlan {
	return defaultConverger.PlanWebApp(site, desired, observed)
}

// DirectoryRef returns the reference of a directory.
func DirectoryRef(path string) ResourceRef {
	return ResourceRef{Kind: KindDirectory, Name: path}
}

// ShareRef returns the reference of a share over dirPath.
func ShareRef(dirPath, name string) ResourceRef {
	return ResourceRef{Kind: KindShare, Name: name, Parent: dirPath}
}

// AppPoolRef returns the reference of an application pool.
func AppPoolRef(name string) ResourceRef {
	return ResourceRef{Kind: KindAppPool, Name: name}
}

// WebsiteRef returns the reference of a website.
func WebsiteRef(name string) ResourceRef {
	return ResourceRef{Kind: KindWebsite, Name: name}
}

// WebAppRef returns the reference of a web application, addressed as "Site/App".
func WebAppRef(site, app string) ResourceRef {
	return ResourceRef{Kind: KindWebApp, Name: site + "/" + strings.Trim(app, "/"), Parent: site}
}

// EventSourceRef returns the reference of an event source.
func EventSourceRef(source string) ResourceRef {
	return ResourceRef{Kind: KindEventSource, Name: source}
}

// PlanDirectory plans creation, attribute updates, grants and revocations.
func (c *Converger) PlanDirectory(desired DirectorySpec, observed *ObservedDirectory) *ResourcePlan {
	ref := DirectoryRef(desired.Path)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.TrimSpace(desired.Path) == "" {
		plan.issue(NewInputError("directory has no Path", nil).WithResource(ref.String()))
		return plan
	}

	current := observed
	if current == nil {
		plan.add(Action{
			Kind:     ActionCreate,
			Resource: ref,
			Create:   &CreateSpec{Path: desired.Path, Attributes: desired.Attributes},
		})
		created := &ObservedDirectory{Path: desired.Path}
		if desired.Attributes != nil {
			created.Attributes = *desired.Attributes
		}
		current = created
	}

	if a := desired.Attributes; a != nil {
		plan.add(boolUpdate(ref, "ReadOnly", a.ReadOnly, current.Attributes.ReadOnly)...)
		plan.add(boolUpdate(ref, "Hidden", a.Hidden, current.Attributes.Hidden)...)
		plan.add(boolUpdate(ref, "System", a.System, current.Attributes.System)...)
	}

	desiredEntries := make([]PermissionEntry, 0, len(desired.Permissions))
	for i, p := range desired.Permissions {
		entry, err := aclEntryToPermission(p)
		if err != nil {
			plan.issue(NewInputError(fmt.Sprintf("permission %d", i), err).WithResource(ref.String()))
			continue
		}
		desiredEntries = append(desiredEntries, entry)
	}
	plan.add(c.permissionActions(plan, ref, desiredEntries, current.Permissions, desired.RemovePermissions, PermissionKeyOf)...)
	return plan
}

// PlanShare plans a share. A new share is created over dirPath.
func (c *Converger) PlanShare(dirPath string, desired ShareSpec, observed *ObservedShare) *ResourcePlan {
	ref := ShareRef(dirPath, desired.Name)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.TrimSpace(desired.Name) == "" {
		plan.issue(NewInputError("share has no Name", nil).WithResource(ref.String()))
		return plan
	}

	current := observed
	if current == nil {
		plan.add(Action{
			Kind:     ActionCreate,
			Resource: ref,
			Create:   &CreateSpec{Path: dirPath, Description: desired.Description},
		})
		current = &ObservedShare{Name: desired.Name, Path: dirPath, Description: desired.Description}
	}

	if desired.Description != "" && desired.Description != current.Description {
		plan.add(stringUpdate(ref, "Description", desired.Description, current.Description))
	}

	desiredEntries := make([]PermissionEntry, 0, len(desired.Permissions))
	for i, p := range desired.Permissions {
		entry, err := sharePermToPermission(p)
		if err != nil {
			plan.issue(NewInputError(fmt.Sprintf("share permission %d", i), err).WithResource(ref.String()))
			continue
		}
		desiredEntries = append(desiredEntries, entry)
	}
	plan.add(c.permissionActions(plan, ref, desiredEntries, current.Permissions, desired.RemovePermissions, SharePermissionKeyOf)...)
	return plan
}

func (c *Converger) permissionActions(
	plan *ResourcePlan,
	ref ResourceRef,
	desired, observed []PermissionEntry,
	removeAccounts []string,
	keyOf func(PermissionEntry) PermissionKey,
) []Action {
	for _, account := range conflictingAccounts(desired, removeAccounts) {
		plan.warn("account %s is both granted and removed; grants run first", account)
	}

	diff := reconcilePermissions(desired, observed, removeAccounts, keyOf)
	actions := make([]Action, 0, len(diff.ToAdd)+len(diff.ToRemove))
	for _, entry := range diff.ToAdd {
		entry := entry
		actions = append(actions, Action{Kind: ActionGrantPermission, Resource: ref, Permission: &entry})
	}
	for _, entry := range diff.ToRemove {
		entry := entry
		actions = append(actions, Action{Kind: ActionRevokePermission, Resource: ref, Permission: &entry})
	}
	return actions
}

// PlanAppPool plans an application pool.
func (c *Converger) PlanAppPool(desired AppPoolSpec, observed *ObservedAppPool) *ResourcePlan {
	ref := AppPoolRef(desired.Name)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.TrimSpace(desired.Name) == "" {
		plan.issue(NewInputError("app pool has no Name", nil).WithResource(ref.String()))
		return plan
	}

	current := observed
	if current == nil {
		plan.add(Action{
			Kind:     ActionCreate,
			Resource: ref,
			Create: &CreateSpec{
				ManagedRuntimeVersion: desired.ManagedRuntimeVersion,
				ManagedPipelineMode:   desired.ManagedPipelineMode,
			},
		})
		current = &ObservedAppPool{
			Name:                  desired.Name,
			ManagedRuntimeVersion: desired.ManagedRuntimeVersion,
			ManagedPipelineMode:   desired.ManagedPipelineMode,
		}
	}

	if desired.ManagedRuntimeVersion != "" && desired.ManagedRuntimeVersion != current.ManagedRuntimeVersion {
		plan.add(stringUpdate(ref, "managedRuntimeVersion", desired.ManagedRuntimeVersion, current.ManagedRuntimeVersion))
	}
	if desired.ManagedPipelineMode != "" && desired.ManagedPipelineMode != current.ManagedPipelineMode {
		plan.add(stringUpdate(ref, "managedPipelineMode", desired.ManagedPipelineMode, current.ManagedPipelineMode))
	}

	c.addSettings(plan, ref, KindAppPool, desired.AdvancedSettings, current.Properties)
	return plan
}

// PlanWebsite plans a website. A new site is created with its first valid binding.
func (c *Converger) PlanWebsite(desired WebsiteSpec, observed *ObservedSite) *ResourcePlan {
	ref := WebsiteRef(desired.SiteName)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.TrimSpace(desired.SiteName) == "" {
		plan.issue(NewInputError("website has no SiteName", nil).WithResource(ref.String()))
		return plan
	}

	bindings := make([]BindingSpec, 0, len(desired.Bindings))
	for _, b := range desired.Bindings {
		if err := ValidateBinding(b); err != nil {
			plan.issue(withResource(err, ref))
			continue
		}
		bindings = append(bindings, b)
	}

	current := observed
	if current == nil {
		if desired.ContentPath == "" {
			plan.issue(NewInputError("a new website needs a ContentPath", nil).WithResource(ref.String()))
			return plan
		}
		if len(bindings) == 0 {
			plan.issue(NewInputError("a new website needs at least one binding", nil).WithResource(ref.String()))
			return plan
		}
		first := bindings[0]
		plan.add(Action{
			Kind:     ActionCreate,
			Resource: ref,
			Create:   &CreateSpec{Path: desired.ContentPath, AppPool: desired.AppPool, Binding: &first},
		})
		current = &ObservedSite{
			Name:         desired.SiteName,
			PhysicalPath: desired.ContentPath,
			AppPool:      desired.AppPool,
			Bindings:     []BindingSpec{first},
		}
	}

	if desired.ContentPath != "" && desired.ContentPath != current.PhysicalPath {
		plan.add(stringUpdate(ref, "physicalPath", desired.ContentPath, current.PhysicalPath))
	}
	if desired.AppPool != "" && desired.AppPool != current.AppPool {
		plan.add(stringUpdate(ref, "applicationPool", desired.AppPool, current.AppPool))
	}

	// No valid desired binding leaves the site's bindings alone.
	if len(bindings) > 0 {
		diff := Reconcile(bindings, current.Bindings, BindingKeyOf)
		for _, b := range diff.ToAdd {
			b := b
			plan.add(Action{Kind: ActionAddBinding, Resource: ref, Binding: &b})
		}
		for _, b := range diff.ToRemove {
			b := b
			plan.add(Action{Kind: ActionRemoveBinding, Resource: ref, Binding: &b})
		}
	}

	c.addSettings(plan, ref, KindWebsite, desired.AdvancedSettings, current.Properties)
	return plan
}

// PlanWebApp plans a web application under site.
func (c *Converger) PlanWebApp(site string, desired WebAppSpec, observed *ObservedWebApp) *ResourcePlan {
	ref := WebAppRef(site, desired.Name)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.Trim(desired.Name, "/ ") == "" {
		plan.issue(NewInputError("web application has no Name", nil).WithResource(ref.String()))
		return plan
	}

	current := observed
	if current == nil {
		if desired.ContentPath == "" {
			plan.issue(NewInputError("a new web application needs a ContentPath", nil).WithResource(ref.String()))
			return plan
		}
		plan.add(Action{
			Kind:     ActionCreate,
			Resource: ref,
			Create:   &CreateSpec{Path: desired.ContentPath, AppPool: desired.AppPool},
		})
		current = &ObservedWebApp{
			Site:         site,
			Name:         desired.Name,
			PhysicalPath: desired.ContentPath,
			AppPool:      desired.AppPool,
		}
	}

	if desired.ContentPath != "" && desired.ContentPath != current.PhysicalPath {
		plan.add(stringUpdate(ref, "physicalPath", desired.ContentPath, current.PhysicalPath))
	}
	if desired.AppPool != "" && desired.AppPool != current.AppPool {
		plan.add(stringUpdate(ref, "applicationPool", desired.AppPool, current.AppPool))
	}

	c.addSettings(plan, ref, KindWebApp, desired.AdvancedSettings, current.Properties)
	return plan
}

func (c *Converger) addSettings(plan *ResourcePlan, ref ResourceRef, kind ResourceKind, settings map[string]Value, observed map[PropertyRef]Value) {
	if len(settings) == 0 {
		return
	}
	resolved, issues := c.resolver.ResolveSettings(kind, settings)
	for _, err := range issues {
		plan.issue(withResource(err, ref))
	}
	plan.add(settingActions(ref, resolved, observed)...)
}

// PlanFeatures plans enabling and disabling Windows features. Names unknown to the
// machine are reported as input errors.
func PlanFeatures(enabled, disabled []string, observed ObservedFeatures) *ResourcePlan {
	plan := &ResourcePlan{Resource: ResourceRef{Kind: KindFeature, Name: "features"}, Exists: true}
	lookup := make(map[string]bool, len(observed))
	for name, on := range observed {
		lookup[strings.ToLower(name)] = on
	}

	visit := func(names []string, want bool) {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			on, known := lookup[strings.ToLower(name)]
			if !known {
				plan.issue(NewInputError(fmt.Sprintf("feature %q is not available on this machine", name), nil).
					WithResource(string(KindFeature) + ":" + name))
				continue
			}
			if on == want {
				continue
			}
			plan.add(Action{
				Kind:     ActionSetFeature,
				Resource: ResourceRef{Kind: KindFeature, Name: name},
				Target:   name,
				Enabled:  want,
			})
		}
	}
	visit(enabled, true)
	visit(disabled, false)
	return plan
}

// PlanTimeZone plans a time zone change. Ids compare case-insensitively.
func PlanTimeZone(desired, observed string) *ResourcePlan {
	plan := &ResourcePlan{Resource: ResourceRef{Kind: KindTimeZone, Name: "timezone"}, Exists: true}
	if desired == "" || strings.EqualFold(strings.TrimSpace(desired), strings.TrimSpace(observed)) {
		return plan
	}
	plan.add(Action{Kind: ActionSetTimeZone, Resource: plan.Resource, Target: desired})
	return plan
}

// PlanHosts plans hosts-file entries in sorted hostname order. Entries are added or
// updated, never removed. Hostnames compare case-insensitively.
func PlanHosts(desired map[string]string, observed ObservedHosts) *ResourcePlan {
	plan := &ResourcePlan{Resource: ResourceRef{Kind: KindHostEntry, Name: "hosts"}, Exists: true}
	lookup := make(map[string]string, len(observed))
	for host, addr := range observed {
		lookup[strings.ToLower(host)] = addr
	}

	hosts := make([]string, 0, len(desired))
	for host := range desired {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	for _, host := range hosts {
		addr := strings.TrimSpace(desired[host])
		if strings.TrimSpace(host) == "" || addr == "" {
			plan.issue(NewInputError(fmt.Sprintf("hosts entry %q needs a hostname and an address", host), nil))
			continue
		}
		if current, ok := lookup[strings.ToLower(host)]; ok && current == addr {
			continue
		}
		plan.add(Action{
			Kind:     ActionSetHostEntry,
			Resource: ResourceRef{Kind: KindHostEntry, Name: host},
			Target:   host,
			Address:  addr,
		})
	}
	return plan
}

// PlanEventSource plans an event source. A source registered under another log is
// removed and registered again.
func PlanEventSource(source string, desired LogSpec, observed *ObservedEventSource) *ResourcePlan {
	ref := EventSourceRef(source)
	plan := &ResourcePlan{Resource: ref, Exists: observed != nil}
	if strings.TrimSpace(source) == "" {
		plan.issue(NewInputError("event source has no name", nil))
		return plan
	}

	logName := desired.Name()
	if observed != nil {
		if strings.EqualFold(observed.LogName, logName) {
			return plan
		}
		plan.add(Action{Kind: ActionRemoveEventSource, Resource: ref, Target: source})
	}
	plan.add(Action{Kind: ActionCreate, Resource: ref, Target: source, Create: &CreateSpec{LogName: logName}})
	return plan
}

func withResource(err error, ref ResourceRef) error {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Resource == "" {
		ee.WithResource(ref.String())
	}
	return err
}

func stringUpdate(ref ResourceRef, name, desired, observed string) Action {
	value := String(desired)
	previous := String(observed)
	return Action{
		Kind:     ActionUpdateAttribute,
		Resource: ref,
		Property: &PropertyRef{Kind: PropertyFlat, Name: name},
		Value:    &value,
		Previous: &previous,
	}
}

func boolUpdate(ref ResourceRef, name string, desired, observed bool) []Action {
	if desired == observed {
		return nil
	}
	value := Bool(desired)
	previous := Bool(observed)
	return []Action{{
		Kind:     ActionUpdateAttribute,
		Resource: ref,
		Property: &PropertyRef{Kind: PropertyFlat, Name: name},
		Value:    &value,
		Previous: &previous,
	}}
}

var aclRights = map[string]string{
	"fullcontrol":    "FullControl",
	"modify":         "Modify",
	"readandexecute": "ReadAndExecute",
	"listdirectory":  "ListDirectory",
	"read":           "Read",
	"write":          "Write",
}

var shareRights = map[string]string{
	"full":        "Full",
	"fullcontrol": "Full",
	"change":      "Change",
	"read":        "Read",
	"custom":      "Custom",
}

func ruleType(t string) (string, error) {
	switch NormalizeType(t) {
	case "allow":
		return "Allow", nil
	case "deny":
		return "Deny", nil
	default:
		return "", fmt.Errorf("type %q is not Allow or Deny", t)
	}
}

func aclEntryToPermission(e AclEntry) (PermissionEntry, error) {
	if strings.TrimSpace(e.AccountName) == "" {
		return PermissionEntry{}, fmt.Errorf("AccountName is required")
	}
	access, ok := aclRights[strings.ToLower(strings.TrimSpace(e.Access))]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("access %q is not a directory right", e.Access)
	}
	t, err := ruleType(e.Type)
	if err != nil {
		return PermissionEntry{}, err
	}
	inheritance := e.Inheritance
	if inheritance == "" {
		inheritance = defaultInheritance
	}
	propagation := e.Propagation
	if propagation == "" {
		propagation = defaultPropagation
	}
	return PermissionEntry{
		Account:     strings.TrimSpace(e.AccountName),
		Access:      access,
		Type:        t,
		Inheritance: inheritance,
		Propagation: propagation,
	}, nil
}

func sharePermToPermission(e SharePermEntry) (PermissionEntry, error) {
	if strings.TrimSpace(e.AccountName) == "" {
		return PermissionEntry{}, fmt.Errorf("AccountName is required")
	}
	access, ok := shareRights[strings.ToLower(strings.TrimSpace(e.Access))]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("access %q is not a share right", e.Access)
	}
	t, err := ruleType(e.Type)
	if err != nil {
		return PermissionEntry{}, err
	}
	return PermissionEntry{Account: strings.TrimSpace(e.AccountName), Access: access, Type: t}, nil
}
