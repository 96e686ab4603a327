package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/winconverge/winconverge/pkg/engine"
)

// System is an in-memory machine. It implements engine.System and is used to
// converge against a recorded snapshot and in tests.
// Names compare case-insensitively, as they do on Windows.
type System struct {
	mu sync.Mutex

	directories  map[string]*engine.ObservedDirectory
	shares       map[string]*engine.ObservedShare
	appPools     map[string]*engine.ObservedAppPool
	sites        map[string]*engine.ObservedSite
	webApps      map[string]*engine.ObservedWebApp
	eventSources map[string]*engine.ObservedEventSource
	features     map[string]bool
	featureNames map[string]string
	hosts        map[string]string
	timeZone     string

	// collections holds collection-valued properties keyed by resource and address.
	collections map[string][]engine.Value

	failures map[string]error
	calls    []string
}

// New creates an empty machine with the UTC time zone.
func New() *System {
	return &System{
		directories:  make(map[string]*engine.ObservedDirectory),
		shares:       make(map[string]*engine.ObservedShare),
		appPools:     make(map[string]*engine.ObservedAppPool),
		sites:        make(map[string]*engine.ObservedSite),
		webApps:      make(map[string]*engine.ObservedWebApp),
		eventSources: make(map[string]*engine.ObservedEventSource),
		features:     make(map[string]bool),
		featureNames: make(map[string]string),
		hosts:        make(map[string]string),
		timeZone:     "UTC",
		collections:  make(map[string][]engine.Value),
		failures:     make(map[string]error),
	}
}

var _ engine.System = (*System)(nil)

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func webAppKey(site, app string) string {
	return key(site) + "/" + key(strings.Trim(app, "/"))
}

// FailOn makes op fail with err. op is a System method name such as "CreateResource";
// resource is a ResourceRef string ("website:Default") or empty to match any resource.
func (s *System) FailOn(op, resource string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+" "+key(resource)] = err
}

// Calls returns the write operations performed so far, as "op resource" strings.
func (s *System) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCalls clears the recorded operations.
func (s *System) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// begin records a call and returns an injected failure, if any. The caller holds mu.
func (s *System) begin(ctx context.Context, op, resource string, write bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if write {
		s.calls = append(s.calls, op+" "+resource)
	}
	if err, ok := s.failures[op+" "+key(resource)]; ok {
		return err
	}
	if err, ok := s.failures[op+" "]; ok {
		return err
	}
	return nil
}

func notFound(what, name string) error {
	return engine.NewNotFoundError(fmt.Sprintf("%s %q does not exist", what, name), nil)
}

// FetchDirectory implements engine.System.
func (s *System) FetchDirectory(ctx context.Context, path string) (*engine.ObservedDirectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchDirectory", engine.DirectoryRef(path).String(), false); err != nil {
		return nil, err
	}
	dir, ok := s.directories[key(path)]
	if !ok {
		return nil, notFound("directory", path)
	}
	out := *dir
	out.Permissions = append([]engine.PermissionEntry(nil), dir.Permissions...)
	return &out, nil
}

// FetchShare implements engine.System.
func (s *System) FetchShare(ctx context.Context, name string) (*engine.ObservedShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchShare", string(engine.KindShare)+":"+name, false); err != nil {
		return nil, err
	}
	share, ok := s.shares[key(name)]
	if !ok {
		return nil, notFound("share", name)
	}
	out := *share
	out.Permissions = append([]engine.PermissionEntry(nil), share.Permissions...)
	return &out, nil
}

// FetchAppPool implements engine.System.
func (s *System) FetchAppPool(ctx context.Context, name string, props []engine.PropertyRef) (*engine.ObservedAppPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchAppPool", engine.AppPoolRef(name).String(), false); err != nil {
		return nil, err
	}
	pool, ok := s.appPools[key(name)]
	if !ok {
		return nil, notFound("application pool", name)
	}
	out := *pool
	out.Properties = selectProperties(pool.Properties, props)
	return &out, nil
}

// FetchSite implements engine.System.
func (s *System) FetchSite(ctx context.Context, name string, props []engine.PropertyRef) (*engine.ObservedSite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchSite", engine.WebsiteRef(name).String(), false); err != nil {
		return nil, err
	}
	site, ok := s.sites[key(name)]
	if !ok {
		return nil, notFound("website", name)
	}
	out := *site
	out.Bindings = append([]engine.BindingSpec(nil), site.Bindings...)
	out.Properties = selectProperties(site.Properties, props)
	return &out, nil
}

// FetchWebApp implements engine.System.
func (s *System) FetchWebApp(ctx context.Context, site, app string, props []engine.PropertyRef) (*engine.ObservedWebApp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchWebApp", engine.WebAppRef(site, app).String(), false); err != nil {
		return nil, err
	}
	wa, ok := s.webApps[webAppKey(site, app)]
	if !ok {
		return nil, notFound("web application", site+"/"+app)
	}
	out := *wa
	out.Properties = selectProperties(wa.Properties, props)
	return &out, nil
}

// selectProperties returns the requested addresses that have a value.
func selectProperties(all map[engine.PropertyRef]engine.Value, props []engine.PropertyRef) map[engine.PropertyRef]engine.Value {
	out := make(map[engine.PropertyRef]engine.Value, len(props))
	for _, p := range props {
		if v, ok := all[p]; ok {
			out[p] = v
		}
	}
	return out
}

// FetchFeatures implements engine.System. Unknown names are left out.
func (s *System) FetchFeatures(ctx context.Context, names []string) (engine.ObservedFeatures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchFeatures", "", false); err != nil {
		return nil, err
	}
	out := make(engine.ObservedFeatures, len(names))
	for _, name := range names {
		if on, ok := s.features[key(name)]; ok {
			out[s.featureNames[key(name)]] = on
		}
	}
	return out, nil
}

// FetchTimeZone implements engine.System.
func (s *System) FetchTimeZone(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchTimeZone", "", false); err != nil {
		return "", err
	}
	return s.timeZone, nil
}

// FetchHosts implements engine.System.
func (s *System) FetchHosts(ctx context.Context) (engine.ObservedHosts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchHosts", "", false); err != nil {
		return nil, err
	}
	out := make(engine.ObservedHosts, len(s.hosts))
	for h, a := range s.hosts {
		out[h] = a
	}
	return out, nil
}

// FetchEventSource implements engine.System.
func (s *System) FetchEventSource(ctx context.Context, source string) (*engine.ObservedEventSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "FetchEventSource", engine.EventSourceRef(source).String(), false); err != nil {
		return nil, err
	}
	es, ok := s.eventSources[key(source)]
	if !ok {
		return nil, notFound("event source", source)
	}
	out := *es
	return &out, nil
}

// CreateResource implements engine.System.
func (s *System) CreateResource(ctx context.Context, ref engine.ResourceRef, spec engine.CreateSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "CreateResource", ref.String(), true); err != nil {
		return err
	}

	switch ref.Kind {
	case engine.KindDirectory:
		dir := &engine.ObservedDirectory{Path: ref.Name}
		if spec.Attributes != nil {
			dir.Attributes = *spec.Attributes
		}
		s.directories[key(ref.Name)] = dir
	case engine.KindShare:
		if _, ok := s.directories[key(spec.Path)]; !ok {
			return notFound("directory", spec.Path)
		}
		s.shares[key(ref.Name)] = &engine.ObservedShare{Name: ref.Name, Path: spec.Path, Description: spec.Description}
	case engine.KindAppPool:
		s.appPools[key(ref.Name)] = &engine.ObservedAppPool{
			Name:                  ref.Name,
			ManagedRuntimeVersion: spec.ManagedRuntimeVersion,
			ManagedPipelineMode:   spec.ManagedPipelineMode,
			Properties:            make(map[engine.PropertyRef]engine.Value),
		}
	case engine.KindWebsite:
		if spec.Binding == nil {
			return fmt.Errorf("a website needs a binding to be created")
		}
		s.sites[key(ref.Name)] = &engine.ObservedSite{
			Name:         ref.Name,
			PhysicalPath: spec.Path,
			AppPool:      spec.AppPool,
			Bindings:     []engine.BindingSpec{*spec.Binding},
			Properties:   make(map[engine.PropertyRef]engine.Value),
		}
	case engine.KindWebApp:
		if _, ok := s.sites[key(ref.Parent)]; !ok {
			return notFound("website", ref.Parent)
		}
		app := strings.TrimPrefix(ref.Name, ref.Parent+"/")
		s.webApps[webAppKey(ref.Parent, app)] = &engine.ObservedWebApp{
			Site:         ref.Parent,
			Name:         app,
			PhysicalPath: spec.Path,
			AppPool:      spec.AppPool,
			Properties:   make(map[engine.PropertyRef]engine.Value),
		}
	case engine.KindEventSource:
		if _, ok := s.eventSources[key(ref.Name)]; ok {
			return fmt.Errorf("event source %q is already registered", ref.Name)
		}
		s.eventSources[key(ref.Name)] = &engine.ObservedEventSource{Source: ref.Name, LogName: spec.LogName}
	default:
		return fmt.Errorf("cannot create a %s resource", ref.Kind)
	}
	return nil
}

// WriteAttribute implements engine.System. Known attributes update the typed fields;
// anything else is stored as a flat property.
func (s *System) WriteAttribute(ctx context.Context, ref engine.ResourceRef, name string, value engine.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "WriteAttribute", ref.String(), true); err != nil {
		return err
	}

	switch ref.Kind {
	case engine.KindDirectory:
		dir, ok := s.directories[key(ref.Name)]
		if !ok {
			return notFound("directory", ref.Name)
		}
		on := strings.EqualFold(value.String(), "true")
		switch name {
		case "ReadOnly":
			dir.Attributes.ReadOnly = on
		case "Hidden":
			dir.Attributes.Hidden = on
		case "System":
			dir.Attributes.System = on
		default:
			return fmt.Errorf("unknown directory attribute %q", name)
		}
		return nil
	case engine.KindShare:
		share, ok := s.shares[key(ref.Name)]
		if !ok {
			return notFound("share", ref.Name)
		}
		if name != "Description" {
			return fmt.Errorf("unknown share attribute %q", name)
		}
		share.Description = value.String()
		return nil
	}

	props, err := s.properties(ref)
	if err != nil {
		return err
	}
	switch ref.Kind {
	case engine.KindAppPool:
		pool := s.appPools[key(ref.Name)]
		switch name {
		case "managedRuntimeVersion":
			pool.ManagedRuntimeVersion = value.String()
			return nil
		case "managedPipelineMode":
			pool.ManagedPipelineMode = value.String()
			return nil
		}
	case engine.KindWebsite:
		site := s.sites[key(ref.Name)]
		switch name {
		case "physicalPath":
			site.PhysicalPath = value.String()
			return nil
		case "applicationPool":
			site.AppPool = value.String()
			return nil
		}
	case engine.KindWebApp:
		wa := s.webApps[key(ref.Name)]
		switch name {
		case "physicalPath":
			wa.PhysicalPath = value.String()
			return nil
		case "applicationPool":
			wa.AppPool = value.String()
			return nil
		}
	}
	props[engine.PropertyRef{Kind: engine.PropertyFlat, Name: name}] = value
	return nil
}

// properties returns the property map of an IIS resource. The caller holds mu.
func (s *System) properties(ref engine.ResourceRef) (map[engine.PropertyRef]engine.Value, error) {
	switch ref.Kind {
	case engine.KindAppPool:
		if pool, ok := s.appPools[key(ref.Name)]; ok {
			return ensure(&pool.Properties), nil
		}
		return nil, notFound("application pool", ref.Name)
	case engine.KindWebsite:
		if site, ok := s.sites[key(ref.Name)]; ok {
			return ensure(&site.Properties), nil
		}
		return nil, notFound("website", ref.Name)
	case engine.KindWebApp:
		if wa, ok := s.webApps[key(ref.Name)]; ok {
			return ensure(&wa.Properties), nil
		}
		return nil, notFound("web application", ref.Name)
	default:
		return nil, fmt.Errorf("%s resources have no configurable properties", ref.Kind)
	}
}

func ensure(m *map[engine.PropertyRef]engine.Value) map[engine.PropertyRef]engine.Value {
	if *m == nil {
		*m = make(map[engine.PropertyRef]engine.Value)
	}
	return *m
}

// WriteSchemaPath implements engine.System.
func (s *System) WriteSchemaPath(ctx context.Context, ref engine.ResourceRef, filter, name string, value engine.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "WriteSchemaPath", ref.String(), true); err != nil {
		return err
	}
	props, err := s.properties(ref)
	if err != nil {
		return err
	}
	props[engine.PropertyRef{Kind: engine.PropertySchemaPath, Filter: filter, Name: name}] = value
	return nil
}

func collectionKey(ref engine.ResourceRef, prop engine.PropertyRef) string {
	return key(ref.String()) + "|" + prop.String()
}

// ClearCollection implements engine.System.
func (s *System) ClearCollection(ctx context.Context, ref engine.ResourceRef, prop engine.PropertyRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "ClearCollection", ref.String(), true); err != nil {
		return err
	}
	if _, err := s.properties(ref); err != nil {
		return err
	}
	s.collections[collectionKey(ref, prop)] = nil
	return nil
}

// AppendCollectionItem implements engine.System.
func (s *System) AppendCollectionItem(ctx context.Context, ref engine.ResourceRef, prop engine.PropertyRef, item engine.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "AppendCollectionItem", ref.String(), true); err != nil {
		return err
	}
	if _, err := s.properties(ref); err != nil {
		return err
	}
	k := collectionKey(ref, prop)
	s.collections[k] = append(s.collections[k], item)
	return nil
}

// Collection returns the elements of the collection at prop on ref.
func (s *System) Collection(ref engine.ResourceRef, prop engine.PropertyRef) []engine.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Value(nil), s.collections[collectionKey(ref, prop)]...)
}

// AddBinding implements engine.System.
func (s *System) AddBinding(ctx context.Context, site engine.ResourceRef, binding engine.BindingSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "AddBinding", site.String(), true); err != nil {
		return err
	}
	st, ok := s.sites[key(site.Name)]
	if !ok {
		return notFound("website", site.Name)
	}
	for _, b := range st.Bindings {
		if engine.BindingKeyOf(b) == engine.BindingKeyOf(binding) {
			return fmt.Errorf("binding %s already exists", binding)
		}
	}
	st.Bindings = append(st.Bindings, binding)
	return nil
}

// RemoveBinding implements engine.System.
func (s *System) RemoveBinding(ctx context.Context, site engine.ResourceRef, binding engine.BindingSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "RemoveBinding", site.String(), true); err != nil {
		return err
	}
	st, ok := s.sites[key(site.Name)]
	if !ok {
		return notFound("website", site.Name)
	}
	kept := st.Bindings[:0]
	for _, b := range st.Bindings {
		if engine.BindingKeyOf(b) != engine.BindingKeyOf(binding) {
			kept = append(kept, b)
		}
	}
	st.Bindings = kept
	return nil
}

func (s *System) permissions(ref engine.ResourceRef) (*[]engine.PermissionEntry, error) {
	switch ref.Kind {
	case engine.KindDirectory:
		if dir, ok := s.directories[key(ref.Name)]; ok {
			return &dir.Permissions, nil
		}
		return nil, notFound("directory", ref.Name)
	case engine.KindShare:
		if share, ok := s.shares[key(ref.Name)]; ok {
			return &share.Permissions, nil
		}
		return nil, notFound("share", ref.Name)
	default:
		return nil, fmt.Errorf("%s resources have no access rules", ref.Kind)
	}
}

// GrantPermission implements engine.System.
func (s *System) GrantPermission(ctx context.Context, target engine.ResourceRef, entry engine.PermissionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "GrantPermission", target.String(), true); err != nil {
		return err
	}
	perms, err := s.permissions(target)
	if err != nil {
		return err
	}
	entry.Inherited = false
	*perms = append(*perms, entry)
	return nil
}

// RevokePermission implements engine.System. Every explicit rule of the entry's
// account with the same access and type is removed.
func (s *System) RevokePermission(ctx context.Context, target engine.ResourceRef, entry engine.PermissionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "RevokePermission", target.String(), true); err != nil {
		return err
	}
	perms, err := s.permissions(target)
	if err != nil {
		return err
	}
	want := engine.PermissionKeyOf(entry)
	kept := (*perms)[:0]
	for _, p := range *perms {
		if !p.Inherited && engine.PermissionKeyOf(p) == want {
			continue
		}
		kept = append(kept, p)
	}
	*perms = kept
	return nil
}

// SetFeature implements engine.System.
func (s *System) SetFeature(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "SetFeature", string(engine.KindFeature)+":"+name, true); err != nil {
		return err
	}
	if _, ok := s.features[key(name)]; !ok {
		return notFound("feature", name)
	}
	s.features[key(name)] = enabled
	return nil
}

// SetTimeZone implements engine.System.
func (s *System) SetTimeZone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "SetTimeZone", string(engine.KindTimeZone)+":"+id, true); err != nil {
		return err
	}
	s.timeZone = id
	return nil
}

// SetHostEntry implements engine.System.
func (s *System) SetHostEntry(ctx context.Context, host, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "SetHostEntry", string(engine.KindHostEntry)+":"+host, true); err != nil {
		return err
	}
	for h := range s.hosts {
		if strings.EqualFold(h, host) {
			delete(s.hosts, h)
		}
	}
	s.hosts[host] = address
	return nil
}

// RemoveEventSource implements engine.System.
func (s *System) RemoveEventSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "RemoveEventSource", engine.EventSourceRef(source).String(), true); err != nil {
		return err
	}
	if _, ok := s.eventSources[key(source)]; !ok {
		return notFound("event source", source)
	}
	delete(s.eventSources, key(source))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
