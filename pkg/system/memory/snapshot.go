package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/winconverge/winconverge/pkg/engine"
)

// Snapshot is the serialisable state of a machine.
// Property maps are keyed by address: "name" for flat attributes and
// "filter.name" for schema paths.
type Snapshot struct {
	TimeZone     string                       `json:"TimeZone,omitempty"`
	Features     map[string]bool              `json:"Features,omitempty"`
	Hosts        map[string]string            `json:"Hosts,omitempty"`
	Directories  []engine.ObservedDirectory   `json:"Directories,omitempty"`
	Shares       []engine.ObservedShare       `json:"Shares,omitempty"`
	AppPools     []AppPoolState               `json:"AppPools,omitempty"`
	Sites        []SiteState                  `json:"Sites,omitempty"`
	WebApps      []WebAppState                `json:"WebApps,omitempty"`
	EventSources []engine.ObservedEventSource `json:"EventSources,omitempty"`
}

// AppPoolState is an application pool with its properties.
type AppPoolState struct {
	engine.ObservedAppPool
	Properties map[string]engine.Value `json:"Properties,omitempty"`
}

// SiteState is a website with its properties.
type SiteState struct {
	engine.ObservedSite
	Properties map[string]engine.Value `json:"Properties,omitempty"`
}

// WebAppState is a web application with its properties.
type WebAppState struct {
	engine.ObservedWebApp
	Properties map[string]engine.Value `json:"Properties,omitempty"`
}

// parseAddress turns a property address back into a PropertyRef.
func parseAddress(addr string) (engine.PropertyRef, error) {
	if !strings.Contains(addr, "/") {
		return engine.PropertyRef{Kind: engine.PropertyFlat, Name: addr}, nil
	}
	dot := strings.LastIndex(addr, ".")
	if dot < strings.LastIndex(addr, "/") || dot == len(addr)-1 {
		return engine.PropertyRef{}, fmt.Errorf("property address %q has no attribute", addr)
	}
	return engine.PropertyRef{Kind: engine.PropertySchemaPath, Filter: addr[:dot], Name: addr[dot+1:]}, nil
}

func decodeProperties(in map[string]engine.Value) (map[engine.PropertyRef]engine.Value, error) {
	out := make(map[engine.PropertyRef]engine.Value, len(in))
	for addr, v := range in {
		ref, err := parseAddress(addr)
		if err != nil {
			return nil, err
		}
		out[ref] = v
	}
	return out, nil
}

func encodeProperties(in map[engine.PropertyRef]engine.Value) map[string]engine.Value {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]engine.Value, len(in))
	for ref, v := range in {
		out[ref.String()] = v
	}
	return out
}

// FromSnapshot creates a machine holding snap.
func FromSnapshot(snap *Snapshot) (*System, error) {
	s := New()
	if snap.TimeZone != "" {
		s.timeZone = snap.TimeZone
	}
	for name, on := range snap.Features {
		s.features[key(name)] = on
		s.featureNames[key(name)] = name
	}
	for host, addr := range snap.Hosts {
		s.hosts[host] = addr
	}
	for i := range snap.Directories {
		dir := snap.Directories[i]
		s.directories[key(dir.Path)] = &dir
	}
	for i := range snap.Shares {
		share := snap.Shares[i]
		s.shares[key(share.Name)] = &share
	}
	for _, st := range snap.AppPools {
		props, err := decodeProperties(st.Properties)
		if err != nil {
			return nil, fmt.Errorf("app pool %s: %w", st.Name, err)
		}
		pool := st.ObservedAppPool
		pool.Properties = props
		s.appPools[key(pool.Name)] = &pool
	}
	for _, st := range snap.Sites {
		props, err := decodeProperties(st.Properties)
		if err != nil {
			return nil, fmt.Errorf("website %s: %w", st.Name, err)
		}
		site := st.ObservedSite
		site.Properties = props
		s.sites[key(site.Name)] = &site
	}
	for _, st := range snap.WebApps {
		props, err := decodeProperties(st.Properties)
		if err != nil {
			return nil, fmt.Errorf("web application %s/%s: %w", st.Site, st.Name, err)
		}
		wa := st.ObservedWebApp
		wa.Properties = props
		s.webApps[webAppKey(wa.Site, wa.Name)] = &wa
	}
	for i := range snap.EventSources {
		es := snap.EventSources[i]
		s.eventSources[key(es.Source)] = &es
	}
	return s, nil
}

// Snapshot returns the current state in a deterministic order.
func (s *System) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{TimeZone: s.timeZone}
	if len(s.features) > 0 {
		snap.Features = make(map[string]bool, len(s.features))
		for k, on := range s.features {
			snap.Features[s.featureNames[k]] = on
		}
	}
	if len(s.hosts) > 0 {
		snap.Hosts = make(map[string]string, len(s.hosts))
		for h, a := range s.hosts {
			snap.Hosts[h] = a
		}
	}
	for _, k := range sortedKeys(s.directories) {
		snap.Directories = append(snap.Directories, *s.directories[k])
	}
	for _, k := range sortedKeys(s.shares) {
		snap.Shares = append(snap.Shares, *s.shares[k])
	}
	for _, k := range sortedKeys(s.appPools) {
		pool := *s.appPools[k]
		snap.AppPools = append(snap.AppPools, AppPoolState{ObservedAppPool: pool, Properties: encodeProperties(pool.Properties)})
	}
	for _, k := range sortedKeys(s.sites) {
		site := *s.sites[k]
		snap.Sites = append(snap.Sites, SiteState{ObservedSite: site, Properties: encodeProperties(site.Properties)})
	}
	for _, k := range sortedKeys(s.webApps) {
		wa := *s.webApps[k]
		snap.WebApps = append(snap.WebApps, WebAppState{ObservedWebApp: wa, Properties: encodeProperties(wa.Properties)})
	}
	for _, k := range sortedKeys(s.eventSources) {
		snap.EventSources = append(snap.EventSources, *s.eventSources[k])
	}
	return snap
}

// LoadFile reads a JSON snapshot from fs and checks it against the
// snapshot schema before loading it.
func LoadFile(fs afero.Fs, path string) (*System, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if err := validateSnapshot(doc); err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return FromSnapshot(&snap)
}

// SaveFile writes the current state to path as indented JSON.
func (s *System) SaveFile(fs afero.Fs, path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
