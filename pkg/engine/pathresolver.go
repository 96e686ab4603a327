package engine

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PropertyKind tells whether an advanced setting targets a flat attribute or a schema path.
type PropertyKind string

const (
	// PropertyFlat is an attribute of the resource object itself, possibly dotted.
	PropertyFlat PropertyKind = "flat"

	// PropertySchemaPath is an attribute at a hierarchical configuration-schema filter.
	PropertySchemaPath PropertyKind = "schema_path"
)

// PropertyRef is the resolved address of an advanced setting.
type PropertyRef struct {
	Kind PropertyKind `json:"kind"`

	// Filter is the schema container path. Empty for flat properties.
	Filter string `json:"filter,omitempty"`

	// Name is the attribute name.
	Name string `json:"name"`
}

// String returns the address in "filter.name" form.
func (p PropertyRef) String() string {
	if p.Kind == PropertySchemaPath {
		return p.Filter + "." + p.Name
	}
	return p.Name
}

// RelocationRule rewrites keys that start with Prefix to live under Target.
type RelocationRule struct {
	Prefix string

	// Target is prepended to the key, e.g. "applicationDefaults.".
	Target string

	// Kinds limits the rule to resource kinds. Empty applies to every kind.
	Kinds []ResourceKind
}

func (r RelocationRule) appliesTo(kind ResourceKind) bool {
	if len(r.Kinds) == 0 || kind == "" {
		return true
	}
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DefaultRelocationRules are the keys that live under a defaults element.
// preloadEnabled is a native attribute of a web application, so its rule is
// scoped to websites.
var DefaultRelocationRules = []RelocationRule{
	{Prefix: "physicalPathCredential", Target: "virtualDirectoryDefaults."},
	{Prefix: "preloadEnabled", Target: "applicationDefaults.", Kinds: []ResourceKind{KindWebsite}},
}

// PathResolver routes raw advanced-setting keys to property addresses.
type PathResolver struct {
	rules []RelocationRule
}

// NewPathResolver creates a resolver with an ordered rule table.
func NewPathResolver(rules []RelocationRule) *PathResolver {
	return &PathResolver{rules: append([]RelocationRule(nil), rules...)}
}

// DefaultResolver uses DefaultRelocationRules.
var DefaultResolver = NewPathResolver(DefaultRelocationRules)

// Rules returns a copy of the rule table.
func (r *PathResolver) Rules() []RelocationRule {
	return append([]RelocationRule(nil), r.rules...)
}

// Resolve resolves a key applying every relocation rule.
func (r *PathResolver) Resolve(rawKey string) (PropertyRef, error) {
	return r.ResolveFor("", rawKey)
}

// ResolveFor resolves a key applying only the rules scoped to kind.
func (r *PathResolver) ResolveFor(kind ResourceKind, rawKey string) (PropertyRef, error) {
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return PropertyRef{}, NewInputError("empty property key", nil).WithCode(ErrCodeInvalidPath)
	}

	key = lowerFirst(key)
	key = r.relocate(kind, key)

	if strings.Contains(key, "/") {
		slash := strings.LastIndex(key, "/")
		dot := strings.LastIndex(key, ".")
		if dot < slash || dot == len(key)-1 {
			return PropertyRef{}, NewInputError(
				fmt.Sprintf("schema path %q has no attribute after its last segment", rawKey), nil,
			).WithCode(ErrCodeInvalidPath)
		}
		return PropertyRef{Kind: PropertySchemaPath, Filter: key[:dot], Name: key[dot+1:]}, nil
	}

	return PropertyRef{Kind: PropertyFlat, Name: key}, nil
}

func (r *PathResolver) relocate(kind ResourceKind, key string) string {
	for _, rule := range r.rules {
		if !rule.appliesTo(kind) {
			continue
		}
		if strings.HasPrefix(key, rule.Prefix) {
			return rule.Target + key
		}
	}
	return key
}

// lowerFirst lower-cases the first character and leaves the rest untouched.
func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// ResolvedSetting is an advanced setting with its address.
type ResolvedSetting struct {
	Key      string
	Property PropertyRef
	Value    Value
}

// ResolveSettings resolves a settings map in sorted key order. Keys that cannot be
// resolved are returned as input errors and left out.
func (r *PathResolver) ResolveSettings(kind ResourceKind, settings map[string]Value) ([]ResolvedSetting, []error) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make([]ResolvedSetting, 0, len(keys))
	var issues []error
	for _, k := range keys {
		ref, err := r.ResolveFor(kind, k)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		resolved = append(resolved, ResolvedSetting{Key: k, Property: ref, Value: settings[k]})
	}
	return resolved, issues
}

// PropertyRefs returns the addresses of the resolvable keys, for fetching observed values.
func (r *PathResolver) PropertyRefs(kind ResourceKind, settings map[string]Value) []PropertyRef {
	resolved, _ := r.ResolveSettings(kind, settings)
	refs := make([]PropertyRef, 0, len(resolved))
	for _, s := range resolved {
		if s.Value.IsCollectionValued() {
			continue
		}
		refs = append(refs, s.Property)
	}
	return refs
}

// settingActions emits the writes for resolved settings against the observed properties.
// Collections are cleared then appended. Scalars are written when they differ from the
// observed value or when the observed value is unknown.
func settingActions(ref ResourceRef, settings []ResolvedSetting, observed map[PropertyRef]Value) []Action {
	var actions []Action
	for _, s := range settings {
		prop := s.Property
		if s.Value.IsCollectionValued() {
			actions = append(actions, Action{Kind: ActionClearCollection, Resource: ref, Property: &prop})
			for _, item := range s.Value.Items() {
				item := item
				p := prop
				actions = append(actions, Action{Kind: ActionAppendCollectionItem, Resource: ref, Property: &p, Value: &item})
			}
			continue
		}

		current, known := observed[prop]
		if known && current.Equal(s.Value) {
			continue
		}

		value := s.Value
		action := Action{Resource: ref, Property: &prop, Value: &value}
		if known {
			previous := current
			action.Previous = &previous
		}
		if prop.Kind == PropertySchemaPath {
			action.Kind = ActionWriteSchemaPath
		} else {
			action.Kind = ActionUpdateAttribute
		}
		actions = append(actions, action)
	}
	return actions
}
