package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Built-in schema names.
const (
	SchemaDocument = "Document"
	SchemaBlock    = "Block"
)

// SchemaRegistry manages the CUE definitions documents are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in document schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// Context returns the CUE context schemas are compiled in. Values validated
// against the registry must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	err := sr.RegisterDefinitions(builtinDocumentSchema,
		SchemaDocument, SchemaBlock, "Directory", "Share", "AppPool", "Website", "Binding", "WebApp")
	if err != nil {
		panic(err)
	}
}

// RegisterSchema registers a CUE schema under name. The whole compiled value
// is the schema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// RegisterDefinitions compiles source once and registers each definition
// #name under name.
func (sr *SchemaRegistry) RegisterDefinitions(source string, names ...string) error {
	val := sr.ctx.CompileString(source, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	defs := make(map[string]cue.Value, len(names))
	for _, name := range names {
		def := val.LookupPath(cue.ParsePath("#" + name))
		if !def.Exists() {
			return fmt.Errorf("schema source has no definition #%s", name)
		}
		defs[name] = def
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for name, def := range defs {
		sr.schemas[name] = def
	}
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against a named schema. Problems come back as
// ValidationErrors whose paths are prefixed with at; the error return is
// reserved for an unknown schema or data that cannot be encoded.
func (sr *SchemaRegistry) Validate(name string, data any, at string) ([]ValidationError, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", name)
	}

	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.ValidateValue(schema, val, at), nil
}

// ValidateValue unifies val with schema and reports every violation.
func (sr *SchemaRegistry) ValidateValue(schema, val cue.Value, at string) []ValidationError {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err, at)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error, at string) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		format, args := e.Msg()
		out = append(out, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     joinPath(at, cuePath(e.Path())),
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
		})
	}
	return out
}

// cuePath renders CUE path selectors the way item paths are rendered
// elsewhere: Websites[0].Bindings[1].
func cuePath(selectors []string) string {
	var b strings.Builder
	for _, sel := range selectors {
		if isIndex(sel) {
			b.WriteString("[" + sel + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(sel)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func joinPath(prefix, rest string) string {
	switch {
	case prefix == "":
		return rest
	case rest == "":
		return prefix
	case strings.HasPrefix(rest, "["):
		return prefix + rest
	default:
		return prefix + "." + rest
	}
}

// builtinDocumentSchema describes the shape of a desired-state document.
// It checks types only; required item fields and enumerations are checked
// per item after decoding so one bad item does not discard its block.
const builtinDocumentSchema = `
#Document: {
	Configurations: [...#Block]
	...
}

#Block: {
	TargetMachineNames: [string, ...string]
	TimeZone?:          string
	EnabledFeatures?: [...string]
	DisabledFeatures?: [...string]
	Directories?: [...#Directory]
	AppPools?: [...#AppPool]
	Websites?: [...#Website]
	Hosts?: {[string]: string}
	EventLogs?: {[string]: #Log}
	...
}

#Directory: {
	Path?: string
	Attributes?: {
		ReadOnly?: bool
		Hidden?:   bool
		System?:   bool
		...
	}
	Permissions?: [...#Acl]
	RemovePermissions?: [...string]
	Shares?: [...#Share]
	...
}

#Acl: {
	AccountName?: string
	Access?:      string
	Type?:        string
	Inheritance?: string
	Propagation?: string
	...
}

#Share: {
	Name?:        string
	Description?: string
	Permissions?: [...#Acl]
	RemovePermissions?: [...string]
	...
}

#Settings: {[string]: _}

#AppPool: {
	Name?:                  string
	ManagedRuntimeVersion?: string
	ManagedPipelineMode?:   string
	AdvancedSettings?:      #Settings
	...
}

#Website: {
	SiteName?:    string
	ContentPath?: string
	AppPool?:     string
	Bindings?: [...#Binding]
	AdvancedSettings?: #Settings
	WebApps?: [...#WebApp]
	...
}

#Binding: {
	Protocol?:   string
	Port?:       int & >0 & <=65535
	HostHeader?: string
	...
}

#WebApp: {
	Name?:             string
	ContentPath?:      string
	AppPool?:          string
	AdvancedSettings?: #Settings
	...
}

#Log: {
	LogName?: string
	...
}
`
