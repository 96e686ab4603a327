package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/winconverge/winconverge/pkg/engine"
)

// Loader reads desired-state documents from JSON, YAML or CUE files.
//
// Loading is lenient below the document level: a block or item that fails
// validation is dropped and reported as an issue, and the rest of the
// document still loads. Only an unreadable or unparsable document fails.
type Loader struct {
	fs        afero.Fs
	schemas   *SchemaRegistry
	validator *validator.Validate
	logger    zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFs sets the filesystem documents are read from.
func WithFs(fs afero.Fs) LoaderOption {
	return func(l *Loader) { l.fs = fs }
}

// WithLogger sets the logger issues are reported to.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithSchemaRegistry replaces the built-in schema registry.
func WithSchemaRegistry(sr *SchemaRegistry) LoaderOption {
	return func(l *Loader) { l.schemas = sr }
}

// NewLoader creates a document loader reading from the OS filesystem.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:        afero.NewOsFs(),
		schemas:   NewSchemaRegistry(),
		validator: NewValidator(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewValidator returns a validator that understands the document struct tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	// oneofci is oneof without case sensitivity; Windows names are case-insensitive.
	if err := v.RegisterValidation("oneofci", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, allowed := range strings.Fields(fl.Param()) {
			if strings.EqualFold(value, allowed) {
				return true
			}
		}
		return false
	}); err != nil {
		panic(err)
	}
	return v
}

// FormatOf picks the document format from the file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported document extension %q (want .json, .yaml, .yml or .cue)", filepath.Ext(path))
	}
}

// Load reads and validates the document at path.
func (l *Loader) Load(ctx context.Context, path string) (*LoadedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, documentError(path, "unsupported document", err)
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, documentError(path, "failed to read document", err)
	}

	return l.Parse(data, format, path)
}

// Parse validates document data in the given format. source names the
// document in issues and errors.
func (l *Loader) Parse(data []byte, format, source string) (*LoadedDocument, error) {
	tree, err := l.decode(data, format, source)
	if err != nil {
		return nil, documentError(source, "failed to parse document", err)
	}

	blocks, err := documentBlocks(tree)
	if err != nil {
		return nil, documentError(source, "invalid document", err)
	}

	doc := &LoadedDocument{
		Document: &engine.Document{Configurations: []engine.ConfigurationBlock{}},
		Source:   source,
		Format:   format,
		LoadedAt: time.Now().UTC(),
	}

	for i, raw := range blocks {
		at := fmt.Sprintf("Configurations[%d]", i)
		block, issues := l.loadBlock(raw, at)
		doc.Issues = append(doc.Issues, issues...)
		if block != nil {
			doc.Document.Configurations = append(doc.Document.Configurations, *block)
		}
	}

	for i := range doc.Issues {
		issue := &doc.Issues[i]
		if issue.File != source {
			// Positions from encoded trees point into the schema, not the document.
			issue.File, issue.Line, issue.Column = source, 0, 0
		}
		l.logger.Warn().
			Str("document", source).
			Str("path", issue.Path).
			Str("severity", issue.Severity).
			Msg(issue.Message)
	}

	l.logger.Debug().
		Str("document", source).
		Str("format", format).
		Int("blocks", len(doc.Document.Configurations)).
		Int("issues", len(doc.Issues)).
		Msg("Document loaded")

	return doc, nil
}

func documentError(source, message string, err error) error {
	return engine.NewFatalError(fmt.Sprintf("%s %s", message, source), err).WithCode(engine.ErrCodeDocument)
}

func (l *Loader) decode(data []byte, format, source string) (any, error) {
	var tree any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, err
		}
		if dec.More() {
			return nil, errors.New("unexpected data after the document")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, err
		}
	case FormatCUE:
		val := l.schemas.Context().CompileBytes(data, cue.Filename(source))
		if err := val.Err(); err != nil {
			return nil, err
		}
		if err := val.Decode(&tree); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
	return normalize(tree), nil
}

// normalize converts decoder-specific types into plain maps, slices, int64
// and float64 so every format validates and decodes the same way. Null
// fields are treated as absent.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return int64(t)
	case map[string]any:
		for k, item := range t {
			if item == nil {
				delete(t, k)
				continue
			}
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if item != nil {
				out[fmt.Sprint(k)] = normalize(item)
			}
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

// documentBlocks accepts {"Configurations": [...]} or a bare list of blocks.
func documentBlocks(tree any) ([]any, error) {
	switch t := tree.(type) {
	case nil:
		return nil, errors.New("document is empty")
	case []any:
		return t, nil
	case map[string]any:
		raw, ok := t["Configurations"]
		if !ok {
			return nil, errors.New("document has no Configurations list")
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("the Configurations field must be a list, got %T", raw)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("document must be an object or a list, got %T", tree)
	}
}

// loadBlock returns nil when the block as a whole is unusable.
func (l *Loader) loadBlock(raw any, at string) (*engine.ConfigurationBlock, []ValidationError) {
	issues, err := l.schemas.Validate(SchemaBlock, raw, at)
	if err != nil {
		return nil, []ValidationError{{Path: at, Message: err.Error(), Severity: SeverityError}}
	}
	if len(issues) > 0 {
		return nil, issues
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, []ValidationError{{Path: at, Message: err.Error(), Severity: SeverityError}}
	}
	var block engine.ConfigurationBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, []ValidationError{{Path: at, Message: err.Error(), Severity: SeverityError}}
	}

	p := &pruner{v: l.validator}
	if !p.prune(&block, at) {
		return nil, p.issues
	}
	return &block, p.issues
}

// pruner drops the items of a block that fail struct validation.
type pruner struct {
	v      *validator.Validate
	issues []ValidationError
}

func (p *pruner) prune(b *engine.ConfigurationBlock, at string) bool {
	if !p.varOK(at+".TargetMachineNames", b.TargetMachineNames, "required,min=1,dive,required") {
		return false
	}

	b.EnabledFeatures = pruneSlice(b.EnabledFeatures, at+".EnabledFeatures", p.nonEmpty)
	b.DisabledFeatures = pruneSlice(b.DisabledFeatures, at+".DisabledFeatures", p.nonEmpty)

	b.Directories = pruneSlice(b.Directories, at+".Directories", func(d *engine.DirectorySpec, path string) bool {
		if !p.structOK(path, d) {
			return false
		}
		d.Permissions = pruneSlice(d.Permissions, path+".Permissions", func(e *engine.AclEntry, path string) bool {
			return p.structOK(path, e)
		})
		d.RemovePermissions = pruneSlice(d.RemovePermissions, path+".RemovePermissions", p.nonEmpty)
		d.Shares = pruneSlice(d.Shares, path+".Shares", func(s *engine.ShareSpec, path string) bool {
			if !p.structOK(path, s) {
				return false
			}
			s.Permissions = pruneSlice(s.Permissions, path+".Permissions", func(e *engine.SharePermEntry, path string) bool {
				return p.structOK(path, e)
			})
			s.RemovePermissions = pruneSlice(s.RemovePermissions, path+".RemovePermissions", p.nonEmpty)
			return true
		})
		return true
	})

	b.AppPools = pruneSlice(b.AppPools, at+".AppPools", func(pool *engine.AppPoolSpec, path string) bool {
		return p.structOK(path, pool)
	})

	b.Websites = pruneSlice(b.Websites, at+".Websites", func(site *engine.WebsiteSpec, path string) bool {
		if !p.structOK(path, site, "Bindings") {
			return false
		}
		site.Bindings = pruneSlice(site.Bindings, path+".Bindings", func(binding *engine.BindingSpec, path string) bool {
			if !p.structOK(path, binding) {
				return false
			}
			if err := engine.ValidateBinding(*binding); err != nil {
				p.add(path, err)
				return false
			}
			return true
		})
		site.WebApps = pruneSlice(site.WebApps, path+".WebApps", func(app *engine.WebAppSpec, path string) bool {
			return p.structOK(path, app)
		})
		return true
	})

	for _, host := range sortedKeys(b.Hosts) {
		path := at + ".Hosts." + host
		if !p.varOK(path, host, "hostname_rfc1123") || !p.varOK(path, b.Hosts[host], "required,ip") {
			delete(b.Hosts, host)
		}
	}

	for _, source := range sortedKeys(b.EventLogs) {
		if strings.TrimSpace(source) == "" {
			p.issues = append(p.issues, ValidationError{
				Path:     at + ".EventLogs",
				Message:  "event source name is required",
				Severity: SeverityError,
			})
			delete(b.EventLogs, source)
		}
	}

	return true
}

func (p *pruner) nonEmpty(s *string, path string) bool {
	return p.varOK(path, strings.TrimSpace(*s), "required")
}

func (p *pruner) structOK(path string, item any, except ...string) bool {
	var err error
	if len(except) > 0 {
		err = p.v.StructExcept(item, except...)
	} else {
		err = p.v.Struct(item)
	}
	if err != nil {
		p.add(path, err)
		return false
	}
	return true
}

func (p *pruner) varOK(path string, value any, tag string) bool {
	if err := p.v.Var(value, tag); err != nil {
		p.add(path, err)
		return false
	}
	return true
}

func (p *pruner) add(path string, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		p.issues = append(p.issues, ValidationError{Path: path, Message: err.Error(), Severity: SeverityError})
		return
	}
	for _, fe := range fieldErrs {
		p.issues = append(p.issues, ValidationError{
			Path:     joinPath(path, fe.Field()),
			Message:  describe(fe),
			Severity: SeverityError,
		})
	}
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" || strings.HasPrefix(name, "[") {
		name = "value"
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", name, fe.Param())
	case "oneof", "oneofci":
		return fmt.Sprintf("%s must be one of %s, got %q", name, strings.Join(strings.Fields(fe.Param()), ", "), fe.Value())
	case "ip":
		return fmt.Sprintf("%s must be an IP address, got %q", name, fe.Value())
	case "hostname_rfc1123":
		return fmt.Sprintf("%s must be a host name, got %q", name, fe.Value())
	default:
		return fmt.Sprintf("%s failed the %s check", name, fe.Tag())
	}
}

// pruneSlice keeps the items for which keep returns true.
func pruneSlice[T any](items []T, at string, keep func(item *T, path string) bool) []T {
	if len(items) == 0 {
		return items
	}
	kept := make([]T, 0, len(items))
	for i := range items {
		if keep(&items[i], fmt.Sprintf("%s[%d]", at, i)) {
			kept = append(kept, items[i])
		}
	}
	return kept
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
