package windows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/winconverge/winconverge/pkg/engine"
)

// DefaultHostsFile is the hosts file under the default SystemRoot.
const DefaultHostsFile = `C:\Windows\System32\drivers\etc\hosts`

// System reads and writes the live machine. IIS, SMB, ACL, feature, time-zone
// and event-log work runs as PowerShell scripts; the hosts file and directory
// creation go through the filesystem.
type System struct {
	runner Runner
	fs     afero.Fs
	hosts  hostsFile
	logger zerolog.Logger
}

// Option configures a System.
type Option func(*System)

// WithFs sets the filesystem used for directories and the hosts file.
func WithFs(fs afero.Fs) Option {
	return func(s *System) { s.fs = fs }
}

// WithHostsFile sets the hosts file path.
func WithHostsFile(path string) Option {
	return func(s *System) { s.hosts.path = path }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *System) { s.logger = logger }
}

// New creates a System that runs scripts with runner.
func New(runner Runner, opts ...Option) *System {
	s := &System{
		runner: runner,
		fs:     afero.NewOsFs(),
		hosts:  hostsFile{path: DefaultHostsFile},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hosts.fs = s.fs
	s.logger = s.logger.With().Str("component", "windows-system").Logger()
	return s
}

var _ engine.System = (*System)(nil)

const webAdministration = "Import-Module WebAdministration\n"

// fetch runs a read script. Empty output means the resource does not exist.
func (s *System) fetch(ctx context.Context, script, what, name string, out any) error {
	data, err := s.runner.Run(ctx, script)
	if err != nil {
		return fmt.Errorf("failed to read %s %q: %w", what, name, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return engine.NewNotFoundError(fmt.Sprintf("%s %q does not exist", what, name), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %q: %w", what, name, err)
	}
	return nil
}

// apply runs a write script and classifies a failure as an apply error.
func (s *System) apply(ctx context.Context, op string, ref engine.ResourceRef, script string) error {
	s.logger.Debug().Str("operation", op).Str("resource", ref.String()).Msg("Running write script")
	if _, err := s.runner.Run(ctx, script); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.NewApplyError(fmt.Sprintf("%s failed", op), err).
			WithOperation(op).
			WithResource(ref.String())
	}
	return nil
}

// FetchDirectory implements engine.System.
func (s *System) FetchDirectory(ctx context.Context, path string) (*engine.ObservedDirectory, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewNotFoundError(fmt.Sprintf("directory %q does not exist", path), nil)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s exists and is not a directory", path)
	}

	script := fmt.Sprintf(`$path = %s
$item = Get-Item -LiteralPath $path -Force
$rules = @((Get-Acl -LiteralPath $path).Access | ForEach-Object {
	[ordered]@{
		account = $_.IdentityReference.Value
		access = $_.FileSystemRights.ToString()
		type = $_.AccessControlType.ToString()
		inheritance = $_.InheritanceFlags.ToString()
		propagation = $_.PropagationFlags.ToString()
		inherited = $_.IsInherited
	}
})
ConvertTo-Json -Depth 4 -Compress -InputObject ([ordered]@{
	Path = $item.FullName
	Attributes = [ordered]@{
		ReadOnly = $item.Attributes.HasFlag([IO.FileAttributes]::ReadOnly)
		Hidden = $item.Attributes.HasFlag([IO.FileAttributes]::Hidden)
		System = $item.Attributes.HasFlag([IO.FileAttributes]::System)
	}
	Permissions = $rules
})
`, psQuote(path))

	var observed engine.ObservedDirectory
	if err := s.fetch(ctx, script, "directory", path, &observed); err != nil {
		return nil, err
	}
	observed.Path = path
	for i := range observed.Permissions {
		observed.Permissions[i].Access = normalizeRights(observed.Permissions[i].Access)
	}
	return &observed, nil
}

// FetchShare implements engine.System.
func (s *System) FetchShare(ctx context.Context, name string) (*engine.ObservedShare, error) {
	script := fmt.Sprintf(`$name = %s
$share = Get-SmbShare -Name $name -ErrorAction SilentlyContinue
if ($null -eq $share) { return }
$access = @(Get-SmbShareAccess -Name $name | ForEach-Object {
	[ordered]@{
		account = $_.AccountName
		access = $_.AccessRight.ToString()
		type = $_.AccessControlType.ToString()
	}
})
ConvertTo-Json -Depth 4 -Compress -InputObject ([ordered]@{
	Name = $share.Name
	Path = $share.Path
	Description = $share.Description
	Permissions = $access
})
`, psQuote(name))

	var observed engine.ObservedShare
	if err := s.fetch(ctx, script, "share", name, &observed); err != nil {
		return nil, err
	}
	return &observed, nil
}

// iisState is the common shape of app pool, site and web application reads.
type iisState struct {
	Name                  string                     `json:"Name"`
	ManagedRuntimeVersion string                     `json:"ManagedRuntimeVersion"`
	ManagedPipelineMode   string                     `json:"ManagedPipelineMode"`
	PhysicalPath          string                     `json:"PhysicalPath"`
	AppPool               string                     `json:"AppPool"`
	Bindings              []bindingState             `json:"Bindings"`
	Properties            map[string]json.RawMessage `json:"Properties"`
}

type bindingState struct {
	Protocol           string `json:"protocol"`
	BindingInformation string `json:"bindingInformation"`
}

// FetchAppPool implements engine.System.
func (s *System) FetchAppPool(ctx context.Context, name string, props []engine.PropertyRef) (*engine.ObservedAppPool, error) {
	ref := engine.AppPoolRef(name)
	path, _ := iisPath(ref)
	script := webAdministration + readValue + fmt.Sprintf(`$path = %s
if (-not (Test-Path -LiteralPath $path)) { return }
$pool = Get-Item -LiteralPath $path
`, psQuote(path)) + readPropertiesScript(ref, props) + `ConvertTo-Json -Depth 8 -Compress -InputObject ([ordered]@{
	Name = $pool.Name
	ManagedRuntimeVersion = [string]$pool.managedRuntimeVersion
	ManagedPipelineMode = [string]$pool.managedPipelineMode
	Properties = $props
})
`

	var state iisState
	if err := s.fetch(ctx, script, "app pool", name, &state); err != nil {
		return nil, err
	}
	properties, err := decodeProperties(state.Properties, props)
	if err != nil {
		return nil, fmt.Errorf("app pool %q: %w", name, err)
	}
	return &engine.ObservedAppPool{
		Name:                  state.Name,
		ManagedRuntimeVersion: state.ManagedRuntimeVersion,
		ManagedPipelineMode:   state.ManagedPipelineMode,
		Properties:            properties,
	}, nil
}

// FetchSite implements engine.System.
func (s *System) FetchSite(ctx context.Context, name string, props []engine.PropertyRef) (*engine.ObservedSite, error) {
	ref := engine.WebsiteRef(name)
	path, _ := iisPath(ref)
	script := webAdministration + readValue + fmt.Sprintf(`$path = %s
if (-not (Test-Path -LiteralPath $path)) { return }
$site = Get-Item -LiteralPath $path
$bindings = @($site.bindings.Collection | ForEach-Object {
	[ordered]@{ protocol = $_.protocol; bindingInformation = $_.bindingInformation }
})
`, psQuote(path)) + readPropertiesScript(ref, props) + `ConvertTo-Json -Depth 8 -Compress -InputObject ([ordered]@{
	Name = $site.name
	PhysicalPath = $site.physicalPath
	AppPool = $site.applicationPool
	Bindings = $bindings
	Properties = $props
})
`

	var state iisState
	if err := s.fetch(ctx, script, "website", name, &state); err != nil {
		return nil, err
	}

	observed := &engine.ObservedSite{
		Name:         state.Name,
		PhysicalPath: state.PhysicalPath,
		AppPool:      state.AppPool,
	}
	for _, b := range state.Bindings {
		binding, err := parseBindingInformation(b.Protocol, b.BindingInformation)
		if err != nil {
			// A binding the engine cannot address is reported and left alone.
			s.logger.Warn().Err(err).Str("site", name).Msg("Ignoring unreadable binding")
			continue
		}
		observed.Bindings = append(observed.Bindings, binding)
	}
	properties, err := decodeProperties(state.Properties, props)
	if err != nil {
		return nil, fmt.Errorf("website %q: %w", name, err)
	}
	observed.Properties = properties
	return observed, nil
}

// FetchWebApp implements engine.System.
func (s *System) FetchWebApp(ctx context.Context, site, app string, props []engine.PropertyRef) (*engine.ObservedWebApp, error) {
	ref := engine.WebAppRef(site, app)
	path, _ := iisPath(ref)
	script := webAdministration + readValue + fmt.Sprintf(`$path = %s
$app = Get-WebApplication -Site %s -Name %s
if ($null -eq $app) { return }
`, psQuote(path), psQuote(site), psQuote(appName(ref))) + readPropertiesScript(ref, props) + `ConvertTo-Json -Depth 8 -Compress -InputObject ([ordered]@{
	Name = $app.path.TrimStart('/')
	PhysicalPath = $app.physicalPath
	AppPool = $app.applicationPool
	Properties = $props
})
`

	var state iisState
	if err := s.fetch(ctx, script, "web application", ref.Name, &state); err != nil {
		return nil, err
	}
	properties, err := decodeProperties(state.Properties, props)
	if err != nil {
		return nil, fmt.Errorf("web application %q: %w", ref.Name, err)
	}
	return &engine.ObservedWebApp{
		Site:         site,
		Name:         state.Name,
		PhysicalPath: state.PhysicalPath,
		AppPool:      state.AppPool,
		Properties:   properties,
	}, nil
}

// FetchFeatures implements engine.System. Names the machine does not know are
// absent from the result.
func (s *System) FetchFeatures(ctx context.Context, names []string) (engine.ObservedFeatures, error) {
	if len(names) == 0 {
		return engine.ObservedFeatures{}, nil
	}
	script := fmt.Sprintf(`$names = %s
$features = @(Get-WindowsOptionalFeature -Online | Where-Object { $names -contains $_.FeatureName } | ForEach-Object {
	[ordered]@{ name = $_.FeatureName; enabled = ($_.State -eq 'Enabled') }
})
ConvertTo-Json -Compress -InputObject $features
`, psList(names))

	var found []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	data, err := s.runner.Run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to read optional features: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &found); err != nil {
			return nil, fmt.Errorf("failed to decode optional features: %w", err)
		}
	}

	observed := make(engine.ObservedFeatures, len(found))
	for _, f := range found {
		observed[f.Name] = f.Enabled
	}
	return observed, nil
}

// FetchTimeZone implements engine.System.
func (s *System) FetchTimeZone(ctx context.Context) (string, error) {
	var id string
	if err := s.fetch(ctx, "ConvertTo-Json -Compress -InputObject (Get-TimeZone).Id\n", "time zone", "current", &id); err != nil {
		return "", err
	}
	return id, nil
}

// FetchHosts implements engine.System.
func (s *System) FetchHosts(ctx context.Context) (engine.ObservedHosts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hosts.read()
}

// FetchEventSource implements engine.System.
func (s *System) FetchEventSource(ctx context.Context, source string) (*engine.ObservedEventSource, error) {
	script := fmt.Sprintf(`$source = %s
if (-not [System.Diagnostics.EventLog]::SourceExists($source)) { return }
ConvertTo-Json -Compress -InputObject ([ordered]@{
	Source = $source
	LogName = [System.Diagnostics.EventLog]::LogNameFromSourceName($source, '.')
})
`, psQuote(source))

	var observed engine.ObservedEventSource
	if err := s.fetch(ctx, script, "event source", source, &observed); err != nil {
		return nil, err
	}
	return &observed, nil
}

// CreateResource implements engine.System.
func (s *System) CreateResource(ctx context.Context, ref engine.ResourceRef, spec engine.CreateSpec) error {
	if ref.Kind == engine.KindDirectory {
		return s.createDirectory(ctx, ref, spec)
	}

	script, err := createScript(ref, spec)
	if err != nil {
		return engine.NewApplyError("cannot create resource", err).
			WithCode(engine.ErrCodeCreateFailed).
			WithResource(ref.String())
	}
	if err := s.apply(ctx, "CreateResource", ref, script); err != nil {
		return withCode(err, engine.ErrCodeCreateFailed)
	}
	return nil
}

func withCode(err error, code string) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		ee.WithCode(code)
	}
	return err
}

func (s *System) createDirectory(ctx context.Context, ref engine.ResourceRef, spec engine.CreateSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(spec.Path, 0o755); err != nil {
		return engine.NewApplyError("failed to create directory", err).
			WithCode(engine.ErrCodeCreateFailed).
			WithResource(ref.String())
	}
	if a := spec.Attributes; a != nil && (a.ReadOnly || a.Hidden || a.System) {
		script := attributesScript(spec.Path, map[string]bool{
			"ReadOnly": a.ReadOnly,
			"Hidden":   a.Hidden,
			"System":   a.System,
		})
		if err := s.apply(ctx, "CreateResource", ref, script); err != nil {
			return withCode(err, engine.ErrCodeCreateFailed)
		}
	}
	return nil
}

// createScript builds the script creating a share, IIS object or event source.
func createScript(ref engine.ResourceRef, spec engine.CreateSpec) (string, error) {
	var b strings.Builder
	switch ref.Kind {
	case engine.KindShare:
		fmt.Fprintf(&b, "New-SmbShare -Name %s -Path %s", psQuote(ref.Name), psQuote(spec.Path))
		if spec.Description != "" {
			fmt.Fprintf(&b, " -Description %s", psQuote(spec.Description))
		}
		b.WriteString(" | Out-Null\n")

	case engine.KindAppPool:
		path, _ := iisPath(ref)
		b.WriteString(webAdministration)
		fmt.Fprintf(&b, "New-WebAppPool -Name %s | Out-Null\n", psQuote(ref.Name))
		if spec.ManagedRuntimeVersion != "" {
			fmt.Fprintf(&b, "Set-ItemProperty -LiteralPath %s -Name managedRuntimeVersion -Value %s\n",
				psQuote(path), psQuote(spec.ManagedRuntimeVersion))
		}
		if spec.ManagedPipelineMode != "" {
			fmt.Fprintf(&b, "Set-ItemProperty -LiteralPath %s -Name managedPipelineMode -Value %s\n",
				psQuote(path), psQuote(spec.ManagedPipelineMode))
		}

	case engine.KindWebsite:
		if spec.Binding == nil {
			return "", fmt.Errorf("a new website needs a binding")
		}
		path, _ := iisPath(ref)
		b.WriteString(webAdministration)
		fmt.Fprintf(&b, "New-Item -Path %s -PhysicalPath %s -Bindings @{protocol=%s; bindingInformation=%s} | Out-Null\n",
			psQuote(path), psQuote(spec.Path),
			psQuote(strings.ToLower(spec.Binding.Protocol)), psQuote(bindingInformation(*spec.Binding)))
		if spec.AppPool != "" {
			fmt.Fprintf(&b, "Set-ItemProperty -LiteralPath %s -Name applicationPool -Value %s\n",
				psQuote(path), psQuote(spec.AppPool))
		}

	case engine.KindWebApp:
		b.WriteString(webAdministration)
		fmt.Fprintf(&b, "New-WebApplication -Site %s -Name %s -PhysicalPath %s",
			psQuote(ref.Parent), psQuote(appName(ref)), psQuote(spec.Path))
		if spec.AppPool != "" {
			fmt.Fprintf(&b, " -ApplicationPool %s", psQuote(spec.AppPool))
		}
		b.WriteString(" -Force | Out-Null\n")

	case engine.KindEventSource:
		logName := spec.LogName
		if logName == "" {
			logName = engine.DefaultLogName
		}
		fmt.Fprintf(&b, "New-EventLog -LogName %s -Source %s\n", psQuote(logName), psQuote(ref.Name))

	default:
		return "", fmt.Errorf("resource kind %s cannot be created", ref.Kind)
	}
	return b.String(), nil
}

// attributesScript sets or clears file attribute flags on path.
func attributesScript(path string, flags map[string]bool) string {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "$item = Get-Item -LiteralPath %s -Force\n$attrs = $item.Attributes\n", psQuote(path))
	for _, name := range names {
		if flags[name] {
			fmt.Fprintf(&b, "$attrs = $attrs -bor [IO.FileAttributes]::%s\n", name)
		} else {
			fmt.Fprintf(&b, "$attrs = $attrs -band (-bnot [IO.FileAttributes]::%s)\n", name)
		}
	}
	b.WriteString("$item.Attributes = $attrs\n")
	return b.String()
}

var directoryAttributes = map[string]string{
	"readonly": "ReadOnly",
	"hidden":   "Hidden",
	"system":   "System",
}

// WriteAttribute implements engine.System.
func (s *System) WriteAttribute(ctx context.Context, ref engine.ResourceRef, name string, value engine.Value) error {
	var script string
	switch ref.Kind {
	case engine.KindDirectory:
		flag, ok := directoryAttributes[strings.ToLower(name)]
		enabled, isBool := value.Scalar().(bool)
		if !ok || !isBool {
			return engine.NewApplyError(fmt.Sprintf("unsupported directory attribute %s=%s", name, value), nil).
				WithOperation("WriteAttribute").
				WithResource(ref.String())
		}
		script = attributesScript(ref.Name, map[string]bool{flag: enabled})

	case engine.KindShare:
		if !strings.EqualFold(name, "Description") {
			return engine.NewApplyError(fmt.Sprintf("unsupported share attribute %s", name), nil).
				WithOperation("WriteAttribute").
				WithResource(ref.String())
		}
		script = fmt.Sprintf("Set-SmbShare -Name %s -Description %s -Force\n", psQuote(ref.Name), psLiteral(value))

	default:
		path, err := iisPath(ref)
		if err != nil {
			return engine.NewApplyError("cannot write attribute", err).
				WithOperation("WriteAttribute").
				WithResource(ref.String())
		}
		script = webAdministration + fmt.Sprintf("Set-ItemProperty -LiteralPath %s -Name %s -Value %s\n",
			psQuote(path), psQuote(name), psLiteral(value))
	}
	return s.apply(ctx, "WriteAttribute", ref, script)
}

// WriteSchemaPath implements engine.System.
func (s *System) WriteSchemaPath(ctx context.Context, ref engine.ResourceRef, filter, name string, value engine.Value) error {
	script := webAdministration + fmt.Sprintf("Set-WebConfigurationProperty %s -Filter %s -Name %s -Value %s\n",
		configTarget(ref), psQuote(filter), psQuote(name), psLiteral(value))
	return s.apply(ctx, "WriteSchemaPath", ref, script)
}

// ClearCollection implements engine.System.
func (s *System) ClearCollection(ctx context.Context, ref engine.ResourceRef, prop engine.PropertyRef) error {
	var script string
	if prop.Kind == engine.PropertySchemaPath {
		script = webAdministration + fmt.Sprintf("Clear-WebConfiguration %s -Filter %s\n",
			configTarget(ref), psQuote(prop.Filter+"/"+prop.Name))
	} else {
		path, err := iisPath(ref)
		if err != nil {
			return engine.NewApplyError("cannot clear collection", err).
				WithOperation("ClearCollection").
				WithResource(ref.String())
		}
		script = webAdministration + fmt.Sprintf("Clear-ItemProperty -LiteralPath %s -Name %s\n",
			psQuote(path), psQuote(prop.Name))
	}
	return s.apply(ctx, "ClearCollection", ref, script)
}

// AppendCollectionItem implements engine.System.
func (s *System) AppendCollectionItem(ctx context.Context, ref engine.ResourceRef, prop engine.PropertyRef, item engine.Value) error {
	var script string
	if prop.Kind == engine.PropertySchemaPath {
		script = webAdministration + fmt.Sprintf("Add-WebConfigurationProperty %s -Filter %s -Name '.' -Value %s\n",
			configTarget(ref), psQuote(prop.Filter+"/"+prop.Name), itemLiteral(item))
	} else {
		path, err := iisPath(ref)
		if err != nil {
			return engine.NewApplyError("cannot append collection item", err).
				WithOperation("AppendCollectionItem").
				WithResource(ref.String())
		}
		script = webAdministration + fmt.Sprintf("New-ItemProperty -LiteralPath %s -Name %s -Value %s | Out-Null\n",
			psQuote(path), psQuote(prop.Name), itemLiteral(item))
	}
	return s.apply(ctx, "AppendCollectionItem", ref, script)
}

// AddBinding implements engine.System.
func (s *System) AddBinding(ctx context.Context, site engine.ResourceRef, binding engine.BindingSpec) error {
	script := webAdministration + fmt.Sprintf("New-WebBinding -Name %s -Protocol %s -IPAddress '*' -Port %d -HostHeader %s\n",
		psQuote(site.Name), psQuote(strings.ToLower(binding.Protocol)), binding.Port, psQuote(binding.HostHeader))
	return s.apply(ctx, "AddBinding", site, script)
}

// RemoveBinding implements engine.System. Bindings on a specific address
// match by protocol, port and host header as well.
func (s *System) RemoveBinding(ctx context.Context, site engine.ResourceRef, binding engine.BindingSpec) error {
	script := webAdministration + fmt.Sprintf("Get-WebBinding -Name %s -Protocol %s -Port %d -HostHeader %s | Remove-WebBinding\n",
		psQuote(site.Name), psQuote(strings.ToLower(binding.Protocol)), binding.Port, psQuote(binding.HostHeader))
	return s.apply(ctx, "RemoveBinding", site, script)
}

// GrantPermission implements engine.System.
func (s *System) GrantPermission(ctx context.Context, target engine.ResourceRef, entry engine.PermissionEntry) error {
	script, err := permissionScript(target, entry, true)
	if err != nil {
		return engine.NewApplyError("cannot grant permission", err).
			WithOperation("GrantPermission").
			WithResource(target.String())
	}
	return s.apply(ctx, "GrantPermission", target, script)
}

// RevokePermission implements engine.System.
func (s *System) RevokePermission(ctx context.Context, target engine.ResourceRef, entry engine.PermissionEntry) error {
	script, err := permissionScript(target, entry, false)
	if err != nil {
		return engine.NewApplyError("cannot revoke permission", err).
			WithOperation("RevokePermission").
			WithResource(target.String())
	}
	return s.apply(ctx, "RevokePermission", target, script)
}

func permissionScript(target engine.ResourceRef, entry engine.PermissionEntry, grant bool) (string, error) {
	deny := strings.EqualFold(entry.Type, "Deny")
	switch target.Kind {
	case engine.KindDirectory:
		inheritance := entry.Inheritance
		if inheritance == "" {
			inheritance = "ContainerInherit, ObjectInherit"
		}
		propagation := entry.Propagation
		if propagation == "" {
			propagation = "None"
		}
		ruleType := "Allow"
		if deny {
			ruleType = "Deny"
		}
		method := "AddAccessRule"
		if !grant {
			method = "RemoveAccessRuleSpecific"
		}
		return fmt.Sprintf(`$path = %s
$acl = Get-Acl -LiteralPath $path
$rule = New-Object System.Security.AccessControl.FileSystemAccessRule(%s, %s, %s, %s, %s)
$acl.%s($rule)
Set-Acl -LiteralPath $path -AclObject $acl
`, psQuote(target.Name), psQuote(entry.Account), psQuote(entry.Access), psQuote(inheritance),
			psQuote(propagation), psQuote(ruleType), method), nil

	case engine.KindShare:
		name, account := psQuote(target.Name), psQuote(entry.Account)
		switch {
		case grant && deny:
			return fmt.Sprintf("Block-SmbShareAccess -Name %s -AccountName %s -Force | Out-Null\n", name, account), nil
		case grant:
			return fmt.Sprintf("Grant-SmbShareAccess -Name %s -AccountName %s -AccessRight %s -Force | Out-Null\n",
				name, account, psQuote(entry.Access)), nil
		case deny:
			return fmt.Sprintf("Unblock-SmbShareAccess -Name %s -AccountName %s -Force | Out-Null\n", name, account), nil
		default:
			return fmt.Sprintf("Revoke-SmbShareAccess -Name %s -AccountName %s -Force | Out-Null\n", name, account), nil
		}

	default:
		return "", fmt.Errorf("%s does not carry permissions", target)
	}
}

// SetFeature implements engine.System. Restarts are left to the operator.
func (s *System) SetFeature(ctx context.Context, name string, enabled bool) error {
	script := fmt.Sprintf("Disable-WindowsOptionalFeature -Online -FeatureName %s -NoRestart | Out-Null\n", psQuote(name))
	if enabled {
		script = fmt.Sprintf("Enable-WindowsOptionalFeature -Online -FeatureName %s -All -NoRestart | Out-Null\n", psQuote(name))
	}
	return s.apply(ctx, "SetFeature", engine.ResourceRef{Kind: engine.KindFeature, Name: name}, script)
}

// SetTimeZone implements engine.System.
func (s *System) SetTimeZone(ctx context.Context, id string) error {
	return s.apply(ctx, "SetTimeZone", engine.ResourceRef{Kind: engine.KindTimeZone, Name: id},
		fmt.Sprintf("Set-TimeZone -Id %s\n", psQuote(id)))
}

// SetHostEntry implements engine.System.
func (s *System) SetHostEntry(ctx context.Context, host, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.hosts.set(host, address); err != nil {
		return engine.NewApplyError("failed to update hosts file", err).
			WithOperation("SetHostEntry").
			WithResource(string(engine.KindHostEntry) + ":" + host)
	}
	return nil
}

// RemoveEventSource implements engine.System.
func (s *System) RemoveEventSource(ctx context.Context, source string) error {
	return s.apply(ctx, "RemoveEventSource", engine.EventSourceRef(source),
		fmt.Sprintf("Remove-EventLog -Source %s\n", psQuote(source)))
}
