package windows

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/winconverge/winconverge/pkg/engine"
)

// applicationHost is the PSPath of the server-level IIS configuration.
const applicationHost = "MACHINE/WEBROOT/APPHOST"

// readValue unwraps IIS configuration attributes into plain values.
const readValue = `function Read-Value($v) {
	if ($null -eq $v) { return $null }
	if ($v -is [Microsoft.IIs.PowerShell.Framework.ConfigurationAttribute]) { $v = $v.Value }
	if ($v -is [TimeSpan]) { return $v.ToString() }
	if ($v -is [Enum]) { return $v.ToString() }
	return $v
}
`

// psQuote returns s as a single-quoted PowerShell string.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// psList returns a PowerShell array of quoted strings.
func psList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = psQuote(item)
	}
	return "@(" + strings.Join(quoted, ", ") + ")"
}

// psLiteral renders a value as a PowerShell expression. Records become
// hashtables with their keys in sorted order.
func psLiteral(v engine.Value) string {
	switch v.Kind() {
	case engine.ValueCollection:
		items := v.Items()
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = psLiteral(item)
		}
		return "@(" + strings.Join(parts, ", ") + ")"
	case engine.ValueRecord:
		fields := v.Fields()
		parts := make([]string, 0, len(fields))
		for _, name := range v.FieldNames() {
			parts = append(parts, psQuote(name)+"="+psLiteral(fields[name]))
		}
		return "@{" + strings.Join(parts, "; ") + "}"
	}

	switch s := v.Scalar().(type) {
	case bool:
		if s {
			return "$true"
		}
		return "$false"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case string:
		return psQuote(s)
	default:
		return psQuote(fmt.Sprint(s))
	}
}

// itemLiteral renders one collection element. Scalars are wrapped as
// @{value=...}, the shape of IIS "add" elements keyed by value.
func itemLiteral(v engine.Value) string {
	if v.Kind() == engine.ValueScalar {
		return "@{value=" + psLiteral(v) + "}"
	}
	return psLiteral(v)
}

// appName returns the application part of a web application ref.
func appName(ref engine.ResourceRef) string {
	return strings.Trim(strings.TrimPrefix(ref.Name, ref.Parent+"/"), "/")
}

// iisPath returns the IIS: drive path of an app pool, site or web application.
func iisPath(ref engine.ResourceRef) (string, error) {
	switch ref.Kind {
	case engine.KindAppPool:
		return `IIS:\AppPools\` + ref.Name, nil
	case engine.KindWebsite:
		return `IIS:\Sites\` + ref.Name, nil
	case engine.KindWebApp:
		return `IIS:\Sites\` + ref.Parent + `\` + strings.ReplaceAll(appName(ref), "/", `\`), nil
	default:
		return "", fmt.Errorf("%s has no IIS path", ref)
	}
}

// location returns the -Location argument scoping a schema path to a site or
// web application. App pools are configured at server level and have none.
func location(ref engine.ResourceRef) string {
	switch ref.Kind {
	case engine.KindWebsite:
		return ref.Name
	case engine.KindWebApp:
		return ref.Parent + "/" + appName(ref)
	default:
		return ""
	}
}

// configTarget returns the -PSPath and -Location arguments for a schema path.
func configTarget(ref engine.ResourceRef) string {
	args := "-PSPath " + psQuote(applicationHost)
	if loc := location(ref); loc != "" {
		args += " -Location " + psQuote(loc)
	}
	return args
}

// readPropertiesScript emits an ordered table of address to value for props.
// Flat properties are read from the item at $path.
func readPropertiesScript(ref engine.ResourceRef, props []engine.PropertyRef) string {
	var b strings.Builder
	b.WriteString("$props = [ordered]@{}\n")
	for _, p := range props {
		switch p.Kind {
		case engine.PropertySchemaPath:
			fmt.Fprintf(&b, "$props[%s] = Read-Value (Get-WebConfigurationProperty %s -Filter %s -Name %s)\n",
				psQuote(p.String()), configTarget(ref), psQuote(p.Filter), psQuote(p.Name))
		default:
			fmt.Fprintf(&b, "$props[%s] = Read-Value (Get-ItemProperty -LiteralPath $path -Name %s)\n",
				psQuote(p.String()), psQuote(p.Name))
		}
	}
	return b.String()
}

// decodeProperties maps the addresses read back to the requested refs.
// Addresses that came back null are left out as unknown.
func decodeProperties(raw map[string]json.RawMessage, props []engine.PropertyRef) (map[engine.PropertyRef]engine.Value, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make(map[engine.PropertyRef]engine.Value, len(props))
	for _, p := range props {
		data, ok := raw[p.String()]
		if !ok || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			continue
		}
		var v engine.Value
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("property %s: %w", p, err)
		}
		out[p] = v
	}
	return out, nil
}

// normalizeRights drops the Synchronize flag that Windows adds to most
// file-system rules, so "ReadAndExecute, Synchronize" reads as ReadAndExecute.
func normalizeRights(rights string) string {
	parts := strings.Split(rights, ",")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "Synchronize") {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(rights)
	}
	return strings.Join(kept, ", ")
}

// parseBindingInformation splits an IIS "ip:port:host" binding string.
// IPv6 addresses are bracketed, so the port is found from the right.
func parseBindingInformation(protocol, info string) (engine.BindingSpec, error) {
	last := strings.LastIndex(info, ":")
	if last < 0 {
		return engine.BindingSpec{}, fmt.Errorf("binding information %q has no port", info)
	}
	host := info[last+1:]
	rest := info[:last]
	sep := strings.LastIndex(rest, ":")
	if sep < 0 {
		return engine.BindingSpec{}, fmt.Errorf("binding information %q has no address", info)
	}
	port, err := strconv.ParseUint(rest[sep+1:], 10, 16)
	if err != nil {
		return engine.BindingSpec{}, fmt.Errorf("binding information %q: invalid port: %w", info, err)
	}
	return engine.BindingSpec{Protocol: protocol, Port: uint16(port), HostHeader: host}, nil
}

// bindingInformation renders a binding on all addresses.
func bindingInformation(b engine.BindingSpec) string {
	return fmt.Sprintf("*:%d:%s", b.Port, b.HostHeader)
}
