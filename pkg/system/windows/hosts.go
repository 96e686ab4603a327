package windows

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/winconverge/winconverge/pkg/engine"
)

// hostsFile reads and edits the hosts file through an afero filesystem.
type hostsFile struct {
	fs   afero.Fs
	path string
}

// read returns every hostname mapping. A missing file has no entries.
// Later lines win when a hostname repeats.
func (h hostsFile) read() (engine.ObservedHosts, error) {
	data, err := afero.ReadFile(h.fs, h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.ObservedHosts{}, nil
		}
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	hosts := engine.ObservedHosts{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		address, names := parseHostsLine(scanner.Text())
		for _, name := range names {
			hosts[name] = address
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}
	return hosts, nil
}

// parseHostsLine returns the address and hostnames of a line, or nothing for
// blank and comment lines.
func parseHostsLine(line string) (string, []string) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// set maps host to address. A line that maps only host is rewritten in
// place; host is removed from lines it shares with other names; otherwise a
// line is appended. Comments and other entries are kept as they are.
func (h hostsFile) set(host, address string) error {
	data, err := afero.ReadFile(h.fs, h.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	newline := "\n"
	if bytes.Contains(data, []byte("\r\n")) {
		newline = "\r\n"
	}
	entry := address + "\t" + host

	var lines []string
	written := false
	content := strings.TrimRight(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if content != "" {
		lines = strings.Split(content, "\n")
	}
	out := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		_, names := parseHostsLine(line)
		if !containsFold(names, host) {
			out = append(out, line)
			continue
		}
		if len(names) == 1 {
			if !written {
				out = append(out, entry)
				written = true
			}
			continue
		}
		out = append(out, withoutName(line, host))
	}
	if !written {
		out = append(out, entry)
	}

	if err := afero.WriteFile(h.fs, h.path, []byte(strings.Join(out, newline)+newline), 0o644); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	return nil
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// withoutName rewrites a multi-name line without host, keeping its comment.
func withoutName(line, host string) string {
	comment := ""
	if i := strings.IndexByte(line, '#'); i >= 0 {
		comment = " " + line[i:]
		line = line[:i]
	}
	fields := strings.Fields(line)
	kept := []string{fields[0]}
	for _, name := range fields[1:] {
		if !strings.EqualFold(name, host) {
			kept = append(kept, name)
		}
	}
	return strings.Join(kept, "\t") + comment
}
