package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/winconverge/winconverge/pkg/engine"
	"github.com/winconverge/winconverge/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read into Settings.
const EnvPrefix = "WINCONVERGE_"

// Environment variable names.
const (
	EnvMachineName     = EnvPrefix + "MACHINE_NAME"
	EnvStorePath       = EnvPrefix + "STORE"
	EnvLogLevel        = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat       = EnvPrefix + "LOG_FORMAT"
	EnvMetricsAddress  = EnvPrefix + "METRICS_ADDRESS"
	EnvTracingExporter = EnvPrefix + "TRACING_EXPORTER"
	EnvTracingEndpoint = EnvPrefix + "TRACING_ENDPOINT"
	EnvPolicyPaths     = EnvPrefix + "POLICY_PATHS"
	EnvPolicyMode      = EnvPrefix + "POLICY_MODE"
	EnvPowerShell      = EnvPrefix + "POWERSHELL"
	EnvHostsFile       = EnvPrefix + "HOSTS_FILE"
	EnvWatchInterval   = EnvPrefix + "WATCH_INTERVAL"
)

// Settings configures the winconverge tool itself, as opposed to the
// machine it converges.
type Settings struct {
	// MachineName overrides the detected machine identity.
	MachineName string `json:"machine_name,omitempty"`

	// StorePath is the SQLite run history database.
	StorePath string `json:"store_path" validate:"required"`

	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level" validate:"oneof=trace debug info warn error fatal"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format" validate:"oneof=console json"`

	// MetricsAddress is where watch mode serves /metrics.
	MetricsAddress string `json:"metrics_address,omitempty" validate:"omitempty,hostname_port"`

	// TracingExporter is none, stdout or otlp.
	TracingExporter string `json:"tracing_exporter" validate:"oneof=none stdout otlp"`

	// TracingEndpoint is the OTLP collector address.
	TracingEndpoint string `json:"tracing_endpoint,omitempty" validate:"required_if=TracingExporter otlp"`

	// PolicyPaths are extra .rego files or directories.
	PolicyPaths []string `json:"policy_paths,omitempty" validate:"dive,required"`

	// PolicyMode is enforcing, advisory or disabled.
	PolicyMode string `json:"policy_mode" validate:"oneof=enforcing advisory disabled"`

	// PowerShell is the PowerShell executable used by the Windows driver.
	PowerShell string `json:"powershell" validate:"required"`

	// HostsFile is the hosts file the Windows driver edits.
	HostsFile string `json:"hosts_file" validate:"required"`

	// WatchInterval is how often watch mode converges without a document change.
	WatchInterval time.Duration `json:"watch_interval" validate:"min=1s"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	dataDir := "."
	if pd := os.Getenv("ProgramData"); pd != "" {
		dataDir = filepath.Join(pd, "winconverge")
	}
	hosts := "/etc/hosts"
	if root := os.Getenv("SystemRoot"); root != "" {
		hosts = filepath.Join(root, "System32", "drivers", "etc", "hosts")
	}

	return &Settings{
		StorePath:       filepath.Join(dataDir, "winconverge.db"),
		LogLevel:        "info",
		LogFormat:       "console",
		MetricsAddress:  ":9182",
		TracingExporter: "none",
		PolicyMode:      "enforcing",
		PowerShell:      "powershell.exe",
		HostsFile:       hosts,
		WatchInterval:   30 * time.Minute,
	}
}

// LoadSettings reads envFile (when non-empty) into the process environment
// and then overlays WINCONVERGE_* variables on the defaults. Variables that
// are already set take precedence over the file.
func LoadSettings(envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	s := DefaultSettings()
	setString(&s.MachineName, EnvMachineName)
	setString(&s.StorePath, EnvStorePath)
	setString(&s.LogLevel, EnvLogLevel)
	setString(&s.LogFormat, EnvLogFormat)
	setString(&s.MetricsAddress, EnvMetricsAddress)
	setString(&s.TracingExporter, EnvTracingExporter)
	setString(&s.TracingEndpoint, EnvTracingEndpoint)
	setString(&s.PolicyMode, EnvPolicyMode)
	setString(&s.PowerShell, EnvPowerShell)
	setString(&s.HostsFile, EnvHostsFile)

	if v := getenv(EnvPolicyPaths); v != "" {
		s.PolicyPaths = filepath.SplitList(v)
	}
	if v := getenv(EnvWatchInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvWatchInterval, err)
		}
		s.WatchInterval = d
	}

	return s, nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the settings with their struct tags.
func (s *Settings) Validate() error {
	if err := NewValidator().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Telemetry maps the settings onto a telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging.Level = s.LogLevel
	cfg.Logging.Format = s.LogFormat
	cfg.Metrics.ListenAddress = s.MetricsAddress
	cfg.Tracing.Exporter = s.TracingExporter
	cfg.Tracing.Endpoint = s.TracingEndpoint
	cfg.Tracing.Enabled = s.TracingExporter != "" && s.TracingExporter != "none"
	return cfg
}

// hostname is swapped in tests.
var hostname = os.Hostname

// MachineIdentity resolves the identity blocks are matched against: the
// flag value, then the configured machine name, then COMPUTERNAME, then the
// host name. An unresolvable identity is fatal.
func (s *Settings) MachineIdentity(flag string) (string, error) {
	for _, candidate := range []string{flag, s.MachineName, getenv("COMPUTERNAME")} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name, nil
		}
	}

	name, err := hostname()
	if err == nil && strings.TrimSpace(name) == "" {
		err = errors.New("host name is empty")
	}
	if err != nil {
		return "", engine.NewFatalError("failed to determine machine identity", err).
			WithCode(engine.ErrCodeMachineIdentity)
	}
	// Block targets use the short name, as COMPUTERNAME does.
	name, _, _ = strings.Cut(strings.TrimSpace(name), ".")
	return name, nil
}
