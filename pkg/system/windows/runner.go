package windows

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Runner executes a PowerShell script and returns its standard output.
type Runner interface {
	Run(ctx context.Context, script string) ([]byte, error)
}

// ScriptError is returned when a script exits with a non-zero code.
type ScriptError struct {
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("powershell exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("powershell exited with code %d: %s", e.ExitCode, msg)
}

// PowerShell runs scripts in a fresh powershell.exe process. Scripts are
// passed with -EncodedCommand, which keeps multi-line blocks intact.
type PowerShell struct {
	path    string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// PowerShellOption configures a PowerShell runner.
type PowerShellOption func(*PowerShell)

// WithRateLimit caps how many processes are started per second.
func WithRateLimit(perSecond float64, burst int) PowerShellOption {
	return func(p *PowerShell) {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger zerolog.Logger) PowerShellOption {
	return func(p *PowerShell) {
		p.logger = logger
	}
}

// NewPowerShell creates a runner for the executable at path.
func NewPowerShell(path string, opts ...PowerShellOption) *PowerShell {
	if path == "" {
		path = "powershell.exe"
	}
	p := &PowerShell{
		path:    path,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run implements Runner.
func (p *PowerShell) Run(ctx context.Context, script string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.path,
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-EncodedCommand", EncodeCommand(preamble+script))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	p.logger.Trace().
		Dur("duration", time.Since(start)).
		Int("stdout", stdout.Len()).
		Msg("PowerShell script finished")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ScriptError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("failed to run %s: %w", p.path, err)
	}
	return stdout.Bytes(), nil
}

// EncodeCommand encodes a script for -EncodedCommand: base64 of UTF-16LE.
func EncodeCommand(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// preamble makes every error terminating so a failed cmdlet sets the exit code.
const preamble = "$ErrorActionPreference = 'Stop'\n$ProgressPreference = 'SilentlyContinue'\n" +
	"trap { [Console]::Error.WriteLine($_.Exception.Message); exit 1 }\n"
