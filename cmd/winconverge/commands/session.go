package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/winconverge/winconverge/pkg/config"
	"github.com/winconverge/winconverge/pkg/engine"
	"github.com/winconverge/winconverge/pkg/policy"
	"github.com/winconverge/winconverge/pkg/stores"
	"github.com/winconverge/winconverge/pkg/system/memory"
	"github.com/winconverge/winconverge/pkg/system/windows"
	"github.com/winconverge/winconverge/pkg/telemetry"
)

// session holds what every command needs: settings, telemetry and a logger.
type session struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	fs        afero.Fs
}

// newSession loads the settings and starts telemetry. The global logger is
// replaced so packages logging through log.Logger follow the settings.
func newSession() (*session, error) {
	settings, err := config.LoadSettings(envFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.LogLevel = "debug"
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.LogLevel))
	log.Logger = tel.Logger.Zerolog()

	return &session{
		settings:  settings,
		telemetry: tel,
		logger:    log.Logger,
		fs:        afero.NewOsFs(),
	}, nil
}

// componentLogger is the session logger tagged with a component name.
func (s *session) componentLogger(component string) zerolog.Logger {
	return s.telemetry.Logger.NewComponentLogger(component).Zerolog()
}

func (s *session) Close(ctx context.Context) {
	if err := s.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// loadDocument reads and validates the document. The loader logs the
// per-item problems; only unreadable documents fail.
func (s *session) loadDocument(ctx context.Context, path string) (*config.LoadedDocument, error) {
	loader := config.NewLoader(
		config.WithFs(s.fs),
		config.WithLogger(s.componentLogger("loader")),
	)
	return loader.Load(ctx, path)
}

func (s *session) machineIdentity() (string, error) {
	return s.settings.MachineIdentity(machineName)
}

// openStore opens the run history, creating the database on first use.
func (s *session) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(s.settings.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: s.settings.StorePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openPolicy builds the policy engine with the built-ins and the configured
// policy paths.
func (s *session) openPolicy(ctx context.Context) (*policy.Engine, error) {
	mode, err := policy.ParseMode(s.settings.PolicyMode)
	if err != nil {
		return nil, err
	}
	pe, err := policy.NewEngine(s.logger, policy.WithMode(mode))
	if err != nil {
		return nil, err
	}
	if len(s.settings.PolicyPaths) > 0 {
		if err := pe.LoadPolicies(ctx, s.settings.PolicyPaths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// systemFor returns the live Windows system, or the in-memory system
// loaded from snapshot when one is given.
func (s *session) systemFor(snapshot string) (engine.System, *memory.System, error) {
	if snapshot != "" {
		mem, err := memory.LoadFile(s.fs, snapshot)
		if err != nil {
			return nil, nil, err
		}
		return mem, mem, nil
	}

	runner := windows.NewPowerShell(s.settings.PowerShell,
		windows.WithRunnerLogger(s.componentLogger("powershell")))
	return windows.New(runner,
		windows.WithHostsFile(s.settings.HostsFile),
		windows.WithLogger(s.logger),
	), nil, nil
}

// convergeOptions selects how a session converges.
type convergeOptions struct {
	documentPath string
	dryRun       bool
	observed     string
	saveObserved bool
}

// converger is a ready orchestrator plus the resources it holds open.
type converger struct {
	orchestrator *engine.Orchestrator
	policy       *policy.Engine
	store        *stores.SQLiteStore
	memory       *memory.System
	machineID    string
}

func (s *session) newConverger(ctx context.Context, opts convergeOptions) (*converger, error) {
	machineID, err := s.machineIdentity()
	if err != nil {
		return nil, err
	}

	system, mem, err := s.systemFor(opts.observed)
	if err != nil {
		return nil, err
	}

	pe, err := s.openPolicy(ctx)
	if err != nil {
		return nil, err
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}

	orch := engine.NewOrchestrator(system,
		engine.WithDryRun(opts.dryRun),
		engine.WithPolicy(pe),
		engine.WithRecorder(engine.NewLedger(store, opts.documentPath)),
		engine.WithMetrics(s.telemetry.Metrics),
		engine.WithTracer(s.telemetry.Tracer),
		engine.WithLogger(s.logger),
	)

	return &converger{
		orchestrator: orch,
		policy:       pe,
		store:        store,
		memory:       mem,
		machineID:    machineID,
	}, nil
}

func (c *converger) Close() error {
	return c.store.Close()
}

// converge runs one convergence of the loaded document.
func (c *converger) converge(ctx context.Context, loaded *config.LoadedDocument) (*engine.Report, error) {
	return c.orchestrator.Converge(ctx, loaded.Document, c.machineID)
}

// exitCode is the report's exit status, raised to a partial failure when
// the document had items dropped during validation.
func exitCode(report *engine.Report, loaded *config.LoadedDocument) int {
	code := report.ExitCode()
	if code == 0 && loaded.HasErrors() {
		return 2
	}
	return code
}
