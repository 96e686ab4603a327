package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// minRunGap is the shortest time between two document-triggered runs.
const minRunGap = 5 * time.Second

func newWatchCommand() *cobra.Command {
	var (
		opts     convergeOptions
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <document>",
		Short: "Keep this machine converged",
		Long: `Converge on start, whenever the document changes and periodically.

This command:
  - Serves Prometheus metrics on the configured address
  - Watches the document and the policy paths for changes
  - Reloads the document before every run
  - Converges at most once per few seconds on bursts of changes

A document that fails to load is logged and the previous runs stand; the
watch continues until interrupted.`,
		Example: `  # Watch with the configured interval
  winconverge watch site.yaml

  # Re-converge every five minutes and only report drift
  winconverge watch site.yaml --interval 5m --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.documentPath = args[0]
			return runWatch(cmd.Context(), opts, interval)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "plan and record actions without executing them")
	cmd.Flags().StringVar(&opts.observed, "observed", "", "converge a JSON machine snapshot instead of the live machine")
	cmd.Flags().DurationVar(&interval, "interval", 0, "periodic convergence interval (default from settings)")

	return cmd
}

func runWatch(ctx context.Context, opts convergeOptions, interval time.Duration) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	if interval <= 0 {
		interval = s.settings.WatchInterval
	}

	c, err := s.newConverger(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	w := &documentWatcher{
		session:   s,
		converger: c,
		path:      opts.documentPath,
		interval:  interval,
		limiter:   rate.NewLimiter(rate.Every(minRunGap), 1),
		trigger:   make(chan struct{}, 1),
		logger: s.telemetry.Logger.NewComponentLogger("watch").WithMachine(c.machineID).
			Zerolog().With().Str("document", opts.documentPath).Logger(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.telemetry.Metrics.Serve(gctx)
	})
	g.Go(func() error {
		return w.watchDocument(gctx)
	})
	g.Go(func() error {
		return c.policy.Watch(gctx, s.settings.PolicyPaths)
	})
	g.Go(func() error {
		return w.run(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// documentWatcher converges whenever it is triggered or the interval passes.
type documentWatcher struct {
	session   *session
	converger *converger
	path      string
	interval  time.Duration
	limiter   *rate.Limiter
	trigger   chan struct{}
	logger    zerolog.Logger
}

// Trigger asks for a run; triggers that arrive while one is pending merge.
func (w *documentWatcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *documentWatcher) run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("Watch started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.convergeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Watch stopping")
			return nil
		case <-w.trigger:
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			w.convergeOnce(ctx)
		case <-ticker.C:
			w.convergeOnce(ctx)
		}
	}
}

// convergeOnce reloads the document and converges. Failures are logged;
// the next trigger or tick tries again.
func (w *documentWatcher) convergeOnce(ctx context.Context) {
	loaded, err := w.session.loadDocument(ctx, w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to load document")
		return
	}

	report, err := w.converger.converge(ctx, loaded)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Convergence failed")
		}
		return
	}
	w.logger.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("exit_code", exitCode(report, loaded)).
		Msg("Watch run finished")
}

// watchDocument triggers a run when the document is written or replaced.
// The parent directory is watched so editors that rename over the file
// are seen.
func (w *documentWatcher) watchDocument(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Document changed")
				w.Trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Document watcher error")
		}
	}
}
