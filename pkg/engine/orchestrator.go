package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/winconverge/winconverge/pkg/telemetry"
)

// Tracer starts spans. Both trace.Tracer and *telemetry.Tracer satisfy it.
type Tracer = telemetry.SpanStarter

// Orchestrator walks the blocks that target a machine and converges each resource
// in the fixed stage order. It runs single-threaded.
type Orchestrator struct {
	system    System
	executor  *Executor
	converger *Converger
	policy    PolicyEvaluator
	recorder  RunRecorder
	metrics   *telemetry.Metrics
	tracer    Tracer
	logger    zerolog.Logger
	dryRun    bool
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDryRun plans and records actions without executing them.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) { o.dryRun = dryRun }
}

// WithConverger replaces the default converger, e.g. to use another relocation table.
func WithConverger(c *Converger) Option {
	return func(o *Orchestrator) { o.converger = c }
}

// WithPolicy evaluates every non-empty plan before execution.
func WithPolicy(p PolicyEvaluator) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithRecorder stores each finished report.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics records Prometheus metrics. A nil value disables them.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the span source.
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator converging through system.
func NewOrchestrator(system System, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		system:    system,
		executor:  NewExecutor(system),
		converger: defaultConverger,
		tracer:    otel.Tracer("github.com/winconverge/winconverge/pkg/engine"),
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "engine").Logger()
	return o
}

// run carries the state of one Converge call.
type run struct {
	report *Report
	logger zerolog.Logger
	block  int
}

// Converge applies every block of doc that targets machineID.
// The returned error is non-nil only for document-level failures and cancellation;
// per-resource failures are reported in the Report.
func (o *Orchestrator) Converge(ctx context.Context, doc *Document, machineID string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		MachineID: machineID,
		DryRun:    o.dryRun,
		Status:    RunStatusRunning,
		StartedAt: o.now(),
	}

	if doc == nil {
		err := NewFatalError("no configuration document", nil).WithCode(ErrCodeDocument)
		return o.finishFailed(ctx, report, err), err
	}
	if machineID == "" {
		err := NewFatalError("machine identity is unknown", nil).WithCode(ErrCodeMachineIdentity)
		return o.finishFailed(ctx, report, err), err
	}

	ctx, span := telemetry.StartRunSpan(ctx, o.tracer, report.RunID, machineID, o.dryRun)
	defer span.End()

	o.metrics.RecordRunStarted(machineID)
	logCtx := o.logger.With().Str("run_id", report.RunID).Str("machine", machineID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	r := &run{report: report, logger: logCtx.Logger()}

	indexes := selectBlockIndexes(doc.Configurations, machineID)
	report.BlocksMatched = len(indexes)
	if len(indexes) == 0 {
		r.logger.Info().Int("blocks", len(doc.Configurations)).Msg("No configuration block targets this machine")
		report.Status = RunStatusNoop
		telemetry.RecordSuccess(span)
		return o.finish(ctx, report), nil
	}

	r.logger.Info().Ints("blocks", indexes).Bool("dry_run", o.dryRun).Msg("Starting convergence")
	for _, i := range indexes {
		r.block = i
		if err := o.convergeBlock(ctx, r, doc.Configurations[i]); err != nil {
			report.Status = RunStatusCancelled
			report.Error = err.Error()
			telemetry.RecordError(span, err)
			return o.finish(ctx, report), err
		}
	}

	report.Status = statusOf(report)
	span.SetAttributes(telemetry.AttrRunStatus.String(string(report.Status)))
	if report.Status == RunStatusPartial {
		telemetry.RecordFailure(span, "partial convergence")
	} else {
		telemetry.RecordSuccess(span)
	}
	return o.finish(ctx, report), nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, report *Report, err error) *Report {
	report.Status = RunStatusFailed
	report.Error = err.Error()
	o.metrics.RecordError(string(ClassOf(err)), errorCode(err))
	return o.finish(ctx, report)
}

func (o *Orchestrator) finish(ctx context.Context, report *Report) *Report {
	report.CompletedAt = o.now()
	report.Summary = summarize(report)
	o.metrics.RecordRunCompleted(string(report.Status), report.Duration())

	o.logger.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("resources", report.Summary.Resources).
		Int("actions", report.Summary.Actions).
		Int("failed_actions", report.Summary.ActionsFailed).
		Dur("duration", report.Duration()).
		Msg("Convergence finished")

	if o.recorder != nil {
		// The report outlives a cancelled run, so it is stored without the run's deadline.
		if err := o.recorder.RecordRun(context.WithoutCancel(ctx), report); err != nil {
			o.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to record run")
		}
	}
	return report
}

// convergeBlock runs the stages of one block in their fixed order.
func (o *Orchestrator) convergeBlock(ctx context.Context, r *run, block ConfigurationBlock) error {
	ctx, span := telemetry.StartBlockSpan(ctx, o.tracer, r.block)
	defer span.End()

	stages := []func(context.Context, *run, ConfigurationBlock) error{
		o.convergeFeatures,
		o.convergeDirectories,
		o.convergeAppPools,
		o.convergeWebsites,
		o.convergeHosts,
		o.convergeEventLogs,
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage(ctx, r, block); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) convergeFeatures(ctx context.Context, r *run, block ConfigurationBlock) error {
	if block.TimeZone != "" {
		ref := ResourceRef{Kind: KindTimeZone, Name: "timezone"}
		_, err := o.process(ctx, r, ref, func(ctx context.Context) (*ResourcePlan, error) {
			current, err := o.system.FetchTimeZone(ctx)
			if err != nil {
				return nil, err
			}
			return PlanTimeZone(block.TimeZone, current), nil
		})
		if err != nil {
			return err
		}
	}

	if len(block.EnabledFeatures)+len(block.DisabledFeatures) == 0 {
		return nil
	}
	names := append(append([]string(nil), block.EnabledFeatures...), block.DisabledFeatures...)
	ref := ResourceRef{Kind: KindFeature, Name: "features"}
	_, err := o.process(ctx, r, ref, func(ctx context.Context) (*ResourcePlan, error) {
		observed, err := o.system.FetchFeatures(ctx, names)
		if err != nil {
			return nil, err
		}
		return PlanFeatures(block.EnabledFeatures, block.DisabledFeatures, observed), nil
	})
	return err
}

func (o *Orchestrator) convergeDirectories(ctx context.Context, r *run, block ConfigurationBlock) error {
	for _, dir := range block.Directories {
		dir := dir
		alive, err := o.process(ctx, r, DirectoryRef(dir.Path), func(ctx context.Context) (*ResourcePlan, error) {
			observed, err := absentIfNotFound(o.system.FetchDirectory(ctx, dir.Path))
			if err != nil {
				return nil, err
			}
			return o.converger.PlanDirectory(dir, observed), nil
		})
		if err != nil {
			return err
		}

		for _, share := range dir.Shares {
			share := share
			ref := ShareRef(dir.Path, share.Name)
			if !alive {
				o.skip(r, ref, "parent directory "+dir.Path+" was not converged")
				continue
			}
			if _, err := o.process(ctx, r, ref, func(ctx context.Context) (*ResourcePlan, error) {
				observed, err := absentIfNotFound(o.system.FetchShare(ctx, share.Name))
				if err != nil {
					return nil, err
				}
				return o.converger.PlanShare(dir.Path, share, observed), nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) convergeAppPools(ctx context.Context, r *run, block ConfigurationBlock) error {
	for _, pool := range block.AppPools {
		pool := pool
		props := o.converger.Resolver().PropertyRefs(KindAppPool, pool.AdvancedSettings)
		if _, err := o.process(ctx, r, AppPoolRef(pool.Name), func(ctx context.Context) (*ResourcePlan, error) {
			observed, err := absentIfNotFound(o.system.FetchAppPool(ctx, pool.Name, props))
			if err != nil {
				return nil, err
			}
			return o.converger.PlanAppPool(pool, observed), nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) convergeWebsites(ctx context.Context, r *run, block ConfigurationBlock) error {
	for _, site := range block.Websites {
		site := site
		props := o.converger.Resolver().PropertyRefs(KindWebsite, site.AdvancedSettings)
		alive, err := o.process(ctx, r, WebsiteRef(site.SiteName), func(ctx context.Context) (*ResourcePlan, error) {
			observed, err := absentIfNotFound(o.system.FetchSite(ctx, site.SiteName, props))
			if err != nil {
				return nil, err
			}
			return o.converger.PlanWebsite(site, observed), nil
		})
		if err != nil {
			return err
		}

		for _, app := range site.WebApps {
			app := app
			ref := WebAppRef(site.SiteName, app.Name)
			if !alive {
				o.skip(r, ref, "parent website "+site.SiteName+" was not converged")
				continue
			}
			appProps := o.converger.Resolver().PropertyRefs(KindWebApp, app.AdvancedSettings)
			if _, err := o.process(ctx, r, ref, func(ctx context.Context) (*ResourcePlan, error) {
				observed, err := absentIfNotFound(o.system.FetchWebApp(ctx, site.SiteName, app.Name, appProps))
				if err != nil {
					return nil, err
				}
				return o.converger.PlanWebApp(site.SiteName, app, observed), nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) convergeHosts(ctx context.Context, r *run, block ConfigurationBlock) error {
	if len(block.Hosts) == 0 {
		return nil
	}
	ref := ResourceRef{Kind: KindHostEntry, Name: "hosts"}
	_, err := o.process(ctx, r, ref, func(ctx context.Context) (*ResourcePlan, error) {
		observed, err := o.system.FetchHosts(ctx)
		if err != nil {
			return nil, err
		}
		return PlanHosts(block.Hosts, observed), nil
	})
	return err
}

func (o *Orchestrator) convergeEventLogs(ctx context.Context, r *run, block ConfigurationBlock) error {
	sources := make([]string, 0, len(block.EventLogs))
	for source := range block.EventLogs {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		source := source
		spec := block.EventLogs[source]
		if _, err := o.process(ctx, r, EventSourceRef(source), func(ctx context.Context) (*ResourcePlan, error) {
			observed, err := absentIfNotFound(o.system.FetchEventSource(ctx, source))
			if err != nil {
				return nil, err
			}
			return PlanEventSource(source, spec, observed), nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// process fetches, plans, checks policy and executes one resource. It reports whether
// the resource exists afterwards, which gates its nested resources. The error is
// non-nil only when ctx is done.
func (o *Orchestrator) process(
	ctx context.Context,
	r *run,
	ref ResourceRef,
	planFn func(context.Context) (*ResourcePlan, error),
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ctx, span := telemetry.StartResourceSpan(ctx, o.tracer, string(ref.Kind), ref.Name)
	result := ResourceResult{Resource: ref, Block: r.block}
	defer func() {
		span.SetAttributes(telemetry.AttrOutcome.String(string(result.Outcome)))
		switch result.Outcome {
		case OutcomeInSync, OutcomeCreated, OutcomeUpdated, OutcomePlanned:
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	logger := r.logger.With().Str("resource", ref.String()).Str("kind", string(ref.Kind)).Logger()

	plan, err := planFn(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		fetchErr := NewFatalError("failed to read resource", err).
			WithCode(ErrCodeFetchFailed).
			WithResource(ref.String())
		o.metrics.RecordError(string(ErrorClassFatal), ErrCodeFetchFailed)
		logger.Error().Err(err).Msg("Failed to read resource; skipping it and its nested resources")
		span.SetAttributes(
			telemetry.AttrErrorClass.String(string(ErrorClassFatal)),
			telemetry.AttrErrorCode.String(ErrCodeFetchFailed),
		)
		telemetry.RecordError(span, fetchErr)
		result.Outcome = OutcomeFailed
		result.Error = fetchErr.Error()
		o.record(r, result)
		return false, nil
	}

	result.Resource = plan.Resource
	for _, issue := range plan.Issues {
		logger.Warn().Err(issue).Msg("Skipping invalid item")
		o.metrics.RecordError(string(ErrorClassInput), errorCode(issue))
		result.Issues = append(result.Issues, issue.Error())
	}
	for _, w := range plan.Warnings {
		logger.Warn().Msg(w)
		result.Warnings = append(result.Warnings, w)
	}

	creates := len(plan.Actions) > 0 && plan.Actions[0].Kind.IsCreate()
	alive := plan.Exists || creates

	if len(plan.Actions) == 0 {
		result.Outcome = OutcomeInSync
		if !plan.Exists && len(plan.Issues) > 0 {
			result.Outcome = OutcomeSkipped
		}
		logger.Debug().Str("outcome", string(result.Outcome)).Msg("Resource has no pending actions")
		o.record(r, result)
		return alive, nil
	}

	if denied := o.checkPolicy(ctx, logger, plan, &result); denied {
		telemetry.RecordFailure(span, "denied by policy")
		o.record(r, result)
		return plan.Exists, nil
	}

	failed := false
	for i, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			o.record(r, result)
			return false, err
		}

		if o.dryRun {
			logger.Info().Str("action", string(action.Kind)).Msg("Would " + action.Description())
			result.Actions = append(result.Actions, ActionResult{Action: action, Status: ActionStatusPlanned})
			continue
		}

		start := o.now()
		err := o.executor.Apply(ctx, action)
		elapsed := o.now().Sub(start)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			result.Actions = append(result.Actions, ActionResult{Action: action, Status: ActionStatusFailed, Error: err.Error(), Duration: elapsed})
			o.record(r, result)
			return false, err
		}
		if err == nil {
			o.metrics.RecordAction(string(action.Kind), string(ActionStatusApplied), elapsed)
			logger.Info().Str("action", string(action.Kind)).Dur("duration", elapsed).Msg(action.Description())
			result.Actions = append(result.Actions, ActionResult{Action: action, Status: ActionStatusApplied, Duration: elapsed})
			continue
		}

		failed = true
		o.metrics.RecordAction(string(action.Kind), string(ActionStatusFailed), elapsed)
		o.metrics.RecordError(string(ClassOf(err)), errorCode(err))
		result.Actions = append(result.Actions, ActionResult{Action: action, Status: ActionStatusFailed, Error: err.Error(), Duration: elapsed})

		if action.Kind.IsCreate() || IsFatal(err) {
			logger.Error().Err(err).Str("action", string(action.Kind)).Msg("Resource could not be created; skipping its remaining actions")
			for _, rest := range plan.Actions[i+1:] {
				result.Actions = append(result.Actions, ActionResult{Action: rest, Status: ActionStatusSkipped})
				o.metrics.RecordAction(string(rest.Kind), string(ActionStatusSkipped), 0)
			}
			result.Outcome = OutcomeFailed
			result.Error = err.Error()
			telemetry.RecordError(span, err)
			o.record(r, result)
			return false, nil
		}
		logger.Warn().Err(err).Str("action", string(action.Kind)).Msg("Action failed; continuing")
	}

	switch {
	case o.dryRun:
		result.Outcome = OutcomePlanned
	case failed:
		result.Outcome = OutcomePartial
		telemetry.RecordFailure(span, "some actions failed")
	case creates:
		result.Outcome = OutcomeCreated
	default:
		result.Outcome = OutcomeUpdated
	}
	o.record(r, result)
	return alive, nil
}

// checkPolicy evaluates the plan and marks every action denied when it is not allowed.
// Evaluation errors deny the resource.
func (o *Orchestrator) checkPolicy(ctx context.Context, logger zerolog.Logger, plan *ResourcePlan, result *ResourceResult) bool {
	if o.policy == nil {
		return false
	}

	decision, err := o.policy.EvaluatePlan(ctx, plan)
	if err != nil {
		err = NewFatalError("policy evaluation failed", err).WithCode(ErrCodePolicyDenied).WithResource(plan.Resource.String())
		logger.Error().Err(err).Msg("Policy evaluation failed; not applying resource")
		o.deny(result, plan, err.Error())
		return true
	}

	for _, f := range decision.Findings {
		o.metrics.RecordPolicyViolation(f.Policy, string(f.Severity))
		result.Violations = append(result.Violations, f.String())
		if f.Severity == PolicySeverityError {
			logger.Error().Str("policy", f.Policy).Msg(f.Message)
		} else {
			logger.Warn().Str("policy", f.Policy).Msg(f.Message)
		}
	}

	if decision.Allowed {
		return false
	}
	o.deny(result, plan, "denied by policy")
	return true
}

func (o *Orchestrator) deny(result *ResourceResult, plan *ResourcePlan, reason string) {
	for _, action := range plan.Actions {
		result.Actions = append(result.Actions, ActionResult{Action: action, Status: ActionStatusDenied, Error: reason})
		o.metrics.RecordAction(string(action.Kind), string(ActionStatusDenied), 0)
	}
	o.metrics.RecordError(string(ErrorClassFatal), ErrCodePolicyDenied)
	result.Outcome = OutcomeFailed
	result.Error = reason
}

// skip records a nested resource that was not processed because its parent failed.
func (o *Orchestrator) skip(r *run, ref ResourceRef, reason string) {
	r.logger.Warn().Str("resource", ref.String()).Msg("Skipping nested resource: " + reason)
	err := NewFatalError(reason, nil).WithCode(ErrCodeDependencyFailed).WithResource(ref.String())
	o.record(r, ResourceResult{Resource: ref, Block: r.block, Outcome: OutcomeSkipped, Error: err.Error()})
}

func (o *Orchestrator) record(r *run, result ResourceResult) {
	o.metrics.RecordResource(string(result.Resource.Kind), string(result.Outcome))
	r.report.Resources = append(r.report.Resources, result)
}

// absentIfNotFound turns a NotFound fetch into an absent observed snapshot.
func absentIfNotFound[T any](observed *T, err error) (*T, error) {
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return observed, nil
}

func errorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func summarize(report *Report) ReportSummary {
	var s ReportSummary
	for _, res := range report.Resources {
		s.Resources++
		s.InputErrors += len(res.Issues)
		switch res.Outcome {
		case OutcomeInSync:
			s.InSync++
		case OutcomeCreated:
			s.Created++
		case OutcomeUpdated:
			s.Updated++
		case OutcomePlanned:
			s.Planned++
		case OutcomeFailed, OutcomePartial:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
		for _, a := range res.Actions {
			s.Actions++
			switch a.Status {
			case ActionStatusApplied:
				s.ActionsApplied++
			case ActionStatusFailed:
				s.ActionsFailed++
			case ActionStatusSkipped:
				s.ActionsSkipped++
			case ActionStatusDenied:
				s.ActionsDenied++
			}
		}
	}
	return s
}

func statusOf(report *Report) RunStatus {
	for _, res := range report.Resources {
		if res.Outcome.IsFailure() || len(res.Issues) > 0 {
			return RunStatusPartial
		}
		for _, a := range res.Actions {
			if a.Status.IsFailure() {
				return RunStatusPartial
			}
		}
	}
	return RunStatusSucceeded
}

// String renders a short summary of the report.
func (r *Report) String() string {
	return fmt.Sprintf("run %s on %s: %s (%d resources, %d actions, %d failed)",
		r.RunID, r.MachineID, r.Status, r.Summary.Resources, r.Summary.Actions, r.Summary.ActionsFailed)
}
