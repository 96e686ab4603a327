package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/winconverge/winconverge/pkg/engine"
)

// Engine evaluates Rego policies over resource plans. It implements
// engine.PolicyEvaluator.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	mode     Mode
	logger   zerolog.Logger
}

var _ engine.PolicyEvaluator = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	mode              Mode
	protectedAccounts []string
	schemaRoots       []string
}

// WithMode sets the enforcement mode. The default is enforcing.
func WithMode(mode Mode) EngineOption {
	return func(c *engineConfig) { c.mode = mode }
}

// WithProtectedAccounts replaces the accounts protect-admin-access guards.
func WithProtectedAccounts(accounts ...string) EngineOption {
	return func(c *engineConfig) { c.protectedAccounts = accounts }
}

// WithSchemaRoots replaces the sections schema-path-scope allows.
func WithSchemaRoots(roots ...string) EngineOption {
	return func(c *engineConfig) { c.schemaRoots = roots }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{
		mode:              ModeEnforcing,
		protectedAccounts: DefaultProtectedAccounts,
		schemaRoots:       DefaultSchemaRoots,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := inmem.NewFromObject(map[string]interface{}{
		dataRoot: map[string]interface{}{
			protectedAccountsDataKey:  toInterfaces(cfg.protectedAccounts),
			allowedSchemaRootsDataKey: toInterfaces(cfg.schemaRoots),
		},
	})

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    store,
		mode:     cfg.mode,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Mode returns the enforcement mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// EvaluatePlan evaluates every enabled policy against a resource plan.
// In enforcing mode an error finding disallows the plan; in advisory mode
// findings are reported and the plan is always allowed.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.ResourcePlan) (*engine.PolicyDecision, error) {
	decision := &engine.PolicyDecision{Allowed: true}
	if e.mode == ModeDisabled {
		return decision, nil
	}

	violations, err := e.Evaluate(ctx, NewPolicyInput(plan))
	if err != nil {
		return nil, err
	}

	for _, v := range violations {
		decision.Findings = append(decision.Findings, v.Finding())
		if v.Severity == SeverityError && e.mode == ModeEnforcing {
			decision.Allowed = false
		}
	}
	return decision, nil
}

// Evaluate runs every enabled policy against input, in policy name order.
// Any evaluation error is returned; callers treat it as a denial.
func (e *Engine) Evaluate(ctx context.Context, input *PolicyInput) ([]Violation, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("resource", input.Resource.ID).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}
		violations = append(violations, found...)
	}

	e.logger.Debug().
		Str("resource", input.Resource.ID).
		Int("violations", len(violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Policy evaluation completed")

	return violations, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	var violations []Violation
	for _, rule := range []struct {
		name     string
		severity Severity
	}{
		{"deny", cp.policy.Severity},
		{"warn", SeverityWarning},
	} {
		set, _ := doc[rule.name].([]interface{})
		for _, item := range set {
			violations = append(violations, createViolation(cp.policy, rule.severity, item, input))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from a deny or warn member.
func createViolation(policy *Policy, severity Severity, result interface{}, input *PolicyInput) Violation {
	if severity == "" {
		severity = SeverityError
	}
	violation := Violation{
		Policy:   policy.Name,
		Resource: input.Resource.ID,
		Severity: severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it, replacing any
// policy with the same name.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		builtins[i].LoadedAt = time.Now()
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// LoadPolicies loads .rego and .json policy files from paths. A file whose
// policy name matches a built-in replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storePolicies(ctx, policies)
}

func (e *Engine) storePolicies(ctx context.Context, policies []Policy) error {
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies resets the engine to the built-in policies plus policies.
// On a compile error the previous policy set stays in place.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		e.policies = previous
		return err
	}
	if err := e.storePolicies(ctx, policies); err != nil {
		e.policies = previous
		return err
	}
	return nil
}

// Watch reloads the policies under paths whenever a policy file changes,
// until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
