// Package telemetry provides logging, tracing and metrics for winconverge.
//
// Logging uses zerolog, tracing uses OpenTelemetry with an OTLP gRPC or stdout
// exporter, and metrics are Prometheus collectors on a private registry.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch := engine.NewOrchestrator(system,
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithTracer(tel.Tracer),
//	    engine.WithMetrics(tel.Metrics),
//	)
//
// # Metrics
//
// The engine reports runs, resources by kind and outcome, actions by kind and
// status, errors by class and code, and policy findings. All Metrics methods
// are no-ops on a nil or disabled collector. Serve exposes the registry over
// HTTP until its context is cancelled:
//
//	go tel.Metrics.Serve(ctx)
//
// # Tracing
//
// Each run produces a "converge" span with one "block" span per matching
// configuration block and one "resource" span per converged resource. When
// tracing is disabled the global no-op provider is used.
package telemetry
