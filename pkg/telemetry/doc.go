// Package telemetry provides the observability stack for shipshape:
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and the run event bus.
//
// The CLI assembles one Telemetry per process and hands the pieces
// down: the zerolog instance goes to the engine, script evaluator, and
// connectors; the Bus is wired as the engine's event publisher; the
// tracer and metric set stay with the CLI, which wraps the deploy
// phases in spans and folds the finished report into the metrics.
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(printProgress, nil)
//	report, err := eng.Execute(ctx, plan, resolver)
//	tel.Metrics.RecordReport(report)
//
// The Bus delivers events to subscribers in publish order on a single
// dispatch goroutine; Publish never blocks the engine and drops on a
// full buffer instead.
package telemetry
