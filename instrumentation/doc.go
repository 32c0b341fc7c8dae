// Package instrumentation provides OpenTelemetry instrumentation for the grant engine.
//
// When disabled, no-op providers are used and instrumentation has no overhead. When
// enabled, SDK meter and tracer providers are built; metrics can be exported in the
// Prometheus exposition format and spans sent to any sdktrace.SpanExporter.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "oauth-grants",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	store.SetInstrumentation(inst)
//	http.Handle("/metrics", promhttp.Handler())
//
// Meters and tracers are scoped per layer: "http", "server", "storage" and "security".
//
// Never record credential values (codes, tokens, secrets) as span attributes or metric
// labels. Client ids, grant types and scopes are fine.
package instrumentation
