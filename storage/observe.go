package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-grants/instrumentation"
)

// Observer traces and meters store operations for a backend. A nil Observer is valid
// and records nothing.
type Observer struct {
	inst    *instrumentation.Instrumentation
	tracer  trace.Tracer
	backend string
}

// NewObserver returns an Observer reporting under the given backend name
// ("memory", "redis", "sql").
func NewObserver(inst *instrumentation.Instrumentation, backend string) *Observer {
	if inst == nil {
		return nil
	}
	return &Observer{
		inst:    inst,
		tracer:  inst.Tracer("storage"),
		backend: backend,
	}
}

// Start opens a "storage.<operation>" span. The returned func ends it and records the
// operation metric; pass it the address of the operation's named error result:
//
//	ctx, done := s.obs.Start(ctx, "get_client")
//	defer done(&err)
func (o *Observer) Start(ctx context.Context, operation string) (context.Context, func(*error)) {
	if o == nil {
		return ctx, func(*error) {}
	}

	startTime := time.Now()
	ctx, span := o.tracer.Start(ctx, "storage."+operation, trace.WithSpanKind(trace.SpanKindClient))
	instrumentation.AddStorageAttributes(span, operation, o.backend)

	return ctx, func(errp *error) {
		defer span.End()

		result := "success"
		if errp != nil && *errp != nil {
			result = "error"
			instrumentation.RecordError(span, *errp)
		} else {
			instrumentation.SetSpanSuccess(span)
		}

		durationMs := float64(time.Since(startTime).Microseconds()) / 1000
		o.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
	}
}
