package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-grants/instrumentation"
)

// startSpan opens an "oauth.server.<operation>" span for a grant operation
func (s *Server) startSpan(ctx context.Context, operation, grantType, clientID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "oauth.server."+operation)
	instrumentation.AddGrantAttributes(span, grantType, clientID, "")
	return ctx, span
}

// endSpan records the outcome of a grant operation on its span
func endSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
		if kind := KindOf(err); kind != 0 {
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, kind.String()))
		}
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// grantResult is the metric label for a grant outcome
func grantResult(err error) string {
	if err == nil {
		return "success"
	}
	if kind := KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}

func (s *Server) recordGrantRequest(ctx context.Context, grantType string, err error) {
	if s.metrics != nil {
		s.metrics.RecordGrantRequest(ctx, grantType, grantResult(err))
	}
}

func (s *Server) recordCodeIssued(ctx context.Context, clientID string) {
	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, clientID)
	}
}

func (s *Server) recordCodeRedeemed(ctx context.Context, clientID string) {
	if s.metrics != nil {
		s.metrics.RecordCodeRedeemed(ctx, clientID)
	}
}

func (s *Server) recordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, grantType, withRefresh)
	}
}

func (s *Server) recordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, clientID, rotated)
	}
}

func (s *Server) recordRevocation(ctx context.Context, reason string, count int) {
	if s.metrics != nil && count > 0 {
		s.metrics.RecordTokenRevocation(ctx, reason, count)
	}
}

func (s *Server) recordCodeReuse(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.RecordCodeReuseDetected(ctx)
	}
}

func (s *Server) recordTokenReuse(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.RecordTokenReuseDetected(ctx)
	}
}
