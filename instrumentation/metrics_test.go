package instrumentation

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	return inst.Metrics(), reader
}

// sumOf returns the total of an int64 counter across all data points matching attr
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string, attr *attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if attr != nil {
					v, ok := dp.Attributes.Value(attr.Key)
					if !ok || v != attr.Value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := setupMetrics(t)
	ctx := context.Background()

	m.RecordGrantRequest(ctx, "authorization_code", "success")
	m.RecordGrantRequest(ctx, "authorization_code", "invalid_grant")
	m.RecordGrantRequest(ctx, "refresh_token", "success")
	m.RecordCodeIssued(ctx, "c1")
	m.RecordCodeRedeemed(ctx, "c1")
	m.RecordTokenIssued(ctx, "authorization_code", true)
	m.RecordTokenRefresh(ctx, "c1", true)
	m.RecordTokenRevocation(ctx, "family_reuse", 4)
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordRateLimitExceeded(ctx, "ip")

	tests := []struct {
		name   string
		metric string
		attr   *attribute.KeyValue
		want   int64
	}{
		{name: "all grant requests", metric: "oauth.grant.requests", want: 3},
		{name: "successful grant requests", metric: "oauth.grant.requests", attr: ptr(attribute.String("result", "success")), want: 2},
		{name: "codes issued", metric: "oauth.code.issued", want: 1},
		{name: "codes redeemed", metric: "oauth.code.redeemed", want: 1},
		{name: "tokens issued", metric: "oauth.token.issued", want: 1},
		{name: "tokens refreshed", metric: "oauth.token.refreshed", want: 1},
		{name: "tokens revoked", metric: "oauth.token.revoked", want: 4},
		{name: "code reuse", metric: "oauth.code.reuse_detected", want: 1},
		{name: "token reuse", metric: "oauth.token.reuse_detected", want: 1},
		{name: "rate limited", metric: "oauth.rate_limit.exceeded", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumOf(t, reader, tt.metric, tt.attr); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.metric, got, tt.want)
			}
		})
	}
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m, reader := setupMetrics(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "POST", "/oauth2/token", 200, 12.5)
	m.RecordHTTPRequest(ctx, "POST", "/oauth2/token", 400, 3.0)

	if got := sumOf(t, reader, "oauth.http.requests.total", nil); got != 2 {
		t.Errorf("oauth.http.requests.total = %d, want 2", got)
	}
	status := attribute.Int("status", 400)
	if got := sumOf(t, reader, "oauth.http.requests.total", &status); got != 1 {
		t.Errorf("oauth.http.requests.total{status=400} = %d, want 1", got)
	}
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	m, reader := setupMetrics(t)
	ctx := context.Background()

	m.RecordStorageOperation(ctx, "redeem_authorization_code", "success", 0.4)
	m.RecordStorageOperation(ctx, "redeem_authorization_code", "error", 0.2)

	errResult := attribute.String("result", "error")
	if got := sumOf(t, reader, "storage.operation.total", &errResult); got != 1 {
		t.Errorf("storage.operation.total{result=error} = %d, want 1", got)
	}
}

func ptr[T any](v T) *T { return &v }
