package memory

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/testutil"
	"github.com/giantswarm/oauth-grants/storage"
	"github.com/giantswarm/oauth-grants/storage/storagetest"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store := New()
	t.Cleanup(store.Stop)
	return store
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupStore(t)
	})
}

func TestStore_Cleanup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	expiredCode := testutil.AuthorizationCode("c1", "alice", "https://app/cb", -time.Minute)
	liveCode := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
	if err := store.SaveAuthorizationCode(ctx, expiredCode); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := store.SaveAuthorizationCode(ctx, liveCode); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	expiredAccess, _ := testutil.TokenPair("c1", "alice", -time.Minute)
	expiredAccess.RefreshToken = ""
	if err := store.SaveTokenPair(ctx, expiredAccess, nil); err != nil {
		t.Fatalf("SaveTokenPair() error = %v", err)
	}

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	refresh.ExpiresAt = time.Time{}
	if err := store.SaveTokenPair(ctx, access, refresh); err != nil {
		t.Fatalf("SaveTokenPair() error = %v", err)
	}

	if got := store.Cleanup(); got != 2 {
		t.Errorf("Cleanup() = %d, want 2", got)
	}
	if _, err := store.GetAuthorizationCode(ctx, liveCode.Code); err != nil {
		t.Errorf("live code removed: %v", err)
	}
	if _, err := store.GetToken(ctx, refresh.Value); err != nil {
		t.Errorf("non-expiring refresh token removed: %v", err)
	}
}

func TestStore_Cleanup_RevokedRetention(t *testing.T) {
	store := setupStore(t)
	store.SetRevokedRetention(0)
	ctx := context.Background()

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	if err := store.SaveTokenPair(ctx, access, refresh); err != nil {
		t.Fatalf("SaveTokenPair() error = %v", err)
	}
	if err := store.RevokeToken(ctx, refresh.Value); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if got := store.Cleanup(); got != 2 {
		t.Errorf("Cleanup() = %d, want 2", got)
	}
	if len(store.children) != 0 || len(store.families) != 0 {
		t.Errorf("indexes not cleaned: children=%d families=%d", len(store.children), len(store.families))
	}
}

func TestStore_Instrumentation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MetricReader:  reader,
		SpanProcessor: recorder,
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	store := setupStore(t)
	store.SetInstrumentation(inst)

	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.PublicClient("c1", "https://app/cb")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if _, err := store.GetClient(ctx, "missing"); err == nil {
		t.Fatal("GetClient() expected error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "storage.save_client" {
		t.Errorf("span name = %q, want storage.save_client", spans[0].Name())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var clients int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && m.Name == "storage.clients.count" {
				clients = g.DataPoints[0].Value
			}
		}
	}
	if clients != 1 {
		t.Errorf("storage.clients.count = %d, want 1", clients)
	}
}

func TestStore_SetLogger(t *testing.T) {
	var buf bytes.Buffer
	store := setupStore(t)
	store.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	code := testutil.AuthorizationCode("c1", "alice", "", time.Minute)
	if err := store.SaveAuthorizationCode(context.Background(), code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte("Saved authorization code")) {
		t.Error("expected debug log from custom logger")
	}
	if bytes.Contains(buf.Bytes(), []byte(code.Code)) {
		t.Error("full code value must not be logged")
	}
}

func TestStore_StopIdempotent(t *testing.T) {
	store := NewWithInterval(10 * time.Millisecond)
	store.Stop()
	store.Stop()
}
