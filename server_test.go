package oauth

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/server"
	"github.com/giantswarm/oauth-grants/storage/memory"
)

func newGrants(t *testing.T) *server.Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	grants, err := server.NewWithStore(store, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("server.NewWithStore() error = %v", err)
	}
	return grants
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(newGrants(t), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()

	if srv.Config == nil || srv.Logger == nil {
		t.Fatal("defaults should be applied")
	}
	if srv.RateLimiter != nil {
		t.Error("rate limiting should be off by default")
	}
	if srv.Auditor != nil {
		t.Error("audit logging should be off by default")
	}
}

func TestNewServer_RequiresGrants(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Error("NewServer(nil) should fail")
	}
}

func TestNewServer_AuditLogging(t *testing.T) {
	var buf bytes.Buffer
	grants := newGrants(t)

	srv, err := NewServer(grants, &Config{
		EnableAuditLogging: true,
		Logger:             slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()

	if srv.Auditor == nil {
		t.Fatal("Auditor should be created")
	}
	if grants.Auditor != srv.Auditor {
		t.Error("the grant engine should share the auditor")
	}
}

func TestNewServer_RateLimiter(t *testing.T) {
	srv, err := NewServer(newGrants(t), &Config{
		RateLimit: RateLimitConfig{Rate: 5},
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()

	if srv.RateLimiter == nil {
		t.Fatal("RateLimiter should be created")
	}
	if srv.Config.RateLimit.Burst != 5 {
		t.Errorf("Burst = %d, want the rate", srv.Config.RateLimit.Burst)
	}
}

func TestServer_SetInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	srv, err := NewServer(newGrants(t), &Config{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Close()

	srv.SetInstrumentation(inst)
	if srv.Instrumentation != inst {
		t.Error("Instrumentation should be set")
	}

	if h := NewHandler(srv, nil); h.tracer == nil {
		t.Error("handler tracer should be set")
	}
}
