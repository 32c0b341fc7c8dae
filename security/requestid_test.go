package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("GenerateRequestID() = %q is not a UUID: %v", id, err)
		}
		if !isValidRequestID(id) {
			t.Fatalf("generated id %q must pass validation", id)
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "uuid", id: "6f1c2a9e-0b7d-4c2f-9a51-1d2e3f4a5b6c", want: true},
		{name: "underscore", id: "req_123", want: true},
		{name: "empty", id: "", want: false},
		{name: "crlf injection", id: "abc\r\nSet-Cookie: x=y", want: false},
		{name: "space", id: "abc def", want: false},
		{name: "too long", id: strings.Repeat("a", 129), want: false},
		{name: "max length", id: strings.Repeat("a", 128), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.id); got != tt.want {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstreamID string
		wantKept   bool
	}{
		{name: "no upstream id", upstreamID: "", wantKept: false},
		{name: "valid upstream id", upstreamID: "upstream-42", wantKept: true},
		{name: "invalid upstream id", upstreamID: "bad id!", wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.upstreamID != "" {
				r.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			respID := w.Header().Get(RequestIDHeader)
			if respID == "" {
				t.Fatal("response is missing X-Request-ID")
			}
			if respID != ctxID {
				t.Errorf("context id %q differs from response id %q", ctxID, respID)
			}
			if kept := respID == tt.upstreamID; kept != tt.wantKept {
				t.Errorf("upstream id kept = %v, want %v", kept, tt.wantKept)
			}
		})
	}
}
