package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/giantswarm/oauth-grants/storage"
)

func TestError_Is(t *testing.T) {
	err := newError(InvalidGrant, "Invalid authorization code", storage.ErrAuthorizationCodeExpired)

	if !errors.Is(err, ErrInvalidGrant) {
		t.Error("errors.Is(err, ErrInvalidGrant) = false, want true")
	}
	if errors.Is(err, ErrInvalidClient) {
		t.Error("errors.Is(err, ErrInvalidClient) = true, want false")
	}
	if !errors.Is(err, storage.ErrAuthorizationCodeExpired) {
		t.Error("cause should be reachable through Unwrap")
	}

	wrapped := fmt.Errorf("token request: %w", err)
	if KindOf(wrapped) != InvalidGrant {
		t.Errorf("KindOf(wrapped) = %s, want invalid_grant", KindOf(wrapped))
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"without cause", newError(InvalidScope, "Bad scope", nil), "invalid_scope: Bad scope"},
		{"with cause", newError(InvalidClient, "Client authentication failed", errors.New("boom")), "invalid_client: Client authentication failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	if got := UnsupportedGrantType.String(); got != "unsupported_grant_type" {
		t.Errorf("String() = %q, want unsupported_grant_type", got)
	}
	if got := ErrorKind(99).String(); got != "error_kind(99)" {
		t.Errorf("String() = %q, want error_kind(99)", got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != 0 {
		t.Errorf("KindOf(plain) = %s, want 0", got)
	}
	if got := KindOf(nil); got != 0 {
		t.Errorf("KindOf(nil) = %s, want 0", got)
	}
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "Storage timed out"},
		{"backend", fmt.Errorf("%w: connection refused", storage.ErrUnavailable), "Storage unavailable"},
		{"other", errors.New("disk on fire"), "Storage failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unavailable("get client", tt.err)
			if err.Kind != ServiceUnavailable {
				t.Errorf("Kind = %s, want service_unavailable", err.Kind)
			}
			if err.Description != tt.want {
				t.Errorf("Description = %q, want %q", err.Description, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause should be wrapped")
			}
		})
	}
}
