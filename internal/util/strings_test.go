package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than max", input: "short", maxLen: 10, want: "short"},
		{name: "exact length", input: "exact", maxLen: 5, want: "exact"},
		{name: "truncated", input: "authorization_code", maxLen: 8, want: "authoriz"},
		{name: "zero", input: "abc", maxLen: 0, want: ""},
		{name: "negative", input: "abc", maxLen: -1, want: ""},
		{name: "empty", input: "", maxLen: 4, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  []string
	}{
		{name: "empty", scope: "", want: []string{}},
		{name: "single", scope: "read", want: []string{"read"}},
		{name: "extra whitespace", scope: "  read   write ", want: []string{"read", "write"}},
		{name: "duplicates", scope: "read write read", want: []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScope(tt.scope)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScope(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestNormalizeScope(t *testing.T) {
	if got := NormalizeScope(" read  write read "); got != "read write" {
		t.Errorf("NormalizeScope() = %q, want %q", got, "read write")
	}
}

func TestScopeSubset(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		granted   string
		want      bool
	}{
		{name: "empty request", requested: "", granted: "read", want: true},
		{name: "equal", requested: "read write", granted: "write read", want: true},
		{name: "narrower", requested: "read", granted: "read write", want: true},
		{name: "wider", requested: "read admin", granted: "read write", want: false},
		{name: "nothing granted", requested: "read", granted: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeSubset(tt.requested, tt.granted); got != tt.want {
				t.Errorf("ScopeSubset(%q, %q) = %v, want %v", tt.requested, tt.granted, got, tt.want)
			}
		})
	}
}
