package oauth

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/giantswarm/oauth-grants/server"
)

func basic(value string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(value))
}

func TestExtractClientCredentials(t *testing.T) {
	form := url.Values{"client_id": {"form-id"}, "client_secret": {"form-secret"}}

	tests := []struct {
		name   string
		auth   string
		values url.Values
		want   server.ClientCredentials
	}{
		{
			name:   "form parameters",
			values: form,
			want:   server.ClientCredentials{ClientID: "form-id", ClientSecret: "form-secret"},
		},
		{
			name:   "basic header wins",
			auth:   basic("C1:S1"),
			values: form,
			want:   server.ClientCredentials{ClientID: "C1", ClientSecret: "S1"},
		},
		{
			name: "basic without colon",
			auth: basic("C1"),
			want: server.ClientCredentials{ClientID: "C1", ClientSecret: "C1"},
		},
		{
			name: "secret containing colon",
			auth: basic("C1:a:b"),
			want: server.ClientCredentials{ClientID: "C1", ClientSecret: "a:b"},
		},
		{
			name: "lower case scheme",
			auth: "basic " + base64.StdEncoding.EncodeToString([]byte("C1:S1")),
			want: server.ClientCredentials{ClientID: "C1", ClientSecret: "S1"},
		},
		{
			name:   "malformed header falls back to form",
			auth:   "Basic !!!",
			values: form,
			want:   server.ClientCredentials{ClientID: "form-id", ClientSecret: "form-secret"},
		},
		{
			name:   "bearer header ignored",
			auth:   "Bearer abc",
			values: form,
			want:   server.ClientCredentials{ClientID: "form-id", ClientSecret: "form-secret"},
		},
		{
			name:   "public client",
			values: url.Values{"client_id": {"native"}},
			want:   server.ClientCredentials{ClientID: "native"},
		},
		{
			name: "nothing",
			want: server.ClientCredentials{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}

			got := ExtractClientCredentials(header, tt.values)
			if got != tt.want {
				t.Errorf("ExtractClientCredentials() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
