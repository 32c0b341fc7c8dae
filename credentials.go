package oauth

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth-grants/server"
)

// ExtractClientCredentials reads the client id and secret of a token request.
//
// An Authorization: Basic header wins over client_id and client_secret parameters.
// A Basic value without a colon is taken as both the client id and the secret. A
// header that is not a well-formed Basic value is ignored.
func ExtractClientCredentials(header http.Header, values url.Values) server.ClientCredentials {
	if creds, ok := parseBasicAuth(header.Get("Authorization")); ok {
		return creds
	}

	return server.ClientCredentials{
		ClientID:     values.Get("client_id"),
		ClientSecret: values.Get("client_secret"),
	}
}

func parseBasicAuth(auth string) (server.ClientCredentials, bool) {
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return server.ClientCredentials{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(prefix):]))
	if err != nil || len(decoded) == 0 {
		return server.ClientCredentials{}, false
	}

	id, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		secret = id
	}
	return server.ClientCredentials{ClientID: id, ClientSecret: secret}, true
}
