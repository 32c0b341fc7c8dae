// Package server implements the OAuth 2.0 grant engine.
//
// The engine issues authorization codes and exchanges them, client credentials and
// refresh tokens for access tokens. It consumes parsed request parameters and returns
// typed results; HTTP handling lives in the root oauth package.
//
// Dispatch is the entry point for token requests:
//
//	srv, err := server.NewWithStore(memory.New(), &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := srv.Dispatch(ctx, "authorization_code",
//	    server.ClientCredentials{ClientID: id, ClientSecret: secret},
//	    url.Values{"code": {code}, "redirect_uri": {"https://app/cb"}})
//
// Every failure is an *Error carrying an ErrorKind, and errors.Is matches it against
// the sentinels (ErrInvalidGrant, ErrInvalidClient, ...). Grant-level failures never
// reveal which check failed; the reason goes to the debug log and the audit log.
//
// Security properties:
//   - at most one redemption per authorization code, even under concurrent requests
//   - refresh token rotation with family revocation on reuse
//   - revoking all of a principal's tokens for a client when a redeemed code is replayed
//   - access tokens never outlive the refresh token they were issued with
package server
