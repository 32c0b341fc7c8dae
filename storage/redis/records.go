package redis

import (
	"time"

	"github.com/giantswarm/oauth-grants/storage"
)

// Records are stored as JSON. Timestamps are Unix milliseconds so the Lua scripts can
// compare them as plain numbers; zero means unset. No field uses omitempty because the
// scripts read every field.

type codeRecord struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	Principal           string `json:"principal"`
	Scope               string `json:"scope"`
	RedirectURI         string `json:"redirect_uri"`
	RedirectURIProvided bool   `json:"redirect_uri_provided"`
	State               string `json:"state"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
	UsedAt              int64  `json:"used_at"`
}

type tokenRecord struct {
	Value        string `json:"value"`
	Kind         string `json:"kind"`
	ClientID     string `json:"client_id"`
	Principal    string `json:"principal"`
	Scope        string `json:"scope"`
	IssuedAt     int64  `json:"issued_at"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	FamilyID     string `json:"family_id"`
	Generation   int    `json:"generation"`
	Revoked      bool   `json:"revoked"`
	RevokedAt    int64  `json:"revoked_at"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func newCodeRecord(c *storage.AuthorizationCode) codeRecord {
	return codeRecord{
		Code:                c.Code,
		ClientID:            c.ClientID,
		Principal:           c.Principal,
		Scope:               c.Scope,
		RedirectURI:         c.RedirectURI,
		RedirectURIProvided: c.RedirectURIProvided,
		State:               c.State,
		CreatedAt:           toMillis(c.CreatedAt),
		ExpiresAt:           toMillis(c.ExpiresAt),
		Used:                c.Used,
		UsedAt:              toMillis(c.UsedAt),
	}
}

func (r codeRecord) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                r.Code,
		ClientID:            r.ClientID,
		Principal:           r.Principal,
		Scope:               r.Scope,
		RedirectURI:         r.RedirectURI,
		RedirectURIProvided: r.RedirectURIProvided,
		State:               r.State,
		CreatedAt:           fromMillis(r.CreatedAt),
		ExpiresAt:           fromMillis(r.ExpiresAt),
		Used:                r.Used,
		UsedAt:              fromMillis(r.UsedAt),
	}
}

func newTokenRecord(t *storage.Token) tokenRecord {
	return tokenRecord{
		Value:        t.Value,
		Kind:         t.Kind,
		ClientID:     t.ClientID,
		Principal:    t.Principal,
		Scope:        t.Scope,
		IssuedAt:     toMillis(t.IssuedAt),
		ExpiresAt:    toMillis(t.ExpiresAt),
		RefreshToken: t.RefreshToken,
		FamilyID:     t.FamilyID,
		Generation:   t.Generation,
		Revoked:      t.Revoked,
		RevokedAt:    toMillis(t.RevokedAt),
	}
}

func (r tokenRecord) toToken() *storage.Token {
	return &storage.Token{
		Value:        r.Value,
		Kind:         r.Kind,
		ClientID:     r.ClientID,
		Principal:    r.Principal,
		Scope:        r.Scope,
		IssuedAt:     fromMillis(r.IssuedAt),
		ExpiresAt:    fromMillis(r.ExpiresAt),
		RefreshToken: r.RefreshToken,
		FamilyID:     r.FamilyID,
		Generation:   r.Generation,
		Revoked:      r.Revoked,
		RevokedAt:    fromMillis(r.RevokedAt),
	}
}
