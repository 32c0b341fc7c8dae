package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-grants/storage"
)

// clientModel is the oauth_clients row. List fields are JSON encoded.
type clientModel struct {
	ClientID         string    `gorm:"column:client_id;primaryKey;type:varchar(255)"`
	ClientSecretHash string    `gorm:"column:client_secret_hash;type:varchar(255)"`
	ClientType       string    `gorm:"column:client_type;type:varchar(20);not null"`
	ClientName       string    `gorm:"column:client_name;type:varchar(255)"`
	RedirectURIs     string    `gorm:"column:redirect_uris;type:text"`
	GrantTypes       string    `gorm:"column:grant_types;type:text"`
	Scopes           string    `gorm:"column:scopes;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (clientModel) TableName() string { return "oauth_clients" }

// codeModel is the oauth_codes row
type codeModel struct {
	Code                string     `gorm:"column:code;primaryKey;type:varchar(255)"`
	ClientID            string     `gorm:"column:client_id;type:varchar(255);not null"`
	Principal           string     `gorm:"column:principal;type:varchar(255)"`
	Scope               string     `gorm:"column:scope;type:text"`
	RedirectURI         string     `gorm:"column:redirect_uri;type:text"`
	RedirectURIProvided bool       `gorm:"column:redirect_uri_provided"`
	State               string     `gorm:"column:state;type:text"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	ExpiresAt           time.Time  `gorm:"column:expires_at;index"`
	Used                bool       `gorm:"column:used;not null;default:false"`
	UsedAt              *time.Time `gorm:"column:used_at"`
}

func (codeModel) TableName() string { return "oauth_codes" }

// tokenModel is the oauth_tokens row. A NULL expires_at means the token never expires.
type tokenModel struct {
	Value        string     `gorm:"column:value;primaryKey;type:varchar(255)"`
	Kind         string     `gorm:"column:kind;type:varchar(16);not null"`
	ClientID     string     `gorm:"column:client_id;type:varchar(255);not null;index:idx_oauth_tokens_principal_client,priority:2"`
	Principal    string     `gorm:"column:principal;type:varchar(255);index:idx_oauth_tokens_principal_client,priority:1"`
	Scope        string     `gorm:"column:scope;type:text"`
	IssuedAt     time.Time  `gorm:"column:issued_at"`
	ExpiresAt    *time.Time `gorm:"column:expires_at;index"`
	RefreshToken string     `gorm:"column:refresh_token;type:varchar(255);index"`
	FamilyID     string     `gorm:"column:family_id;type:varchar(255);index"`
	Generation   int        `gorm:"column:generation"`
	Revoked      bool       `gorm:"column:revoked;not null;default:false"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
}

func (tokenModel) TableName() string { return "oauth_tokens" }

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func fromOptional(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func encodeList(list []string) (string, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func newClientModel(c *storage.Client) (*clientModel, error) {
	redirects, err := encodeList(c.RedirectURIs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode redirect URIs: %w", err)
	}
	grants, err := encodeList(c.GrantTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant types: %w", err)
	}
	scopes, err := encodeList(c.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scopes: %w", err)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &clientModel{
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		ClientType:       c.ClientType,
		ClientName:       c.ClientName,
		RedirectURIs:     redirects,
		GrantTypes:       grants,
		Scopes:           scopes,
		CreatedAt:        createdAt.UTC(),
	}, nil
}

func (m *clientModel) toClient() (*storage.Client, error) {
	redirects, err := decodeList(m.RedirectURIs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode redirect URIs of client %q: %w", m.ClientID, err)
	}
	grants, err := decodeList(m.GrantTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode grant types of client %q: %w", m.ClientID, err)
	}
	scopes, err := decodeList(m.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scopes of client %q: %w", m.ClientID, err)
	}

	return &storage.Client{
		ClientID:         m.ClientID,
		ClientSecretHash: m.ClientSecretHash,
		ClientType:       m.ClientType,
		ClientName:       m.ClientName,
		RedirectURIs:     redirects,
		GrantTypes:       grants,
		Scopes:           scopes,
		CreatedAt:        m.CreatedAt,
	}, nil
}

func newCodeModel(c *storage.AuthorizationCode) *codeModel {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &codeModel{
		Code:                c.Code,
		ClientID:            c.ClientID,
		Principal:           c.Principal,
		Scope:               c.Scope,
		RedirectURI:         c.RedirectURI,
		RedirectURIProvided: c.RedirectURIProvided,
		State:               c.State,
		CreatedAt:           createdAt.UTC(),
		ExpiresAt:           c.ExpiresAt.UTC(),
		Used:                c.Used,
		UsedAt:              optionalTime(c.UsedAt),
	}
}

func (m *codeModel) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                m.Code,
		ClientID:            m.ClientID,
		Principal:           m.Principal,
		Scope:               m.Scope,
		RedirectURI:         m.RedirectURI,
		RedirectURIProvided: m.RedirectURIProvided,
		State:               m.State,
		CreatedAt:           m.CreatedAt,
		ExpiresAt:           m.ExpiresAt,
		Used:                m.Used,
		UsedAt:              fromOptional(m.UsedAt),
	}
}

func newTokenModel(t *storage.Token) *tokenModel {
	issuedAt := t.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	return &tokenModel{
		Value:        t.Value,
		Kind:         t.Kind,
		ClientID:     t.ClientID,
		Principal:    t.Principal,
		Scope:        t.Scope,
		IssuedAt:     issuedAt.UTC(),
		ExpiresAt:    optionalTime(t.ExpiresAt),
		RefreshToken: t.RefreshToken,
		FamilyID:     t.FamilyID,
		Generation:   t.Generation,
		Revoked:      t.Revoked,
		RevokedAt:    optionalTime(t.RevokedAt),
	}
}

func (m *tokenModel) toToken() *storage.Token {
	return &storage.Token{
		Value:        m.Value,
		Kind:         m.Kind,
		ClientID:     m.ClientID,
		Principal:    m.Principal,
		Scope:        m.Scope,
		IssuedAt:     m.IssuedAt,
		ExpiresAt:    fromOptional(m.ExpiresAt),
		RefreshToken: m.RefreshToken,
		FamilyID:     m.FamilyID,
		Generation:   m.Generation,
		Revoked:      m.Revoked,
		RevokedAt:    fromOptional(m.RevokedAt),
	}
}
