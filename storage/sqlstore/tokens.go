package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// SaveTokenPair stores an access token and its optional refresh token
func (s *Store) SaveTokenPair(ctx context.Context, access, refresh *storage.Token) (err error) {
	ctx, done := s.obs.Start(ctx, "save_token_pair")
	defer done(&err)

	if err = storage.ValidateTokenPair(access, refresh); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertTokens(tx, access, refresh)
	})
}

// insertTokens writes new token rows. Refresh tokens go first so access rows never
// reference a missing parent.
func insertTokens(tx *gorm.DB, access, refresh *storage.Token) error {
	models := make([]*tokenModel, 0, 2)
	if refresh != nil {
		models = append(models, newTokenModel(refresh))
	}
	models = append(models, newTokenModel(access))

	values := make([]string, len(models))
	for i, m := range models {
		values[i] = m.Value
	}

	var existing int64
	if err := tx.Model(&tokenModel{}).Where("value IN ?", values).Count(&existing).Error; err != nil {
		return wrapErr("save tokens", err)
	}
	if existing > 0 {
		return storage.ErrAlreadyExists
	}

	err := tx.Create(models).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return wrapErr("save tokens", err)
	}
	return nil
}

// GetToken retrieves a token of either kind
func (s *Store) GetToken(ctx context.Context, value string) (_ *storage.Token, err error) {
	ctx, done := s.obs.Start(ctx, "get_token")
	defer done(&err)

	model, err := takeToken(s.db.WithContext(ctx), value)
	if err != nil {
		return nil, err
	}

	token := model.toToken()
	if err = storage.CheckUsable(token); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			return token, err
		}
		return nil, err
	}
	return token, nil
}

// ExchangeRefreshToken validates the presented refresh token and stores the successor
// tokens in one transaction. With rotation a conditional UPDATE revokes the presented
// token; a caller whose UPDATE affects no row lost the race and sees ErrTokenRevoked.
func (s *Store) ExchangeRefreshToken(ctx context.Context, ex storage.RefreshExchange) (_ *storage.Token, err error) {
	ctx, done := s.obs.Start(ctx, "exchange_refresh_token")
	defer done(&err)

	if err = storage.ValidateTokenPair(ex.Access, ex.Refresh); err != nil {
		return nil, err
	}

	var old *storage.Token
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := takeToken(tx, ex.RefreshToken)
		if err != nil {
			return err
		}

		old = model.toToken()
		if err := storage.CheckRefreshable(old, ex.ClientID); err != nil {
			return err
		}

		access := ex.Access.Clone()
		if ex.Refresh == nil {
			access.RefreshToken = old.Value
			return insertTokens(tx, access, nil)
		}
		access.RefreshToken = ex.Refresh.Value

		now := time.Now().UTC()
		claimed, err := revokeWhere(tx, now, "value = ?", old.Value)
		if err != nil {
			return err
		}
		if claimed == 0 {
			// lost the race to a concurrent exchange
			model, err := takeToken(tx, ex.RefreshToken)
			if err != nil {
				return err
			}
			old = model.toToken()
			return storage.ErrTokenRevoked
		}
		old.Revoked = true
		old.RevokedAt = now

		if _, err := revokeWhere(tx, now, "kind = ? AND refresh_token = ?", storage.TokenKindAccess, old.Value); err != nil {
			return err
		}
		return insertTokens(tx, access, ex.Refresh)
	})

	if errors.Is(err, storage.ErrTokenRevoked) {
		return old, err
	}
	if err != nil {
		return nil, err
	}
	return old, nil
}

// RevokeToken revokes a token and, for refresh tokens, the access tokens minted from it
func (s *Store) RevokeToken(ctx context.Context, value string) (err error) {
	ctx, done := s.obs.Start(ctx, "revoke_token")
	defer done(&err)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := takeToken(tx, value)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if model.Kind == storage.TokenKindRefresh {
			_, err = revokeWhere(tx, now,
				"value = ? OR (kind = ? AND refresh_token = ?)",
				value, storage.TokenKindAccess, value)
		} else {
			_, err = revokeWhere(tx, now, "value = ?", value)
		}
		return err
	})
}

// RevokeFamily revokes every token of a refresh token family
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (_ int, err error) {
	ctx, done := s.obs.Start(ctx, "revoke_family")
	defer done(&err)

	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}

	var revoked int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var members []string
		err := tx.Model(&tokenModel{}).
			Where("family_id = ? AND kind = ?", familyID, storage.TokenKindRefresh).
			Pluck("value", &members).Error
		if err != nil {
			return wrapErr("read family", err)
		}
		if len(members) == 0 {
			return nil
		}

		revoked, err = revokeWhere(tx, time.Now().UTC(),
			"value IN ? OR (kind = ? AND refresh_token IN ?)",
			members, storage.TokenKindAccess, members)
		return err
	})
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		s.logger.Info("Revoked refresh token family",
			"family_id", familyID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// RevokeAllTokensForPrincipalClient revokes every token a client holds on behalf of a principal
func (s *Store) RevokeAllTokensForPrincipalClient(ctx context.Context, principal, clientID string) (_ int, err error) {
	ctx, done := s.obs.Start(ctx, "revoke_principal_client")
	defer done(&err)

	if principal == "" || clientID == "" {
		return 0, fmt.Errorf("principal and client ID cannot be empty")
	}

	revoked, err := revokeWhere(s.db.WithContext(ctx), time.Now().UTC(),
		"principal = ? AND client_id = ?", principal, clientID)
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		s.logger.Info("Revoked all tokens for principal and client",
			"principal_hash", security.HashForLogging(principal),
			"client_id", clientID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// revokeWhere revokes the unrevoked tokens matching the condition and returns how many
// changed state.
func revokeWhere(db *gorm.DB, now time.Time, query string, args ...any) (int, error) {
	result := db.Model(&tokenModel{}).
		Where("revoked = ?", false).
		Where("("+query+")", args...).
		Updates(map[string]any{"revoked": true, "revoked_at": now})
	if result.Error != nil {
		return 0, wrapErr("revoke tokens", result.Error)
	}
	return int(result.RowsAffected), nil
}

func takeToken(db *gorm.DB, value string) (*tokenModel, error) {
	var model tokenModel
	err := db.Where("value = ?", value).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, wrapErr("get token", err)
	}
	return &model, nil
}
