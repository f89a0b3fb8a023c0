package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/auth"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/security"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

const tokenTTL = 30 * 24 * time.Hour

type AuthLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewAuthLogic(ctx context.Context, core *core.Core) *AuthLogic {
	return &AuthLogic{
		ctx:  ctx,
		core: core,
	}
}

// IssueToken mints a signed access token and primes the cache so the first
// request does not pay for signature verification.
func (l *AuthLogic) IssueToken(userID, role string) (string, error) {
	expiresAt := time.Now().Add(tokenTTL).Unix()
	token, err := security.GenerateJWT(security.NewTokenClaims(userID, role, expiresAt), []byte(l.core.Cfg().Security.EncryptKey))
	if err != nil {
		return "", errors.New("AuthLogic.IssueToken.GenerateJWT", i18n.ERROR_INTERNAL, err)
	}

	if err := auth.CacheToken(l.ctx, token, types.UserTokenMeta{
		UserID:    userID,
		Role:      role,
		ExpiresAt: expiresAt,
	}, l.core.Cache()); err != nil {
		return "", errors.Trace("AuthLogic.IssueToken", err)
	}
	return token, nil
}

// Validate resolves the token to its claims, cache first, signature second.
func (l *AuthLogic) Validate(token string) (security.TokenClaims, error) {
	if meta, err := auth.ValidateTokenFromCache(l.ctx, token, l.core.Cache()); err == nil {
		return security.TokenClaims{
			User:       meta.UserID,
			Role:       meta.Role,
			ExpireTime: meta.ExpiresAt,
		}, nil
	}

	claims, err := security.VerifyToken(token, []byte(l.core.Cfg().Security.EncryptKey))
	if err != nil {
		return security.TokenClaims{}, errors.New("AuthLogic.Validate.VerifyToken", i18n.ERROR_INVALID_TOKEN, err).Code(http.StatusUnauthorized)
	}

	// a signature-verified token is worth caching for the rest of its life
	_ = auth.CacheToken(l.ctx, token, types.UserTokenMeta{
		UserID:    claims.User,
		Role:      claims.Role,
		ExpiresAt: claims.ExpireTime,
	}, l.core.Cache())

	return *claims, nil
}
