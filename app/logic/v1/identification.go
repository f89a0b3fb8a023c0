package v1

import (
	"context"
	"log/slog"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/app/core/srv"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/security"
)

type _userInfo struct {
	ctx  context.Context
	core *core.Core
	u    *security.TokenClaims
}

func (u *_userInfo) GetUserInfo() security.TokenClaims {
	return *u.u
}

func (u *_userInfo) Identification(roler srv.RoleObject, permission string) error {
	if err := u.core.Srv().RBAC().Check(u.GetUserInfo(), roler, permission); err != nil {
		return err
	}
	return nil
}

// 通过会话ID获取该会话归属的用户ID
func (u *_userInfo) lazyRolerFromSessionID(sessionID string) *srv.LazyRoler {
	return srv.NewRolerWithLazyload(func() (string, error) {
		session, err := u.core.Store().SupportSessionStore().Get(u.ctx, sessionID)
		if err != nil {
			return "", errors.New("_userInfo.RolerWithLazyload", i18n.ERROR_INTERNAL, err)
		}
		if session == nil {
			return "", nil
		}
		return session.UserID, nil
	})
}

func SetupUserInfo(ctx context.Context, core *core.Core) UserInfo {
	userInfo, ok := InjectTokenClaim(ctx)
	if !ok {
		slog.Error("Not found user in context", slog.String("component", "logic.v1.setupUserInfo"))
		userInfo = security.TokenClaims{}
	}
	return &_userInfo{
		ctx:  ctx,
		u:    &userInfo,
		core: core,
	}
}

type UserInfo interface {
	GetUserInfo() security.TokenClaims
	Identification(roler srv.RoleObject, permission string) error
	lazyRolerFromSessionID(sessionID string) *srv.LazyRoler
}
