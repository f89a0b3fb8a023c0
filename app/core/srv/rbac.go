package srv

import (
	"net/http"

	"github.com/mikespook/gorbac/v2"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/security"
)

const (
	// 定义权限ID
	PermissionAdmin    = "admin"
	PermissionModerate = "moderate" // activate/end sessions, publish presence
	PermissionChat     = "chat"
)

func SetupRBACSrv() *RBACSrv {
	rbac := gorbac.New()

	// 创建权限
	pAdmin := gorbac.NewStdPermission(PermissionAdmin)
	pModerate := gorbac.NewStdPermission(PermissionModerate)
	pChat := gorbac.NewStdPermission(PermissionChat)

	// 创建角色并分配权限
	roleAdmin := gorbac.NewStdRole(security.ROLE_ADMIN)
	roleAdmin.Assign(pAdmin)

	roleSpecialist := gorbac.NewStdRole(security.ROLE_SPECIALIST)
	roleSpecialist.Assign(pModerate)

	roleUser := gorbac.NewStdRole(security.ROLE_USER)
	roleUser.Assign(pChat)

	rbac.Add(roleAdmin)
	rbac.Add(roleSpecialist)
	rbac.Add(roleUser)

	// 设置角色继承关系
	rbac.SetParent(security.ROLE_SPECIALIST, security.ROLE_USER)
	rbac.SetParent(security.ROLE_ADMIN, security.ROLE_SPECIALIST)

	return &RBACSrv{
		rbac: rbac,
	}
}

type RBACSrv struct {
	rbac *gorbac.RBAC
}

// CheckPermission 检查角色是否有某权限
func (a *RBACSrv) CheckPermission(roleID, permissionID string) bool {
	return a.rbac.IsGranted(roleID, gorbac.NewStdPermission(permissionID), nil)
}

type RoleObject interface {
	GetUser() (string, error)
}

type LazyRoler struct {
	f      func() (string, error)
	userID string
}

func (s *LazyRoler) GetUser() (string, error) {
	if s.userID == "" {
		var err error
		if s.userID, err = s.f(); err != nil {
			return "", err
		}
	}
	return s.userID, nil
}

func NewRolerWithLazyload(f func() (string, error)) *LazyRoler {
	return &LazyRoler{
		f: f,
	}
}

type RoleUser interface {
	GetRole() string
	GetUser() string
}

// 权限不足时回退到资源归属校验，资源属于该用户则放行
func (a *RBACSrv) Check(user RoleUser, obj RoleObject, permissionID string) *errors.CustomizedError {
	if !a.CheckPermission(user.GetRole(), permissionID) {
		resourceUser, err := obj.GetUser()
		if err != nil {
			return errors.Trace("RBACSrv.Check", err)
		}
		if user.GetUser() != resourceUser {
			return errors.New("RBACSrv.Check.ClientUser", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
		}
	}
	return nil
}
