package srv

import (
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/socket/firetower"
)

type Srv struct {
	rbac  *RBACSrv
	tower *Tower
}

type ApplyFunc func(*Srv)

func SetupSrvs(opts ...ApplyFunc) *Srv {
	a := &Srv{
		rbac: SetupRBACSrv(), // 角色鉴权
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (s *Srv) RBAC() *RBACSrv {
	return s.rbac
}

func (t *Tower) Pusher() *firetower.SelfPusher[firetower.PublishData] {
	return t.pusher
}

func (s *Srv) Tower() *Tower {
	return s.tower
}
