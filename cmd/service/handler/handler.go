package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
)

// HttpSrv HTTP服务结构
type HttpSrv struct {
	Core   *core.Core
	Engine *gin.Engine

	Machine       *v1.SessionStateMachine
	Orchestrators *v1.OrchestratorManager
	Presence      *v1.PresenceResolver
}
