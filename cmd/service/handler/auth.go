package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

type CreateAccessTokenRequest struct {
	UserID string `json:"user_id" form:"user_id" binding:"required"`
	Role   string `json:"role" form:"role" binding:"required"`
}

// CreateAccessToken mints a token for a user. Identity itself lives outside
// this service, so only admins may call this.
func (s *HttpSrv) CreateAccessToken(c *gin.Context) {
	var (
		err error
		req CreateAccessTokenRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	token, err := v1.NewAuthLogic(c, s.Core).IssueToken(req.UserID, req.Role)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, gin.H{"token": token})
}
