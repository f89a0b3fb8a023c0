package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

type SetManualStatusRequest struct {
	Status  types.PresenceStatus `json:"status" form:"status" binding:"required"`
	Message string               `json:"message" form:"message"`
}

// SetManualStatus pins the calling specialist's presence.
func (s *HttpSrv) SetManualStatus(c *gin.Context) {
	var (
		err error
		req SetManualStatusRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	if err = v1.NewPresenceLogic(c, s.Core, s.Presence).SetManualStatus(req.Status, req.Message); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

// ClearManualStatus drops the manual override, presence falls back to the
// calendar or offline.
func (s *HttpSrv) ClearManualStatus(c *gin.Context) {
	if err := v1.NewPresenceLogic(c, s.Core, s.Presence).ClearManualStatus(); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

type SetCalendarControlledRequest struct {
	Controlled bool `json:"controlled" form:"controlled"`
}

// SetCalendarControlled switches the specialist between calendar-driven and
// default presence.
func (s *HttpSrv) SetCalendarControlled(c *gin.Context) {
	var (
		err error
		req SetCalendarControlledRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	if err = v1.NewPresenceLogic(c, s.Core, s.Presence).SetCalendarControlled(req.Controlled); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

// NotifyCalendarChanged lets the scheduler (or the specialist's client)
// signal a calendar change; recompute happens after the batching debounce.
func (s *HttpSrv) NotifyCalendarChanged(c *gin.Context) {
	if err := v1.NewPresenceLogic(c, s.Core, s.Presence).NotifyCalendarChanged(); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

// GetSpecialistStatus returns one specialist's presence row.
func (s *HttpSrv) GetSpecialistStatus(c *gin.Context) {
	specialistID, _ := c.Params.Get("specialistid")

	status, err := v1.NewPresenceLogic(c, s.Core, s.Presence).GetStatus(specialistID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, status)
}

type ListStatusesRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

// ListSpecialistStatuses pages all specialist presence rows.
func (s *HttpSrv) ListSpecialistStatuses(c *gin.Context) {
	var (
		err error
		req ListStatusesRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	statuses, err := v1.NewPresenceLogic(c, s.Core, s.Presence).ListStatuses(req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, statuses)
}
