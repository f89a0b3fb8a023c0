package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

// orchestrator resolves the calling user's orchestrator.
func (s *HttpSrv) orchestrator(c *gin.Context) (*v1.SessionOrchestrator, error) {
	claims, _ := v1.InjectTokenClaim(c)
	return s.Orchestrators.ForUser(c, claims.User)
}

type SessionView struct {
	Session     *types.SupportSession  `json:"session"`
	Messages    []types.SessionMessage `json:"messages"`
	State       v1.OrchestratorState   `json:"state"`
	Stale       bool                   `json:"stale"`
	FailedSends bool                   `json:"failed_sends"`
}

func sessionView(o *v1.SessionOrchestrator) SessionView {
	return SessionView{
		Session:     o.Session(),
		Messages:    o.Messages(),
		State:       o.State(),
		Stale:       o.IsSessionStale(),
		FailedSends: o.HasFailedMessages(),
	}
}

// GetMySession returns the caller's current session view.
func (s *HttpSrv) GetMySession(c *gin.Context) {
	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, sessionView(o))
}

// StartSession begins (or adopts) the caller's support session.
func (s *HttpSrv) StartSession(c *gin.Context) {
	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	session, err := o.StartSession(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	s.Core.Metrics().SessionStartedInc()
	response.APISuccess(c, session)
}

type SendMessageRequest struct {
	Content  string                `json:"content" form:"content" binding:"required"`
	Metadata types.MessageMetadata `json:"metadata" form:"metadata"`
}

// SendMessage queues the caller's message; the response carries the
// optimistic entry, confirmation arrives over the websocket.
func (s *HttpSrv) SendMessage(c *gin.Context) {
	var (
		err error
		req SendMessageRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	optimistic, err := o.SendMessage(c, req.Content, req.Metadata)
	if err != nil {
		s.Core.Metrics().MessageSentInc(string(types.SENDER_ROLE_USER), "error")
		response.APIError(c, err)
		return
	}

	s.Core.Metrics().MessageSentInc(string(types.SENDER_ROLE_USER), "ok")
	response.APISuccess(c, optimistic)
}

type EndSessionRequest struct {
	Reason string `json:"reason" form:"reason"`
}

// EndSession terminates the caller's session; repeating the call is a no-op.
func (s *HttpSrv) EndSession(c *gin.Context) {
	var (
		err error
		req EndSessionRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	if err = o.EndSession(c, req.Reason); err != nil {
		response.APIError(c, err)
		return
	}

	s.Core.Metrics().SessionEndedInc(req.Reason)
	response.APISuccess(c, nil)
}

// StartFreshSession ends the live session and immediately opens a new one.
func (s *HttpSrv) StartFreshSession(c *gin.Context) {
	var (
		err error
		req EndSessionRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	session, err := o.StartFreshSession(c, req.Reason)
	if err != nil {
		response.APIError(c, err)
		return
	}

	s.Core.Metrics().SessionStartedInc()
	response.APISuccess(c, session)
}

// RefreshSession forces a full reload of the caller's view.
func (s *HttpSrv) RefreshSession(c *gin.Context) {
	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	if err = o.RefreshSession(c); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, sessionView(o))
}

type RetryMessageRequest struct {
	MessageID string `json:"message_id" form:"message_id" binding:"required"`
}

// RetryFailedMessage resubmits a failed optimistic message.
func (s *HttpSrv) RetryFailedMessage(c *gin.Context) {
	var (
		err error
		req RetryMessageRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	o, err := s.orchestrator(c)
	if err != nil {
		response.APIError(c, err)
		return
	}

	if err = o.RetryFailedMessage(req.MessageID); err != nil {
		response.APIError(c, err)
		return
	}

	s.Core.Metrics().MessageRetryInc()
	response.APISuccess(c, nil)
}

type ListSessionsRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

// ListSessions pages the caller's session history.
func (s *HttpSrv) ListSessions(c *gin.Context) {
	var (
		err error
		req ListSessionsRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	sessions, err := v1.NewSessionLogic(c, s.Core, s.Machine).ListSessions(req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, sessions)
}

// GetSession returns one session with full history; participants only.
func (s *HttpSrv) GetSession(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	full, err := v1.NewSessionLogic(c, s.Core, s.Machine).GetSession(sessionID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, full)
}

// WaitingSessions lists the unclaimed queue for specialists.
func (s *HttpSrv) WaitingSessions(c *gin.Context) {
	sessions, err := v1.NewSessionLogic(c, s.Core, s.Machine).WaitingSessions()
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, sessions)
}

// ActivateSession claims a waiting session for the calling specialist.
func (s *HttpSrv) ActivateSession(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	session, err := v1.NewSessionLogic(c, s.Core, s.Machine).ActivateSession(sessionID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, session)
}

// EndSessionByID lets a specialist (or the owner) end any session they may
// moderate.
func (s *HttpSrv) EndSessionByID(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	var (
		err error
		req EndSessionRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	session, err := v1.NewSessionLogic(c, s.Core, s.Machine).EndSession(sessionID, req.Reason)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, session)
}

// SpecialistSendMessage writes into a claimed session.
func (s *HttpSrv) SpecialistSendMessage(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	var (
		err error
		req SendMessageRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	msg, err := v1.NewSessionLogic(c, s.Core, s.Machine).SendMessage(sessionID, req.Content, req.Metadata)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, msg)
}

type MarkReadRequest struct {
	Role types.SenderRole `json:"role" form:"role" binding:"required"`
}

// MarkRead marks the other side's messages as read.
func (s *HttpSrv) MarkRead(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	var (
		err error
		req MarkReadRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	if err = v1.NewSessionLogic(c, s.Core, s.Machine).MarkRead(sessionID, req.Role); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}

// SessionAudits returns the transition history of a session.
func (s *HttpSrv) SessionAudits(c *gin.Context) {
	sessionID, _ := c.Params.Get("sessionid")

	audits, err := v1.NewSessionLogic(c, s.Core, s.Machine).Audits(sessionID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, audits)
}
