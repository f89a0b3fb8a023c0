package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/app/core/srv"
	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// SessionLogic covers the specialist/admin side of session management. User
// side flows ride the orchestrator.
type SessionLogic struct {
	ctx     context.Context
	core    *core.Core
	machine *SessionStateMachine
	UserInfo
}

func NewSessionLogic(ctx context.Context, core *core.Core, machine *SessionStateMachine) *SessionLogic {
	return &SessionLogic{
		ctx:      ctx,
		core:     core,
		machine:  machine,
		UserInfo: SetupUserInfo(ctx, core),
	}
}

// ActivateSession claims a waiting session for the calling specialist.
func (l *SessionLogic) ActivateSession(sessionID string) (*types.SupportSession, error) {
	claims := l.GetUserInfo()
	if !l.core.Srv().RBAC().CheckPermission(claims.Role, srv.PermissionModerate) {
		return nil, errors.New("SessionLogic.ActivateSession.permission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
	}

	session, err := l.machine.ActivateSession(l.ctx, sessionID, claims.User)
	if err != nil {
		return nil, errors.Trace("SessionLogic.ActivateSession", err)
	}
	return session, nil
}

// EndSession terminates a session. Specialists and admins may end any
// session, a user only their own.
func (l *SessionLogic) EndSession(sessionID, reason string) (*types.SupportSession, error) {
	if err := l.Identification(l.lazyRolerFromSessionID(sessionID), srv.PermissionModerate); err != nil {
		return nil, errors.Trace("SessionLogic.EndSession", err)
	}

	session, err := l.machine.EndSession(l.ctx, sessionID, l.GetUserInfo().User, reason)
	if err != nil {
		return nil, errors.Trace("SessionLogic.EndSession", err)
	}

	l.core.Metrics().SessionEndedInc(reason)
	return session, nil
}

// GetSession returns the session with its full message history. Storage
// enforces participant access.
func (l *SessionLogic) GetSession(sessionID string) (*store.SessionWithMessages, error) {
	full, err := l.core.Store().GetSessionWithMessages(l.ctx, sessionID, l.GetUserInfo().User)
	if err != nil {
		return nil, errors.Trace("SessionLogic.GetSession", err)
	}
	return full, nil
}

// ListSessions pages through the calling user's session history.
func (l *SessionLogic) ListSessions(page, pageSize uint64) ([]types.SupportSession, error) {
	sessions, err := l.core.Store().SupportSessionStore().List(l.ctx, l.GetUserInfo().User, page, pageSize)
	if err != nil {
		return nil, errors.New("SessionLogic.ListSessions.SupportSessionStore.List", i18n.ERROR_INTERNAL, err)
	}
	return sessions, nil
}

// WaitingSessions lists sessions nobody has claimed yet, oldest first.
func (l *SessionLogic) WaitingSessions() ([]types.SupportSession, error) {
	claims := l.GetUserInfo()
	if !l.core.Srv().RBAC().CheckPermission(claims.Role, srv.PermissionModerate) {
		return nil, errors.New("SessionLogic.WaitingSessions.permission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
	}

	sessions, err := l.core.Store().SupportSessionStore().ListWaitingBefore(l.ctx, time.Now().Unix()+1)
	if err != nil {
		return nil, errors.New("SessionLogic.WaitingSessions.SupportSessionStore.ListWaitingBefore", i18n.ERROR_INTERNAL, err)
	}
	return sessions, nil
}

// SendMessage lets a claimed specialist write into the session. User sends
// go through the orchestrator's optimistic pipeline instead.
func (l *SessionLogic) SendMessage(sessionID, content string, metadata types.MessageMetadata) (*types.SupportMessage, error) {
	claims := l.GetUserInfo()
	if !l.core.Srv().RBAC().CheckPermission(claims.Role, srv.PermissionModerate) {
		return nil, errors.New("SessionLogic.SendMessage.permission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
	}

	msg, err := l.core.Store().SendMessageAtomic(l.ctx, types.CreateMessageArgs{
		SessionID:      sessionID,
		SenderID:       claims.User,
		SenderRole:     types.SENDER_ROLE_SPECIALIST,
		Content:        content,
		MessageType:    types.MESSAGE_TYPE_TEXT,
		Metadata:       metadata,
		IdempotencyKey: "",
	})
	if err != nil {
		l.core.Metrics().MessageSentInc(string(types.SENDER_ROLE_SPECIALIST), "error")
		return nil, errors.Trace("SessionLogic.SendMessage", err)
	}

	l.core.Metrics().MessageSentInc(string(types.SENDER_ROLE_SPECIALIST), "ok")
	return msg, nil
}

// MarkRead marks the other side's messages as read.
func (l *SessionLogic) MarkRead(sessionID string, readerRole types.SenderRole) error {
	if _, err := l.GetSession(sessionID); err != nil {
		return err
	}
	if err := l.core.Store().SupportMessageStore().MarkRead(l.ctx, sessionID, readerRole); err != nil {
		return errors.New("SessionLogic.MarkRead.SupportMessageStore.MarkRead", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

// Audits returns the transition history of a session.
func (l *SessionLogic) Audits(sessionID string) ([]types.SessionAudit, error) {
	if err := l.Identification(l.lazyRolerFromSessionID(sessionID), srv.PermissionModerate); err != nil {
		return nil, errors.Trace("SessionLogic.Audits", err)
	}

	audits, err := l.core.Store().SessionAuditStore().ListBySession(l.ctx, sessionID)
	if err != nil {
		return nil, errors.New("SessionLogic.Audits.SessionAuditStore.ListBySession", i18n.ERROR_INTERNAL, err)
	}
	return audits, nil
}
