package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

// Atomic RPCs. Each runs inside a single transaction and announces committed
// rows on the change feed, mirroring what a stored procedure plus logical
// replication would give us.

// DuplicateWindowSeconds bounds the server-side content duplicate check.
const DuplicateWindowSeconds = 10

func (p *Provider) lockUser(ctx context.Context, userID string) error {
	tx := p.GetTxFromCtx(ctx)
	if tx == nil {
		return fmt.Errorf("lockUser called outside transaction")
	}
	// serializes concurrent session starts and sends for one user
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID)
	return err
}

// PublishChange announces a committed row to feed subscribers.
func (p *Provider) PublishChange(table types.TableName, kind types.ChangeKind, oldRow, newRow any, filterField, filterValue string) {
	ev, err := types.NewChangeEvent(table, kind, oldRow, newRow)
	if err != nil {
		slog.Error("failed to build change event", slog.String("table", string(table)), slog.String("error", err.Error()))
		return
	}
	p.publishChange(ev, filterField, filterValue)
}

func (p *Provider) StartSessionAtomic(ctx context.Context, userID string) (*types.SupportSession, error) {
	var created *types.SupportSession

	err := p.Transaction(ctx, func(ctx context.Context) error {
		if err := p.lockUser(ctx, userID); err != nil {
			return errors.New("Provider.StartSessionAtomic.lockUser", i18n.ERROR_INTERNAL, err)
		}

		live, err := p.SupportSessionStore().GetLiveByUser(ctx, userID)
		if err != nil {
			return errors.New("Provider.StartSessionAtomic.GetLiveByUser", i18n.ERROR_INTERNAL, err)
		}
		if live != nil {
			return errors.New("Provider.StartSessionAtomic.exists", i18n.ERROR_SESSION_EXISTS, nil).Code(http.StatusConflict)
		}

		number, err := p.SupportSessionStore().NextSessionNumber(ctx, userID)
		if err != nil {
			return errors.New("Provider.StartSessionAtomic.NextSessionNumber", i18n.ERROR_INTERNAL, err)
		}

		now := time.Now().Unix()
		session := types.SupportSession{
			ID:             utils.GenUniqIDStr(),
			UserID:         userID,
			Status:         types.SESSION_STATUS_WAITING,
			SessionNumber:  number,
			StartedAt:      now,
			LastActivityAt: now,
		}
		if err := p.SupportSessionStore().Create(ctx, session); err != nil {
			return errors.New("Provider.StartSessionAtomic.Create", i18n.ERROR_INTERNAL, err)
		}

		created = &session
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.PublishChange(types.TABLE_SUPPORT_SESSION, types.CHANGE_KIND_INSERT, nil, created, "user_id", created.UserID)
	return created, nil
}

func (p *Provider) SendMessageAtomic(ctx context.Context, args types.CreateMessageArgs) (*types.SupportMessage, error) {
	var (
		created *types.SupportMessage
		session *types.SupportSession
		replay  bool
	)

	err := p.Transaction(ctx, func(ctx context.Context) error {
		var err error
		session, err = p.SupportSessionStore().Get(ctx, args.SessionID)
		if err != nil {
			return errors.New("Provider.SendMessageAtomic.Get", i18n.ERROR_INTERNAL, err)
		}
		if session == nil {
			return errors.New("Provider.SendMessageAtomic.notfound", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
		}
		if session.Status == types.SESSION_STATUS_ENDED {
			return errors.New("Provider.SendMessageAtomic.ended", i18n.ERROR_SESSION_ENDED, nil).Code(http.StatusGone)
		}
		if !senderAllowed(session, args.SenderID, args.SenderRole) {
			return errors.New("Provider.SendMessageAtomic.permission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
		}

		if err := p.lockUser(ctx, session.UserID); err != nil {
			return errors.New("Provider.SendMessageAtomic.lockUser", i18n.ERROR_INTERNAL, err)
		}

		// a replayed idempotency key returns the original row unchanged
		if args.IdempotencyKey != "" {
			existing, err := p.SupportMessageStore().GetByIdempotencyKey(ctx, args.SessionID, args.IdempotencyKey)
			if err != nil {
				return errors.New("Provider.SendMessageAtomic.GetByIdempotencyKey", i18n.ERROR_INTERNAL, err)
			}
			if existing != nil {
				created = existing
				replay = true
				return nil
			}
		}

		// two in-flight sends can both pass the caller's pre-flight duplicate
		// check before either row lands. The advisory lock serializes them
		// here, so re-check inside the transaction and adopt the winner's row.
		dup, err := p.SupportMessageStore().GetRecentDuplicate(ctx, args.SessionID, args.SenderID, args.Content, time.Now().Unix()-DuplicateWindowSeconds)
		if err != nil {
			return errors.New("Provider.SendMessageAtomic.GetRecentDuplicate", i18n.ERROR_INTERNAL, err)
		}
		if dup != nil {
			created = dup
			replay = true
			return nil
		}

		now := time.Now().Unix()
		msg := types.SupportMessage{
			ID:             utils.GenUniqIDStr(),
			SessionID:      args.SessionID,
			SenderID:       args.SenderID,
			SenderRole:     args.SenderRole,
			Content:        args.Content,
			MessageType:    args.MessageType,
			Metadata:       args.Metadata,
			IdempotencyKey: args.IdempotencyKey,
			CreatedAt:      now,
		}
		if msg.MessageType == "" {
			msg.MessageType = types.MESSAGE_TYPE_TEXT
		}
		if err := p.SupportMessageStore().Create(ctx, msg); err != nil {
			return errors.New("Provider.SendMessageAtomic.Create", i18n.ERROR_INTERNAL, err)
		}
		if err := p.SupportSessionStore().TouchActivity(ctx, args.SessionID, now); err != nil {
			return errors.New("Provider.SendMessageAtomic.TouchActivity", i18n.ERROR_INTERNAL, err)
		}

		created = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		p.PublishChange(types.TABLE_SUPPORT_MESSAGE, types.CHANGE_KIND_INSERT, nil, created, "session_id", created.SessionID)
	}
	return created, nil
}

func senderAllowed(session *types.SupportSession, senderID string, role types.SenderRole) bool {
	switch role {
	case types.SENDER_ROLE_USER:
		return session.UserID == senderID
	case types.SENDER_ROLE_SPECIALIST:
		return session.SpecialistID != nil && *session.SpecialistID == senderID
	case types.SENDER_ROLE_SYSTEM:
		return true
	}
	return false
}

func (p *Provider) EndSessionAtomic(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error) {
	var (
		ended *types.SupportSession
		old   types.SupportSession
	)

	err := p.Transaction(ctx, func(ctx context.Context) error {
		session, err := p.SupportSessionStore().Get(ctx, sessionID)
		if err != nil {
			return errors.New("Provider.EndSessionAtomic.Get", i18n.ERROR_INTERNAL, err)
		}
		if session == nil {
			return errors.New("Provider.EndSessionAtomic.notfound", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
		}
		if session.Status == types.SESSION_STATUS_ENDED {
			return errors.New("Provider.EndSessionAtomic.already_ended", i18n.ERROR_ALREADY_ENDED, nil).Code(http.StatusGone)
		}

		old = *session
		now := time.Now().Unix()
		session.Status = types.SESSION_STATUS_ENDED
		session.EndedAt = &now
		session.EndReason = &reason
		session.LastActivityAt = now

		if err := p.SupportSessionStore().UpdateTransition(ctx, session); err != nil {
			return errors.New("Provider.EndSessionAtomic.UpdateTransition", i18n.ERROR_INTERNAL, err)
		}

		snapshot, _ := json.Marshal(session)
		if err := p.SessionAuditStore().Append(ctx, types.SessionAudit{
			SessionID:  sessionID,
			FromStatus: old.Status,
			ToStatus:   types.SESSION_STATUS_ENDED,
			ActorID:    actorID,
			Reason:     reason,
			Snapshot:   string(snapshot),
			CreatedAt:  now,
		}); err != nil {
			return errors.New("Provider.EndSessionAtomic.Append", i18n.ERROR_INTERNAL, err)
		}

		ended = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.PublishChange(types.TABLE_SUPPORT_SESSION, types.CHANGE_KIND_UPDATE, &old, ended, "id", ended.ID)
	return ended, nil
}

// LatestSession returns the user's most recent session regardless of status,
// nil when the user never started one.
func (p *Provider) LatestSession(ctx context.Context, userID string) (*types.SupportSession, error) {
	session, err := p.SupportSessionStore().GetLatestByUser(ctx, userID)
	if err != nil {
		return nil, errors.New("Provider.LatestSession.GetLatestByUser", i18n.ERROR_INTERNAL, err)
	}
	return session, nil
}

func (p *Provider) CheckMessageDuplicate(ctx context.Context, sessionID, senderID, content string) (bool, error) {
	since := time.Now().Unix() - DuplicateWindowSeconds
	return p.SupportMessageStore().ExistsRecentDuplicate(ctx, sessionID, senderID, content, since)
}

func (p *Provider) GetSessionWithMessages(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
	session, err := p.SupportSessionStore().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.New("Provider.GetSessionWithMessages.Get", i18n.ERROR_INTERNAL, err)
	}
	if session == nil {
		return nil, errors.New("Provider.GetSessionWithMessages.notfound", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	if session.UserID != userID && (session.SpecialistID == nil || *session.SpecialistID != userID) {
		return nil, errors.New("Provider.GetSessionWithMessages.permission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
	}

	messages, err := p.SupportMessageStore().ListBySession(ctx, sessionID, types.NO_PAGING, types.NO_PAGING)
	if err != nil {
		return nil, errors.New("Provider.GetSessionWithMessages.ListBySession", i18n.ERROR_INTERNAL, err)
	}

	return &store.SessionWithMessages{
		Session:  session,
		Messages: messages,
	}, nil
}
