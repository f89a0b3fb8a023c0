package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/safe"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// Transactioner runs fn inside one storage transaction. The sqlstore
// provider satisfies it.
type Transactioner interface {
	Transaction(ctx context.Context, next func(ctx context.Context) error) error
}

// SessionStateMachine owns every status transition of a support session.
// Transitions for the same session are queued and drained serially by a
// single goroutine, a mid-flight transition is never raced by another.
type SessionStateMachine struct {
	sessions store.SupportSessionStore
	audits   store.SessionAuditStore
	tx       Transactioner
	pub      store.FeedPublisher

	mu     sync.Mutex
	queues map[string]*transitionQueue
}

type transitionQueue struct {
	tasks    []func()
	draining bool
}

func NewSessionStateMachine(sessions store.SupportSessionStore, audits store.SessionAuditStore, tx Transactioner, pub store.FeedPublisher) *SessionStateMachine {
	return &SessionStateMachine{
		sessions: sessions,
		audits:   audits,
		tx:       tx,
		pub:      pub,
		queues:   make(map[string]*transitionQueue),
	}
}

func (m *SessionStateMachine) enqueue(sessionID string, fn func()) {
	m.mu.Lock()
	q, ok := m.queues[sessionID]
	if !ok {
		q = &transitionQueue{}
		m.queues[sessionID] = q
	}
	q.tasks = append(q.tasks, fn)
	if !q.draining {
		q.draining = true
		safe.Go("session-state-queue", func() {
			m.drain(sessionID, q)
		})
	}
	m.mu.Unlock()
}

func (m *SessionStateMachine) drain(sessionID string, q *transitionQueue) {
	for {
		m.mu.Lock()
		if len(q.tasks) == 0 {
			q.draining = false
			delete(m.queues, sessionID)
			m.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		m.mu.Unlock()
		task()
	}
}

// Transition moves sessionID from "from" to "to", persisting the new state
// and an immutable audit row in one transaction. The call blocks until its
// queued turn completes.
func (m *SessionStateMachine) Transition(ctx context.Context, sessionID string, from, to types.SessionStatus, actorID, reason string) (*types.SupportSession, error) {
	type outcome struct {
		session *types.SupportSession
		err     error
	}
	done := make(chan outcome, 1)

	m.enqueue(sessionID, func() {
		session, err := m.transition(ctx, sessionID, from, to, actorID, reason)
		done <- outcome{session: session, err: err}
	})

	select {
	case out := <-done:
		return out.session, out.err
	case <-ctx.Done():
		return nil, errors.Trace("SessionStateMachine.Transition", ctx.Err())
	}
}

func (m *SessionStateMachine) transition(ctx context.Context, sessionID string, from, to types.SessionStatus, actorID, reason string) (*types.SupportSession, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.New("SessionStateMachine.transition.SupportSessionStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if session == nil {
		return nil, errors.New("SessionStateMachine.transition.nil", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
	}

	if session.Status.IsTerminal() && to == types.SESSION_STATUS_ENDED {
		return nil, errors.New("SessionStateMachine.transition.terminal", i18n.ERROR_ALREADY_ENDED, nil).Code(http.StatusGone)
	}
	if session.Status != from || !from.CanTransitionTo(to) {
		return nil, errors.New("SessionStateMachine.transition.invalid", i18n.ERROR_INVALID_TRANSITION, nil).
			WithData(map[string]interface{}{"current": session.Status, "from": from, "to": to}).
			Code(http.StatusConflict)
	}

	old := *session
	now := time.Now().Unix()
	session.Status = to
	session.LastActivityAt = now
	switch to {
	case types.SESSION_STATUS_ACTIVE:
		session.SpecialistID = &actorID
	case types.SESSION_STATUS_ENDED:
		session.EndedAt = &now
		if reason != "" {
			session.EndReason = &reason
		}
	}

	snapshot, _ := json.Marshal(session)

	err = m.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := m.sessions.UpdateTransition(ctx, session); err != nil {
			return errors.New("SessionStateMachine.transition.SupportSessionStore.UpdateTransition", i18n.ERROR_INTERNAL, err)
		}
		if err := m.audits.Append(ctx, types.SessionAudit{
			SessionID:  sessionID,
			FromStatus: from,
			ToStatus:   to,
			ActorID:    actorID,
			Reason:     reason,
			Snapshot:   string(snapshot),
			CreatedAt:  now,
		}); err != nil {
			return errors.New("SessionStateMachine.transition.SessionAuditStore.Append", i18n.ERROR_INTERNAL, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.pub != nil {
		if ev, err := types.NewChangeEvent(types.TABLE_SUPPORT_SESSION, types.CHANGE_KIND_UPDATE, &old, session); err == nil {
			_ = m.pub.PublishChange(ev, "id", session.ID)
		}
	}

	return session, nil
}

// ActivateSession assigns the specialist and moves a waiting session to
// active.
func (m *SessionStateMachine) ActivateSession(ctx context.Context, sessionID, specialistID string) (*types.SupportSession, error) {
	return m.Transition(ctx, sessionID, types.SESSION_STATUS_WAITING, types.SESSION_STATUS_ACTIVE, specialistID, "")
}

// EndSession terminates the session from whichever live state it is in.
func (m *SessionStateMachine) EndSession(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.New("SessionStateMachine.EndSession.SupportSessionStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if session == nil {
		return nil, errors.New("SessionStateMachine.EndSession.nil", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	if session.Status.IsTerminal() {
		return nil, errors.New("SessionStateMachine.EndSession.terminal", i18n.ERROR_ALREADY_ENDED, nil).Code(http.StatusGone)
	}
	return m.Transition(ctx, sessionID, session.Status, types.SESSION_STATUS_ENDED, actorID, reason)
}
