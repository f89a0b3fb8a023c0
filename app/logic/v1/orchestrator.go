package v1

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/changefeed"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/retry"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/safe"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// SessionBackend is the storage RPC surface one orchestrator rides.
type SessionBackend interface {
	MessageSender
	StartSessionAtomic(ctx context.Context, userID string) (*types.SupportSession, error)
	EndSessionAtomic(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error)
	GetSessionWithMessages(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error)
	LatestSession(ctx context.Context, userID string) (*types.SupportSession, error)
}

type OrchestratorState string

const (
	ORCH_STATE_UNINITIALIZED OrchestratorState = "uninitialized"
	ORCH_STATE_LOADED        OrchestratorState = "loaded"
	ORCH_STATE_SUBSCRIBED    OrchestratorState = "subscribed"
)

const (
	DefaultReloadPoll            = 15 * time.Second
	DefaultDisconnectReloadAfter = 30 * time.Second
	DefaultRefreshGuard          = 5 * time.Second
)

type OrchestratorConfig struct {
	ReloadPoll            time.Duration
	DisconnectReloadAfter time.Duration
	RefreshGuard          time.Duration
	Pipeline              PipelineConfig
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.ReloadPoll <= 0 {
		c.ReloadPoll = DefaultReloadPoll
	}
	if c.DisconnectReloadAfter <= 0 {
		c.DisconnectReloadAfter = DefaultDisconnectReloadAfter
	}
	if c.RefreshGuard <= 0 {
		c.RefreshGuard = DefaultRefreshGuard
	}
}

// SessionOrchestrator is the per-user façade over the session lifecycle: it
// keeps the latest session plus its message pipeline loaded, rides the change
// feed for pushes and falls back to full reloads whenever the feed cannot be
// trusted (disconnects, plus a slow belt-and-braces poll while connected).
type SessionOrchestrator struct {
	userID  string
	backend SessionBackend
	feed    *changefeed.Client
	cfg     OrchestratorConfig

	onUpdate func()

	startExec *retry.Executor
	endExec   *retry.Executor

	mu            sync.Mutex
	state         OrchestratorState
	session       *types.SupportSession
	pipeline      *MessagePipeline
	subIDs        []string
	statusUnsub   func()
	lastRefreshed time.Time

	disconnectMu    sync.Mutex
	disconnectTimer *time.Timer

	closed    chan struct{}
	closeOnce sync.Once
}

func NewSessionOrchestrator(userID string, backend SessionBackend, feed *changefeed.Client, cfg OrchestratorConfig, onUpdate func()) *SessionOrchestrator {
	cfg.applyDefaults()
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &SessionOrchestrator{
		userID:    userID,
		backend:   backend,
		feed:      feed,
		cfg:       cfg,
		onUpdate:  onUpdate,
		startExec: retry.New(),
		endExec:   retry.New(),
		state:     ORCH_STATE_UNINITIALIZED,
		closed:    make(chan struct{}),
	}
}

// Start performs the initial load+subscribe and launches the reload poll.
func (o *SessionOrchestrator) Start(ctx context.Context) error {
	if err := o.reload(ctx, true); err != nil {
		return err
	}

	unsub := o.feed.OnStatusChange(o.onFeedStatus)
	o.mu.Lock()
	o.statusUnsub = unsub
	o.mu.Unlock()

	safe.Go("orchestrator-poll-"+o.userID, func() {
		ticker := time.NewTicker(o.cfg.ReloadPoll)
		defer ticker.Stop()
		for {
			select {
			case <-o.closed:
				return
			case <-ticker.C:
				if err := o.reload(context.Background(), false); err != nil {
					slog.Warn("session reload poll failed",
						slog.String("user_id", o.userID),
						slog.String("error", err.Error()))
				}
			}
		}
	})
	return nil
}

// onFeedStatus arms a fallback reload when the feed drops and reconciles
// immediately once it comes back.
func (o *SessionOrchestrator) onFeedStatus(status types.ConnStatus) {
	select {
	case <-o.closed:
		return
	default:
	}

	o.disconnectMu.Lock()
	defer o.disconnectMu.Unlock()

	switch status {
	case types.CONN_STATUS_DISCONNECTED:
		if o.disconnectTimer == nil {
			o.disconnectTimer = time.AfterFunc(o.cfg.DisconnectReloadAfter, func() {
				if err := o.reload(context.Background(), true); err != nil {
					slog.Warn("disconnect fallback reload failed",
						slog.String("user_id", o.userID),
						slog.String("error", err.Error()))
				}
			})
		}
	case types.CONN_STATUS_CONNECTED:
		if o.disconnectTimer != nil {
			o.disconnectTimer.Stop()
			o.disconnectTimer = nil
		}
		// events may have been missed while down
		safe.Go("orchestrator-reconnect-reload", func() {
			_ = o.reload(context.Background(), true)
		})
	}
}

// reload pulls the latest session and history. force bypasses the refresh
// guard; guarded calls within RefreshGuard of the last load are no-ops.
func (o *SessionOrchestrator) reload(ctx context.Context, force bool) error {
	o.mu.Lock()
	if !force && time.Since(o.lastRefreshed) < o.cfg.RefreshGuard {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	session, err := o.backend.LatestSession(ctx, o.userID)
	if err != nil {
		return errors.Trace("SessionOrchestrator.reload", err)
	}

	var messages []types.SupportMessage
	if session != nil {
		full, err := o.backend.GetSessionWithMessages(ctx, session.ID, o.userID)
		if err != nil {
			return errors.Trace("SessionOrchestrator.reload", err)
		}
		session = full.Session
		messages = full.Messages
	}

	o.mu.Lock()
	o.lastRefreshed = time.Now()
	o.applySessionLocked(session)
	pipeline := o.pipeline
	o.mu.Unlock()

	if pipeline != nil {
		pipeline.SetConfirmed(messages)
	}
	o.onUpdate()
	return nil
}

// applySessionLocked swaps the tracked session, rebuilding the pipeline and
// feed subscriptions when the session identity or liveness changed.
func (o *SessionOrchestrator) applySessionLocked(session *types.SupportSession) {
	prevID := ""
	if o.session != nil {
		prevID = o.session.ID
	}
	o.session = session

	live := session != nil && !session.Status.IsTerminal()
	sameSession := session != nil && session.ID == prevID

	if !live {
		o.unsubscribeLocked()
		if o.pipeline != nil && !sameSession {
			o.pipeline.Close()
			o.pipeline = nil
		}
		o.state = ORCH_STATE_LOADED
		return
	}

	if sameSession && o.state == ORCH_STATE_SUBSCRIBED {
		return
	}

	o.unsubscribeLocked()
	if !sameSession || o.pipeline == nil {
		if o.pipeline != nil {
			o.pipeline.Close()
		}
		o.pipeline = NewMessagePipeline(session.ID, o.backend, o.cfg.Pipeline, o.onUpdate)
	}
	o.subscribeLocked(session.ID)
}

func (o *SessionOrchestrator) subscribeLocked(sessionID string) {
	msgSpec := changefeed.EventSpec{
		Table:       types.TABLE_SUPPORT_MESSAGE,
		Kinds:       []types.ChangeKind{types.CHANGE_KIND_INSERT},
		FilterField: "session_id",
		FilterValue: sessionID,
	}
	msgSub, err := o.feed.Subscribe(msgSpec.Topic(), msgSpec, o.onMessageInsert)
	if err != nil {
		slog.Error("failed to subscribe message feed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		o.state = ORCH_STATE_LOADED
		return
	}

	sessSpec := changefeed.EventSpec{
		Table:       types.TABLE_SUPPORT_SESSION,
		Kinds:       []types.ChangeKind{types.CHANGE_KIND_UPDATE},
		FilterField: "id",
		FilterValue: sessionID,
	}
	sessSub, err := o.feed.Subscribe(sessSpec.Topic(), sessSpec, o.onSessionUpdate)
	if err != nil {
		slog.Error("failed to subscribe session feed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		o.feed.Unsubscribe(msgSub)
		o.state = ORCH_STATE_LOADED
		return
	}

	o.subIDs = []string{msgSub, sessSub}
	o.state = ORCH_STATE_SUBSCRIBED
}

func (o *SessionOrchestrator) unsubscribeLocked() {
	for _, id := range o.subIDs {
		o.feed.Unsubscribe(id)
	}
	o.subIDs = nil
}

func (o *SessionOrchestrator) onMessageInsert(ev types.ChangeEvent) {
	var msg types.SupportMessage
	if err := ev.DecodeNew(&msg); err != nil {
		slog.Error("failed to decode message event", slog.String("error", err.Error()))
		return
	}

	o.mu.Lock()
	pipeline := o.pipeline
	o.mu.Unlock()
	if pipeline != nil {
		pipeline.Reconcile(&msg)
	}
}

func (o *SessionOrchestrator) onSessionUpdate(ev types.ChangeEvent) {
	var session types.SupportSession
	if err := ev.DecodeNew(&session); err != nil {
		slog.Error("failed to decode session event", slog.String("error", err.Error()))
		return
	}

	o.mu.Lock()
	if o.session == nil || o.session.ID != session.ID {
		o.mu.Unlock()
		return
	}
	o.applySessionLocked(&session)
	o.mu.Unlock()
	o.onUpdate()
}

// StartSession begins a new support session, or adopts the live one if it
// already exists. Safe to call repeatedly.
func (o *SessionOrchestrator) StartSession(ctx context.Context) (*types.SupportSession, error) {
	o.mu.Lock()
	if o.session != nil && !o.session.Status.IsTerminal() {
		session := *o.session
		o.mu.Unlock()
		return &session, nil
	}
	o.mu.Unlock()

	var created *types.SupportSession
	result := o.startExec.Execute(ctx, func(ctx context.Context) error {
		var err error
		created, err = o.backend.StartSessionAtomic(ctx, o.userID)
		return err
	})
	if !result.Success {
		// a concurrent start already won; adopt its session
		if result.Code == types.CODE_SESSION_EXISTS {
			if err := o.reload(ctx, true); err != nil {
				return nil, err
			}
			return o.Session(), nil
		}
		return nil, errors.New("SessionOrchestrator.StartSession", i18n.ERROR_RETRY_FAILED, result.Err).Code(errors.CodeOf(result.Err))
	}

	o.mu.Lock()
	o.lastRefreshed = time.Now()
	o.applySessionLocked(created)
	o.mu.Unlock()
	o.onUpdate()
	return created, nil
}

// SendMessage queues content onto the live session's pipeline. The returned
// optimistic message is already visible in Messages().
func (o *SessionOrchestrator) SendMessage(ctx context.Context, content string, metadata types.MessageMetadata) (*types.OptimisticMessage, error) {
	o.mu.Lock()
	session := o.session
	pipeline := o.pipeline
	o.mu.Unlock()

	if session == nil || session.Status.IsTerminal() || pipeline == nil {
		return nil, errors.New("SessionOrchestrator.SendMessage.nosession", i18n.ERROR_SESSION_ENDED, nil).Code(http.StatusGone)
	}
	return pipeline.Send(ctx, o.userID, types.SENDER_ROLE_USER, content, types.MESSAGE_TYPE_TEXT, metadata)
}

// EndSession terminates the live session. Ending an already ended session is
// a no-op success.
func (o *SessionOrchestrator) EndSession(ctx context.Context, reason string) error {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil {
		return nil
	}
	if session.Status.IsTerminal() {
		return nil
	}

	var ended *types.SupportSession
	result := o.endExec.Execute(ctx, func(ctx context.Context) error {
		var err error
		ended, err = o.backend.EndSessionAtomic(ctx, session.ID, o.userID, reason)
		return err
	})
	if !result.Success {
		if result.Code == types.CODE_ALREADY_ENDED || result.Code == types.CODE_SESSION_NOT_FOUND {
			return o.reload(ctx, true)
		}
		return errors.New("SessionOrchestrator.EndSession", i18n.ERROR_RETRY_FAILED, result.Err).Code(errors.CodeOf(result.Err))
	}

	o.mu.Lock()
	o.applySessionLocked(ended)
	o.mu.Unlock()
	o.onUpdate()
	return nil
}

// StartFreshSession ends whatever is live and starts a new session.
func (o *SessionOrchestrator) StartFreshSession(ctx context.Context, reason string) (*types.SupportSession, error) {
	if err := o.EndSession(ctx, reason); err != nil {
		return nil, err
	}
	return o.StartSession(ctx)
}

// RefreshSession forces a full reload, bypassing the refresh guard.
func (o *SessionOrchestrator) RefreshSession(ctx context.Context) error {
	return o.reload(ctx, true)
}

// RetryFailedMessage resubmits a failed or timed-out optimistic message.
func (o *SessionOrchestrator) RetryFailedMessage(optimisticID string) error {
	o.mu.Lock()
	pipeline := o.pipeline
	o.mu.Unlock()
	if pipeline == nil {
		return errors.New("SessionOrchestrator.RetryFailedMessage.nosession", i18n.ERROR_SESSION_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	return pipeline.Retry(optimisticID)
}

// IsSessionStale flags a waiting session nobody picked up in time. A signal
// for the UI, never an automatic transition.
func (o *SessionOrchestrator) IsSessionStale() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil && o.session.IsStale(time.Now().Unix())
}

func (o *SessionOrchestrator) HasFailedMessages() bool {
	o.mu.Lock()
	pipeline := o.pipeline
	o.mu.Unlock()
	return pipeline != nil && pipeline.HasFailedMessages()
}

// Session returns a copy of the tracked session, nil when none exists.
func (o *SessionOrchestrator) Session() *types.SupportSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	session := *o.session
	return &session
}

// Messages returns the visible message list in created_at order.
func (o *SessionOrchestrator) Messages() []types.SessionMessage {
	o.mu.Lock()
	pipeline := o.pipeline
	o.mu.Unlock()
	if pipeline == nil {
		return nil
	}
	return pipeline.Snapshot()
}

func (o *SessionOrchestrator) State() OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Close stops the poll loop and releases subscriptions and timers.
func (o *SessionOrchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.closed)
	})

	o.disconnectMu.Lock()
	if o.disconnectTimer != nil {
		o.disconnectTimer.Stop()
		o.disconnectTimer = nil
	}
	o.disconnectMu.Unlock()

	o.mu.Lock()
	statusUnsub := o.statusUnsub
	o.statusUnsub = nil
	o.unsubscribeLocked()
	if o.pipeline != nil {
		o.pipeline.Close()
	}
	o.mu.Unlock()

	// the feed client outlives this orchestrator; leaving the handler
	// registered would re-arm reloads for a released user on every flap
	if statusUnsub != nil {
		statusUnsub()
	}
}
