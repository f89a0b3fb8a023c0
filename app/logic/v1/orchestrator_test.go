package v1

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/changefeed"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// fakeFeedSource is an in-memory changefeed.Source: tests push events and
// flip connection status by hand.
type fakeFeedSource struct {
	mu      sync.Mutex
	chans   map[string]chan types.ChangeEvent
	status  types.ConnStatus
	handler changefeed.StatusHandler
}

func newFakeFeedSource() *fakeFeedSource {
	return &fakeFeedSource{
		chans:  make(map[string]chan types.ChangeEvent),
		status: types.CONN_STATUS_CONNECTED,
	}
}

func (s *fakeFeedSource) Attach(topic string) (<-chan types.ChangeEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chans[topic]
	if !ok {
		ch = make(chan types.ChangeEvent, 16)
		s.chans[topic] = ch
	}
	return ch, func() {}, nil
}

func (s *fakeFeedSource) Status() types.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeFeedSource) SetStatusHandler(h changefeed.StatusHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *fakeFeedSource) setStatus(status types.ConnStatus) {
	s.mu.Lock()
	s.status = status
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(status)
	}
}

func (s *fakeFeedSource) push(t *testing.T, spec changefeed.EventSpec, kind types.ChangeKind, row any) {
	t.Helper()
	ev, err := types.NewChangeEvent(spec.Table, kind, nil, row)
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	ch, ok := s.chans[spec.Topic()]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no channel attached for topic %s", spec.Topic())
	}
	ch <- ev
}

func liveSession(id, userID string, status types.SessionStatus) *types.SupportSession {
	now := time.Now().Unix()
	return &types.SupportSession{
		ID:             id,
		UserID:         userID,
		Status:         status,
		SessionNumber:  1,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

func messageSpec(sessionID string) changefeed.EventSpec {
	return changefeed.EventSpec{
		Table:       types.TABLE_SUPPORT_MESSAGE,
		Kinds:       []types.ChangeKind{types.CHANGE_KIND_INSERT},
		FilterField: "session_id",
		FilterValue: sessionID,
	}
}

func sessionSpec(sessionID string) changefeed.EventSpec {
	return changefeed.EventSpec{
		Table:       types.TABLE_SUPPORT_SESSION,
		Kinds:       []types.ChangeKind{types.CHANGE_KIND_UPDATE},
		FilterField: "id",
		FilterValue: sessionID,
	}
}

func quietOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ReloadPoll:            time.Hour,
		DisconnectReloadAfter: time.Hour,
		RefreshGuard:          time.Hour,
		Pipeline: PipelineConfig{
			SendTimeout:     5 * time.Second,
			ReconcileWindow: 30 * time.Second,
		},
	}
}

func newTestOrchestrator(t *testing.T, backend *fakeBackend, cfg OrchestratorConfig) (*SessionOrchestrator, *fakeFeedSource) {
	t.Helper()
	source := newFakeFeedSource()
	feed := changefeed.NewClient(source)
	o := NewSessionOrchestrator("u1", backend, feed, cfg, nil)
	t.Cleanup(func() {
		o.Close()
		feed.Close()
	})
	return o, source
}

func TestOrchestrator_StartLoadsHistoryAndSubscribes(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	history := []types.SupportMessage{
		*makeConfirmed("s1", "u1", "first", "k1", types.SENDER_ROLE_USER, session.StartedAt),
		*makeConfirmed("s1", "sp1", "second", "k2", types.SENDER_ROLE_SPECIALIST, session.StartedAt+1),
	}
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session, Messages: history}, nil
		},
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := o.State(); got != ORCH_STATE_SUBSCRIBED {
		t.Errorf("state = %s, want subscribed", got)
	}
	if got := o.Session(); got == nil || got.ID != "s1" {
		t.Fatalf("session = %+v, want s1", got)
	}
	msgs := o.Messages()
	if len(msgs) != 2 || msgs[0].Content() != "first" || msgs[1].Content() != "second" {
		t.Errorf("history not loaded in order: %+v", msgs)
	}
}

func TestOrchestrator_StartSessionThenSendMessage(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_WAITING)
	backend := &fakeBackend{
		startFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		sendFn: func(ctx context.Context, args types.CreateMessageArgs) (*types.SupportMessage, error) {
			return makeConfirmed(args.SessionID, args.SenderID, args.Content, args.IdempotencyKey, args.SenderRole, time.Now().Unix()), nil
		},
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	created, err := o.StartSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "s1" {
		t.Fatalf("created session = %+v", created)
	}
	if got := o.State(); got != ORCH_STATE_SUBSCRIBED {
		t.Errorf("state after start = %s, want subscribed", got)
	}

	if _, err := o.SendMessage(context.Background(), "hello", nil); err != nil {
		t.Fatal(err)
	}

	// exactly one "hello" survives, confirmed, sent as the user
	if !eventually(2*time.Second, func() bool {
		msgs := o.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed != nil
	}) {
		t.Fatalf("message never confirmed: %+v", o.Messages())
	}
	msgs := o.Messages()
	if msgs[0].Content() != "hello" || msgs[0].SenderRole() != types.SENDER_ROLE_USER {
		t.Errorf("unexpected message %+v", msgs[0])
	}
	if o.HasFailedMessages() {
		t.Error("no failed messages expected")
	}
}

func TestOrchestrator_StartSessionAdoptsLiveSession(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	var starts int
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
		startFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			starts++
			return nil, fmt.Errorf("must not be called")
		},
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := o.StartSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "s1" {
		t.Errorf("adopted session = %+v, want s1", got)
	}
	if starts != 0 {
		t.Errorf("StartSessionAtomic called %d times for a live session", starts)
	}
}

func TestOrchestrator_FeedInsertReconciles(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	o, source := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	incoming := makeConfirmed("s1", "sp1", "how can I help", "", types.SENDER_ROLE_SPECIALIST, time.Now().Unix())
	source.push(t, messageSpec("s1"), types.CHANGE_KIND_INSERT, incoming)

	if !eventually(2*time.Second, func() bool {
		msgs := o.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed != nil && msgs[0].Content() == "how can I help"
	}) {
		t.Fatalf("pushed message never arrived: %+v", o.Messages())
	}
}

func TestOrchestrator_SessionUpdateEndsTracking(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	o, source := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ended := *session
	ended.Status = types.SESSION_STATUS_ENDED
	endedAt := time.Now().Unix()
	ended.EndedAt = &endedAt
	source.push(t, sessionSpec("s1"), types.CHANGE_KIND_UPDATE, &ended)

	if !eventually(2*time.Second, func() bool {
		got := o.Session()
		return got != nil && got.Status == types.SESSION_STATUS_ENDED
	}) {
		t.Fatal("session never observed as ended")
	}
	if got := o.State(); got != ORCH_STATE_LOADED {
		t.Errorf("state = %s, want loaded after session ended", got)
	}

	_, err := o.SendMessage(context.Background(), "too late", nil)
	if err == nil {
		t.Fatal("send into ended session must fail")
	}
	if code := errors.CodeOf(err); code != http.StatusGone {
		t.Errorf("error code = %d, want 410", code)
	}
}

func TestOrchestrator_EndSessionIdempotent(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	var ends int
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}
	backend.endFn = func(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error) {
		backend.mu.Lock()
		ends++
		backend.mu.Unlock()
		out := *session
		out.Status = types.SESSION_STATUS_ENDED
		now := time.Now().Unix()
		out.EndedAt = &now
		out.EndReason = &reason
		return &out, nil
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := o.EndSession(context.Background(), "user_ended"); err != nil {
		t.Fatal(err)
	}
	if err := o.EndSession(context.Background(), "user_ended"); err != nil {
		t.Fatal(err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if ends != 1 {
		t.Errorf("EndSessionAtomic called %d times, want 1", ends)
	}
}

func TestOrchestrator_EndSessionAdoptsConcurrentEnd(t *testing.T) {
	// local state still says active, but another writer already ended the
	// session; the storage error must resolve to a reload, not a failure
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	endedAt := time.Now().Unix()
	ended := *session
	ended.Status = types.SESSION_STATUS_ENDED
	ended.EndedAt = &endedAt

	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
		endFn: func(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error) {
			return nil, errors.New("Provider.EndSessionAtomic.already_ended", i18n.ERROR_ALREADY_ENDED, nil).Code(http.StatusGone)
		},
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	backend.mu.Lock()
	backend.latestFn = func(ctx context.Context, userID string) (*types.SupportSession, error) {
		return &ended, nil
	}
	backend.fullFn = func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
		return &store.SessionWithMessages{Session: &ended}, nil
	}
	backend.mu.Unlock()

	if err := o.EndSession(context.Background(), "user_ended"); err != nil {
		t.Fatalf("concurrent-end must be a no-op, got %v", err)
	}
	got := o.Session()
	if got == nil || got.Status != types.SESSION_STATUS_ENDED {
		t.Errorf("session after re-resolve = %+v, want ended", got)
	}
}

func TestOrchestrator_DisconnectTriggersFallbackReload(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	cfg := quietOrchestratorConfig()
	cfg.DisconnectReloadAfter = 20 * time.Millisecond

	o, source := newTestOrchestrator(t, backend, cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := backend.loadCount()

	source.setStatus(types.CONN_STATUS_DISCONNECTED)

	if !eventually(2*time.Second, func() bool {
		return backend.loadCount() > base
	}) {
		t.Fatal("no fallback reload after sustained disconnect")
	}
}

func TestOrchestrator_ReconnectCancelsFallbackAndReloads(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	o, source := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := backend.loadCount()

	source.setStatus(types.CONN_STATUS_DISCONNECTED)
	source.setStatus(types.CONN_STATUS_CONNECTED)

	// events may have been missed while down, so reconnect reloads once
	if !eventually(2*time.Second, func() bool {
		return backend.loadCount() > base
	}) {
		t.Fatal("no reload after reconnect")
	}
}

func TestOrchestrator_CloseUnregistersStatusHandler(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	cfg := quietOrchestratorConfig()
	cfg.DisconnectReloadAfter = 10 * time.Millisecond

	o, source := newTestOrchestrator(t, backend, cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	o.Close()
	base := backend.loadCount()

	// the feed client lives on after release; flaps must not reach the
	// closed orchestrator anymore
	source.setStatus(types.CONN_STATUS_DISCONNECTED)
	source.setStatus(types.CONN_STATUS_CONNECTED)
	source.setStatus(types.CONN_STATUS_DISCONNECTED)

	time.Sleep(100 * time.Millisecond)
	if got := backend.loadCount(); got != base {
		t.Errorf("closed orchestrator reloaded %d times after status flaps", got-base)
	}
}

func TestOrchestrator_RefreshGuardSkipsPollsButNotForced(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	cfg := quietOrchestratorConfig()
	cfg.ReloadPoll = 10 * time.Millisecond
	cfg.RefreshGuard = time.Hour

	o, _ := newTestOrchestrator(t, backend, cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := backend.loadCount()

	time.Sleep(100 * time.Millisecond)
	if got := backend.loadCount(); got != base {
		t.Errorf("guarded polls loaded %d extra times", got-base)
	}

	if err := o.RefreshSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := backend.loadCount(); got != base+1 {
		t.Errorf("forced refresh load count = %d, want %d", got, base+1)
	}
}

func TestOrchestrator_ReloadPollRunsWhenGuardAllows(t *testing.T) {
	session := liveSession("s1", "u1", types.SESSION_STATUS_ACTIVE)
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return session, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: session}, nil
		},
	}

	cfg := quietOrchestratorConfig()
	cfg.ReloadPoll = 10 * time.Millisecond
	cfg.RefreshGuard = time.Millisecond

	o, _ := newTestOrchestrator(t, backend, cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := backend.loadCount()

	if !eventually(2*time.Second, func() bool {
		return backend.loadCount() > base
	}) {
		t.Fatal("reload poll never ran")
	}
}

func TestOrchestrator_IsSessionStale(t *testing.T) {
	stale := liveSession("s1", "u1", types.SESSION_STATUS_WAITING)
	stale.StartedAt = time.Now().Unix() - types.StaleAfterSeconds - 1
	backend := &fakeBackend{
		latestFn: func(ctx context.Context, userID string) (*types.SupportSession, error) {
			return stale, nil
		},
		fullFn: func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
			return &store.SessionWithMessages{Session: stale}, nil
		},
	}

	o, _ := newTestOrchestrator(t, backend, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !o.IsSessionStale() {
		t.Error("old unassigned waiting session must read as stale")
	}

	sp := "sp1"
	assigned := *stale
	assigned.SpecialistID = &sp
	assigned.Status = types.SESSION_STATUS_ACTIVE
	o.mu.Lock()
	o.applySessionLocked(&assigned)
	o.mu.Unlock()

	if o.IsSessionStale() {
		t.Error("active assigned session must not read as stale")
	}
}

func TestOrchestrator_RetryFailedMessageWithoutSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeBackend{}, quietOrchestratorConfig())
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := o.RetryFailedMessage("optimistic-x")
	if err == nil {
		t.Fatal("expected error without a live pipeline")
	}
	if code := errors.CodeOf(err); code != http.StatusNotFound {
		t.Errorf("error code = %d, want 404", code)
	}
}
