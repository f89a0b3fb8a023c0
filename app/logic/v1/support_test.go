package v1

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// In-memory fakes for the storage surface, shared across the logic tests.

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]types.SupportSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]types.SupportSession)}
}

func (f *fakeSessionStore) put(s types.SupportSession) {
	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()
}

func (f *fakeSessionStore) Create(ctx context.Context, data types.SupportSession) error {
	f.put(data)
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionID string) (*types.SupportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

func (f *fakeSessionStore) GetLatestByUser(ctx context.Context, userID string) (*types.SupportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.SupportSession
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		if latest == nil || s.StartedAt > latest.StartedAt {
			copied := s
			latest = &copied
		}
	}
	return latest, nil
}

func (f *fakeSessionStore) GetLiveByUser(ctx context.Context, userID string) (*types.SupportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status != types.SESSION_STATUS_ENDED {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) UpdateTransition(ctx context.Context, data *types.SupportSession) error {
	f.put(*data)
	return nil
}

func (f *fakeSessionStore) TouchActivity(ctx context.Context, sessionID string, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.LastActivityAt = at
		f.sessions[sessionID] = s
	}
	return nil
}

func (f *fakeSessionStore) NextSessionNumber(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, s := range f.sessions {
		if s.UserID == userID && s.SessionNumber > max {
			max = s.SessionNumber
		}
	}
	return max + 1, nil
}

func (f *fakeSessionStore) ListWaitingBefore(ctx context.Context, before int64) ([]types.SupportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []types.SupportSession
	for _, s := range f.sessions {
		if s.Status == types.SESSION_STATUS_WAITING && s.SpecialistID == nil && s.StartedAt < before {
			list = append(list, s)
		}
	}
	return list, nil
}

func (f *fakeSessionStore) List(ctx context.Context, userID string, page, pageSize uint64) ([]types.SupportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []types.SupportSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			list = append(list, s)
		}
	}
	return list, nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	records []types.SessionAudit
}

func (f *fakeAuditStore) Append(ctx context.Context, data types.SessionAudit) error {
	f.mu.Lock()
	f.records = append(f.records, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeAuditStore) ListBySession(ctx context.Context, sessionID string) ([]types.SessionAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []types.SessionAudit
	for _, r := range f.records {
		if r.SessionID == sessionID {
			list = append(list, r)
		}
	}
	return list, nil
}

func (f *fakeAuditStore) count(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n
}

type fakeStatusStore struct {
	mu      sync.Mutex
	rows    map[string]types.SpecialistStatus
	upserts int
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{rows: make(map[string]types.SpecialistStatus)}
}

func (f *fakeStatusStore) Upsert(ctx context.Context, data types.SpecialistStatus) error {
	f.mu.Lock()
	f.rows[data.SpecialistID] = data
	f.upserts++
	f.mu.Unlock()
	return nil
}

func (f *fakeStatusStore) Get(ctx context.Context, specialistID string) (*types.SpecialistStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[specialistID]
	if !ok {
		return nil, nil
	}
	copied := row
	return &copied, nil
}

func (f *fakeStatusStore) List(ctx context.Context, page, pageSize uint64) ([]types.SpecialistStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []types.SpecialistStatus
	for _, row := range f.rows {
		list = append(list, row)
	}
	return list, nil
}

func (f *fakeStatusStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func (f *fakeStatusStore) current(specialistID string) (types.SpecialistStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[specialistID]
	return row, ok
}

// noopTx satisfies Transactioner without a database.
type noopTx struct{}

func (noopTx) Transaction(ctx context.Context, next func(ctx context.Context) error) error {
	return next(ctx)
}

type publishedEvent struct {
	ev          types.ChangeEvent
	filterField string
	filterValue string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingPublisher) PublishChange(ev types.ChangeEvent, filterField, filterValue string) error {
	r.mu.Lock()
	r.events = append(r.events, publishedEvent{ev: ev, filterField: filterField, filterValue: filterValue})
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) all() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]publishedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// fakeBackend implements SessionBackend with overridable behavior per call.
type fakeBackend struct {
	mu sync.Mutex

	sendFn   func(ctx context.Context, args types.CreateMessageArgs) (*types.SupportMessage, error)
	dupFn    func(ctx context.Context, sessionID, senderID, content string) (bool, error)
	startFn  func(ctx context.Context, userID string) (*types.SupportSession, error)
	endFn    func(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error)
	latestFn func(ctx context.Context, userID string) (*types.SupportSession, error)
	fullFn   func(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error)

	fullLoads int
}

func (f *fakeBackend) SendMessageAtomic(ctx context.Context, args types.CreateMessageArgs) (*types.SupportMessage, error) {
	f.mu.Lock()
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("sendFn not configured")
	}
	return fn(ctx, args)
}

func (f *fakeBackend) CheckMessageDuplicate(ctx context.Context, sessionID, senderID, content string) (bool, error) {
	f.mu.Lock()
	fn := f.dupFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(ctx, sessionID, senderID, content)
}

func (f *fakeBackend) StartSessionAtomic(ctx context.Context, userID string) (*types.SupportSession, error) {
	f.mu.Lock()
	fn := f.startFn
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("startFn not configured")
	}
	return fn(ctx, userID)
}

func (f *fakeBackend) EndSessionAtomic(ctx context.Context, sessionID, actorID, reason string) (*types.SupportSession, error) {
	f.mu.Lock()
	fn := f.endFn
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("endFn not configured")
	}
	return fn(ctx, sessionID, actorID, reason)
}

func (f *fakeBackend) LatestSession(ctx context.Context, userID string) (*types.SupportSession, error) {
	f.mu.Lock()
	fn := f.latestFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, userID)
}

func (f *fakeBackend) GetSessionWithMessages(ctx context.Context, sessionID, userID string) (*store.SessionWithMessages, error) {
	f.mu.Lock()
	fn := f.fullFn
	f.fullLoads++
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("fullFn not configured")
	}
	return fn(ctx, sessionID, userID)
}

func (f *fakeBackend) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullLoads
}

func makeConfirmed(sessionID, senderID, content, key string, role types.SenderRole, createdAt int64) *types.SupportMessage {
	return &types.SupportMessage{
		ID:             "srv-" + content,
		SessionID:      sessionID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		MessageType:    types.MESSAGE_TYPE_TEXT,
		IdempotencyKey: key,
		CreatedAt:      createdAt,
	}
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
