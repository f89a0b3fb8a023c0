package v1

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/retry"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/safe"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// MessageSender is the storage RPC surface the pipeline needs. The sqlstore
// provider satisfies it.
type MessageSender interface {
	SendMessageAtomic(ctx context.Context, args types.CreateMessageArgs) (*types.SupportMessage, error)
	CheckMessageDuplicate(ctx context.Context, sessionID, senderID, content string) (bool, error)
}

const (
	DefaultSendTimeout     = 15 * time.Second
	DefaultReconcileWindow = 30 * time.Second
)

type PipelineConfig struct {
	SendTimeout     time.Duration
	ReconcileWindow time.Duration

	// optional observers, wired to metrics by the serving process
	OnReconcile func(by string)
	OnTimeout   func()
}

func (c *PipelineConfig) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = DefaultReconcileWindow
	}
	if c.OnReconcile == nil {
		c.OnReconcile = func(string) {}
	}
	if c.OnTimeout == nil {
		c.OnTimeout = func() {}
	}
}

type optimisticEntry struct {
	msg   types.OptimisticMessage
	timer *time.Timer
	code  types.AppCode
}

// MessagePipeline keeps one session's visible message list: confirmed rows
// plus optimistic placeholders for in-flight sends. An optimistic entry is
// visible before the storage RPC even starts, and each logical send ends up
// as exactly one entry after reconciliation.
type MessagePipeline struct {
	sessionID string
	sender    MessageSender
	cfg       PipelineConfig

	// onUpdate fires after every visible list change, outside the lock.
	onUpdate func()

	mu         sync.Mutex
	confirmed  []types.SupportMessage
	optimistic []*optimisticEntry
}

func NewMessagePipeline(sessionID string, sender MessageSender, cfg PipelineConfig, onUpdate func()) *MessagePipeline {
	cfg.applyDefaults()
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &MessagePipeline{
		sessionID: sessionID,
		sender:    sender,
		cfg:       cfg,
		onUpdate:  onUpdate,
	}
}

// SetConfirmed replaces the confirmed side of the list from a full reload,
// then re-runs reconciliation so optimistic entries whose rows arrived while
// the feed was down are collapsed.
func (p *MessagePipeline) SetConfirmed(messages []types.SupportMessage) {
	p.mu.Lock()
	p.confirmed = make([]types.SupportMessage, len(messages))
	copy(p.confirmed, messages)
	sort.SliceStable(p.confirmed, func(i, j int) bool {
		return p.confirmed[i].CreatedAt < p.confirmed[j].CreatedAt
	})
	for i := range p.confirmed {
		p.dropMatchedLocked(&p.confirmed[i])
	}
	p.mu.Unlock()
	p.onUpdate()
}

// Send makes the message visible immediately and hands the storage write to
// the retry executor in the background. It returns the optimistic message,
// the caller can track it by ID; a duplicate of an already-landed message
// returns (nil, nil).
func (p *MessagePipeline) Send(ctx context.Context, senderID string, role types.SenderRole, content string, msgType types.MessageType, metadata types.MessageMetadata) (*types.OptimisticMessage, error) {
	if content == "" {
		return nil, errors.New("MessagePipeline.Send.empty", i18n.ERROR_INVALIDARGUMENT, nil).Code(http.StatusBadRequest)
	}

	dup, err := p.sender.CheckMessageDuplicate(ctx, p.sessionID, senderID, content)
	if err != nil {
		return nil, errors.New("MessagePipeline.Send.CheckMessageDuplicate", i18n.ERROR_INTERNAL, err)
	}
	if dup {
		// the identical message already landed; repeating it is a no-op
		// for the caller, not a failure
		return nil, nil
	}

	optimistic := types.OptimisticMessage{
		ID:             types.OptimisticIDPrefix + uuid.NewString(),
		SessionID:      p.sessionID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		MessageType:    msgType,
		Metadata:       metadata,
		IdempotencyKey: uuid.NewString(),
		Status:         types.OPTIMISTIC_STATUS_SENDING,
		CreatedAt:      time.Now().Unix(),
	}
	p.submit(optimistic)
	return &optimistic, nil
}

// submit registers the optimistic entry, arms its timeout and launches the
// retried storage write.
func (p *MessagePipeline) submit(optimistic types.OptimisticMessage) {
	entry := &optimisticEntry{msg: optimistic}
	entry.timer = time.AfterFunc(p.cfg.SendTimeout, func() {
		if p.markStatus(optimistic.ID, types.OPTIMISTIC_STATUS_TIMEOUT, types.CODE_TIMEOUT) {
			p.cfg.OnTimeout()
		}
	})

	p.mu.Lock()
	p.optimistic = append(p.optimistic, entry)
	p.mu.Unlock()
	p.onUpdate()

	safe.Go("message-pipeline-send", func() {
		executor := retry.New()
		result := executor.Execute(context.Background(), func(ctx context.Context) error {
			created, err := p.sender.SendMessageAtomic(ctx, types.CreateMessageArgs{
				SessionID:      optimistic.SessionID,
				SenderID:       optimistic.SenderID,
				SenderRole:     optimistic.SenderRole,
				Content:        optimistic.Content,
				MessageType:    optimistic.MessageType,
				Metadata:       optimistic.Metadata,
				IdempotencyKey: optimistic.IdempotencyKey,
			})
			if err != nil {
				return err
			}
			p.Reconcile(created)
			return nil
		})
		if !result.Success {
			p.markStatus(optimistic.ID, types.OPTIMISTIC_STATUS_FAILED, result.Code)
		}
	})
}

// markStatus flips an entry that is still sending; confirmed or already
// failed entries are left alone.
func (p *MessagePipeline) markStatus(optimisticID string, status types.OptimisticStatus, code types.AppCode) bool {
	changed := false
	p.mu.Lock()
	for _, entry := range p.optimistic {
		if entry.msg.ID == optimisticID && entry.msg.Status == types.OPTIMISTIC_STATUS_SENDING {
			entry.msg.Status = status
			entry.code = code
			changed = true
			break
		}
	}
	p.mu.Unlock()
	if changed {
		p.onUpdate()
	}
	return changed
}

// Reconcile merges a confirmed row into the list, collapsing the optimistic
// entry that produced it. Matching is by idempotency key; rows written
// before keys existed fall back to sender role + content within the
// reconcile window.
func (p *MessagePipeline) Reconcile(confirmed *types.SupportMessage) (matched bool, by string) {
	if confirmed == nil || confirmed.SessionID != p.sessionID {
		return false, ""
	}

	p.mu.Lock()
	matched, by = p.dropMatchedLocked(confirmed)

	if !lo.ContainsBy(p.confirmed, func(m types.SupportMessage) bool { return m.ID == confirmed.ID }) {
		idx := sort.Search(len(p.confirmed), func(i int) bool {
			return p.confirmed[i].CreatedAt > confirmed.CreatedAt
		})
		p.confirmed = append(p.confirmed, types.SupportMessage{})
		copy(p.confirmed[idx+1:], p.confirmed[idx:])
		p.confirmed[idx] = *confirmed
	}
	p.mu.Unlock()
	if matched {
		p.cfg.OnReconcile(by)
	}
	p.onUpdate()
	return matched, by
}

func (p *MessagePipeline) dropMatchedLocked(confirmed *types.SupportMessage) (bool, string) {
	for i, entry := range p.optimistic {
		if confirmed.IdempotencyKey != "" && entry.msg.IdempotencyKey == confirmed.IdempotencyKey {
			return p.removeEntryLocked(i), "key"
		}
	}
	for i, entry := range p.optimistic {
		if entry.msg.SenderRole == confirmed.SenderRole &&
			entry.msg.Content == confirmed.Content &&
			absDelta(entry.msg.CreatedAt, confirmed.CreatedAt) <= int64(p.cfg.ReconcileWindow/time.Second) {
			return p.removeEntryLocked(i), "fuzzy"
		}
	}
	return false, ""
}

func (p *MessagePipeline) removeEntryLocked(i int) bool {
	entry := p.optimistic[i]
	entry.timer.Stop()
	p.optimistic = append(p.optimistic[:i], p.optimistic[i+1:]...)
	return true
}

// Retry discards a failed or timed-out entry and resubmits its content. The
// idempotency key is preserved, so a send whose write actually landed is
// collapsed by storage replay instead of duplicated.
func (p *MessagePipeline) Retry(optimisticID string) error {
	p.mu.Lock()
	var found *types.OptimisticMessage
	for i, entry := range p.optimistic {
		if entry.msg.ID != optimisticID {
			continue
		}
		if entry.msg.Status == types.OPTIMISTIC_STATUS_SENDING {
			p.mu.Unlock()
			return errors.New("MessagePipeline.Retry.inflight", i18n.ERROR_INVALIDARGUMENT, nil).Code(http.StatusConflict)
		}
		msg := entry.msg
		found = &msg
		p.removeEntryLocked(i)
		break
	}
	p.mu.Unlock()

	if found == nil {
		return errors.New("MessagePipeline.Retry.notfound", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound)
	}

	resend := *found
	resend.ID = types.OptimisticIDPrefix + uuid.NewString()
	resend.Status = types.OPTIMISTIC_STATUS_SENDING
	resend.CreatedAt = time.Now().Unix()
	p.submit(resend)
	return nil
}

// HasFailedMessages reports whether any entry needs user attention.
func (p *MessagePipeline) HasFailedMessages() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.optimistic {
		if entry.msg.Status == types.OPTIMISTIC_STATUS_FAILED || entry.msg.Status == types.OPTIMISTIC_STATUS_TIMEOUT {
			return true
		}
	}
	return false
}

// Snapshot returns the visible list in created_at order.
func (p *MessagePipeline) Snapshot() []types.SessionMessage {
	p.mu.Lock()
	out := make([]types.SessionMessage, 0, len(p.confirmed)+len(p.optimistic))
	for i := range p.confirmed {
		msg := p.confirmed[i]
		out = append(out, types.SessionMessage{Confirmed: &msg})
	}
	for _, entry := range p.optimistic {
		msg := entry.msg
		out = append(out, types.SessionMessage{Optimistic: &msg})
	}
	p.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt() < out[j].CreatedAt()
	})
	return out
}

// Close stops every pending timeout timer.
func (p *MessagePipeline) Close() {
	p.mu.Lock()
	for _, entry := range p.optimistic {
		entry.timer.Stop()
	}
	p.mu.Unlock()
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
