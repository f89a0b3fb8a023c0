package store

import (
	"context"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

type SupportSessionStore interface {
	Create(ctx context.Context, data types.SupportSession) error
	Get(ctx context.Context, sessionID string) (*types.SupportSession, error)
	GetLatestByUser(ctx context.Context, userID string) (*types.SupportSession, error)
	GetLiveByUser(ctx context.Context, userID string) (*types.SupportSession, error)
	UpdateTransition(ctx context.Context, data *types.SupportSession) error
	TouchActivity(ctx context.Context, sessionID string, at int64) error
	NextSessionNumber(ctx context.Context, userID string) (int64, error)
	ListWaitingBefore(ctx context.Context, before int64) ([]types.SupportSession, error)
	List(ctx context.Context, userID string, page, pageSize uint64) ([]types.SupportSession, error)
}

type SupportMessageStore interface {
	Create(ctx context.Context, data types.SupportMessage) error
	Get(ctx context.Context, messageID string) (*types.SupportMessage, error)
	GetByIdempotencyKey(ctx context.Context, sessionID, key string) (*types.SupportMessage, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize uint64) ([]types.SupportMessage, error)
	ExistsRecentDuplicate(ctx context.Context, sessionID, senderID, content string, since int64) (bool, error)
	GetRecentDuplicate(ctx context.Context, sessionID, senderID, content string, since int64) (*types.SupportMessage, error)
	MarkRead(ctx context.Context, sessionID string, readerRole types.SenderRole) error
	Total(ctx context.Context, sessionID string) (int64, error)
}

type SessionAuditStore interface {
	Append(ctx context.Context, data types.SessionAudit) error
	ListBySession(ctx context.Context, sessionID string) ([]types.SessionAudit, error)
}

type SpecialistStatusStore interface {
	Upsert(ctx context.Context, data types.SpecialistStatus) error
	Get(ctx context.Context, specialistID string) (*types.SpecialistStatus, error)
	List(ctx context.Context, page, pageSize uint64) ([]types.SpecialistStatus, error)
}

// FeedPublisher receives row-level change events after committed writes. The
// tower service implements it; tests use a recorder.
type FeedPublisher interface {
	PublishChange(ev types.ChangeEvent, filterField, filterValue string) error
}

// SessionWithMessages is the point-in-time full reload unit consumers use to
// reconcile after feed gaps.
type SessionWithMessages struct {
	Session  *types.SupportSession  `json:"session"`
	Messages []types.SupportMessage `json:"messages"`
}
