package types

import (
	"context"
	"time"
)

const NO_PAGING = 0

type WsEventType int32

const (
	WS_EVENT_UNKNOWN        WsEventType = 0
	WS_EVENT_ROW_INSERT     WsEventType = 10 // storage row inserted
	WS_EVENT_ROW_UPDATE     WsEventType = 11 // storage row updated
	WS_EVENT_ROW_DELETE     WsEventType = 12
	WS_EVENT_SESSION_SIGNAL WsEventType = 100 // session lifecycle signal
	WS_EVENT_OTHERS         WsEventType = 400
)

func (k ChangeKind) WsEvent() WsEventType {
	switch k {
	case CHANGE_KIND_INSERT:
		return WS_EVENT_ROW_INSERT
	case CHANGE_KIND_UPDATE:
		return WS_EVENT_ROW_UPDATE
	case CHANGE_KIND_DELETE:
		return WS_EVENT_ROW_DELETE
	default:
		return WS_EVENT_UNKNOWN
	}
}

// AppCode 是 atomic storage RPC 返回的稳定错误码
type AppCode string

const (
	CODE_SESSION_EXISTS    AppCode = "SESSION_EXISTS"
	CODE_SESSION_NOT_FOUND AppCode = "SESSION_NOT_FOUND"
	CODE_SESSION_ENDED     AppCode = "SESSION_ENDED"
	CODE_ALREADY_ENDED     AppCode = "ALREADY_ENDED"
	CODE_PERMISSION_DENIED AppCode = "PERMISSION_DENIED"
	CODE_RETRY_FAILED      AppCode = "RETRY_FAILED"
	CODE_TIMEOUT           AppCode = "TIMEOUT"
)

const (
	LANGUAGE_EN_KEY = "en"
	LANGUAGE_CN_KEY = "zh-CN"
)

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, expiresAt time.Duration) error
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

type UserTokenMeta struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expires_at"`
}
