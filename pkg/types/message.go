package types

import (
	"encoding/json"
	"fmt"
)

type SenderRole string

const (
	SENDER_ROLE_USER       SenderRole = "user"
	SENDER_ROLE_SPECIALIST SenderRole = "specialist"
	SENDER_ROLE_SYSTEM     SenderRole = "system"
)

type MessageType string

const (
	MESSAGE_TYPE_TEXT   MessageType = "text"
	MESSAGE_TYPE_SYSTEM MessageType = "system"
)

type SupportMessage struct {
	ID             string          `json:"id" db:"id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	SenderID       string          `json:"sender_id" db:"sender_id"`
	SenderRole     SenderRole      `json:"sender_role" db:"sender_role"`
	Content        string          `json:"content" db:"content"`
	MessageType    MessageType     `json:"message_type" db:"message_type"`
	Metadata       MessageMetadata `json:"metadata,omitempty" db:"metadata"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      int64           `json:"created_at" db:"created_at"`
	IsRead         bool            `json:"is_read" db:"is_read"`
}

type MessageMetadata map[string]any

func (m MessageMetadata) Value() (any, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	return string(raw), err
}

func (m *MessageMetadata) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		return m.scanBytes(src)
	case string:
		return m.scanBytes([]byte(src))
	case nil:
		*m = nil
		return nil
	}
	return fmt.Errorf("pq: cannot convert %T to MessageMetadata", src)
}

func (m *MessageMetadata) scanBytes(src []byte) error {
	if len(src) == 0 {
		*m = MessageMetadata{}
		return nil
	}
	return json.Unmarshal(src, m)
}

// OptimisticStatus tracks a locally synthesized message that has not been
// confirmed by storage yet.
type OptimisticStatus string

const (
	OPTIMISTIC_STATUS_SENDING OptimisticStatus = "sending"
	OPTIMISTIC_STATUS_FAILED  OptimisticStatus = "failed"
	OPTIMISTIC_STATUS_TIMEOUT OptimisticStatus = "timeout"
)

const OptimisticIDPrefix = "optimistic-"

// OptimisticMessage is the client-side representation shown before storage
// acknowledges the send. Its ID carries OptimisticIDPrefix so it can never
// collide with a server-generated identifier.
type OptimisticMessage struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	SenderID       string           `json:"sender_id"`
	SenderRole     SenderRole       `json:"sender_role"`
	Content        string           `json:"content"`
	MessageType    MessageType      `json:"message_type"`
	Metadata       MessageMetadata  `json:"metadata,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         OptimisticStatus `json:"status"`
	CreatedAt      int64            `json:"created_at"`
}

func (m *OptimisticMessage) IsOptimistic() bool {
	return true
}

// SessionMessage is one entry of the visible message list: either a confirmed
// row or an optimistic placeholder, never both for the same logical send.
type SessionMessage struct {
	Confirmed  *SupportMessage    `json:"confirmed,omitempty"`
	Optimistic *OptimisticMessage `json:"optimistic,omitempty"`
}

func (m SessionMessage) CreatedAt() int64 {
	if m.Confirmed != nil {
		return m.Confirmed.CreatedAt
	}
	return m.Optimistic.CreatedAt
}

func (m SessionMessage) Content() string {
	if m.Confirmed != nil {
		return m.Confirmed.Content
	}
	return m.Optimistic.Content
}

func (m SessionMessage) SenderRole() SenderRole {
	if m.Confirmed != nil {
		return m.Confirmed.SenderRole
	}
	return m.Optimistic.SenderRole
}

type CreateMessageArgs struct {
	SessionID      string
	SenderID       string
	SenderRole     SenderRole
	Content        string
	MessageType    MessageType
	Metadata       MessageMetadata
	IdempotencyKey string
}
