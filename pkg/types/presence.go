package types

import (
	"encoding/json"
	"fmt"
)

type PresenceStatus string

const (
	PRESENCE_STATUS_ONLINE  PresenceStatus = "online"
	PRESENCE_STATUS_AWAY    PresenceStatus = "away"
	PRESENCE_STATUS_BUSY    PresenceStatus = "busy"
	PRESENCE_STATUS_OFFLINE PresenceStatus = "offline"
)

// PresenceSource records what produced the effective status.
type PresenceSource string

const (
	PRESENCE_SOURCE_MANUAL   PresenceSource = "manual"
	PRESENCE_SOURCE_CALENDAR PresenceSource = "calendar"
	PRESENCE_SOURCE_DEFAULT  PresenceSource = "default"
)

type SpecialistStatus struct {
	SpecialistID  string           `json:"specialist_id" db:"specialist_id"`
	Status        PresenceStatus   `json:"status" db:"status"`
	StatusMessage string           `json:"status_message" db:"status_message"`
	LastSeen      int64            `json:"last_seen" db:"last_seen"`
	Metadata      PresenceMetadata `json:"metadata" db:"metadata"`
}

type PresenceMetadata struct {
	Source             PresenceSource `json:"source"`
	CalendarControlled bool           `json:"calendar_controlled"`
	CalendarReason     string         `json:"calendar_reason,omitempty"`
	CheckedAt          int64          `json:"checked_at"`
}

func (m PresenceMetadata) Value() (any, error) {
	raw, err := json.Marshal(m)
	return string(raw), err
}

func (m *PresenceMetadata) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		return json.Unmarshal(src, m)
	case string:
		return json.Unmarshal([]byte(src), m)
	case nil:
		*m = PresenceMetadata{}
		return nil
	}
	return fmt.Errorf("pq: cannot convert %T to PresenceMetadata", src)
}

// CalendarAvailability is the result of the external calendar computation
// for "now".
type CalendarAvailability struct {
	Status PresenceStatus
	Reason string
}
