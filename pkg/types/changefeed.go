package types

import "encoding/json"

type ChangeKind string

const (
	CHANGE_KIND_INSERT ChangeKind = "insert"
	CHANGE_KIND_UPDATE ChangeKind = "update"
	CHANGE_KIND_DELETE ChangeKind = "delete"
)

// ChangeEvent is one row-level change emitted by the storage layer after a
// committed write. Transient, consumed once per subscriber.
type ChangeEvent struct {
	Table  TableName       `json:"table"`
	Kind   ChangeKind      `json:"kind"`
	OldRow json.RawMessage `json:"old_row,omitempty"`
	NewRow json.RawMessage `json:"new_row,omitempty"`
}

func NewChangeEvent(table TableName, kind ChangeKind, oldRow, newRow any) (ChangeEvent, error) {
	ev := ChangeEvent{Table: table, Kind: kind}
	var err error
	if oldRow != nil {
		if ev.OldRow, err = json.Marshal(oldRow); err != nil {
			return ev, err
		}
	}
	if newRow != nil {
		if ev.NewRow, err = json.Marshal(newRow); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (e ChangeEvent) DecodeNew(dst any) error {
	return json.Unmarshal(e.NewRow, dst)
}

func (e ChangeEvent) DecodeOld(dst any) error {
	return json.Unmarshal(e.OldRow, dst)
}

type ConnStatus string

const (
	CONN_STATUS_CONNECTED    ConnStatus = "connected"
	CONN_STATUS_CONNECTING   ConnStatus = "connecting"
	CONN_STATUS_DISCONNECTED ConnStatus = "disconnected"
)
