package types

import "fmt"

type TableName string

func (s TableName) Name() string {
	return fmt.Sprintf("%s%s", TABLE_PREFIX, s)
}

const TABLE_PREFIX = "leap_"

const (
	TABLE_SUPPORT_SESSION   = TableName("support_session")
	TABLE_SUPPORT_MESSAGE   = TableName("support_message")
	TABLE_SESSION_AUDIT     = TableName("session_audit")
	TABLE_SPECIALIST_STATUS = TableName("specialist_status")
)
