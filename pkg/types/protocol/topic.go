package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	SessionIMTopicPrefix = "/support_session/"
	ChangesTopicPrefix   = "/changes/"
)

func GenSessionTopic(sessionID string) string {
	return fmt.Sprintf("%s%s", SessionIMTopicPrefix, sessionID)
}

func GetSessionID(imtopic string) (string, error) {
	return filepath.Base(imtopic), nil
}

func IsSessionTopic(imtopic string) bool {
	return strings.HasPrefix(imtopic, SessionIMTopicPrefix)
}

// GenChangesTopic scopes a change-feed channel by table and filter value,
// e.g. /changes/support_message/session_id/xxxx.
func GenChangesTopic(table string, filterField, filterValue string) string {
	if filterField == "" {
		return fmt.Sprintf("%s%s", ChangesTopicPrefix, table)
	}
	return fmt.Sprintf("%s%s/%s/%s", ChangesTopicPrefix, table, filterField, filterValue)
}

func IsChangesTopic(topic string) bool {
	return strings.HasPrefix(topic, ChangesTopicPrefix)
}

// ParseChangesTopic splits a changes topic back into table, filter field and
// filter value. Field and value are empty for table-wide topics.
func ParseChangesTopic(topic string) (table, field, value string) {
	parts := strings.Split(strings.TrimPrefix(topic, ChangesTopicPrefix), "/")
	switch len(parts) {
	case 1:
		return parts[0], "", ""
	case 3:
		return parts[0], parts[1], parts[2]
	default:
		return "", "", ""
	}
}
