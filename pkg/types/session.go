package types

type SessionStatus string

const (
	SESSION_STATUS_WAITING SessionStatus = "waiting"
	SESSION_STATUS_ACTIVE  SessionStatus = "active"
	SESSION_STATUS_ENDED   SessionStatus = "ended"
)

// sessionTransitions is the only legal forward path through the status
// lattice. Ended is terminal.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SESSION_STATUS_WAITING: {SESSION_STATUS_ACTIVE, SESSION_STATUS_ENDED},
	SESSION_STATUS_ACTIVE:  {SESSION_STATUS_ENDED},
	SESSION_STATUS_ENDED:   {},
}

func (s SessionStatus) CanTransitionTo(to SessionStatus) bool {
	for _, v := range sessionTransitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return s == SESSION_STATUS_ENDED
}

type SupportSession struct {
	ID             string        `json:"id" db:"id"`
	UserID         string        `json:"user_id" db:"user_id"`
	SpecialistID   *string       `json:"specialist_id,omitempty" db:"specialist_id"`
	Status         SessionStatus `json:"status" db:"status"`
	SessionNumber  int64         `json:"session_number" db:"session_number"`
	StartedAt      int64         `json:"started_at" db:"started_at"`
	EndedAt        *int64        `json:"ended_at,omitempty" db:"ended_at"`
	EndReason      *string       `json:"end_reason,omitempty" db:"end_reason"`
	LastActivityAt int64         `json:"last_activity_at" db:"last_activity_at"`
}

// StaleAfterSeconds is the age past which a waiting session with no
// specialist assigned counts as stale. A UI/ops signal, never an automatic
// transition.
const StaleAfterSeconds = 600

func (s *SupportSession) IsStale(now int64) bool {
	return s.Status == SESSION_STATUS_WAITING && s.SpecialistID == nil && now-s.StartedAt > StaleAfterSeconds
}

type SessionAudit struct {
	ID         int64         `json:"id" db:"id"`
	SessionID  string        `json:"session_id" db:"session_id"`
	FromStatus SessionStatus `json:"from_status" db:"from_status"`
	ToStatus   SessionStatus `json:"to_status" db:"to_status"`
	ActorID    string        `json:"actor_id" db:"actor_id"`
	Reason     string        `json:"reason" db:"reason"`
	Snapshot   string        `json:"snapshot" db:"snapshot"`
	CreatedAt  int64         `json:"created_at" db:"created_at"`
}
