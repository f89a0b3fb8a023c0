package v1

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

func newTestMachine() (*SessionStateMachine, *fakeSessionStore, *fakeAuditStore, *recordingPublisher) {
	sessions := newFakeSessionStore()
	audits := &fakeAuditStore{}
	pub := &recordingPublisher{}
	return NewSessionStateMachine(sessions, audits, noopTx{}, pub), sessions, audits, pub
}

func waitingSession(id, userID string) types.SupportSession {
	now := time.Now().Unix()
	return types.SupportSession{
		ID:             id,
		UserID:         userID,
		Status:         types.SESSION_STATUS_WAITING,
		SessionNumber:  1,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

func TestSessionStateMachine_ActivateSession(t *testing.T) {
	machine, sessions, audits, pub := newTestMachine()
	sessions.put(waitingSession("s1", "u1"))

	session, err := machine.ActivateSession(context.Background(), "s1", "spec-1")
	if err != nil {
		t.Fatal(err)
	}

	if session.Status != types.SESSION_STATUS_ACTIVE {
		t.Errorf("status = %s, want active", session.Status)
	}
	if session.SpecialistID == nil || *session.SpecialistID != "spec-1" {
		t.Errorf("specialist not assigned: %v", session.SpecialistID)
	}

	if got := audits.count("s1"); got != 1 {
		t.Errorf("audit rows = %d, want 1", got)
	}

	events := pub.all()
	if len(events) != 1 || events[0].ev.Kind != types.CHANGE_KIND_UPDATE {
		t.Errorf("expected one update event on the feed, got %v", events)
	}
}

func TestSessionStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name     string
		status   types.SessionStatus
		from     types.SessionStatus
		to       types.SessionStatus
		wantCode int
	}{
		{"active back to waiting", types.SESSION_STATUS_ACTIVE, types.SESSION_STATUS_ACTIVE, types.SESSION_STATUS_WAITING, http.StatusConflict},
		{"stale from state", types.SESSION_STATUS_ACTIVE, types.SESSION_STATUS_WAITING, types.SESSION_STATUS_ACTIVE, http.StatusConflict},
		{"out of ended", types.SESSION_STATUS_ENDED, types.SESSION_STATUS_ENDED, types.SESSION_STATUS_ENDED, http.StatusGone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, sessions, audits, _ := newTestMachine()
			s := waitingSession("s1", "u1")
			s.Status = tt.status
			sessions.put(s)

			_, err := machine.Transition(context.Background(), "s1", tt.from, tt.to, "spec-1", "")
			if err == nil {
				t.Fatal("expected transition to fail")
			}
			if code := errors.CodeOf(err); code != tt.wantCode {
				t.Errorf("error code = %d, want %d", code, tt.wantCode)
			}
			if got := audits.count("s1"); got != 0 {
				t.Errorf("failed transition must not write audit rows, got %d", got)
			}
		})
	}
}

func TestSessionStateMachine_TransitionNotFound(t *testing.T) {
	machine, _, _, _ := newTestMachine()

	_, err := machine.Transition(context.Background(), "missing", types.SESSION_STATUS_WAITING, types.SESSION_STATUS_ACTIVE, "spec-1", "")
	if err == nil {
		t.Fatal("expected not found error")
	}
	if code := errors.CodeOf(err); code != http.StatusNotFound {
		t.Errorf("error code = %d, want 404", code)
	}
}

func TestSessionStateMachine_EndSession(t *testing.T) {
	machine, sessions, audits, _ := newTestMachine()
	sessions.put(waitingSession("s1", "u1"))

	session, err := machine.EndSession(context.Background(), "s1", "u1", "resolved")
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != types.SESSION_STATUS_ENDED {
		t.Errorf("status = %s, want ended", session.Status)
	}
	if session.EndedAt == nil || session.EndReason == nil || *session.EndReason != "resolved" {
		t.Errorf("ended_at/end_reason not persisted: %+v", session)
	}
	if got := audits.count("s1"); got != 1 {
		t.Errorf("audit rows = %d, want 1", got)
	}

	// second end reports already ended
	_, err = machine.EndSession(context.Background(), "s1", "u1", "again")
	if err == nil {
		t.Fatal("expected already ended error")
	}
	if code := errors.CodeOf(err); code != http.StatusGone {
		t.Errorf("error code = %d, want 410", code)
	}
}

func TestSessionStateMachine_ConcurrentActivate(t *testing.T) {
	machine, sessions, _, _ := newTestMachine()
	sessions.put(waitingSession("s1", "u1"))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = machine.ActivateSession(context.Background(), "s1", "spec-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range results {
		if err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one of two concurrent activations to fail, got %d failures", failures)
	}

	final, err := sessions.Get(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.SESSION_STATUS_ACTIVE {
		t.Errorf("final status = %s, want active", final.Status)
	}
	if final.SpecialistID == nil {
		t.Error("exactly one specialist must be assigned")
	}
}

// Transitions for the same session are applied in submission order even when
// callers overlap.
func TestSessionStateMachine_SerializedQueue(t *testing.T) {
	machine, sessions, audits, _ := newTestMachine()
	sessions.put(waitingSession("s1", "u1"))

	if _, err := machine.ActivateSession(context.Background(), "s1", "spec-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := machine.EndSession(context.Background(), "s1", "spec-1", "done"); err != nil {
		t.Fatal(err)
	}

	list, err := audits.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(list))
	}
	if list[0].ToStatus != types.SESSION_STATUS_ACTIVE || list[1].ToStatus != types.SESSION_STATUS_ENDED {
		t.Errorf("audit order broken: %+v", list)
	}
}
