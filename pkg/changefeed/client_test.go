package changefeed

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// fakeSource is an in-memory Source; tests push events straight onto the
// attached channels.
type fakeSource struct {
	mu       sync.Mutex
	attached map[string]chan types.ChangeEvent
	detached map[string]int
	attaches int
	status   types.ConnStatus
	handler  StatusHandler
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		attached: make(map[string]chan types.ChangeEvent),
		detached: make(map[string]int),
		status:   types.CONN_STATUS_CONNECTED,
	}
}

func (f *fakeSource) Attach(topic string) (<-chan types.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches++
	ch := make(chan types.ChangeEvent, 64)
	f.attached[topic] = ch
	return ch, func() {
		f.mu.Lock()
		f.detached[topic]++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) Status() types.ConnStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) SetStatusHandler(h StatusHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeSource) push(topic string, ev types.ChangeEvent) {
	f.mu.Lock()
	ch := f.attached[topic]
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeSource) markStatus(status types.ConnStatus) {
	f.mu.Lock()
	f.status = status
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(status)
	}
}

func messageEvent(t *testing.T, sessionID, content string) types.ChangeEvent {
	t.Helper()
	ev, err := types.NewChangeEvent(types.TABLE_SUPPORT_MESSAGE, types.CHANGE_KIND_INSERT, nil, &types.SupportMessage{
		ID:        "m-" + content,
		SessionID: sessionID,
		Content:   content,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestClient_SubscribeSharesChannelPerKey(t *testing.T) {
	source := newFakeSource()
	client := NewClient(source)
	defer client.Close()

	spec := EventSpec{
		Table:       types.TABLE_SUPPORT_MESSAGE,
		Kinds:       []types.ChangeKind{types.CHANGE_KIND_INSERT},
		FilterField: "session_id",
		FilterValue: "s1",
	}

	var mu sync.Mutex
	var got1, got2 []string
	record := func(dst *[]string) Handler {
		return func(ev types.ChangeEvent) {
			var msg types.SupportMessage
			if err := json.Unmarshal(ev.NewRow, &msg); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			*dst = append(*dst, msg.Content)
			mu.Unlock()
		}
	}

	if _, err := client.Subscribe(spec.Topic(), spec, record(&got1)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Subscribe(spec.Topic(), spec, record(&got2)); err != nil {
		t.Fatal(err)
	}

	if source.attaches != 1 {
		t.Fatalf("expected two subscriptions to share one attached stream, got %d attaches", source.attaches)
	}

	source.push(spec.Topic(), messageEvent(t, "s1", "a"))
	source.push(spec.Topic(), messageEvent(t, "s1", "b"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got1) == 2 && len(got2) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	for _, got := range [][]string{got1, got2} {
		if got[0] != "a" || got[1] != "b" {
			t.Errorf("delivery order broken: %v", got)
		}
	}
}

func TestClient_EventSpecFiltersKinds(t *testing.T) {
	source := newFakeSource()
	client := NewClient(source)
	defer client.Close()

	spec := EventSpec{
		Table: types.TABLE_SUPPORT_SESSION,
		Kinds: []types.ChangeKind{types.CHANGE_KIND_UPDATE},
	}

	var mu sync.Mutex
	var kinds []types.ChangeKind
	if _, err := client.Subscribe(spec.Topic(), spec, func(ev types.ChangeEvent) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	insert, _ := types.NewChangeEvent(types.TABLE_SUPPORT_SESSION, types.CHANGE_KIND_INSERT, nil, &types.SupportSession{ID: "x"})
	update, _ := types.NewChangeEvent(types.TABLE_SUPPORT_SESSION, types.CHANGE_KIND_UPDATE, nil, &types.SupportSession{ID: "x"})
	source.push(spec.Topic(), insert)
	source.push(spec.Topic(), update)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if kinds[0] != types.CHANGE_KIND_UPDATE {
		t.Errorf("insert events should be filtered out, got %v", kinds)
	}
}

func TestClient_UnsubscribeDetachesWhenEmpty(t *testing.T) {
	source := newFakeSource()
	client := NewClient(source)
	defer client.Close()

	spec := EventSpec{Table: types.TABLE_SUPPORT_MESSAGE}

	sub1, err := client.Subscribe(spec.Topic(), spec, func(types.ChangeEvent) {})
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := client.Subscribe(spec.Topic(), spec, func(types.ChangeEvent) {})
	if err != nil {
		t.Fatal(err)
	}

	client.Unsubscribe(sub1)
	source.mu.Lock()
	detached := source.detached[spec.Topic()]
	source.mu.Unlock()
	if detached != 0 {
		t.Fatal("channel detached while a subscriber remains")
	}

	client.Unsubscribe(sub2)
	source.mu.Lock()
	detached = source.detached[spec.Topic()]
	source.mu.Unlock()
	if detached != 1 {
		t.Fatalf("expected detach after last unsubscribe, got %d", detached)
	}
}

func TestClient_StatusFanout(t *testing.T) {
	source := newFakeSource()
	client := NewClient(source)
	defer client.Close()

	var mu sync.Mutex
	var seen []types.ConnStatus
	client.OnStatusChange(func(status types.ConnStatus) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})

	source.markStatus(types.CONN_STATUS_DISCONNECTED)
	source.markStatus(types.CONN_STATUS_CONNECTED)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != types.CONN_STATUS_DISCONNECTED || seen[1] != types.CONN_STATUS_CONNECTED {
		t.Errorf("status transitions not fanned out: %v", seen)
	}

	if client.Status() != types.CONN_STATUS_CONNECTED {
		t.Errorf("Status() = %v, want connected", client.Status())
	}
}

func TestClient_StatusHandlerUnregister(t *testing.T) {
	source := newFakeSource()
	client := NewClient(source)
	defer client.Close()

	var mu sync.Mutex
	var gone, kept int
	unregister := client.OnStatusChange(func(types.ConnStatus) {
		mu.Lock()
		gone++
		mu.Unlock()
	})
	client.OnStatusChange(func(types.ConnStatus) {
		mu.Lock()
		kept++
		mu.Unlock()
	})

	source.markStatus(types.CONN_STATUS_DISCONNECTED)
	unregister()
	source.markStatus(types.CONN_STATUS_CONNECTED)

	mu.Lock()
	defer mu.Unlock()
	if gone != 1 {
		t.Errorf("unregistered handler called %d times, want 1", gone)
	}
	if kept != 2 {
		t.Errorf("remaining handler called %d times, want 2", kept)
	}
}
