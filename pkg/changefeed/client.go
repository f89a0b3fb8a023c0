package changefeed

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/samber/lo"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/safe"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types/protocol"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

type Handler func(ev types.ChangeEvent)

type StatusHandler func(status types.ConnStatus)

// EventSpec scopes a subscription by table, change kind and one filter
// column. The filter is part of the channel topic, so events for other rows
// never reach this process.
type EventSpec struct {
	Table       types.TableName
	Kinds       []types.ChangeKind
	FilterField string
	FilterValue string
}

func (s EventSpec) Topic() string {
	return protocol.GenChangesTopic(string(s.Table), s.FilterField, s.FilterValue)
}

func (s EventSpec) Matches(ev types.ChangeEvent) bool {
	if ev.Table != s.Table {
		return false
	}
	if len(s.Kinds) == 0 {
		return true
	}
	return lo.Contains(s.Kinds, ev.Kind)
}

// Source is the underlying push transport. The production implementation
// rides the firetower manager; tests swap in a fake.
type Source interface {
	// Attach opens one ordered event stream for topic. The returned detach
	// func stops delivery; the channel itself is never closed by the source.
	Attach(topic string) (<-chan types.ChangeEvent, func(), error)
	Status() types.ConnStatus
	SetStatusHandler(h StatusHandler)
}

type subscription struct {
	id         string
	channelKey string
	spec       EventSpec
	handler    Handler
}

// feedChannel multiplexes every subscription sharing one topic over a single
// attached stream. One dispatch goroutine per channel keeps delivery order
// per subscription.
type feedChannel struct {
	key    string
	events <-chan types.ChangeEvent
	detach func()
	done   chan struct{}

	mu   sync.RWMutex
	subs []*subscription
}

func (c *feedChannel) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.RLock()
			subs := c.subs
			c.mu.RUnlock()
			for _, sub := range subs {
				if sub.spec.Matches(ev) {
					sub.handler(ev)
				}
			}
		}
	}
}

type Client struct {
	source Source

	mu       sync.Mutex
	channels cmap.ConcurrentMap[string, *feedChannel]
	subs     cmap.ConcurrentMap[string, *subscription]

	statusMu       sync.RWMutex
	statusHandlers map[int]StatusHandler
	nextStatusID   int
}

func NewClient(source Source) *Client {
	c := &Client{
		source:         source,
		channels:       cmap.New[*feedChannel](),
		subs:           cmap.New[*subscription](),
		statusHandlers: make(map[int]StatusHandler),
	}
	source.SetStatusHandler(c.fanoutStatus)
	return c
}

func (c *Client) fanoutStatus(status types.ConnStatus) {
	c.statusMu.RLock()
	handlers := make([]StatusHandler, 0, len(c.statusHandlers))
	for _, h := range c.statusHandlers {
		handlers = append(handlers, h)
	}
	c.statusMu.RUnlock()
	for _, h := range handlers {
		h(status)
	}
}

// OnStatusChange registers h for transport status transitions. Consumers are
// expected to reconcile with a full reload after reconnect rather than assume
// no events were missed. The returned func unregisters h; long-lived
// consumers sharing one client must call it when they shut down.
func (c *Client) OnStatusChange(h StatusHandler) (unregister func()) {
	c.statusMu.Lock()
	id := c.nextStatusID
	c.nextStatusID++
	c.statusHandlers[id] = h
	c.statusMu.Unlock()

	return func() {
		c.statusMu.Lock()
		delete(c.statusHandlers, id)
		c.statusMu.Unlock()
	}
}

func (c *Client) Status() types.ConnStatus {
	return c.source.Status()
}

// Subscribe registers handler for events matching spec. Subscriptions with
// the same channelKey share one underlying stream to avoid connection
// proliferation.
func (c *Client) Subscribe(channelKey string, spec EventSpec, handler Handler) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels.Get(channelKey)
	if !ok {
		events, detach, err := c.source.Attach(spec.Topic())
		if err != nil {
			return "", err
		}
		ch = &feedChannel{
			key:    channelKey,
			events: events,
			detach: detach,
			done:   make(chan struct{}),
		}
		c.channels.Set(channelKey, ch)
		safe.Go("changefeed.dispatch."+channelKey, ch.dispatch)
	}

	sub := &subscription{
		id:         utils.GenRandomID(),
		channelKey: channelKey,
		spec:       spec,
		handler:    handler,
	}

	ch.mu.Lock()
	ch.subs = append(ch.subs, sub)
	ch.mu.Unlock()

	c.subs.Set(sub.id, sub)
	return sub.id, nil
}

func (c *Client) Unsubscribe(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs.Get(subID)
	if !ok {
		return
	}
	c.subs.Remove(subID)

	ch, ok := c.channels.Get(sub.channelKey)
	if !ok {
		return
	}

	ch.mu.Lock()
	ch.subs = lo.Filter(ch.subs, func(item *subscription, _ int) bool {
		return item.id != subID
	})
	remaining := len(ch.subs)
	ch.mu.Unlock()

	if remaining == 0 {
		close(ch.done)
		ch.detach()
		c.channels.Remove(sub.channelKey)
	}
}

// Close detaches every channel. Pending events are dropped.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for item := range c.channels.IterBuffered() {
		close(item.Val.done)
		item.Val.detach()
	}
	c.channels.Clear()
	c.subs.Clear()
}
