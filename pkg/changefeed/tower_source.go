package changefeed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/holdno/firetower/protocol"
	"github.com/holdno/firetower/service/tower"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/socket/firetower"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

// TowerSource attaches the change-feed client to the in-process firetower
// manager. Server side subscriptions ride the same topic space the browser
// websocket towers use, so both see identical events.
type TowerSource struct {
	mgr    tower.Manager[firetower.PublishData]
	pusher *firetower.SelfPusher[firetower.PublishData]

	status atomic.Value // types.ConnStatus

	mu      sync.RWMutex
	handler StatusHandler
}

func NewTowerSource(mgr tower.Manager[firetower.PublishData], pusher *firetower.SelfPusher[firetower.PublishData]) *TowerSource {
	s := &TowerSource{
		mgr:    mgr,
		pusher: pusher,
	}
	s.status.Store(types.CONN_STATUS_CONNECTED)
	return s
}

func (s *TowerSource) Status() types.ConnStatus {
	return s.status.Load().(types.ConnStatus)
}

func (s *TowerSource) SetStatusHandler(h StatusHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// MarkStatus is called by the owning service on transport-level transitions
// (process local towers do not drop, but clustered pushers can).
func (s *TowerSource) MarkStatus(status types.ConnStatus) {
	s.status.Store(status)
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h != nil {
		h(status)
	}
}

func (s *TowerSource) Attach(topic string) (<-chan types.ChangeEvent, func(), error) {
	out := make(chan types.ChangeEvent, 256)
	var detached atomic.Bool

	fire := s.mgr.NewFire(protocol.SourceSystem, s.pusher)
	serverSide := s.mgr.BuildServerSideTower(utils.GenRandomID())

	serverSide.SetReceivedHandler(func(fi protocol.ReadOnlyFire[firetower.PublishData]) bool {
		if detached.Load() {
			return false
		}
		msg := fi.GetMessage()
		if msg.Topic != topic || msg.Data.Subject != firetower.SubjectChangeEvent {
			return false
		}

		var ev types.ChangeEvent
		if err := json.Unmarshal(msg.Data.Data, &ev); err != nil {
			slog.Error("failed to decode change event", slog.String("topic", topic), slog.String("error", err.Error()))
			return false
		}

		select {
		case out <- ev:
		default:
			// consumers run a reload poll, a dropped event is recovered there
			slog.Warn("change feed channel full, dropping event", slog.String("topic", topic))
		}
		return false
	})

	serverSide.Subscribe(fire.Context, []string{topic})

	return out, func() { detached.Store(true) }, nil
}
