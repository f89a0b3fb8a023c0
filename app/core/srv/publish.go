package srv

import (
	"encoding/json"

	fireprotocol "github.com/holdno/firetower/protocol"
	"github.com/holdno/firetower/service/tower"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/socket/firetower"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types/protocol"
)

type Tower struct {
	pusher *firetower.SelfPusher[firetower.PublishData]
	tower.Manager[firetower.PublishData]
}

func SetupSocketSrv() (*Tower, error) {
	tower, pusher, err := firetower.SetupFiretower[firetower.PublishData]()
	if err != nil {
		return nil, err
	}

	return &Tower{
		pusher:  pusher,
		Manager: tower,
	}, nil
}

func ApplyTower() ApplyFunc {
	return func(s *Srv) {
		var err error
		if s.tower, err = SetupSocketSrv(); err != nil {
			panic(err)
		}
	}
}

func (t *Tower) NewMessage(imtopic string, _type fireprotocol.FireOperation, data firetower.PublishData) *fireprotocol.FireInfo[firetower.PublishData] {
	fire := t.NewFire(fireprotocol.SourceSystem, t.pusher)
	fire.Message.Topic = imtopic
	fire.Message.Type = _type
	fire.Message.Data = data
	return fire
}

// PublishChange fans a committed row change out to every subscriber of the
// table/filter topic, browser websockets and in-process consumers alike.
func (t *Tower) PublishChange(ev types.ChangeEvent, filterField, filterValue string) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	topic := protocol.GenChangesTopic(string(ev.Table), filterField, filterValue)
	return t.publish(topic, fireprotocol.PublishOperation, firetower.PublishData{
		Subject: firetower.SubjectChangeEvent,
		Version: "v1",
		Type:    ev.Kind.WsEvent(),
		Data:    raw,
	})
}

// PublishSessionSignal carries non-row signals (typing, presence nudges) on
// the session IM topic.
func (t *Tower) PublishSessionSignal(sessionID, subject string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return t.publish(protocol.GenSessionTopic(sessionID), fireprotocol.PublishOperation, firetower.PublishData{
		Subject: subject,
		Version: "v1",
		Type:    types.WS_EVENT_SESSION_SIGNAL,
		Data:    raw,
	})
}

func (t *Tower) publish(imtopic string, _type fireprotocol.FireOperation, data firetower.PublishData) error {
	fire := t.NewMessage(imtopic, _type, data)
	return t.Publish(fire)
}
