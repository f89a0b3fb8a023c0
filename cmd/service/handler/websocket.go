package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/holdno/firetower/protocol"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/security"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/socket/firetower"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
	improtocol "github.com/jhjames1/leap-grit-forge-sub004/pkg/types/protocol"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// sessionParticipant reports whether user is a member of the given session.
func sessionParticipant(c *gin.Context, appCore *core.Core, user, sessionID string) bool {
	session, err := appCore.Store().SupportSessionStore().Get(c, sessionID)
	if err != nil || session == nil {
		return false
	}
	if session.UserID == user {
		return true
	}
	return session.SpecialistID != nil && *session.SpecialistID == user
}

// canSubscribe authorizes a single topic for the connected user.
func canSubscribe(c *gin.Context, appCore *core.Core, claims security.TokenClaims, topic string) bool {
	switch {
	case improtocol.IsSessionTopic(topic):
		sessionID, _ := improtocol.GetSessionID(topic)
		return sessionParticipant(c, appCore, claims.User, sessionID)
	case improtocol.IsChangesTopic(topic):
		table, field, value := improtocol.ParseChangesTopic(topic)
		switch types.TableName(table) {
		case types.TABLE_SUPPORT_SESSION:
			if field == "user_id" {
				return value == claims.User
			}
			if field == "id" {
				return sessionParticipant(c, appCore, claims.User, value)
			}
			return false
		case types.TABLE_SUPPORT_MESSAGE:
			if field == "session_id" {
				return sessionParticipant(c, appCore, claims.User, value)
			}
			return false
		case types.TABLE_SPECIALIST_STATUS:
			// 在线状态对所有已登录用户可见
			return true
		default:
			return false
		}
	default:
		return false
	}
}

func Websocket(appCore *core.Core) func(c *gin.Context) {
	if appCore.Srv().Tower() == nil {
		return func(c *gin.Context) {
			response.APIError(c, errors.New("api.Websocket", "this server not support websocket service", nil))
		}
	}
	return func(c *gin.Context) {
		var ws *websocket.Conn
		var err error

		tower := appCore.Srv().Tower()
		tokenClaim, _ := v1.InjectTokenClaim(c)

		ws, err = upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Websocket Upgrade err", slog.String("error", err.Error()))
			response.APIError(c, errors.New("api.Websocket", "failed to upgrade http", err))
			return
		}

		id := utils.GenRandomID()
		thisTower, err := tower.BuildTower(ws, id)
		if err != nil {
			response.APIError(c, errors.New("api.Websocket", "failed to build firetower", err))
			return
		}
		thisTower.SetUserID(tokenClaim.User)

		thisTower.SetReadHandler(func(fire protocol.ReadOnlyFire[firetower.PublishData]) bool {
			// 当前用户是不能通过websocket发送消息的，所以固定返回false
			return false
		})

		thisTower.SetReceivedHandler(func(fi protocol.ReadOnlyFire[firetower.PublishData]) bool {
			raw, err := json.Marshal(fi.GetMessage())
			if err != nil {
				slog.Error("failed to marshal firetower received message", slog.String("error", err.Error()))
				return false
			}
			thisTower.SendToClient(raw)
			return false
		})

		thisTower.SetReadTimeoutHandler(func(fire protocol.ReadOnlyFire[firetower.PublishData]) {
			slog.Error("read timeout trigger", slog.String("component", "firetower"))
		})

		thisTower.SetBeforeSubscribeHandler(func(fireCtx protocol.FireLife, topics []string) bool {
			for _, v := range topics {
				if !canSubscribe(c, appCore, tokenClaim, v) {
					slog.Error("failed to subscribe topic, access denied", slog.String("component", "firetower"),
						slog.String("user", tokenClaim.User), slog.String("topic", v))
					return false
				}
			}
			return true
		})

		thisTower.SetSubscribeHandler(func(context protocol.FireLife, topic []string) {
			for _, v := range topic {
				resp := &protocol.TopicMessage[json.RawMessage]{
					Topic: v,
					Type:  protocol.SubscribeOperation,
				}
				resp.Data = json.RawMessage(`{"status":"success"}`)
				msg, _ := json.Marshal(resp)
				thisTower.SendToClient(msg)
			}
		})

		thisTower.SetUnSubscribeHandler(func(context protocol.FireLife, topic []string) {
			for _, v := range topic {
				resp := &protocol.TopicMessage[json.RawMessage]{
					Topic: v,
					Type:  protocol.UnSubscribeOperation,
				}
				resp.Data = json.RawMessage(`{"status":"success"}`)
				msg, _ := json.Marshal(resp)
				thisTower.SendToClient(msg)
			}
		})

		thisTower.Run()
	}
}
