package service

import (
	"github.com/gin-gonic/gin"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/app/core/srv"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/cmd/service/handler"
	"github.com/jhjames1/leap-grit-forge-sub004/cmd/service/middleware"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/metrics"
)

func GetUserLimitBuilder(appCore *core.Core) middleware.LimiterFunc {
	return func(key string, opts ...core.LimitOption) gin.HandlerFunc {
		return middleware.UseLimit(appCore, key, func(c *gin.Context) string {
			token, _ := v1.InjectTokenClaim(c)
			return key + ":" + token.User
		}, opts...)
	}
}

func setupHttpRouter(s *handler.HttpSrv) {
	userLimit := GetUserLimitBuilder(s.Core)

	s.Engine.Use(middleware.I18n(), response.NewResponse())
	s.Engine.Use(middleware.Cors, middleware.AcceptLanguage())

	s.Engine.GET("/metrics", metrics.DefaultExportHandler())

	apiV1 := s.Engine.Group("/api/v1")
	{
		apiV1.GET("/connect", middleware.AuthorizationFromQuery(s.Core), handler.Websocket(s.Core))

		authed := apiV1.Group("")
		authed.Use(middleware.Authorization(s.Core))

		auth := authed.Group("/auth")
		{
			auth.POST("/token", middleware.VerifyRole(s.Core, srv.PermissionAdmin), s.CreateAccessToken)
		}

		// the caller's own session, orchestrator backed
		session := authed.Group("/session")
		{
			session.GET("", s.GetMySession)
			session.POST("", userLimit("start_session", core.WithLimit(10)), s.StartSession)
			session.POST("/fresh", userLimit("start_session", core.WithLimit(10)), s.StartFreshSession)
			session.POST("/refresh", s.RefreshSession)
			session.DELETE("", s.EndSession)
			session.POST("/message", userLimit("send_message"), s.SendMessage)
			session.POST("/message/retry", s.RetryFailedMessage)
		}

		// session administration, specialist side
		sessions := authed.Group("/sessions")
		{
			sessions.GET("", s.ListSessions)
			sessions.GET("/:sessionid", s.GetSession)
			sessions.GET("/:sessionid/audits", s.SessionAudits)
			sessions.POST("/:sessionid/read", s.MarkRead)

			moderate := sessions.Group("")
			moderate.Use(middleware.VerifyRole(s.Core, srv.PermissionModerate))
			{
				moderate.POST("/:sessionid/activate", s.ActivateSession)
				moderate.DELETE("/:sessionid", s.EndSessionByID)
				moderate.POST("/:sessionid/message", userLimit("send_message"), s.SpecialistSendMessage)
			}
		}

		// unclaimed waiting sessions, oldest first
		queue := authed.Group("/queue")
		queue.Use(middleware.VerifyRole(s.Core, srv.PermissionModerate))
		{
			queue.GET("/waiting", s.WaitingSessions)
		}

		presence := authed.Group("/presence")
		{
			presence.GET("/specialists", s.ListSpecialistStatuses)
			presence.GET("/specialists/:specialistid", s.GetSpecialistStatus)

			mine := presence.Group("")
			mine.Use(middleware.VerifyRole(s.Core, srv.PermissionModerate))
			{
				mine.PUT("/status", s.SetManualStatus)
				mine.DELETE("/status", s.ClearManualStatus)
				mine.PUT("/calendar-controlled", s.SetCalendarControlled)
				mine.POST("/calendar-changed", s.NotifyCalendarChanged)
			}
		}
	}
}
