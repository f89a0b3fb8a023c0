package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/app/response"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

func I18n() gin.HandlerFunc {
	var allowList []string
	for k := range i18n.ALLOW_LANG {
		allowList = append(allowList, k)
	}
	l := i18n.NewLocalizer(allowList...)

	return response.ProvideResponseLocalizer(l)
}

// AcceptLanguage 目前服务端支持 en: English, zh-CN: 简体中文
func AcceptLanguage() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		lang := ctx.Request.Header.Get("Accept-Language")
		ctx.Set(v1.LANGUAGE_KEY, lo.If(strings.Contains(lang, "zh"), types.LANGUAGE_CN_KEY).Else(types.LANGUAGE_EN_KEY))
	}
}

const AUTH_TOKEN_HEADER_KEY = "X-Authorization"

// Authorization resolves the caller's token, cache first, and injects the
// claims for logic layers.
func Authorization(appCore *core.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenValue := c.GetHeader(AUTH_TOKEN_HEADER_KEY)
		if !parseAuthToken(c, tokenValue, appCore) {
			response.APIError(c, errors.New("middleware.Authorization", i18n.ERROR_UNAUTHORIZED, nil).Code(http.StatusUnauthorized))
		}
	}
}

// AuthorizationFromQuery serves the websocket upgrade path, browsers cannot
// set headers there.
func AuthorizationFromQuery(appCore *core.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenValue := c.Query("token")
		if !parseAuthToken(c, tokenValue, appCore) {
			response.APIError(c, errors.New("middleware.AuthorizationFromQuery", i18n.ERROR_UNAUTHORIZED, nil).Code(http.StatusUnauthorized))
		}
	}
}

func parseAuthToken(c *gin.Context, tokenValue string, appCore *core.Core) bool {
	if tokenValue == "" {
		return false
	}

	claims, err := v1.NewAuthLogic(c, appCore).Validate(tokenValue)
	if err != nil {
		return false
	}

	c.Set(v1.TOKEN_CONTEXT_KEY, claims)
	c.Set("user", claims.User)
	return true
}

// VerifyRole gates a route on the caller's role carrying the permission.
func VerifyRole(appCore *core.Core, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := v1.InjectTokenClaim(c)
		if !exists {
			response.APIError(c, errors.New("middleware.VerifyRole.GetToken", i18n.ERROR_UNAUTHORIZED, nil).Code(http.StatusUnauthorized))
			return
		}

		if !appCore.Srv().RBAC().CheckPermission(claims.Role, permission) {
			response.APIError(c, errors.New("middleware.VerifyRole.CheckPermission", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden))
			return
		}
	}
}

func Cors(c *gin.Context) {
	method := c.Request.Method
	origin := c.Request.Header.Get("Origin")
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization, X-Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	if method == "OPTIONS" {
		c.AbortWithStatus(http.StatusNoContent)
	}
	c.Next()
}

type LimiterFunc func(key string, opts ...core.LimitOption) gin.HandlerFunc

func UseLimit(appCore *core.Core, operation string, genKeyFunc func(c *gin.Context) string, opts ...core.LimitOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !appCore.UseLimiter(operation+":"+genKeyFunc(c), opts...).Allow() {
			response.APIError(c, errors.New("middleware.limiter", i18n.ERROR_TOO_MANY_REQUESTS, nil).Code(http.StatusTooManyRequests))
		}
	}
}
