package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/suPer8Hu/orion-chat/internal/common"
	"github.com/suPer8Hu/orion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/orion-chat/internal/httpapi/middleware"
)

const serviceName = "orion-api"

func NewRouter(h *handlers.Handler) *gin.Engine {
	cfg := h.Cfg

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestLogger(h.Log))
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.CORS(cfg.CORSOrigins, cfg.CORSOriginPattern))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.CodeRouteNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, common.CodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)

	// auth
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/login", h.Login)

	// chat: anonymous callers are allowed and rate limited
	r.POST("/chat/stream", middleware.OptionalAuth(cfg.JWTSecret, h.UserExists), h.ChatStream)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret, h.UserExists))
	authGroup.GET("/auth/me", h.Me)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.GET("/conversations/:thread_id/messages", h.ListThreadMessages)
	authGroup.PATCH("/conversations/:thread_id", h.RenameConversation)
	authGroup.DELETE("/conversations/:thread_id", h.DeleteConversation)
	return r
}
