package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/common"
	"github.com/suPer8Hu/orion-chat/internal/config"
	"github.com/suPer8Hu/orion-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/orion-chat/internal/logger"
	"github.com/suPer8Hu/orion-chat/internal/ratelimit"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Log     *logger.Logger
	ChatSvc *chat.Service
	Limiter ratelimit.Limiter
}

func NewHandler(db *gorm.DB, cfg config.Config, log *logger.Logger, chatSvc *chat.Service, limiter ratelimit.Limiter) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{DB: db, Cfg: cfg, Log: log.With("component", "http"), ChatSvc: chatSvc, Limiter: limiter}
}

// requireUser returns the caller's id or writes a 401.
func requireUser(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "unauthorized")
		return "", false
	}
	return uid, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func pagination(p chat.Page) gin.H {
	return gin.H{
		"offset":   p.Offset,
		"limit":    p.Limit,
		"total":    p.Total,
		"has_more": p.HasMore(),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.Log.Error("health check failed", "error", err)
		common.Fail(c, http.StatusServiceUnavailable, common.CodeInternal, "database unavailable")
		return
	}
	common.OK(c, gin.H{"status": "ok"})
}
