package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/common"
	"github.com/suPer8Hu/orion-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/orion-chat/internal/ratelimit"
)

const heartbeatInterval = 15 * time.Second

type chatStreamReq struct {
	ThreadID string `json:"threadId" binding:"omitempty,uuid"`
	Message  string `json:"message" binding:"required"`
}

// checkQuota applies the anonymous daily quota. A broken limiter lets the
// request through; known is false then.
func (h *Handler) checkQuota(c *gin.Context) (res ratelimit.Result, known bool, ok bool) {
	res, err := h.Limiter.Check(c.Request.Context(), c.ClientIP())
	if err != nil {
		h.Log.Warn("rate limiter unavailable, allowing request", "client_ip", c.ClientIP(), "error", err)
		return ratelimit.Result{}, false, true
	}
	if !res.Allowed {
		common.FailWith(c, http.StatusTooManyRequests, common.CodeRateLimited,
			"Daily question limit reached. Sign up for unlimited access.",
			gin.H{"remaining": 0, "limit": res.Limit})
		return res, true, false
	}
	return res, true, true
}

func (h *Handler) ChatStream(c *gin.Context) {
	var req chatStreamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, common.BindingMessage(err))
		return
	}

	// blank messages are rejected before they can use up quota
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, chat.ErrEmptyMessage.Error())
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, common.CodeStreamUnsupported, "streaming not supported")
		return
	}

	uid := middleware.UserID(c)
	anonymous := uid == ""

	var quota ratelimit.Result
	quotaKnown := false
	if anonymous && h.Limiter != nil {
		var allowed bool
		quota, quotaKnown, allowed = h.checkQuota(c)
		if !allowed {
			return
		}
	}

	ctx := c.Request.Context()
	ts, err := h.ChatSvc.StreamTurn(ctx, chat.TurnRequest{
		UserID:   uid,
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrThreadNotFound):
			common.Fail(c, http.StatusNotFound, common.CodeThreadNotFound, "thread not found")
		case errors.Is(err, chat.ErrEmptyMessage):
			common.Fail(c, http.StatusBadRequest, common.CodeValidation, err.Error())
		default:
			h.Log.Error("start turn failed", "user_id", uid, "error", err)
			common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to start chat")
		}
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Header("X-Thread-ID", ts.ThreadID)
	c.Header("X-Turn-ID", ts.TurnID)
	c.Status(http.StatusOK)

	writeData := func(payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "data: {\"error\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	events := ts.Events
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := <-ts.Err; err != nil && !errors.Is(err, context.Canceled) {
					h.Log.Warn("model stream failed", "thread_id", ts.ThreadID, "turn_id", ts.TurnID, "error", err)
					writeData(gin.H{"error": err.Error()})
				}
				return
			}
			if anonymous && quotaKnown && ev.Type == chat.EventToken {
				writeData(gin.H{
					"type":                ev.Type,
					"content":             ev.Content,
					"remaining_questions": quota.Remaining,
				})
				continue
			}
			writeData(ev)

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
