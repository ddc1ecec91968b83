package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/common"
)

type renameThreadReq struct {
	Title string `json:"title" binding:"required,max=200"`
}

func threadIDParam(c *gin.Context) (string, bool) {
	id := c.Param("thread_id")
	if _, err := uuid.Parse(id); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidThreadID, "invalid thread id")
		return "", false
	}
	return id, true
}

func (h *Handler) threadError(c *gin.Context, op string, err error) {
	if errors.Is(err, chat.ErrThreadNotFound) {
		common.Fail(c, http.StatusNotFound, common.CodeThreadNotFound, "thread not found")
		return
	}
	h.Log.Error(op+" failed", "error", err)
	common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "internal error")
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	threads, page, err := h.ChatSvc.ListThreads(c.Request.Context(), uid, queryInt(c, "offset"), queryInt(c, "limit"))
	if err != nil {
		h.threadError(c, "list threads", err)
		return
	}
	if threads == nil {
		threads = []chat.Thread{}
	}
	common.OK(c, gin.H{
		"threads":    threads,
		"pagination": pagination(page),
	})
}

func (h *Handler) ListThreadMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	msgs, page, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, threadID, queryInt(c, "offset"), queryInt(c, "limit"))
	if err != nil {
		h.threadError(c, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	common.OK(c, gin.H{
		"thread_id":  threadID,
		"messages":   msgs,
		"pagination": pagination(page),
	})
}

func (h *Handler) RenameConversation(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	var req renameThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, common.BindingMessage(err))
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, "title is required")
		return
	}
	if err := h.ChatSvc.RenameThread(c.Request.Context(), uid, threadID, title); err != nil {
		h.threadError(c, "rename thread", err)
		return
	}
	common.OK(c, gin.H{"thread_id": threadID, "title": title})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	if err := h.ChatSvc.DeleteThread(c.Request.Context(), uid, threadID); err != nil {
		h.threadError(c, "delete thread", err)
		return
	}
	c.Status(http.StatusNoContent)
}
