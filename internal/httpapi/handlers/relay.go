package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/relay"
)

type relayChatReq struct {
	Messages []relay.Message `json:"messages"`
	ChatID   string          `json:"chatId"`
	UserID   string          `json:"userId"`
}

// RelayChat forwards the conversation to the webhook and answers with the
// reply as plain text.
func (h *Handler) RelayChat(c *gin.Context) {
	var req relayChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.failText(c, "relay chat", errInvalidBody)
		return
	}

	uid, err := resolveUserID(c, req.UserID)
	if err != nil {
		h.failText(c, "relay chat", err)
		return
	}

	reply, err := h.Relay.Reply(c.Request.Context(), relay.Request{
		Messages: req.Messages,
		ChatID:   req.ChatID,
		UserID:   uid,
	})
	if err != nil {
		h.failText(c, "relay chat", err)
		return
	}

	c.String(http.StatusOK, reply)
}
