package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/chat"
	"github.com/suPer8Hu/alan-ai/internal/common"
)

// HeartbeatInterval paces SSE keep-alive pings.
var HeartbeatInterval = 15 * time.Second

type createChatReq struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (h *Handler) ListChats(c *gin.Context) {
	uid := currentUser(c)

	chats, err := h.ChatSvc.SearchChats(c.Request.Context(), uid, c.Query("q"))
	if err != nil {
		h.fail(c, "list chats", err)
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

// CreateChat creates an empty chat, or starts one when a first message is given.
func (h *Handler) CreateChat(c *gin.Context) {
	uid := currentUser(c)

	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, "create chat", errInvalidBody)
		return
	}

	if req.Message != "" {
		ch, reply, err := h.ChatSvc.StartChat(c.Request.Context(), uid, req.Message)
		if err != nil {
			h.fail(c, "start chat", err)
			return
		}
		common.OK(c, gin.H{"chat": ch, "reply": reply})
		return
	}

	ch, err := h.ChatSvc.CreateChat(c.Request.Context(), uid, req.Title)
	if err != nil {
		h.fail(c, "create chat", err)
		return
	}
	common.OK(c, gin.H{"chat": ch})
}

func (h *Handler) GetChat(c *gin.Context) {
	ch, err := h.ChatSvc.GetOwnedChat(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get chat", err)
		return
	}
	common.OK(c, gin.H{"chat": ch})
}

type renameChatReq struct {
	Title string `json:"title"`
}

func (h *Handler) RenameChat(c *gin.Context) {
	var req renameChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "rename chat", errInvalidBody)
		return
	}

	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := h.ChatSvc.GetOwnedChat(ctx, currentUser(c), chatID); err != nil {
		h.fail(c, "rename chat", err)
		return
	}
	if err := h.ChatSvc.RenameChat(ctx, chatID, req.Title); err != nil {
		h.fail(c, "rename chat", err)
		return
	}
	ch, err := h.ChatSvc.GetChat(ctx, chatID)
	if err != nil {
		h.fail(c, "rename chat", err)
		return
	}
	common.OK(c, gin.H{"chat": ch})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := h.ChatSvc.GetOwnedChat(ctx, currentUser(c), chatID); err != nil {
		h.fail(c, "delete chat", err)
		return
	}
	if err := h.ChatSvc.DeleteChat(ctx, chatID); err != nil {
		h.fail(c, "delete chat", err)
		return
	}
	common.OK(c, gin.H{"deleted": chatID})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := h.ChatSvc.GetOwnedChat(ctx, currentUser(c), chatID); err != nil {
		h.fail(c, "list messages", err)
		return
	}

	msgs, err := h.ChatSvc.GetMessages(ctx, chatID)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

type saveMessageReq struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) SaveChatMessage(c *gin.Context) {
	var req saveMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "save message", errInvalidBody)
		return
	}

	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := h.ChatSvc.GetOwnedChat(ctx, currentUser(c), chatID); err != nil {
		h.fail(c, "save message", err)
		return
	}

	msg, err := h.ChatSvc.SaveMessage(ctx, chatID, req.Role, req.Content)
	if err != nil {
		h.fail(c, "save message", err)
		return
	}
	common.OK(c, gin.H{"message": msg})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "send message", errInvalidBody)
		return
	}

	chatID := c.Param("id")
	reply, msg, err := h.ChatSvc.SendMessage(c.Request.Context(), currentUser(c), chatID, req.Message)
	if err != nil {
		h.fail(c, "send message", err)
		return
	}

	common.OK(c, gin.H{
		"chat_id": chatID,
		"reply":   reply,
		"message": msg,
	})
}

// StreamChats pushes the caller's chat list over SSE whenever it changes.
func (h *Handler) StreamChats(c *gin.Context) {
	uid := currentUser(c)
	ctx := c.Request.Context()

	updates, cancel, err := h.Hub.Subscribe(ctx, uid)
	if err != nil {
		h.fail(c, "stream chats", err)
		return
	}
	defer cancel()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\n", event)
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case chats, ok := <-updates:
			if !ok {
				return
			}
			if chats == nil {
				chats = []chat.Chat{}
			}
			writeJSON("chats", gin.H{
				"type":  "chats",
				"chats": chats,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}
