package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
)

// GenerateAuthURL returns the consent URL. When the user is known the state
// is random and bound to them for the exchange step.
func (h *Handler) GenerateAuthURL(c *gin.Context) {
	uid, err := resolveUserID(c, c.Query("userId"))
	if err != nil {
		h.failJSON(c, "generate auth url", err, false)
		return
	}

	state := ""
	if uid != "" {
		state = uuid.NewString()
		if err := h.Grants.SaveState(c.Request.Context(), state, uid, oauth.GrantTTL); err != nil {
			h.failJSON(c, "generate auth url", err, false)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"authUrl": h.OAuth.AuthURL(state)})
}

type exchangeTokenReq struct {
	Code   string `json:"code"`
	State  string `json:"state"`
	UserID string `json:"userId"`
}

func (h *Handler) ExchangeToken(c *gin.Context) {
	var req exchangeTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.failJSON(c, "exchange token", errInvalidBody, false)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		h.failJSON(c, "exchange token", oauth.ErrMissingCode, false)
		return
	}

	uid, err := resolveUserID(c, req.UserID)
	if err != nil {
		h.failJSON(c, "exchange token", err, false)
		return
	}

	if state := strings.TrimSpace(req.State); state != "" && state != oauth.DefaultState {
		bound, err := h.Grants.ConsumeState(c.Request.Context(), state)
		switch {
		case errors.Is(err, oauth.ErrUnknownState):
			h.Logger.Warn("unknown oauth state", "request_id", c.GetString(middleware.RequestIDKey))
		case err != nil:
			h.failJSON(c, "exchange token", err, false)
			return
		case uid != "" && bound != uid:
			h.failJSON(c, "exchange token", errUserMismatch, false)
			return
		default:
			uid = bound
		}
	}

	tokens, err := h.OAuth.Exchange(c.Request.Context(), req.Code)
	if err != nil {
		h.failJSON(c, "exchange token", err, false)
		return
	}

	if uid != "" {
		if err := h.Tokens.Store(c.Request.Context(), uid, tokens); err != nil {
			h.failJSON(c, "store tokens", err, false)
			return
		}
		h.Logger.Info("google account connected", "user_id", uid)
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// GetAccessToken returns a usable access token, refreshing it when expired.
func (h *Handler) GetAccessToken(c *gin.Context) {
	uid, ok := h.requireUser(c, c.Query("userId"), false)
	if !ok {
		return
	}

	rec, err := h.TokenMgr.Fresh(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, oauth.ErrNotConnected) {
			h.failWith(c, "get access token", err, apiError{http.StatusNotFound, 40403, "No tokens found for user"}, false)
			return
		}
		h.failJSON(c, "get access token", err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": rec.AccessToken,
		"expires_in":   expiresIn(rec, time.Now()),
	})
}

func (h *Handler) TokenStatus(c *gin.Context) {
	uid, ok := h.requireUser(c, c.Query("userId"), false)
	if !ok {
		return
	}

	st, err := h.TokenMgr.Status(c.Request.Context(), uid)
	if err != nil {
		h.failJSON(c, "token status", err, false)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DisconnectToken(c *gin.Context) {
	uid, ok := h.requireUser(c, c.Query("userId"), false)
	if !ok {
		return
	}

	if err := h.TokenMgr.Disconnect(c.Request.Context(), uid); err != nil {
		if errors.Is(err, oauth.ErrNotConnected) {
			h.failWith(c, "disconnect", err, apiError{http.StatusNotFound, 40403, "No tokens found for user"}, false)
			return
		}
		h.failJSON(c, "disconnect", err, false)
		return
	}
	h.Logger.Info("google account disconnected", "user_id", uid)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// requireUser resolves the acting user and answers 400/403 itself on failure.
func (h *Handler) requireUser(c *gin.Context, given string, withSuccess bool) (string, bool) {
	uid, err := resolveUserID(c, given)
	if err == nil && uid == "" {
		err = errUserIDRequired
	}
	if err != nil {
		h.failJSON(c, c.FullPath(), err, withSuccess)
		return "", false
	}
	return uid, true
}

// expiresIn is the remaining lifetime in seconds; an unknown expiry counts as an hour.
func expiresIn(rec *oauth.Record, now time.Time) int64 {
	if rec.ExpiryDate == nil {
		return 3600
	}
	secs := (*rec.ExpiryDate - now.UnixMilli()) / 1000
	if secs < 0 {
		return 0
	}
	return secs
}
