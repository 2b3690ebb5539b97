package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/calendar"
	"github.com/suPer8Hu/alan-ai/internal/chat"
	"github.com/suPer8Hu/alan-ai/internal/common"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
	"github.com/suPer8Hu/alan-ai/internal/relay"
	"github.com/suPer8Hu/alan-ai/internal/users"
)

var (
	errInvalidBody    = errors.New("invalid request body")
	errUserIDRequired = errors.New("userId is required")
	errUserMismatch   = errors.New("userId does not match the signed-in user")
)

type apiError struct {
	status int
	code   int
	msg    string
}

var errorTable = []struct {
	err error
	api apiError
}{
	{errInvalidBody, apiError{http.StatusBadRequest, 10001, "Invalid request body"}},
	{errUserIDRequired, apiError{http.StatusBadRequest, 10002, "userId is required"}},
	{errUserMismatch, apiError{http.StatusForbidden, 40301, "userId does not match the signed-in user"}},

	{chat.ErrChatNotFound, apiError{http.StatusNotFound, 40401, "chat not found"}},
	{chat.ErrInvalidRole, apiError{http.StatusBadRequest, 10003, "role must be user or assistant"}},
	{chat.ErrEmptyTitle, apiError{http.StatusBadRequest, 10004, "title is required"}},
	{chat.ErrEmptyMessage, apiError{http.StatusBadRequest, 10005, "message is required"}},
	{users.ErrProfileNotFound, apiError{http.StatusNotFound, 40402, "profile not found"}},

	{relay.ErrNoUserMessage, apiError{http.StatusBadRequest, 10006, "No user message found"}},
	{relay.ErrWebhookFailed, apiError{http.StatusBadGateway, 50201, "Failed to get response from AI service"}},

	{oauth.ErrMissingCode, apiError{http.StatusBadRequest, 10007, "Authorization code is required"}},
	{oauth.ErrInvalidGrant, apiError{http.StatusBadRequest, 10008, "Authorization code has expired or already been used"}},
	{oauth.ErrNoRefreshToken, apiError{http.StatusBadRequest, 10009, "No refresh token received. Please revoke access and try again."}},
	{oauth.ErrNotConnected, apiError{http.StatusUnauthorized, 40102, "Google Calendar not connected"}},
	{oauth.ErrReauthorizationRequired, apiError{http.StatusUnauthorized, 40103, "Google authorization expired. Please reconnect your calendar."}},
	{oauth.ErrProviderUnavailable, apiError{http.StatusBadGateway, 50202, "Google service unavailable"}},

	{calendar.ErrInvalidEvent, apiError{http.StatusBadRequest, 10010, "Missing required fields: summary, startDateTime, endDateTime"}},
	{calendar.ErrRejected, apiError{http.StatusBadRequest, 10011, "Calendar request rejected"}},
	{calendar.ErrUnavailable, apiError{http.StatusBadGateway, 50202, "Google service unavailable"}},
}

var internalError = apiError{http.StatusInternalServerError, 50001, "internal error"}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.api
		}
	}
	return internalError
}

// report logs a failed operation at a level matching its status.
func (h *Handler) report(c *gin.Context, op string, e apiError, err error) {
	kv := []any{
		"op", op,
		"status", e.status,
		"err", err,
		"request_id", c.GetString(middleware.RequestIDKey),
	}
	if uid := c.GetString(middleware.UserIDKey); uid != "" {
		kv = append(kv, "user_id", uid)
	}
	if e.status >= 500 {
		h.Logger.Error(op+" failed", kv...)
		return
	}
	h.Logger.Warn(op+" failed", kv...)
}

// fail answers with the {code,message,data} envelope.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	e := classify(err)
	h.report(c, op, e, err)
	common.Fail(c, e.status, e.code, e.msg)
}

// failJSON answers with {"error": msg}, plus success=false when asked.
func (h *Handler) failJSON(c *gin.Context, op string, err error, withSuccess bool) {
	h.failWith(c, op, err, classify(err), withSuccess)
}

func (h *Handler) failWith(c *gin.Context, op string, err error, e apiError, withSuccess bool) {
	h.report(c, op, e, err)
	body := gin.H{"error": e.msg}
	if withSuccess {
		body["success"] = false
	}
	c.AbortWithStatusJSON(e.status, body)
}

// failText answers with a plain-text message.
func (h *Handler) failText(c *gin.Context, op string, err error) {
	e := classify(err)
	h.report(c, op, e, err)
	c.Abort()
	c.String(e.status, e.msg)
}

// resolveUserID picks the acting user from the token subject or the given
// id. A signed-in caller may not act for someone else.
func resolveUserID(c *gin.Context, given string) (string, error) {
	given = strings.TrimSpace(given)
	authed := c.GetString(middleware.UserIDKey)
	switch {
	case authed != "" && given != "" && given != authed:
		return "", errUserMismatch
	case authed != "":
		return authed, nil
	default:
		return given, nil
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
