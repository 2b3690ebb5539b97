package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/suPer8Hu/alan-ai/internal/common"
)

var (
	ErrNoUserMessage = errors.New("no user message found")
	ErrWebhookFailed = errors.New("webhook request failed")
)

const DefaultSource = "alan-ai-web"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages []Message `json:"messages"`
	ChatID   string    `json:"chatId,omitempty"`
	UserID   string    `json:"userId,omitempty"`
}

// TimeZoneLookup resolves a user's calendar timezone. An empty result means unknown.
type TimeZoneLookup interface {
	LookupTimeZone(ctx context.Context, userID string) string
}

type Client struct {
	WebhookURL string
	Source     string
	HTTP       *http.Client
	TZ         TimeZoneLookup

	logger *log.Logger
}

func NewClient(webhookURL, source string, timeout time.Duration, tz TimeZoneLookup, logger *log.Logger) *Client {
	if source == "" {
		source = DefaultSource
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		WebhookURL: webhookURL,
		Source:     source,
		HTTP:       &http.Client{Timeout: timeout},
		TZ:         tz,
		logger:     logger,
	}
}

type envelope struct {
	Source         string `json:"source"`
	UserID         string `json:"userId"`
	ChatID         string `json:"chatId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
	MessageID      string `json:"messageId"`
	TimeZone       string `json:"timezone,omitempty"`
}

// Reply forwards the latest user message to the webhook and returns its text reply.
func (c *Client) Reply(ctx context.Context, req Request) (string, error) {
	last, ok := lastUserMessage(req.Messages)
	if !ok {
		return "", ErrNoUserMessage
	}
	if c.HTTP == nil {
		return "", errors.New("relay: http client is nil")
	}

	env, err := c.buildEnvelope(ctx, req, last)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		c.logger.Error("webhook request failed", "chat_id", env.ChatID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrWebhookFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("webhook returned error status",
			"chat_id", env.ChatID, "status", resp.StatusCode, "body", truncate(string(body), 200))
		return "", fmt.Errorf("%w: status %d", ErrWebhookFailed, resp.StatusCode)
	}

	c.logger.Debug("webhook replied", "chat_id", env.ChatID, "status", resp.StatusCode, "duration", time.Since(start))
	return parseReply(resp.Header.Get("Content-Type"), body), nil
}

func (c *Client) buildEnvelope(ctx context.Context, req Request, message string) (envelope, error) {
	userID := strings.TrimSpace(req.UserID)
	realUser := userID != ""
	if !realUser {
		userID = "anonymous-" + uuid.NewString()
	}

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		id, err := common.NewULID()
		if err != nil {
			return envelope{}, err
		}
		chatID = id
	}

	env := envelope{
		Source:         c.Source,
		UserID:         userID,
		ChatID:         chatID,
		ConversationID: "conv_" + chatID,
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		MessageID:      "msg_" + uuid.NewString(),
	}
	if realUser && c.TZ != nil {
		env.TimeZone = c.TZ.LookupTimeZone(ctx, userID)
	}
	return env, nil
}

func lastUserMessage(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// parseReply extracts the reply text from a webhook body. Only JSON responses
// are decoded; any other content type is returned verbatim.
func parseReply(contentType string, body []byte) string {
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return string(body)
	}

	var v any
	if err := json.Unmarshal(bytes.TrimSpace(body), &v); err != nil {
		return string(body)
	}
	switch data := v.(type) {
	case string:
		return data
	case map[string]any:
		for _, key := range []string{"response", "message", "content"} {
			if s, ok := data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return "OK"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
