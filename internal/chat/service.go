package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/alan-ai/internal/common"
	"github.com/suPer8Hu/alan-ai/internal/relay"
)

var (
	ErrInvalidRole  = errors.New("role must be user or assistant")
	ErrEmptyTitle   = errors.New("title is required")
	ErrEmptyMessage = errors.New("message content is required")
)

const (
	DefaultTitle   = "New chat"
	titleMaxRunes  = 50
	defaultWindow  = 20
	maxWindowLimit = 100
)

// Replier produces the assistant reply for a conversation.
type Replier interface {
	Reply(ctx context.Context, req relay.Request) (string, error)
}

// Notifier is told whenever a user's chat list changed.
type Notifier interface {
	Notify(ctx context.Context, userID string)
}

type Service struct {
	repo              *Repo
	replier           Replier
	notifier          Notifier
	contextWindowSize int
}

func NewService(repo *Repo, replier Replier, notifier Notifier, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > maxWindowLimit {
		contextWindowSize = defaultWindow
	}
	return &Service{repo: repo, replier: replier, notifier: notifier, contextWindowSize: contextWindowSize}
}

func (s *Service) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	c := &Chat{
		ID:        id,
		Title:     title,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	s.notify(ctx, userID)
	return c, nil
}

func (s *Service) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	return s.repo.GetChat(ctx, chatID)
}

// GetOwnedChat answers ErrChatNotFound when the chat belongs to someone else.
func (s *Service) GetOwnedChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	return s.repo.ListChats(ctx, userID, "")
}

func (s *Service) SearchChats(ctx context.Context, userID, query string) ([]Chat, error) {
	return s.repo.ListChats(ctx, userID, query)
}

func (s *Service) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	return s.repo.ListMessages(ctx, chatID)
}

func (s *Service) SaveMessage(ctx context.Context, chatID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, ErrInvalidRole
	}
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m, err := s.insert(ctx, chatID, role, content)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, c.UserID)
	return m, nil
}

func (s *Service) RenameChat(ctx context.Context, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.repo.RenameChat(ctx, chatID, title); err != nil {
		return err
	}
	s.notify(ctx, c.UserID)
	return nil
}

func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	s.notify(ctx, c.UserID)
	return nil
}

// SendMessage stores the user message, relays the recent conversation and
// stores the assistant reply. The user message is kept if the relay fails.
func (s *Service) SendMessage(ctx context.Context, userID, chatID, content string) (reply string, assistantMsg *Message, err error) {
	if strings.TrimSpace(content) == "" {
		return "", nil, ErrEmptyMessage
	}

	// 1) verify chat ownership
	if _, err := s.GetOwnedChat(ctx, userID, chatID); err != nil {
		return "", nil, err
	}

	// 2) store user message
	if _, err := s.insert(ctx, chatID, RoleUser, content); err != nil {
		return "", nil, err
	}
	s.notify(ctx, userID)

	// 3) build relay messages from recent DB history
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, chatID, s.contextWindowSize)
	if err != nil {
		return "", nil, err
	}

	// reverse to ASC (oldest -> newest)
	msgs := make([]relay.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		msgs = append(msgs, relay.Message{Role: m.Role, Content: m.Content})
	}

	// 4) call the webhook relay
	reply, err = s.replier.Reply(ctx, relay.Request{Messages: msgs, ChatID: chatID, UserID: userID})
	if err != nil {
		return "", nil, err
	}

	// 5) store assistant message
	assistantMsg, err = s.insert(ctx, chatID, RoleAssistant, reply)
	if err != nil {
		return "", nil, err
	}
	s.notify(ctx, userID)

	return reply, assistantMsg, nil
}

// StartChat creates a chat titled after the first message and sends it.
func (s *Service) StartChat(ctx context.Context, userID, content string) (*Chat, string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, "", ErrEmptyMessage
	}
	c, err := s.CreateChat(ctx, userID, titleFrom(content))
	if err != nil {
		return nil, "", err
	}
	reply, _, err := s.SendMessage(ctx, userID, c.ID, content)
	if err != nil {
		return c, "", err
	}
	return c, reply, nil
}

func (s *Service) insert(ctx context.Context, chatID, role, content string) (*Message, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:        id,
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) notify(ctx context.Context, userID string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID)
	}
}

func titleFrom(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes])
	}
	return content
}
