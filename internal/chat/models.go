package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Chat struct {
	ID           string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	Title        string    `gorm:"type:varchar(255);not null" json:"title"`
	UserID       string    `gorm:"type:varchar(128);index:idx_chats_user_updated,priority:1;not null" json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `gorm:"index:idx_chats_user_updated,priority:2" json:"updatedAt"`
	MessageCount int       `gorm:"not null;default:0" json:"messageCount"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_chat_created,priority:1" json:"chatId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_msg_chat_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

// normalizeTimes reports unreadable (zero) timestamps as now.
func (c *Chat) normalizeTimes(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

func (m *Message) normalizeTimes(now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
}
