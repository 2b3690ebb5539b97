package oauth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTokensNotFound = errors.New("oauth tokens not found")

// Record is the stored OAuth credential of one user.
type Record struct {
	UserID       string    `gorm:"type:varchar(128);primaryKey" json:"user_id"`
	AccessToken  string    `gorm:"type:text" json:"access_token"`
	RefreshToken string    `gorm:"type:text" json:"refresh_token"`
	Scope        string    `gorm:"type:text" json:"scope"`
	TokenType    string    `gorm:"type:varchar(32)" json:"token_type"`
	ExpiryDate   *int64    `json:"expiry_date"` // epoch millis
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Record) TableName() string { return "user_tokens" }

// ExpiredAt reports whether the access token is unusable at now. A record
// without expiry is always expired.
func (r Record) ExpiredAt(now time.Time) bool {
	if r.ExpiryDate == nil {
		return true
	}
	return now.UnixMilli() >= *r.ExpiryDate
}

func (r Record) IsExpired() bool { return r.ExpiredAt(time.Now()) }

// Connected is false for disconnected records.
func (r Record) Connected() bool {
	return r.AccessToken != "" || r.RefreshToken != ""
}

// TokenUpdate carries the fields to merge; nil fields are left untouched.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	Scope        *string
	TokenType    *string
	ExpiryDate   *int64
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Store creates or overwrites the user's record.
func (s *Store) Store(ctx context.Context, userID string, t Tokens) error {
	now := time.Now()
	rec := Record{
		UserID:       userID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
		TokenType:    t.TokenType,
		ExpiryDate:   t.ExpiryDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "scope", "token_type", "expiry_date", "updated_at",
		}),
	}).Create(&rec).Error
}

func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokensNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Update(ctx context.Context, userID string, u TokenUpdate) error {
	fields := map[string]any{"updated_at": time.Now()}
	if u.AccessToken != nil {
		fields["access_token"] = *u.AccessToken
	}
	if u.RefreshToken != nil {
		fields["refresh_token"] = *u.RefreshToken
	}
	if u.Scope != nil {
		fields["scope"] = *u.Scope
	}
	if u.TokenType != nil {
		fields["token_type"] = *u.TokenType
	}
	if u.ExpiryDate != nil {
		fields["expiry_date"] = *u.ExpiryDate
	}

	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ?", userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokensNotFound
	}
	return nil
}

// Disconnect blanks the credentials but keeps the row.
func (s *Store) Disconnect(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"access_token":  "",
			"refresh_token": "",
			"scope":         "",
			"token_type":    "",
			"expiry_date":   nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokensNotFound
	}
	return nil
}
