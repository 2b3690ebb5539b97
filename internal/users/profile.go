package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrEmptyUserID     = errors.New("user id is required")
)

type Profile struct {
	ID          string    `gorm:"type:varchar(128);primaryKey" json:"id"`
	Email       string    `gorm:"type:varchar(255);index" json:"email"`
	DisplayName string    `gorm:"type:varchar(255)" json:"displayName"`
	PhotoURL    string    `gorm:"type:text" json:"photoURL"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

func (Profile) TableName() string { return "user_profiles" }

// normalizeTimes reports unreadable (zero) timestamps as now.
func (p *Profile) normalizeTimes(now time.Time) {
	for _, ts := range []*time.Time{&p.CreatedAt, &p.UpdatedAt, &p.LastLoginAt} {
		if ts.IsZero() {
			*ts = now
		}
	}
}

// Identity is what the identity provider tells us about a signed-in user.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

// ProfileUpdate carries the editable fields; nil fields stay as they are.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// EnsureProfile creates the profile on first sign-in and records the login
// time on later ones.
func (s *Service) EnsureProfile(ctx context.Context, id Identity) (*Profile, error) {
	if strings.TrimSpace(id.ID) == "" {
		return nil, ErrEmptyUserID
	}
	now := time.Now()

	var p Profile
	err := s.db.WithContext(ctx).Where("id = ?", id.ID).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Profile{
			ID:          id.ID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			PhotoURL:    id.PhotoURL,
			CreatedAt:   now,
			UpdatedAt:   now,
			LastLoginAt: now,
		}
		if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	case err != nil:
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Profile{}).
		Where("id = ?", id.ID).
		Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	p.LastLoginAt = now
	p.normalizeTimes(now)
	return &p, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	p.normalizeTimes(time.Now())
	return &p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*Profile, error) {
	fields := map[string]any{"updated_at": time.Now()}
	if u.DisplayName != nil {
		fields["display_name"] = strings.TrimSpace(*u.DisplayName)
	}
	if u.PhotoURL != nil {
		fields["photo_url"] = strings.TrimSpace(*u.PhotoURL)
	}

	res := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrProfileNotFound
	}
	return s.GetProfile(ctx, userID)
}
