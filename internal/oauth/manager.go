package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

var ErrNotConnected = errors.New("google account not connected")

// Refresher renews an access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Manager hands out usable credentials, refreshing expired ones. Concurrent
// callers may refresh the same record; the last write wins.
type Manager struct {
	store     *Store
	refresher Refresher
	logger    *log.Logger
	now       func() time.Time
}

func NewManager(store *Store, refresher Refresher, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: store, refresher: refresher, logger: logger, now: time.Now}
}

// Fresh returns the user's record with a non-expired access token.
func (m *Manager) Fresh(ctx context.Context, userID string) (*Record, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrTokensNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	if !rec.Connected() {
		return nil, ErrNotConnected
	}
	if !rec.ExpiredAt(m.now()) {
		return rec, nil
	}

	m.logger.Debug("access token expired, refreshing", "user_id", userID)
	tok, err := m.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed", "user_id", userID, "err", err)
		return nil, err
	}

	upd := TokenUpdate{AccessToken: &tok.AccessToken, ExpiryDate: tok.ExpiryDate}
	if tok.RefreshToken != "" && tok.RefreshToken != rec.RefreshToken {
		m.logger.Info("rotating refresh token", "user_id", userID)
		upd.RefreshToken = &tok.RefreshToken
		rec.RefreshToken = tok.RefreshToken
	}
	if err := m.store.Update(ctx, userID, upd); err != nil {
		return nil, err
	}

	rec.AccessToken = tok.AccessToken
	rec.ExpiryDate = tok.ExpiryDate
	return rec, nil
}

// Status describes the stored connection without refreshing it.
type Status struct {
	Connected bool   `json:"connected"`
	Expired   bool   `json:"expired"`
	Scope     string `json:"scope"`
}

func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrTokensNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}
	if !rec.Connected() {
		return Status{}, nil
	}
	return Status{Connected: true, Expired: rec.ExpiredAt(m.now()), Scope: rec.Scope}, nil
}

func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	err := m.store.Disconnect(ctx, userID)
	if errors.Is(err, ErrTokensNotFound) {
		return ErrNotConnected
	}
	return err
}
