package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	ErrMissingCode             = errors.New("authorization code is required")
	ErrInvalidGrant            = errors.New("authorization code has expired or already been used")
	ErrNoRefreshToken          = errors.New("no refresh token received; revoke access and authorize again")
	ErrReauthorizationRequired = errors.New("refresh token rejected; re-authorization required")
	ErrProviderUnavailable     = errors.New("oauth provider unavailable")
)

const DefaultState = "default"

// Scopes requested for calendar access and basic profile.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Tokens is the credential set handed out after authorization or refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   *int64 `json:"expiry_date,omitempty"` // epoch millis
}

type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Endpoint overrides the Google endpoint; tests point it at a fake server.
	Endpoint *oauth2.Endpoint
}

type Client struct {
	cfg    *oauth2.Config
	grants GrantStore
	logger *log.Logger
}

func NewClient(cc ClientConfig, grants GrantStore, logger *log.Logger) *Client {
	endpoint := google.Endpoint
	if cc.Endpoint != nil {
		endpoint = *cc.Endpoint
	}
	if grants == nil {
		grants = NewMemoryGrants()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			RedirectURL:  cc.RedirectURI,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		grants: grants,
		logger: logger,
	}
}

// AuthURL returns the consent URL. Offline access and a forced consent
// prompt make the provider issue a refresh token every time.
func (c *Client) AuthURL(state string) string {
	if strings.TrimSpace(state) == "" {
		state = DefaultState
	}
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades a one-time authorization code for tokens. A code is
// accepted at most once; a transient provider failure releases it so the
// caller may retry.
func (c *Client) Exchange(ctx context.Context, code string) (Tokens, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Tokens{}, ErrMissingCode
	}

	fresh, err := c.grants.ClaimCode(ctx, code, GrantTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("claim authorization code: %w", err)
	}
	if !fresh {
		c.logger.Warn("authorization code reused")
		return Tokens{}, ErrInvalidGrant
	}

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		if isPermanentGrantError(err) {
			c.logger.Warn("authorization code rejected by provider", "err", err)
			return Tokens{}, ErrInvalidGrant
		}
		c.logger.Error("token exchange failed", "err", err)
		if rerr := c.grants.ReleaseCode(context.WithoutCancel(ctx), code); rerr != nil {
			c.logger.Warn("release authorization code", "err", rerr)
		}
		return Tokens{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if tok.RefreshToken == "" {
		return Tokens{}, ErrNoRefreshToken
	}
	return fromOAuth2(tok), nil
}

// Refresh obtains a new access token. The returned refresh token is the
// rotated one when the provider issued it, otherwise the one passed in.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, ErrReauthorizationRequired
	}

	tok, err := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isPermanentGrantError(err) {
			return Tokens{}, fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		return Tokens{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return fromOAuth2(tok), nil
}

func fromOAuth2(tok *oauth2.Token) Tokens {
	t := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		ms := tok.Expiry.UnixMilli()
		t.ExpiryDate = &ms
	}
	return t
}

var permanentErrorCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
}

// isPermanentGrantError reports failures that no retry can fix.
func isPermanentGrantError(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && permanentErrorCodes[re.ErrorCode] {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
