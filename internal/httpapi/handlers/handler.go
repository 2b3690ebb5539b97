package handlers

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/calendar"
	"github.com/suPer8Hu/alan-ai/internal/chat"
	"github.com/suPer8Hu/alan-ai/internal/common"
	"github.com/suPer8Hu/alan-ai/internal/config"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
	"github.com/suPer8Hu/alan-ai/internal/relay"
	"github.com/suPer8Hu/alan-ai/internal/users"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// Deps are the optional collaborators of a Handler. Zero values fall back to
// in-process implementations.
type Deps struct {
	Logger *log.Logger
	Grants oauth.GrantStore
	Hub    *chat.Hub
	// Notifier receives chat-list changes; defaults to Hub.
	Notifier chat.Notifier

	// endpoint overrides, used by tests
	OAuthEndpoint    *oauth2.Endpoint
	CalendarEndpoint string
}

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Logger *log.Logger

	ChatSvc  *chat.Service
	Hub      *chat.Hub
	Relay    chat.Replier
	OAuth    *oauth.Client
	Grants   oauth.GrantStore
	Tokens   *oauth.Store
	TokenMgr *oauth.Manager
	Calendar *calendar.Gateway
	Users    *users.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	grants := d.Grants
	if grants == nil {
		grants = oauth.NewMemoryGrants()
	}

	repo := chat.NewRepo(db)
	hub := d.Hub
	if hub == nil {
		hub = chat.NewHub(func(ctx context.Context, userID string) ([]chat.Chat, error) {
			return repo.ListChats(ctx, userID, "")
		}, logger.With("component", "hub"))
	}
	var notifier chat.Notifier = hub
	if d.Notifier != nil {
		notifier = d.Notifier
	}

	store := oauth.NewStore(db)
	client := oauth.NewClient(oauth.ClientConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
		Endpoint:     d.OAuthEndpoint,
	}, grants, logger.With("component", "oauth"))
	mgr := oauth.NewManager(store, client, logger.With("component", "tokens"))

	gw := calendar.NewGateway(mgr, calendar.Config{
		PageSize: cfg.CalendarPageSize,
		Endpoint: d.CalendarEndpoint,
	}, logger.With("component", "calendar"))

	rl := relay.NewClient(cfg.WebhookURL, cfg.AppSource, cfg.WebhookTimeout, gw, logger.With("component", "relay"))

	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Logger:   logger,
		ChatSvc:  chat.NewService(repo, rl, notifier, cfg.ChatContextWindowSize),
		Hub:      hub,
		Relay:    rl,
		OAuth:    client,
		Grants:   grants,
		Tokens:   store,
		TokenMgr: mgr,
		Calendar: gw,
		Users:    users.NewService(db),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) NoRoute(c *gin.Context) {
	common.Fail(c, http.StatusNotFound, 40400, "route not found")
}

func (h *Handler) NoMethod(c *gin.Context) {
	common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
}
