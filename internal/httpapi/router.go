package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/config"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/handlers"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/middleware"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, deps handlers.Deps) *gin.Engine {
	h := handlers.NewHandler(db, cfg, deps)
	return Routes(h)
}

// Routes wires every endpoint onto a fresh engine.
func Routes(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Logger.With("component", "http")))
	r.Use(middleware.Recovery(h.Logger))

	r.NoRoute(h.NoRoute)
	r.NoMethod(h.NoMethod)

	r.GET("/ping", h.Ping)

	secret := h.Cfg.JWTSecret

	// public endpoints; a bearer token, when present, pins the acting user
	api := r.Group("/api")
	api.Use(middleware.OptionalAuth(secret))
	{
		api.POST("/chat", h.RelayChat)

		api.GET("/oauth/generate-url", h.GenerateAuthURL)
		api.POST("/oauth/exchange-token", h.ExchangeToken)
		api.GET("/oauth/token", h.GetAccessToken)
		api.DELETE("/oauth/token", h.DisconnectToken)
		api.GET("/oauth/status", h.TokenStatus)

		api.GET("/calendar/events", h.ListEvents)
		api.POST("/calendar/events", h.CreateEvent)
		api.GET("/calendar/settings", h.CalendarSettings)
		api.GET("/calendar", h.LegacyListEvents)
		api.POST("/calendar", h.LegacyCreateEvent)
	}

	// JWT required
	authGroup := r.Group("/api")
	authGroup.Use(middleware.AuthRequired(secret))
	{
		authGroup.POST("/users/login", h.Login)
		authGroup.GET("/users/me", h.Me)
		authGroup.PATCH("/users/me", h.UpdateMe)

		authGroup.GET("/chats", h.ListChats)
		authGroup.POST("/chats", h.CreateChat)
		authGroup.GET("/chats/stream", h.StreamChats)
		authGroup.GET("/chats/:id", h.GetChat)
		authGroup.PATCH("/chats/:id", h.RenameChat)
		authGroup.DELETE("/chats/:id", h.DeleteChat)
		authGroup.GET("/chats/:id/messages", h.ListChatMessages)
		authGroup.POST("/chats/:id/messages", h.SaveChatMessage)
		authGroup.POST("/chats/:id/send", h.SendChatMessage)
	}

	return r
}
