package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/auth"
	"github.com/suPer8Hu/alan-ai/internal/common"
	"github.com/suPer8Hu/alan-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/alan-ai/internal/users"
)

// Login records a sign-in: the profile is created on first visit.
func (h *Handler) Login(c *gin.Context) {
	v, _ := c.Get(middleware.ClaimsKey)
	claims, _ := v.(*auth.Claims)
	if claims == nil {
		h.fail(c, "login", errUserIDRequired)
		return
	}

	p, err := h.Users.EnsureProfile(c.Request.Context(), users.Identity{
		ID:          claims.UserID(),
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	})
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	common.OK(c, gin.H{"profile": p})
}

func (h *Handler) Me(c *gin.Context) {
	p, err := h.Users.GetProfile(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, "get profile", err)
		return
	}
	common.OK(c, gin.H{"profile": p})
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req users.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "update profile", errInvalidBody)
		return
	}

	p, err := h.Users.UpdateProfile(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, "update profile", err)
		return
	}
	common.OK(c, gin.H{"profile": p})
}
