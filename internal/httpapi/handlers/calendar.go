package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/alan-ai/internal/calendar"
)

type createEventReq struct {
	UserID        string   `json:"userId"`
	Summary       string   `json:"summary"`
	Description   string   `json:"description"`
	StartDateTime string   `json:"startDateTime"`
	EndDateTime   string   `json:"endDateTime"`
	TimeZone      string   `json:"timeZone"`
	Attendees     []string `json:"attendees"`

	Reminders []calendar.Reminder `json:"reminders"`
}

func (h *Handler) ListEvents(c *gin.Context) {
	events, ok := h.listEvents(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

func (h *Handler) CreateEvent(c *gin.Context) {
	ev, ok := h.createEvent(c, true)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "event": ev})
}

func (h *Handler) CalendarSettings(c *gin.Context) {
	uid, ok := h.requireUser(c, c.Query("userId"), true)
	if !ok {
		return
	}

	s, err := h.Calendar.GetSettings(c.Request.Context(), uid)
	if err != nil {
		h.failJSON(c, "calendar settings", err, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": s})
}

// LegacyListEvents serves GET /api/calendar, answering {events}.
func (h *Handler) LegacyListEvents(c *gin.Context) {
	events, ok := h.listEvents(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// LegacyCreateEvent serves POST /api/calendar, answering {event}.
func (h *Handler) LegacyCreateEvent(c *gin.Context) {
	ev, ok := h.createEvent(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

func (h *Handler) listEvents(c *gin.Context) ([]calendar.Event, bool) {
	uid, ok := h.requireUser(c, c.Query("userId"), true)
	if !ok {
		return nil, false
	}

	events, err := h.Calendar.ListEvents(c.Request.Context(), uid, c.Query("timeMin"), c.Query("timeMax"))
	if err != nil {
		h.failJSON(c, "list events", err, true)
		return nil, false
	}
	return events, true
}

func (h *Handler) createEvent(c *gin.Context, withSuccess bool) (*calendar.Event, bool) {
	var req createEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.failJSON(c, "create event", errInvalidBody, withSuccess)
		return nil, false
	}
	uid, ok := h.requireUser(c, firstNonEmpty(req.UserID, c.Query("userId")), withSuccess)
	if !ok {
		return nil, false
	}

	ev, err := h.Calendar.CreateEvent(c.Request.Context(), uid, calendar.EventInput{
		Summary:       req.Summary,
		Description:   req.Description,
		StartDateTime: req.StartDateTime,
		EndDateTime:   req.EndDateTime,
		TimeZone:      req.TimeZone,
		Attendees:     req.Attendees,
		Reminders:     req.Reminders,
	})
	if err != nil {
		h.failJSON(c, "create event", err, withSuccess)
		return nil, false
	}
	h.Logger.Info("calendar event created", "user_id", uid, "event_id", ev.ID)
	return ev, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
