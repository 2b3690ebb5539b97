package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/suPer8Hu/alan-ai/internal/oauth"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var (
	ErrNotConnected            = oauth.ErrNotConnected
	ErrReauthorizationRequired = oauth.ErrReauthorizationRequired

	ErrInvalidEvent = errors.New("summary, startDateTime and endDateTime are required")
	ErrRejected     = errors.New("calendar request rejected")
	ErrUnavailable  = errors.New("calendar service unavailable")
)

const (
	primaryCalendar = "primary"
	defaultPageSize = 10
)

// TokenSource hands out a usable credential record for a user.
type TokenSource interface {
	Fresh(ctx context.Context, userID string) (*oauth.Record, error)
}

type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	HTMLLink    string    `json:"htmlLink"`
}

type Reminder struct {
	Method  string `json:"method"`
	Minutes int64  `json:"minutes"`
}

type EventInput struct {
	Summary       string
	Description   string
	StartDateTime string
	EndDateTime   string
	TimeZone      string // empty lets the calendar default apply
	Attendees     []string
	Reminders     []Reminder // nil means the default reminders
}

// DefaultReminders: e-mail a day ahead and a popup ten minutes before.
var DefaultReminders = []Reminder{
	{Method: "email", Minutes: 24 * 60},
	{Method: "popup", Minutes: 10},
}

type Settings struct {
	TimeZone    string `json:"timeZone"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type Config struct {
	PageSize int
	// Endpoint overrides the API base URL; tests point it at a fake server.
	Endpoint string
}

type Gateway struct {
	tokens   TokenSource
	pageSize int64
	endpoint string
	logger   *log.Logger
}

func NewGateway(tokens TokenSource, cfg Config, logger *log.Logger) *Gateway {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		tokens:   tokens,
		pageSize: int64(cfg.PageSize),
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

func (g *Gateway) service(ctx context.Context, userID string) (*gcal.Service, error) {
	rec, err := g.tokens.Fresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rec.AccessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents returns upcoming single events of the primary calendar ordered by
// start time. timeMin defaults to now.
func (g *Gateway) ListEvents(ctx context.Context, userID, timeMin, timeMax string) ([]Event, error) {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(timeMin) == "" {
		timeMin = time.Now().Format(time.RFC3339)
	}
	call := svc.Events.List(primaryCalendar).
		TimeMin(timeMin).
		MaxResults(g.pageSize).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if strings.TrimSpace(timeMax) != "" {
		call = call.TimeMax(timeMax)
	}

	res, err := call.Do()
	if err != nil {
		return nil, g.classify("list events", userID, err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, fromAPI(item))
	}
	return events, nil
}

func (g *Gateway) CreateEvent(ctx context.Context, userID string, in EventInput) (*Event, error) {
	if strings.TrimSpace(in.Summary) == "" || strings.TrimSpace(in.StartDateTime) == "" || strings.TrimSpace(in.EndDateTime) == "" {
		return nil, ErrInvalidEvent
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.StartDateTime, TimeZone: in.TimeZone},
		End:         &gcal.EventDateTime{DateTime: in.EndDateTime, TimeZone: in.TimeZone},
		Reminders:   toAPIReminders(in.Reminders),
	}
	for _, email := range in.Attendees {
		if email = strings.TrimSpace(email); email != "" {
			ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: email})
		}
	}

	created, err := svc.Events.Insert(primaryCalendar, ev).Context(ctx).Do()
	if err != nil {
		return nil, g.classify("create event", userID, err)
	}

	out := fromAPI(created)
	return &out, nil
}

func (g *Gateway) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	cal, err := svc.Calendars.Get(primaryCalendar).Context(ctx).Do()
	if err != nil {
		return nil, g.classify("get settings", userID, err)
	}
	return &Settings{TimeZone: cal.TimeZone, Summary: cal.Summary, Description: cal.Description}, nil
}

// LookupTimeZone returns the primary calendar's timezone, or "" when it
// cannot be determined for any reason.
func (g *Gateway) LookupTimeZone(ctx context.Context, userID string) string {
	s, err := g.GetSettings(ctx, userID)
	if err != nil {
		g.logger.Debug("timezone lookup skipped", "user_id", userID, "err", err)
		return ""
	}
	return s.TimeZone
}

func (g *Gateway) classify(op, userID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			g.logger.Warn("calendar rejected credentials", "op", op, "user_id", userID, "err", err)
			return fmt.Errorf("%w: %s", ErrReauthorizationRequired, apiErr.Message)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			g.logger.Warn("calendar request rejected", "op", op, "user_id", userID, "status", apiErr.Code, "err", err)
			return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
		}
	}
	g.logger.Error("calendar request failed", "op", op, "user_id", userID, "err", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func toAPIReminders(rs []Reminder) *gcal.EventReminders {
	if rs == nil {
		rs = DefaultReminders
	}
	out := &gcal.EventReminders{
		UseDefault:      false,
		ForceSendFields: []string{"UseDefault"},
	}
	for _, r := range rs {
		out.Overrides = append(out.Overrides, &gcal.EventReminder{Method: r.Method, Minutes: r.Minutes})
	}
	return out
}

func fromAPI(e *gcal.Event) Event {
	out := Event{
		ID:          e.Id,
		Summary:     e.Summary,
		Description: e.Description,
		HTMLLink:    e.HtmlLink,
	}
	if e.Start != nil {
		out.Start = EventTime{DateTime: e.Start.DateTime, Date: e.Start.Date, TimeZone: e.Start.TimeZone}
	}
	if e.End != nil {
		out.End = EventTime{DateTime: e.End.DateTime, Date: e.End.Date, TimeZone: e.End.TimeZone}
	}
	return out
}
