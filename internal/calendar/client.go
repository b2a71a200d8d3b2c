// Package calendar talks CalDAV: it answers availability queries
// against the clinic calendar and creates appointment events.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/careloop/sam-agent/internal/httpkit"
)

// Config holds the CalDAV account settings.
type Config struct {
	// URL is the CalDAV endpoint root.
	URL string
	// Username and Password authenticate via HTTP basic auth.
	Username string
	Password string
	// Path is the collection path of the clinic calendar. When empty,
	// the first calendar under the principal's home set is used.
	Path string
}

// Policy holds the clinic's scheduling rules, applied uniformly to
// availability answers.
type Policy struct {
	// Location is the clinic timezone all interval math happens in.
	Location *time.Location
	// OpenHour and CloseHour bound the working day (24h clock).
	OpenHour  int
	CloseHour int
	// SlotMinutes is the granularity of offered slots.
	SlotMinutes int
}

// Slot is one free interval on the clinic calendar.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Event is an appointment to create.
type Event struct {
	Title           string
	Location        string
	Description     string
	Start           time.Time
	End             time.Time
	ReminderMinutes int
}

// Client wraps a CalDAV connection. The calendar collection path is
// resolved lazily on first use and cached.
type Client struct {
	cfg    Config
	policy Policy
	logger *slog.Logger
	dav    *caldav.Client

	mu   sync.Mutex
	path string
}

// NewClient creates a CalDAV client for the given account.
func NewClient(cfg Config, policy Policy, logger *slog.Logger) (*Client, error) {
	if policy.Location == nil {
		policy.Location = time.UTC
	}

	httpClient := webdav.HTTPClientWithBasicAuth(httpkit.NewClient(30*time.Second), cfg.Username, cfg.Password)
	dav, err := caldav.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	return &Client{
		cfg:    cfg,
		policy: policy,
		logger: logger,
		dav:    dav,
		path:   cfg.Path,
	}, nil
}

// calendarPath resolves and caches the calendar collection path.
func (c *Client) calendarPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path != "" {
		return c.path, nil
	}

	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars found under %s", homeSet)
	}

	c.path = calendars[0].Path
	c.logger.Debug("resolved clinic calendar", "path", c.path, "name", calendars[0].Name)
	return c.path, nil
}

// FreeSlots returns the free intervals within clinic hours over the
// window of the given span, starting at date.
func (c *Client) FreeSlots(ctx context.Context, date time.Time, days int) ([]Slot, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	loc := c.policy.Location
	windowStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	windowEnd := windowStart.AddDate(0, 0, days)

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: windowStart,
				End:   windowEnd,
			}},
		},
	}

	objects, err := c.dav.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	busy := busyIntervals(objects, loc, c.logger)

	slots := FreeWithin(windowStart, days, busy, c.policy)
	c.logger.Debug("availability computed",
		"window_start", windowStart,
		"days", days,
		"busy", len(busy),
		"free", len(slots),
	)
	return slots, nil
}

// busyIntervals extracts the busy slots from queried calendar objects.
// An event whose start cannot be read is skipped with a warning; an
// event with a readable start but an unreadable end blocks the rest of
// that day, so a malformed event never shows up as free time.
func busyIntervals(objects []caldav.CalendarObject, loc *time.Location, logger *slog.Logger) []Slot {
	var busy []Slot
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(loc)
			if err != nil || start.IsZero() {
				logger.Warn("ignoring event with unreadable start", "object", obj.Path, "error", err)
				continue
			}
			end, err := ev.DateTimeEnd(loc)
			if err != nil {
				logger.Warn("event has unreadable end, blocking the rest of the day", "object", obj.Path, "start", start, "error", err)
				end = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			}
			busy = append(busy, Slot{Start: start, End: end})
		}
	}
	return busy
}

// CreateEvent writes a new appointment event and returns its UID.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (string, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return "", err
	}

	uid := uuid.NewString()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().In(c.policy.Location))
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.In(c.policy.Location))
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.In(c.policy.Location))
	event.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}

	if ev.ReminderMinutes > 0 {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, ev.Title)
		alarm.Props.SetText(ical.PropTrigger, fmt.Sprintf("-PT%dM", ev.ReminderMinutes))
		event.Children = append(event.Children, alarm)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//careloop//sam-agent//EN")
	cal.Children = append(cal.Children, event.Component)

	objPath := strings.TrimSuffix(path, "/") + "/" + uid + ".ics"
	if _, err := c.dav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return "", fmt.Errorf("put calendar object: %w", err)
	}

	c.logger.Info("calendar event created", "uid", uid, "start", ev.Start, "end", ev.End)
	return uid, nil
}
