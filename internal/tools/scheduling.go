package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/careloop/sam-agent/internal/appointments"
	"github.com/careloop/sam-agent/internal/calendar"
)

// AvailabilityWindowDays is the fixed span of every availability query.
// Whatever span the model asks for, the lookup covers exactly this many
// days starting at the requested date: it bounds result size and keeps
// downstream date math simple.
const AvailabilityWindowDays = 3

// CalendarService is the calendar capability the scheduling tools
// depend on.
type CalendarService interface {
	FreeSlots(ctx context.Context, date time.Time, days int) ([]calendar.Slot, error)
	CreateEvent(ctx context.Context, ev calendar.Event) (string, error)
}

// DraftService is the mail capability the scheduling tools depend on.
type DraftService interface {
	CreateDraft(ctx context.Context, to, subject, body string) (string, error)
}

// AppointmentRecorder persists booking records and their external
// integration status.
type AppointmentRecorder interface {
	Create(a *appointments.Appointment) error
	SetCalendarEvent(id, eventID string) error
	SetDraft(id, draftID string) error
	LatestForThread(threadKey string) (*appointments.Appointment, error)
}

// SchedulingOptions configures the scheduling tool set.
type SchedulingOptions struct {
	// Location is the clinic timezone used for all date parsing and
	// event creation.
	Location *time.Location
	// AppointmentMinutes is the default appointment length when the
	// model supplies only a start time.
	AppointmentMinutes int
	// ReminderMinutes is the default event reminder lead time.
	ReminderMinutes int
}

// RegisterScheduling adds the three scheduling tools to the registry:
// the read-classified availability lookup and the write-classified
// event and draft creation.
func RegisterScheduling(r *Registry, cal CalendarService, drafts DraftService, recorder AppointmentRecorder, opts SchedulingOptions, logger *slog.Logger) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.AppointmentMinutes <= 0 {
		opts.AppointmentMinutes = 60
	}
	if opts.ReminderMinutes <= 0 {
		opts.ReminderMinutes = 30
	}

	s := &scheduling{
		cal:      cal,
		drafts:   drafts,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
	}

	r.Register(&Tool{
		Name:        "find_free_slots",
		Description: "Check clinic availability. Returns the free time slots over a window of days starting at the given date.",
		Kind:        KindRead,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "First day of the window, YYYY-MM-DD",
				},
				"days": map[string]any{
					"type":        "integer",
					"description": "Window span in days",
				},
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name",
				},
			},
			"required": []string{"date"},
		},
		Handler: s.handleFindFreeSlots,
	})

	r.Register(&Tool{
		Name:        "create_event",
		Description: "Book an appointment on the clinic calendar. Only call after the user has clearly agreed to a specific time.",
		Kind:        KindWrite,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Event title, e.g. 'Dental checkup with Dr. Lee'",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Optional location",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional notes",
				},
				"start": map[string]any{
					"type":        "string",
					"description": "Start time, RFC3339 or YYYY-MM-DDTHH:MM",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "Optional end time; defaults to the clinic's standard appointment length after start",
				},
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name",
				},
				"attendee_email": map[string]any{
					"type":        "string",
					"description": "Optional patient email for the record",
				},
			},
			"required": []string{"title", "start"},
		},
		Handler: s.handleCreateEvent,
	})

	r.Register(&Tool{
		Name:        "create_email_draft",
		Description: "Prepare a confirmation email draft for the patient. Body is markdown.",
		Kind:        KindWrite,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient": map[string]any{
					"type":        "string",
					"description": "Recipient email address",
				},
				"subject": map[string]any{
					"type":        "string",
					"description": "Subject line",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Email body in markdown",
				},
			},
			"required": []string{"recipient", "subject", "body"},
		},
		Handler: s.handleCreateEmailDraft,
	})
}

type scheduling struct {
	cal      CalendarService
	drafts   DraftService
	recorder AppointmentRecorder
	opts     SchedulingOptions
	logger   *slog.Logger
}

func (s *scheduling) handleFindFreeSlots(ctx context.Context, args map[string]any) (string, error) {
	dateStr, err := requireString(args, "date")
	if err != nil {
		return "", err
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, s.opts.Location)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", dateStr, err)
	}

	// The window is always AvailabilityWindowDays, whatever the model
	// asked for.
	if requested := intArg(args, "days", AvailabilityWindowDays); requested != AvailabilityWindowDays {
		s.logger.Debug("availability span clamped",
			"requested_days", requested,
			"days", AvailabilityWindowDays,
		)
	}

	slots, err := s.cal.FreeSlots(ctx, date, AvailabilityWindowDays)
	if err != nil {
		return "", fmt.Errorf("availability lookup: %w", err)
	}

	payload := map[string]any{
		"window_start": date.Format("2006-01-02"),
		"days":         AvailabilityWindowDays,
		"timezone":     s.opts.Location.String(),
		"free_slots":   slots,
	}
	return marshalResult(payload)
}

func (s *scheduling) handleCreateEvent(ctx context.Context, args map[string]any) (string, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return "", err
	}
	startStr, err := requireString(args, "start")
	if err != nil {
		return "", err
	}

	start, err := s.parseTime(startStr)
	if err != nil {
		return "", fmt.Errorf("invalid start time: %w", err)
	}

	end := start.Add(time.Duration(s.opts.AppointmentMinutes) * time.Minute)
	if endStr := stringArg(args, "end"); endStr != "" {
		end, err = s.parseTime(endStr)
		if err != nil {
			return "", fmt.Errorf("invalid end time: %w", err)
		}
	}
	if !end.After(start) {
		return "", fmt.Errorf("end time %s is not after start time %s", end, start)
	}

	// One record per attempt, written before the external call: a
	// failed calendar write still leaves a row whose empty event id
	// shows exactly where the attempt stopped.
	appt := &appointments.Appointment{
		ThreadKey:     ThreadKeyFromContext(ctx),
		Title:         title,
		Location:      stringArg(args, "location"),
		Description:   stringArg(args, "description"),
		StartTime:     start,
		EndTime:       end,
		AttendeeEmail: stringArg(args, "attendee_email"),
	}
	if err := s.recorder.Create(appt); err != nil {
		return "", fmt.Errorf("record appointment: %w", err)
	}

	eventID, err := s.cal.CreateEvent(ctx, calendar.Event{
		Title:           title,
		Location:        appt.Location,
		Description:     appt.Description,
		Start:           start,
		End:             end,
		ReminderMinutes: s.opts.ReminderMinutes,
	})
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}

	if err := s.recorder.SetCalendarEvent(appt.ID, eventID); err != nil {
		// The event exists; a stale record is recoverable, a lost
		// event is not.
		s.logger.Error("appointment record update failed", "appointment", appt.ID, "event", eventID, "error", err)
	}

	payload := map[string]any{
		"event_id":       eventID,
		"appointment_id": appt.ID,
		"start":          start.Format(time.RFC3339),
		"end":            end.Format(time.RFC3339),
		"timezone":       s.opts.Location.String(),
	}
	return marshalResult(payload)
}

func (s *scheduling) handleCreateEmailDraft(ctx context.Context, args map[string]any) (string, error) {
	recipient, err := requireString(args, "recipient")
	if err != nil {
		return "", err
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return "", err
	}
	body, err := requireString(args, "body")
	if err != nil {
		return "", err
	}

	draftID, err := s.drafts.CreateDraft(ctx, recipient, subject, body)
	if err != nil {
		return "", fmt.Errorf("create email draft: %w", err)
	}

	// Attach the draft to the thread's latest booking when there is
	// one; a standalone draft is still a success.
	if threadKey := ThreadKeyFromContext(ctx); threadKey != "" {
		if appt, err := s.recorder.LatestForThread(threadKey); err == nil && appt != nil {
			if err := s.recorder.SetDraft(appt.ID, draftID); err != nil {
				s.logger.Error("draft record update failed", "appointment", appt.ID, "draft", draftID, "error", err)
			}
		}
	}

	payload := map[string]any{
		"draft_id":  draftID,
		"recipient": recipient,
	}
	return marshalResult(payload)
}

// parseTime accepts RFC3339 or a local wall-clock time, interpreted in
// the clinic timezone.
func (s *scheduling) parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(s.opts.Location), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, value, s.opts.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse time %q", value)
}

func marshalResult(payload map[string]any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(encoded), nil
}
