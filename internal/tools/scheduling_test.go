package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/careloop/sam-agent/internal/appointments"
	"github.com/careloop/sam-agent/internal/calendar"
)

type fakeCalendar struct {
	freeSlotsDate time.Time
	freeSlotsDays int
	slots         []calendar.Slot
	slotsErr      error

	createdEvent *calendar.Event
	eventID      string
	createErr    error
}

func (f *fakeCalendar) FreeSlots(_ context.Context, date time.Time, days int) ([]calendar.Slot, error) {
	f.freeSlotsDate = date
	f.freeSlotsDays = days
	return f.slots, f.slotsErr
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev calendar.Event) (string, error) {
	f.createdEvent = &ev
	return f.eventID, f.createErr
}

type fakeDrafts struct {
	to, subject, body string
	draftID           string
	err               error
}

func (f *fakeDrafts) CreateDraft(_ context.Context, to, subject, body string) (string, error) {
	f.to, f.subject, f.body = to, subject, body
	return f.draftID, f.err
}

type fakeRecorder struct {
	created   []*appointments.Appointment
	eventSets map[string]string
	draftSets map[string]string
	latest    *appointments.Appointment
	createErr error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		eventSets: make(map[string]string),
		draftSets: make(map[string]string),
	}
}

func (f *fakeRecorder) Create(a *appointments.Appointment) error {
	if f.createErr != nil {
		return f.createErr
	}
	a.ID = "appt-1"
	f.created = append(f.created, a)
	return nil
}

func (f *fakeRecorder) SetCalendarEvent(id, eventID string) error {
	f.eventSets[id] = eventID
	return nil
}

func (f *fakeRecorder) SetDraft(id, draftID string) error {
	f.draftSets[id] = draftID
	return nil
}

func (f *fakeRecorder) LatestForThread(string) (*appointments.Appointment, error) {
	return f.latest, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(cal *fakeCalendar, drafts *fakeDrafts, recorder *fakeRecorder) *Registry {
	r := NewRegistry()
	chicago, _ := time.LoadLocation("America/Chicago")
	RegisterScheduling(r, cal, drafts, recorder, SchedulingOptions{
		Location:           chicago,
		AppointmentMinutes: 60,
		ReminderMinutes:    30,
	}, testLogger())
	return r
}

func TestFindFreeSlotsAlwaysQueriesFixedWindow(t *testing.T) {
	for _, requested := range []any{nil, float64(1), float64(3), float64(14)} {
		cal := &fakeCalendar{}
		r := newTestRegistry(cal, &fakeDrafts{}, newFakeRecorder())

		args := map[string]any{"date": "2026-09-01"}
		if requested != nil {
			args["days"] = requested
		}
		result, err := r.Execute(context.Background(), "find_free_slots", args)
		if err != nil {
			t.Fatalf("requested=%v: %v", requested, err)
		}
		if cal.freeSlotsDays != AvailabilityWindowDays {
			t.Errorf("requested=%v: queried %d days, want %d", requested, cal.freeSlotsDays, AvailabilityWindowDays)
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			t.Fatalf("result is not JSON: %v", err)
		}
		if payload["days"] != float64(AvailabilityWindowDays) {
			t.Errorf("payload days = %v, want %d", payload["days"], AvailabilityWindowDays)
		}
	}
}

func TestFindFreeSlotsPayload(t *testing.T) {
	chicago, _ := time.LoadLocation("America/Chicago")
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, chicago)
	cal := &fakeCalendar{slots: []calendar.Slot{{Start: start, End: start.Add(time.Hour)}}}
	r := newTestRegistry(cal, &fakeDrafts{}, newFakeRecorder())

	result, err := r.Execute(context.Background(), "find_free_slots", map[string]any{"date": "2026-09-01"})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 9, 1, 0, 0, 0, 0, chicago); !cal.freeSlotsDate.Equal(want) {
		t.Errorf("date = %v, want %v", cal.freeSlotsDate, want)
	}
	if !strings.Contains(result, "America/Chicago") {
		t.Errorf("payload missing timezone: %s", result)
	}
	if !strings.Contains(result, "free_slots") {
		t.Errorf("payload missing free_slots: %s", result)
	}
}

func TestFindFreeSlotsRejectsBadDate(t *testing.T) {
	r := newTestRegistry(&fakeCalendar{}, &fakeDrafts{}, newFakeRecorder())

	if _, err := r.Execute(context.Background(), "find_free_slots", map[string]any{"date": "tomorrow"}); err == nil {
		t.Fatal("expected error for unparseable date")
	}
	if _, err := r.Execute(context.Background(), "find_free_slots", map[string]any{}); err == nil {
		t.Fatal("expected error for missing date")
	}
}

func TestCreateEventDefaultsDuration(t *testing.T) {
	cal := &fakeCalendar{eventID: "evt-1"}
	recorder := newFakeRecorder()
	r := newTestRegistry(cal, &fakeDrafts{}, recorder)

	ctx := WithThreadKey(context.Background(), "appointment-thread-42")
	result, err := r.Execute(ctx, "create_event", map[string]any{
		"title": "Dental checkup",
		"start": "2026-09-01T14:00",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cal.createdEvent == nil {
		t.Fatal("no event created")
	}
	if got := cal.createdEvent.End.Sub(cal.createdEvent.Start); got != time.Hour {
		t.Errorf("default duration = %v, want 1h", got)
	}
	if len(recorder.created) != 1 {
		t.Fatalf("created %d appointment records, want 1", len(recorder.created))
	}
	appt := recorder.created[0]
	if appt.ThreadKey != "appointment-thread-42" {
		t.Errorf("thread key = %q", appt.ThreadKey)
	}
	if recorder.eventSets["appt-1"] != "evt-1" {
		t.Errorf("calendar event id not recorded: %v", recorder.eventSets)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["event_id"] != "evt-1" {
		t.Errorf("event_id = %v", payload["event_id"])
	}
}

func TestCreateEventExplicitEnd(t *testing.T) {
	cal := &fakeCalendar{eventID: "evt-2"}
	r := newTestRegistry(cal, &fakeDrafts{}, newFakeRecorder())

	_, err := r.Execute(context.Background(), "create_event", map[string]any{
		"title": "Cleaning",
		"start": "2026-09-01T14:00",
		"end":   "2026-09-01T14:30",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := cal.createdEvent.End.Sub(cal.createdEvent.Start); got != 30*time.Minute {
		t.Errorf("duration = %v, want 30m", got)
	}
}

func TestCreateEventRejectsInvertedRange(t *testing.T) {
	r := newTestRegistry(&fakeCalendar{}, &fakeDrafts{}, newFakeRecorder())

	_, err := r.Execute(context.Background(), "create_event", map[string]any{
		"title": "Cleaning",
		"start": "2026-09-01T14:00",
		"end":   "2026-09-01T13:00",
	})
	if err == nil {
		t.Fatal("expected error when end precedes start")
	}
}

func TestCreateEventCalendarFailure(t *testing.T) {
	cal := &fakeCalendar{createErr: errors.New("caldav: 503")}
	recorder := newFakeRecorder()
	r := newTestRegistry(cal, &fakeDrafts{}, recorder)

	_, err := r.Execute(context.Background(), "create_event", map[string]any{
		"title": "Checkup",
		"start": "2026-09-01T14:00",
	})
	if err == nil {
		t.Fatal("expected error from calendar failure")
	}
	// The record exists but carries no external event id.
	if len(recorder.created) != 1 {
		t.Fatalf("created %d records, want 1", len(recorder.created))
	}
	if len(recorder.eventSets) != 0 {
		t.Errorf("event id recorded despite failure: %v", recorder.eventSets)
	}
}

func TestCreateEmailDraftAttachesToLatestAppointment(t *testing.T) {
	drafts := &fakeDrafts{draftID: "Drafts/17"}
	recorder := newFakeRecorder()
	recorder.latest = &appointments.Appointment{ID: "appt-9"}
	r := newTestRegistry(&fakeCalendar{}, drafts, recorder)

	ctx := WithThreadKey(context.Background(), "appointment-thread-42")
	result, err := r.Execute(ctx, "create_email_draft", map[string]any{
		"recipient": "pat@example.com",
		"subject":   "Your appointment",
		"body":      "See you **Tuesday**.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if drafts.to != "pat@example.com" || drafts.subject != "Your appointment" {
		t.Errorf("draft fields = %q / %q", drafts.to, drafts.subject)
	}
	if recorder.draftSets["appt-9"] != "Drafts/17" {
		t.Errorf("draft id not attached: %v", recorder.draftSets)
	}
	if !strings.Contains(result, "Drafts/17") {
		t.Errorf("payload missing draft id: %s", result)
	}
}

func TestCreateEmailDraftWithoutAppointment(t *testing.T) {
	drafts := &fakeDrafts{draftID: "Drafts/3"}
	recorder := newFakeRecorder()
	r := newTestRegistry(&fakeCalendar{}, drafts, recorder)

	ctx := WithThreadKey(context.Background(), "appointment-thread-7")
	if _, err := r.Execute(ctx, "create_email_draft", map[string]any{
		"recipient": "pat@example.com",
		"subject":   "Hello",
		"body":      "Hi",
	}); err != nil {
		t.Fatal(err)
	}
	if len(recorder.draftSets) != 0 {
		t.Errorf("draft attached with no appointment: %v", recorder.draftSets)
	}
}

func TestCreateEmailDraftRequiredFields(t *testing.T) {
	r := newTestRegistry(&fakeCalendar{}, &fakeDrafts{}, newFakeRecorder())

	for _, args := range []map[string]any{
		{"subject": "s", "body": "b"},
		{"recipient": "a@b.com", "body": "b"},
		{"recipient": "a@b.com", "subject": "s"},
	} {
		if _, err := r.Execute(context.Background(), "create_email_draft", args); err == nil {
			t.Errorf("expected error for args %v", args)
		}
	}
}
