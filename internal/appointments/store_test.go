package appointments

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndIntegrationStatus(t *testing.T) {
	store := newTestStore(t)

	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	appt := &Appointment{
		ThreadKey:     "appointment-thread-7",
		Title:         "Dental checkup with Dr. Lee",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		AttendeeEmail: "a@b.com",
	}

	if err := store.Create(appt); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("Create() did not assign an id")
	}

	// Freshly created: both external ids are unset.
	got, err := store.ByThread("appointment-thread-7")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("appointments = %d, want 1", len(got))
	}
	if got[0].CalendarEventID != "" || got[0].DraftID != "" {
		t.Errorf("new appointment has external ids: %+v", got[0])
	}

	if err := store.SetCalendarEvent(appt.ID, "cal-evt-42"); err != nil {
		t.Fatalf("SetCalendarEvent() error: %v", err)
	}
	if err := store.SetDraft(appt.ID, "draft-9"); err != nil {
		t.Fatalf("SetDraft() error: %v", err)
	}

	got, err = store.ByThread("appointment-thread-7")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].CalendarEventID != "cal-evt-42" {
		t.Errorf("CalendarEventID = %q", got[0].CalendarEventID)
	}
	if got[0].DraftID != "draft-9" {
		t.Errorf("DraftID = %q", got[0].DraftID)
	}
}

func TestSetCalendarEventUnknownID(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetCalendarEvent("missing", "evt"); err == nil {
		t.Error("expected error for unknown appointment id")
	}
}
