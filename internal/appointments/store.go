// Package appointments persists one record per booking attempt so the
// rest of the application can read calendar/email integration status.
package appointments

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Appointment is one booking attempt. CalendarEventID and DraftID stay
// empty until the corresponding external write succeeds, so a row with
// an empty identifier records exactly which integration step failed.
type Appointment struct {
	ID            string    `json:"id"`
	ThreadKey     string    `json:"thread_key"`
	Title         string    `json:"title"`
	Location      string    `json:"location,omitempty"`
	Description   string    `json:"description,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	AttendeeEmail string    `json:"attendee_email,omitempty"`

	// CalendarEventID is the external calendar event identifier,
	// empty until event creation succeeds.
	CalendarEventID string `json:"calendar_event_id,omitempty"`

	// DraftID is the confirmation email draft identifier, empty until
	// draft creation succeeds.
	DraftID string `json:"draft_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a SQLite-backed appointment record store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		thread_key TEXT NOT NULL,
		title TEXT NOT NULL,
		location TEXT,
		description TEXT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		attendee_email TEXT,
		calendar_event_id TEXT,
		draft_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_thread ON appointments(thread_key, start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new appointment record and assigns its id.
func (s *Store) Create(a *Appointment) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("appointment id: %w", err)
	}
	a.ID = id.String()
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO appointments
			(id, thread_key, title, location, description, start_time, end_time,
			 attendee_email, calendar_event_id, draft_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ThreadKey, a.Title, nullable(a.Location), nullable(a.Description),
		a.StartTime, a.EndTime, nullable(a.AttendeeEmail),
		nullable(a.CalendarEventID), nullable(a.DraftID), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// SetCalendarEvent records the external calendar event id once the
// calendar write succeeds.
func (s *Store) SetCalendarEvent(id, eventID string) error {
	return s.setColumn(id, "calendar_event_id", eventID)
}

// SetDraft records the confirmation draft id once the mail write
// succeeds.
func (s *Store) SetDraft(id, draftID string) error {
	return s.setColumn(id, "draft_id", draftID)
}

func (s *Store) setColumn(id, column, value string) error {
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE appointments SET %s = ?, updated_at = ? WHERE id = ?`, column),
		value, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("appointment not found: %s", id)
	}
	return nil
}

// ByThread returns a thread's appointments in start-time order.
func (s *Store) ByThread(threadKey string) ([]Appointment, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_key, title, location, description, start_time, end_time,
		       attendee_email, calendar_event_id, draft_id, created_at, updated_at
		FROM appointments
		WHERE thread_key = ?
		ORDER BY start_time ASC
	`, threadKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		var location, description, email, eventID, draftID sql.NullString
		err := rows.Scan(&a.ID, &a.ThreadKey, &a.Title, &location, &description,
			&a.StartTime, &a.EndTime, &email, &eventID, &draftID,
			&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		a.Location = location.String
		a.Description = description.String
		a.AttendeeEmail = email.String
		a.CalendarEventID = eventID.String
		a.DraftID = draftID.String
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// LatestForThread returns the most recently created appointment for a
// thread, or nil when the thread has none.
func (s *Store) LatestForThread(threadKey string) (*Appointment, error) {
	appts, err := s.ByThread(threadKey)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, nil
	}

	latest := appts[0]
	for _, a := range appts[1:] {
		if a.CreatedAt.After(latest.CreatedAt) || (a.CreatedAt.Equal(latest.CreatedAt) && a.ID > latest.ID) {
			latest = a
		}
	}
	return &latest, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
