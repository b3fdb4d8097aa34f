package tracking

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded open or click against a queued email. Multiple
// events from the same recipient are all kept; reporting collapses them.
type Event struct {
	ID            uuid.UUID  `json:"id"`
	QueuedEmailID uuid.UUID  `json:"queued_email_id"`
	EventType     string     `json:"event_type"`
	LinkURL       string     `json:"link_url,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	EventAt       time.Time  `json:"event_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Recorder appends tracking events to the audit log.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a tracking event recorder.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one event. Callers treat failures as log-and-continue:
// the pixel or redirect must succeed for the recipient regardless.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	if event.EventAt.IsZero() {
		event.EventAt = time.Now()
	}

	query := `INSERT INTO email_tracking_events (id, queued_email_id, event_type, link_url,
		ip_address, user_agent, event_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query, event.ID, event.QueuedEmailID, event.EventType,
		event.LinkURL, event.IPAddress, event.UserAgent, event.EventAt, event.CreatedAt)
	return err
}

// ListByQueuedEmail returns the events recorded for one queued email,
// newest first. Used by the operator dashboard.
func (r *Recorder) ListByQueuedEmail(ctx context.Context, queuedEmailID uuid.UUID) ([]*Event, error) {
	query := `SELECT id, queued_email_id, event_type, link_url, ip_address, user_agent, event_at, created_at
		FROM email_tracking_events WHERE queued_email_id = $1 ORDER BY event_at DESC`

	rows, err := r.db.QueryContext(ctx, query, queuedEmailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(&e.ID, &e.QueuedEmailID, &e.EventType, &e.LinkURL,
			&e.IPAddress, &e.UserAgent, &e.EventAt, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
