package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/ridehail/internal/booking/domain"
)

// Journal persists booking lifecycle events into the relay table so the
// worker can forward them to the broker. Rows stay until they are marked
// published.
type Journal struct {
	db      *sql.DB
	subject string
}

// NewJournal wraps an open database handle. subject is the broker topic
// prefix the worker will publish under.
func NewJournal(db *sql.DB, subject string) *Journal {
	if subject == "" {
		subject = "dispatch.events"
	}
	return &Journal{db: db, subject: subject}
}

// EnsureSchema creates the relay table when it does not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS dispatch_events (
id SERIAL PRIMARY KEY,
topic TEXT NOT NULL,
payload BYTEA NOT NULL,
published BOOLEAN DEFAULT FALSE,
created_at TIMESTAMPTZ DEFAULT now()
)`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure dispatch_events: %w", err)
	}
	return nil
}

// AppendEvent satisfies domain.EventJournal.
func (j *Journal) AppendEvent(ctx context.Context, event domain.BookingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	topic := fmt.Sprintf("%s.%s", j.subject, event.Type)
	if _, err := j.db.ExecContext(ctx, `INSERT INTO dispatch_events (topic, payload, published) VALUES ($1, $2, false)`, topic, payload); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
