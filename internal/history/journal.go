package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/avgear-matrix/internal/infrastructure/database"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// EventType classifies a journal entry.
type EventType string

// Journal event types.
const (
	EventRoute   EventType = "route"
	EventPower   EventType = "power"
	EventLock    EventType = "lock"
	EventSession EventType = "session"
	EventPreset  EventType = "preset"
)

// Event sources.
const (
	SourcePoll = "poll"
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Event is one journal entry. Output and Input are set only for
// routing events; Input 0 records a closed output.
type Event struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Type      EventType `json:"type"`
	Output    *int      `json:"output,omitempty"`
	Input     *int      `json:"input,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal persists device state changes to SQLite so routing history
// survives restarts and can be queried over the API.
type Journal struct {
	db *database.DB
}

// NewJournal creates a journal over an open database. Migrations must
// already have run.
func NewJournal(db *database.DB) *Journal {
	return &Journal{db: db}
}

// RecordRoute inserts a routing change for one output.
func (j *Journal) RecordRoute(ctx context.Context, deviceID string, output, input int, source string) error {
	return j.record(ctx, Event{
		DeviceID: deviceID,
		Type:     EventRoute,
		Output:   &output,
		Input:    &input,
		Source:   source,
	})
}

// RecordPower inserts a power mode transition.
func (j *Journal) RecordPower(ctx context.Context, deviceID, state, source string) error {
	return j.record(ctx, Event{
		DeviceID: deviceID,
		Type:     EventPower,
		Detail:   state,
		Source:   source,
	})
}

// RecordLock inserts a lock state change. Output is nil for panel-wide
// changes.
func (j *Journal) RecordLock(ctx context.Context, deviceID string, output *int, state, source string) error {
	return j.record(ctx, Event{
		DeviceID: deviceID,
		Type:     EventLock,
		Output:   output,
		Detail:   state,
		Source:   source,
	})
}

// RecordSession inserts a connectivity transition.
func (j *Journal) RecordSession(ctx context.Context, deviceID, state string) error {
	return j.record(ctx, Event{
		DeviceID: deviceID,
		Type:     EventSession,
		Detail:   state,
		Source:   SourcePoll,
	})
}

// RecordPreset inserts a preset recall.
func (j *Journal) RecordPreset(ctx context.Context, deviceID string, slot int, source string) error {
	return j.record(ctx, Event{
		DeviceID: deviceID,
		Type:     EventPreset,
		Detail:   fmt.Sprintf("recall slot %d", slot),
		Source:   source,
	})
}

func (j *Journal) record(ctx context.Context, ev Event) error {
	if ev.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if ev.Source == "" {
		ev.Source = SourcePoll
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO device_events (device_id, event_type, output, input, detail, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.DeviceID,
		string(ev.Type),
		nullableInt(ev.Output),
		nullableInt(ev.Input),
		ev.Detail,
		ev.Source,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Recent returns the newest events for a device, newest first.
// Limit defaults to 50 and is capped at 500.
func (j *Journal) Recent(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, device_id, event_type, output, input, detail, source, created_at
		 FROM device_events
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Prune deletes events older than the cutoff. Returns the number of
// rows removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM device_events WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

type scannable interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows scannable) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			ev            Event
			output, input *int64
			createdAt     string
		)
		if err := rows.Scan(&ev.ID, &ev.DeviceID, (*string)(&ev.Type), &output, &input, &ev.Detail, &ev.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if output != nil {
			v := int(*output)
			ev.Output = &v
		}
		if input != nil {
			v := int(*input)
			ev.Input = &v
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal rows: %w", err)
	}
	return events, nil
}
