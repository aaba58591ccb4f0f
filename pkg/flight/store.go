package flight

import (
	"context"
	"encoding/json"
	"time"
)

// Direction labels checkpoint log entries.
const (
	DirectionDo   = "do"
	DirectionUndo = "undo"
)

// Record is the persisted form of a flight. The step cursor means the next
// step to Do while running forward, and the next step to Undo while running
// backward.
type Record struct {
	ID              string          `json:"id"`
	Class           string          `json:"class"`
	Status          State           `json:"status"`
	StepCursor      int             `json:"step_cursor"`
	Inputs          json.RawMessage `json:"inputs"`
	Working         json.RawMessage `json:"working"`
	Cause           string          `json:"cause,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// LogEntry is one row of the append-only checkpoint log.
type LogEntry struct {
	FlightID  string    `json:"flight_id"`
	StepIndex int       `json:"step_index"`
	StepName  string    `json:"step_name"`
	Direction string    `json:"direction"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
}

// Store is the durable flight persistence the runner and scheduler depend
// on. Implemented by the stores package; defined here so the engine does
// not import its own storage backend.
type Store interface {
	// CreateFlight inserts a new flight record.
	CreateFlight(ctx context.Context, rec *Record) error

	// GetFlight loads a flight by id.
	GetFlight(ctx context.Context, id string) (*Record, error)

	// Checkpoint durably records progress: the flight's status, its step
	// cursor, and the working map snapshot. Called after every step; this
	// is what makes flights resumable.
	Checkpoint(ctx context.Context, id string, status State, cursor int, working json.RawMessage) error

	// CompleteFlight records a terminal state and the preserved cause.
	CompleteFlight(ctx context.Context, id string, status State, cause string) error

	// SetCause records the original failure when the flight flips to
	// compensation.
	SetCause(ctx context.Context, id string, cause string) error

	// RequestCancel sets the cooperative cancellation flag.
	RequestCancel(ctx context.Context, id string) error

	// CancelRequested reads the cancellation flag.
	CancelRequested(ctx context.Context, id string) (bool, error)

	// ListResumable returns flights still in a running state, oldest
	// first. Used by the recovery scan at startup.
	ListResumable(ctx context.Context) ([]*Record, error)

	// AppendFlightLog appends a checkpoint log entry.
	AppendFlightLog(ctx context.Context, entry *LogEntry) error
}
