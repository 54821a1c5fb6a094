// Package session defines conversation history storage.
package session

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/chalkline/agentkit/kernel/model"
)

var ErrNotFound = errors.New("session: not found")

// Session identifies one conversation thread.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Event is the persisted unit of history: one message plus bookkeeping.
type Event struct {
	ID        string
	SessionID string
	Time      time.Time
	Message   model.Message
	Meta      map[string]any
}

// NewEvent stamps a message into an event with a fresh id.
func NewEvent(sessionID string, msg model.Message) *Event {
	return &Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Message:   msg,
	}
}

// Store provides session and event persistence. Engine-driven history is
// append-only except for ClearEvents.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	AppendEvent(ctx context.Context, id string, ev *Event) error
	ListEvents(ctx context.Context, id string) ([]*Event, error)
	// ClearEvents drops events for which keep returns false; a nil keep
	// drops everything.
	ClearEvents(ctx context.Context, id string, keep func(*Event) bool) error
}

// Messages extracts messages from events in order.
func Messages(events []*Event) []model.Message {
	out := make([]model.Message, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Message)
	}
	return out
}

// Iterator returns a sequence over events.
func Iterator(events []*Event) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		for _, ev := range events {
			if !yield(ev) {
				return
			}
		}
	}
}
