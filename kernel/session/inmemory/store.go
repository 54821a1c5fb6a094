// Package inmemory provides a thread-safe in-memory session store.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chalkline/agentkit/kernel/session"
)

type entry struct {
	session *session.Session
	events  []*session.Event
}

// Store keeps sessions and events in process memory. History does not
// survive a restart.
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry
}

func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

func (s *Store) GetOrCreate(_ context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[id]; ok {
		cp := *e.session
		return &cp, nil
	}
	sess := &session.Session{ID: id, CreatedAt: time.Now().UTC()}
	s.data[id] = &entry{session: sess}
	cp := *sess
	return &cp, nil
}

func (s *Store) AppendEvent(_ context.Context, id string, ev *session.Event) error {
	if ev == nil {
		return fmt.Errorf("session: event is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return session.ErrNotFound
	}
	cp := *ev
	e.events = append(e.events, &cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, id string) ([]*session.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	out := make([]*session.Event, 0, len(e.events))
	for _, ev := range e.events {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ClearEvents(_ context.Context, id string, keep func(*session.Event) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return session.ErrNotFound
	}
	if keep == nil {
		e.events = nil
		return nil
	}
	kept := e.events[:0]
	for _, ev := range e.events {
		if keep(ev) {
			kept = append(kept, ev)
		}
	}
	e.events = kept
	return nil
}
