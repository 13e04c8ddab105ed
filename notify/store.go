// Package notify keeps the notifications currently shown to the user.
package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is how long a notification stays before it is removed.
const DefaultDuration = 5 * time.Second

// Type is the severity of a notification.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

type Notification struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Message string `json:"message"`
	// Duration is zero for notifications that stay until removed.
	Duration time.Duration `json:"duration"`
}

// Store is safe for concurrent use. The zero value is ready to use.
type Store struct {
	mu     sync.Mutex
	items  []Notification
	timers map[string]*time.Timer
}

// Add shows a notification and returns its ID. A positive duration removes
// it after that long; zero or negative keeps it until Remove or Clear.
func (s *Store) Add(typ Type, message string, duration time.Duration) string {
	n := Notification{
		ID:       uuid.NewString(),
		Type:     typ,
		Message:  message,
		Duration: max(duration, 0),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	if duration > 0 {
		if s.timers == nil {
			s.timers = make(map[string]*time.Timer)
		}
		s.timers[n.ID] = time.AfterFunc(duration, func() { s.Remove(n.ID) })
	}
	return n.ID
}

// Remove drops the notification with id, if it is still shown.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.items = slices.DeleteFunc(s.items, func(n Notification) bool { return n.ID == id })
}

// List returns the shown notifications, oldest first.
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.items = nil
}

func (s *Store) Success(message string) string { return s.Add(TypeSuccess, message, DefaultDuration) }
func (s *Store) Error(message string) string   { return s.Add(TypeError, message, DefaultDuration) }
func (s *Store) Warning(message string) string { return s.Add(TypeWarning, message, DefaultDuration) }
func (s *Store) Info(message string) string    { return s.Add(TypeInfo, message, DefaultDuration) }
