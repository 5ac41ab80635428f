package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a client event.
type EventType string

const (
	EventPrompt   EventType = "console.prompt"
	EventOutput   EventType = "console.output"
	EventExit     EventType = "console.exit"
	EventSubprocs EventType = "terminal.subprocs"
	EventCwd      EventType = "terminal.cwd"
)

const (
	defaultEventCapacity    = 1000
	defaultSubscriberBufCap = 100
)

// Event is a notification for clients. Which fields are set depends on Type.
type Event struct {
	ID        uint64    `json:"id"`
	Type      EventType `json:"type"`
	Handle    string    `json:"handle"`
	Prompt    string    `json:"prompt,omitempty"`
	Output    string    `json:"output,omitempty"`
	ExitCode  int       `json:"exitCode"`
	Subprocs  bool      `json:"subprocs"`
	Cwd       string    `json:"cwd,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives session events.
type Notifier interface {
	Notify(ev Event)
}

// EventQueue numbers events, keeps the most recent ones for polling, and
// fans them out to subscribers.
type EventQueue struct {
	mu     sync.Mutex
	nextID uint64
	recent *RingBuffer

	subMu       sync.RWMutex
	subscribers map[string]chan Event
}

// NewEventQueue creates a queue remembering up to capacity events.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &EventQueue{
		recent:      NewRingBuffer(capacity),
		subscribers: make(map[string]chan Event),
	}
}

// Notify assigns the next ID and publishes ev.
func (q *EventQueue) Notify(ev Event) {
	q.mu.Lock()
	q.nextID++
	ev.ID = q.nextID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	q.recent.Write(ev)
	q.mu.Unlock()

	q.fanOut(ev)
}

func (q *EventQueue) fanOut(ev Event) {
	q.subMu.RLock()
	defer q.subMu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; it can catch up with Since.
		}
	}
}

// Since returns buffered events with an ID greater than after.
func (q *EventQueue) Since(after uint64) []Event {
	return q.recent.ReadAfter(after)
}

// LastID returns the ID of the most recent event.
func (q *EventQueue) LastID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextID
}

// Subscribe returns a channel receiving every subsequent event.
func (q *EventQueue) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	q.subMu.Lock()
	q.subscribers[id] = ch
	q.subMu.Unlock()
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (q *EventQueue) Unsubscribe(id string) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	if ch, ok := q.subscribers[id]; ok {
		close(ch)
		delete(q.subscribers, id)
	}
}
