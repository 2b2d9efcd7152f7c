package authclient

import (
	"sync"
	"time"
)

// Session event reasons published on the broadcaster.
const (
	ReasonRefreshTokenMissing = "refresh_token_missing"
	ReasonRefreshFailed       = "refresh_failed"
	ReasonTimeoutExpired      = "timeout_expired"
)

// SessionEvent announces a forced session expiry so any part of the
// process can react without coupling to the HTTP client.
type SessionEvent struct {
	Reason string
	At     time.Time
}

// Broadcaster fans session events out to subscribers. Publishing never
// blocks; a subscriber that stops draining its channel loses events.
type Broadcaster struct {
	mutex       sync.Mutex
	subscribers map[int]chan SessionEvent
	nextID      int
	clock       Clock
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(clock Clock) *Broadcaster {
	if clock == nil {
		clock = systemClock{}
	}
	return &Broadcaster{
		subscribers: make(map[int]chan SessionEvent),
		clock:       clock,
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function that closes the channel.
func (broadcaster *Broadcaster) Subscribe() (<-chan SessionEvent, func()) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	id := broadcaster.nextID
	broadcaster.nextID++
	channel := make(chan SessionEvent, 8)
	broadcaster.subscribers[id] = channel
	return channel, func() {
		broadcaster.mutex.Lock()
		defer broadcaster.mutex.Unlock()
		if existing, ok := broadcaster.subscribers[id]; ok {
			delete(broadcaster.subscribers, id)
			close(existing)
		}
	}
}

// Publish delivers the event to every subscriber without blocking.
func (broadcaster *Broadcaster) Publish(reason string) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	event := SessionEvent{Reason: reason, At: broadcaster.clock.Now()}
	for _, channel := range broadcaster.subscribers {
		select {
		case channel <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (broadcaster *Broadcaster) SubscriberCount() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	return len(broadcaster.subscribers)
}
