// Package notify is an in-process bus for dataset load events.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies what happened to the dataset.
type EventType int

const (
	SnapshotLoaded EventType = iota
	LoadFailed
)

func (t EventType) String() string {
	switch t {
	case SnapshotLoaded:
		return "snapshot_loaded"
	case LoadFailed:
		return "load_failed"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event describes one load attempt.
type Event struct {
	Type      EventType
	Source    string
	Version   uint64
	Rows      int
	Err       error
	Timestamp time.Time
}

// Subscription receives events whose Source starts with one of Prefixes.
// No prefixes means every event.
type Subscription struct {
	ID       string
	Prefixes []string
	Ch       chan Event
}

func (s *Subscription) matches(source string) bool {
	if len(s.Prefixes) == 0 {
		return true
	}
	for _, p := range s.Prefixes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

// Notifier fans events out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
	nextID      atomic.Uint64
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// events.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish delivers ev to every matching subscriber. A full subscriber
// channel drops the event; Publish never blocks.
func (n *Notifier) Publish(ev Event) {
	if n == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscription)
		if sub.matches(ev.Source) {
			select {
			case sub.Ch <- ev:
			default:
			}
		}
		return true
	})
}

// Subscribe registers a subscriber.
func (n *Notifier) Subscribe(prefixes ...string) *Subscription {
	sub := &Subscription{
		ID:       fmt.Sprintf("sub_%d", n.nextID.Add(1)),
		Prefixes: prefixes,
		Ch:       make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscription).Ch)
	}
}
