// Package events provides an in-process publish/subscribe bus used to decouple
// the queue, the download engine and any observers.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/logger"
)

type Topic string

const (
	TopicItemAdded         Topic = "item.added"
	TopicItemRemoved       Topic = "item.removed"
	TopicItemStateChanged  Topic = "item.state_changed"
	TopicQueueCleared      Topic = "queue.cleared"
	TopicDownloadStarted   Topic = "download.started"
	TopicDownloadProgress  Topic = "download.progress"
	TopicDownloadCompleted Topic = "download.completed"
	TopicDownloadFailed    Topic = "download.failed"
	TopicDownloadCancelled Topic = "download.cancelled"
	TopicTrackCompleted    Topic = "track.completed"
	TopicTrackFailed       Topic = "track.failed"
)

// Event is the payload delivered to handlers. Only the fields relevant to
// the topic are populated.
type Event struct {
	At        time.Time
	Topic     Topic
	ItemID    string
	TrackID   string
	State     domain.DownloadState
	Message   string
	States    []domain.DownloadState
	ItemIDs   []string
	Progress  float64
	Completed int
	Failed    int
}

type Handler func(Event)

type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus delivers events synchronously on the publisher's goroutine.
type Bus struct {
	handlers map[Topic][]subscription
	logger   *logger.Logger
	nextID   SubscriptionID
	mu       sync.Mutex
}

func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	return &Bus{
		handlers: make(map[Topic][]subscription),
		logger:   log.WithComponent("events"),
	}
}

func (b *Bus) Subscribe(topic Topic, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Unsubscribe removes a handler. It reports whether the subscription existed.
func (b *Bus) Unsubscribe(topic Topic, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy so that in-flight Publish calls keep their own slice
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, topic)
		} else {
			b.handlers[topic] = next
		}
		return true
	}
	return false
}

// Publish invokes every handler of ev.Topic outside the bus lock, so handlers
// may subscribe or publish themselves.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	subs := make([]subscription, len(b.handlers[ev.Topic]))
	copy(subs, b.handlers[ev.Topic])
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"topic", ev.Topic,
				"subscription", s.id,
				"item_id", ev.ItemID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.handler(ev)
}

// Clear drops the handlers of the given topics, or of every topic when none are given.
func (b *Bus) Clear(topics ...Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(topics) == 0 {
		b.handlers = make(map[Topic][]subscription)
		return
	}
	for _, t := range topics {
		delete(b.handlers, t)
	}
}

// HandlerCount is mostly useful in tests.
func (b *Bus) HandlerCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}
