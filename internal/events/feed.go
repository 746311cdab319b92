package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/conductor-dev/conductor/internal/task"
)

// Log is the durable side of the feed: an append-only per-task record that
// can be replayed from an arbitrary sequence number.
type Log interface {
	AppendEvent(taskID string, e Event) error
	ReadEventsSince(taskID string, since int) ([]Event, error)
}

// subscriberBuffer is the channel buffer size for live subscribers beyond
// whatever replay requires. Slow subscribers drop events rather than block
// the log writer.
const subscriberBuffer = 256

// Feed assigns sequence numbers, persists events through a Log, and fans
// them out to live subscribers. Replay-then-subscribe is atomic with
// respect to appends for the same task.
type Feed struct {
	log    Log
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string][]chan Event
}

// NewFeed creates a feed backed by the given durable log.
func NewFeed(log Log, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		log:         log,
		logger:      logger,
		subscribers: make(map[string][]chan Event),
	}
}

// Append assigns the next sequence number from the task, writes the event
// to the durable log, and pushes it to every live subscriber. The caller
// persists the task (and with it the advanced sequence counter) afterwards.
// Delivery to subscribers is best-effort and never blocks.
//
// The counter advances only once the durable write succeeds: a failed
// append drops the event entirely (zero Event returned) and the next
// append reuses the sequence number, so the log never carries a gap.
func (f *Feed) Append(t *task.Task, e Event) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	e.Seq = t.NextSeq + 1
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	if err := f.log.AppendEvent(t.ID, e); err != nil {
		f.logger.Error("append event", "task", t.ID, "seq", e.Seq, "error", err)
		return Event{}
	}
	t.NextSeq = e.Seq

	for _, ch := range f.subscribers[t.ID] {
		select {
		case ch <- e:
		default:
			// Skip if channel buffer is full (non-blocking)
		}
	}
	return e
}

// Subscribe replays all durable events with sequence greater than since,
// then registers the returned channel for live delivery. A client that
// tracks the last sequence it saw observes no gap and no duplicate.
func (f *Feed) Subscribe(taskID string, since int) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	replay, err := f.log.ReadEventsSince(taskID, since)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, len(replay)+subscriberBuffer)
	for _, e := range replay {
		ch <- e
	}
	f.subscribers[taskID] = append(f.subscribers[taskID], ch)
	return ch, nil
}

// Unsubscribe removes and closes a subscription channel. Idempotent.
func (f *Feed) Unsubscribe(taskID string, ch <-chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			f.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(f.subscribers[taskID]) == 0 {
		delete(f.subscribers, taskID)
	}
}

// SubscriberCount returns the number of live subscribers for a task.
func (f *Feed) SubscriberCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[taskID])
}
