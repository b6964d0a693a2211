package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"escrowauction/core/types"
)

const (
	streamHistoryLimit = 2048
	subscriberBuffer   = 64
)

// Buffer collects events emitted while a command runs. The host publishes
// them only after the command's state has been committed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}

// Record is a published event with its position in the stream.
type Record struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

func cloneRecord(r Record) Record {
	r.Event = r.Event.Clone()
	return r
}

// Hub fans committed events out to stream subscribers and keeps a bounded
// history so reconnecting clients can resume from a cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Record
	history []Record
	nowFn   func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Record), nowFn: time.Now}
}

// Emit publishes a single event. Hub therefore also satisfies Emitter.
func (h *Hub) Emit(evt Event) {
	h.Publish(evt)
}

// Publish appends the events to the stream in order.
func (h *Hub) Publish(evts ...Event) {
	if h == nil {
		return
	}
	for _, evt := range evts {
		payload := Payload(evt)
		if payload == nil {
			continue
		}
		h.mu.Lock()
		h.seq++
		rec := Record{
			Sequence:  h.seq,
			Cursor:    strconv.FormatUint(h.seq, 10),
			Timestamp: h.nowFn().Unix(),
			Event:     payload,
		}
		h.history = append(h.history, cloneRecord(rec))
		if len(h.history) > streamHistoryLimit {
			excess := len(h.history) - streamHistoryLimit
			trimmed := make([]Record, streamHistoryLimit)
			copy(trimmed, h.history[excess:])
			h.history = trimmed
		}
		// sends are non-blocking; holding the lock keeps cancel from closing
		// a channel mid-send. A subscriber whose buffer is full is closed so
		// it can resubscribe from its last cursor without a silent gap.
		for id, ch := range h.subs {
			select {
			case ch <- cloneRecord(rec):
			default:
				delete(h.subs, id)
				close(ch)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe registers a subscriber for records published after cursor. The
// backlog holds retained records newer than cursor. A subscriber that falls
// behind by more than its buffer has its channel closed; every record it
// received is contiguous, so resubscribing with the last cursor loses nothing
// still retained.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Record, func(), []Record) {
	updates := make(chan Record, subscriberBuffer)
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	history := make([]Record, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]Record, 0, len(history))
	for _, rec := range history {
		if rec.Sequence > since {
			backlog = append(backlog, cloneRecord(rec))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Sequence returns the sequence number of the last published record.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
