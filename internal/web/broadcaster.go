package web

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"surveyor/internal/state"
)

// StateMessage is one vehicle state snapshot as pushed to live clients.
type StateMessage struct {
	Version    uint64       `json:"version"`
	UpdatedUTC string       `json:"updated_utc,omitempty"`
	Fields     state.Fields `json:"fields"`
}

// StateBroadcaster fans out state snapshots to any listeners (websocket
// clients). It keeps the most recent value so new subscribers get an
// immediate sample. Slow subscribers miss samples rather than block.
type StateBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan StateMessage
	nextID   int
	last     StateMessage
	haveLast bool
}

func NewStateBroadcaster() *StateBroadcaster {
	return &StateBroadcaster{subs: make(map[int]chan StateMessage)}
}

func (b *StateBroadcaster) Subscribe(buffer int) (int, <-chan StateMessage) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan StateMessage, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *StateBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *StateBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *StateBroadcaster) Publish(msg StateMessage) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = msg
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

// PumpState publishes a snapshot every time the store changes, at most
// maxHz times per second. It returns when ctx is done.
func PumpState(ctx context.Context, store *state.Store, b *StateBroadcaster, maxHz float64) {
	if maxHz <= 0 {
		maxHz = 5
	}
	lim := rate.NewLimiter(rate.Limit(maxHz), 1)
	for {
		changed := store.Changed()
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}
		msg := StateMessage{Version: store.Version(), Fields: store.Snapshot()}
		if t := store.LastUpdate(); !t.IsZero() {
			msg.UpdatedUTC = t.UTC().Format(time.RFC3339Nano)
		}
		b.Publish(msg)
	}
}
