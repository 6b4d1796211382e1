// Package audit streams optimizer evolution entries to live subscribers
// and archives them to the store.
package audit

import (
	"sync"

	"github.com/revittco/sare/internal/optimizer"
)

// Bus fans out evolution entries to SSE subscribers in real time.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan optimizer.Entry]chan optimizer.Entry
}

// NewBus creates a new evolution event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[<-chan optimizer.Entry]chan optimizer.Entry),
	}
}

// Subscribe registers a new listener and returns a receive-only channel.
// The caller must call Unsubscribe when done.
func (b *Bus) Subscribe() <-chan optimizer.Entry {
	ch := make(chan optimizer.Entry, 64)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan optimizer.Entry) {
	b.mu.Lock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
	b.mu.Unlock()
}

// Subscribers reports the number of active listeners.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends an entry to all subscribers without blocking.
// Slow consumers that can't keep up will miss events.
func (b *Bus) Publish(e optimizer.Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
