package audit

import (
	"sync"

	"github.com/revittco/toolgate/internal/store"
)

const subscriberBuffer = 64

// Bus fans out execution records to live subscribers (the SSE stream).
// Delivery is best-effort: a subscriber whose buffer is full misses the
// event rather than stalling the execution path.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan *store.ExecutionRecord
	ids    map[<-chan *store.ExecutionRecord]int
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan *store.ExecutionRecord),
		ids:  make(map[<-chan *store.ExecutionRecord]int),
	}
}

// Subscribe registers a listener. The caller must Unsubscribe when done.
func (b *Bus) Subscribe() <-chan *store.ExecutionRecord {
	ch := make(chan *store.ExecutionRecord, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = ch
	b.ids[ch] = b.nextID
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan *store.ExecutionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.ids[ch]
	if !ok {
		return
	}
	close(b.subs[id])
	delete(b.subs, id)
	delete(b.ids, ch)
}

// Publish delivers rec to every subscriber that has buffer room.
func (b *Bus) Publish(rec *store.ExecutionRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}
