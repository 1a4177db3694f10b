// Package progress fans scan progress events out to subscribers. Delivery is
// synchronous and ordered; nothing is buffered, so a late subscriber simply
// misses what was published before it attached.
package progress

import (
	"sync"

	"github.com/storstekarn/VibeCheck/internal/model"
)

// SubscriberFunc receives one progress event.
type SubscriberFunc func(model.ProgressEvent)

// Bus is a per-scan multi-subscriber channel.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]SubscriberFunc
	order  []int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]SubscriberFunc{}}
}

// Subscribe attaches fn and returns an idempotent detach function.
func (b *Bus) Subscribe(fn SubscriberFunc) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			for i, o := range b.order {
				if o == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber in subscription order. A
// subscriber removed mid-publish observes no further events; membership is
// re-checked before each delivery so callbacks run without the lock held.
func (b *Bus) Publish(ev model.ProgressEvent) {
	b.mu.Lock()
	ids := make([]int, len(b.order))
	copy(ids, b.order)
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		fn, alive := b.subs[id]
		b.mu.Unlock()
		if alive {
			fn(ev)
		}
	}
}

// Len reports the current subscriber count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
