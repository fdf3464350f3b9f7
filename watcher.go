package boxstore

import (
	"sync"

	"boxstore/codec"
)

type EventKind int8

const (
	// EventPut a key was written
	EventPut EventKind = iota + 1

	// EventDelete a key was removed
	EventDelete
)

// Event describes one box mutation. Value is the newly written value for
// puts and nil for deletes.
type Event struct {
	Kind  EventKind
	Key   Key
	Value codec.Value
}

// Subscription is the cancellation token returned by Listen.
type Subscription struct {
	watcher *watcher
	id      uint64
}

// Cancel removes the subscription. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	s.watcher.remove(s.id)
}

type handlerEntry struct {
	handler func(Event)
	filter  map[string]struct{} // encoded keys, nil means all keys
}

// watcher delivers mutation events to subscribers. Delivery is synchronous
// and in-process: handlers run after the index update and before the
// mutating call returns. The watcher has its own mutex so Cancel never
// contends with the box lock.
type watcher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*handlerEntry
}

func newWatcher() *watcher {
	return &watcher{subs: make(map[uint64]*handlerEntry)}
}

func (w *watcher) subscribe(handler func(Event), keys []Key) *Subscription {
	var filter map[string]struct{}
	if len(keys) > 0 {
		filter = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			filter[string(k.encode())] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.subs[id] = &handlerEntry{handler: handler, filter: filter}
	return &Subscription{watcher: w, id: id}
}

func (w *watcher) remove(id uint64) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

func (w *watcher) clear() {
	w.mu.Lock()
	w.subs = make(map[uint64]*handlerEntry)
	w.mu.Unlock()
}

func (w *watcher) publish(ev Event, encKey string) {
	w.mu.Lock()
	handlers := make([]func(Event), 0, len(w.subs))
	for _, sub := range w.subs {
		if sub.filter != nil {
			if _, ok := sub.filter[encKey]; !ok {
				continue
			}
		}
		handlers = append(handlers, sub.handler)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
