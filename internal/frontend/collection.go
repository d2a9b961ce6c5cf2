package frontend

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// snapshot is an immutable view of the registry plus its derived selector.
// Readers hold a snapshot pointer; writers build a new one and swap.
type snapshot struct {
	frontends []*Frontend
	selector  *Selector
}

// Collection is the live frontend registry. Mutations (add, remove, reload)
// serialize on a writer lock and publish a fresh immutable snapshot; readers
// never block and never observe a partially-updated list. Every mutation
// also emits change events onto an unbounded queue for the invalidation
// listener, so event delivery never blocks the publisher either.
type Collection struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	queue   *eventQueue
}

// NewCollection builds an empty registry.
func NewCollection() *Collection {
	c := &Collection{queue: newEventQueue()}
	c.current.Store(&snapshot{selector: buildSelector(nil)})
	return c
}

// Frontends returns the current snapshot's frontend list. Callers must not
// mutate it.
func (c *Collection) Frontends() []*Frontend {
	return c.current.Load().frontends
}

// Select resolves (host, path) against the current snapshot.
func (c *Collection) Select(host, path string) *Frontend {
	return c.current.Load().selector.Select(host, path)
}

// Add registers a frontend and emits an added event.
func (c *Collection) Add(f *Frontend) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load().frontends
	next := make([]*Frontend, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, f)
	c.publish(next)
	c.queue.push(ChangeEvent{Kind: FrontendAdded, Frontend: f})
}

// Remove drops the named frontend and emits a removed event. Removing an
// unknown name is a no-op.
func (c *Collection) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load().frontends
	next := make([]*Frontend, 0, len(old))
	var removed *Frontend
	for _, f := range old {
		if f.Name == name && removed == nil {
			removed = f
			continue
		}
		next = append(next, f)
	}
	if removed == nil {
		return
	}
	c.publish(next)
	c.queue.push(ChangeEvent{Kind: FrontendRemoved, Frontend: removed})
}

// Load replaces the whole registry with the given set, diffing old against
// new by name and emitting added/changed/removed events.
func (c *Collection) Load(frontends []*Frontend) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load().frontends
	oldByName := make(map[string]*Frontend, len(old))
	for _, f := range old {
		oldByName[f.Name] = f
	}

	next := make([]*Frontend, 0, len(frontends))
	seen := make(map[string]bool, len(frontends))
	var events []ChangeEvent

	for _, f := range frontends {
		if seen[f.Name] {
			log.WithField("frontend", f.Name).Warn("duplicate frontend name in configuration, dropped")
			continue
		}
		seen[f.Name] = true
		next = append(next, f)

		if existing, ok := oldByName[f.Name]; !ok {
			events = append(events, ChangeEvent{Kind: FrontendAdded, Frontend: f})
		} else if isUpdated(existing, f) {
			events = append(events, ChangeEvent{Kind: FrontendChanged, Frontend: f})
		}
	}
	for _, f := range old {
		if !seen[f.Name] {
			events = append(events, ChangeEvent{Kind: FrontendRemoved, Frontend: f})
		}
	}

	c.publish(next)
	for _, e := range events {
		c.queue.push(e)
	}

	log.WithFields(log.Fields{
		"frontends": len(next),
		"events":    len(events),
	}).Info("frontend registry reloaded")
}

// publish swaps in a new snapshot; callers hold c.mu.
func (c *Collection) publish(frontends []*Frontend) {
	c.current.Store(&snapshot{
		frontends: frontends,
		selector:  buildSelector(frontends),
	})
}

// Events exposes the change queue for listener consumption.
func (c *Collection) Events() *EventQueue {
	return c.queue
}

// Close stops event delivery; blocked consumers drain and return.
func (c *Collection) Close() {
	c.queue.close()
}

// EventQueue is an unbounded FIFO of change events. Pushes never block;
// Pop blocks until an event arrives or the queue closes.
type EventQueue = eventQueue

type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []ChangeEvent
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(e ChangeEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// Pop removes the oldest event, blocking while the queue is open and empty.
// The second return is false once the queue is closed and drained.
func (q *eventQueue) Pop() (ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return ChangeEvent{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
