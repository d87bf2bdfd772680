package eventbus

import "sort"

// Handler receives a dispatch. It returns true to stop propagation to the
// remaining subscribers for this dispatch.
type Handler func(e any) bool

type subscriber struct {
	priority int
	seq      int
	handler  Handler
}

// Bus is a synchronous, priority-ordered publish/subscribe registry. It is
// not safe for concurrent use — it is driven only from the main loop and
// from signal handlers' deferred publish calls, never concurrently.
type Bus struct {
	subs map[Name][]subscriber
	seq  int
}

func New() *Bus {
	return &Bus{subs: make(map[Name][]subscriber)}
}

// Subscribe registers handler for name at priority (higher runs first).
// Registration after Init has been published is allowed; insertion order
// among equal priorities is preserved (stable by registration sequence).
func (b *Bus) Subscribe(name Name, priority int, handler Handler) {
	b.seq++
	b.subs[name] = append(b.subs[name], subscriber{priority: priority, seq: b.seq, handler: handler})
	sort.SliceStable(b.subs[name], func(i, j int) bool {
		return b.subs[name][i].priority > b.subs[name][j].priority
	})
}

// Unsubscribe removes every subscriber previously registered for name,
// whatever its handler or priority.
func (b *Bus) Unsubscribe(name Name) {
	delete(b.subs, name)
}

// Publish dispatches e to every subscriber of name in priority order. It
// returns true if some subscriber stopped propagation. The bus itself holds
// no state across calls: a subscriber's "stop propagation" decision only
// affects the current Publish.
func (b *Bus) Publish(name Name, e any) (stopped bool) {
	for _, s := range b.subs[name] {
		if s.handler(e) {
			stopped = true
			break
		}
	}
	return stopped
}

// Count returns the number of subscribers registered for name, for tests
// and statistics.
func (b *Bus) Count(name Name) int { return len(b.subs[name]) }
