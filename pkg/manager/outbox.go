package manager

import (
	"sync"

	"github.com/tecu23/arena-server/pkg/events"
)

// outbox delivers the events of one session in the order they were staged.
// Events are staged while the session lock is held and delivered after it is
// released, by whichever caller holds sending. A subscriber that calls back
// into the manager for the same session only stages; the running flush picks
// its events up once the current delivery returns.
type outbox struct {
	mu      sync.Mutex
	pending []events.Event

	sending sync.Mutex
}

func (o *outbox) push(e events.Event) {
	o.mu.Lock()
	o.pending = append(o.pending, e)
	o.mu.Unlock()
}

func (o *outbox) pop() (events.Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.pending) == 0 {
		return events.Event{}, false
	}
	e := o.pending[0]
	o.pending[0] = events.Event{}
	o.pending = o.pending[1:]
	return e, true
}

func (o *outbox) empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending) == 0
}

func (o *outbox) flush(p *events.Publisher) {
	for {
		if !o.sending.TryLock() {
			return
		}
		for {
			e, ok := o.pop()
			if !ok {
				break
			}
			p.Publish(e)
		}
		o.sending.Unlock()

		// an event staged between the last pop and Unlock has no flusher yet
		if o.empty() {
			return
		}
	}
}
