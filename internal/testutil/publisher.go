package testutil

import (
	"context"
	"sync"

	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
)

// Published is one event captured by Publisher together with the
// correlation id that was in effect when it was published.
type Published struct {
	Event         queue.Event
	CorrelationID string
}

// Publisher records published events instead of sending them to a broker.
type Publisher struct {
	mu     sync.Mutex
	events []Published

	// Err, when set, is returned by Publish and nothing is recorded.
	Err error
}

func (p *Publisher) Publish(ctx context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, Published{Event: ev, CorrelationID: logging.CorrelationID(ctx)})
	return nil
}

// Events returns a snapshot of what was published, in order.
func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.events))
	copy(out, p.events)
	return out
}

// OfKind returns the published events of one kind.
func (p *Publisher) OfKind(kind queue.Kind) []queue.Event {
	var out []queue.Event
	for _, e := range p.Events() {
		if e.Event.Kind() == kind {
			out = append(out, e.Event)
		}
	}
	return out
}
