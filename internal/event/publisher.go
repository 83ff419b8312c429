package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "bastion/pkg/domain"
	"bastion/pkg/requestcontext"
)

// Subscriber receives events in append order, off the request path.
type Subscriber interface {
	OnEvent(e Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(e Event)

func (f SubscriberFunc) OnEvent(e Event) { f(e) }

// Publisher is the bus front door. Guards call Emit; the append and the
// subscriber fan-out happen on a background goroutine so the hot path pays
// only for a channel send. When the buffer is full the event is dropped and
// logged rather than blocking a request.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool

	mu   sync.RWMutex
	subs []Subscriber

	newEventID func() id.EventID
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithEventIDFunc overrides event ID generation. Tests inject deterministic IDs.
func WithEventIDFunc(fn func() id.EventID) PublisherOption {
	return func(p *Publisher) {
		p.newEventID = fn
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:      store,
		newEventID: id.NewEventID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

// Subscribe registers a consumer for future events. Subscribers run on the
// publisher goroutine, so they must hand heavy work off themselves.
func (p *Publisher) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, s)
}

// Emit stamps, stores, and fans out an event. The timestamp comes from the
// request-scoped clock so tests control ordering; the ID generator is
// injectable for the same reason.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if e.ID.IsNil() {
		e.ID = p.newEventID()
	}

	if p.async {
		select {
		case p.events <- e:
			return nil
		default:
			if p.logger != nil {
				p.logger.Warn("event buffer full, event dropped",
					"type", e.Type,
					"severity", e.Severity,
				)
			}
			return nil
		}
	}

	return p.deliver(ctx, e)
}

// Query exposes the store to read-side consumers.
func (p *Publisher) Query(ctx context.Context, f Filter) ([]Event, error) {
	return p.store.Query(ctx, f)
}

// Prune drops events older than the cutoff from the underlying store.
func (p *Publisher) Prune(ctx context.Context, before time.Time) (int, error) {
	return p.store.Prune(ctx, before)
}

// Close shuts down the async publisher and waits for pending events to drain.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

// processEvents runs in a goroutine and persists events from the channel.
func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for e := range p.events {
		if err := p.deliver(context.Background(), e); err != nil && p.logger != nil {
			p.logger.Error("failed to persist security event",
				"error", err,
				"type", e.Type,
			)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, e Event) error {
	if err := p.store.Append(ctx, e); err != nil {
		return err
	}
	p.mu.RLock()
	subs := p.subs
	p.mu.RUnlock()
	for _, s := range subs {
		s.OnEvent(e)
	}
	return nil
}
