package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrBusStarted = errors.New("event bus already started")
	ErrBusClosed  = errors.New("event bus closed")
)

// Handler processes one event. Errors are logged by the bus.
type Handler func(ctx context.Context, ev Event) error

// Bus delivers events to local subscribers from a single dispatch loop.
// Subscriptions are fixed once the bus starts.
type Bus struct {
	log zerolog.Logger

	mu      sync.RWMutex
	subs    map[Kind][]Handler
	started bool
	closed  bool
	queue   chan Event
	done    chan struct{}
}

// DefaultBuffer is the queue size used when NewBus gets buffer <= 0.
const DefaultBuffer = 256

func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		log:   log.With().Str("component", "bus").Logger(),
		subs:  make(map[Kind][]Handler),
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
}

// Subscribe adds a handler for kind. It fails once the bus has started.
func (b *Bus) Subscribe(kind Kind, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrBusStarted
	}
	b.subs[kind] = append(b.subs[kind], h)
	return nil
}

// Start runs the dispatch loop until Close. ctx is passed to handlers.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrBusStarted
	}
	b.started = true
	subs := b.subs
	b.mu.Unlock()

	// subs is never written after start, so the loop reads it without locking.
	go func() {
		defer close(b.done)
		for ev := range b.queue {
			b.dispatch(ctx, ev, subs[ev.Kind()])
		}
	}()
	b.log.Info().Msg("event bus started")
	return nil
}

// Publish queues ev for dispatch. It blocks while the queue is full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch runs every subscriber of ev's kind in registration order.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.subs[ev.Kind()]
	b.mu.RUnlock()
	b.dispatch(ctx, ev, handlers)
}

func (b *Bus) dispatch(ctx context.Context, ev Event, handlers []Handler) {
	if len(handlers) == 0 {
		b.log.Debug().Str("kind", string(ev.Kind())).Msg("no subscribers")
		return
	}
	for _, h := range handlers {
		if err := b.call(ctx, h, ev); err != nil {
			b.log.Error().Err(err).Str("kind", string(ev.Kind())).Msg("event handler failed")
		}
	}
}

func (b *Bus) call(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// Close stops accepting events and waits for queued ones to be dispatched.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()
	if started {
		<-b.done
	}
}
