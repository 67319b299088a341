package broadcast

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable reports that the signaling transport cannot be used.
	// Local caches keep working; only cross-instance visibility degrades.
	ErrUnavailable = errors.New("broadcast: channel unavailable")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("broadcast: channel closed")
)

// Handler receives mutation events published by other instances.
type Handler func(ctx context.Context, event MutationEvent)

// Channel is a best-effort, unordered broadcast of mutation events between
// cache instances that share no memory.
type Channel interface {
	// Origin identifies this end of the channel. Published events are stamped
	// with it when they carry no origin of their own.
	Origin() string
	Publish(ctx context.Context, event MutationEvent) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (func(), error)
	Close() error
}

// Noop is a Channel that drops everything. It stands in when no transport is configured.
type Noop struct {
	ID string
}

// Origin returns the configured id.
func (n Noop) Origin() string { return n.ID }

// Publish discards the event.
func (Noop) Publish(context.Context, MutationEvent) error { return nil }

// Subscribe accepts h and never calls it.
func (Noop) Subscribe(Handler) (func(), error) { return func() {}, nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

// dispatcher fans decoded events out to handlers, dropping events from its own origin.
type dispatcher struct {
	origin     string
	ignoreSelf bool
	logger     *zap.Logger

	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
}

func newDispatcher(origin string, ignoreSelf bool, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		origin:     origin,
		ignoreSelf: ignoreSelf,
		logger:     logger,
		handlers:   make(map[uint64]Handler),
	}
}

func (d *dispatcher) add(h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[id] = h
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) dispatch(ctx context.Context, event MutationEvent) {
	if d.ignoreSelf && event.Origin != "" && event.Origin == d.origin {
		return
	}

	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		d.call(ctx, h, event)
	}
}

func (d *dispatcher) call(ctx context.Context, h Handler, event MutationEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("broadcast handler panicked",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}
