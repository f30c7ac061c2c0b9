package events

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/rs/zerolog"
)

// Handler consumes one event delivery. A nil return acknowledges the event;
// an error triggers the bus's retry runtime unless classified permanent.
type Handler func(ctx context.Context, e cloudevents.Event) error

// Publisher is the narrow producer-side interface components depend on.
type Publisher interface {
	Publish(ctx context.Context, e cloudevents.Event) error
}

// Bus is an in-process event dispatcher. Each delivery runs in its own
// goroutine with a bounded per-attempt timeout, and failed deliveries are
// retried up to maxRetries. Errors matched by the permanent predicate stop
// delivery immediately without consuming retry budget.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	maxRetries     int
	attemptTimeout time.Duration
	retryDelay     time.Duration
	permanent      func(error) bool
	log            zerolog.Logger

	wg sync.WaitGroup
}

// NewBus creates a bus. permanent classifies errors that must never be
// retried; nil means everything is retriable.
func NewBus(maxRetries int, attemptTimeout time.Duration, permanent func(error) bool, log zerolog.Logger) *Bus {
	if attemptTimeout <= 0 {
		attemptTimeout = time.Minute
	}
	if permanent == nil {
		permanent = func(error) bool { return false }
	}
	return &Bus{
		handlers:       make(map[string][]Handler),
		maxRetries:     maxRetries,
		attemptTimeout: attemptTimeout,
		retryDelay:     2 * time.Second,
		permanent:      permanent,
		log:            log,
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches the event to all subscribed handlers asynchronously.
func (b *Bus) Publish(_ context.Context, e cloudevents.Event) error {
	b.mu.RLock()
	handlers := b.handlers[e.Type()]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go b.deliver(e.Clone(), h)
	}
	return nil
}

// Wait blocks until all in-flight deliveries have finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) deliver(e cloudevents.Event, h Handler) {
	defer b.wg.Done()

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		e.SetExtension(attemptExtension, int32(attempt))

		ctx, cancel := context.WithTimeout(context.Background(), b.attemptTimeout)
		err := h(ctx, e)
		cancel()

		if err == nil {
			return
		}
		if b.permanent(err) {
			b.log.Warn().Err(err).Str("event_type", e.Type()).Str("event_id", e.ID()).
				Msg("event delivery failed permanently, not retrying")
			return
		}
		if attempt == b.maxRetries {
			b.log.Error().Err(err).Str("event_type", e.Type()).Str("event_id", e.ID()).
				Int("attempts", attempt+1).Msg("event delivery failed, retry budget exhausted")
			return
		}

		b.log.Warn().Err(err).Str("event_type", e.Type()).Str("event_id", e.ID()).
			Int("attempt", attempt+1).Msg("event delivery failed, retrying")
		time.Sleep(b.retryDelay)
	}
}
