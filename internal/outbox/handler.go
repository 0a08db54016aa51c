package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrHandlerAlreadyRegistered = errors.New("outbox handler already registered")
	ErrEventTypeRequired        = errors.New("outbox event type is required")
	ErrHandlerRequired          = errors.New("outbox handler is required")
)

// Ack tells the publisher what a successful handler call did.
type Ack int

const (
	AckApplied Ack = iota
	AckDeduped
	AckStale
)

func (a Ack) String() string {
	switch a {
	case AckDeduped:
		return "deduped"
	case AckStale:
		return "stale"
	default:
		return "applied"
	}
}

// Delivery is what a handler receives for one claimed event.
type Delivery struct {
	EventID        uuid.UUID
	EventType      string
	OrganizationID uuid.UUID
	AggregateType  string
	AggregateID    string
	Payload        []byte
	CorrelationID  string
	OccurredAt     time.Time
	Attempt        int
}

// Handler applies one delivery synchronously. A nil error acknowledges the
// event. Errors are retried unless wrapped with Permanent.
type Handler interface {
	Handle(ctx context.Context, d Delivery) (Ack, error)
}

type HandlerFunc func(ctx context.Context, d Delivery) (Ack, error)

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) (Ack, error) {
	return f(ctx, d)
}

// PermanentError marks a handler failure that no retry can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Registry is the static eventType to handler mapping.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(eventType string, h Handler) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if h == nil {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// FanOut delivers to every handler in order. Every handler runs even after a
// failure; the event is retried if any handler failed transiently and is
// dead-lettered only when every failure was permanent.
func FanOut(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, d Delivery) (Ack, error) {
		var (
			errs      []error
			transient bool
			applied   bool
			allStale  = true
		)
		for _, h := range handlers {
			ack, err := h.Handle(ctx, d)
			if err != nil {
				errs = append(errs, err)
				if !IsPermanent(err) {
					transient = true
				}
				continue
			}
			if ack == AckApplied {
				applied = true
			}
			if ack != AckStale {
				allStale = false
			}
		}
		if len(errs) > 0 {
			joined := errors.Join(errs...)
			if transient {
				// Flatten so a permanent member does not make the whole event permanent.
				return AckApplied, fmt.Errorf("%d of %d handlers failed: %s", len(errs), len(handlers), joined)
			}
			return AckApplied, Permanent(joined)
		}
		switch {
		case applied:
			return AckApplied, nil
		case allStale && len(handlers) > 0:
			return AckStale, nil
		default:
			return AckDeduped, nil
		}
	})
}
