package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/taskd/pkg/domain"
)

// Handler processes one event. A returned error is logged by the bus and
// does not stop dispatch to subsequent handlers within the same emit.
type Handler func(ctx context.Context, evt Event) error

// Options configures a Bus's backpressure and timeout limits.
type Options struct {
	// MaxListenersPerEvent bounds subscribers for any single event Type.
	MaxListenersPerEvent int
	// MaxTotalSubscriptions bounds subscribers across all types and the
	// global (subscribeAll) set combined.
	MaxTotalSubscriptions int
	// RequestTimeout is the default timeout for Request when the caller's
	// context carries none shorter.
	RequestTimeout time.Duration
}

// DefaultOptions mirrors the kernel's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxListenersPerEvent:  100,
		MaxTotalSubscriptions: 1000,
		RequestTimeout:        5 * time.Second,
	}
}

type subscription struct {
	id      string
	typ     Type // empty for subscribeAll
	handler Handler
}

// Bus is a single-process publish/subscribe dispatcher with correlated
// request/response. Dispatch for a single Emit is serialized on the
// caller's goroutine, in subscription order; Emit calls from different
// goroutines may interleave and handlers must not assume otherwise.
type Bus struct {
	opts Options

	mu          sync.Mutex
	byType      map[Type][]*subscription
	global      []*subscription
	subsByID    map[string]*subscription
	totalCount  int
	disposed    bool

	pendingMu sync.Mutex
	pending   map[string]chan Event
}

// New constructs a Bus with the given options.
func New(opts Options) *Bus {
	if opts.MaxListenersPerEvent <= 0 {
		opts.MaxListenersPerEvent = DefaultOptions().MaxListenersPerEvent
	}
	if opts.MaxTotalSubscriptions <= 0 {
		opts.MaxTotalSubscriptions = DefaultOptions().MaxTotalSubscriptions
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	return &Bus{
		opts:     opts,
		byType:   make(map[Type][]*subscription),
		subsByID: make(map[string]*subscription),
		pending:  make(map[string]chan Event),
	}
}

// Subscribe registers handler for a single event Type and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(typ Type, handler Handler) (string, error) {
	return b.subscribe(typ, handler)
}

// SubscribeAll registers handler for every event Type emitted on the bus.
func (b *Bus) SubscribeAll(handler Handler) (string, error) {
	return b.subscribe("", handler)
}

func (b *Bus) subscribe(typ Type, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return "", domain.NewError(domain.ErrCodeShutdown, "event bus is disposed")
	}
	if b.totalCount >= b.opts.MaxTotalSubscriptions {
		return "", domain.NewError(domain.ErrCodeSubscriptionLimitExceeded, "total subscription limit exceeded")
	}
	if typ != "" && len(b.byType[typ]) >= b.opts.MaxListenersPerEvent {
		return "", domain.NewError(domain.ErrCodeSubscriptionLimitExceeded,
			fmt.Sprintf("subscriber limit exceeded for event type %s", typ))
	}

	sub := &subscription{id: uuid.NewString(), typ: typ, handler: handler}
	if typ == "" {
		b.global = append(b.global, sub)
	} else {
		b.byType[typ] = append(b.byType[typ], sub)
	}
	b.subsByID[sub.id] = sub
	b.totalCount++
	return sub.id, nil
}

// Unsubscribe removes a subscription by id. Unsubscribing an unknown id is
// a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subsByID[id]
	if !ok {
		return
	}
	delete(b.subsByID, id)
	b.totalCount--

	if sub.typ == "" {
		b.global = removeSub(b.global, id)
		return
	}
	b.byType[sub.typ] = removeSub(b.byType[sub.typ], id)
	if len(b.byType[sub.typ]) == 0 {
		delete(b.byType, sub.typ)
	}
}

func removeSub(subs []*subscription, id string) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// EmitError aggregates every handler failure from a single Emit. An Emit
// is never partially undone: all matching handlers run regardless of
// earlier failures.
type EmitError struct {
	Type     Type
	Failures []error
}

func (e *EmitError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d handler(s) failed for %s: %s", len(e.Failures), e.Type, strings.Join(msgs, "; "))
}

// Unwrap exposes the first failure so errors.Is/domain.CodeOf can see
// through an EmitError in the common case of a single failing handler.
func (e *EmitError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0]
}

// Emit dispatches payload to every handler subscribed to typ plus every
// subscribeAll handler, in subscription order, on the calling goroutine.
// It returns an aggregate *EmitError if any handler errored; all handlers
// still run.
func (b *Bus) Emit(ctx context.Context, typ Type, payload any) error {
	return b.dispatch(ctx, Event{Type: typ, Payload: payload})
}

func (b *Bus) dispatch(ctx context.Context, evt Event) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return domain.NewError(domain.ErrCodeShutdown, "event bus is disposed")
	}
	handlers := make([]*subscription, 0, len(b.byType[evt.Type])+len(b.global))
	handlers = append(handlers, b.byType[evt.Type]...)
	handlers = append(handlers, b.global...)
	b.mu.Unlock()

	var failures []error
	for _, sub := range handlers {
		if err := sub.handler(ctx, evt); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return &EmitError{Type: evt.Type, Failures: failures}
	}

	if evt.CorrelationID != "" {
		b.deliverResponse(evt)
	}
	return nil
}

// Request emits a command event carrying a fresh correlation id, then
// waits for a single matching response delivered via Respond. It rejects
// with REQUEST_TIMEOUT if no response arrives within opts.RequestTimeout
// (or the context's deadline, whichever is sooner), removing the
// outstanding subscriber so a late response is dropped.
func (b *Bus) Request(ctx context.Context, typ Type, payload any) (Event, error) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return Event{}, domain.NewError(domain.ErrCodeShutdown, "event bus is disposed")
	}
	b.mu.Unlock()

	correlationID := uuid.NewString()
	respCh := make(chan Event, 1)

	b.pendingMu.Lock()
	b.pending[correlationID] = respCh
	b.pendingMu.Unlock()

	cleanup := func() {
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	if err := b.dispatch(ctx, Event{Type: typ, Payload: payload, CorrelationID: correlationID}); err != nil {
		cleanup()
		return Event{}, err
	}

	select {
	case resp := <-respCh:
		cleanup()
		return resp, nil
	case <-timeoutCtx.Done():
		cleanup()
		return Event{}, domain.NewError(domain.ErrCodeRequestTimeout, fmt.Sprintf("request %s timed out", typ))
	}
}

// Respond delivers a correlated response to the waiting Request caller.
// A response whose correlation id has no waiter (already timed out) is
// silently dropped.
func (b *Bus) Respond(correlationID string, typ Type, payload any) {
	b.deliverResponse(Event{Type: typ, Payload: payload, CorrelationID: correlationID})
}

func (b *Bus) deliverResponse(evt Event) {
	b.pendingMu.Lock()
	ch, ok := b.pending[evt.CorrelationID]
	if ok {
		delete(b.pending, evt.CorrelationID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- evt:
	default:
	}
}

// Dispose unregisters every subscription and rejects any pending Request
// with SHUTDOWN. The bus cannot be reused after Dispose.
func (b *Bus) Dispose() {
	b.mu.Lock()
	b.disposed = true
	b.byType = make(map[Type][]*subscription)
	b.global = nil
	b.subsByID = make(map[string]*subscription)
	b.totalCount = 0
	b.mu.Unlock()

	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan Event)
	b.pendingMu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- Event{Type: "", Payload: domain.NewError(domain.ErrCodeShutdown, "event bus disposed")}:
		default:
		}
	}
}
