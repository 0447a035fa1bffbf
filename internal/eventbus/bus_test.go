package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/taskd/pkg/domain"
)

func TestEmitDispatchesInSubscriptionOrder(t *testing.T) {
	b := New(DefaultOptions())
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		if _, err := b.Subscribe(TaskDelegated, func(ctx context.Context, evt Event) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	if err := b.Emit(context.Background(), TaskDelegated, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	want := []int{0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestEmitAggregatesHandlerFailures(t *testing.T) {
	b := New(DefaultOptions())
	ran := 0

	failing := errors.New("boom")
	if _, err := b.Subscribe(TaskFailed, func(ctx context.Context, evt Event) error {
		ran++
		return failing
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := b.Subscribe(TaskFailed, func(ctx context.Context, evt Event) error {
		ran++
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	err := b.Emit(context.Background(), TaskFailed, nil)
	if err == nil {
		t.Fatal("expected aggregate error, got nil")
	}
	emitErr, ok := err.(*EmitError)
	if !ok {
		t.Fatalf("error type = %T, want *EmitError", err)
	}
	if len(emitErr.Failures) != 1 {
		t.Errorf("Failures = %d, want 1", len(emitErr.Failures))
	}
	if ran != 2 {
		t.Errorf("handlers ran = %d, want 2 (second handler still runs after first fails)", ran)
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	b := New(DefaultOptions())
	var mu sync.Mutex
	seen := map[Type]int{}

	if _, err := b.SubscribeAll(func(ctx context.Context, evt Event) error {
		mu.Lock()
		seen[evt.Type]++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAll() error = %v", err)
	}

	_ = b.Emit(context.Background(), TaskDelegated, nil)
	_ = b.Emit(context.Background(), TaskCompleted, nil)

	if seen[TaskDelegated] != 1 || seen[TaskCompleted] != 1 {
		t.Errorf("seen = %v, want both TaskDelegated and TaskCompleted once", seen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(DefaultOptions())
	calls := 0

	id, err := b.Subscribe(TaskQueued, func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = b.Emit(context.Background(), TaskQueued, nil)
	b.Unsubscribe(id)
	_ = b.Emit(context.Background(), TaskQueued, nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSubscribeEnforcesPerTypeLimit(t *testing.T) {
	b := New(Options{MaxListenersPerEvent: 2, MaxTotalSubscriptions: 100, RequestTimeout: time.Second})

	noop := func(ctx context.Context, evt Event) error { return nil }
	if _, err := b.Subscribe(TaskStarted, noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := b.Subscribe(TaskStarted, noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_, err := b.Subscribe(TaskStarted, noop)
	if domain.CodeOf(err) != domain.ErrCodeSubscriptionLimitExceeded {
		t.Fatalf("error code = %v, want SUBSCRIPTION_LIMIT_EXCEEDED", domain.CodeOf(err))
	}
}

func TestSubscribeEnforcesTotalLimit(t *testing.T) {
	b := New(Options{MaxListenersPerEvent: 1000, MaxTotalSubscriptions: 1, RequestTimeout: time.Second})

	noop := func(ctx context.Context, evt Event) error { return nil }
	if _, err := b.Subscribe(TaskStarted, noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	_, err := b.Subscribe(TaskQueued, noop)
	if domain.CodeOf(err) != domain.ErrCodeSubscriptionLimitExceeded {
		t.Fatalf("error code = %v, want SUBSCRIPTION_LIMIT_EXCEEDED", domain.CodeOf(err))
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	b := New(DefaultOptions())

	if _, err := b.Subscribe(TaskStatusQuery, func(ctx context.Context, evt Event) error {
		b.Respond(evt.CorrelationID, TaskStatusResponse, "ok")
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	resp, err := b.Request(context.Background(), TaskStatusQuery, "task-1")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.Payload != "ok" {
		t.Errorf("Payload = %v, want ok", resp.Payload)
	}
}

func TestRequestTimesOut(t *testing.T) {
	b := New(Options{MaxListenersPerEvent: 100, MaxTotalSubscriptions: 1000, RequestTimeout: 20 * time.Millisecond})

	// No subscriber ever responds.
	_, err := b.Request(context.Background(), TaskStatusQuery, "task-1")
	if domain.CodeOf(err) != domain.ErrCodeRequestTimeout {
		t.Fatalf("error code = %v, want REQUEST_TIMEOUT", domain.CodeOf(err))
	}

	// A late response must be dropped, not panic or deadlock.
	b.Respond("does-not-exist", TaskStatusResponse, "late")
}

func TestDisposeUnregistersAndRejectsNewSubscriptions(t *testing.T) {
	b := New(DefaultOptions())
	calls := 0
	if _, err := b.Subscribe(TaskDelegated, func(ctx context.Context, evt Event) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	b.Dispose()

	if err := b.Emit(context.Background(), TaskDelegated, nil); domain.CodeOf(err) != domain.ErrCodeShutdown {
		t.Fatalf("Emit() after Dispose error code = %v, want SHUTDOWN", domain.CodeOf(err))
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (subscriptions cleared by Dispose)", calls)
	}

	if _, err := b.Subscribe(TaskDelegated, func(ctx context.Context, evt Event) error { return nil }); domain.CodeOf(err) != domain.ErrCodeShutdown {
		t.Fatalf("Subscribe() after Dispose error code = %v, want SHUTDOWN", domain.CodeOf(err))
	}
}
