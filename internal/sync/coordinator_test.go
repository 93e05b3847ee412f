package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// stubReconciler counts passes and can hold each one open on a gate channel
// until the test releases it.
type stubReconciler struct {
	calls   atomic.Int64
	gate    chan struct{}
	entered chan string
	result  Result
}

func (r *stubReconciler) Reconcile(_ context.Context, userID string) Result {
	r.calls.Add(1)
	if r.entered != nil {
		r.entered <- userID
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.result
}

func TestSyncJoinsInFlightRun(t *testing.T) {
	rec := &stubReconciler{
		gate:    make(chan struct{}),
		entered: make(chan string, 1),
		result:  Result{Success: true, EventsAdded: 1},
	}
	coord := NewCoordinator(rec, 2, time.Minute)
	defer coord.Close()

	results := make(chan Result, 2)
	go func() { results <- coord.Sync(context.Background(), "u1") }()
	<-rec.entered

	go func() { results <- coord.Sync(context.Background(), "u1") }()
	// Let the second caller park on the in-flight run before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(rec.gate)

	first := <-results
	second := <-results

	if calls := rec.calls.Load(); calls != 1 {
		t.Fatalf("expected a single reconciliation pass, got %d", calls)
	}
	for _, result := range []Result{first, second} {
		if !result.Success || result.EventsAdded != 1 {
			t.Fatalf("joiner must see the shared result, got %+v", result)
		}
	}
}

func TestSyncJoinerHonorsContext(t *testing.T) {
	rec := &stubReconciler{
		gate:    make(chan struct{}),
		entered: make(chan string, 1),
		result:  Result{Success: true},
	}
	coord := NewCoordinator(rec, 1, time.Minute)
	defer coord.Close()

	done := make(chan Result, 1)
	go func() { done <- coord.Sync(context.Background(), "u1") }()
	<-rec.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	joined := coord.Sync(ctx, "u1")
	if joined.Success {
		t.Fatalf("cancelled joiner must fail, got %+v", joined)
	}

	close(rec.gate)
	<-done
}

func TestTriggerAsyncDroppedWhileInFlight(t *testing.T) {
	rec := &stubReconciler{
		gate:    make(chan struct{}),
		entered: make(chan string, 1),
		result:  Result{Success: true},
	}
	coord := NewCoordinator(rec, 1, time.Minute)
	defer coord.Close()

	done := make(chan Result, 1)
	go func() { done <- coord.Sync(context.Background(), "u1") }()
	<-rec.entered

	if coord.TriggerAsync("u1", ReasonWebhook) {
		t.Fatal("trigger during an in-flight run must be dropped")
	}

	close(rec.gate)
	<-done

	if calls := rec.calls.Load(); calls != 1 {
		t.Fatalf("dropped trigger must not reconcile, got %d passes", calls)
	}
}

func TestTriggerAsyncDroppedWhenQueueFull(t *testing.T) {
	rec := &stubReconciler{}
	// No workers, so nothing drains the queue.
	coord := NewCoordinator(rec, 0, time.Minute)
	defer coord.Close()

	for i := 0; i < queueSize; i++ {
		if !coord.TriggerAsync(fmt.Sprintf("u%d", i), ReasonScheduled) {
			t.Fatalf("trigger %d unexpectedly dropped", i)
		}
	}
	if coord.TriggerAsync("overflow", ReasonScheduled) {
		t.Fatal("expected drop once the dispatch queue is full")
	}
}

func TestWorkersDrainQueuedTriggers(t *testing.T) {
	rec := &stubReconciler{result: Result{Success: true}}
	coord := NewCoordinator(rec, 2, time.Minute)

	for _, userID := range []string{"u1", "u2", "u3"} {
		if !coord.TriggerAsync(userID, ReasonWebhook) {
			t.Fatalf("trigger for %s dropped", userID)
		}
	}
	coord.Close()

	if calls := rec.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 reconciliation passes, got %d", calls)
	}
}

func TestStaleMarkerSelfHeals(t *testing.T) {
	rec := &stubReconciler{result: Result{Success: true}}
	coord := NewCoordinator(rec, 1, 10*time.Millisecond)
	defer coord.Close()

	// Claim a marker and never finish the run, as a crashed worker would.
	if _, started := coord.begin("u1"); !started {
		t.Fatal("expected to claim a fresh marker")
	}
	time.Sleep(30 * time.Millisecond)

	result := coord.Sync(context.Background(), "u1")
	if !result.Success {
		t.Fatalf("expected stale marker replaced and sync run, got %+v", result)
	}
	if calls := rec.calls.Load(); calls != 1 {
		t.Fatalf("expected one pass after self-heal, got %d", calls)
	}
}

func TestDifferentUsersRunInParallel(t *testing.T) {
	rec := &stubReconciler{
		gate:    make(chan struct{}),
		entered: make(chan string, 2),
		result:  Result{Success: true},
	}
	coord := NewCoordinator(rec, 2, time.Minute)
	defer coord.Close()

	results := make(chan Result, 2)
	go func() { results <- coord.Sync(context.Background(), "u1") }()
	go func() { results <- coord.Sync(context.Background(), "u2") }()

	// Both passes must enter before either is released.
	<-rec.entered
	<-rec.entered
	close(rec.gate)
	<-results
	<-results

	if calls := rec.calls.Load(); calls != 2 {
		t.Fatalf("expected both users reconciled, got %d passes", calls)
	}
}
