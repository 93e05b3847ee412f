package sync

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingReconciler tracks which users were reconciled.
type recordingReconciler struct {
	mu    sync.Mutex
	users map[string]int
}

func newRecordingReconciler() *recordingReconciler {
	return &recordingReconciler{users: make(map[string]int)}
}

func (r *recordingReconciler) Reconcile(_ context.Context, userID string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID]++
	return Result{Success: true}
}

func (r *recordingReconciler) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID]
}

func newTestScheduler(rec Reconciler, configs *fakeConfigRepo, interval time.Duration) (*Scheduler, *Coordinator) {
	coord := NewCoordinator(rec, 2, time.Minute)
	creds := NewCredentialStore(configs, testOAuthConfig(""))
	channels := NewChannelManager(configs, &fakeProvider{}, creds, "https://example.test/webhooks/google", "secret")
	return NewScheduler(coord, configs, channels, interval), coord
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	sched, coord := newTestScheduler(newRecordingReconciler(), newFakeConfigRepo(), time.Hour)
	defer coord.Close()

	if sched.Running() {
		t.Fatal("scheduler must not run before Start")
	}
	sched.Start()
	sched.Start()
	if !sched.Running() {
		t.Fatal("scheduler must report running after Start")
	}
	sched.Stop()
	sched.Stop()
	if sched.Running() {
		t.Fatal("scheduler must report stopped after Stop")
	}

	// A second full cycle must work after a stop.
	sched.Start()
	if !sched.Running() {
		t.Fatal("scheduler must restart after Stop")
	}
	sched.Stop()
}

func TestSchedulerTickTriggersEligibleUsers(t *testing.T) {
	rec := newRecordingReconciler()
	configs := newFakeConfigRepo()

	configs.put(connectedConfig("enabled"))

	disabled := connectedConfig("disabled")
	disabled.SyncEnabled = false
	configs.put(disabled)

	tokenless := connectedConfig("tokenless")
	tokenless.AccessToken, tokenless.RefreshToken = "", ""
	configs.put(tokenless)

	sched, coord := newTestScheduler(rec, configs, time.Hour)

	sched.tick()
	coord.Close()

	if got := rec.count("enabled"); got != 1 {
		t.Fatalf("expected one pass for enabled user, got %d", got)
	}
	if got := rec.count("disabled"); got != 0 {
		t.Fatalf("disabled user must not be triggered, got %d passes", got)
	}
	if got := rec.count("tokenless"); got != 0 {
		t.Fatalf("tokenless user must not be triggered, got %d passes", got)
	}
}

func TestSchedulerLoopFires(t *testing.T) {
	rec := newRecordingReconciler()
	configs := newFakeConfigRepo()
	configs.put(connectedConfig("u1"))

	sched, coord := newTestScheduler(rec, configs, 10*time.Millisecond)
	sched.Start()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()
	coord.Close()

	if rec.count("u1") == 0 {
		t.Fatal("expected at least one scheduled pass")
	}
}
