package sync

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"gitea.jw6.us/james/calsync/internal/metrics"
)

// Reconciler is the engine surface the coordinator drives.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) Result
}

// queueSize bounds the background dispatch queue; triggers beyond it are
// dropped with a log line rather than blocking webhook acknowledgment.
const queueSize = 64

type task struct {
	userID string
	reason Reason
}

// inflightRun is the per-user in-progress marker. Joiners wait on done and
// read result afterwards.
type inflightRun struct {
	started time.Time
	done    chan struct{}
	result  Result
}

// Coordinator serializes reconciliation per user. Manual callers join an
// in-flight run and share its result; webhook and scheduler triggers are
// dispatched to a bounded worker pool and dropped when a run is already in
// flight. A stale in-progress marker (crashed worker) self-heals after
// staleAfter.
type Coordinator struct {
	engine     Reconciler
	staleAfter time.Duration
	runTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightRun

	tasks chan task
	wg    sync.WaitGroup
}

func NewCoordinator(engine Reconciler, workers int, staleAfter time.Duration) *Coordinator {
	c := &Coordinator{
		engine:     engine,
		staleAfter: staleAfter,
		runTimeout: staleAfter,
		inflight:   make(map[string]*inflightRun),
		tasks:      make(chan task, queueSize),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Close drains the worker pool. Pending queued triggers still run.
func (c *Coordinator) Close() {
	close(c.tasks)
	c.wg.Wait()
}

// Sync runs a reconciliation for the user, or joins one already in flight
// and returns its result. This is the manual/API path and blocks.
func (c *Coordinator) Sync(ctx context.Context, userID string) Result {
	run, started := c.begin(userID)
	if !started {
		log.Printf("[INFO] sync: manual trigger for user %s joining in-flight run", userID)
		select {
		case <-run.done:
			return run.result
		case <-ctx.Done():
			return failedResult(ctx.Err())
		}
	}
	return c.execute(userID, run, ReasonManual)
}

// TriggerAsync dispatches a background reconciliation. It never blocks: when
// a run is in flight or the queue is full the trigger is dropped with a log
// line. Returns whether the trigger was accepted.
func (c *Coordinator) TriggerAsync(userID string, reason Reason) bool {
	c.mu.Lock()
	run, busy := c.inflight[userID]
	busy = busy && time.Since(run.started) <= c.staleAfter
	c.mu.Unlock()
	if busy {
		log.Printf("[INFO] sync: %s trigger for user %s dropped, reconciliation in flight", reason, userID)
		metrics.CountSyncDropped(string(reason))
		return false
	}

	select {
	case c.tasks <- task{userID: userID, reason: reason}:
		return true
	default:
		log.Printf("[WARN] sync: %s trigger for user %s dropped, dispatch queue full", reason, userID)
		metrics.CountSyncDropped(string(reason))
		return false
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for t := range c.tasks {
		run, started := c.begin(t.userID)
		if !started {
			log.Printf("[INFO] sync: queued %s trigger for user %s dropped, reconciliation in flight", t.reason, t.userID)
			metrics.CountSyncDropped(string(t.reason))
			continue
		}
		c.execute(t.userID, run, t.reason)
	}
}

// begin claims the user's in-progress marker. When a live run exists it is
// returned with started=false; a marker older than staleAfter is assumed
// crashed and replaced.
func (c *Coordinator) begin(userID string) (*inflightRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if run, ok := c.inflight[userID]; ok {
		if time.Since(run.started) <= c.staleAfter {
			return run, false
		}
		log.Printf("[WARN] sync: in-progress marker for user %s stale after %s, assuming crashed run", userID, c.staleAfter)
	}

	run := &inflightRun{started: time.Now(), done: make(chan struct{})}
	c.inflight[userID] = run
	return run, true
}

func (c *Coordinator) execute(userID string, run *inflightRun, reason Reason) Result {
	ctx, cancel := context.WithTimeout(context.Background(), c.runTimeout)
	defer cancel()

	result := c.engine.Reconcile(ctx, userID)

	c.mu.Lock()
	if c.inflight[userID] == run {
		delete(c.inflight, userID)
	}
	c.mu.Unlock()
	run.result = result
	close(run.done)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.CountSyncRun(string(reason), outcome)

	if result.Success {
		log.Printf("[INFO] sync: %s reconciliation for user %s: +%d ~%d -%d",
			reason, userID, result.EventsAdded, result.EventsUpdated, result.EventsDeleted)
	} else {
		log.Printf("[ERROR] sync: %s reconciliation for user %s failed: +%d ~%d -%d errors=[%s]",
			reason, userID, result.EventsAdded, result.EventsUpdated, result.EventsDeleted,
			strings.Join(result.Errors, "; "))
	}
	return result
}
