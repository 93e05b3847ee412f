package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"gitea.jw6.us/james/calsync/internal/store"
)

const (
	enumerateTimeout = 30 * time.Second
	renewInterval    = time.Hour
)

// Scheduler is the process-wide periodic trigger: on every tick it asks the
// coordinator to reconcile each sync-enabled user, without waiting for
// completion. A slower second ticker renews webhook channels before they
// expire. It is an owned object with an explicit lifecycle, not ambient
// global state, so tests construct isolated instances.
type Scheduler struct {
	coord    *Coordinator
	configs  store.SyncConfigRepository
	channels *ChannelManager
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

func NewScheduler(coord *Coordinator, configs store.SyncConfigRepository, channels *ChannelManager, interval time.Duration) *Scheduler {
	return &Scheduler{
		coord:    coord,
		configs:  configs,
		channels: channels,
		interval: interval,
	}
}

// Start launches the tick loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	s.running = true

	log.Printf("[INFO] sync: auto-sync scheduler started (interval %s)", s.interval)
	go s.run(s.stop, s.stopped)
}

// Stop halts the tick loop and waits for it to exit. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.stopped
	s.running = false
	log.Printf("[INFO] sync: auto-sync scheduler stopped")
}

// Running reports the scheduler lifecycle state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stop, stopped chan struct{}) {
	defer close(stopped)

	syncTicker := time.NewTicker(s.interval)
	defer syncTicker.Stop()
	renewTicker := time.NewTicker(renewInterval)
	defer renewTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-syncTicker.C:
			s.tick()
		case <-renewTicker.C:
			s.renew()
		}
	}
}

// tick enumerates sync-enabled users and fires background triggers. Ticks are
// wall-clock based; per-user overlap is the coordinator's problem.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
	defer cancel()

	configs, err := s.configs.ListSyncEnabled(ctx)
	if err != nil {
		log.Printf("[ERROR] sync: scheduler listing sync-enabled configs: %v", err)
		return
	}

	for _, cfg := range configs {
		if !cfg.HasTokens() {
			continue
		}
		s.coord.TriggerAsync(cfg.UserID, ReasonScheduled)
	}
}

func (s *Scheduler) renew() {
	ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
	defer cancel()
	s.channels.RenewExpiring(ctx)
}
