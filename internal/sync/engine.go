package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"gitea.jw6.us/james/calsync/internal/google"
	"gitea.jw6.us/james/calsync/internal/metrics"
	"gitea.jw6.us/james/calsync/internal/store"
)

// Engine performs one reconciliation pass: fetch the remote window, diff
// against the local mirror, apply adds/updates/deletes. Sync is
// one-directional; the provider is authoritative for event content, while
// local-only fields (is_public, created_by) are never touched.
type Engine struct {
	configs  store.SyncConfigRepository
	events   store.SyncedEventRepository
	provider google.Provider
	creds    *CredentialStore

	windowPast   time.Duration
	windowFuture time.Duration
	now          func() time.Time
}

func NewEngine(configs store.SyncConfigRepository, events store.SyncedEventRepository,
	provider google.Provider, creds *CredentialStore, windowPast, windowFuture time.Duration) *Engine {
	return &Engine{
		configs:      configs,
		events:       events,
		provider:     provider,
		creds:        creds,
		windowPast:   windowPast,
		windowFuture: windowFuture,
		now:          time.Now,
	}
}

// Reconcile runs one pass for the user. Per-event write failures are
// collected into the result and do not abort the remaining diff; last_sync
// advances whenever the remote fetch itself succeeded.
func (e *Engine) Reconcile(ctx context.Context, userID string) Result {
	cfg, err := e.configs.Get(ctx, userID)
	if err != nil {
		return failedResult(fmt.Errorf("load sync config: %w", err))
	}

	// Exactly one refresh attempt per pass; on failure no provider call is
	// made at all.
	tok, err := e.creds.ValidToken(ctx, userID)
	if err != nil {
		return failedResult(err)
	}

	now := e.now()
	from := now.Add(-e.windowPast)
	to := now.Add(e.windowFuture)

	remote, err := e.provider.ListEvents(ctx, oauth2.StaticTokenSource(tok), cfg.CalendarID, from, to)
	if err != nil {
		return failedResult(fmt.Errorf("fetch remote events: %w", err))
	}

	// The diff set is bounded to the fetch window on both sides, so local
	// rows outside the window are never misread as remotely deleted.
	local, err := e.events.ListWindow(ctx, userID, from, to)
	if err != nil {
		return failedResult(fmt.Errorf("load local events: %w", err))
	}

	result := e.apply(ctx, cfg, remote, local)

	if err := e.configs.SetLastSync(ctx, userID, now); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("update last_sync: %v", err))
	}

	result.Success = len(result.Errors) == 0
	metrics.ObserveSyncEvents(result.EventsAdded, result.EventsUpdated, result.EventsDeleted)
	return result
}

func (e *Engine) apply(ctx context.Context, cfg *store.SyncConfig, remote []google.Event, local []store.SyncedEvent) Result {
	var result Result

	localByID := make(map[string]store.SyncedEvent, len(local))
	for _, ev := range local {
		localByID[ev.ProviderEventID] = ev
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rev := range remote {
		remoteIDs[rev.ID] = struct{}{}

		existing, exists := localByID[rev.ID]
		switch {
		case rev.Cancelled():
			// Cancelled always means delete; a no-op when nothing is local.
			if !exists {
				continue
			}
			if err := e.events.Delete(ctx, cfg.UserID, rev.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("delete event %s: %v", rev.ID, err))
				continue
			}
			result.EventsDeleted++

		case !exists:
			if err := e.events.Upsert(ctx, newSyncedEvent(cfg, rev)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("add event %s: %v", rev.ID, err))
				continue
			}
			result.EventsAdded++

		case eventDiffers(existing, rev):
			if err := e.events.Upsert(ctx, newSyncedEvent(cfg, rev)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("update event %s: %v", rev.ID, err))
				continue
			}
			result.EventsUpdated++
		}
	}

	// Previously synced events the provider no longer returns are deletes.
	for _, ev := range local {
		if _, ok := remoteIDs[ev.ProviderEventID]; ok {
			continue
		}
		if err := e.events.Delete(ctx, cfg.UserID, ev.ProviderEventID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete event %s: %v", ev.ProviderEventID, err))
			continue
		}
		result.EventsDeleted++
	}

	return result
}

func newSyncedEvent(cfg *store.SyncConfig, rev google.Event) store.SyncedEvent {
	return store.SyncedEvent{
		UserID:          cfg.UserID,
		ProviderEventID: rev.ID,
		Title:           rev.Summary,
		Description:     rev.Description,
		Location:        rev.Location,
		StartTime:       rev.Start,
		EndTime:         rev.End,
		CreatedBy:       cfg.UserID,
	}
}

func eventDiffers(local store.SyncedEvent, remote google.Event) bool {
	return local.Title != remote.Summary ||
		local.Description != remote.Description ||
		local.Location != remote.Location ||
		!local.StartTime.Equal(remote.Start) ||
		!local.EndTime.Equal(remote.End)
}
