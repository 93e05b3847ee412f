package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"gitea.jw6.us/james/calsync/internal/google"
	"gitea.jw6.us/james/calsync/internal/store"
)

// fakeConfigRepo is an in-memory SyncConfigRepository mirroring the SQL
// semantics the real repo implements (refresh-token preservation, not-found
// sentinels).
type fakeConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*store.SyncConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[string]*store.SyncConfig)}
}

func (r *fakeConfigRepo) put(cfg store.SyncConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.UserID] = &cfg
}

func (r *fakeConfigRepo) Get(_ context.Context, userID string) (*store.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (r *fakeConfigRepo) GetByChannel(_ context.Context, channelID, resourceID string) (*store.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range r.configs {
		if cfg.WebhookChannelID != nil && *cfg.WebhookChannelID == channelID &&
			cfg.WebhookResourceID != nil && *cfg.WebhookResourceID == resourceID {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeConfigRepo) ListSyncEnabled(_ context.Context) ([]store.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.SyncConfig
	for _, cfg := range r.configs {
		if cfg.SyncEnabled {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (r *fakeConfigRepo) ListExpiringWebhooks(_ context.Context, before time.Time) ([]store.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.SyncConfig
	for _, cfg := range r.configs {
		if cfg.SyncEnabled && cfg.WebhookExpiration != nil && cfg.WebhookExpiration.Before(before) {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (r *fakeConfigRepo) Upsert(_ context.Context, cfg store.SyncConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.configs[cfg.UserID]; ok && cfg.RefreshToken == "" {
		cfg.RefreshToken = existing.RefreshToken
	}
	r.configs[cfg.UserID] = &cfg
	return nil
}

func (r *fakeConfigRepo) UpdateTokens(_ context.Context, userID, accessToken, refreshToken, scope, tokenType string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[userID]
	if !ok {
		return store.ErrNotFound
	}
	cfg.AccessToken = accessToken
	if refreshToken != "" {
		cfg.RefreshToken = refreshToken
	}
	if scope != "" {
		cfg.TokenScope = scope
	}
	if tokenType != "" {
		cfg.TokenType = tokenType
	}
	cfg.TokenExpiry = expiry
	return nil
}

func (r *fakeConfigRepo) ClearTokens(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[userID]; ok {
		cfg.AccessToken, cfg.RefreshToken = "", ""
		cfg.SyncEnabled = false
	}
	return nil
}

func (r *fakeConfigRepo) SetLastSync(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[userID]; ok {
		cfg.LastSync = &at
	}
	return nil
}

func (r *fakeConfigRepo) SetWebhook(_ context.Context, userID, channelID, resourceID string, expiration time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[userID]; ok {
		cfg.WebhookChannelID = &channelID
		cfg.WebhookResourceID = &resourceID
		cfg.WebhookExpiration = &expiration
	}
	return nil
}

func (r *fakeConfigRepo) ClearWebhook(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[userID]; ok {
		cfg.WebhookChannelID, cfg.WebhookResourceID, cfg.WebhookExpiration = nil, nil, nil
	}
	return nil
}

func (r *fakeConfigRepo) SetSyncEnabled(_ context.Context, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[userID]
	if !ok {
		return store.ErrNotFound
	}
	cfg.SyncEnabled = enabled
	return nil
}

// fakeEventRepo is an in-memory SyncedEventRepository with per-event write
// failure injection. Upsert mirrors the SQL preserve semantics for
// local-only fields.
type fakeEventRepo struct {
	mu         sync.Mutex
	events     map[string]store.SyncedEvent // keyed user|provider_event_id
	failUpsert map[string]bool
	nextID     int64
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events:     make(map[string]store.SyncedEvent),
		failUpsert: make(map[string]bool),
	}
}

func eventKey(userID, providerEventID string) string { return userID + "|" + providerEventID }

func (r *fakeEventRepo) put(ev store.SyncedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ev.ID = r.nextID
	r.events[eventKey(ev.UserID, ev.ProviderEventID)] = ev
}

func (r *fakeEventRepo) get(userID, providerEventID string) (store.SyncedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventKey(userID, providerEventID)]
	return ev, ok
}

func (r *fakeEventRepo) ListWindow(_ context.Context, userID string, from, to time.Time) ([]store.SyncedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.SyncedEvent
	for _, ev := range r.events {
		if ev.UserID == userID && !ev.StartTime.Before(from) && !ev.StartTime.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) Upsert(_ context.Context, ev store.SyncedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert[ev.ProviderEventID] {
		return fmt.Errorf("injected write failure for %s", ev.ProviderEventID)
	}
	key := eventKey(ev.UserID, ev.ProviderEventID)
	if existing, ok := r.events[key]; ok {
		ev.ID = existing.ID
		ev.IsPublic = existing.IsPublic
		ev.CreatedBy = existing.CreatedBy
		ev.CreatedAt = existing.CreatedAt
	} else {
		r.nextID++
		ev.ID = r.nextID
	}
	r.events[key] = ev
	return nil
}

func (r *fakeEventRepo) Delete(_ context.Context, userID, providerEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventKey(userID, providerEventID))
	return nil
}

// fakeProvider serves a canned remote event list and counts fetches.
type fakeProvider struct {
	mu        sync.Mutex
	events    []google.Event
	listErr   error
	listCalls atomic.Int64

	watchChannel *google.WatchChannel
	watchErr     error
	stopCalls    atomic.Int64
}

func (p *fakeProvider) setEvents(events []google.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
}

func (p *fakeProvider) ListEvents(_ context.Context, _ oauth2.TokenSource, _ string, _, _ time.Time) ([]google.Event, error) {
	p.listCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]google.Event(nil), p.events...), nil
}

func (p *fakeProvider) Watch(_ context.Context, _ oauth2.TokenSource, _, channelID, _, _ string) (*google.WatchChannel, error) {
	if p.watchErr != nil {
		return nil, p.watchErr
	}
	if p.watchChannel != nil {
		return p.watchChannel, nil
	}
	return &google.WatchChannel{
		ChannelID:  channelID,
		ResourceID: "resource-" + channelID,
		Expiration: time.Now().Add(7 * 24 * time.Hour),
	}, nil
}

func (p *fakeProvider) StopWatch(_ context.Context, _ oauth2.TokenSource, _, _ string) error {
	p.stopCalls.Add(1)
	return nil
}

func connectedConfig(userID string) store.SyncConfig {
	return store.SyncConfig{
		UserID:       userID,
		CalendarID:   "primary",
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		TokenType:    "Bearer",
		TokenExpiry:  time.Now().Add(time.Hour),
		SyncEnabled:  true,
	}
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

func newTestEngine(configs *fakeConfigRepo, events *fakeEventRepo, provider *fakeProvider) *Engine {
	creds := NewCredentialStore(configs, testOAuthConfig(""))
	return NewEngine(configs, events, provider, creds, 30*24*time.Hour, 365*24*time.Hour)
}
