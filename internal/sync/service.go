package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"gitea.jw6.us/james/calsync/internal/config"
	"gitea.jw6.us/james/calsync/internal/google"
	"gitea.jw6.us/james/calsync/internal/store"
)

const (
	googleIssuer          = "https://accounts.google.com"
	calendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"
	defaultCalendarID     = "primary"
)

// Service is the engine facade the HTTP layer talks to: the OAuth
// authorization flow, manual sync, status reporting, and auto-sync lifecycle.
type Service struct {
	cfg      *config.Config
	configs  store.SyncConfigRepository
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier

	Creds       *CredentialStore
	Channels    *ChannelManager
	Engine      *Engine
	Coordinator *Coordinator
	Scheduler   *Scheduler
}

// NewService wires the sync engine. The OIDC discovery call needs the
// network; startup fails fast when Google is unreachable.
func NewService(ctx context.Context, cfg *config.Config, st *store.Store, provider google.Provider) (*Service, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       []string{oidc.ScopeOpenID, "email", calendarReadonlyScope},
		Endpoint:     googleoauth.Endpoint,
	}

	oidcProvider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	verifier := oidcProvider.Verifier(&oidc.Config{ClientID: cfg.Google.ClientID})

	creds := NewCredentialStore(st.Configs, oauthCfg)
	channels := NewChannelManager(st.Configs, provider, creds, cfg.WebhookURL(), cfg.TokenSecret)
	engine := NewEngine(st.Configs, st.Events, provider, creds,
		time.Duration(cfg.Sync.WindowPastDays)*24*time.Hour,
		time.Duration(cfg.Sync.WindowFutureDays)*24*time.Hour)
	coord := NewCoordinator(engine, cfg.Sync.Workers, cfg.Sync.StaleAfter)
	scheduler := NewScheduler(coord, st.Configs, channels, cfg.Sync.Interval)

	return &Service{
		cfg:         cfg,
		configs:     st.Configs,
		oauth:       oauthCfg,
		verifier:    verifier,
		Creds:       creds,
		Channels:    channels,
		Engine:      engine,
		Coordinator: coord,
		Scheduler:   scheduler,
	}, nil
}

// AuthorizationURL builds the Google consent redirect with offline access,
// forcing the consent screen so a refresh token is always issued.
func (s *Service) AuthorizationURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// CompleteAuthorization exchanges the authorization code and persists the
// grant. Only token persistence must succeed; webhook registration and the
// initial reconciliation are best-effort and never roll back saved tokens.
func (s *Service) CompleteAuthorization(ctx context.Context, userID, code string) error {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return &OAuthExchangeError{Err: err}
	}

	email := s.accountEmail(ctx, tok)

	if err := s.Creds.SaveTokens(ctx, userID, defaultCalendarID, email, tok); err != nil {
		return err
	}

	if _, err := s.Channels.Register(ctx, userID); err != nil {
		log.Printf("[WARN] sync: %v; continuing with polling only", err)
	}

	s.Coordinator.TriggerAsync(userID, ReasonInitial)
	return nil
}

// accountEmail verifies the grant's id_token and extracts the Google account
// email. Verification failure only costs the status display, so it is logged
// rather than failing the flow.
func (s *Service) accountEmail(ctx context.Context, tok *oauth2.Token) string {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return ""
	}
	idToken, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		log.Printf("[WARN] sync: id_token verification failed: %v", err)
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		log.Printf("[WARN] sync: id_token claims: %v", err)
		return ""
	}
	return claims.Email
}

// Sync runs a manual reconciliation, blocking until a result is available.
func (s *Service) Sync(ctx context.Context, userID string) Result {
	return s.Coordinator.Sync(ctx, userID)
}

// GetStatus reports the connection state for the admin UI.
func (s *Service) GetStatus(ctx context.Context, userID string) (*Status, error) {
	cfg, err := s.configs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Status{}, nil
		}
		return nil, err
	}
	return &Status{
		Connected:     cfg.HasTokens(),
		GoogleEmail:   cfg.GoogleEmail,
		CalendarID:    cfg.CalendarID,
		SyncEnabled:   cfg.SyncEnabled,
		LastSync:      cfg.LastSync,
		WebhookActive: cfg.WebhookActive(time.Now()),
	}, nil
}

// SetSyncEnabled flips whether the scheduler picks the user up.
func (s *Service) SetSyncEnabled(ctx context.Context, userID string, enabled bool) error {
	return s.configs.SetSyncEnabled(ctx, userID, enabled)
}

// Disconnect stops the webhook channel best-effort and clears stored tokens.
// The sync config row itself remains.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.Channels.Stop(ctx, userID); err != nil {
		log.Printf("[WARN] sync: stopping webhook channel for user %s: %v", userID, err)
	}
	return s.configs.ClearTokens(ctx, userID)
}

// StartAutoSync and StopAutoSync control the process-wide scheduler.
func (s *Service) StartAutoSync() { s.Scheduler.Start() }
func (s *Service) StopAutoSync()  { s.Scheduler.Stop() }

// Close drains background workers. The scheduler must be stopped first.
func (s *Service) Close() {
	s.Scheduler.Stop()
	s.Coordinator.Close()
}
