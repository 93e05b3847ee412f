package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"gitea.jw6.us/james/calsync/internal/metrics"
	"gitea.jw6.us/james/calsync/internal/store"
)

// refreshMargin is how close to expiry a token may get before it is treated
// as expired and refreshed ahead of use.
const refreshMargin = 60 * time.Second

// CredentialStore owns the OAuth token pair for each user: it persists new
// grants and guarantees callers a non-expired access token, refreshing
// transparently. Refreshes are single-flighted per user because Google may
// rotate the refresh token, and a duplicate concurrent refresh would discard
// the rotated one.
type CredentialStore struct {
	configs store.SyncConfigRepository
	oauth   *oauth2.Config
	group   singleflight.Group
	now     func() time.Time
}

func NewCredentialStore(configs store.SyncConfigRepository, oauthCfg *oauth2.Config) *CredentialStore {
	return &CredentialStore{configs: configs, oauth: oauthCfg, now: time.Now}
}

// SaveTokens persists a fresh grant from the authorization flow, creating the
// user's sync config on first authorization. A missing refresh token in tok
// never clobbers a stored one.
func (s *CredentialStore) SaveTokens(ctx context.Context, userID, calendarID, googleEmail string, tok *oauth2.Token) error {
	cfg := store.SyncConfig{
		UserID:       userID,
		CalendarID:   calendarID,
		GoogleEmail:  googleEmail,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		TokenExpiry:  tok.Expiry,
		SyncEnabled:  true,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cfg.TokenScope = scope
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("save tokens for %s: %w", userID, err)
	}
	return nil
}

// ValidToken returns a token set guaranteed non-expired for at least the
// refresh margin, refreshing and persisting at most once per in-flight
// refresh. Callers get a *TokenExpiredError when the refresh itself fails.
func (s *CredentialStore) ValidToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	cfg, err := s.configs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync config for %s: %w", userID, err)
	}
	if !cfg.HasTokens() {
		return nil, ErrNotConnected
	}

	tok := tokenFromConfig(cfg)
	if s.fresh(tok) {
		return tok, nil
	}

	v, err, shared := s.group.Do(userID, func() (any, error) {
		// Another caller may have refreshed while we waited on the flight.
		cfg, err := s.configs.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("reload sync config for %s: %w", userID, err)
		}
		current := tokenFromConfig(cfg)
		if s.fresh(current) {
			return current, nil
		}
		return s.refresh(ctx, userID, current)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("[INFO] sync: token refresh for user %s joined in-flight refresh", userID)
	}
	return v.(*oauth2.Token), nil
}

func (s *CredentialStore) fresh(tok *oauth2.Token) bool {
	return tok.AccessToken != "" && !tok.Expiry.IsZero() && tok.Expiry.After(s.now().Add(refreshMargin))
}

func (s *CredentialStore) refresh(ctx context.Context, userID string, stale *oauth2.Token) (*oauth2.Token, error) {
	refreshed, err := s.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		metrics.CountTokenRefresh("failure")
		return nil, &TokenExpiredError{UserID: userID, Err: err}
	}
	metrics.CountTokenRefresh("success")

	if err := s.configs.UpdateTokens(ctx, userID, refreshed.AccessToken, refreshed.RefreshToken,
		"", refreshed.TokenType, refreshed.Expiry); err != nil {
		// The provider accepted the refresh; failing the sync over a persist
		// error would waste the grant. Use the in-memory token and log.
		log.Printf("[WARN] sync: refreshed token for user %s not persisted: %v", userID, err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = stale.RefreshToken
	}
	return refreshed, nil
}

func tokenFromConfig(cfg *store.SyncConfig) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    cfg.TokenType,
		Expiry:       cfg.TokenExpiry,
	}
}
