package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"gitea.jw6.us/james/calsync/internal/google"
	"gitea.jw6.us/james/calsync/internal/store"
)

// renewHorizon is how far ahead of channel expiration renewal kicks in.
// Google caps calendar channels at roughly a week, so a day of slack is
// plenty for the renewal ticker to catch them.
const renewHorizon = 24 * time.Hour

// ChannelManager registers push-notification channels with Google and maps
// inbound channel identity back to a user.
type ChannelManager struct {
	configs  store.SyncConfigRepository
	provider google.Provider
	creds    *CredentialStore
	address  string
	secret   []byte
}

func NewChannelManager(configs store.SyncConfigRepository, provider google.Provider, creds *CredentialStore, webhookURL, secret string) *ChannelManager {
	return &ChannelManager{
		configs:  configs,
		provider: provider,
		creds:    creds,
		address:  webhookURL,
		secret:   []byte(secret),
	}
}

// Register opens a push channel for the user's configured calendar and stores
// the channel identity. Failures are wrapped in *WebhookSetupError; callers
// continue without a working webhook and fall back to polling.
func (m *ChannelManager) Register(ctx context.Context, userID string) (*WebhookRegistration, error) {
	cfg, err := m.configs.Get(ctx, userID)
	if err != nil {
		return nil, &WebhookSetupError{UserID: userID, Err: err}
	}

	tok, err := m.creds.ValidToken(ctx, userID)
	if err != nil {
		return nil, &WebhookSetupError{UserID: userID, Err: err}
	}

	channelID := uuid.NewString()
	ch, err := m.provider.Watch(ctx, oauth2.StaticTokenSource(tok), cfg.CalendarID,
		channelID, m.address, m.ChannelToken(channelID))
	if err != nil {
		return nil, &WebhookSetupError{UserID: userID, Err: err}
	}

	if err := m.configs.SetWebhook(ctx, userID, ch.ChannelID, ch.ResourceID, ch.Expiration); err != nil {
		return nil, &WebhookSetupError{UserID: userID, Err: err}
	}

	log.Printf("[INFO] sync: webhook channel %s registered for user %s (expires %s)",
		ch.ChannelID, userID, ch.Expiration.Format(time.RFC3339))
	return &WebhookRegistration{ChannelID: ch.ChannelID, ResourceID: ch.ResourceID, Expiration: ch.Expiration}, nil
}

// ResolveUser maps a notification's channel identity to a user via an indexed
// config lookup. Returns store.ErrNotFound for channels this process no
// longer recalls.
func (m *ChannelManager) ResolveUser(ctx context.Context, channelID, resourceID string) (string, error) {
	cfg, err := m.configs.GetByChannel(ctx, channelID, resourceID)
	if err != nil {
		return "", err
	}
	return cfg.UserID, nil
}

// ChannelToken derives the opaque token Google echoes back on every
// notification for the given channel.
func (m *ChannelManager) ChannelToken(channelID string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(channelID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks an echoed channel token in constant time. Notifications
// without a token are accepted; channels registered before token support
// still deliver.
func (m *ChannelManager) VerifyToken(channelID, token string) bool {
	if token == "" {
		return true
	}
	return hmac.Equal([]byte(token), []byte(m.ChannelToken(channelID)))
}

// RenewExpiring re-registers channels expiring within the renew horizon.
// Invoked from the scheduler; every failure is logged and skipped so one bad
// config cannot stall the rest.
func (m *ChannelManager) RenewExpiring(ctx context.Context) {
	expiring, err := m.configs.ListExpiringWebhooks(ctx, time.Now().Add(renewHorizon))
	if err != nil {
		log.Printf("[ERROR] sync: listing expiring webhook channels: %v", err)
		return
	}

	for _, cfg := range expiring {
		m.stopExisting(ctx, &cfg)
		if _, err := m.Register(ctx, cfg.UserID); err != nil {
			log.Printf("[WARN] sync: renewing webhook channel for user %s: %v", cfg.UserID, err)
		}
	}
}

// Stop tears down the user's channel at Google and clears the stored channel
// identity. Provider-side failures are logged only; the channel will lapse at
// its expiration anyway.
func (m *ChannelManager) Stop(ctx context.Context, userID string) error {
	cfg, err := m.configs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	m.stopExisting(ctx, cfg)
	return m.configs.ClearWebhook(ctx, userID)
}

func (m *ChannelManager) stopExisting(ctx context.Context, cfg *store.SyncConfig) {
	if cfg.WebhookChannelID == nil || cfg.WebhookResourceID == nil {
		return
	}
	tok, err := m.creds.ValidToken(ctx, cfg.UserID)
	if err != nil {
		log.Printf("[WARN] sync: no valid token to stop channel %s: %v", *cfg.WebhookChannelID, err)
		return
	}
	if err := m.provider.StopWatch(ctx, oauth2.StaticTokenSource(tok), *cfg.WebhookChannelID, *cfg.WebhookResourceID); err != nil {
		log.Printf("[WARN] sync: stopping channel %s: %v", *cfg.WebhookChannelID, err)
	}
}
