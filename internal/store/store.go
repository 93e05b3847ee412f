package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncConfigRepository persists per-user calendar sync configuration.
type SyncConfigRepository interface {
	Get(ctx context.Context, userID string) (*SyncConfig, error)
	GetByChannel(ctx context.Context, channelID, resourceID string) (*SyncConfig, error)
	ListSyncEnabled(ctx context.Context) ([]SyncConfig, error)
	ListExpiringWebhooks(ctx context.Context, before time.Time) ([]SyncConfig, error)
	Upsert(ctx context.Context, cfg SyncConfig) error
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken, scope, tokenType string, expiry time.Time) error
	ClearTokens(ctx context.Context, userID string) error
	SetLastSync(ctx context.Context, userID string, at time.Time) error
	SetWebhook(ctx context.Context, userID, channelID, resourceID string, expiration time.Time) error
	ClearWebhook(ctx context.Context, userID string) error
	SetSyncEnabled(ctx context.Context, userID string, enabled bool) error
}

// SyncedEventRepository persists the local mirror of provider events.
type SyncedEventRepository interface {
	ListWindow(ctx context.Context, userID string, from, to time.Time) ([]SyncedEvent, error)
	Upsert(ctx context.Context, ev SyncedEvent) error
	Delete(ctx context.Context, userID, providerEventID string) error
}

// Store aggregates repositories backed by PostgreSQL. OAuth tokens are sealed
// before they touch the database and unsealed on read.
type Store struct {
	pool *pgxpool.Pool

	Configs SyncConfigRepository
	Events  SyncedEventRepository
}

// New wires concrete repository implementations with a shared connection pool.
func New(pool *pgxpool.Pool, sealer *TokenSealer) *Store {
	return &Store{
		pool:    pool,
		Configs: &syncConfigRepo{pool: pool, sealer: sealer},
		Events:  &syncedEventRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
