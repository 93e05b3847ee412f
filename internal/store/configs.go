package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type syncConfigRepo struct {
	pool   *pgxpool.Pool
	sealer *TokenSealer
}

const configColumns = `user_id, calendar_id, google_email, access_token, refresh_token,
	token_scope, token_type, token_expiry, sync_enabled, last_sync,
	webhook_channel_id, webhook_resource_id, webhook_expiration, created_at, updated_at`

func (r *syncConfigRepo) scanConfig(row pgx.Row) (*SyncConfig, error) {
	var (
		cfg             SyncConfig
		access, refresh []byte
		expiry          *time.Time
	)
	err := row.Scan(&cfg.UserID, &cfg.CalendarID, &cfg.GoogleEmail, &access, &refresh,
		&cfg.TokenScope, &cfg.TokenType, &expiry, &cfg.SyncEnabled, &cfg.LastSync,
		&cfg.WebhookChannelID, &cfg.WebhookResourceID, &cfg.WebhookExpiration,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expiry != nil {
		cfg.TokenExpiry = *expiry
	}
	if cfg.AccessToken, err = r.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfg.UserID, err)
	}
	if cfg.RefreshToken, err = r.sealer.Open(refresh); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfg.UserID, err)
	}
	return &cfg, nil
}

func (r *syncConfigRepo) Get(ctx context.Context, userID string) (*SyncConfig, error) {
	defer observeDB(ctx, "configs.get")()
	q := `SELECT ` + configColumns + ` FROM calendar_sync_configs WHERE user_id=$1`
	return r.scanConfig(r.pool.QueryRow(ctx, q, userID))
}

func (r *syncConfigRepo) GetByChannel(ctx context.Context, channelID, resourceID string) (*SyncConfig, error) {
	defer observeDB(ctx, "configs.get_by_channel")()
	q := `SELECT ` + configColumns + ` FROM calendar_sync_configs
		WHERE webhook_channel_id=$1 AND webhook_resource_id=$2`
	return r.scanConfig(r.pool.QueryRow(ctx, q, channelID, resourceID))
}

func (r *syncConfigRepo) ListSyncEnabled(ctx context.Context) ([]SyncConfig, error) {
	defer observeDB(ctx, "configs.list_sync_enabled")()
	q := `SELECT ` + configColumns + ` FROM calendar_sync_configs WHERE sync_enabled ORDER BY user_id`
	return r.listConfigs(ctx, q)
}

func (r *syncConfigRepo) ListExpiringWebhooks(ctx context.Context, before time.Time) ([]SyncConfig, error) {
	defer observeDB(ctx, "configs.list_expiring_webhooks")()
	q := `SELECT ` + configColumns + ` FROM calendar_sync_configs
		WHERE sync_enabled AND webhook_channel_id IS NOT NULL AND webhook_expiration < $1
		ORDER BY webhook_expiration`
	return r.listConfigs(ctx, q, before)
}

func (r *syncConfigRepo) listConfigs(ctx context.Context, q string, args ...any) ([]SyncConfig, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []SyncConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (r *syncConfigRepo) Upsert(ctx context.Context, cfg SyncConfig) error {
	defer observeDB(ctx, "configs.upsert")()
	access, err := r.seal(cfg.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.seal(cfg.RefreshToken)
	if err != nil {
		return err
	}
	q := `INSERT INTO calendar_sync_configs
		(user_id, calendar_id, google_email, access_token, refresh_token, token_scope, token_type, token_expiry, sync_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			google_email = EXCLUDED.google_email,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''::bytea), calendar_sync_configs.refresh_token),
			token_scope = EXCLUDED.token_scope,
			token_type = EXCLUDED.token_type,
			token_expiry = EXCLUDED.token_expiry,
			sync_enabled = EXCLUDED.sync_enabled,
			updated_at = NOW()`
	_, err = r.pool.Exec(ctx, q, cfg.UserID, cfg.CalendarID, cfg.GoogleEmail,
		access, refresh, cfg.TokenScope, cfg.TokenType, nullableTime(cfg.TokenExpiry), cfg.SyncEnabled)
	return err
}

// UpdateTokens persists a refreshed token pair. An empty refreshToken keeps
// the stored one: Google omits the refresh token from refresh responses.
func (r *syncConfigRepo) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken, scope, tokenType string, expiry time.Time) error {
	defer observeDB(ctx, "configs.update_tokens")()
	access, err := r.seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := r.seal(refreshToken)
	if err != nil {
		return err
	}
	q := `UPDATE calendar_sync_configs SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3::bytea, ''::bytea), refresh_token),
			token_scope = CASE WHEN $4 = '' THEN token_scope ELSE $4 END,
			token_type = CASE WHEN $5 = '' THEN token_type ELSE $5 END,
			token_expiry = $6,
			updated_at = NOW()
		WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, access, refresh, scope, tokenType, nullableTime(expiry))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *syncConfigRepo) ClearTokens(ctx context.Context, userID string) error {
	defer observeDB(ctx, "configs.clear_tokens")()
	q := `UPDATE calendar_sync_configs SET
			access_token = ''::bytea, refresh_token = ''::bytea,
			token_scope = '', token_type = '', token_expiry = NULL,
			sync_enabled = FALSE, updated_at = NOW()
		WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, q, userID)
	return err
}

func (r *syncConfigRepo) SetLastSync(ctx context.Context, userID string, at time.Time) error {
	defer observeDB(ctx, "configs.set_last_sync")()
	q := `UPDATE calendar_sync_configs SET last_sync=$2, updated_at=NOW() WHERE user_id=$1`
	_, err := r.pool.Exec(ctx, q, userID, at)
	return err
}

func (r *syncConfigRepo) SetWebhook(ctx context.Context, userID, channelID, resourceID string, expiration time.Time) error {
	defer observeDB(ctx, "configs.set_webhook")()
	q := `UPDATE calendar_sync_configs SET
			webhook_channel_id=$2, webhook_resource_id=$3, webhook_expiration=$4, updated_at=NOW()
		WHERE user_id=$1`
	_, err := r.pool.Exec(ctx, q, userID, channelID, resourceID, expiration)
	return err
}

func (r *syncConfigRepo) ClearWebhook(ctx context.Context, userID string) error {
	defer observeDB(ctx, "configs.clear_webhook")()
	q := `UPDATE calendar_sync_configs SET
			webhook_channel_id=NULL, webhook_resource_id=NULL, webhook_expiration=NULL, updated_at=NOW()
		WHERE user_id=$1`
	_, err := r.pool.Exec(ctx, q, userID)
	return err
}

func (r *syncConfigRepo) SetSyncEnabled(ctx context.Context, userID string, enabled bool) error {
	defer observeDB(ctx, "configs.set_sync_enabled")()
	q := `UPDATE calendar_sync_configs SET sync_enabled=$2, updated_at=NOW() WHERE user_id=$1`
	tag, err := r.pool.Exec(ctx, q, userID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// seal never hands pgx a nil payload: the token columns are NOT NULL with an
// empty-bytea default, and the preserve-on-empty SQL relies on ''::bytea.
func (r *syncConfigRepo) seal(plain string) ([]byte, error) {
	sealed, err := r.sealer.Seal(plain)
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		sealed = []byte{}
	}
	return sealed, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
