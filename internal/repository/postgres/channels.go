package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// ChannelRepo reads the channel registry, OAuth tokens and proxy
// credentials from PostgreSQL. It also implements tokenvault.TokenStore.
type ChannelRepo struct{ db *sql.DB }

// NewChannelRepo creates a Postgres-backed channel repository.
func NewChannelRepo(db *sql.DB) *ChannelRepo { return &ChannelRepo{db: db} }

// ListMonetized returns active monetized channels, the collector's work set.
func (r *ChannelRepo) ListMonetized(ctx context.Context) ([]domain.Channel, error) {
	return r.list(ctx, `
		SELECT channel_id, channel_name, COALESCE(proxy_name,''), monetized, active,
		       COALESCE(spreadsheet_id,''), monetization_start_date
		FROM channels
		WHERE active = true AND monetized = true
		ORDER BY channel_name
	`)
}

// ListActive returns all active channels regardless of monetization,
// the reconciler's work set.
func (r *ChannelRepo) ListActive(ctx context.Context) ([]domain.Channel, error) {
	return r.list(ctx, `
		SELECT channel_id, channel_name, COALESCE(proxy_name,''), monetized, active,
		       COALESCE(spreadsheet_id,''), monetization_start_date
		FROM channels
		WHERE active = true
		ORDER BY channel_name
	`)
}

func (r *ChannelRepo) list(ctx context.Context, query string) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var c domain.Channel
		var monetizedSince sql.NullTime
		if err := rows.Scan(&c.ChannelID, &c.ChannelName, &c.ProxyName, &c.Monetized,
			&c.Active, &c.SpreadsheetID, &monetizedSince); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if monetizedSince.Valid {
			t := monetizedSince.Time
			c.MonetizationStartDate = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetToken returns the OAuth token row for a channel, nil when absent.
func (r *ChannelRepo) GetToken(ctx context.Context, channelID string) (*domain.OAuthToken, error) {
	t := &domain.OAuthToken{}
	var accessToken sql.NullString
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT channel_id, refresh_token, access_token, expires_at, auth_broken
		FROM oauth_tokens
		WHERE channel_id = $1
	`, channelID).Scan(&t.ChannelID, &t.RefreshToken, &accessToken, &expiresAt, &t.AuthBroken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if accessToken.Valid {
		t.AccessToken = accessToken.String
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	return t, nil
}

// UpdateAccessToken stores a freshly minted access token and its expiry.
func (r *ChannelRepo) UpdateAccessToken(ctx context.Context, channelID, accessToken string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = $2, expires_at = $3, updated_at = NOW()
		WHERE channel_id = $1
	`, channelID, accessToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	return nil
}

// MarkAuthBroken flags a channel whose refresh token was revoked. The
// token row is kept for operator inspection.
func (r *ChannelRepo) MarkAuthBroken(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE oauth_tokens SET auth_broken = true, updated_at = NOW() WHERE channel_id = $1
	`, channelID)
	if err != nil {
		return fmt.Errorf("mark auth broken: %w", err)
	}
	return nil
}

// GetProxyCredentials returns the OAuth client keys for a proxy group,
// nil when the group is unknown.
func (r *ChannelRepo) GetProxyCredentials(ctx context.Context, proxyName string) (*domain.ProxyCredentials, error) {
	c := &domain.ProxyCredentials{}
	err := r.db.QueryRowContext(ctx, `
		SELECT proxy_name, client_id, client_secret
		FROM proxy_credentials
		WHERE proxy_name = $1
	`, proxyName).Scan(&c.ProxyName, &c.ClientID, &c.ClientSecret)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy credentials: %w", err)
	}
	return c, nil
}

// UpdateProxyCredentials replaces a proxy group's client keys.
func (r *ChannelRepo) UpdateProxyCredentials(ctx context.Context, proxyName, clientID, clientSecret string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proxy_credentials (proxy_name, client_id, client_secret, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (proxy_name) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			updated_at = NOW()
	`, proxyName, clientID, clientSecret)
	if err != nil {
		return fmt.Errorf("update proxy credentials: %w", err)
	}
	return nil
}
