package domain

import "time"

// Channel represents a content producer identity registered in the store.
// Channels are created externally (authorization wizard) and are read-only
// to the pipeline.
type Channel struct {
	ChannelID             string     `json:"channel_id" db:"channel_id"`
	ChannelName           string     `json:"channel_name" db:"channel_name"`
	ProxyName             string     `json:"proxy_name" db:"proxy_name"`
	Monetized             bool       `json:"monetized" db:"monetized"`
	Active                bool       `json:"active" db:"active"`
	SpreadsheetID         string     `json:"spreadsheet_id" db:"spreadsheet_id"`
	MonetizationStartDate *time.Time `json:"monetization_start_date" db:"monetization_start_date"`
}

// ProxyCredentials is the OAuth application (client id/secret pair) that a
// group of channels shares. One row per proxy group.
type ProxyCredentials struct {
	ProxyName    string `json:"proxy_name" db:"proxy_name"`
	ClientID     string `json:"client_id" db:"client_id"`
	ClientSecret string `json:"client_secret" db:"client_secret"`
}

// OAuthToken holds the per-channel refresh token and the most recently
// issued access token. The refresh token is written once at authorization
// time; the access token and expiry are mutated by the vault on refresh.
type OAuthToken struct {
	ChannelID    string    `json:"channel_id" db:"channel_id"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	AccessToken  string    `json:"-" db:"access_token"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	AuthBroken   bool      `json:"auth_broken" db:"auth_broken"`
}

// Validate checks the invariant that a token row always carries a refresh
// token. An access token may be empty if the channel was never refreshed.
func (t OAuthToken) Validate() error {
	if t.ChannelID == "" {
		return NewError(KindIntegrityViolation, "oauth_token", "missing channel_id")
	}
	if t.RefreshToken == "" {
		return NewError(KindIntegrityViolation, "oauth_token", "empty refresh token for "+t.ChannelID)
	}
	return nil
}
