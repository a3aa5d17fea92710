// Package tokenvault hands out non-expired access tokens per channel,
// refreshing through the provider's token endpoint when necessary.
package tokenvault

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
)

// RefreshSkew is the minimum remaining lifetime for a cached token to be
// handed out without a refresh.
const RefreshSkew = 60 * time.Second

// TokenStore is the persistence the vault needs. Implemented by the
// postgres repository.
type TokenStore interface {
	GetToken(ctx context.Context, channelID string) (*domain.OAuthToken, error)
	UpdateAccessToken(ctx context.Context, channelID, accessToken string, expiresAt time.Time) error
	MarkAuthBroken(ctx context.Context, channelID string) error
	GetProxyCredentials(ctx context.Context, proxyName string) (*domain.ProxyCredentials, error)
	UpdateProxyCredentials(ctx context.Context, proxyName, clientID, clientSecret string) error
}

// entry is the in-memory cache slot for one channel. Its mutex is the
// per-channel critical section: concurrent callers for the same channel
// serialize here, so at most one refresh call is in flight.
type entry struct {
	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	authBroken  bool
}

// Vault issues fresh access tokens on demand, coalescing concurrent
// refreshes per channel and persisting results through the store.
type Vault struct {
	store      TokenStore
	tokenURL   string
	httpClient *http.Client

	mu      sync.Mutex
	entries map[string]*entry

	// now is swappable for tests.
	now func() time.Time
}

// New creates a vault backed by the given store.
func New(store TokenStore, cfg config.OAuthConfig) *Vault {
	return &Vault{
		store:      store,
		tokenURL:   cfg.TokenURL,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
}

func (v *Vault) entryFor(channelID string) *entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[channelID]
	if !ok {
		e = &entry{}
		v.entries[channelID] = e
	}
	return e
}

// GetAccessToken returns a non-expired access token for the channel,
// refreshing if the cached one is within RefreshSkew of expiry. The
// channel carries the proxy group whose client credentials sign the
// refresh.
func (v *Vault) GetAccessToken(ctx context.Context, ch domain.Channel) (string, time.Time, error) {
	e := v.entryFor(ch.ChannelID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.authBroken {
		return "", time.Time{}, &domain.Error{Kind: domain.KindAuthRevoked, Op: "vault.get", ChannelID: ch.ChannelID, Msg: "channel flagged auth-broken"}
	}

	if e.accessToken != "" && e.expiresAt.After(v.now().Add(RefreshSkew)) {
		return e.accessToken, e.expiresAt, nil
	}

	// Cold cache: the store may hold a token fresh enough to reuse.
	row, err := v.store.GetToken(ctx, ch.ChannelID)
	if err != nil {
		return "", time.Time{}, &domain.Error{Kind: domain.KindTransient, Op: "vault.get", ChannelID: ch.ChannelID, Err: err}
	}
	if row == nil {
		return "", time.Time{}, &domain.Error{Kind: domain.KindAuthRevoked, Op: "vault.get", ChannelID: ch.ChannelID, Msg: "no token row"}
	}
	if row.AuthBroken {
		e.authBroken = true
		return "", time.Time{}, &domain.Error{Kind: domain.KindAuthRevoked, Op: "vault.get", ChannelID: ch.ChannelID, Msg: "channel flagged auth-broken"}
	}
	if err := row.Validate(); err != nil {
		return "", time.Time{}, err
	}
	if row.AccessToken != "" && row.ExpiresAt.After(v.now().Add(RefreshSkew)) {
		e.accessToken = row.AccessToken
		e.expiresAt = row.ExpiresAt
		return e.accessToken, e.expiresAt, nil
	}

	creds, err := v.store.GetProxyCredentials(ctx, ch.ProxyName)
	if err != nil {
		return "", time.Time{}, &domain.Error{Kind: domain.KindTransient, Op: "vault.get", ChannelID: ch.ChannelID, Err: err}
	}
	if creds == nil {
		return "", time.Time{}, &domain.Error{Kind: domain.KindPermanentReject, Op: "vault.get", ChannelID: ch.ChannelID, Msg: "no credentials for proxy " + ch.ProxyName}
	}

	token, expiresAt, err := v.refresh(ctx, row.RefreshToken, creds)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuthRevoked {
			e.authBroken = true
			if markErr := v.store.MarkAuthBroken(ctx, ch.ChannelID); markErr != nil {
				logger.Warn("vault: failed to flag auth-broken channel",
					"channel_id", ch.ChannelID, "error", markErr.Error())
			}
		}
		var de *domain.Error
		if errors.As(err, &de) {
			de.ChannelID = ch.ChannelID
		}
		return "", time.Time{}, err
	}

	e.accessToken = token
	e.expiresAt = expiresAt

	if err := v.store.UpdateAccessToken(ctx, ch.ChannelID, token, expiresAt); err != nil {
		// The token is valid even if persistence lagged; surface loudly
		// but keep serving from memory.
		logger.Warn("vault: failed to persist refreshed access token",
			"channel_id", ch.ChannelID, "error", err.Error())
	}

	return token, expiresAt, nil
}

// refresh performs the token-endpoint round trip.
func (v *Vault) refresh(ctx context.Context, refreshToken string, creds *domain.ProxyCredentials) (string, time.Time, error) {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: v.tokenURL},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := ts.Token()
	if err != nil {
		return "", time.Time{}, classifyRefreshError(err)
	}
	return tok.AccessToken, tok.Expiry, nil
}

// classifyRefreshError maps oauth2 failures onto the error taxonomy.
// invalid_grant (and auth-shaped 4xx) means the refresh token is revoked;
// everything else is transient.
func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return &domain.Error{Kind: domain.KindAuthRevoked, Op: "vault.refresh", Msg: re.ErrorDescription, Err: err}
		}
		if re.Response != nil {
			switch {
			case re.Response.StatusCode == http.StatusBadRequest,
				re.Response.StatusCode == http.StatusUnauthorized,
				re.Response.StatusCode == http.StatusForbidden:
				return &domain.Error{Kind: domain.KindAuthRevoked, Op: "vault.refresh", Msg: re.ErrorCode, Err: err}
			case re.Response.StatusCode >= 500:
				return &domain.Error{Kind: domain.KindTransient, Op: "vault.refresh", Err: err}
			}
		}
	}
	return &domain.Error{Kind: domain.KindTransient, Op: "vault.refresh", Err: err}
}

// RotateClientCredentials updates a proxy group's OAuth application keys.
// Administrative; cached channel tokens stay valid until expiry.
func (v *Vault) RotateClientCredentials(ctx context.Context, proxyName, clientID, clientSecret string) error {
	if clientID == "" || clientSecret == "" {
		return &domain.Error{Kind: domain.KindPermanentReject, Op: "vault.rotate", Msg: "client id and secret are required"}
	}
	if err := v.store.UpdateProxyCredentials(ctx, proxyName, clientID, clientSecret); err != nil {
		return &domain.Error{Kind: domain.KindTransient, Op: "vault.rotate", Err: err}
	}
	logger.Info("vault: rotated client credentials", "proxy_name", proxyName)
	return nil
}
