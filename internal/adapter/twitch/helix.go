package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	helixapi "github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livewatch/internal/domain"
)

const (
	helixRequestTimeout = 10 * time.Second
	// tokenRefreshMargin refreshes app tokens this long before they expire.
	tokenRefreshMargin = 60 * time.Second
)

// HelixResolver resolves logins and categories with an app access token.
// Credentials can be swapped at runtime; lookups fail with
// domain.ErrUpstreamUnavailable until some are set.
type HelixResolver struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	httpClient  helixapi.HTTPClient
	creds       domain.TwitchCredentials
	client      *helixapi.Client
	tokenExpiry time.Time
}

func NewHelixResolver(clock clockwork.Clock) *HelixResolver {
	return &HelixResolver{
		clock:      clock,
		httpClient: &http.Client{Timeout: helixRequestTimeout},
	}
}

// SetCredentials replaces the client credentials and drops the cached token.
func (r *HelixResolver) SetCredentials(creds domain.TwitchCredentials) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creds = creds
	r.client = nil
	r.tokenExpiry = time.Time{}
}

// VerifyCredentials requests an app token for creds without touching the active client.
func (r *HelixResolver) VerifyCredentials(ctx context.Context, creds domain.TwitchCredentials) (domain.TokenInfo, error) {
	if !creds.Configured() {
		return domain.TokenInfo{}, fmt.Errorf("%w: client id and secret are required", domain.ErrUpstreamUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return domain.TokenInfo{}, err
	}

	client, err := r.newClient(creds)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	expiresIn, err := requestAppToken(client)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	return domain.TokenInfo{ObtainedAt: r.clock.Now().Unix(), ExpiresIn: expiresIn}, nil
}

func (r *HelixResolver) ResolveChannel(ctx context.Context, login string) (domain.ChannelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.authorizedClient(ctx)
	if err != nil {
		return domain.ChannelInfo{}, err
	}

	resp, err := client.GetUsers(&helixapi.UsersParams{Logins: []string{login}})
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("%w: get users: %w", domain.ErrUpstreamUnavailable, err)
	}
	if err := r.checkResponse("get users", resp.StatusCode, resp.ErrorMessage); err != nil {
		return domain.ChannelInfo{}, err
	}
	if len(resp.Data.Users) == 0 {
		return domain.ChannelInfo{}, domain.ErrChannelNotFound
	}

	user := resp.Data.Users[0]
	return domain.ChannelInfo{ChannelID: user.ID, Login: user.Login, DisplayName: user.DisplayName}, nil
}

func (r *HelixResolver) ResolveCategory(ctx context.Context, categoryID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.authorizedClient(ctx)
	if err != nil {
		return "", err
	}

	resp, err := client.GetGames(&helixapi.GamesParams{IDs: []string{categoryID}})
	if err != nil {
		return "", fmt.Errorf("%w: get games: %w", domain.ErrUpstreamUnavailable, err)
	}
	if err := r.checkResponse("get games", resp.StatusCode, resp.ErrorMessage); err != nil {
		return "", err
	}
	if len(resp.Data.Games) == 0 {
		return "", domain.ErrCategoryNotFound
	}
	return resp.Data.Games[0].Name, nil
}

// authorizedClient returns a client holding a token valid for at least tokenRefreshMargin.
// Callers hold r.mu.
func (r *HelixResolver) authorizedClient(ctx context.Context) (*helixapi.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.creds.Configured() {
		return nil, fmt.Errorf("%w: twitch credentials not configured", domain.ErrUpstreamUnavailable)
	}

	if r.client == nil {
		client, err := r.newClient(r.creds)
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	if r.clock.Now().Add(tokenRefreshMargin).Before(r.tokenExpiry) {
		return r.client, nil
	}

	expiresIn, err := requestAppToken(r.client)
	if err != nil {
		return nil, err
	}
	r.tokenExpiry = r.clock.Now().Add(time.Duration(expiresIn) * time.Second)
	slog.DebugContext(ctx, "Refreshed Twitch app access token", "expires_in", expiresIn)
	return r.client, nil
}

// checkResponse drops the cached token on 401 so the next call fetches a new one.
func (r *HelixResolver) checkResponse(op string, status int, message string) error {
	if status == http.StatusOK {
		return nil
	}
	if status == http.StatusUnauthorized {
		r.tokenExpiry = time.Time{}
	}
	return fmt.Errorf("%w: %s returned status %d: %s", domain.ErrUpstreamUnavailable, op, status, message)
}

func (r *HelixResolver) newClient(creds domain.TwitchCredentials) (*helixapi.Client, error) {
	client, err := helixapi.NewClient(&helixapi.Options{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		HTTPClient:   r.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return client, nil
}

var errEmptyToken = errors.New("empty app access token")

func requestAppToken(client *helixapi.Client) (int, error) {
	resp, err := client.RequestAppAccessToken([]string{})
	if err != nil {
		return 0, fmt.Errorf("%w: request app access token: %w", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: app access token request returned status %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, resp.ErrorMessage)
	}
	if resp.Data.AccessToken == "" {
		return 0, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, errEmptyToken)
	}

	client.SetAppAccessToken(resp.Data.AccessToken)
	return resp.Data.ExpiresIn, nil
}
