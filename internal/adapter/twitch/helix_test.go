package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectTransport sends every request to the test server regardless of host.
type redirectTransport struct {
	target *url.URL
}

func (t redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type fakeTwitchAPI struct {
	tokenRequests atomic.Int32
	usersStatus   int
}

func (f *fakeTwitchAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "app-token", "expires_in": 3600, "token_type": "bearer"})
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if f.usersStatus != 0 {
			writeJSON(w, f.usersStatus, map[string]any{"error": "Unauthorized", "status": f.usersStatus, "message": "Invalid OAuth token"})
			return
		}
		if r.URL.Query().Get("login") != "alice" {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"id": "42", "login": "alice", "display_name": "Alice"},
		}})
	})
	mux.HandleFunc("/helix/games", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "509658" {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"id": "509658", "name": "Just Chatting", "box_art_url": ""},
		}})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestResolver(t *testing.T) (*HelixResolver, *fakeTwitchAPI, *clockwork.FakeClock) {
	t.Helper()

	api := &fakeTwitchAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	resolver := NewHelixResolver(clock)
	resolver.httpClient = &http.Client{Transport: redirectTransport{target: target}, Timeout: 5 * time.Second}
	resolver.SetCredentials(domain.TwitchCredentials{ClientID: "cid", ClientSecret: "secret"})
	return resolver, api, clock
}

func TestResolveChannel(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	info, err := resolver.ResolveChannel(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelInfo{ChannelID: "42", Login: "alice", DisplayName: "Alice"}, info)
}

func TestResolveChannel_NotFound(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	_, err := resolver.ResolveChannel(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestResolveCategory(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	name, err := resolver.ResolveCategory(context.Background(), "509658")
	require.NoError(t, err)
	assert.Equal(t, "Just Chatting", name)

	_, err = resolver.ResolveCategory(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestResolver_ReusesTokenUntilNearExpiry(t *testing.T) {
	resolver, api, clock := newTestResolver(t)
	ctx := context.Background()

	for range 3 {
		_, err := resolver.ResolveChannel(ctx, "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), api.tokenRequests.Load())

	clock.Advance(3600*time.Second - 30*time.Second)
	_, err := resolver.ResolveChannel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.tokenRequests.Load(), "token inside refresh margin is renewed")
}

func TestResolver_UnauthorizedDropsToken(t *testing.T) {
	resolver, api, _ := newTestResolver(t)
	ctx := context.Background()
	api.usersStatus = http.StatusUnauthorized

	_, err := resolver.ResolveChannel(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	api.usersStatus = 0
	_, err = resolver.ResolveChannel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.tokenRequests.Load())
}

func TestResolver_WithoutCredentials(t *testing.T) {
	resolver := NewHelixResolver(clockwork.NewFakeClock())

	_, err := resolver.ResolveChannel(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	_, err = resolver.VerifyCredentials(context.Background(), domain.TwitchCredentials{ClientID: "only-id"})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestVerifyCredentials(t *testing.T) {
	resolver, api, clock := newTestResolver(t)

	info, err := resolver.VerifyCredentials(context.Background(), domain.TwitchCredentials{ClientID: "new", ClientSecret: "creds"})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Unix(), info.ObtainedAt)
	assert.Equal(t, 3600, info.ExpiresIn)
	assert.Equal(t, int32(1), api.tokenRequests.Load())
}
