package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/livewatch/internal/broadcast"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/config"
)

// --- Mock implementations ---

type mockAdmin struct {
	mu sync.Mutex

	addChannelFn    func(ctx context.Context, login string) (domain.ChannelRecord, error)
	removeChannelFn func(ctx context.Context, login string) error
	setTwitchFn     func(ctx context.Context, clientID, clientSecret string) error
	setWebhookFn    func(ctx context.Context, webhook string) error
	resubscribeFn   func(ctx context.Context) error

	calls []string
}

func (m *mockAdmin) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAdmin) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAdmin) Authenticate(username, password string) bool {
	return username == "admin" && password == "secret"
}

func (m *mockAdmin) AddChannel(ctx context.Context, login string) (domain.ChannelRecord, error) {
	m.record("add:" + login)
	if m.addChannelFn != nil {
		return m.addChannelFn(ctx, login)
	}
	return domain.ChannelRecord{}, nil
}

func (m *mockAdmin) RemoveChannel(ctx context.Context, login string) error {
	m.record("remove:" + login)
	if m.removeChannelFn != nil {
		return m.removeChannelFn(ctx, login)
	}
	return nil
}

func (m *mockAdmin) SetTwitchCredentials(ctx context.Context, clientID, clientSecret string) error {
	m.record("twitch:" + clientID + ":" + clientSecret)
	if m.setTwitchFn != nil {
		return m.setTwitchFn(ctx, clientID, clientSecret)
	}
	return nil
}

func (m *mockAdmin) SetWebhook(ctx context.Context, webhook string) error {
	m.record("webhook:" + webhook)
	if m.setWebhookFn != nil {
		return m.setWebhookFn(ctx, webhook)
	}
	return nil
}

func (m *mockAdmin) TestWebhook(_ context.Context) {
	m.record("test-webhook")
}

func (m *mockAdmin) Resubscribe(ctx context.Context) error {
	m.record("resubscribe")
	if m.resubscribeFn != nil {
		return m.resubscribeFn(ctx)
	}
	return nil
}

type mockRegistry struct {
	state    domain.State
	revision uint64
}

func (m *mockRegistry) Snapshot() domain.Snapshot {
	return domain.NewSnapshot(m.revision, m.state.Channels)
}

func (m *mockRegistry) State() domain.State {
	return m.state.Clone()
}

type mockSubscriptions struct {
	started  bool
	channels int
}

func (m *mockSubscriptions) Started() bool           { return m.started }
func (m *mockSubscriptions) SubscribedChannels() int { return m.channels }

// --- Test helpers ---

type testServer struct {
	*Server
	admin    *mockAdmin
	registry *mockRegistry
	subs     *mockSubscriptions
	hub      *broadcast.Hub
	reg      *prometheus.Registry
	webhook  http.Handler
	checks   []HealthCheck
	rate     float64
}

func newTestServer(t *testing.T, opts ...func(*testServer)) *testServer {
	t.Helper()

	st := domain.DefaultState("admin", "secret")
	st.Channels["alice"] = domain.ChannelRecord{ChannelID: "42", DisplayName: "Alice", IsLive: true, Title: "Speedrun"}
	st.Channels["bob"] = domain.ChannelRecord{ChannelID: "7", DisplayName: "Bob"}

	ts := &testServer{
		admin:    &mockAdmin{},
		registry: &mockRegistry{state: st, revision: 3},
		subs:     &mockSubscriptions{started: true, channels: 2},
		hub:      broadcast.NewHub(clockwork.NewRealClock(), 0, nil),
		reg:      prometheus.NewRegistry(),
		rate:     100,
	}
	t.Cleanup(ts.hub.Stop)
	for _, opt := range opts {
		opt(ts)
	}

	cfg := &config.Config{AppEnv: "test", Port: "0", AdminRateLimit: ts.rate}
	srv, err := NewServer(cfg, clockwork.NewFakeClock(), ts.admin, ts.registry, ts.subs, ts.hub, ts.webhook, ts.reg, ts.checks)
	require.NoError(t, err)
	srv.authDelay = 0
	ts.Server = srv
	return ts
}

func withHealthChecks(checks ...HealthCheck) func(*testServer) {
	return func(ts *testServer) {
		ts.checks = checks
	}
}

func withWebhookHandler(h http.Handler) func(*testServer) {
	return func(ts *testServer) {
		ts.webhook = h
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func adminForm(method, target string, form url.Values) *http.Request {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	req.SetBasicAuth("admin", "secret")
	return req
}
