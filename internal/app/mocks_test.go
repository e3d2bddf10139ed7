package app

import (
	"context"
	"sync"

	"github.com/pscheid92/livewatch/internal/domain"
)

// --- Mock StateStore ---

type mockStateStore struct {
	mu     sync.Mutex
	state  domain.State
	saved  []domain.State
	loadFn func(ctx context.Context) (domain.State, error)
	saveFn func(ctx context.Context, st domain.State) error
}

func newMockStateStore(st domain.State) *mockStateStore {
	return &mockStateStore{state: st}
}

func (m *mockStateStore) Load(ctx context.Context) (domain.State, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *mockStateStore) Save(ctx context.Context, st domain.State) error {
	if m.saveFn != nil {
		if err := m.saveFn(ctx, st); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st.Clone()
	m.saved = append(m.saved, st.Clone())
	return nil
}

func (m *mockStateStore) savedStates() []domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.State(nil), m.saved...)
}

// --- Mock ChannelResolver ---

type mockResolver struct {
	resolveChannelFn  func(ctx context.Context, login string) (domain.ChannelInfo, error)
	resolveCategoryFn func(ctx context.Context, categoryID string) (string, error)
}

func (m *mockResolver) ResolveChannel(ctx context.Context, login string) (domain.ChannelInfo, error) {
	if m.resolveChannelFn != nil {
		return m.resolveChannelFn(ctx, login)
	}
	return domain.ChannelInfo{}, domain.ErrChannelNotFound
}

func (m *mockResolver) ResolveCategory(ctx context.Context, categoryID string) (string, error) {
	if m.resolveCategoryFn != nil {
		return m.resolveCategoryFn(ctx, categoryID)
	}
	return "", domain.ErrCategoryNotFound
}

// --- Recording SnapshotPublisher ---

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
}

func (p *recordingPublisher) Broadcast(s domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *recordingPublisher) all() []domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Snapshot(nil), p.snapshots...)
}

// --- Recording Notifier ---

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.notifications...)
}

// --- Mock CredentialVerifier ---

type mockVerifier struct {
	verifyFn func(ctx context.Context, creds domain.TwitchCredentials) (domain.TokenInfo, error)
}

func (m *mockVerifier) VerifyCredentials(ctx context.Context, creds domain.TwitchCredentials) (domain.TokenInfo, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, creds)
	}
	return domain.TokenInfo{ObtainedAt: 1700000000, ExpiresIn: 3600}, nil
}

// --- Mock EventSourceConnector / EventSource ---

type mockConnector struct {
	mu        sync.Mutex
	connects  int
	lastCreds domain.TwitchCredentials
	source    *mockSource
	connectFn func(ctx context.Context, creds domain.TwitchCredentials) (domain.EventSource, error)
}

func (m *mockConnector) Connect(ctx context.Context, creds domain.TwitchCredentials) (domain.EventSource, error) {
	m.mu.Lock()
	m.connects++
	m.lastCreds = creds
	m.mu.Unlock()

	if m.connectFn != nil {
		return m.connectFn(ctx, creds)
	}
	return m.source, nil
}

func (m *mockConnector) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

type subscribeCall struct {
	ChannelID string
	Kind      domain.EventKind
}

type mockSource struct {
	mu            sync.Mutex
	subscribed    []subscribeCall
	unsubscribed  []string
	active        map[string]struct{} // ids that exist upstream, a duplicate create returns the existing id
	closed        int
	subscribeFn   func(ctx context.Context, channelID string, kind domain.EventKind) (string, error)
	unsubscribeFn func(ctx context.Context, subscriptionID string) error
}

func (m *mockSource) Subscribe(ctx context.Context, channelID string, kind domain.EventKind) (string, error) {
	if m.subscribeFn != nil {
		if _, err := m.subscribeFn(ctx, channelID, kind); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subscribeCall{ChannelID: channelID, Kind: kind})
	id := channelID + ":" + string(kind)
	if m.active == nil {
		m.active = make(map[string]struct{})
	}
	m.active[id] = struct{}{}
	return id, nil
}

func (m *mockSource) Unsubscribe(ctx context.Context, subscriptionID string) error {
	if m.unsubscribeFn != nil {
		if err := m.unsubscribeFn(ctx, subscriptionID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, subscriptionID)
	delete(m.active, subscriptionID)
	return nil
}

func (m *mockSource) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockSource) subscribeCalls() []subscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subscribeCall(nil), m.subscribed...)
}

func (m *mockSource) unsubscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

func (m *mockSource) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *mockSource) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// --- Mock CredentialStore / WebhookTarget ---

type mockCredentialStore struct {
	mu    sync.Mutex
	creds []domain.TwitchCredentials
}

func (m *mockCredentialStore) SetCredentials(creds domain.TwitchCredentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = append(m.creds, creds)
}

func (m *mockCredentialStore) last() domain.TwitchCredentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.creds) == 0 {
		return domain.TwitchCredentials{}
	}
	return m.creds[len(m.creds)-1]
}

type mockWebhookTarget struct {
	mu        sync.Mutex
	endpoint  string
	testsSent int
}

func (m *mockWebhookTarget) SetEndpoint(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = endpoint
}

func (m *mockWebhookTarget) SendTest(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testsSent++
}
