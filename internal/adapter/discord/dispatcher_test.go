package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
)

// webhookServer records every POST it receives.
type webhookServer struct {
	*httptest.Server

	mu       sync.Mutex
	contents []string
	received chan string
	status   int
}

func newWebhookServer(t *testing.T, status int) *webhookServer {
	t.Helper()
	ws := &webhookServer{received: make(chan string, 16), status: status}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p payload
		_ = json.Unmarshal(body, &p)

		ws.mu.Lock()
		ws.contents = append(ws.contents, p.Content)
		ws.mu.Unlock()

		w.WriteHeader(ws.status)
		ws.received <- p.Content
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *webhookServer) count() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.contents)
}

func newTestDispatcher(t *testing.T, queueSize int, opts ...Option) *Dispatcher {
	t.Helper()
	d := NewDispatcher(clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)), time.Second, queueSize, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func liveNotification() domain.Notification {
	return domain.Notification{
		Kind:  domain.NotifyWentLive,
		Login: "alice",
		Record: domain.ChannelRecord{
			ChannelID:    "42",
			DisplayName:  "Alice",
			IsLive:       true,
			Title:        "Hi",
			CategoryName: "Chess",
			StartedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return ""
	}
}

func TestDispatcher_DeliversAlert(t *testing.T) {
	srv := newWebhookServer(t, http.StatusNoContent)
	reg := prometheus.NewRegistry()
	m := metrics.NewNotifyMetrics(reg)
	d := newTestDispatcher(t, 8, WithMetrics(m))
	d.SetEndpoint(srv.URL)

	d.Notify(context.Background(), liveNotification())

	content := waitFor(t, srv.received)
	assert.Contains(t, content, "**Alice** went live.")
	assert.Contains(t, content, "**Game:** Chess")
	assert.Contains(t, content, "https://twitch.tv/alice")

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "sent")))
}

func TestDispatcher_NoEndpointIsNoop(t *testing.T) {
	srv := newWebhookServer(t, http.StatusOK)
	d := newTestDispatcher(t, 8)

	d.Notify(context.Background(), liveNotification())
	d.SendTest(context.Background())

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 0, srv.count())
}

func TestDispatcher_SetEndpointSwapsTarget(t *testing.T) {
	first := newWebhookServer(t, http.StatusOK)
	second := newWebhookServer(t, http.StatusOK)
	d := newTestDispatcher(t, 8)

	d.SetEndpoint(first.URL)
	d.Notify(context.Background(), liveNotification())
	waitFor(t, first.received)

	d.SetEndpoint(second.URL)
	assert.Equal(t, second.URL, d.Endpoint())
	d.Notify(context.Background(), liveNotification())
	waitFor(t, second.received)

	assert.Equal(t, 1, first.count())
}

func TestDispatcher_SendTestUsesClock(t *testing.T) {
	srv := newWebhookServer(t, http.StatusOK)
	d := newTestDispatcher(t, 8)
	d.SetEndpoint(srv.URL)

	d.SendTest(context.Background())

	content := waitFor(t, srv.received)
	assert.Equal(t, "**Test** went live.\n\n**Title:** Hello\n**Game:** Demo\n**Live since:** 2024-05-01 12:00 UTC\nhttps://twitch.tv/test_channel", content)
}

func TestDispatcher_FailedDeliveryIsCounted(t *testing.T) {
	srv := newWebhookServer(t, http.StatusInternalServerError)
	reg := prometheus.NewRegistry()
	m := metrics.NewNotifyMetrics(reg)
	d := newTestDispatcher(t, 8, WithMetrics(m))
	d.SetEndpoint(srv.URL)

	d.Notify(context.Background(), liveNotification())
	waitFor(t, srv.received)

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "failed")))
}

func TestDispatcher_TimeoutDoesNotBlockNotify(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	reg := prometheus.NewRegistry()
	m := metrics.NewNotifyMetrics(reg)
	d := NewDispatcher(clockwork.NewRealClock(), 50*time.Millisecond, 8, WithMetrics(m))
	d.SetEndpoint(srv.URL)

	start := time.Now()
	d.Notify(context.Background(), liveNotification())
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Notify must return before delivery")

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "failed")))
}

func TestDispatcher_FullQueueDropsAlert(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
	}))
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	m := metrics.NewNotifyMetrics(reg)
	d := NewDispatcher(clockwork.NewRealClock(), 5*time.Second, 1, WithMetrics(m))
	d.SetEndpoint(srv.URL)

	d.Notify(context.Background(), liveNotification())
	<-started // worker is busy with the first alert

	d.Notify(context.Background(), liveNotification()) // fills the queue
	d.Notify(context.Background(), liveNotification()) // dropped

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))

	close(release)
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "sent")))
}

func TestDispatcher_BreakerSkipsAfterRepeatedFailures(t *testing.T) {
	srv := newWebhookServer(t, http.StatusBadGateway)
	reg := prometheus.NewRegistry()
	m := metrics.NewNotifyMetrics(reg)
	bm := metrics.NewBreakerMetrics(reg)
	d := newTestDispatcher(t, 8, WithMetrics(m), WithBreakerMetrics(bm))
	d.SetEndpoint(srv.URL)

	for range 5 {
		d.Notify(context.Background(), liveNotification())
	}
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 3, srv.count())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sent.WithLabelValues("went_live", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(bm.State.WithLabelValues("discord")))
}

func TestDispatcher_NotifyAfterStopIsIgnored(t *testing.T) {
	srv := newWebhookServer(t, http.StatusOK)
	d := newTestDispatcher(t, 8)
	d.SetEndpoint(srv.URL)

	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	d.Notify(context.Background(), liveNotification())
	assert.Equal(t, 0, srv.count())
}
