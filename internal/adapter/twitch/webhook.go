package twitch

import (
	"bytes"
	"context"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/correlation"
)

// EventSink receives parsed channel events. Enqueue must not block on processing.
type EventSink interface {
	Enqueue(ctx context.Context, ev domain.ChannelEvent) bool
}

type streamOnlineEvent struct {
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	Type                 string    `json:"type"`
	StartedAt            time.Time `json:"started_at"`
}

type streamOfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
}

// channelUpdateEvent uses pointers so absent fields stay distinguishable from empty ones.
type channelUpdateEvent struct {
	BroadcasterUserID string  `json:"broadcaster_user_id"`
	Title             *string `json:"title"`
	CategoryID        *string `json:"category_id"`
}

const recentMessageCapacity = 1024

// WebhookHandler verifies EventSub deliveries and forwards them as domain events.
// Twitch redelivers a message with the same id when it did not see a 2xx in time;
// such repeats are acknowledged without being forwarded again. A notification
// the event queue cannot take is answered with 503 so that Twitch retries it.
type WebhookHandler struct {
	secret string
	sink   EventSink
	recent *recentIDs
}

func NewWebhookHandler(secret string, sink EventSink) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		sink:   sink,
		recent: newRecentIDs(recentMessageCapacity),
	}
}

func (wh *WebhookHandler) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	messageID := r.Header.Get(helix.EventSubHeaderMessageID)
	isNotification := r.Header.Get(helix.EventSubHeaderMessageType) == helix.EventSubMessageTypeNotification

	if isNotification && messageID != "" && wh.recent.Contains(messageID) {
		slog.Debug("Dropping redelivered EventSub message", "message_id", messageID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := newBufferedResponse()
	wh.verifier(resp).ServeHTTP(resp, r)

	if resp.rejected {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "event queue full", http.StatusServiceUnavailable)
		return
	}
	resp.flushTo(w)

	if isNotification && messageID != "" && resp.status < 300 {
		wh.recent.Add(messageID)
	}
}

// verifier builds the signature-checking handler for one delivery so that the
// notification callback can mark that delivery as rejected.
func (wh *WebhookHandler) verifier(resp *bufferedResponse) *helix.EventSubWebhookHandler {
	return helix.NewEventSubWebhookHandler(
		helix.WithWebhookSecret(wh.secret),
		helix.WithNotificationHandler(func(msg *helix.EventSubWebhookMessage) {
			if !wh.forward(msg) {
				resp.rejected = true
			}
		}),
		helix.WithVerificationHandler(func(msg *helix.EventSubWebhookMessage) bool {
			slog.Info("EventSub webhook verification", "subscription_type", msg.SubscriptionType)
			return true
		}),
		helix.WithRevocationHandler(func(msg *helix.EventSubWebhookMessage) {
			slog.Warn("EventSub subscription revoked", "type", msg.SubscriptionType, "reason", helix.GetRevocationReason(msg.Subscription))
		}),
	)
}

// forward reports false only when the event was parsed but could not be queued.
// Messages that cannot be parsed are acknowledged, a retry would fail the same way.
func (wh *WebhookHandler) forward(msg *helix.EventSubWebhookMessage) bool {
	ctx := correlation.WithID(context.Background(), correlation.NewID())

	ev, ok := toChannelEvent(ctx, msg)
	if !ok {
		return true
	}

	if !wh.sink.Enqueue(ctx, ev) {
		slog.WarnContext(ctx, "Event queue full, asking Twitch to redeliver", "kind", ev.Kind, "channel_id", ev.ChannelID)
		return false
	}
	return true
}

func toChannelEvent(ctx context.Context, msg *helix.EventSubWebhookMessage) (domain.ChannelEvent, bool) {
	switch msg.SubscriptionType {
	case subTypeStreamOnline:
		event, err := helix.ParseEventSubEvent[streamOnlineEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse stream.online event", "error", err)
			return domain.ChannelEvent{}, false
		}
		return domain.ChannelEvent{Kind: domain.EventLive, ChannelID: event.BroadcasterUserID, StartedAt: event.StartedAt}, true

	case subTypeStreamOffline:
		event, err := helix.ParseEventSubEvent[streamOfflineEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse stream.offline event", "error", err)
			return domain.ChannelEvent{}, false
		}
		return domain.ChannelEvent{Kind: domain.EventOffline, ChannelID: event.BroadcasterUserID}, true

	case subTypeChannelUpdate:
		event, err := helix.ParseEventSubEvent[channelUpdateEvent](msg)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse channel.update event", "error", err)
			return domain.ChannelEvent{}, false
		}
		return domain.ChannelEvent{
			Kind:       domain.EventMetadataUpdate,
			ChannelID:  event.BroadcasterUserID,
			Title:      event.Title,
			CategoryID: event.CategoryID,
		}, true

	default:
		slog.DebugContext(ctx, "Ignoring unhandled EventSub type", "type", msg.SubscriptionType)
		return domain.ChannelEvent{}, false
	}
}

// bufferedResponse holds the verifier's response until the outcome of the
// notification callback is known.
type bufferedResponse struct {
	header   http.Header
	body     bytes.Buffer
	status   int
	rejected bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	maps.Copy(w.Header(), b.header)
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// recentIDs is a fixed-size set that forgets the oldest id first.
type recentIDs struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newRecentIDs(capacity int) *recentIDs {
	return &recentIDs{ids: make(map[string]struct{}, capacity), order: make([]string, capacity)}
}

func (s *recentIDs) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *recentIDs) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return
	}
	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
}
