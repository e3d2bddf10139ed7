package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/retry"
)

const (
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
)

// EventSubConnector connects to EventSub through a conduit whose single
// shard delivers to this process's webhook endpoint.
type EventSubConnector struct {
	callbackURL string
	secret      string
	policy      retry.Policy
	newAPI      func(ctx context.Context, creds domain.TwitchCredentials) (eventSubAPI, error)
}

func NewEventSubConnector(callbackURL, secret string) *EventSubConnector {
	return &EventSubConnector{
		callbackURL: callbackURL,
		secret:      secret,
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
		},
		newAPI: newHelixEventSubAPI,
	}
}

func (c *EventSubConnector) Connect(ctx context.Context, creds domain.TwitchCredentials) (domain.EventSource, error) {
	if c.callbackURL == "" {
		return nil, fmt.Errorf("%w: no webhook callback URL configured", domain.ErrUpstreamUnavailable)
	}
	if !creds.Configured() {
		return nil, fmt.Errorf("%w: twitch credentials not configured", domain.ErrUpstreamUnavailable)
	}

	api, err := c.newAPI(ctx, creds)
	if err != nil {
		return nil, err
	}

	conduitID, err := c.setupConduit(ctx, api)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	slog.InfoContext(ctx, "Conduit configured with webhook shard", "conduit_id", conduitID, "callback_url", c.callbackURL)
	return &conduitSource{api: api, conduitID: conduitID, policy: c.policy}, nil
}

func (c *EventSubConnector) setupConduit(ctx context.Context, api eventSubAPI) (string, error) {
	conduitID, found, err := api.FindConduit(ctx)
	if err != nil {
		return "", err
	}
	if found {
		slog.InfoContext(ctx, "Found existing conduit", "conduit_id", conduitID)
	} else {
		if conduitID, err = api.CreateConduit(ctx); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "Created conduit", "conduit_id", conduitID)
	}

	shardErr := api.ConfigureWebhookShard(ctx, conduitID, c.callbackURL, c.secret)
	if shardErr == nil {
		return conduitID, nil
	}

	slog.ErrorContext(ctx, "Shard configuration failed, recreating conduit", "conduit_id", conduitID, "error", shardErr)
	if err := api.DeleteConduit(ctx, conduitID); err != nil {
		return "", fmt.Errorf("failed to delete stale conduit: %w", err)
	}
	if conduitID, err = api.CreateConduit(ctx); err != nil {
		return "", err
	}
	if err := api.ConfigureWebhookShard(ctx, conduitID, c.callbackURL, c.secret); err != nil {
		return "", fmt.Errorf("failed to configure shard on new conduit: %w", err)
	}
	return conduitID, nil
}

// conduitSource is one established conduit. Closing it deletes the conduit,
// which drops every subscription routed through it.
type conduitSource struct {
	api       eventSubAPI
	conduitID string
	policy    retry.Policy
}

func (s *conduitSource) Subscribe(ctx context.Context, channelID string, kind domain.EventKind) (string, error) {
	spec, err := specFor(channelID, kind)
	if err != nil {
		return "", err
	}

	p := s.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub subscribe failed, retrying", "type", spec.Type, "channel_id", channelID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	subscriptionID, err := retry.Do(ctx, p, classifyEventSubError, func() (string, error) {
		id, err := s.api.CreateSubscription(ctx, s.conduitID, spec)
		if isStatus(err, http.StatusConflict) {
			slog.InfoContext(ctx, "EventSub subscription already exists, recovering", "type", spec.Type, "channel_id", channelID)
			return s.api.FindSubscription(ctx, spec)
		}
		return id, err
	})
	if err != nil {
		return "", fmt.Errorf("EventSub subscribe %s for %s failed: %w", spec.Type, channelID, err)
	}

	slog.InfoContext(ctx, "Subscribed to channel events", "type", spec.Type, "channel_id", channelID, "subscription_id", subscriptionID)
	return subscriptionID, nil
}

func (s *conduitSource) Unsubscribe(ctx context.Context, subscriptionID string) error {
	p := s.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "EventSub unsubscribe failed, retrying", "subscription_id", subscriptionID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err := retry.DoVoid(ctx, p, classifyEventSubError, func() error {
		return s.api.DeleteSubscription(ctx, subscriptionID)
	})
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("EventSub unsubscribe %s failed: %w", subscriptionID, err)
	}
	return nil
}

func (s *conduitSource) Close(ctx context.Context) error {
	if err := s.api.DeleteConduit(ctx, s.conduitID); err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("failed to delete conduit: %w", err)
	}
	slog.InfoContext(ctx, "Deleted conduit", "conduit_id", s.conduitID)
	return nil
}

func isStatus(err error, status int) bool {
	apiErr, ok := errors.AsType[*helix.APIError](err)
	return ok && apiErr.StatusCode == status
}

func classifyEventSubError(err error) retry.Action {
	apiErr, ok := errors.AsType[*helix.APIError](err)
	if !ok {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
