package twitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/pscheid92/livewatch/internal/domain"
)

// eventSubAPI is the slice of the Helix API the connector needs.
type eventSubAPI interface {
	FindConduit(ctx context.Context) (id string, found bool, err error)
	CreateConduit(ctx context.Context) (string, error)
	ConfigureWebhookShard(ctx context.Context, conduitID, callbackURL, secret string) error
	DeleteConduit(ctx context.Context, conduitID string) error
	CreateSubscription(ctx context.Context, conduitID string, sub subscriptionSpec) (string, error)
	FindSubscription(ctx context.Context, sub subscriptionSpec) (string, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

type subscriptionSpec struct {
	Type          string
	Version       string
	BroadcasterID string
}

const (
	subTypeStreamOnline  = "stream.online"
	subTypeStreamOffline = "stream.offline"
	subTypeChannelUpdate = "channel.update"
)

func specFor(channelID string, kind domain.EventKind) (subscriptionSpec, error) {
	switch kind {
	case domain.EventLive:
		return subscriptionSpec{Type: subTypeStreamOnline, Version: "1", BroadcasterID: channelID}, nil
	case domain.EventOffline:
		return subscriptionSpec{Type: subTypeStreamOffline, Version: "1", BroadcasterID: channelID}, nil
	case domain.EventMetadataUpdate:
		return subscriptionSpec{Type: subTypeChannelUpdate, Version: "2", BroadcasterID: channelID}, nil
	default:
		return subscriptionSpec{}, fmt.Errorf("unsupported event kind %q", kind)
	}
}

const defaultShardID = "0"

// helixEventSubAPI implements eventSubAPI on a kappopher client holding an app token.
type helixEventSubAPI struct {
	client *helix.Client
}

func newHelixEventSubAPI(ctx context.Context, creds domain.TwitchCredentials) (eventSubAPI, error) {
	auth := helix.NewAuthClient(helix.AuthConfig{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret})
	if _, err := auth.GetAppAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to get app access token: %w", domain.ErrUpstreamUnavailable, err)
	}
	return &helixEventSubAPI{client: helix.NewClient(creds.ClientID, auth)}, nil
}

func (a *helixEventSubAPI) FindConduit(ctx context.Context) (string, bool, error) {
	resp, err := a.client.GetConduits(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to list conduits: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", false, nil
	}
	return resp.Data[0].ID, true, nil
}

func (a *helixEventSubAPI) CreateConduit(ctx context.Context) (string, error) {
	conduit, err := a.client.CreateConduit(ctx, 1)
	if err != nil {
		return "", fmt.Errorf("failed to create conduit: %w", err)
	}
	if conduit == nil {
		return "", errors.New("no conduit returned from Twitch API")
	}
	return conduit.ID, nil
}

func (a *helixEventSubAPI) ConfigureWebhookShard(ctx context.Context, conduitID, callbackURL, secret string) error {
	params := helix.UpdateConduitShardsParams{
		ConduitID: conduitID,
		Shards: []helix.UpdateConduitShardParams{{
			ID: defaultShardID,
			Transport: helix.UpdateConduitShardTransport{
				Method:   "webhook",
				Callback: callbackURL,
				Secret:   secret,
			},
		}},
	}
	if _, err := a.client.UpdateConduitShards(ctx, &params); err != nil {
		return fmt.Errorf("failed to update conduit shards: %w", err)
	}
	return nil
}

func (a *helixEventSubAPI) DeleteConduit(ctx context.Context, conduitID string) error {
	return a.client.DeleteConduit(ctx, conduitID)
}

func (a *helixEventSubAPI) CreateSubscription(ctx context.Context, conduitID string, spec subscriptionSpec) (string, error) {
	params := helix.CreateEventSubSubscriptionParams{
		Type:      spec.Type,
		Version:   spec.Version,
		Condition: map[string]string{"broadcaster_user_id": spec.BroadcasterID},
		Transport: helix.CreateEventSubTransport{Method: "conduit", ConduitID: conduitID},
	}
	sub, err := a.client.CreateEventSubSubscription(ctx, &params)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", errors.New("no subscription returned from Twitch API")
	}
	return sub.ID, nil
}

func (a *helixEventSubAPI) FindSubscription(ctx context.Context, spec subscriptionSpec) (string, error) {
	params := helix.GetEventSubSubscriptionsParams{Type: spec.Type}
	for {
		resp, err := a.client.GetEventSubSubscriptions(ctx, &params)
		if err != nil {
			return "", fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, sub := range resp.Data {
			if sub.Condition["broadcaster_user_id"] == spec.BroadcasterID {
				return sub.ID, nil
			}
		}
		if resp.Pagination == nil || resp.Pagination.Cursor == "" {
			return "", fmt.Errorf("%s subscription for %s not found", spec.Type, spec.BroadcasterID)
		}
		params.PaginationParams = &helix.PaginationParams{After: resp.Pagination.Cursor}
	}
}

func (a *helixEventSubAPI) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	return a.client.DeleteEventSubSubscription(ctx, subscriptionID)
}
