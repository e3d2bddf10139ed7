package domain

import "context"

// ChannelInfo is the result of resolving a login.
type ChannelInfo struct {
	ChannelID   string
	Login       string
	DisplayName string
}

// ChannelResolver looks up channels and categories on Twitch.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, login string) (ChannelInfo, error)
	ResolveCategory(ctx context.Context, categoryID string) (string, error)
}

// TokenInfo describes an app access token obtained from Twitch.
type TokenInfo struct {
	ObtainedAt int64
	ExpiresIn  int
}

// CredentialVerifier obtains an app token for a set of credentials, proving they work.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, creds TwitchCredentials) (TokenInfo, error)
}

// EventSource is an established upstream connection.
type EventSource interface {
	Subscribe(ctx context.Context, channelID string, kind EventKind) (subscriptionID string, err error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
	// Close tears down the connection and every subscription made through it.
	Close(ctx context.Context) error
}

type EventSourceConnector interface {
	Connect(ctx context.Context, creds TwitchCredentials) (EventSource, error)
}
