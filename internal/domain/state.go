package domain

import (
	"context"
	"time"
)

type AdminCredentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"-"`
}

// TwitchCredentials are the app credentials entered by the admin plus
// metadata about the last app access token obtained with them.
type TwitchCredentials struct {
	ClientID        string `json:"client_id" yaml:"client_id"`
	ClientSecret    string `json:"client_secret" yaml:"-"`
	TokenObtainedAt int64  `json:"token_obtained_at" yaml:"token_obtained_at"`
	ExpiresIn       int    `json:"expires_in" yaml:"expires_in"`
}

func (c TwitchCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TokenExpiry returns when the recorded token expires, or the zero time if none was recorded.
func (c TwitchCredentials) TokenExpiry() time.Time {
	if c.TokenObtainedAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.TokenObtainedAt, 0).Add(time.Duration(c.ExpiresIn) * time.Second)
}

type DiscordSettings struct {
	Webhook string `json:"webhook" yaml:"webhook"`
}

// State is the persisted document: settings plus the channel registry.
type State struct {
	Admin    AdminCredentials         `json:"admin" yaml:"admin"`
	Twitch   TwitchCredentials        `json:"twitch" yaml:"twitch"`
	Discord  DiscordSettings          `json:"discord" yaml:"discord"`
	Channels map[string]ChannelRecord `json:"channels" yaml:"channels"`
}

// DefaultState is written when no document exists yet.
func DefaultState(adminUser, adminPassword string) State {
	return State{
		Admin:    AdminCredentials{Username: adminUser, Password: adminPassword},
		Channels: map[string]ChannelRecord{},
	}
}

// Clone returns a copy safe to mutate without affecting s.
func (s State) Clone() State {
	out := s
	out.Channels = CloneChannels(s.Channels)
	return out
}

// StateStore persists the whole document. Save must be atomic: after a crash
// the stored document is either the previous or the new one.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// ChannelByID returns the login and record joined to channelID.
func (s State) ChannelByID(channelID string) (string, ChannelRecord, bool) {
	return findByChannelID(s.Channels, channelID)
}
