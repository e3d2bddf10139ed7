package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// ChannelRecord is the tracked state of one Twitch channel.
type ChannelRecord struct {
	ChannelID    string    `json:"channel_id" yaml:"channel_id"`
	DisplayName  string    `json:"display_name" yaml:"display_name"`
	IsLive       bool      `json:"is_live" yaml:"is_live"`
	StartedAt    time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	LastLive     time.Time `json:"last_live,omitzero" yaml:"last_live,omitempty"`
	Title        string    `json:"title" yaml:"title,omitempty"`
	CategoryID   string    `json:"category_id" yaml:"category_id,omitempty"`
	CategoryName string    `json:"category_name" yaml:"category_name,omitempty"`
}

// Subscribable reports whether events can be joined to this record.
func (r ChannelRecord) Subscribable() bool {
	return r.ChannelID != ""
}

// NormalizeLogin lowercases and trims a channel login. Registry keys are always normalized.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// Snapshot is an immutable copy of the registry. ChannelRecord has no
// reference fields, so copying the map copies everything.
type Snapshot struct {
	// Revision increases by one with every committed change.
	Revision uint64
	Channels map[string]ChannelRecord
}

func NewSnapshot(revision uint64, channels map[string]ChannelRecord) Snapshot {
	return Snapshot{Revision: revision, Channels: CloneChannels(channels)}
}

func (s Snapshot) Get(login string) (ChannelRecord, bool) {
	rec, ok := s.Channels[login]
	return rec, ok
}

// Logins returns the tracked logins in sorted order.
func (s Snapshot) Logins() []string {
	return slices.Sorted(maps.Keys(s.Channels))
}

func CloneChannels(channels map[string]ChannelRecord) map[string]ChannelRecord {
	out := make(map[string]ChannelRecord, len(channels))
	maps.Copy(out, channels)
	return out
}

func findByChannelID(channels map[string]ChannelRecord, channelID string) (string, ChannelRecord, bool) {
	if channelID == "" {
		return "", ChannelRecord{}, false
	}
	for login, rec := range channels {
		if rec.ChannelID == channelID {
			return login, rec, true
		}
	}
	return "", ChannelRecord{}, false
}
