package domain

import "time"

type EventKind string

const (
	EventLive           EventKind = "live"
	EventOffline        EventKind = "offline"
	EventMetadataUpdate EventKind = "metadata_update"
)

// EventKinds lists every kind a tracked channel is subscribed to.
var EventKinds = []EventKind{EventLive, EventOffline, EventMetadataUpdate}

// ChannelEvent is one upstream notification about a channel.
// Title and CategoryID are nil when the event does not carry them.
type ChannelEvent struct {
	Kind       EventKind
	ChannelID  string
	StartedAt  time.Time
	Title      *string
	CategoryID *string
}

type NotificationKind string

const (
	NotifyWentLive    NotificationKind = "went_live"
	NotifyWentOffline NotificationKind = "went_offline"
)

// Notification describes a liveness edge. Record is the state at the moment of the edge.
type Notification struct {
	Kind   NotificationKind
	Login  string
	Record ChannelRecord
}
