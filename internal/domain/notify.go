package domain

import "context"

// Notifier accepts liveness edges. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// SnapshotPublisher fans a committed snapshot out to viewers. It never fails.
type SnapshotPublisher interface {
	Broadcast(snapshot Snapshot)
}
