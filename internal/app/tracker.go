package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
)

// CategoryResolver turns a category id into its display name.
type CategoryResolver interface {
	ResolveCategory(ctx context.Context, categoryID string) (string, error)
}

// Tracker is the single owner of the registry and the persisted document.
type Tracker struct {
	store      domain.StateStore
	categories CategoryResolver
	publisher  domain.SnapshotPublisher
	notifier   domain.Notifier
	clock      clockwork.Clock
	metrics    *metrics.TrackerMetrics

	// commitMu serialises commits; current may be read without it.
	commitMu sync.Mutex
	current  atomic.Pointer[committed]
}

type committed struct {
	state    domain.State
	snapshot domain.Snapshot
}

// mutation edits a private copy of the state. It reports whether anything
// changed and, for liveness edges, the notification to send after the commit.
type mutation func(st *domain.State) (changed bool, n *domain.Notification, err error)

// NewTracker loads the persisted document and publishes it as revision 0.
// m may be nil.
func NewTracker(ctx context.Context, store domain.StateStore, categories CategoryResolver, publisher domain.SnapshotPublisher, notifier domain.Notifier, clock clockwork.Clock, m *metrics.TrackerMetrics) (*Tracker, error) {
	st, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if st.Channels == nil {
		st.Channels = map[string]domain.ChannelRecord{}
	}

	t := &Tracker{
		store:      store,
		categories: categories,
		publisher:  publisher,
		notifier:   notifier,
		clock:      clock,
		metrics:    m,
	}
	snap := domain.NewSnapshot(0, st.Channels)
	t.current.Store(&committed{state: st, snapshot: snap})
	t.observe(snap)
	publisher.Broadcast(snap)

	slog.Info("Channel registry loaded", "channels", len(st.Channels))
	return t, nil
}

// Snapshot returns a copy of the current registry.
func (t *Tracker) Snapshot() domain.Snapshot {
	cur := t.current.Load()
	return domain.NewSnapshot(cur.snapshot.Revision, cur.snapshot.Channels)
}

// State returns a copy of the whole persisted document.
func (t *Tracker) State() domain.State {
	return t.current.Load().state.Clone()
}

// Apply folds one upstream event into the registry. Events for channel ids that
// are not tracked are discarded and yield (nil, nil).
func (t *Tracker) Apply(ctx context.Context, ev domain.ChannelEvent) (*domain.Snapshot, error) {
	start := t.clock.Now()
	if t.metrics != nil {
		defer func() { t.metrics.ApplyDuration.Observe(t.clock.Since(start).Seconds()) }()
	}

	// Category lookups may hit the network, so they happen before the commit lock.
	var categoryName string
	if ev.Kind == domain.EventMetadataUpdate && ev.CategoryID != nil && *ev.CategoryID != "" {
		name, err := t.categories.ResolveCategory(ctx, *ev.CategoryID)
		if err != nil {
			slog.WarnContext(ctx, "Category lookup failed, keeping id only", "category_id", *ev.CategoryID, "error", err)
		} else {
			categoryName = name
		}
	}

	snap, err := t.commit(ctx, true, func(st *domain.State) (bool, *domain.Notification, error) {
		login, rec, ok := st.ChannelByID(ev.ChannelID)
		if !ok {
			return false, nil, nil
		}

		var n *domain.Notification
		switch ev.Kind {
		case domain.EventLive:
			wasLive := rec.IsLive
			rec.IsLive = true
			rec.StartedAt = ev.StartedAt
			if !wasLive {
				n = &domain.Notification{Kind: domain.NotifyWentLive, Login: login, Record: rec}
			}

		case domain.EventOffline:
			wasLive := rec.IsLive
			rec.IsLive = false
			rec.StartedAt = time.Time{}
			rec.LastLive = t.clock.Now().UTC()
			if wasLive {
				n = &domain.Notification{Kind: domain.NotifyWentOffline, Login: login, Record: rec}
			}

		case domain.EventMetadataUpdate:
			if ev.Title != nil {
				rec.Title = *ev.Title
			}
			// channel.update sends an empty id when no category is set; that keeps the last one
			if ev.CategoryID != nil && *ev.CategoryID != "" {
				rec.CategoryID = *ev.CategoryID
				rec.CategoryName = categoryName
			}

		default:
			return false, nil, fmt.Errorf("unknown event kind %q", ev.Kind)
		}

		st.Channels[login] = rec
		return true, n, nil
	})

	t.countEvent(ev.Kind, snap, err)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		slog.DebugContext(ctx, "Discarding event for untracked channel", "kind", ev.Kind, "channel_id", ev.ChannelID)
		return nil, nil
	}
	slog.InfoContext(ctx, "Channel event applied", "kind", ev.Kind, "channel_id", ev.ChannelID, "revision", snap.Revision)
	return snap, nil
}

// AddChannel starts tracking login as the resolved channel. Re-adding a login
// keeps its previous last_live but otherwise starts fresh. Any other login
// holding the same channel id is dropped so ids stay unique.
func (t *Tracker) AddChannel(ctx context.Context, login string, info domain.ChannelInfo) (domain.ChannelRecord, error) {
	login = domain.NormalizeLogin(login)
	if login == "" || info.ChannelID == "" {
		return domain.ChannelRecord{}, fmt.Errorf("%w: login and channel id are required", domain.ErrChannelNotFound)
	}

	var added domain.ChannelRecord
	_, err := t.commit(ctx, true, func(st *domain.State) (bool, *domain.Notification, error) {
		for other, rec := range st.Channels {
			if other != login && rec.ChannelID == info.ChannelID {
				slog.InfoContext(ctx, "Replacing channel tracked under a previous login", "previous_login", other, "login", login)
				delete(st.Channels, other)
			}
		}

		displayName := info.DisplayName
		if displayName == "" {
			displayName = login
		}
		added = domain.ChannelRecord{
			ChannelID:   info.ChannelID,
			DisplayName: displayName,
			LastLive:    st.Channels[login].LastLive,
		}
		st.Channels[login] = added
		return true, nil, nil
	})
	if err != nil {
		return domain.ChannelRecord{}, err
	}

	slog.InfoContext(ctx, "Channel added", "login", login, "channel_id", info.ChannelID)
	return added, nil
}

// RemoveChannel stops tracking login. It reports the removed record, or false
// when login was not tracked.
func (t *Tracker) RemoveChannel(ctx context.Context, login string) (domain.ChannelRecord, bool, error) {
	login = domain.NormalizeLogin(login)

	var removed domain.ChannelRecord
	snap, err := t.commit(ctx, true, func(st *domain.State) (bool, *domain.Notification, error) {
		rec, ok := st.Channels[login]
		if !ok {
			return false, nil, nil
		}
		removed = rec
		delete(st.Channels, login)
		return true, nil, nil
	})
	if err != nil {
		return domain.ChannelRecord{}, false, err
	}
	if snap == nil {
		return domain.ChannelRecord{}, false, nil
	}

	slog.InfoContext(ctx, "Channel removed", "login", login, "channel_id", removed.ChannelID)
	return removed, true, nil
}

// UpdateTwitchCredentials persists new provider credentials and token metadata.
func (t *Tracker) UpdateTwitchCredentials(ctx context.Context, creds domain.TwitchCredentials) error {
	_, err := t.commit(ctx, false, func(st *domain.State) (bool, *domain.Notification, error) {
		st.Twitch = creds
		return true, nil, nil
	})
	return err
}

// UpdateWebhook persists the Discord webhook URL.
func (t *Tracker) UpdateWebhook(ctx context.Context, webhook string) error {
	_, err := t.commit(ctx, false, func(st *domain.State) (bool, *domain.Notification, error) {
		st.Discord.Webhook = webhook
		return true, nil, nil
	})
	return err
}

// commit runs mutate on a copy of the state, persists the copy and only then
// swaps it in. Registry changes (publish=true) get the next revision and are
// broadcast before any notification is queued. It returns nil when nothing changed.
func (t *Tracker) commit(ctx context.Context, publish bool, mutate mutation) (*domain.Snapshot, error) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	cur := t.current.Load()
	next := cur.state.Clone()

	changed, n, err := mutate(&next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	if err := t.store.Save(ctx, next); err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		slog.ErrorContext(ctx, "Failed to persist state, keeping previous registry", "error", err)
		return nil, err
	}

	snap := cur.snapshot
	if publish {
		snap = domain.NewSnapshot(cur.snapshot.Revision+1, next.Channels)
	}
	t.current.Store(&committed{state: next, snapshot: snap})

	if publish {
		t.observe(snap)
		t.publisher.Broadcast(snap)
	}
	if n != nil {
		slog.InfoContext(ctx, "Liveness changed", "login", n.Login, "kind", n.Kind)
		t.notifier.Notify(ctx, *n)
	}

	out := domain.NewSnapshot(snap.Revision, snap.Channels)
	return &out, nil
}

func (t *Tracker) observe(snap domain.Snapshot) {
	if t.metrics == nil {
		return
	}
	live := 0
	for _, rec := range snap.Channels {
		if rec.IsLive {
			live++
		}
	}
	t.metrics.TrackedChannels.Set(float64(len(snap.Channels)))
	t.metrics.LiveChannels.Set(float64(live))
}

func (t *Tracker) countEvent(kind domain.EventKind, snap *domain.Snapshot, err error) {
	if t.metrics == nil {
		return
	}
	result := "applied"
	switch {
	case err != nil:
		result = "failed"
	case snap == nil:
		result = "ignored"
	}
	t.metrics.EventsApplied.WithLabelValues(string(kind), result).Inc()
}
