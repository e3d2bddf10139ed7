package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/correlation"
)

const unsubscribeTimeout = 30 * time.Second

// StateReader exposes the committed document. Tracker satisfies it.
type StateReader interface {
	State() domain.State
}

// Subscriptions keeps upstream event subscriptions in step with the registry.
// Until a connection exists, tracking is a no-op and calls report
// domain.ErrUpstreamUnavailable.
type Subscriptions struct {
	connector domain.EventSourceConnector
	registry  StateReader

	mu     sync.Mutex
	source domain.EventSource
	subs   map[string]map[domain.EventKind]string // channel id -> kind -> subscription id
	// pending holds channels whose upstream deletes are still running. The
	// channel is closed once they finish.
	pending map[string]chan struct{}

	background sync.WaitGroup
}

func NewSubscriptions(connector domain.EventSourceConnector, registry StateReader) *Subscriptions {
	return &Subscriptions{
		connector: connector,
		registry:  registry,
		subs:      make(map[string]map[domain.EventKind]string),
		pending:   make(map[string]chan struct{}),
	}
}

// Started reports whether an upstream connection is established.
func (s *Subscriptions) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// SubscribedChannels returns how many channels currently have subscriptions.
func (s *Subscriptions) SubscribedChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// EnsureStarted connects once and subscribes every tracked channel. Calling it
// again while connected does nothing.
func (s *Subscriptions) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureStartedLocked(ctx)
}

// Track subscribes one channel without touching the others. Kinds that are
// missing from an earlier partial attempt are retried. A pending Untrack of the
// same channel finishes before anything is subscribed.
func (s *Subscriptions) Track(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}

	s.mu.Lock()
	for {
		done, ok := s.pending[channelID]
		if !ok {
			break
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if s.source == nil {
		// starting subscribes every tracked channel, this one included
		return s.ensureStartedLocked(ctx)
	}
	return s.subscribeLocked(ctx, channelID)
}

// Untrack forgets a channel's subscriptions and deletes them upstream in the
// background. Events that still arrive are discarded by the tracker.
func (s *Subscriptions) Untrack(ctx context.Context, channelID string) {
	s.mu.Lock()
	kinds := s.subs[channelID]
	delete(s.subs, channelID)
	source := s.source
	if source == nil || len(kinds) == 0 {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.pending[channelID] = done
	s.mu.Unlock()

	ids := make([]string, 0, len(kinds))
	for _, kind := range domain.EventKinds {
		if id, ok := kinds[kind]; ok {
			ids = append(ids, id)
		}
	}

	bgCtx := correlation.Detach(ctx)
	s.background.Go(func() {
		defer func() {
			s.mu.Lock()
			if s.pending[channelID] == done {
				delete(s.pending, channelID)
			}
			s.mu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(bgCtx, unsubscribeTimeout)
		defer cancel()

		for _, id := range ids {
			if err := source.Unsubscribe(ctx, id); err != nil {
				slog.WarnContext(ctx, "Failed to delete upstream subscription", "channel_id", channelID, "subscription_id", id, "error", err)
			}
		}
		slog.InfoContext(ctx, "Upstream subscriptions deleted", "channel_id", channelID, "count", len(ids))
	})
}

// Rebuild drops the upstream connection with all its subscriptions and
// subscribes every tracked channel from scratch.
func (s *Subscriptions) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		if err := s.source.Close(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to close upstream connection", "error", err)
		}
		s.source = nil
		s.subs = make(map[string]map[domain.EventKind]string)
	}

	slog.InfoContext(ctx, "Rebuilding upstream subscriptions")
	return s.ensureStartedLocked(ctx)
}

// Wait blocks until background unsubscribes have finished or ctx is done.
func (s *Subscriptions) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.background.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriptions) ensureStartedLocked(ctx context.Context) error {
	if s.source != nil {
		return nil
	}

	st := s.registry.State()
	if !st.Twitch.Configured() {
		return fmt.Errorf("%w: twitch credentials not configured", domain.ErrUpstreamUnavailable)
	}

	source, err := s.connector.Connect(ctx, st.Twitch)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		return err
	}
	s.source = source

	failed := 0
	for _, login := range domain.NewSnapshot(0, st.Channels).Logins() {
		rec := st.Channels[login]
		if !rec.Subscribable() {
			continue
		}
		if err := s.subscribeLocked(ctx, rec.ChannelID); err != nil {
			failed++
			slog.WarnContext(ctx, "Failed to subscribe channel", "login", login, "channel_id", rec.ChannelID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Upstream event source started", "channels", len(s.subs), "failed", failed)
	return nil
}

// subscribeLocked creates the subscriptions channelID is still missing. Kinds
// that succeed are kept even when another kind fails, and the failed kinds are
// tried again on the next call.
func (s *Subscriptions) subscribeLocked(ctx context.Context, channelID string) error {
	kinds := s.subs[channelID]

	var errs []error
	for _, kind := range domain.EventKinds {
		if _, ok := kinds[kind]; ok {
			continue
		}
		id, err := s.source.Subscribe(ctx, channelID, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", kind, err))
			continue
		}
		if kinds == nil {
			kinds = make(map[domain.EventKind]string, len(domain.EventKinds))
			s.subs[channelID] = kinds
		}
		kinds[kind] = id
	}
	return errors.Join(errs...)
}
