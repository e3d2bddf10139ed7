package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/livewatch/internal/domain"
)

var ErrEmptyLogin = errors.New("login is required")

// CredentialStore receives provider credentials once they are saved.
type CredentialStore interface {
	SetCredentials(creds domain.TwitchCredentials)
}

// WebhookTarget is the notification sink the admin configures and tests.
type WebhookTarget interface {
	SetEndpoint(endpoint string)
	SendTest(ctx context.Context)
}

// Admin implements the administrative use cases on top of the tracker and
// the subscription manager.
type Admin struct {
	tracker     *Tracker
	subs        *Subscriptions
	resolver    domain.ChannelResolver
	verifier    domain.CredentialVerifier
	credentials CredentialStore
	webhook     WebhookTarget
}

func NewAdmin(tracker *Tracker, subs *Subscriptions, resolver domain.ChannelResolver, verifier domain.CredentialVerifier, credentials CredentialStore, webhook WebhookTarget) *Admin {
	return &Admin{
		tracker:     tracker,
		subs:        subs,
		resolver:    resolver,
		verifier:    verifier,
		credentials: credentials,
		webhook:     webhook,
	}
}

// Bootstrap pushes stored settings into the adapters and starts the upstream
// connection. A missing or unreachable upstream is logged, not returned.
func (a *Admin) Bootstrap(ctx context.Context) {
	st := a.tracker.State()
	a.credentials.SetCredentials(st.Twitch)
	a.webhook.SetEndpoint(st.Discord.Webhook)

	if err := a.subs.EnsureStarted(ctx); err != nil {
		slog.WarnContext(ctx, "Event tracking inactive until upstream is reachable", "error", err)
	}
}

// Authenticate checks admin credentials against the stored document.
func (a *Admin) Authenticate(username, password string) bool {
	admin := a.tracker.State().Admin
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(admin.Password)) == 1
	return userOK && passOK
}

// AddChannel resolves login, starts tracking it and subscribes it upstream.
// Resolution failures are returned; subscription failures are only logged.
func (a *Admin) AddChannel(ctx context.Context, login string) (domain.ChannelRecord, error) {
	login = domain.NormalizeLogin(login)
	if login == "" {
		return domain.ChannelRecord{}, ErrEmptyLogin
	}

	info, err := a.resolver.ResolveChannel(ctx, login)
	if err != nil {
		return domain.ChannelRecord{}, fmt.Errorf("resolve %q: %w", login, err)
	}

	rec, err := a.tracker.AddChannel(ctx, login, info)
	if err != nil {
		return domain.ChannelRecord{}, err
	}

	if err := a.subs.Track(ctx, rec.ChannelID); err != nil {
		slog.WarnContext(ctx, "Channel added but not subscribed", "login", login, "error", err)
	}
	return rec, nil
}

// RemoveChannel stops tracking login. Removing an unknown login is not an error.
func (a *Admin) RemoveChannel(ctx context.Context, login string) error {
	rec, removed, err := a.tracker.RemoveChannel(ctx, login)
	if err != nil {
		return err
	}
	if removed && rec.Subscribable() {
		a.subs.Untrack(ctx, rec.ChannelID)
	}
	return nil
}

// SetTwitchCredentials saves new provider credentials, then proves them by
// obtaining an app token. On success the token metadata is saved and the
// upstream subscriptions are rebuilt. Verification failures wrap
// domain.ErrUpstreamUnavailable; the credentials stay saved.
func (a *Admin) SetTwitchCredentials(ctx context.Context, clientID, clientSecret string) error {
	creds := domain.TwitchCredentials{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}
	if err := a.tracker.UpdateTwitchCredentials(ctx, creds); err != nil {
		return err
	}
	a.credentials.SetCredentials(creds)

	token, err := a.verifier.VerifyCredentials(ctx, creds)
	if err != nil {
		slog.WarnContext(ctx, "Twitch credentials saved but could not be verified", "error", err)
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		return err
	}

	creds.TokenObtainedAt = token.ObtainedAt
	creds.ExpiresIn = token.ExpiresIn
	if err := a.tracker.UpdateTwitchCredentials(ctx, creds); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Twitch credentials verified", "expires_in", token.ExpiresIn)

	if err := a.subs.Rebuild(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to rebuild subscriptions after credential change", "error", err)
	}
	return nil
}

// SetWebhook saves the webhook URL and points the dispatcher at it.
func (a *Admin) SetWebhook(ctx context.Context, webhook string) error {
	webhook = strings.TrimSpace(webhook)
	if err := a.tracker.UpdateWebhook(ctx, webhook); err != nil {
		return err
	}
	a.webhook.SetEndpoint(webhook)
	slog.InfoContext(ctx, "Webhook updated", "configured", webhook != "")
	return nil
}

// TestWebhook queues a sample alert.
func (a *Admin) TestWebhook(ctx context.Context) {
	a.webhook.SendTest(ctx)
}

// Resubscribe rebuilds every upstream subscription.
func (a *Admin) Resubscribe(ctx context.Context) error {
	return a.subs.Rebuild(ctx)
}
