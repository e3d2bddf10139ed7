package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pscheid92/livewatch/internal/app"
	"github.com/pscheid92/livewatch/internal/domain"
	apperrors "github.com/pscheid92/livewatch/internal/platform/errors"
)

type adminChannel struct {
	Login       string
	DisplayName string
	IsLive      bool
}

type adminPage struct {
	ClientID           string
	TokenExpiry        string
	EventsActive       bool
	SubscribedChannels int
	Webhook            string
	Channels           []adminChannel
}

func (s *Server) registerAdminRoutes(rateLimiter echo.MiddlewareFunc) {
	g := s.echo.Group("/admin", rateLimiter, s.requireAdmin())

	g.GET("", s.handleAdminPage)
	g.POST("/twitch", s.handleSetTwitch)
	g.POST("/webhook", s.handleSetWebhook)
	g.POST("/webhook/test", s.handleTestWebhook)
	g.POST("/streamers/add", s.handleAddChannel)
	g.POST("/streamers/remove", s.handleRemoveChannel)
	g.POST("/resubscribe", s.handleResubscribe)
}

// requireAdmin checks HTTP Basic credentials against the stored admin
// account. Wrong credentials are answered after a short delay.
func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "livewatch admin",
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if s.admin.Authenticate(username, password) {
				return true, nil
			}
			slog.WarnContext(c.Request().Context(), "Admin authentication failed", "username", username, "remote_ip", c.RealIP())
			if s.authDelay > 0 {
				s.clock.Sleep(s.authDelay)
			}
			return false, nil
		},
	})
}

func (s *Server) handleAdminPage(c echo.Context) error {
	st := s.registry.State()
	snap := s.registry.Snapshot()

	page := adminPage{
		ClientID:           st.Twitch.ClientID,
		EventsActive:       s.subs.Started(),
		SubscribedChannels: s.subs.SubscribedChannels(),
		Webhook:            st.Discord.Webhook,
	}
	if expiry := st.Twitch.TokenExpiry(); !expiry.IsZero() {
		page.TokenExpiry = expiry.UTC().Format(time.RFC1123)
	}
	for _, login := range snap.Logins() {
		rec := snap.Channels[login]
		displayName := rec.DisplayName
		if displayName == "" {
			displayName = login
		}
		page.Channels = append(page.Channels, adminChannel{Login: login, DisplayName: displayName, IsLive: rec.IsLive})
	}

	return s.renderTemplate(c, "admin.html", page)
}

// handleSetTwitch saves the credentials even when Twitch rejects them; the
// admin page then shows that no token was obtained.
func (s *Server) handleSetTwitch(c echo.Context) error {
	ctx := c.Request().Context()

	err := s.admin.SetTwitchCredentials(ctx, c.FormValue("client_id"), c.FormValue("client_secret"))
	if errors.Is(err, domain.ErrPersistence) {
		return apperrors.Internal("failed to save twitch credentials", err)
	}
	if err != nil {
		slog.WarnContext(ctx, "Twitch credentials could not be verified", "error", err)
	}
	return redirectToAdmin(c)
}

func (s *Server) handleSetWebhook(c echo.Context) error {
	if err := s.admin.SetWebhook(c.Request().Context(), c.FormValue("webhook")); err != nil {
		return apperrors.Internal("failed to save webhook", err)
	}
	return redirectToAdmin(c)
}

func (s *Server) handleTestWebhook(c echo.Context) error {
	s.admin.TestWebhook(c.Request().Context())
	return redirectToAdmin(c)
}

func (s *Server) handleAddChannel(c echo.Context) error {
	login := c.FormValue("login")

	_, err := s.admin.AddChannel(c.Request().Context(), login)
	switch {
	case err == nil, errors.Is(err, app.ErrEmptyLogin):
		return redirectToAdmin(c)
	case errors.Is(err, domain.ErrChannelNotFound):
		return c.String(http.StatusBadRequest, "User not found")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return apperrors.Unavailable("twitch is not reachable", err).WithField("login", domain.NormalizeLogin(login))
	default:
		return apperrors.Internal("failed to add channel", err).WithField("login", domain.NormalizeLogin(login))
	}
}

func (s *Server) handleRemoveChannel(c echo.Context) error {
	login := c.FormValue("login")
	if err := s.admin.RemoveChannel(c.Request().Context(), login); err != nil {
		return apperrors.Internal("failed to remove channel", err).WithField("login", domain.NormalizeLogin(login))
	}
	return redirectToAdmin(c)
}

func (s *Server) handleResubscribe(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.admin.Resubscribe(ctx); err != nil {
		slog.WarnContext(ctx, "Resubscribe failed", "error", err)
	}
	return redirectToAdmin(c)
}
