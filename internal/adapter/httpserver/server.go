package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/config"
	"github.com/pscheid92/livewatch/web"
)

const authFailureDelay = 300 * time.Millisecond

type adminService interface {
	Authenticate(username, password string) bool
	AddChannel(ctx context.Context, login string) (domain.ChannelRecord, error)
	RemoveChannel(ctx context.Context, login string) error
	SetTwitchCredentials(ctx context.Context, clientID, clientSecret string) error
	SetWebhook(ctx context.Context, webhook string) error
	TestWebhook(ctx context.Context)
	Resubscribe(ctx context.Context) error
}

type registry interface {
	Snapshot() domain.Snapshot
	State() domain.State
}

type subscriptionStatus interface {
	Started() bool
	SubscribedChannels() int
}

type viewerHub interface {
	Register(conn *websocket.Conn) (uuid.UUID, error)
	Unregister(id uuid.UUID)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	admin    adminService
	registry registry
	subs     subscriptionStatus
	hub      viewerHub

	webhookHandler http.Handler
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics

	templates    *template.Template
	upgrader     websocket.Upgrader
	healthChecks []HealthCheck
	startTime    time.Time
	authDelay    time.Duration
}

// NewServer builds the HTTP surface. webhookHandler may be nil when no
// EventSub callback is configured; reg may be nil to disable /metrics.
func NewServer(cfg *config.Config, clock clockwork.Clock, admin adminService, registry registry, subs subscriptionStatus, hub viewerHub, webhookHandler http.Handler, reg *prometheus.Registry, healthChecks []HealthCheck) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		admin:          admin,
		registry:       registry,
		subs:           subs,
		hub:            hub,
		webhookHandler: webhookHandler,
		templates:      templates,
		healthChecks:   healthChecks,
		startTime:      clock.Now(),
		authDelay:      authFailureDelay,
	}
	srv.upgrader = websocket.Upgrader{CheckOrigin: newCheckOrigin(cfg.AppEnv == "development")}
	if reg != nil {
		srv.metricsHandler = metrics.Handler(reg)
		srv.httpMetrics = metrics.NewHTTPMetrics(reg)
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

func redirectToAdmin(c echo.Context) error {
	if err := c.Redirect(http.StatusFound, "/admin"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}
