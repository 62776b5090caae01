// Package web serves Robbie's dashboard: a REST API for status, identities
// and events, websocket streams, and the Prometheus metrics endpoint.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/camera"
	"github.com/teslashibe/go-robbie/pkg/display"
	"github.com/teslashibe/go-robbie/pkg/ears"
	"github.com/teslashibe/go-robbie/pkg/eventlog"
	"github.com/teslashibe/go-robbie/pkg/hub"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/pantilt"
	"github.com/teslashibe/go-robbie/pkg/perception"
	"github.com/teslashibe/go-robbie/pkg/upstream"
)

// Config configures the dashboard.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// StatusInterval is the period of status broadcasts.
	StatusInterval time.Duration

	AllowOrigins string
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		AllowOrigins:   "*",
	}
}

// The dashboard reads from these. Any may be nil.
type (
	BrainView interface {
		Sleeping() bool
		Session() string
	}
	EarsView interface {
		State() ears.State
	}
	EyesView interface {
		Current() display.Expression
	}
	PanTiltView interface {
		Position() (horizontal, vertical int)
		Paused() bool
		Stats() pantilt.Stats
	}
	PerceptionView interface {
		Stats() perception.Stats
	}
	IdentityView interface {
		Identities() []identity.TrackedIdentity
	}
	EventView interface {
		Recent(ctx context.Context, sessionID string, limit int) ([]eventlog.Entry, error)
	}
)

// Sources wires the dashboard to the running components.
type Sources struct {
	Brain      BrainView
	Ears       EarsView
	Eyes       EyesView
	PanTilt    PanTiltView
	Perception PerceptionView
	Identities IdentityView
	Events     EventView
	Camera     *camera.Manager

	// Vision backs /ws/vision. A new hub is created when nil.
	Vision *hub.Hub

	// SessionID selects the events shown.
	SessionID string

	// Metrics serves /metrics.
	Metrics http.Handler
}

// Server is the dashboard server.
type Server struct {
	cfg    Config
	src    Sources
	app    *fiber.App
	logger *slog.Logger

	statusHub *hub.Hub
	eventHub  *hub.Hub
	visionHub *hub.Hub

	mu  sync.RWMutex
	ctx context.Context
}

// New creates the server and its routes.
func New(cfg Config, src Sources) *Server {
	vision := src.Vision
	if vision == nil {
		vision = hub.New("vision", hub.WithReplay())
	}
	s := &Server{
		cfg:       cfg,
		src:       src,
		logger:    log.Component("web"),
		statusHub: hub.New("status", hub.WithReplay()),
		eventHub:  hub.New("events"),
		visionHub: vision,
		ctx:       context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Robbie Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowOrigins}))

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/identities", s.handleIdentities)
	api.Get("/events", s.handleEvents)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Get("/camera/presets", s.handleCameraPresets)

	if src.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(src.Metrics))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/events", websocket.New(s.serveHub(s.eventHub)))
	app.Get("/ws/vision", websocket.New(s.serveHub(s.visionHub)))

	s.app = app
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.statusHub.Run(gctx) })
	g.Go(func() error { return s.eventHub.Run(gctx) })
	g.Go(func() error { return s.visionHub.Run(gctx) })
	g.Go(func() error { return s.broadcastStatus(gctx) })
	g.Go(func() error {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		return s.app.Listen(s.cfg.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func (s *Server) broadcastStatus(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.statusHub.BroadcastJSON(s.Status()); err != nil {
				s.logger.Debug("status encode failed", "error", err)
			}
		}
	}
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()

		client, ok := hub.NewClient(ctx, h, conn)
		if !ok {
			return
		}
		client.Serve(ctx)
	}
}

// PublishEvent streams ev to /ws/events. It is an upstream.Listener.
func (s *Server) PublishEvent(_ context.Context, ev upstream.SenseEvent) {
	if err := s.eventHub.BroadcastJSON(ev); err != nil {
		s.logger.Debug("event encode failed", "error", err)
	}
}

// VisionHub returns the hub behind /ws/vision.
func (s *Server) VisionHub() *hub.Hub {
	return s.visionHub
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
