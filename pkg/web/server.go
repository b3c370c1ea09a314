// Package web serves the control API and the live websocket streams.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/hub"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/protocol"
)

// maxEvents is how many recent events the server keeps for /api/events.
const maxEvents = 200

// Controller is the loop surface the API drives. *loop.Loop implements it.
type Controller interface {
	Status() loop.Perf
	Config() loop.Config
	Update(fn func(c *loop.Config)) error
	SetMode(mode mapping.Mode) error
	SetTier(name string) error
	SetBackground(on bool)
	SetRenderEnabled(on bool)
	Stop()
	Done() <-chan struct{}
}

// Config configures the server.
type Config struct {
	Port         int
	StaticDir    string // served at / when set
	SettingsPath string // PUT /api/settings persists here when set
	Session      string // recorded session id, reported in status

	// Camera enables /api/camera when set.
	Camera *camera.Manager
}

// Server is the control API server.
type Server struct {
	app    *fiber.App
	config Config
	ctrl   Controller
	logger *slog.Logger

	// Hubs for websocket broadcast
	renderHub *hub.Hub
	perfHub   *hub.Hub
	eventHub  *hub.Hub

	eventsMu sync.RWMutex
	events   []loop.Event

	// OnSettings is called after a settings update was queued.
	OnSettings func()
}

// NewServer creates a server driving ctrl. ctrl may be nil and bound later
// with SetController; the API answers 503 until then.
func NewServer(config Config, ctrl Controller, logger *slog.Logger) *Server {
	logger = log.Or(logger).With("component", "web")
	s := &Server{
		config:    config,
		ctrl:      ctrl,
		logger:    logger,
		renderHub: hub.New("render", logger),
		perfHub:   hub.New("perf", logger),
		eventHub:  hub.New("events", logger),
		events:    make([]loop.Event, 0, maxEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "posemusic",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(cors.New())

	if config.StaticDir != "" {
		app.Static("/", config.StaticDir)
	}

	// API routes
	api := app.Group("/api", func(c *fiber.Ctx) error {
		if s.ctrl == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "loop not started")
		}
		return c.Next()
	})
	api.Get("/status", s.handleStatus)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)
	api.Get("/modes", s.handleModes)
	api.Post("/mode/:mode", s.handleSetMode)
	api.Post("/tier/:tier", s.handleSetTier)
	api.Post("/background", s.handleBackground)
	api.Post("/render", s.handleRender)
	api.Post("/stop", s.handleStop)
	api.Get("/events", s.handleEvents)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handlePutCamera)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/render", websocket.New(s.serveHub(s.renderHub)))
	app.Get("/ws/perf", websocket.New(s.serveHub(s.perfHub)))
	app.Get("/ws/events", websocket.New(s.serveHub(s.eventHub)))

	s.app = app
	return s
}

// SetController binds the loop the API drives. Call it before Run.
func (s *Server) SetController(ctrl Controller) {
	s.ctrl = ctrl
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// RenderHub is the hub skeleton renderers subscribe to.
func (s *Server) RenderHub() *hub.Hub {
	return s.renderHub
}

// Run starts the hubs and listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.StartHubs(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("web dashboard listening", "url", fmt.Sprintf("http://localhost:%d", s.config.Port))
		errc <- s.app.Listen(fmt.Sprintf(":%d", s.config.Port))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("web shutdown: %w", err)
		}
		return nil
	}
}

// StartHubs runs the broadcast hubs until ctx is done.
func (s *Server) StartHubs(ctx context.Context) {
	go s.renderHub.Run(ctx)
	go s.perfHub.Run(ctx)
	go s.eventHub.Run(ctx)
}

// Hooks returns loop hooks that feed the perf and event streams. The
// latest perf sample and status snapshot are sticky, so a dashboard that
// connects between reports is not left blank.
func (s *Server) Hooks() loop.Hooks {
	return loop.Hooks{
		OnPerf: func(p loop.Perf) {
			s.perfHub.BroadcastSticky(protocol.MustBytes(protocol.NewPerfMessage(perfData(p), p.At)))
		},
		OnCommands: func(at time.Time, cmds []mapping.Command) {
			if s.eventHub.ClientCount() == 0 {
				return
			}
			for _, c := range cmds {
				s.eventHub.BroadcastBytes(protocol.MustBytes(protocol.NewCommandMessage(commandData(c), at)))
			}
		},
		OnEvent: s.addEvent,
	}
}

func (s *Server) addEvent(e loop.Event) {
	s.eventsMu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	s.eventHub.BroadcastBytes(protocol.MustBytes(protocol.NewEventMessage(e.Kind, e.Detail, e.At)))
	s.publishStatus()
}

// publishStatus leaves a sticky status snapshot on the event stream.
func (s *Server) publishStatus() {
	if s.ctrl == nil {
		return
	}
	s.eventHub.BroadcastSticky(protocol.MustBytes(protocol.NewStatusMessage(s.status())))
}

// serveHub attaches a websocket to h for as long as it stays open.
func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		hub.Serve(h, conn)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func perfData(p loop.Perf) protocol.PerfData {
	return protocol.PerfData{
		FPS:       p.FPS,
		Skip:      p.Skip,
		InferMs:   p.InferMs,
		Tier:      p.Tier,
		Tick:      p.Counters.Ticks,
		Held:      p.Held,
		Energy:    p.Energy,
		Escalated: p.Escalated,
	}
}

func commandData(c mapping.Command) protocol.CommandData {
	return protocol.CommandData{
		Kind:      string(c.Kind),
		Pitch:     c.Pitch,
		Velocity:  c.Velocity,
		Semitones: c.Semitones,
		Range:     c.Range,
		Name:      c.Name,
		Value:     c.Value,
		BPM:       c.BPM,
	}
}
