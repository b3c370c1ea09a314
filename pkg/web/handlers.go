package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/protocol"
	"github.com/teslashibe/go-posemusic/pkg/settings"
)

// ApplySettings queues s onto the controller. Tuning fields take effect on
// the next tick; a tier request goes through the quality tuner.
func ApplySettings(ctrl Controller, s *settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Tier != nil && *s.Tier != "" {
		if err := ctrl.SetTier(*s.Tier); err != nil && !errors.Is(err, loop.ErrNoQualityTuner) {
			return err
		}
	}
	return ctrl.Update(func(c *loop.Config) { *c = s.Apply(*c) })
}

func (s *Server) status() protocol.StatusData {
	perf := s.ctrl.Status()
	cfg := s.ctrl.Config()

	running := true
	select {
	case <-s.ctrl.Done():
		running = false
	default:
	}

	return protocol.StatusData{
		Running:    running,
		Background: perf.Background,
		Mode:       string(cfg.Mapping.Mode),
		Scale:      cfg.Mapping.Scale,
		Session:    s.config.Session,
		Perf:       perfData(perf),
	}
}

// handleStatus returns the loop's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleGetSettings returns the effective settings
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(settings.FromConfig(s.ctrl.Config(), s.ctrl.Status().Tier))
}

// handlePutSettings applies a partial settings update
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	update, err := settings.Parse(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := ApplySettings(s.ctrl, update); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if s.config.SettingsPath != "" {
		current, err := settings.Load(s.config.SettingsPath)
		if err != nil {
			current = &settings.Settings{}
		}
		if err := current.Merge(update).Save(s.config.SettingsPath); err != nil {
			s.logger.Warn("failed to persist settings", "path", s.config.SettingsPath, "error", err)
		}
	}

	if s.OnSettings != nil {
		s.OnSettings()
	}
	s.logger.Info("settings updated")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

// handleModes lists the mapping modes and scales
func (s *Server) handleModes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"modes":  mapping.Modes(),
		"scales": mapping.ScaleNames(),
	})
}

// handleSetMode switches the mapping mode
func (s *Server) handleSetMode(c *fiber.Ctx) error {
	mode, ok := mapping.ParseMode(c.Params("mode"))
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown mode %q", c.Params("mode")))
	}
	if err := s.ctrl.SetMode(mode); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"mode": mode})
}

// handleSetTier asks the quality tuner for a capture tier
func (s *Server) handleSetTier(c *fiber.Ctx) error {
	tier := strings.ToLower(c.Params("tier"))
	err := s.ctrl.SetTier(tier)
	switch {
	case err == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tier": tier})
	case errors.Is(err, loop.ErrUnknownTier):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, loop.ErrNoQualityTuner):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	default:
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
}

type toggleRequest struct {
	Background *bool `json:"background,omitempty"`
	Enabled    *bool `json:"enabled,omitempty"`
}

// handleBackground freezes or resumes the loop
func (s *Server) handleBackground(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil || req.Background == nil {
		return fiber.NewError(fiber.StatusBadRequest, `expected {"background": bool}`)
	}
	s.ctrl.SetBackground(*req.Background)
	return c.JSON(fiber.Map{"background": *req.Background})
}

// handleRender enables or disables skeleton rendering
func (s *Server) handleRender(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return fiber.NewError(fiber.StatusBadRequest, `expected {"enabled": bool}`)
	}
	s.ctrl.SetRenderEnabled(*req.Enabled)
	return c.JSON(fiber.Map{"enabled": *req.Enabled})
}

// handleStop stops the loop and releases every held note
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctrl.Stop()
	s.logger.Info("loop stopped via API")
	return c.JSON(fiber.Map{"status": "stopped"})
}

// handleEvents returns recent loop events, oldest first
func (s *Server) handleEvents(c *fiber.Ctx) error {
	s.eventsMu.RLock()
	events := make([]loop.Event, len(s.events))
	copy(events, s.events)
	s.eventsMu.RUnlock()

	if kind := c.Query("kind"); kind != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	return c.JSON(events)
}

// handleGetCamera returns the capture config and the tiers it moves between
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	cams := s.config.Camera
	if cams == nil {
		return fiber.NewError(fiber.StatusNotFound, "no camera attached")
	}
	return c.JSON(fiber.Map{
		"config":   cams.GetConfig(),
		"tiers":    camera.Tiers(),
		"switches": cams.Switches(),
	})
}

// handlePutCamera patches frame rate, JPEG quality or mirroring
func (s *Server) handlePutCamera(c *fiber.Ctx) error {
	cams := s.config.Camera
	if cams == nil {
		return fiber.NewError(fiber.StatusNotFound, "no camera attached")
	}
	var patch camera.Patch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := cams.Update(patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(cams.GetConfig())
}
