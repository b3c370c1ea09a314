package camera

import (
	"context"
	"fmt"
	"sync"
)

// Patch is a partial capture update. Nil fields are left alone. Resolution
// is not patched directly; it moves with tiers.
type Patch struct {
	Framerate *int  `json:"framerate,omitempty"`
	Quality   *int  `json:"quality,omitempty"`
	Mirror    *bool `json:"mirror,omitempty"`
}

// Manager holds the current capture configuration and pushes changes to
// the device.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	switches int

	// OnConfigChange applies a new configuration to the capture device.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a new camera manager with the given config.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current capture configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Switches returns how many resolution changes were applied.
func (m *Manager) Switches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.switches
}

// SetConfig validates and applies cfg. When the callback fails the previous
// configuration is restored.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid capture config: %v", errs)
	}

	m.mu.Lock()
	prev := m.config
	m.config = cfg
	apply := m.OnConfigChange
	m.mu.Unlock()

	if apply != nil {
		if err := apply(cfg); err != nil {
			m.mu.Lock()
			m.config = prev
			m.mu.Unlock()
			return fmt.Errorf("apply capture config: %w", err)
		}
	}

	if !prev.SameResolution(cfg) {
		m.mu.Lock()
		m.switches++
		m.mu.Unlock()
	}
	return nil
}

// SwitchTier applies a tier's resolution, keeping the other settings.
// It is the quality tuner's switch collaborator.
func (m *Manager) SwitchTier(ctx context.Context, tier Tier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := m.GetConfig()
	cfg.Width = tier.Config.Width
	cfg.Height = tier.Config.Height
	return m.SetConfig(cfg)
}

// Update applies the fields set in p.
func (m *Manager) Update(p Patch) error {
	cfg := m.GetConfig()
	if p.Framerate != nil {
		cfg.Framerate = *p.Framerate
	}
	if p.Quality != nil {
		cfg.Quality = *p.Quality
	}
	if p.Mirror != nil {
		cfg.Mirror = *p.Mirror
	}
	return m.SetConfig(cfg)
}
