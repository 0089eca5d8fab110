package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/modbus"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

type outputReporter interface {
	Outputs() hardware.Outputs
}

// Manager owns the single hardware backend of the device.
type Manager struct {
	loader *ProfileLoader
	logger *zap.Logger

	mu      sync.RWMutex
	backend hardware.Backend
	profile *types.HardwareProfile
}

func NewManager(searchPaths []string, logger *zap.Logger) (*Manager, error) {
	loader, err := NewProfileLoader(searchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	return &Manager{
		loader: loader,
		logger: logger,
	}, nil
}

// Open loads the hardware profile and brings up the configured backend.
// For modbus the I/O module must answer, otherwise the device cannot start.
func (m *Manager) Open(ctx context.Context, cfg config.HardwareConfig) (hardware.Backend, *types.HardwareProfile, error) {
	profile, err := m.loader.Load(cfg.Profile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile %s: %w", cfg.Profile, err)
	}

	var backend hardware.Backend
	switch cfg.Backend {
	case "modbus":
		device, err := modbus.NewDevice(profile, m.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create device: %w", err)
		}
		if err := device.Connect(ctx); err != nil {
			return nil, nil, err
		}
		backend = device

	case "sim":
		simCfg := hardware.DefaultSimConfig()
		simCfg.FullScale = profile.Calibration.FullScaleCounts
		backend = hardware.NewSimulator(simCfg)

	default:
		return nil, nil, fmt.Errorf("unknown hardware backend: %s", cfg.Backend)
	}

	m.mu.Lock()
	m.backend = backend
	m.profile = profile
	m.mu.Unlock()

	m.logger.Info("Hardware backend opened",
		zap.String("backend", cfg.Backend),
		zap.String("profile", profile.HardwareProfile.ID),
		zap.String("address", profile.Connection.Address))

	return backend, profile, nil
}

func (m *Manager) Profile() *types.HardwareProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Outputs reports the motor outputs if the backend tracks them.
func (m *Manager) Outputs() (hardware.Outputs, bool) {
	m.mu.RLock()
	backend := m.backend
	m.mu.RUnlock()

	if r, ok := backend.(outputReporter); ok {
		return r.Outputs(), true
	}
	return hardware.Outputs{}, false
}

// Close stops the motor and releases the backend.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend == nil {
		return nil
	}

	if err := m.backend.Stop(ctx); err != nil {
		m.logger.Error("Failed to stop motor on close", zap.Error(err))
	}
	err := m.backend.Close()
	m.backend = nil
	return err
}

// Profiles lists the hardware profiles this device could be started with.
func (m *Manager) Profiles() []ProfileSummary {
	return m.loader.List()
}
