package services

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/WVU-ASEL/glidar/pkg/config"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
)

// PoseListener is told about every pose configuration that was accepted.
// This avoids a direct dependency on the simulator loop.
type PoseListener interface {
	PoseConfigUpdated(cfg config.PoseConfig) bool
}

// PoseConfigService manages the operational scene pose.
type PoseConfigService interface {
	LoadConfig() error
	GetCurrentConfig() config.PoseConfig
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetListener(l PoseListener)
}

// poseConfigService implements the PoseConfigService interface.
type poseConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	listener              PoseListener
	currentConfig         config.PoseConfig
	mu                    sync.RWMutex
}

// NewPoseConfigService creates a new PoseConfigService.
// A missing file is not an error: the default pose is used and written on the
// first update.
func NewPoseConfigService(operationalConfigPath string, logger customlog.Logger) (PoseConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational pose configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &poseConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger,
		currentConfig:         config.DefaultPoseConfig(),
	}

	if err := service.LoadConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Warnf("Pose config '%s' not found, using default pose", operationalConfigPath)
		return service, nil
	}

	logger.Infof("PoseConfigService initialized successfully for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads the pose file from disk. On failure the current pose is kept.
func (s *poseConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading pose configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadPoseConfig(s.operationalConfigPath)
	if err != nil {
		return err
	}
	s.currentConfig = *cfg
	s.logger.Infof("Successfully loaded pose configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns a copy of the current pose.
func (s *poseConfigService) GetCurrentConfig() config.PoseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML renders the in-memory pose, so it works before the
// file has been written.
func (s *poseConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	cfg := s.currentConfig
	s.mu.RUnlock()
	return cfg.Marshal()
}

// UpdateConfig validates, persists and applies a new pose, then tells the
// listener.
func (s *poseConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCfg, err := config.ParsePoseConfig(newConfigYAML)
	if err != nil {
		s.logger.Errorf("Rejected pose configuration: %v", err)
		return err
	}

	// Persist before applying
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		return err
	}

	oldID := s.currentConfig.ConfigID
	s.currentConfig = *newCfg
	s.logger.Infof("Updated pose configuration. ID %s -> %s, Version: %s", oldID, newCfg.ConfigID, newCfg.Version)

	if s.listener != nil {
		if !s.listener.PoseConfigUpdated(*newCfg) {
			s.logger.Warnf("Pose listener did not accept update %s", newCfg.ConfigID)
		}
	}
	return nil
}

// PersistConfig writes the given YAML data to the pose file path.
func (s *poseConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

// persistConfigUnlocked assumes the caller holds the lock.
func (s *poseConfigService) persistConfigUnlocked(yamlData []byte) error {
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing pose config file '%s': %v", s.operationalConfigPath, err)
		return fmt.Errorf("error writing pose config file '%s': %w", s.operationalConfigPath, err)
	}
	s.logger.Debugf("Persisted pose configuration to %s", s.operationalConfigPath)
	return nil
}

// SetListener injects the listener after initialization.
func (s *poseConfigService) SetListener(l PoseListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}
