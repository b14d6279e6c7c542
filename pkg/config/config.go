package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrValidation marks a pose configuration that parsed but is not usable.
	ErrValidation = errors.New("validation failed")
	// ErrParse marks pose input that is not valid YAML.
	ErrParse = errors.New("parse failed")
)

// PoseConfig is the operational scene pose. It can be replaced at runtime
// through the API and is persisted as YAML next to the bootstrap config.
type PoseConfig struct {
	Version     string      `yaml:"version" json:"version"`
	ConfigID    string      `yaml:"config_id" json:"config_id"`
	Object      Orientation `yaml:"object" json:"object"`
	Sensor      Orientation `yaml:"sensor" json:"sensor"`
	Translation Vector3     `yaml:"translation" json:"translation"`
	ObjectRate  Vector3     `yaml:"object_rate" json:"object_rate"` // rad/s
	SensorRate  Vector3     `yaml:"sensor_rate" json:"sensor_rate"` // rad/s
	CameraSpeed float64     `yaml:"camera_speed" json:"camera_speed"`
}

// Orientation is a roll/pitch/yaw attitude in degrees.
type Orientation struct {
	Roll  float64 `yaml:"roll" json:"roll"`
	Pitch float64 `yaml:"pitch" json:"pitch"`
	Yaw   float64 `yaml:"yaw" json:"yaw"`
}

// Vector3 is a plain 3-vector as written in YAML.
type Vector3 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// DefaultPoseConfig places the object ten units in front of an unrotated sensor.
func DefaultPoseConfig() PoseConfig {
	return PoseConfig{
		Version:     "1.0",
		ConfigID:    "default",
		Translation: Vector3{Z: 10},
		CameraSpeed: 36,
	}
}

// LoadPoseConfig loads a pose configuration from the specified file path.
func LoadPoseConfig(path string) (*PoseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading pose config file: %w", err)
	}
	return ParsePoseConfig(data)
}

// ParsePoseConfig parses and validates pose YAML. Omitted fields keep defaults.
func ParsePoseConfig(data []byte) (*PoseConfig, error) {
	cfg := DefaultPoseConfig()
	cfg.Version = ""
	cfg.ConfigID = ""
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing pose config: %v", ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the simulator cannot run without.
func (c *PoseConfig) Validate() error {
	if c.Version == "" || c.ConfigID == "" {
		return fmt.Errorf("%w: missing required fields (version, config_id)", ErrValidation)
	}
	if c.CameraSpeed < 0 {
		return fmt.Errorf("%w: camera_speed must not be negative", ErrValidation)
	}
	return nil
}

// Marshal renders the configuration back to YAML.
func (c *PoseConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// IsZero reports whether the rate is exactly zero on every axis.
func (v Vector3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}
