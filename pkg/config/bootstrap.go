package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the process configuration looked up inside the config directory.
const BootstrapFileName = "glidar_config.yaml"

// BootstrapConfig holds the process configuration loaded from glidar_config.yaml
type BootstrapConfig struct {
	Logging     LoggingConfig         `yaml:"logging"`
	Server      BootstrapServerConfig `yaml:"server"`
	Model       ModelConfig           `yaml:"model"`
	Sensor      SensorConfig          `yaml:"sensor"`
	ZeroMQ      ZeroMQBootstrap       `yaml:"zeromq"`
	Clip        ClipConfig            `yaml:"clip"`
	Depth       DepthConfig           `yaml:"depth"`
	Output      OutputConfig          `yaml:"output"`
	Data        DataConfig            `yaml:"data"`
	SaveAndQuit bool                  `yaml:"save_and_quit"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// BootstrapServerConfig holds the HTTP API settings. A zero port disables the API.
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ModelConfig points at the mesh to render.
type ModelConfig struct {
	Path  string  `yaml:"path"`
	Scale float64 `yaml:"scale"`
}

// SensorConfig describes the simulated sensor raster.
type SensorConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FOV    float64 `yaml:"fov"` // degrees
}

// ZeroMQBootstrap holds the streaming session settings.
// The control (sync) endpoint always lives on Port+1.
type ZeroMQBootstrap struct {
	Port            int    `yaml:"port"` // 0 disables publishing
	PhysicsPort     int    `yaml:"physics_port"`
	PhysicsHost     string `yaml:"physics_host"`
	Subscribers     int    `yaml:"subscribers"`
	HighWaterMark   int    `yaml:"high_water_mark"` // physics subscriber; 0 keeps only the latest pose
	PubHighWater    int    `yaml:"pub_high_water_mark"`
	Conflate        bool   `yaml:"conflate"` // cloud publisher keeps only its newest message
	PubRate         int    `yaml:"pub_rate"`
	BlockingPhysics bool   `yaml:"blocking_physics"`
}

// ClipConfig tunes the clip-plane solver and the nearest-point search.
type ClipConfig struct {
	MinNearPlane float64 `yaml:"min_near_plane"`
	NearFactor   float64 `yaml:"near_factor"`
	FarFactor    float64 `yaml:"far_factor"`
	Epsilon      float64 `yaml:"epsilon"`
	MaxChecks    int     `yaml:"max_checks"`
}

// DepthConfig selects the reconstruction path.
type DepthConfig struct {
	Mode      string `yaml:"mode"` // analytic or unproject
	Organized bool   `yaml:"organized"`
}

// OutputConfig controls what gets written to disk.
type OutputConfig struct {
	Directory     string `yaml:"directory"`
	Basename      string `yaml:"basename"`
	PCDFormat     string `yaml:"pcd_format"`     // binary or ascii
	MetadataMode  string `yaml:"metadata_mode"`  // matrix or components
	PreviewFormat string `yaml:"preview_format"` // webp, tga or none
	PreviewScale  int    `yaml:"preview_scale"`
	Database      string `yaml:"database,omitempty"`
	RecordWorkers int    `yaml:"record_workers"`
	RecordQueue   int    `yaml:"record_queue"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory          string `yaml:"directory"`
	PoseConfigFilename string `yaml:"pose_config_file"`
}

// DefaultBootstrapConfig returns the settings used when a field is omitted.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Model:   ModelConfig{Scale: 1.0},
		Sensor:  SensorConfig{Width: 256, Height: 256, FOV: 20},
		ZeroMQ: ZeroMQBootstrap{
			PhysicsHost: "localhost",
			Subscribers: 1,
			PubRate:     15,
		},
		Clip: ClipConfig{
			MinNearPlane: 0.1,
			NearFactor:   0.99,
			FarFactor:    1.01,
			Epsilon:      0.0,
			MaxChecks:    128,
		},
		Depth: DepthConfig{Mode: "analytic"},
		Output: OutputConfig{
			Directory:     ".",
			Basename:      "buffer",
			PCDFormat:     "binary",
			MetadataMode:  "matrix",
			PreviewFormat: "webp",
			PreviewScale:  1,
			RecordWorkers: 1,
			RecordQueue:   16,
		},
		Data: DataConfig{Directory: ".", PoseConfigFilename: "pose.yaml"},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from glidar_config.yaml.
// Omitted fields keep their defaults.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	bootstrapCfg := DefaultBootstrapConfig()
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}

	return &bootstrapCfg, nil
}

// Validate checks required fields and value ranges.
func (c *BootstrapConfig) Validate() error {
	if c.Model.Path == "" {
		return fmt.Errorf("missing required field in bootstrap config: model.path")
	}
	if c.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if c.Data.PoseConfigFilename == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.pose_config_file")
	}
	if c.Model.Scale <= 0 {
		return fmt.Errorf("invalid value in bootstrap config: model.scale must be positive, got %g", c.Model.Scale)
	}
	if c.Sensor.Width <= 0 || c.Sensor.Height <= 0 {
		return fmt.Errorf("invalid value in bootstrap config: sensor size %dx%d", c.Sensor.Width, c.Sensor.Height)
	}
	if c.Sensor.FOV <= 0 || c.Sensor.FOV >= 180 {
		return fmt.Errorf("invalid value in bootstrap config: sensor.fov must be in (0, 180), got %g", c.Sensor.FOV)
	}
	if c.ZeroMQ.Port < 0 || c.ZeroMQ.Port > 65534 {
		return fmt.Errorf("invalid value in bootstrap config: zeromq.port %d", c.ZeroMQ.Port)
	}
	if c.ZeroMQ.HighWaterMark < 0 {
		return fmt.Errorf("invalid value in bootstrap config: zeromq.high_water_mark must not be negative")
	}
	if c.ZeroMQ.PubHighWater < 0 {
		return fmt.Errorf("invalid value in bootstrap config: zeromq.pub_high_water_mark must not be negative")
	}
	if c.ZeroMQ.PubRate < 1 {
		return fmt.Errorf("invalid value in bootstrap config: zeromq.pub_rate must be at least 1")
	}
	if c.ZeroMQ.Port > 0 && c.ZeroMQ.Subscribers < 0 {
		return fmt.Errorf("invalid value in bootstrap config: zeromq.subscribers must not be negative")
	}
	if c.Clip.MinNearPlane <= 0 {
		return fmt.Errorf("invalid value in bootstrap config: clip.min_near_plane must be positive")
	}
	if c.Clip.NearFactor <= 0 || c.Clip.NearFactor > 1 {
		return fmt.Errorf("invalid value in bootstrap config: clip.near_factor must be in (0, 1]")
	}
	if c.Clip.FarFactor < 1 {
		return fmt.Errorf("invalid value in bootstrap config: clip.far_factor must be at least 1")
	}
	switch c.Depth.Mode {
	case "analytic", "unproject":
	default:
		return fmt.Errorf("invalid value in bootstrap config: depth.mode %q", c.Depth.Mode)
	}
	switch c.Output.PCDFormat {
	case "binary", "ascii":
	default:
		return fmt.Errorf("invalid value in bootstrap config: output.pcd_format %q", c.Output.PCDFormat)
	}
	switch c.Output.MetadataMode {
	case "matrix", "components":
	default:
		return fmt.Errorf("invalid value in bootstrap config: output.metadata_mode %q", c.Output.MetadataMode)
	}
	switch c.Output.PreviewFormat {
	case "webp", "tga", "none":
	default:
		return fmt.Errorf("invalid value in bootstrap config: output.preview_format %q", c.Output.PreviewFormat)
	}
	return nil
}

// PoseConfigPath returns the path of the operational pose file.
func (c *BootstrapConfig) PoseConfigPath() string {
	return filepath.Join(c.Data.Directory, c.Data.PoseConfigFilename)
}
