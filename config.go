package webcamctl

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultCommandTimeout = 15 * time.Second

// Snapshot backends
const (
	CaptureBackendFFmpeg = "ffmpeg"
	CaptureBackendV4L2   = "v4l2"
)

type SnapshotConfig struct {
	Backend     string `yaml:"backend"`
	Tool        string `yaml:"tool"`
	PixelFormat string `yaml:"pixelFormat"`
	Width       uint   `yaml:"width"`
	Height      uint   `yaml:"height"`
	Output      string `yaml:"output"`
	// frames dropped before the stored one, v4l2 backend only
	Skip        int    `yaml:"skip"`
}

type InterlockConfig struct {
	// boolean control switching automatic mode
	AutoControl string `yaml:"autoControl"`
	// numeric control which is read-only while AutoControl is on
	DependentControl string `yaml:"dependentControl"`
}

type Config struct {
	Device         string          `yaml:"device"`
	ControlTool    string          `yaml:"controlTool"`
	CommandTimeout time.Duration   `yaml:"commandTimeout"`
	Interlock      InterlockConfig `yaml:"interlock"`
	Snapshot       SnapshotConfig  `yaml:"snapshot"`
	Listen         string          `yaml:"listen"`
	LogLevel       string          `yaml:"logLevel"`
	LogFile        bool            `yaml:"logFile"`
}

// Get settings usable for a typical UVC webcam
func DefaultConfig() *Config {
	return &Config{
		Device:         "/dev/video0",
		ControlTool:    "v4l2-ctl",
		CommandTimeout: DefaultCommandTimeout,
		Interlock: InterlockConfig{
			AutoControl:      ControlWhiteBalanceAutomatic,
			DependentControl: ControlWhiteBalanceTemperature,
		},
		Snapshot: SnapshotConfig{
			Backend:     CaptureBackendFFmpeg,
			Tool:        "ffmpeg",
			PixelFormat: "mjpeg",
			Width:       1280,
			Height:      720,
			Output:      "/tmp/webcamctl-preview.jpg",
		},
		Listen:   "127.0.0.1:8000",
		LogLevel: "info",
	}
}

// LoadConfig reads YAML settings on top of DefaultConfig. A missing file is
// not an error, the defaults are used as is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Do basic consistency checks for configuration values
func (c *Config) Verify() (res []error) {
	if c.Device == "" {
		res = append(res, errors.New("device path must be set"))
	}
	if c.ControlTool == "" {
		res = append(res, errors.New("control tool must be set"))
	}
	if c.CommandTimeout <= 0 {
		res = append(res, fmt.Errorf("command timeout must be positive, got %s", c.CommandTimeout))
	}
	if (c.Interlock.AutoControl == "") != (c.Interlock.DependentControl == "") {
		res = append(res, errors.New("interlock needs both auto and dependent control names or neither"))
	}
	if c.Interlock.AutoControl != "" && c.Interlock.AutoControl == c.Interlock.DependentControl {
		res = append(res, fmt.Errorf("interlock control %q cannot depend on itself", c.Interlock.AutoControl))
	}
	switch c.Snapshot.Backend {
	case CaptureBackendFFmpeg:
		if c.Snapshot.Tool == "" {
			res = append(res, errors.New("snapshot tool must be set for ffmpeg backend"))
		}
		if c.Snapshot.PixelFormat == "" {
			res = append(res, errors.New("snapshot pixel format must be set for ffmpeg backend"))
		}
	case CaptureBackendV4L2:
	default:
		res = append(res, fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend))
	}
	if c.Snapshot.Skip < 0 {
		res = append(res, fmt.Errorf("snapshot skip must not be negative, got %d", c.Snapshot.Skip))
	}
	if c.Snapshot.Width == 0 || c.Snapshot.Height == 0 {
		res = append(res, fmt.Errorf("snapshot resolution must be positive: %dx%d", c.Snapshot.Width, c.Snapshot.Height))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		res = append(res, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return
}
