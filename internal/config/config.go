package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

type Config struct {
	Hotkeys     HotkeyConfig  `json:"hotkeys" mapstructure:"hotkeys"`
	Server      ServerConfig  `json:"server" mapstructure:"server"`
	Camera      CameraConfig  `json:"camera" mapstructure:"camera"`
	Audio       AudioConfig   `json:"audio" mapstructure:"audio"`
	Storage     StorageConfig `json:"storage" mapstructure:"storage"`
	CopyResults bool          `json:"copy_results" mapstructure:"copy_results"`
	MetricsAddr string        `json:"metrics_addr" mapstructure:"metrics_addr"` // empty disables /metrics
	LogLevel    string        `json:"log_level" mapstructure:"log_level"`

	path string
}

type HotkeyConfig struct {
	Record        string `json:"record" mapstructure:"record"`
	RecordDarwin  string `json:"record_darwin" mapstructure:"record_darwin"`
	Shutter       string `json:"shutter" mapstructure:"shutter"`
	ShutterDarwin string `json:"shutter_darwin" mapstructure:"shutter_darwin"`
	Mode          string `json:"mode" mapstructure:"mode"` // "PushToTalk" or "Toggle"
}

type ServerConfig struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxInFlight int           `json:"max_in_flight" mapstructure:"max_in_flight"`
}

type CameraConfig struct {
	Backend        string        `json:"backend" mapstructure:"backend"` // "opencv"
	DeviceIndex    int           `json:"device_index" mapstructure:"device_index"`
	TargetWidth    int           `json:"target_width" mapstructure:"target_width"`
	TargetHeight   int           `json:"target_height" mapstructure:"target_height"`
	SettleDelay    time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
	FPSMin         int           `json:"fps_min" mapstructure:"fps_min"`
	FPSMax         int           `json:"fps_max" mapstructure:"fps_max"`
	PreviewTargets int           `json:"preview_targets" mapstructure:"preview_targets"` // 2 for the stereo display
}

type AudioConfig struct {
	Backend      string `json:"backend" mapstructure:"backend"` // "portaudio" or "malgo"
	DeviceID     string `json:"device_id" mapstructure:"device_id"`
	ChunkSeconds int    `json:"chunk_seconds" mapstructure:"chunk_seconds"`
}

type StorageConfig struct {
	PicturesDir string `json:"pictures_dir" mapstructure:"pictures_dir"`
	AudioDir    string `json:"audio_dir" mapstructure:"audio_dir"`
}

// Viper returns a viper instance carrying the defaults and TILE_LENS_* env overrides.
// Callers bind their CLI flags to it before calling Load.
func Viper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("TILE_LENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("hotkeys.record", "Alt+Space")
	v.SetDefault("hotkeys.record_darwin", "Alt+Space") // Option+Space
	v.SetDefault("hotkeys.shutter", "Alt+P")
	v.SetDefault("hotkeys.shutter_darwin", "Alt+P")
	v.SetDefault("hotkeys.mode", ModePushToTalk)

	v.SetDefault("server.base_url", "http://127.0.0.1:8000/")
	v.SetDefault("server.timeout", 60*time.Second)
	v.SetDefault("server.max_in_flight", 2)

	v.SetDefault("camera.backend", "opencv")
	v.SetDefault("camera.device_index", 0)
	v.SetDefault("camera.target_width", 900)
	v.SetDefault("camera.target_height", 1200)
	v.SetDefault("camera.settle_delay", 100*time.Millisecond)
	v.SetDefault("camera.fps_min", 15)
	v.SetDefault("camera.fps_max", 30)
	v.SetDefault("camera.preview_targets", 1)

	v.SetDefault("audio.backend", "portaudio")
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.chunk_seconds", 10)

	v.SetDefault("storage.pictures_dir", filepath.Join(DataPath(), "pictures"))
	v.SetDefault("storage.audio_dir", filepath.Join(DataPath(), "audio"))

	v.SetDefault("copy_results", true)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	return v
}

// Load reads the config file at path (the platform default when empty) on top
// of v's defaults. A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = configPath()
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the capture pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Hotkeys.Mode != ModePushToTalk && c.Hotkeys.Mode != ModeToggle:
		return fmt.Errorf("invalid hotkeys.mode %q", c.Hotkeys.Mode)
	case c.Camera.TargetWidth <= 0 || c.Camera.TargetHeight <= 0:
		return fmt.Errorf("camera target size must be positive, got %dx%d", c.Camera.TargetWidth, c.Camera.TargetHeight)
	case c.Camera.FPSMin <= 0 || c.Camera.FPSMin > c.Camera.FPSMax:
		return fmt.Errorf("invalid camera fps range [%d, %d]", c.Camera.FPSMin, c.Camera.FPSMax)
	case c.Camera.PreviewTargets < 1 || c.Camera.PreviewTargets > 2:
		return fmt.Errorf("camera.preview_targets must be 1 or 2, got %d", c.Camera.PreviewTargets)
	case c.Camera.SettleDelay < 0:
		return fmt.Errorf("camera.settle_delay must not be negative")
	case c.Audio.ChunkSeconds <= 0:
		return fmt.Errorf("audio.chunk_seconds must be positive, got %d", c.Audio.ChunkSeconds)
	case c.Server.MaxInFlight <= 0:
		return fmt.Errorf("server.max_in_flight must be positive, got %d", c.Server.MaxInFlight)
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// PlatformRecordHotkey returns the hold-to-talk accelerator for the current platform
func (c *Config) PlatformRecordHotkey() string {
	if runtime.GOOS == "darwin" && c.Hotkeys.RecordDarwin != "" {
		return c.Hotkeys.RecordDarwin
	}
	return c.Hotkeys.Record
}

// PlatformShutterHotkey returns the shutter accelerator for the current platform
func (c *Config) PlatformShutterHotkey() string {
	if runtime.GOOS == "darwin" && c.Hotkeys.ShutterDarwin != "" {
		return c.Hotkeys.ShutterDarwin
	}
	return c.Hotkeys.Shutter
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "tile-lens", "config.json")
}

// DataPath returns the platform-specific directory photos and audio chunks are written under
func DataPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "tile-lens")
}
