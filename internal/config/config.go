// internal/config/config.go
//
// This package handles configuration and the .replaykit directory structure.
// Every project that records with replaykit gets a .replaykit/ folder created
// in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ReplaykitDir is the name of the directory we create in each project.
	ReplaykitDir = ".replaykit"
)

const defaultProjectConfigYAML = `# replaykit project configuration
version: 1

# Device connection. The device server speaks MCP over stdio; command is the
# server binary plus arguments.
device:
  command: mobile-mcp
  args: []

# Verification oracle. Model used to judge verify_screen expectations against
# screenshots. The API key is read from OPENAI_API_KEY.
oracle:
  model: gpt-4o-mini

# Heuristic tuning. The defaults below reproduce the stock recorder behavior;
# override only if your device's touch cadence differs. A value of 0 (or an
# omitted key) means "use the built-in default"; no heuristic can be tuned to
# zero.
heuristics:
  tap_threshold_ms: 150
  long_press_threshold_ms: 450
  tap_radius_px: 10
  swipe_radius_px: 20
  multi_tap_window_ms: 300
  typing_min_taps: 3
  typing_max_gap_ms: 1000
  typing_band_fraction: 0.40
  long_wait_ms: 2000
  checkpoint_cap: 8
  hash_distance_threshold: 10
  navigation_bonus: 12
  frame_lead_ms: 100
  clock_skew_tolerance_ms: 500
`

// DeviceConfig declares how to reach the device automation server.
type DeviceConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// OracleConfig selects the screen-verification model.
type OracleConfig struct {
	Model string `yaml:"model"`
}

// Heuristics carries every tunable constant used by the recording compiler.
// None of these are hardcoded truths; they are the observed defaults of the
// legacy recorder, exposed so they can be adjusted per project.
type Heuristics struct {
	TapThresholdMS        int64   `yaml:"tap_threshold_ms"`
	LongPressThresholdMS  int64   `yaml:"long_press_threshold_ms"`
	TapRadiusPX           float64 `yaml:"tap_radius_px"`
	SwipeRadiusPX         float64 `yaml:"swipe_radius_px"`
	MultiTapWindowMS      int64   `yaml:"multi_tap_window_ms"`
	TypingMinTaps         int     `yaml:"typing_min_taps"`
	TypingMaxGapMS        int64   `yaml:"typing_max_gap_ms"`
	TypingBandFraction    float64 `yaml:"typing_band_fraction"`
	LongWaitMS            int64   `yaml:"long_wait_ms"`
	CheckpointCap         int     `yaml:"checkpoint_cap"`
	HashDistanceThreshold int     `yaml:"hash_distance_threshold"`
	NavigationBonus       float64 `yaml:"navigation_bonus"`
	FrameLeadMS           int64   `yaml:"frame_lead_ms"`
	ClockSkewToleranceMS  int64   `yaml:"clock_skew_tolerance_ms"`
}

// ProjectConfig models .replaykit/config.yaml.
type ProjectConfig struct {
	Version    int          `yaml:"version"`
	Device     DeviceConfig `yaml:"device"`
	Oracle     OracleConfig `yaml:"oracle"`
	Heuristics Heuristics   `yaml:"heuristics"`
}

// Config holds the runtime configuration for replaykit.
type Config struct {
	// ProjectDir is the directory where the user ran `replaykit` from.
	ProjectDir string

	// ReplaykitProjectDir is ProjectDir/.replaykit.
	ReplaykitProjectDir string

	Project ProjectConfig
}

// InitReplaykitDir creates the .replaykit directory structure in the given
// project directory.
//
// Structure created:
// .replaykit/
// ├── logs/       <- process log
// ├── sessions/   <- one directory per recording session
// └── scripts/    <- finalized test scripts
func InitReplaykitDir(projectDir string) error {
	replaykitDir := filepath.Join(projectDir, ReplaykitDir)

	dirs := []string{
		filepath.Join(replaykitDir, "logs"),
		filepath.Join(replaykitDir, "sessions"),
		filepath.Join(replaykitDir, "scripts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(replaykitDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:          projectDir,
		ReplaykitProjectDir: filepath.Join(projectDir, ReplaykitDir),
		Project:             defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ReplaykitProjectDir, "logs")
}

// SessionsDir returns the directory that holds recording sessions.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.ReplaykitProjectDir, "sessions")
}

// ScriptsDir returns the directory that holds finalized test scripts.
func (c *Config) ScriptsDir() string {
	return filepath.Join(c.ReplaykitProjectDir, "scripts")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ReplaykitProjectDir, "config.yaml")
}

// Heuristics returns the tuned heuristic constants.
func (c *Config) Heuristics() Heuristics {
	return c.Project.Heuristics
}

// Device returns the device server connection settings.
func (c *Config) Device() DeviceConfig {
	return c.Project.Device
}

// Oracle returns the verification oracle settings.
func (c *Config) Oracle() OracleConfig {
	return c.Project.Oracle
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:    1,
		Device:     DeviceConfig{Command: "mobile-mcp"},
		Oracle:     OracleConfig{Model: "gpt-4o-mini"},
		Heuristics: DefaultHeuristics(),
	}
}

// DefaultHeuristics returns the stock tuning used when no overrides exist.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		TapThresholdMS:        150,
		LongPressThresholdMS:  450,
		TapRadiusPX:           10,
		SwipeRadiusPX:         20,
		MultiTapWindowMS:      300,
		TypingMinTaps:         3,
		TypingMaxGapMS:        1000,
		TypingBandFraction:    0.40,
		LongWaitMS:            2000,
		CheckpointCap:         8,
		HashDistanceThreshold: 10,
		NavigationBonus:       12,
		FrameLeadMS:           100,
		ClockSkewToleranceMS:  500,
	}
}

// applyDefaults fills unset fields. Zero counts as unset: an explicit 0 in
// the project file falls back to the built-in default rather than disabling
// the heuristic.
func (pc *ProjectConfig) applyDefaults() {
	def := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = def.Version
	}
	if strings.TrimSpace(pc.Device.Command) == "" {
		pc.Device.Command = def.Device.Command
	}
	if strings.TrimSpace(pc.Oracle.Model) == "" {
		pc.Oracle.Model = def.Oracle.Model
	}
	h, dh := &pc.Heuristics, def.Heuristics
	if h.TapThresholdMS == 0 {
		h.TapThresholdMS = dh.TapThresholdMS
	}
	if h.LongPressThresholdMS == 0 {
		h.LongPressThresholdMS = dh.LongPressThresholdMS
	}
	if h.TapRadiusPX == 0 {
		h.TapRadiusPX = dh.TapRadiusPX
	}
	if h.SwipeRadiusPX == 0 {
		h.SwipeRadiusPX = dh.SwipeRadiusPX
	}
	if h.MultiTapWindowMS == 0 {
		h.MultiTapWindowMS = dh.MultiTapWindowMS
	}
	if h.TypingMinTaps == 0 {
		h.TypingMinTaps = dh.TypingMinTaps
	}
	if h.TypingMaxGapMS == 0 {
		h.TypingMaxGapMS = dh.TypingMaxGapMS
	}
	if h.TypingBandFraction == 0 {
		h.TypingBandFraction = dh.TypingBandFraction
	}
	if h.LongWaitMS == 0 {
		h.LongWaitMS = dh.LongWaitMS
	}
	if h.CheckpointCap == 0 {
		h.CheckpointCap = dh.CheckpointCap
	}
	if h.HashDistanceThreshold == 0 {
		h.HashDistanceThreshold = dh.HashDistanceThreshold
	}
	if h.NavigationBonus == 0 {
		h.NavigationBonus = dh.NavigationBonus
	}
	if h.FrameLeadMS == 0 {
		h.FrameLeadMS = dh.FrameLeadMS
	}
	if h.ClockSkewToleranceMS == 0 {
		h.ClockSkewToleranceMS = dh.ClockSkewToleranceMS
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Device.Command = strings.TrimSpace(pc.Device.Command)
	pc.Oracle.Model = strings.TrimSpace(pc.Oracle.Model)
	for i := range pc.Device.Args {
		pc.Device.Args[i] = strings.TrimSpace(pc.Device.Args[i])
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Device.Command == "" {
		return fmt.Errorf("device.command is required")
	}
	if pc.Oracle.Model == "" {
		return fmt.Errorf("oracle.model is required")
	}
	h := pc.Heuristics
	if h.TapThresholdMS <= 0 || h.LongPressThresholdMS <= 0 {
		return fmt.Errorf("heuristics: tap/long-press thresholds must be positive")
	}
	if h.LongPressThresholdMS <= h.TapThresholdMS {
		return fmt.Errorf("heuristics: long_press_threshold_ms must exceed tap_threshold_ms")
	}
	if h.TapRadiusPX <= 0 || h.SwipeRadiusPX <= 0 {
		return fmt.Errorf("heuristics: tap/swipe radii must be positive")
	}
	if h.TypingMinTaps < 2 {
		return fmt.Errorf("heuristics: typing_min_taps must be >= 2")
	}
	if h.TypingBandFraction <= 0 || h.TypingBandFraction >= 1 {
		return fmt.Errorf("heuristics: typing_band_fraction must be in (0, 1)")
	}
	if h.CheckpointCap < 1 {
		return fmt.Errorf("heuristics: checkpoint_cap must be >= 1")
	}
	if h.ClockSkewToleranceMS < 0 {
		return fmt.Errorf("heuristics: clock_skew_tolerance_ms must not be negative")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
