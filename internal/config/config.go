// internal/config/config.go
//
// This package handles configuration and the .atc directory structure.
// Running atc in a directory creates .atc/ there to hold the config file
// and the logs.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

const (
	// AtcDir is the name of the directory we create in each project
	AtcDir = ".atc"

	defaultSeed          = "default"
	defaultSubjectPrefix = "atc"
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultBridgeHost    = "127.0.0.1"
	defaultBridgePort    = 8787
	defaultThrottleMs    = 150
)

const defaultProjectConfigYAML = `# agent traffic control configuration
version: 1

simulation:
  # One of Calm, Rush, Web.
  plan: Calm
  # Identical seeds replay identical runs.
  seed: default
  speed: 1
  tick_interval_ms: 50
  max_concurrent: 12
  # Emit deps_cleared/start_item/complete_item alongside tick diffs.
  signals: false
  # Start ticking as soon as the engine loads.
  autostart: true

mirror:
  throttle_ms: 150

# HTTP/WebSocket bridge used by "atc serve" and "atc -remote".
bridge:
  enabled: true
  host: 127.0.0.1
  port: 8787

nats:
  enabled: false
  url: nats://127.0.0.1:4222
  subject_prefix: atc
`

// SimulationConfig controls the engine.
type SimulationConfig struct {
	Plan           string  `yaml:"plan"`
	Seed           string  `yaml:"seed"`
	Speed          float64 `yaml:"speed"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	Signals        bool    `yaml:"signals"`
	Autostart      *bool   `yaml:"autostart,omitempty"`
}

// MirrorConfig controls the consumer-side mirror.
type MirrorConfig struct {
	ThrottleMs int `yaml:"throttle_ms"`
}

// BridgeConfig controls the HTTP/WebSocket bridge.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// NATSConfig controls the optional NATS publisher.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// ProjectConfig models .atc/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Simulation SimulationConfig `yaml:"simulation"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	NATS       NATSConfig       `yaml:"nats"`
}

// Config holds the runtime configuration for atc.
type Config struct {
	// ProjectDir is the directory where the user ran `atc` from
	ProjectDir string

	// AtcProjectDir is ProjectDir/.atc
	AtcProjectDir string

	Project ProjectConfig
}

// InitDir creates the .atc directory structure in the given project
// directory and writes the default config when none exists.
//
// Structure created:
// .atc/
// ├── config.yaml
// └── logs/
func InitDir(projectDir string) error {
	atcDir := filepath.Join(projectDir, AtcDir)
	if err := os.MkdirAll(filepath.Join(atcDir, "logs"), 0755); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(atcDir, "config.yaml"))
}

// NewConfig loads .atc/config.yaml (if present) and applies environment
// overrides on top.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		AtcProjectDir: filepath.Join(projectDir, AtcDir),
		Project:       DefaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.AtcProjectDir, "logs")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.AtcProjectDir, "config.yaml")
}

// PlanName returns the configured plan, falling back to the default plan.
func (c *Config) PlanName() plan.Name {
	name, err := plan.ParseName(c.Project.Simulation.Plan)
	if err != nil {
		return plan.DefaultName
	}
	return name
}

// TickInterval returns the configured engine cadence.
func (c *Config) TickInterval() time.Duration {
	return msDuration(c.Project.Simulation.TickIntervalMs)
}

// MirrorThrottle returns the configured flush window.
func (c *Config) MirrorThrottle() time.Duration {
	return msDuration(c.Project.Mirror.ThrottleMs)
}

// BridgeEnabled reports whether the bridge should start.
func (c *Config) BridgeEnabled() bool {
	return c.Project.Bridge.Enabled == nil || *c.Project.Bridge.Enabled
}

// Autostart reports whether the engine should tick without waiting for a
// SetRunning intent. Unset means yes.
func (c *Config) Autostart() bool {
	return c.Project.Simulation.Autostart == nil || *c.Project.Simulation.Autostart
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
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

	parsed := DefaultProjectConfig()
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

// DefaultProjectConfig mirrors the file InitDir writes.
func DefaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	sim := &pc.Simulation
	if strings.TrimSpace(sim.Plan) == "" {
		sim.Plan = string(plan.DefaultName)
	}
	if sim.Seed == "" {
		sim.Seed = defaultSeed
	}
	if sim.Speed == 0 {
		sim.Speed = 1
	}
	if sim.TickIntervalMs == 0 {
		sim.TickIntervalMs = int(work.TickInterval.Milliseconds())
	}
	if sim.MaxConcurrent == 0 {
		sim.MaxConcurrent = work.MaxConcurrent
	}
	if pc.Mirror.ThrottleMs == 0 {
		pc.Mirror.ThrottleMs = defaultThrottleMs
	}
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = defaultBridgePort
	}
	if pc.NATS.URL == "" {
		pc.NATS.URL = defaultNATSURL
	}
	if pc.NATS.SubjectPrefix == "" {
		pc.NATS.SubjectPrefix = defaultSubjectPrefix
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	sim := &pc.Simulation
	if value := strings.TrimSpace(os.Getenv("ATC_PLAN")); value != "" {
		sim.Plan = value
	}
	if value, ok := os.LookupEnv("ATC_SEED"); ok {
		sim.Seed = value
	}
	if value := strings.TrimSpace(os.Getenv("ATC_SPEED")); value != "" {
		if speed, err := strconv.ParseFloat(value, 64); err == nil {
			sim.Speed = speed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ATC_AUTOSTART")); value != "" {
		if autostart, err := strconv.ParseBool(value); err == nil {
			sim.Autostart = &autostart
		}
	}
	if value := strings.TrimSpace(os.Getenv("ATC_BRIDGE_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Bridge.Enabled = &enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("ATC_BRIDGE_HOST")); host != "" {
		pc.Bridge.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("ATC_BRIDGE_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			pc.Bridge.Port = parsed
		}
	}
	if url := strings.TrimSpace(os.Getenv("ATC_NATS_URL")); url != "" {
		pc.NATS.URL = url
		pc.NATS.Enabled = true
	}
}

func (pc *ProjectConfig) normalize() {
	sim := &pc.Simulation
	if name, err := plan.ParseName(sim.Plan); err == nil {
		sim.Plan = string(name)
	} else {
		sim.Plan = strings.TrimSpace(sim.Plan)
	}
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	pc.NATS.URL = strings.TrimSpace(pc.NATS.URL)
	pc.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(pc.NATS.SubjectPrefix), ".")
	if pc.NATS.SubjectPrefix == "" {
		pc.NATS.SubjectPrefix = defaultSubjectPrefix
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	sim := pc.Simulation
	if _, err := plan.ParseName(sim.Plan); err != nil {
		return fmt.Errorf("simulation.plan: %w", err)
	}
	if sim.Speed <= 0 || math.IsNaN(sim.Speed) || math.IsInf(sim.Speed, 0) {
		return fmt.Errorf("simulation.speed must be > 0")
	}
	if sim.TickIntervalMs <= 0 {
		return fmt.Errorf("simulation.tick_interval_ms must be > 0")
	}
	if sim.MaxConcurrent <= 0 {
		return fmt.Errorf("simulation.max_concurrent must be > 0")
	}
	if pc.Mirror.ThrottleMs < 0 {
		return fmt.Errorf("mirror.throttle_ms must be >= 0")
	}
	if pc.Bridge.Port <= 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if pc.NATS.Enabled && pc.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
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
