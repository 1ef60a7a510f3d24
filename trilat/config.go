package trilat

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	ReadingPrefix string `yaml:"readingPrefix" json:"readingPrefix"` // topic prefix distance sensors publish under
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"` // topic prefix estimates are published under
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DeviceConfig names a tracked device so estimates can carry a friendly name.
type DeviceConfig struct {
	ID   string `yaml:"id" json:"id"` // sensor prefix, e.g. "bwzugdvi"
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// SolverOverrides are the optional solver tunables exposed in the config
// file. Zero values fall back to DefaultSolverConfig.
type SolverOverrides struct {
	MaxIterations     int     `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	ConvergenceThresh float64 `yaml:"convergenceThresh,omitempty" json:"convergenceThresh,omitempty"`
	OutlierFactor     float64 `yaml:"outlierFactor,omitempty" json:"outlierFactor,omitempty"`
}

// Config is the full service configuration file.
type Config struct {
	MQTT          MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	FloorplanFile string          `yaml:"floorplan,omitempty" json:"floorplan,omitempty"`
	Devices       []DeviceConfig  `yaml:"devices,omitempty" json:"devices,omitempty"`
	CycleSeconds  float64         `yaml:"cycleSeconds,omitempty" json:"cycleSeconds,omitempty"`   // estimation interval (default 5s)
	MaxReadingAge float64         `yaml:"maxReadingAge,omitempty" json:"maxReadingAge,omitempty"` // staleness window in seconds (default 30s)
	Solver        SolverOverrides `yaml:"solver,omitempty" json:"solver,omitempty"`
}

// GetDeviceByID returns the device config for the given ID.
func (c *Config) GetDeviceByID(id string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// CycleInterval returns the estimation cycle interval.
func (c *Config) CycleInterval() time.Duration {
	if c.CycleSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CycleSeconds * float64(time.Second))
}

// ReadingMaxAge returns the staleness window for cached readings.
func (c *Config) ReadingMaxAge() time.Duration {
	if c.MaxReadingAge <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MaxReadingAge * float64(time.Second))
}

// SolverConfig merges the config file overrides onto the defaults.
func (c *Config) SolverConfig() SolverConfig {
	cfg := DefaultSolverConfig()
	if c.Solver.MaxIterations > 0 {
		cfg.MaxIterations = c.Solver.MaxIterations
	}
	if c.Solver.ConvergenceThresh > 0 {
		cfg.ConvergenceThresh = c.Solver.ConvergenceThresh
	}
	if c.Solver.OutlierFactor > 0 {
		cfg.OutlierFactor = c.Solver.OutlierFactor
	}
	return cfg
}

// LoadConfig loads the service configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}
	for i, dc := range config.Devices {
		if dc.ID == "" {
			return nil, fmt.Errorf("device[%d].id is required", i)
		}
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
