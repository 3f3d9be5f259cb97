package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Render defaults
const (
	DefaultRenderPlane   = "xy"
	DefaultRenderPadding = 250.0
	DefaultGridSpacing   = 1000.0
	DefaultScannerRange  = 1000
	DefaultVectorDPI     = 10.0 // world units are drawn as millimetres
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Threshold: DefaultOverlapThreshold,
		Render: RenderConfig{
			Plane:       DefaultRenderPlane,
			Padding:     DefaultRenderPadding,
			GridSpacing: DefaultGridSpacing,
			Range:       DefaultScannerRange,
			Resolution:  DefaultVectorDPI,
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Unset fields keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
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

// Validate checks value ranges and scanner entries
func (c *Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", c.Threshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.PollSeconds < 0 {
		return fmt.Errorf("pollSeconds must not be negative, got %d", c.PollSeconds)
	}

	switch c.Render.Plane {
	case "", "xy", "xz", "yz":
	default:
		return fmt.Errorf("render.plane must be xy, xz or yz, got %q", c.Render.Plane)
	}
	if c.Render.Range < 0 {
		return fmt.Errorf("render.range must not be negative, got %d", c.Render.Range)
	}

	seen := make(map[string]bool, len(c.Scanners))
	for i, sc := range c.Scanners {
		if sc.ID == "" {
			return fmt.Errorf("scanner[%d].id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("scanner[%d].id %q is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true
	}

	if c.Anchor != "" && len(c.Scanners) > 0 && !seen[c.Anchor] {
		return fmt.Errorf("anchor %q is not a configured scanner", c.Anchor)
	}

	return nil
}

// ValidateService checks the fields required to run the MQTT service
func (c *Config) ValidateService() error {
	if c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Scanners) == 0 {
		return fmt.Errorf("at least one scanner must be defined")
	}
	for i, sc := range c.Scanners {
		if sc.Topic == "" && sc.ReportURL == "" {
			return fmt.Errorf("scanner[%d] %s needs a topic or reportUrl", i, sc.ID)
		}
	}
	return nil
}

// ScannerIDs returns the configured scanner IDs in config order
func (c *Config) ScannerIDs() []string {
	ids := make([]string, len(c.Scanners))
	for i, sc := range c.Scanners {
		ids[i] = sc.ID
	}
	return ids
}
