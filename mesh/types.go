package mesh

import "fmt"

// Point3 is an exact integer coordinate. It is comparable and used directly
// as a map key.
type Point3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add returns p + q
func (p Point3) Add(q Point3) Point3 {
	return Point3{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// Sub returns p - q
func (p Point3) Sub(q Point3) Point3 {
	return Point3{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Neg returns -p
func (p Point3) Neg() Point3 {
	return Point3{X: -p.X, Y: -p.Y, Z: -p.Z}
}

// Manhattan returns the L1 distance between p and q
func (p Point3) Manhattan(q Point3) int {
	d := p.Sub(q)
	return abs(d.X) + abs(d.Y) + abs(d.Z)
}

func (p Point3) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Scanner is one sensor's report: beacon coordinates relative to its own
// unknown position and orientation. Beacons is never modified after parsing.
type Scanner struct {
	ID      string   `json:"id"`
	Beacons []Point3 `json:"beacons"`
}

// Pose is a scanner's absolute orientation and position in the anchor frame
type Pose struct {
	Rotation Rotation `json:"rotation"`
	Position Point3   `json:"position"`
}

// Transform returns the rigid transform that maps the scanner's local
// coordinates into the anchor frame.
func (p Pose) Transform() Transform {
	return Transform{Rotation: p.Rotation, Translation: p.Position}
}

// ScannerPose is a resolved pose labelled with its scanner ID
type ScannerPose struct {
	ID          string `json:"id"`
	Pose        Pose   `json:"pose"`
	BeaconCount int    `json:"beaconCount"`
}

// Config represents the full configuration file
type Config struct {
	MQTT           MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Anchor         string          `yaml:"anchor,omitempty" json:"anchor,omitempty"` // Optional anchor scanner ID
	Threshold      int             `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Workers        int             `yaml:"workers,omitempty" json:"workers,omitempty"` // 0 = GOMAXPROCS
	StrictMatching *bool           `yaml:"strictMatching,omitempty" json:"strictMatching,omitempty"`
	Scanners       []ScannerConfig `yaml:"scanners,omitempty" json:"scanners,omitempty"`
	PollSeconds    int             `yaml:"pollSeconds,omitempty" json:"pollSeconds,omitempty"` // reportUrl poll interval, 0 = fetch once at startup
	Render         RenderConfig    `yaml:"render,omitempty" json:"render,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ScannerConfig defines a scanner from the config file
type ScannerConfig struct {
	ID        string `yaml:"id" json:"id"`
	Topic     string `yaml:"topic" json:"topic"`
	Color     string `yaml:"color,omitempty" json:"color,omitempty"`
	ReportURL string `yaml:"reportUrl,omitempty" json:"reportUrl,omitempty"` // Optional HTTP endpoint serving the scanner's latest report
}

// RenderConfig holds fleet map rendering settings
type RenderConfig struct {
	Plane       string  `yaml:"plane,omitempty" json:"plane,omitempty"`             // xy, xz or yz
	Padding     float64 `yaml:"padding,omitempty" json:"padding,omitempty"`         // world units around the content
	GridSpacing float64 `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"` // 0 disables grid lines
	Range       int     `yaml:"range,omitempty" json:"range,omitempty"`             // scanner detection half-width
	Resolution  float64 `yaml:"resolution,omitempty" json:"resolution,omitempty"`   // vector PNG DPI
}

// GetScannerByID returns the scanner config for the given ID
func (c *Config) GetScannerByID(id string) *ScannerConfig {
	for i := range c.Scanners {
		if c.Scanners[i].ID == id {
			return &c.Scanners[i]
		}
	}
	return nil
}

// MatchConfig derives the pair matcher settings from the config
func (c *Config) MatchConfig() MatchConfig {
	cfg := DefaultMatchConfig()
	if c.Threshold > 0 {
		cfg.Threshold = c.Threshold
	}
	if c.StrictMatching != nil {
		cfg.Strict = *c.StrictMatching
	}
	return cfg
}

// ReconstructOptions derives the reconstruction options from the config
func (c *Config) ReconstructOptions() ReconstructOptions {
	return ReconstructOptions{
		Match:   c.MatchConfig(),
		Workers: c.Workers,
		Anchor:  c.Anchor,
	}
}
