package mesh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "fleet"
anchor: north
threshold: 10
workers: 4
strictMatching: false
scanners:
  - id: north
    topic: "sensors/north/report"
    color: "#FF0000"
  - id: south
    reportUrl: "http://south.local/report"
render:
  plane: xz
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if config.MQTT.Broker != "mqtt://localhost:1883" {
		t.Errorf("Broker = %q", config.MQTT.Broker)
	}
	if config.Anchor != "north" {
		t.Errorf("Anchor = %q, want north", config.Anchor)
	}
	if len(config.Scanners) != 2 {
		t.Fatalf("len(Scanners) = %d, want 2", len(config.Scanners))
	}
	if config.Scanners[1].ReportURL != "http://south.local/report" {
		t.Errorf("ReportURL = %q", config.Scanners[1].ReportURL)
	}

	// Unset render fields keep their defaults
	if config.Render.Plane != "xz" {
		t.Errorf("Render.Plane = %q, want xz", config.Render.Plane)
	}
	if config.Render.Range != DefaultScannerRange {
		t.Errorf("Render.Range = %d, want %d", config.Render.Range, DefaultScannerRange)
	}
	if config.Render.GridSpacing != DefaultGridSpacing {
		t.Errorf("Render.GridSpacing = %v, want %v", config.Render.GridSpacing, DefaultGridSpacing)
	}

	opts := config.ReconstructOptions()
	if opts.Match.Threshold != 10 || opts.Match.Strict {
		t.Errorf("Match = %+v, want threshold 10 non-strict", opts.Match)
	}
	if opts.Workers != 4 || opts.Anchor != "north" {
		t.Errorf("ReconstructOptions = %+v", opts)
	}

	sc := config.GetScannerByID("north")
	if sc == nil || sc.Topic != "sensors/north/report" {
		t.Errorf("GetScannerByID(north) = %+v", sc)
	}
	if config.GetScannerByID("east") != nil {
		t.Error("GetScannerByID(east) should be nil")
	}

	ids := config.ScannerIDs()
	if strings.Join(ids, ",") != "north,south" {
		t.Errorf("ScannerIDs() = %v", ids)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	match := config.MatchConfig()
	if match.Threshold != DefaultOverlapThreshold || !match.Strict {
		t.Errorf("MatchConfig() = %+v, want threshold 12 strict", match)
	}
	if config.Render.Plane != DefaultRenderPlane {
		t.Errorf("Render.Plane = %q", config.Render.Plane)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{"bad yaml", "threshold: [1,2\n", "parsing config YAML"},
		{"zero threshold", "threshold: 0\n", "threshold must be at least 1"},
		{"negative workers", "workers: -2\n", "workers must not be negative"},
		{"negative poll", "pollSeconds: -5\n", "pollSeconds must not be negative"},
		{"bad plane", "render:\n  plane: xw\n", "render.plane"},
		{"negative range", "render:\n  range: -1\n", "render.range"},
		{"missing id", "scanners:\n  - topic: a\n", "scanner[0].id is required"},
		{"duplicate id", "scanners:\n  - id: a\n  - id: a\n", "duplicated"},
		{"unknown anchor", "anchor: z\nscanners:\n  - id: a\n", "anchor \"z\" is not a configured scanner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not contain %q", err, tt.contains)
			}
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("missing file error = %v", err)
	}
}

func TestValidateService(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	tests := []struct {
		name     string
		config   *Config
		contains string
	}{
		{
			name:     "missing broker",
			config:   &Config{Scanners: []ScannerConfig{{ID: "a", Topic: "t"}}},
			contains: "mqtt.broker is required",
		},
		{
			name:     "no scanners",
			config:   &Config{MQTT: MQTTConfig{Broker: "tcp://b:1883"}},
			contains: "at least one scanner",
		},
		{
			name:     "scanner without source",
			config:   &Config{MQTT: MQTTConfig{Broker: "tcp://b:1883"}, Scanners: []ScannerConfig{{ID: "a"}}},
			contains: "needs a topic or reportUrl",
		},
		{
			name:   "valid",
			config: &Config{MQTT: MQTTConfig{Broker: "tcp://b:1883"}, Scanners: []ScannerConfig{{ID: "a", Topic: "t"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.ValidateService()
			if tt.contains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error = %v, want containing %q", err, tt.contains)
			}
		})
	}
}

func TestValidateService_BrokerFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	config := &Config{Scanners: []ScannerConfig{{ID: "a", Topic: "t"}}}
	if err := config.ValidateService(); err != nil {
		t.Errorf("ValidateService() with env broker: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.Anchor = "a"
	config.Scanners = []ScannerConfig{{ID: "a", Topic: "sensors/a"}}

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveConfig(path, config); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.Anchor != "a" || len(loaded.Scanners) != 1 || loaded.Scanners[0].Topic != "sensors/a" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
