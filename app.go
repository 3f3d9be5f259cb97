package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kwv/beaconmesh/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *mesh.Config
	StateTracker *mesh.StateTracker
	MQTTClient   *mesh.MQTTClient
	Out          io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	InputFile    string
	CacheFile    string
	OutputFile   string
	Anchor       string
	Threshold    int
	Workers      int
	Lenient      bool
	Verbose      bool
	RenderFormat string
	VectorFormat string
	Plane        string
	GridSpacing  float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	rebuildMu sync.Mutex
	// Set once MQTT is up; report handlers may already be running by then
	publisher atomic.Pointer[mesh.Publisher]
	fetcher   *mesh.ReportFetcher
}

// cacheMaxAge is how old a cached reconstruction may be before the service
// stops serving it and waits for fresh reports.
const cacheMaxAge = 24 * time.Hour

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: mesh.NewStateTracker(),
		Out:          os.Stdout,
		fetcher:      mesh.NewReportFetcher(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.InputFile = opts.InputFile
	a.CacheFile = opts.CacheFile
	a.OutputFile = opts.OutputFile
	a.Anchor = opts.Anchor
	a.Threshold = opts.Threshold
	a.Workers = opts.Workers
	a.Lenient = opts.Lenient
	a.Verbose = opts.Verbose
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.Plane = opts.Plane
	a.GridSpacing = opts.GridSpacing
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file and applies CLI overrides. A missing file
// is an error only when required is set; otherwise defaults are used.
func (a *App) loadConfig(required bool) (*mesh.Config, error) {
	var config *mesh.Config

	if _, err := os.Stat(a.ConfigFile); err != nil && os.IsNotExist(err) && !required {
		config = mesh.DefaultConfig()
	} else {
		config, err = mesh.LoadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Loaded config from %s", a.ConfigFile)
	}

	if a.Anchor != "" {
		config.Anchor = a.Anchor
	}
	if a.Threshold > 0 {
		config.Threshold = a.Threshold
	}
	if a.Workers > 0 {
		config.Workers = a.Workers
	}
	if a.Lenient {
		strict := false
		config.StrictMatching = &strict
	}
	if a.Plane != "" {
		config.Render.Plane = a.Plane
	}
	if a.GridSpacing > 0 {
		config.Render.GridSpacing = a.GridSpacing
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	a.Config = config
	return config, nil
}

// reconstructInput parses the input file and reconstructs the fleet
func (a *App) reconstructInput(ctx context.Context, config *mesh.Config) (*mesh.Reconstruction, error) {
	if a.InputFile == "" {
		return nil, errors.New("--input is required")
	}

	scanners, err := mesh.ParseReportFile(a.InputFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Parsed %d scanner reports from %s", len(scanners), a.InputFile)

	rec, err := mesh.Reconstruct(ctx, scanners, config.ReconstructOptions())
	if err != nil {
		return nil, fmt.Errorf("reconstruction failed: %w", err)
	}
	return rec, nil
}

// RunReconstruct prints the distinct beacon count and the largest Manhattan
// distance between scanners, one per line.
func (a *App) RunReconstruct() error {
	config, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	rec, err := a.reconstructInput(context.Background(), config)
	if err != nil {
		return err
	}

	if a.Verbose {
		for _, sp := range rec.Scanners {
			fmt.Fprintf(a.Out, "scanner %s: position %s rotation %s beacons %d\n",
				sp.ID, sp.Pose.Position, sp.Pose.Rotation, sp.BeaconCount)
		}
		fmt.Fprintf(a.Out, "anchor %s, %d overlaps\n", rec.Anchor, rec.Metrics.OverlapCount)
	}

	fmt.Fprintf(a.Out, "%d\n%d\n", rec.Metrics.BeaconCount, rec.Metrics.MaxScannerDistance)

	if a.CacheFile != "" {
		if err := mesh.SaveReconstruction(a.CacheFile, rec); err != nil {
			log.Printf("Warning: failed to save reconstruction cache: %v", err)
		}
	}
	return nil
}

// RunRender writes a fleet map for --input, or for the cached reconstruction
// when no input is given.
func (a *App) RunRender() error {
	config, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	var rec *mesh.Reconstruction
	if a.InputFile != "" {
		rec, err = a.reconstructInput(context.Background(), config)
		if err != nil {
			return err
		}
	} else {
		cachePath := a.CacheFile
		if cachePath == "" {
			cachePath = mesh.DefaultCachePath
		}
		rec, err = mesh.LoadReconstruction(cachePath)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no --input given and no reconstruction cache at %s", cachePath)
		}
	}

	switch a.RenderFormat {
	case "", "raster":
		renderer := mesh.NewFleetRenderer(rec, config.Render)
		mesh.ApplyScannerColors(renderer.Colors, config.Scanners)
		if !renderer.HasDrawableContent() {
			return errors.New("nothing to render")
		}
		if err := renderer.SavePNG(a.OutputFile); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Wrote %s\n", a.OutputFile)
		return nil
	case "vector":
		return a.renderVector(rec, config)
	default:
		return fmt.Errorf("unknown render format %q (want raster or vector)", a.RenderFormat)
	}
}

func (a *App) renderVector(rec *mesh.Reconstruction, config *mesh.Config) error {
	renderer := mesh.NewVectorFleetRenderer(rec, config.Render)
	mesh.ApplyScannerColors(renderer.Colors, config.Scanners)

	outPath := a.OutputFile
	ext := "." + a.VectorFormat
	if !strings.HasSuffix(outPath, ext) {
		outPath = strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ext
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch a.VectorFormat {
	case "svg":
		err = renderer.RenderToSVG(f)
	case "png":
		err = renderer.RenderToPNG(f)
	default:
		return fmt.Errorf("unknown vector format %q (want svg or png)", a.VectorFormat)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", a.VectorFormat, err)
	}

	fmt.Fprintf(a.Out, "Wrote %s\n", outPath)
	return nil
}

// RunService runs the MQTT and/or HTTP service until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting beaconmesh service...")

	config, err := a.loadConfig(true)
	if err != nil {
		return err
	}
	if a.MqttMode {
		if err := config.ValidateService(); err != nil {
			return fmt.Errorf("invalid service config: %w", err)
		}
	}

	cachePath := a.CacheFile
	if cachePath == "" {
		cachePath = mesh.DefaultCachePath
	}
	a.initStateTracker(cachePath, config)

	mesh.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed reports from a file and any HTTP report endpoints
	if a.InputFile != "" {
		scanners, err := mesh.ParseReportFile(a.InputFile)
		if err != nil {
			return err
		}
		for _, s := range scanners {
			a.StateTracker.UpdateReport(s)
		}
		log.Printf("Loaded %d initial reports from %s", len(scanners), a.InputFile)
	}
	a.fetchReports(ctx, config)
	a.rebuildIfComplete(ctx)

	if a.MqttMode {
		mqttClient, err := mesh.InitMQTT(config, func(scannerID string, report *mesh.Scanner, err error) {
			a.handleReport(ctx, scannerID, report, err)
		}, mesh.WithConnectHook(a.publishCurrent))
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		a.setPublisher(mesh.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix))
		fmt.Fprintln(a.Out, "MQTT reconstruction publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	if config.PollSeconds > 0 {
		go a.pollReports(ctx, config, time.Duration(config.PollSeconds)*time.Second)
	}

	a.printServiceInfo(config)

	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

// initStateTracker restores the cached reconstruction unless it is older
// than cacheMaxAge.
func (a *App) initStateTracker(cachePath string, config *mesh.Config) {
	a.StateTracker = mesh.NewStateTrackerWithCache(cachePath)
	a.StateTracker.SetOrder(config.ScannerIDs())

	rec := a.StateTracker.GetReconstruction()
	if rec == nil {
		return
	}
	if rec.NeedsRebuild(cacheMaxAge) {
		log.Printf("Cached reconstruction %s is older than %v; waiting for fresh reports", rec.RunID, cacheMaxAge)
		a.StateTracker.ResetReconstruction()
		return
	}
	log.Printf("Loaded cached reconstruction %s (%d beacons)", rec.RunID, rec.Metrics.BeaconCount)
}

// setPublisher installs the MQTT publisher and publishes whatever
// reconstruction already exists, such as one seeded from --input or a
// reportUrl before MQTT came up.
func (a *App) setPublisher(p *mesh.Publisher) {
	a.publisher.Store(p)
	a.publishCurrent()
}

// publishCurrent publishes the latest reconstruction, if there is one and a
// publisher is installed. It holds rebuildMu so an older result is never
// published after a newer one.
func (a *App) publishCurrent() {
	p := a.publisher.Load()
	if p == nil {
		return
	}

	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	rec := a.StateTracker.GetReconstruction()
	if rec == nil {
		return
	}
	if err := p.PublishReconstruction(rec); err != nil {
		log.Printf("Error publishing reconstruction: %v", err)
	}
}

func (a *App) printServiceInfo(config *mesh.Config) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, sc := range config.Scanners {
			if sc.Topic != "" {
				fmt.Fprintf(a.Out, "    - %s (%s)\n", sc.Topic, sc.ID)
			}
		}
		prefix := config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "beaconmesh"
		}
		fmt.Fprintf(a.Out, "  Summary: %s/reconstruction\n", prefix)
		fmt.Fprintf(a.Out, "  Poses:   %s/scanners/{scannerID}\n", prefix)
	}

	if config.PollSeconds > 0 {
		fmt.Fprintf(a.Out, "\nPolling report URLs every %ds\n", config.PollSeconds)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health             - Health check")
		fmt.Fprintln(a.Out, "  GET /api/reconstruction - Latest reconstruction")
		fmt.Fprintln(a.Out, "  GET /api/beacons        - Absolute beacon set")
		fmt.Fprintln(a.Out, "  GET /api/scanners       - Scanner poses and coverage")
		fmt.Fprintln(a.Out, "  GET /fleet-map.png      - Raster fleet map")
		fmt.Fprintln(a.Out, "  GET /fleet-map.svg      - Vector fleet map")
		fmt.Fprintln(a.Out, "  GET /metrics            - Prometheus metrics")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}

// fetchReports pulls the current report of every scanner with a reportUrl
// and returns how many changed since the last fetch.
func (a *App) fetchReports(ctx context.Context, config *mesh.Config) int {
	updated := 0
	for _, sc := range config.Scanners {
		if sc.ReportURL == "" {
			continue
		}
		report, err := a.fetcher.Fetch(ctx, sc.ID, sc.ReportURL)
		if errors.Is(err, mesh.ErrReportUnchanged) {
			continue
		}
		if err != nil {
			log.Printf("Warning: fetching report for %s: %v", sc.ID, err)
			continue
		}
		a.StateTracker.UpdateReport(report)
		updated++
		log.Printf("%s: fetched %d beacons from %s", sc.ID, len(report.Beacons), sc.ReportURL)
	}
	return updated
}

// pollReports refetches reportUrl scanners every interval and rebuilds only
// when one of them changed.
func (a *App) pollReports(ctx context.Context, config *mesh.Config, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.fetchReports(ctx, config) > 0 {
				a.rebuildIfComplete(ctx)
			}
		}
	}
}

// handleReport stores an incoming scanner report and rebuilds once every
// configured scanner has reported.
func (a *App) handleReport(ctx context.Context, scannerID string, report *mesh.Scanner, err error) {
	if err != nil {
		log.Printf("Error receiving report for %s: %v", scannerID, err)
		return
	}

	a.StateTracker.UpdateReport(report)
	log.Printf("%s: received %d beacons", scannerID, len(report.Beacons))

	a.rebuildIfComplete(ctx)
}

// rebuildIfComplete reconstructs and publishes when no configured scanner is
// missing a report.
func (a *App) rebuildIfComplete(ctx context.Context) {
	if !a.StateTracker.HasReports() {
		return
	}
	if missing := a.StateTracker.MissingReports(a.Config.ScannerIDs()); len(missing) > 0 {
		log.Printf("Waiting for reports from %v", missing)
		return
	}

	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	rec, err := a.StateTracker.Rebuild(ctx, a.Config.ReconstructOptions())
	if err != nil {
		log.Printf("Reconstruction failed: %v", err)
		return
	}
	log.Printf("Reconstruction %s: %d beacons, max scanner distance %d",
		rec.RunID, rec.Metrics.BeaconCount, rec.Metrics.MaxScannerDistance)

	if p := a.publisher.Load(); p != nil {
		if err := p.PublishReconstruction(rec); err != nil {
			log.Printf("Error publishing reconstruction: %v", err)
		}
	}
}
