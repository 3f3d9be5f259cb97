package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	InputFile    string
	CacheFile    string
	OutputFile   string
	Anchor       string
	Threshold    int
	Workers      int
	Lenient      bool
	Reconstruct  bool
	Verbose      bool
	RenderOnly   bool
	RenderFormat string
	VectorFormat string
	Plane        string
	GridSpacing  float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// Runner is the set of modes main dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunReconstruct() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "beaconmesh: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("beaconmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.InputFile, "input", "", "Scanner report file (--- scanner N --- blocks)")
	fs.StringVar(&opts.CacheFile, "cache", "", "Path to the reconstruction cache (service default: .reconstruction-cache.json)")
	fs.StringVar(&opts.OutputFile, "output", "fleet-map.png", "Output file for --render mode")
	fs.StringVar(&opts.Anchor, "anchor", "", "Anchor scanner ID (default: from config or first scanner)")
	fs.IntVar(&opts.Threshold, "threshold", 0, "Overlap threshold (default: from config or 12)")
	fs.IntVar(&opts.Workers, "workers", 0, "Pair matching workers (default: GOMAXPROCS)")
	fs.BoolVar(&opts.Lenient, "lenient", false, "Accept the first qualifying alignment instead of failing on ambiguity")
	fs.BoolVar(&opts.Reconstruct, "reconstruct", false, "Reconstruct the fleet from --input and print beacon count and max scanner distance")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Print per-scanner poses with --reconstruct")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the fleet map from --input and exit")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster or vector")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.StringVar(&opts.Plane, "plane", "", "Projection plane: xy, xz or yz (default: from config or xy)")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 0, "Grid line spacing in world units (default: from config or 1000)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "beaconmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Reconstruct:
		return app.RunReconstruct()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use --input FILE --reconstruct to count beacons and measure scanner spread")
	fmt.Fprintln(out, "Use --input FILE --render to output a fleet map")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, scanners and matching options")
	fmt.Fprintln(out, "  .reconstruction-cache.json - Last successful reconstruction (cached)")
	return nil
}
