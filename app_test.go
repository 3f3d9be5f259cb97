package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kwv/beaconmesh/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp returns an App reading the sample fleet with no config file
func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	app.InputFile = sampleFleetPath
	return app, &out
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestApp_ApplyOptions(t *testing.T) {
	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:   "c.yaml",
		InputFile:    "in.txt",
		Anchor:       "3",
		Threshold:    8,
		Lenient:      true,
		RenderFormat: "vector",
		HttpPort:     9000,
		MqttMode:     true,
	})

	assert.Equal(t, "c.yaml", app.ConfigFile)
	assert.Equal(t, "in.txt", app.InputFile)
	assert.Equal(t, "3", app.Anchor)
	assert.Equal(t, 8, app.Threshold)
	assert.True(t, app.Lenient)
	assert.Equal(t, "vector", app.RenderFormat)
	assert.Equal(t, 9000, app.HttpPort)
	assert.True(t, app.MqttMode)
	assert.NotNil(t, app.StateTracker)
}

func TestApp_RunReconstruct(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, app.RunReconstruct())
	assert.Equal(t, "79\n3621\n", out.String())
}

func TestApp_RunReconstruct_Verbose(t *testing.T) {
	app, out := newTestApp(t)
	app.Verbose = true
	app.Anchor = "0"

	require.NoError(t, app.RunReconstruct())
	assert.Contains(t, out.String(), "scanner 1: position 68,-1246,-43 rotation ")
	assert.Contains(t, out.String(), "anchor 0, 4 overlaps\n")
	assert.True(t, strings.HasSuffix(out.String(), "79\n3621\n"))
}

func TestApp_RunReconstruct_OtherAnchor(t *testing.T) {
	app, out := newTestApp(t)
	app.Anchor = "4"

	require.NoError(t, app.RunReconstruct())
	assert.Equal(t, "79\n3621\n", out.String())
}

func TestApp_RunReconstruct_WritesCache(t *testing.T) {
	app, _ := newTestApp(t)
	app.CacheFile = filepath.Join(t.TempDir(), "cache.json")

	require.NoError(t, app.RunReconstruct())

	rec, err := mesh.LoadReconstruction(app.CacheFile)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 79, rec.Metrics.BeaconCount)
}

func TestApp_RunReconstruct_Errors(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.InputFile = ""
		err := app.RunReconstruct()
		assert.EqualError(t, err, "--input is required")
	})

	t.Run("unreadable input", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.InputFile = filepath.Join(t.TempDir(), "nope.txt")
		assert.Error(t, app.RunReconstruct())
	})

	t.Run("unknown anchor", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.Anchor = "42"
		err := app.RunReconstruct()
		require.Error(t, err)
		assert.ErrorIs(t, err, mesh.ErrUnknownAnchor)
	})

	t.Run("invalid config", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.ConfigFile = writeConfig(t, "render:\n  plane: top\n")
		assert.Error(t, app.RunReconstruct())
	})
}

func TestApp_LoadConfig(t *testing.T) {
	t.Run("defaults when missing", func(t *testing.T) {
		app, _ := newTestApp(t)
		config, err := app.loadConfig(false)
		require.NoError(t, err)
		assert.Equal(t, mesh.DefaultOverlapThreshold, config.Threshold)
		assert.Same(t, config, app.Config)
	})

	t.Run("required and missing", func(t *testing.T) {
		app, _ := newTestApp(t)
		_, err := app.loadConfig(true)
		assert.Error(t, err)
	})

	t.Run("overrides", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.ConfigFile = writeConfig(t, `
threshold: 10
workers: 2
scanners:
  - id: "0"
  - id: "1"
render:
  plane: xz
`)
		app.Anchor = "1"
		app.Threshold = 12
		app.Workers = 4
		app.Lenient = true
		app.Plane = "yz"
		app.GridSpacing = 500

		config, err := app.loadConfig(true)
		require.NoError(t, err)
		assert.Equal(t, "1", config.Anchor)
		assert.Equal(t, 12, config.Threshold)
		assert.Equal(t, 4, config.Workers)
		require.NotNil(t, config.StrictMatching)
		assert.False(t, *config.StrictMatching)
		assert.Equal(t, "yz", config.Render.Plane)
		assert.Equal(t, 500.0, config.Render.GridSpacing)
	})

	t.Run("override fails validation", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.ConfigFile = writeConfig(t, "scanners:\n  - id: a\n")
		app.Anchor = "b"
		_, err := app.loadConfig(true)
		assert.Error(t, err)
	})
}

func TestApp_RunRender_Raster(t *testing.T) {
	app, out := newTestApp(t)
	app.OutputFile = filepath.Join(t.TempDir(), "map.png")

	require.NoError(t, app.RunRender())
	assert.Contains(t, out.String(), "Wrote "+app.OutputFile)

	info, err := os.Stat(app.OutputFile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestApp_RunRender_Vector(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		vectorFormat string
		wantFile     string
		wantPrefix   string
	}{
		{"svg", "map.svg", "<svg"},
		{"png", "map.png", "\x89PNG"},
	}
	for _, tt := range tests {
		t.Run(tt.vectorFormat, func(t *testing.T) {
			app, _ := newTestApp(t)
			app.RenderFormat = "vector"
			app.VectorFormat = tt.vectorFormat
			app.OutputFile = filepath.Join(dir, "map.png")

			require.NoError(t, app.RunRender())

			data, err := os.ReadFile(filepath.Join(dir, tt.wantFile))
			require.NoError(t, err)
			assert.Contains(t, string(data[:min(len(data), 256)]), tt.wantPrefix)
		})
	}
}

func TestApp_RunRender_FromCache(t *testing.T) {
	app, _ := newTestApp(t)
	app.CacheFile = filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, app.RunReconstruct())

	app.InputFile = ""
	app.OutputFile = filepath.Join(t.TempDir(), "cached.png")
	require.NoError(t, app.RunRender())

	_, err := os.Stat(app.OutputFile)
	assert.NoError(t, err)
}

func TestApp_RunRender_Errors(t *testing.T) {
	t.Run("no input and no cache", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.InputFile = ""
		app.CacheFile = filepath.Join(t.TempDir(), "none.json")
		err := app.RunRender()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no reconstruction cache")
	})

	t.Run("unknown format", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.RenderFormat = "ascii"
		app.OutputFile = filepath.Join(t.TempDir(), "x.png")
		assert.Error(t, app.RunRender())
	})

	t.Run("unknown vector format", func(t *testing.T) {
		app, _ := newTestApp(t)
		app.RenderFormat = "vector"
		app.VectorFormat = "pdf"
		app.OutputFile = filepath.Join(t.TempDir(), "x.png")
		assert.Error(t, app.RunRender())
	})
}

func TestApp_RebuildIfComplete(t *testing.T) {
	scanners, err := mesh.ParseReportFile(sampleFleetPath)
	require.NoError(t, err)

	app := NewApp()
	app.Config = sampleServiceConfig()
	mock := mesh.NewMockClient()
	mock.SetConnected(true)
	app.publisher.Store(mesh.NewPublisher(mock, "fleet"))

	ctx := context.Background()
	for _, s := range scanners {
		app.handleReport(ctx, s.ID, s, nil)
	}
	// Scanner 5 is configured but has not reported
	assert.Nil(t, app.StateTracker.GetReconstruction())
	assert.Empty(t, mock.GetPublishedMessages())

	app.Config.Scanners = app.Config.Scanners[:5]
	app.handleReport(ctx, "4", scanners[4], nil)

	rec := app.StateTracker.GetReconstruction()
	require.NotNil(t, rec)
	assert.Equal(t, 79, rec.Metrics.BeaconCount)

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1+len(scanners))
	assert.Equal(t, "fleet/reconstruction", msgs[0].Topic)
}

func TestApp_HandleReportError(t *testing.T) {
	app := NewApp()
	app.Config = mesh.DefaultConfig()

	app.handleReport(context.Background(), "north", nil, assert.AnError)
	assert.False(t, app.StateTracker.HasReports())
}

// lastSummary returns the run ID of the last reconstruction summary published
func lastSummary(t *testing.T, msgs []mesh.MockMessage) string {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Topic != "fleet/reconstruction" {
			continue
		}
		var summary mesh.ReconstructionSummary
		require.NoError(t, json.Unmarshal(msgs[i].Payload, &summary))
		return summary.RunID
	}
	t.Fatal("no reconstruction summary published")
	return ""
}

func TestApp_SetPublisherPublishesSeededReconstruction(t *testing.T) {
	app := NewApp()
	app.StateTracker = newSampleTracker(t)

	mock := mesh.NewMockClient()
	mock.SetConnected(true)
	app.setPublisher(mesh.NewPublisher(mock, "fleet"))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 6)
	assert.Equal(t, app.StateTracker.GetReconstruction().RunID, lastSummary(t, msgs))
}

func TestApp_PublishCurrent(t *testing.T) {
	app := NewApp()

	// Neither a publisher nor a reconstruction yet
	app.publishCurrent()

	mock := mesh.NewMockClient()
	mock.SetConnected(true)
	app.setPublisher(mesh.NewPublisher(mock, "fleet"))
	assert.Empty(t, mock.GetPublishedMessages())

	// A reconnect republishes the latest result
	app.StateTracker = newSampleTracker(t)
	app.publishCurrent()
	app.publishCurrent()
	assert.Len(t, mock.GetPublishedMessages(), 12)
}

func TestApp_PublisherInstalledWhileReportsArrive(t *testing.T) {
	scanners, err := mesh.ParseReportFile(sampleFleetPath)
	require.NoError(t, err)

	app := NewApp()
	app.Config = sampleServiceConfig()
	app.Config.Scanners = app.Config.Scanners[:5]

	mock := mesh.NewMockClient()
	mock.SetConnected(true)

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, s := range scanners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.handleReport(ctx, s.ID, s, nil)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.setPublisher(mesh.NewPublisher(mock, "fleet"))
	}()
	wg.Wait()

	rec := app.StateTracker.GetReconstruction()
	require.NotNil(t, rec)
	assert.Equal(t, rec.RunID, lastSummary(t, mock.GetPublishedMessages()),
		"the latest reconstruction must be the last one published")
}

func TestApp_InitStateTracker(t *testing.T) {
	config := sampleServiceConfig()

	t.Run("fresh cache is served", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, mesh.SaveReconstruction(path, &mesh.Reconstruction{RunID: "fresh", CompletedAt: time.Now().Unix()}))

		app := NewApp()
		app.initStateTracker(path, config)
		require.NotNil(t, app.StateTracker.GetReconstruction())
		assert.Equal(t, "fresh", app.StateTracker.GetReconstruction().RunID)
	})

	t.Run("stale cache is dropped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		old := time.Now().Add(-cacheMaxAge - time.Hour).Unix()
		require.NoError(t, mesh.SaveReconstruction(path, &mesh.Reconstruction{RunID: "stale", CompletedAt: old}))

		app := NewApp()
		app.initStateTracker(path, config)
		assert.Nil(t, app.StateTracker.GetReconstruction())
	})

	t.Run("no cache", func(t *testing.T) {
		app := NewApp()
		app.initStateTracker(filepath.Join(t.TempDir(), "none.json"), config)
		assert.Nil(t, app.StateTracker.GetReconstruction())
	})
}

// reportServer serves scanner 0 of the sample fleet with an ETag that changes
// whenever version is bumped.
func reportServer(t *testing.T, version *atomic.Int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	scanners, err := mesh.ParseReportFile(sampleFleetPath)
	require.NoError(t, err)
	body, err := mesh.EncodeReport(scanners[0])
	require.NoError(t, err)

	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etag := fmt.Sprintf(`"v%d"`, version.Load())
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		served.Add(1)
		w.Header().Set("ETag", etag)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &served
}

func TestApp_FetchReportsSkipsUnchanged(t *testing.T) {
	var version atomic.Int32
	srv, served := reportServer(t, &version)

	config := mesh.DefaultConfig()
	config.Scanners = []mesh.ScannerConfig{{ID: "0", ReportURL: srv.URL}, {ID: "mqtt-only", Topic: "t"}}

	app := NewApp()
	ctx := context.Background()

	assert.Equal(t, 1, app.fetchReports(ctx, config))
	assert.True(t, app.StateTracker.HasReports())
	assert.Equal(t, 0, app.fetchReports(ctx, config), "unchanged report is not refetched")

	version.Add(1)
	assert.Equal(t, 1, app.fetchReports(ctx, config))
	assert.Equal(t, int32(2), served.Load())
}

func TestApp_PollReportsRebuildsOnChange(t *testing.T) {
	var version atomic.Int32
	srv, _ := reportServer(t, &version)

	app := NewApp()
	app.Config = mesh.DefaultConfig()
	app.Config.Scanners = []mesh.ScannerConfig{{ID: "0", ReportURL: srv.URL}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.pollReports(ctx, app.Config, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return app.StateTracker.GetReconstruction() != nil
	}, 2*time.Second, 5*time.Millisecond)
	first := app.StateTracker.GetReconstruction()
	assert.Equal(t, 25, first.Metrics.BeaconCount)

	// Several unchanged polls leave the reconstruction alone
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, first.RunID, app.StateTracker.GetReconstruction().RunID)

	version.Add(1)
	require.Eventually(t, func() bool {
		return app.StateTracker.GetReconstruction().RunID != first.RunID
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pollReports did not stop after cancel")
	}
}
