package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/beaconmesh/mesh"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *mesh.StateTracker, config *mesh.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		rec := stateTracker.GetReconstruction()
		status := struct {
			Status            string    `json:"status"`
			Timestamp         time.Time `json:"timestamp"`
			HasReports        bool      `json:"hasReports"`
			HasReconstruction bool      `json:"hasReconstruction"`
			RunID             string    `json:"runId,omitempty"`
		}{
			Status:            "ok",
			Timestamp:         time.Now(),
			HasReports:        stateTracker.HasReports(),
			HasReconstruction: rec != nil,
		}
		if rec != nil {
			status.RunID = rec.RunID
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/api/reconstruction", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := requireReconstruction(w, stateTracker)
		if !ok {
			return
		}
		writeJSON(w, rec)
	})

	mux.HandleFunc("/api/beacons", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := requireReconstruction(w, stateTracker)
		if !ok {
			return
		}
		writeJSON(w, struct {
			RunID   string        `json:"runId"`
			Count   int           `json:"count"`
			Beacons []mesh.Point3 `json:"beacons"`
		}{rec.RunID, rec.Metrics.BeaconCount, rec.Beacons})
	})

	mux.HandleFunc("/api/scanners", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := requireReconstruction(w, stateTracker)
		if !ok {
			return
		}
		writeJSON(w, struct {
			RunID              string              `json:"runId"`
			Scanners           []mesh.ScannerPose  `json:"scanners"`
			Coverage           mesh.CoverageStatus `json:"coverage"`
			MaxScannerDistance int                 `json:"maxScannerDistance"`
		}{rec.RunID, rec.Scanners, rec.GetStatus(config.ScannerIDs()), rec.Metrics.MaxScannerDistance})
	})

	// Raster fleet map; ?plane=xz|yz selects the projection
	mux.HandleFunc("/fleet-map.png", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := requireReconstruction(w, stateTracker)
		if !ok {
			return
		}
		renderCfg, ok := renderConfigFor(w, r, config)
		if !ok {
			return
		}

		renderer := mesh.NewFleetRenderer(rec, renderCfg)
		mesh.ApplyScannerColors(renderer.Colors, config.Scanners)

		if !renderer.HasDrawableContent() {
			log.Printf("Warning: reconstruction present but no drawable content; endpoint=/fleet-map.png")
			http.Error(w, "No drawable content", http.StatusServiceUnavailable)
			return
		}

		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding fleet map PNG: %v", err)
		}
	})

	mux.HandleFunc("/fleet-map.svg", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := requireReconstruction(w, stateTracker)
		if !ok {
			return
		}
		renderCfg, ok := renderConfigFor(w, r, config)
		if !ok {
			return
		}

		renderer := mesh.NewVectorFleetRenderer(rec, renderCfg)
		mesh.ApplyScannerColors(renderer.Colors, config.Scanners)

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering fleet map SVG: %v", err)
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// requireReconstruction writes 503 when no reconstruction is available yet
func requireReconstruction(w http.ResponseWriter, stateTracker *mesh.StateTracker) (*mesh.Reconstruction, bool) {
	rec := stateTracker.GetReconstruction()
	if rec == nil {
		http.Error(w, "No reconstruction available", http.StatusServiceUnavailable)
		return nil, false
	}
	return rec, true
}

// renderConfigFor applies the ?plane= query override to the configured render settings
func renderConfigFor(w http.ResponseWriter, r *http.Request, config *mesh.Config) (mesh.RenderConfig, bool) {
	cfg := config.Render
	if q := r.URL.Query().Get("plane"); q != "" {
		plane, err := mesh.ParsePlane(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return cfg, false
		}
		cfg.Plane = plane
	}
	return cfg, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
