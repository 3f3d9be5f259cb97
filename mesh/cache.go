package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultCachePath is the default path for the reconstruction cache
const DefaultCachePath = ".reconstruction-cache.json"

// LoadReconstruction loads a cached reconstruction from a JSON file.
// A missing file is not an error: it returns nil, nil.
func LoadReconstruction(path string) (*Reconstruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading reconstruction cache: %w", err)
	}

	var rec Reconstruction
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing reconstruction cache: %w", err)
	}

	for _, sp := range rec.Scanners {
		if !sp.Pose.Rotation.Valid() {
			return nil, fmt.Errorf("parsing reconstruction cache: scanner %s has invalid rotation %d", sp.ID, sp.Pose.Rotation)
		}
	}

	return &rec, nil
}

// SaveReconstruction writes a reconstruction to a JSON cache file
func SaveReconstruction(path string, rec *Reconstruction) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling reconstruction: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing reconstruction cache: %w", err)
	}

	return nil
}

// NeedsRebuild checks if a cached reconstruction should be recomputed
func (r *Reconstruction) NeedsRebuild(maxAge time.Duration) bool {
	if r == nil || r.CompletedAt == 0 {
		return true
	}
	return time.Since(time.Unix(r.CompletedAt, 0)) > maxAge
}

// CoverageStatus reports which expected scanners a reconstruction covers
type CoverageStatus struct {
	Anchor          string    `json:"anchor"`
	PosedScanners   []string  `json:"posedScanners"`
	MissingScanners []string  `json:"missingScanners"`
	CompletedAt     time.Time `json:"completedAt"`
}

// GetStatus returns coverage of the expected scanner IDs
func (r *Reconstruction) GetStatus(expected []string) CoverageStatus {
	var status CoverageStatus

	if r == nil {
		status.MissingScanners = expected
		return status
	}

	status.Anchor = r.Anchor
	status.CompletedAt = time.Unix(r.CompletedAt, 0)

	posed := make(map[string]bool, len(r.Scanners))
	for _, sp := range r.Scanners {
		status.PosedScanners = append(status.PosedScanners, sp.ID)
		posed[sp.ID] = true
	}

	for _, id := range expected {
		if !posed[id] {
			status.MissingScanners = append(status.MissingScanners, id)
		}
	}

	return status
}
