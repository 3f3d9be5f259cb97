package mesh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoScanners       = errors.New("no scanner reports")
	ErrUnknownAnchor    = errors.New("anchor scanner not found")
	ErrDuplicateScanner = errors.New("duplicate scanner id")
)

// ReconstructOptions controls a reconstruction run
type ReconstructOptions struct {
	Match   MatchConfig
	Workers int    // Pair matching goroutines; <= 0 uses GOMAXPROCS
	Anchor  string // Scanner ID defining the global frame; empty uses the first scanner
}

// DefaultReconstructOptions returns options for the standard threshold
func DefaultReconstructOptions() ReconstructOptions {
	return ReconstructOptions{Match: DefaultMatchConfig()}
}

// Reconstruction is the complete output of a run: scanner poses in the
// anchor frame, the overlaps used, and the deduplicated beacon set.
type Reconstruction struct {
	RunID       string        `json:"runId"`
	Anchor      string        `json:"anchor"`
	CompletedAt int64         `json:"completedAt"`
	Scanners    []ScannerPose `json:"scanners"`
	Edges       []OverlapEdge `json:"edges"`
	Beacons     []Point3      `json:"beacons"`
	Metrics     FleetMetrics  `json:"metrics"`
}

// Pose returns the resolved pose of the scanner with the given ID
func (r *Reconstruction) Pose(id string) (Pose, bool) {
	for _, sp := range r.Scanners {
		if sp.ID == id {
			return sp.Pose, true
		}
	}
	return Pose{}, false
}

// Positions returns every scanner's absolute position in input order
func (r *Reconstruction) Positions() []Point3 {
	out := make([]Point3, len(r.Scanners))
	for i, sp := range r.Scanners {
		out[i] = sp.Pose.Position
	}
	return out
}

// Reconstruct matches all scanner pairs, propagates poses from the anchor,
// and assembles the absolute beacon set. Any failure aborts the run with no
// partial output.
func Reconstruct(ctx context.Context, scanners []*Scanner, opts ReconstructOptions) (*Reconstruction, error) {
	start := time.Now()
	rec, err := reconstruct(ctx, scanners, opts)

	outcome := "ok"
	beacons := 0
	switch {
	case err == nil:
		beacons = rec.Metrics.BeaconCount
	case errors.Is(err, ErrDisconnected):
		outcome = "disconnected"
	case errors.Is(err, ErrAmbiguousMatch):
		outcome = "ambiguous"
	default:
		outcome = "error"
	}
	RecordReconstruction(outcome, time.Since(start), beacons)

	return rec, err
}

func reconstruct(ctx context.Context, scanners []*Scanner, opts ReconstructOptions) (*Reconstruction, error) {
	if len(scanners) == 0 {
		return nil, ErrNoScanners
	}

	anchor, err := anchorIndex(scanners, opts.Anchor)
	if err != nil {
		return nil, err
	}

	threshold := opts.Match.Threshold
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}
	for _, s := range scanners {
		if len(s.Beacons) < threshold {
			log.Printf("Warning: scanner %s reports %d beacons, fewer than the overlap threshold %d",
				s.ID, len(s.Beacons), threshold)
		}
	}

	edges, err := MatchAll(ctx, scanners, opts.Match, opts.Workers)
	if err != nil {
		return nil, err
	}

	graph, err := NewScannerGraph(len(scanners), edges)
	if err != nil {
		return nil, err
	}

	poses, err := graph.ResolvePoses(anchor)
	if err != nil {
		var de *DisconnectedError
		if errors.As(err, &de) {
			ids := make([]string, len(de.Unresolved))
			for i, idx := range de.Unresolved {
				ids[i] = scanners[idx].ID
			}
			return nil, fmt.Errorf("resolving poses from anchor %s (unreachable: %v): %w", scanners[anchor].ID, ids, err)
		}
		return nil, fmt.Errorf("resolving poses: %w", err)
	}

	beacons, err := AssembleBeacons(scanners, poses)
	if err != nil {
		return nil, err
	}

	rec := &Reconstruction{
		RunID:       uuid.NewString(),
		Anchor:      scanners[anchor].ID,
		CompletedAt: time.Now().Unix(),
		Scanners:    make([]ScannerPose, len(scanners)),
		Edges:       edges,
		Beacons:     beacons.Points(),
	}
	if rec.Edges == nil {
		rec.Edges = make([]OverlapEdge, 0)
	}
	for i, s := range scanners {
		pose, _ := poses.Get(i)
		rec.Scanners[i] = ScannerPose{ID: s.ID, Pose: pose, BeaconCount: len(s.Beacons)}
	}
	rec.Metrics = FleetMetrics{
		ScannerCount:       len(scanners),
		OverlapCount:       graph.EdgeCount(),
		BeaconCount:        beacons.Len(),
		MaxScannerDistance: MaxManhattan(rec.Positions()),
	}

	return rec, nil
}

// anchorIndex validates scanner IDs and locates the anchor
func anchorIndex(scanners []*Scanner, anchorID string) (int, error) {
	seen := make(map[string]int, len(scanners))
	for i, s := range scanners {
		if _, dup := seen[s.ID]; dup {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateScanner, s.ID)
		}
		seen[s.ID] = i
	}

	if anchorID == "" {
		return 0, nil
	}
	idx, ok := seen[anchorID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAnchor, anchorID)
	}
	return idx, nil
}
