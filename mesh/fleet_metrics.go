package mesh

// FleetMetrics summarizes a reconstruction
type FleetMetrics struct {
	ScannerCount       int `json:"scannerCount"`
	OverlapCount       int `json:"overlapCount"`
	BeaconCount        int `json:"beaconCount"`
	MaxScannerDistance int `json:"maxScannerDistance"`
}

// MaxManhattan returns the largest Manhattan distance between any two
// positions, or 0 when there are fewer than two.
func MaxManhattan(positions []Point3) int {
	best := 0
	for i := range positions {
		for j := i + 1; j < len(positions); j++ {
			if d := positions[i].Manhattan(positions[j]); d > best {
				best = d
			}
		}
	}
	return best
}
