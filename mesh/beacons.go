package mesh

import (
	"cmp"
	"fmt"
	"slices"
)

// BeaconSet is a deduplicating set of absolute beacon positions
type BeaconSet struct {
	points map[Point3]struct{}
}

// NewBeaconSet creates an empty set
func NewBeaconSet() *BeaconSet {
	return &BeaconSet{points: make(map[Point3]struct{})}
}

// Add inserts p and reports whether it was new
func (s *BeaconSet) Add(p Point3) bool {
	if _, ok := s.points[p]; ok {
		return false
	}
	s.points[p] = struct{}{}
	return true
}

// Contains reports whether p is in the set
func (s *BeaconSet) Contains(p Point3) bool {
	_, ok := s.points[p]
	return ok
}

// Len returns the number of distinct beacons
func (s *BeaconSet) Len() int {
	return len(s.points)
}

// Points returns the beacons sorted by X, then Y, then Z
func (s *BeaconSet) Points() []Point3 {
	out := make([]Point3, 0, len(s.points))
	for p := range s.points {
		out = append(out, p)
	}
	slices.SortFunc(out, comparePoints)
	return out
}

func comparePoints(a, b Point3) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Z, b.Z)
}

// AssembleBeacons transforms every scanner's beacons into the anchor frame
// using its resolved pose and unions them. Every scanner must be posed.
func AssembleBeacons(scanners []*Scanner, poses *PoseTable) (*BeaconSet, error) {
	if poses.Len() != len(scanners) {
		return nil, fmt.Errorf("pose table has %d slots for %d scanners", poses.Len(), len(scanners))
	}

	set := NewBeaconSet()
	for i, s := range scanners {
		pose, ok := poses.Get(i)
		if !ok {
			return nil, fmt.Errorf("scanner %s: pose not resolved", s.ID)
		}
		t := pose.Transform()
		for _, p := range s.Beacons {
			set.Add(t.Apply(p))
		}
	}
	return set, nil
}
