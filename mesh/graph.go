package mesh

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDisconnected is returned when some scanners cannot be reached from
	// the anchor through overlaps.
	ErrDisconnected = errors.New("scanner fleet is disconnected")

	// ErrPoseResolved is returned when a pose slot is written twice
	ErrPoseResolved = errors.New("pose already resolved")
)

// DisconnectedError lists the scanners left without a pose
type DisconnectedError struct {
	Anchor     int
	Unresolved []int
}

func (e *DisconnectedError) Error() string {
	ids := make([]string, len(e.Unresolved))
	for i, idx := range e.Unresolved {
		ids[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("%v: %d scanner(s) unreachable from anchor %d: [%s]",
		ErrDisconnected, len(e.Unresolved), e.Anchor, strings.Join(ids, " "))
}

func (e *DisconnectedError) Unwrap() error {
	return ErrDisconnected
}

// PoseTable is a flat arena of write-once pose slots indexed by scanner index
type PoseTable struct {
	poses    []Pose
	resolved []bool
}

// NewPoseTable creates n unresolved slots
func NewPoseTable(n int) *PoseTable {
	return &PoseTable{
		poses:    make([]Pose, n),
		resolved: make([]bool, n),
	}
}

// Len returns the number of slots
func (pt *PoseTable) Len() int {
	return len(pt.poses)
}

// Set resolves slot i. A slot can only be written once.
func (pt *PoseTable) Set(i int, p Pose) error {
	if pt.resolved[i] {
		return fmt.Errorf("scanner %d: %w", i, ErrPoseResolved)
	}
	pt.poses[i] = p
	pt.resolved[i] = true
	return nil
}

// Get returns the pose of slot i and whether it has been resolved
func (pt *PoseTable) Get(i int) (Pose, bool) {
	return pt.poses[i], pt.resolved[i]
}

// Unresolved returns the indices of slots that have no pose, in index order
func (pt *PoseTable) Unresolved() []int {
	var out []int
	for i, ok := range pt.resolved {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// ScannerGraph is the undirected overlap relation between scanners
type ScannerGraph struct {
	adj   [][]OverlapEdge
	edges int
}

// NewScannerGraph builds a graph over n scanners. Each edge is stored in both
// directions, the reverse direction using the inverse transform.
func NewScannerGraph(n int, edges []OverlapEdge) (*ScannerGraph, error) {
	g := &ScannerGraph{adj: make([][]OverlapEdge, n)}
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, fmt.Errorf("edge %d-%d out of range for %d scanners", e.From, e.To, n)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("edge %d-%d is a self loop", e.From, e.To)
		}
		g.adj[e.From] = append(g.adj[e.From], e)
		g.adj[e.To] = append(g.adj[e.To], e.Reverse())
		g.edges++
	}
	return g, nil
}

// Len returns the number of scanners
func (g *ScannerGraph) Len() int {
	return len(g.adj)
}

// EdgeCount returns the number of undirected overlaps
func (g *ScannerGraph) EdgeCount() int {
	return g.edges
}

// Neighbors returns the outgoing edges of scanner i
func (g *ScannerGraph) Neighbors(i int) []OverlapEdge {
	return g.adj[i]
}

// ResolvePoses assigns every scanner reachable from anchor its absolute pose.
// The anchor sits at the origin with the identity rotation; each child pose
// is its parent's pose composed with the connecting edge transform.
//
// Traversal is breadth-first over an explicit queue. Any scanner left
// unresolved afterwards yields a *DisconnectedError.
func (g *ScannerGraph) ResolvePoses(anchor int) (*PoseTable, error) {
	if anchor < 0 || anchor >= len(g.adj) {
		return nil, fmt.Errorf("anchor %d out of range for %d scanners", anchor, len(g.adj))
	}

	poses := NewPoseTable(len(g.adj))
	if err := poses.Set(anchor, Pose{Rotation: IdentityRotation}); err != nil {
		return nil, err
	}

	queue := make([]int, 0, len(g.adj))
	queue = append(queue, anchor)

	for head := 0; head < len(queue); head++ {
		parent := queue[head]
		parentPose, _ := poses.Get(parent)
		for _, e := range g.adj[parent] {
			if _, ok := poses.Get(e.To); ok {
				continue
			}
			child := MultiplyTransforms(parentPose.Transform(), e.Transform)
			if err := poses.Set(e.To, Pose{Rotation: child.Rotation, Position: child.Translation}); err != nil {
				return nil, err
			}
			queue = append(queue, e.To)
		}
	}

	if unresolved := poses.Unresolved(); len(unresolved) > 0 {
		return nil, &DisconnectedError{Anchor: anchor, Unresolved: unresolved}
	}

	return poses, nil
}
