package mesh

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// OverlapEdge links two scanners by index. Applying Transform to To's local
// beacons expresses them in From's local frame.
type OverlapEdge struct {
	From      int       `json:"from"`
	To        int       `json:"to"`
	Transform Transform `json:"transform"`
	Votes     int       `json:"votes"`
}

// Reverse returns the same overlap seen from the other scanner
func (e OverlapEdge) Reverse() OverlapEdge {
	return OverlapEdge{
		From:      e.To,
		To:        e.From,
		Transform: InvertTransform(e.Transform),
		Votes:     e.Votes,
	}
}

// MatchAll runs Match over every unordered scanner pair (i < j) using at most
// workers goroutines (workers <= 0 uses GOMAXPROCS). Scanner beacons are
// only read, so no locking is needed; each pair writes its own result slot.
//
// Edges are returned in pair order regardless of completion order. The first
// matcher error cancels the remaining pairs and is returned.
func MatchAll(ctx context.Context, scanners []*Scanner, cfg MatchConfig, workers int) ([]OverlapEdge, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type pair struct{ i, j int }
	pairs := make([]pair, 0, len(scanners)*(len(scanners)-1)/2)
	for i := range scanners {
		for j := i + 1; j < len(scanners); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	results := make([]*Alignment, len(pairs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for k, p := range pairs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			alignment, err := Match(scanners[p.i], scanners[p.j], cfg)
			if err != nil {
				return fmt.Errorf("matching scanners %s and %s: %w", scanners[p.i].ID, scanners[p.j].ID, err)
			}
			results[k] = alignment
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var edges []OverlapEdge
	for k, alignment := range results {
		if alignment == nil {
			continue
		}
		edges = append(edges, OverlapEdge{
			From:      pairs[k].i,
			To:        pairs[k].j,
			Transform: alignment.Transform,
			Votes:     alignment.Votes,
		})
	}

	RecordPairs(len(pairs), len(edges))

	return edges, nil
}
