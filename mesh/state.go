package mesh

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// StateTracker holds the latest report per scanner and the latest
// reconstruction, for the service loop and HTTP endpoints.
type StateTracker struct {
	mu             sync.RWMutex
	reports        map[string]*Scanner
	order          []string // preferred scanner order (config order)
	reconstruction *Reconstruction
	cachePath      string // empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{reports: make(map[string]*Scanner)}
}

// NewStateTrackerWithCache creates a state tracker that persists each
// reconstruction to cachePath. An existing cache is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath != "" {
		rec, err := LoadReconstruction(cachePath)
		if err != nil {
			log.Printf("Warning: ignoring reconstruction cache %s: %v", cachePath, err)
		} else if rec != nil {
			st.reconstruction = rec
		}
	}
	return st
}

// SetOrder sets the scanner order used for reconstruction input. The first
// ID present becomes the default anchor. Unlisted scanners follow, sorted.
func (st *StateTracker) SetOrder(ids []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.order = append([]string(nil), ids...)
}

// UpdateReport stores the latest report of a scanner
func (st *StateTracker) UpdateReport(s *Scanner) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reports[s.ID] = s
}

// HasReports returns true if at least one report is stored
func (st *StateTracker) HasReports() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.reports) > 0
}

// Reports returns the stored reports in scanner order
func (st *StateTracker) Reports() []*Scanner {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Scanner, 0, len(st.reports))
	listed := make(map[string]bool, len(st.order))
	for _, id := range st.order {
		if s, ok := st.reports[id]; ok {
			out = append(out, s)
			listed[id] = true
		}
	}

	var rest []string
	for id := range st.reports {
		if !listed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, st.reports[id])
	}
	return out
}

// GetReconstruction returns the latest reconstruction, or nil
func (st *StateTracker) GetReconstruction() *Reconstruction {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.reconstruction
}

// ResetReconstruction forgets the current reconstruction. Reports are kept.
func (st *StateTracker) ResetReconstruction() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reconstruction = nil
}

// Rebuild reconstructs the fleet from the stored reports. On success the
// result replaces the previous one and is written to the cache; on failure
// the previous result is kept.
func (st *StateTracker) Rebuild(ctx context.Context, opts ReconstructOptions) (*Reconstruction, error) {
	reports := st.Reports()
	if len(reports) == 0 {
		return nil, fmt.Errorf("no scanner reports available")
	}

	rec, err := Reconstruct(ctx, reports, opts)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.reconstruction = rec
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveReconstruction(cachePath, rec); err != nil {
			log.Printf("Warning: failed to save reconstruction cache: %v", err)
		}
	}

	return rec, nil
}

// MissingReports returns the IDs in ids that have no stored report
func (st *StateTracker) MissingReports(ids []string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var missing []string
	for _, id := range ids {
		if _, ok := st.reports[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
