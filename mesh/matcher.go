package mesh

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultOverlapThreshold is the number of coinciding beacons required before
// two scanners are considered to share a field of view.
const DefaultOverlapThreshold = 12

// MatchConfig holds configuration for the pair matcher
type MatchConfig struct {
	Threshold int  // Minimum coinciding beacons to declare an overlap
	Strict    bool // Tally all rotations and reject pairs with more than one qualifying alignment
}

// DefaultMatchConfig returns the standard threshold with ambiguity detection on
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Threshold: DefaultOverlapThreshold,
		Strict:    true,
	}
}

// Alignment is the result of a successful match: applying Transform to the
// second scanner's local beacons expresses them in the first scanner's frame.
type Alignment struct {
	Transform Transform `json:"transform"`
	Votes     int       `json:"votes"` // Coinciding beacons; equals the threshold when non-strict matching stops early
}

// ErrAmbiguousMatch is returned when a scanner pair aligns under more than one
// transform. Exact-coordinate fleets never produce this; seeing it means the
// input is inconsistent.
var ErrAmbiguousMatch = errors.New("ambiguous scanner overlap")

// AmbiguousMatchError describes the two competing alignments of a pair
type AmbiguousMatchError struct {
	A, B   string
	First  Alignment
	Second Alignment
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("scanners %s and %s: %v: rotation %s offset %s (%d votes) vs rotation %s offset %s (%d votes)",
		e.A, e.B, ErrAmbiguousMatch,
		e.First.Transform.Rotation, e.First.Transform.Translation, e.First.Votes,
		e.Second.Transform.Rotation, e.Second.Transform.Translation, e.Second.Votes)
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// Match determines whether scanners a and b share at least cfg.Threshold
// beacons. For every rotation in canonical order, b's beacons are rotated
// and every (a, rotated b) pair votes for the offset between them; an offset
// reaching the threshold is the translation of the overlap.
//
// Returns nil, nil when the scanners do not overlap.
func Match(a, b *Scanner, cfg MatchConfig) (*Alignment, error) {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}

	// Too few readings can never clear the threshold
	if len(a.Beacons) < threshold || len(b.Beacons) < threshold {
		return nil, nil
	}

	rotated := make([]Point3, len(b.Beacons))
	tally := make(map[Point3]int, len(a.Beacons)*4)
	var found *Alignment
	var qualifying []Point3

	for _, rot := range Rotations() {
		for i, p := range b.Beacons {
			rotated[i] = rot.Apply(p)
		}
		clear(tally)

		for _, pa := range a.Beacons {
			for _, pb := range rotated {
				offset := pa.Sub(pb)
				tally[offset]++
				if !cfg.Strict && tally[offset] >= threshold {
					return &Alignment{
						Transform: Transform{Rotation: rot, Translation: offset},
						Votes:     tally[offset],
					}, nil
				}
			}
		}

		// Sorted so competing offsets under one rotation are reported in a
		// stable order
		qualifying = qualifying[:0]
		for offset, votes := range tally {
			if votes >= threshold {
				qualifying = append(qualifying, offset)
			}
		}
		slices.SortFunc(qualifying, comparePoints)

		for _, offset := range qualifying {
			candidate := Alignment{
				Transform: Transform{Rotation: rot, Translation: offset},
				Votes:     tally[offset],
			}
			if found != nil {
				return nil, &AmbiguousMatchError{A: a.ID, B: b.ID, First: *found, Second: candidate}
			}
			found = &candidate
		}
	}

	return found, nil
}
