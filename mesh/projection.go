package mesh

import (
	"fmt"

	"github.com/paulmach/orb"
)

// ParsePlane validates a projection plane name. Empty means "xy".
func ParsePlane(plane string) (string, error) {
	switch plane {
	case "":
		return DefaultRenderPlane, nil
	case "xy", "xz", "yz":
		return plane, nil
	default:
		return "", fmt.Errorf("unknown projection plane %q (want xy, xz or yz)", plane)
	}
}

// ProjectPoint drops one coordinate to view p on the given plane.
// Unknown planes fall back to xy.
func ProjectPoint(p Point3, plane string) orb.Point {
	switch plane {
	case "xz":
		return orb.Point{float64(p.X), float64(p.Z)}
	case "yz":
		return orb.Point{float64(p.Y), float64(p.Z)}
	default:
		return orb.Point{float64(p.X), float64(p.Y)}
	}
}

// FleetBounds returns the projected bounding box of every beacon and every
// scanner's detection square (position ± scannerRange). ok is false when the
// reconstruction has nothing to draw.
func FleetBounds(rec *Reconstruction, plane string, scannerRange int) (orb.Bound, bool) {
	if rec == nil || (len(rec.Beacons) == 0 && len(rec.Scanners) == 0) {
		return orb.Bound{}, false
	}

	mp := make(orb.MultiPoint, 0, len(rec.Beacons)+2*len(rec.Scanners))
	for _, b := range rec.Beacons {
		mp = append(mp, ProjectPoint(b, plane))
	}
	r := float64(scannerRange)
	for _, sp := range rec.Scanners {
		c := ProjectPoint(sp.Pose.Position, plane)
		mp = append(mp, orb.Point{c[0] - r, c[1] - r}, orb.Point{c[0] + r, c[1] + r})
	}

	return mp.Bound(), true
}
